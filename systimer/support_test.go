package systimer

import (
	"sync"

	"github.com/gomsp430/evm/platform"
)

// fakeHooks gives tests a real event.Machine to drive without a platform
// binding, reproducing the disable-interrupts/sleep-wake contract the way
// sim.Platform does.
type fakeHooks struct {
	mu      sync.Mutex
	cond    *sync.Cond
	enabled bool
	woken   bool
}

func newFakeHooks() *fakeHooks {
	h := &fakeHooks{enabled: true}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *fakeHooks) DisableInterrupts() platform.InterruptState {
	h.mu.Lock()
	prev := h.enabled
	h.enabled = false
	if prev {
		return 1
	}
	return 0
}

func (h *fakeHooks) EnableInterrupts() {
	h.enabled = true
	h.mu.Unlock()
}

func (h *fakeHooks) InterruptState() platform.InterruptState {
	if h.enabled {
		return 1
	}
	return 0
}

func (h *fakeHooks) RestoreInterruptState(s platform.InterruptState) {
	h.enabled = s == 1
	h.mu.Unlock()
}

func (h *fakeHooks) EnterLowPower(_ platform.LowPowerMode) {
	h.woken = false
	for !h.woken {
		h.cond.Wait()
	}
	h.enabled = true
	h.mu.Unlock()
}

func (h *fakeHooks) WakeOnISRReturn() {
	h.mu.Lock()
	h.woken = true
	h.cond.Signal()
	h.mu.Unlock()
}

// fakeHWTimer counts Start/Stop calls instead of driving any real ticking;
// systimer tests post ticks directly via Timer.OnHWTick.
type fakeHWTimer struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (f *fakeHWTimer) Start() {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
}

func (f *fakeHWTimer) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeHWTimer) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}
