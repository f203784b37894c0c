package event

import (
	"sync"

	"github.com/gomsp430/evm/platform"
)

// fakeHooks is a minimal platform.Hooks for unit tests: it reproduces the
// same "disable interrupts == hold the lock" / "sleep == wait on a cond
// var" model sim.Platform uses, without depending on that package.
type fakeHooks struct {
	mu      sync.Mutex
	cond    *sync.Cond
	enabled bool
	woken   bool

	sleeps int
	wakes  int
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
	h.sleeps++
	h.woken = false
	for !h.woken {
		h.cond.Wait()
	}
	h.enabled = true
	h.mu.Unlock()
}

func (h *fakeHooks) WakeOnISRReturn() {
	h.mu.Lock()
	h.wakes++
	h.woken = true
	h.cond.Signal()
	h.mu.Unlock()
}
