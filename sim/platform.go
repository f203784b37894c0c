// Package sim is a host-side stand-in for the platform primitives treated
// as external collaborators elsewhere: interrupt gating, low-power sleep,
// and a hardware tick source. There is no MSP430 (or any other
// microcontroller) to cross-compile for here, so sim models the same
// "disable interrupts -> test -> sleep" race with a mutex and condition
// variable, and the periodic tick ISR with a goroutine driven by a
// swappable clockz.Clock — the same way a cycle-accurate emulator models
// hardware timing in software rather than on silicon.
package sim

import (
	"sync"
	"time"

	"github.com/gomsp430/evm/platform"
	"github.com/zoobzio/clockz"
)

var (
	_ platform.Hooks         = (*Platform)(nil)
	_ platform.HardwareTimer = (*Platform)(nil)
)

// interruptState values returned by Platform.DisableInterrupts.
const (
	stateDisabled platform.InterruptState = 0
	stateEnabled  platform.InterruptState = 1
)

// Platform implements platform.Hooks and platform.HardwareTimer entirely
// in-process. DisableInterrupts models "interrupts disabled" as holding
// mu: it is the mutual-exclusion mechanism standing in for the fact that,
// on real single-core hardware, disabling interrupts is enough to keep
// the tick ISR from preempting a critical section. Callers must always
// pair DisableInterrupts with a later EnableInterrupts/RestoreInterruptState
// on the same goroutine, exactly as event.Machine does.
type Platform struct {
	mu      sync.Mutex
	cond    *sync.Cond
	enabled bool
	woken   bool

	tickPeriod time.Duration
	clock      clockz.Clock
	onTick     func()

	stop chan struct{}
	done chan struct{}

	mu2     sync.Mutex // guards running/onTick registration, separate from the sleep lock
	running bool
}

// Option configures a Platform at construction time.
type Option func(*Platform)

// WithClock swaps the clockz.Clock driving the simulated tick source.
// Defaults to clockz.RealClock. This package's own tests use the default
// clock and real wall-clock sleeps.
func WithClock(c clockz.Clock) Option {
	return func(p *Platform) { p.clock = c }
}

// New creates a Platform whose simulated hardware timer ticks every
// tickPeriod. Call OnTick to wire the tick callback (normally
// (*systimer.Timer).OnHWTick) before starting the Event Machine's Run.
func New(tickPeriod time.Duration, opts ...Option) *Platform {
	p := &Platform{
		enabled:    true,
		tickPeriod: tickPeriod,
		clock:      clockz.RealClock,
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnTick registers the callback invoked every tickPeriod once the
// simulated hardware timer is running (Start has been called).
func (p *Platform) OnTick(fn func()) {
	p.mu2.Lock()
	p.onTick = fn
	p.mu2.Unlock()
}

// DisableInterrupts acquires the critical-section lock and reports
// whether interrupts were previously enabled.
func (p *Platform) DisableInterrupts() platform.InterruptState {
	p.mu.Lock()
	prev := p.enabled
	p.enabled = false
	if prev {
		return stateEnabled
	}
	return stateDisabled
}

// EnableInterrupts unconditionally marks interrupts enabled and releases
// the critical-section lock acquired by a prior DisableInterrupts.
func (p *Platform) EnableInterrupts() {
	p.enabled = true
	p.mu.Unlock()
}

// InterruptState reports the current enabled/disabled state without
// acquiring or releasing anything. Only meaningful when called from
// within a section already holding the lock.
func (p *Platform) InterruptState() platform.InterruptState {
	if p.enabled {
		return stateEnabled
	}
	return stateDisabled
}

// RestoreInterruptState restores a state captured by DisableInterrupts
// and releases the critical-section lock.
func (p *Platform) RestoreInterruptState(s platform.InterruptState) {
	p.enabled = s == stateEnabled
	p.mu.Unlock()
}

// EnterLowPower is called with the critical-section lock held (by a prior
// DisableInterrupts). It releases the lock, blocks until an ISR calls
// WakeOnISRReturn, and returns with interrupts enabled — mirroring a real
// EnterLowPower that atomically enables interrupts and halts.
func (p *Platform) EnterLowPower(_ platform.LowPowerMode) {
	p.woken = false
	for !p.woken {
		p.cond.Wait()
	}
	p.enabled = true
	p.mu.Unlock()
}

// WakeOnISRReturn wakes a CPU parked in EnterLowPower. Safe to call from
// the simulated tick goroutine regardless of whether the main loop is
// currently sleeping.
func (p *Platform) WakeOnISRReturn() {
	p.mu.Lock()
	p.woken = true
	p.cond.Signal()
	p.mu.Unlock()
}

// Start begins the simulated hardware tick source: a goroutine that
// calls the registered OnTick callback every tickPeriod until Stop. It is
// idempotent; calling Start while already running does nothing, matching
// the original timer_start's TACLR-and-go semantics where re-starting an
// already-running timer is harmless.
func (p *Platform) Start() {
	p.mu2.Lock()
	if p.running {
		p.mu2.Unlock()
		return
	}
	p.running = true
	stop := make(chan struct{})
	done := make(chan struct{})
	p.stop = stop
	p.done = done
	p.mu2.Unlock()

	go p.runTicker(stop, done)
}

// Stop halts the simulated hardware tick source. Safe to call when
// already stopped.
func (p *Platform) Stop() {
	p.mu2.Lock()
	if !p.running {
		p.mu2.Unlock()
		return
	}
	p.running = false
	stop, done := p.stop, p.done
	p.mu2.Unlock()

	close(stop)
	<-done
}

func (p *Platform) runTicker(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-p.clock.After(p.tickPeriod):
			p.mu2.Lock()
			onTick := p.onTick
			p.mu2.Unlock()
			if onTick != nil {
				onTick()
			}
		}
	}
}
