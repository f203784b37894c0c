// Package event implements a bitmask-indexed, priority-ordered dispatcher
// of nullary handlers, paired with a sleep-when-idle main loop that races
// against ISRs for correctness.
package event

import (
	"sync/atomic"

	"github.com/gomsp430/evm/platform"
)

// Option configures a Machine at construction time.
type Option func(*Machine)

// WithBeforeSleep installs a hook called just before the CPU is put to
// sleep, after the mask has been observed empty with interrupts disabled.
func WithBeforeSleep(fn func()) Option {
	return func(m *Machine) { m.beforeSleep = fn }
}

// WithAfterSleep installs a hook called immediately after the CPU wakes
// from EnterLowPower.
func WithAfterSleep(fn func()) Option {
	return func(m *Machine) { m.afterSleep = fn }
}

// WithStrayBitAssertion makes Run panic instead of silently masking off
// pending bits observed outside [0, N). Off by default, matching the
// original source's debug-build-only assertion.
func WithStrayBitAssertion() Option {
	return func(m *Machine) { m.assertStrayBits = true }
}

// Machine owns the pending-event bitmask, the handler table, and the
// sleep-when-idle dispatch loop. A process has exactly one Machine; it is
// the single point through which main-context code and ISRs communicate.
//
// mask and lpm are atomic.Uint32/atomic.Int32 rather than plain words:
// the original relies on "disable interrupts" making a single-core ISR
// and the main loop mutually exclusive, but this module's simulated ISR
// (see the sim package) is a real, concurrently running goroutine, so the
// word-atomicity the target architecture would otherwise provide for free
// has to be provided explicitly here.
type Machine struct {
	n        int
	used     uint32
	mask     atomic.Uint32
	handlers []Handler
	hooks    platform.Hooks
	lpm      atomic.Int32

	beforeSleep     func()
	afterSleep      func()
	assertStrayBits bool
}

// NewMachine creates a Machine with n events, dispatched against hooks.
// n must be at least 1 and no larger than 32 (the bit width of the mask
// word) — the Go analogue of the source's EVENT_COUNT_MAX check.
func NewMachine(hooks platform.Hooks, n int, opts ...Option) *Machine {
	if n <= 0 || n > 32 {
		panic("event: n must be in [1, 32]")
	}
	m := &Machine{
		n:           n,
		used:        usedMask(n),
		handlers:    make([]Handler, n),
		hooks:       hooks,
		beforeSleep: func() {},
		afterSleep:  func() {},
	}
	m.lpm.Store(int32(platform.LPM0))
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func usedMask(n int) uint32 {
	if n >= 32 {
		return ^uint32(0)
	}
	return (uint32(1) << uint(n)) - 1
}

// Set sets id's bit in the pending mask. Called from main context; the
// read-modify-write runs with interrupts disabled.
func (m *Machine) Set(id ID) {
	s := m.hooks.DisableInterrupts()
	setBits(&m.mask, bitFor(id))
	m.hooks.RestoreInterruptState(s)
}

// SetFromISR is the ISR-safe variant of Set. It additionally requests a
// wake so that, if the CPU was sleeping, it resumes as soon as the ISR
// returns instead of falling back to sleep.
func (m *Machine) SetFromISR(id ID) {
	setBits(&m.mask, bitFor(id))
	m.hooks.WakeOnISRReturn()
}

// SetLowPowerMode stores the mode Run uses the next time it falls asleep.
func (m *Machine) SetLowPowerMode(mode platform.LowPowerMode) {
	m.lpm.Store(int32(mode))
}

// SetLowPowerModeFromISR stores mode and forces a wake, so a CPU already
// sleeping in the old mode wakes, notices the change, and re-sleeps into
// the new one.
func (m *Machine) SetLowPowerModeFromISR(mode platform.LowPowerMode) {
	m.lpm.Store(int32(mode))
	m.hooks.WakeOnISRReturn()
}

// Run transfers control to the dispatch loop. It never returns.
func (m *Machine) Run() {
	m.fillEmptyHandlers()
	for {
		m.drain()
		m.sleep()
	}
}

// drain runs dispatch passes, in ascending event-id order, until the mask
// is observed empty. A pass that clears the mask mid-walk returns
// immediately rather than restarting from id 0 — a high-priority event
// that becomes pending after a lower-priority handler already ran waits
// for the next pass instead of jumping the queue.
func (m *Machine) drain() {
	for {
		current := m.mask.Load()
		bit := uint32(1)
		for i := 0; i < m.n; i++ {
			if current&bit != 0 {
				s := m.hooks.DisableInterrupts()
				clearBits(&m.mask, bit)
				m.hooks.RestoreInterruptState(s)

				m.handlers[i]()

				current = m.mask.Load()
				if current == 0 {
					return
				}
			}
			bit <<= 1
		}

		if current&^m.used != 0 {
			if m.assertStrayBits {
				panic("event: stray bit set outside [0, N)")
			}
			s := m.hooks.DisableInterrupts()
			clearBits(&m.mask, ^m.used)
			m.hooks.RestoreInterruptState(s)
		}

		if m.mask.Load() == 0 {
			return
		}
	}
}

// sleep implements the "disable interrupts -> test -> sleep" race: it
// only halts the CPU if the mask is still empty once interrupts are
// disabled, closing the window where an ISR could post an event between
// drain's last check and the sleep instruction.
func (m *Machine) sleep() {
	s := m.hooks.DisableInterrupts()
	if m.mask.Load() != 0 {
		m.hooks.RestoreInterruptState(s)
		return
	}
	m.beforeSleep()
	m.hooks.EnterLowPower(platform.LowPowerMode(m.lpm.Load()))
	m.afterSleep()
}
