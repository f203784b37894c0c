// Package systimer implements a small, statically sized table of pending
// timer instances driven by a single hardware timer interrupt, which
// posts a "tick" event the event machine routes back to the tick handler
// here.
package systimer

import (
	"github.com/gomsp430/evm/event"
	"github.com/gomsp430/evm/platform"
	"sync"
)

const sentinelMax = 0xFFFF

// OffsetLatency is a convenience for task callbacks that want to
// compensate a fixed period for how late they fired, clamped to at least
// 1ms so a late-running callback never reschedules itself for "now" or
// earlier. Equivalent to the original's SYS_TIME_OFFSET_LATENCY macro.
func OffsetLatency(timeoutMS, latencyMS uint16) uint16 {
	if timeoutMS > latencyMS {
		return timeoutMS - latencyMS
	}
	return 1
}

// Callback is a no-argument timer expiry handler. It always deletes the
// timer after one firing.
type Callback func()

// TaskCallback is a timer expiry handler that receives its own id and how
// many milliseconds late it ran, and returns the next timeout. Returning
// 0 deletes the task; any other value reschedules it for that many
// milliseconds from now.
type TaskCallback func(id int, latencyMS uint16) uint16

// Timer owns the timer table, the elapsed-tick counter, and the
// next-deadline summary. One Timer is wired to one event.Machine via a
// dedicated tick event.
type Timer struct {
	machine   *event.Machine
	tickEvent event.ID
	hwTimer   platform.HardwareTimer

	maxUserTimers int
	tickMS        uint16
	stopWhenIdle  bool

	mu        sync.Mutex
	slots     []slot
	sysTick   uint16
	nextTick  uint16
	failCB    func()
	lockedIdx int // slot index an in-flight callback owns; unlockedIdx when none
}

// New creates a Timer wired to machine's tickEvent and hwTimer, applying
// opts. It registers the tick handler with machine immediately; the
// hardware tick source itself is left stopped (stop-mode configuration)
// until the first timer instance becomes active, unless WithoutStopMode
// is given.
func New(machine *event.Machine, tickEvent event.ID, hwTimer platform.HardwareTimer, opts ...Option) *Timer {
	t := &Timer{
		machine:       machine,
		tickEvent:     tickEvent,
		hwTimer:       hwTimer,
		maxUserTimers: defaultMaxUserTimers,
		tickMS:        defaultTickMS,
		stopWhenIdle:  true,
		failCB:        func() {},
		lockedIdx:     unlockedIdx,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.slots = make([]slot, t.maxUserTimers+1)

	machine.Register(tickEvent, t.tickHandler)
	if !t.stopWhenIdle {
		t.hwTimer.Start()
	}
	return t
}

// SlotSnapshot is a read-only view of one timer table entry, for
// monitoring/diagnostics only.
type SlotSnapshot struct {
	Active      bool
	RemainingMS uint16
	ID          int
	IsTask      bool
}

// Snapshot returns the current state of every slot in the table. It takes
// the table lock briefly; callers should treat the result as a point-in-
// time view, not a live one.
func (t *Timer) Snapshot() []SlotSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SlotSnapshot, len(t.slots))
	for i, s := range t.slots {
		out[i] = SlotSnapshot{
			Active:      !s.free(),
			RemainingMS: s.counter,
			ID:          s.id,
			IsTask:      s.taskCb != nil,
		}
	}
	return out
}

// RegisterFailCallback installs cb, invoked whenever a New/NewTask attempt
// fails because every slot is occupied. Passing nil restores a no-op.
func (t *Timer) RegisterFailCallback(cb func()) {
	if cb == nil {
		cb = func() {}
	}
	t.mu.Lock()
	t.failCB = cb
	t.mu.Unlock()
}

// New creates a new no-id timer instance that fires callback once,
// timeoutMS milliseconds from now. A timeout of 0 is a no-op that returns
// true without occupying a slot. It returns false, and invokes the fail
// callback, if every slot is occupied.
func (t *Timer) New(timeoutMS uint16, callback Callback) bool {
	return t.insert(timeoutMS, callback, nil, noID)
}

// NewTask creates a new task timer keyed by (callback, id). On expiry,
// callback receives its id and the firing latency and returns the next
// timeout; returning 0 deletes the task.
func (t *Timer) NewTask(timeoutMS uint16, callback TaskCallback, id int) bool {
	return t.insert(timeoutMS, nil, callback, id)
}

// NewFromISR is the ISR-safe variant of New. It assumes the caller is
// already running with interrupts disabled (or, in this host simulation,
// from the simulated tick goroutine) and never blocks for long.
func (t *Timer) NewFromISR(timeoutMS uint16, callback Callback) bool {
	return t.insert(timeoutMS, callback, nil, noID)
}

// NewTaskFromISR is the ISR-safe variant of NewTask.
func (t *Timer) NewTaskFromISR(timeoutMS uint16, callback TaskCallback, id int) bool {
	return t.insert(timeoutMS, nil, callback, id)
}

// Renew searches for an existing active instance keyed by (callback,
// noID) and reschedules it to fire timeoutMS milliseconds from now; if
// none is found it behaves like New. Not callable from an ISR.
func (t *Timer) Renew(timeoutMS uint16, callback Callback) bool {
	return t.renew(timeoutMS, callback, nil, noID)
}

// RenewTask is the task-keyed variant of Renew.
func (t *Timer) RenewTask(timeoutMS uint16, callback TaskCallback, id int) bool {
	return t.renew(timeoutMS, nil, callback, id)
}

// Delete cancels the no-id timer instance for callback. It is equivalent
// to Renew with a zero timeout.
func (t *Timer) Delete(callback Callback) bool {
	return t.renew(0, callback, nil, noID)
}

// DeleteTask cancels the task timer keyed by (callback, id).
func (t *Timer) DeleteTask(callback TaskCallback, id int) bool {
	return t.renew(0, nil, callback, id)
}

func (t *Timer) insert(timeoutMS uint16, noIDCb Callback, taskCb TaskCallback, id int) bool {
	if timeoutMS == 0 {
		return true
	}

	t.mu.Lock()
	for i := range t.slots {
		// A slot an in-flight callback owns reads as free (its counter
		// already hit zero) before that callback has written back its
		// final state; skip it so the callback's writeback can't clobber
		// whatever a concurrent insert just placed there.
		if i == t.lockedIdx {
			continue
		}
		if t.slots[i].free() {
			// Counters count from the last update pass, which the next pass
			// subtracts in full, so the time already elapsed since then is
			// added here.
			t.slots[i] = slot{counter: timeoutMS + t.sysTick, noIDCb: noIDCb, taskCb: taskCb, id: id}
			t.updateNextTickLocked(timeoutMS + t.sysTick)
			t.mu.Unlock()
			return true
		}
	}
	fail := t.failCB
	t.mu.Unlock()

	fail()
	return false
}

func (t *Timer) renew(timeoutMS uint16, noIDCb Callback, taskCb TaskCallback, id int) bool {
	t.mu.Lock()
	for i := range t.slots {
		if t.slots[i].matches(noIDCb, taskCb, id) {
			if timeoutMS == 0 {
				t.slots[i] = slot{}
			} else {
				t.slots[i].counter = timeoutMS + t.sysTick
				t.updateNextTickLocked(timeoutMS + t.sysTick)
			}
			t.mu.Unlock()
			return true
		}
	}
	t.mu.Unlock()

	if timeoutMS == 0 {
		return true
	}
	return t.insert(timeoutMS, noIDCb, taskCb, id)
}

// updateNextTickLocked is the atomic_update_next_tick equivalent. It must
// be called with mu held. tick is the absolute deadline (in the sysTick
// timebase) that just became a candidate for "soonest". While an update
// pass is in flight nextTick holds the sentinelMax "in progress" marker;
// seeing a smaller value here is exactly the handshake by which an ISR
// insertion during that pass tells the updater not to stop the hardware
// timer.
func (t *Timer) updateNextTickLocked(tick uint16) {
	if tick == 0 {
		panic("systimer: internal invariant violated: zero deadline")
	}
	if tick < t.nextTick {
		t.nextTick = tick
	} else if t.nextTick == 0 {
		t.nextTick = tick
		if t.stopWhenIdle {
			t.hwTimer.Start()
		}
	}
}
