package systimer

import (
	"testing"
	"time"

	"github.com/gomsp430/evm/event"
	"github.com/stretchr/testify/assert"
)

const tickEvent event.ID = 0

func newHarness(t *testing.T, opts ...Option) (*event.Machine, *Timer, *fakeHWTimer) {
	t.Helper()
	hooks := newFakeHooks()
	machine := event.NewMachine(hooks, 1)
	hw := &fakeHWTimer{}
	timer := New(machine, tickEvent, hw, opts...)
	go machine.Run()
	return machine, timer, hw
}

func tick(timer *Timer, n int) {
	for i := 0; i < n; i++ {
		timer.OnHWTick()
	}
}

func TestOneShotFiresAfterTimeoutAndStopsHWTimer(t *testing.T) {
	assert := assert.New(t)

	_, timer, hw := newHarness(t, WithMaxUserTimers(2), WithTickMS(1))

	fired := make(chan struct{})
	ok := timer.New(3, func() { close(fired) })
	assert.True(ok)

	starts, _ := hw.counts()
	assert.Equal(1, starts, "inserting the first active instance must start the hardware timer")

	tick(timer, 3)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("one-shot timer never fired")
	}

	assert.Eventually(func() bool {
		_, stops := hw.counts()
		return stops == 1
	}, time.Second, 5*time.Millisecond, "hardware timer must stop once the table is idle again")
}

func TestZeroTimeoutIsNoOp(t *testing.T) {
	assert := assert.New(t)

	_, timer, hw := newHarness(t, WithMaxUserTimers(2))

	ok := timer.New(0, func() { t.Fatal("zero-timeout callback must never run") })
	assert.True(ok)

	starts, _ := hw.counts()
	assert.Equal(0, starts, "a zero timeout must not occupy a slot or start the hardware timer")
}

func TestRenewOverwritesPendingDeadline(t *testing.T) {
	assert := assert.New(t)

	_, timer, _ := newHarness(t, WithMaxUserTimers(2))

	fired := make(chan struct{})
	cb := func() { close(fired) }

	assert.True(timer.New(50, cb))
	assert.True(timer.Renew(3, cb))

	tick(timer, 3)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("renewed timer never fired at its new, shorter deadline")
	}
}

func TestRenewWithoutExistingInstanceBehavesLikeNew(t *testing.T) {
	assert := assert.New(t)

	_, timer, _ := newHarness(t, WithMaxUserTimers(2))

	fired := make(chan struct{})
	ok := timer.Renew(2, func() { close(fired) })
	assert.True(ok)

	tick(timer, 2)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("Renew with no matching instance must fall back to New")
	}
}

func TestDeleteCancelsBeforeExpiry(t *testing.T) {
	assert := assert.New(t)

	_, timer, _ := newHarness(t, WithMaxUserTimers(2))

	cb := func() { t.Fatal("deleted timer must never fire") }
	assert.True(timer.New(5, cb))
	assert.True(timer.Delete(cb))

	tick(timer, 10)
	time.Sleep(20 * time.Millisecond) // give a false positive a chance to show up
}

func TestTaskReschedulesUntilItReturnsZero(t *testing.T) {
	assert := assert.New(t)

	_, timer, _ := newHarness(t, WithMaxUserTimers(2), WithTickMS(1))

	fires := make(chan int, 10)
	count := 0
	ok := timer.NewTask(2, func(id int, latency uint16) uint16 {
		count++
		fires <- count
		if count >= 3 {
			return 0
		}
		return OffsetLatency(2, latency)
	}, 7)
	assert.True(ok)

	for i := 0; i < 3; i++ {
		tick(timer, 2)
		select {
		case n := <-fires:
			assert.Equal(i+1, n)
		case <-time.After(time.Second):
			t.Fatalf("task did not fire iteration %d", i+1)
		}
	}

	snap := timer.Snapshot()
	for _, s := range snap {
		assert.False(s.Active, "task must be deleted once its callback returns 0")
	}
}

func TestTableExhaustionInvokesFailCallback(t *testing.T) {
	assert := assert.New(t)

	_, timer, _ := newHarness(t, WithMaxUserTimers(1)) // table size is maxUserTimers+1 == 2

	assert.True(timer.New(100, func() {}))
	assert.True(timer.New(100, func() {}))

	failed := make(chan struct{}, 1)
	timer.RegisterFailCallback(func() { failed <- struct{}{} })

	ok := timer.New(100, func() {})
	assert.False(ok, "a third concurrent instance must be rejected once the table is full")

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("fail callback was not invoked on table exhaustion")
	}
}

func TestOffsetLatencyClampsToOneMillisecond(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uint16(7), OffsetLatency(10, 3))
	assert.Equal(uint16(1), OffsetLatency(10, 10))
	assert.Equal(uint16(1), OffsetLatency(10, 15))
}

func TestReentrantNewFromWithinCallbackSucceeds(t *testing.T) {
	assert := assert.New(t)

	_, timer, _ := newHarness(t, WithMaxUserTimers(2), WithTickMS(1))

	inner := make(chan struct{})
	scheduled := make(chan struct{})
	outer := func() {
		ok := timer.New(2, func() { close(inner) })
		assert.True(ok, "a callback must be able to schedule a new timer without deadlocking")
		close(scheduled)
	}

	assert.True(timer.New(1, outer))
	tick(timer, 1)

	// The inner timer's ticks must arrive after outer has scheduled it.
	select {
	case <-scheduled:
	case <-time.After(time.Second):
		t.Fatal("outer timer never fired")
	}
	tick(timer, 2)

	select {
	case <-inner:
	case <-time.After(time.Second):
		t.Fatal("timer scheduled from within a callback never fired")
	}
}

func TestISRInsertDuringInFlightCallbackGetsDistinctSlot(t *testing.T) {
	assert := assert.New(t)

	// maxUserTimers=1 sizes the table at exactly two slots: one for the
	// task below, one spare — the table's +1 slot existing for exactly
	// this scenario.
	_, timer, hw := newHarness(t, WithMaxUserTimers(1), WithTickMS(1))

	entered := make(chan struct{})
	proceed := make(chan struct{})
	assert.True(timer.NewTask(2, func(id int, latency uint16) uint16 {
		close(entered)
		<-proceed
		return 0 // delete the task once resumed
	}, 0))

	tick(timer, 2)

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("task callback never entered")
	}

	// The update pass has zeroed the task's slot but the callback above
	// hasn't returned yet, so that slot reads as free. An ISR inserting
	// here must land on the other slot rather than the one the in-flight
	// callback still owns.
	fired := make(chan struct{})
	ok := timer.NewFromISR(50, func() { close(fired) })
	assert.True(ok, "an ISR insert while a callback is in flight must find the spare slot")

	close(proceed)
	time.Sleep(20 * time.Millisecond) // let the in-flight update pass conclude

	// Checked before the inserted timer fires: once it has, the table is
	// empty and the hardware timer is stopped.
	starts, stops := hw.counts()
	assert.Equal(1, starts)
	assert.Equal(0, stops, "the hardware timer must stay running: the ISR's insertion during "+
		"the update pass must be seen by the pass that concludes the table, not just the next one")

	tick(timer, 60)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer inserted from an ISR during an in-flight update pass never fired: " +
			"its slot was likely clobbered when the in-flight callback's result was written back")
	}
}

func TestNewTaskFromISRReschedulesUntilItReturnsZero(t *testing.T) {
	assert := assert.New(t)

	_, timer, _ := newHarness(t, WithMaxUserTimers(2), WithTickMS(1))

	fires := make(chan int, 10)
	count := 0
	ok := timer.NewTaskFromISR(2, func(id int, latency uint16) uint16 {
		count++
		fires <- count
		if count >= 2 {
			return 0
		}
		return OffsetLatency(2, latency)
	}, 3)
	assert.True(ok)

	for i := 0; i < 2; i++ {
		tick(timer, 2)
		select {
		case n := <-fires:
			assert.Equal(i+1, n)
		case <-time.After(time.Second):
			t.Fatalf("ISR-created task did not fire iteration %d", i+1)
		}
	}

	for _, s := range timer.Snapshot() {
		assert.False(s.Active, "task created from an ISR must still be deleted once it returns 0")
	}
}
