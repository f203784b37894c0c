package systimer

// OnHWTick is called by the platform's hardware tick source (real or
// simulated) every TICK_MS milliseconds. It is the equivalent of the
// original TIMER1_A0_ISR body: it accumulates elapsed time and, once
// enough has elapsed to reach the next deadline, posts the tick event for
// the Event Machine to dispatch.
func (t *Timer) OnHWTick() {
	t.mu.Lock()
	if !t.stopWhenIdle && t.nextTick == 0 {
		t.mu.Unlock()
		return
	}
	t.sysTick += t.tickMS
	post := t.nextTick != 0 && t.sysTick >= t.nextTick
	t.mu.Unlock()

	if post {
		t.machine.SetFromISR(t.tickEvent)
	}
}

// tickHandler is registered with the Event Machine against the tick
// event. It snapshots the elapsed tick count, runs one update pass, and
// runs another pass with the newly elapsed count if enough time elapsed
// during the update to already have reached the next deadline — a
// do/while loop rather than a single
// check, so it catches tick bursts longer than one TICK_MS (an update
// pass can take several milliseconds, e.g. during flash erase on the
// original hardware).
func (t *Timer) tickHandler() {
	t.mu.Lock()
	tick := t.sysTick
	t.mu.Unlock()

	for {
		t.mu.Lock()
		t.sysTick -= tick
		t.mu.Unlock()

		t.updatePass(tick)

		t.machine.Clear(t.tickEvent)

		t.mu.Lock()
		next := t.nextTick
		sys := t.sysTick
		t.mu.Unlock()

		if next == 0 || sys < next {
			return
		}
		tick = sys
	}
}

// due describes one timer instance that expired during an update pass.
type due struct {
	idx     int
	id      int
	latency uint16
	noIDCb  Callback
	taskCb  TaskCallback
}

// updatePass decrements every active slot's counter by tickCount,
// collects the ones that expired, invokes their callbacks, and
// recomputes the next-deadline summary.
//
// Callbacks run with the table lock released — a callback that itself
// calls New/NewTask must be able to find a free slot, which would
// deadlock if this held the lock across the call. This splits the
// original's single decrement-and-call loop into three passes (decrement,
// call, recompute) instead of one. lockedIdx reproduces the single-slot
// lock that makes releasing the mutex safe: a slot whose counter just hit
// zero reads as free before its callback has written back a final state,
// so an ISR's concurrent insert must be kept from landing on that same
// index and racing the writeback.
func (t *Timer) updatePass(tickCount uint16) {
	t.mu.Lock()
	t.nextTick = sentinelMax
	var expired []due
	for i := range t.slots {
		s := &t.slots[i]
		if s.free() {
			continue
		}
		remaining := int32(s.counter) - int32(tickCount)
		if remaining <= 0 {
			latency := uint16(-remaining)
			if s.id == noID {
				expired = append(expired, due{idx: i, id: noID, noIDCb: s.noIDCb})
			} else {
				expired = append(expired, due{idx: i, id: s.id, latency: latency, taskCb: s.taskCb})
			}
			s.counter = 0
		} else {
			s.counter = uint16(remaining)
		}
	}
	t.mu.Unlock()

	for _, d := range expired {
		t.mu.Lock()
		t.lockedIdx = d.idx
		t.mu.Unlock()

		if d.taskCb != nil {
			next := d.taskCb(d.id, d.latency)
			t.mu.Lock()
			if next == 0 {
				t.slots[d.idx] = slot{}
			} else {
				t.slots[d.idx].counter = next
			}
			t.lockedIdx = unlockedIdx
			t.mu.Unlock()
		} else {
			d.noIDCb()
			t.mu.Lock()
			t.slots[d.idx] = slot{}
			t.lockedIdx = unlockedIdx
			t.mu.Unlock()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	minTick := uint16(sentinelMax)
	for i := range t.slots {
		c := t.slots[i].counter
		if c != 0 && c < minTick {
			minTick = c
		}
	}

	if minTick == sentinelMax && t.nextTick == sentinelMax {
		t.nextTick = 0
		t.sysTick = 0
		if t.stopWhenIdle {
			t.hwTimer.Stop()
		}
		return
	}
	t.updateNextTickLocked(minTick)
}
