package event

import "sync/atomic"

// setBits and clearBits implement the bitmask's read-modify-write via
// compare-and-swap rather than a plain load/or/store. On the original's
// single-core MSP430 target, disabling CPU interrupts around the RMW is
// enough: main and the ISR never truly run in parallel, only interleaved.
// This module's simulated ISR (see the sim package) is a real goroutine,
// so the mask itself is stored as an atomic.Uint32 and mutated with CAS
// loops; the DisableInterrupts/RestoreInterruptState calls around each
// RMW are kept anyway, since the critical section still needs to be
// indivisible with respect to the tick ISR.
func setBits(mask *atomic.Uint32, bits uint32) {
	for {
		old := mask.Load()
		if mask.CompareAndSwap(old, old|bits) {
			return
		}
	}
}

func clearBits(mask *atomic.Uint32, bits uint32) {
	for {
		old := mask.Load()
		if mask.CompareAndSwap(old, old&^bits) {
			return
		}
	}
}
