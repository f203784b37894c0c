// Package platform defines the three primitives the event machine and
// system timer need from the host: interrupt gating, low-power sleep, and
// a hardware tick source. Nothing in this package talks to real registers;
// concrete implementations (the sim package, or a future cross-compiled
// one) live elsewhere.
package platform

// LowPowerMode names a CPU sleep state. Each value is the MSP430
// status-register bits for that mode plus the global-interrupt-enable bit
// (GIE = 0x08, CPUOFF = 0x10, OSCOFF = 0x20, SCG0 = 0x40, SCG1 = 0x80).
type LowPowerMode int

const (
	LPM0 LowPowerMode = 0x18 // CPUOFF | GIE
	LPM1 LowPowerMode = 0x58 // SCG0 | CPUOFF | GIE
	LPM2 LowPowerMode = 0x98 // SCG1 | CPUOFF | GIE
	LPM3 LowPowerMode = 0xD8 // SCG1 | SCG0 | CPUOFF | GIE
	LPM4 LowPowerMode = 0xF8 // SCG1 | SCG0 | OSCOFF | CPUOFF | GIE
)

func (m LowPowerMode) String() string {
	switch m {
	case LPM0:
		return "LPM0"
	case LPM1:
		return "LPM1"
	case LPM2:
		return "LPM2"
	case LPM3:
		return "LPM3"
	case LPM4:
		return "LPM4"
	default:
		return "LPM?"
	}
}

// InterruptState is an opaque snapshot returned by DisableInterrupts and
// consumed by RestoreInterruptState. Callers must not inspect it.
type InterruptState uint32

// Hooks abstracts the interrupt-gating and sleep primitives the event
// machine needs from the host. The system timer does not use Hooks; it
// takes only a HardwareTimer.
type Hooks interface {
	// DisableInterrupts disables CPU interrupts and returns the prior
	// state so it can be restored later.
	DisableInterrupts() InterruptState

	// EnableInterrupts unconditionally enables CPU interrupts.
	EnableInterrupts()

	// InterruptState reports whether interrupts are currently enabled,
	// without changing anything.
	InterruptState() InterruptState

	// RestoreInterruptState restores a state previously captured by
	// DisableInterrupts.
	RestoreInterruptState(s InterruptState)

	// EnterLowPower atomically re-enables interrupts and halts the CPU
	// in the given mode. It returns once an ISR has requested a wake
	// (WakeOnISRReturn was called while handling the interrupt that
	// woke the CPU).
	EnterLowPower(mode LowPowerMode)

	// WakeOnISRReturn is called from within an ISR to force the CPU to
	// resume the main loop instead of falling back to sleep when the
	// ISR returns.
	WakeOnISRReturn()
}

// HardwareTimer starts and stops the periodic tick source the system
// timer relies on. In stop-mode configuration the timer is started only
// once a timer instance becomes active and stopped once the table empties.
type HardwareTimer interface {
	Start()
	Stop()
}
