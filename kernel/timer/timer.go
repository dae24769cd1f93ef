// Package timer provides the kernel's view of time and programs the timer
// interrupt that drives preemption.
package timer

import (
	"gopherv/kernel/cpu"
	"gopherv/kernel/sbi"
)

const (
	// TicksPerSec is the number of scheduling slices per second.
	TicksPerSec = 100

	// MsecPerSec is the number of milliseconds in a second.
	MsecPerSec = 1000
)

// Timer reads the hart's time CSR and arms the firmware timer.
type Timer struct {
	hart      *cpu.Hart
	firmware  sbi.Firmware
	clockFreq uint64
}

// New returns a timer for a hart whose time CSR advances clockFreq times
// per second.
func New(hart *cpu.Hart, firmware sbi.Firmware, clockFreq uint64) *Timer {
	return &Timer{hart: hart, firmware: firmware, clockFreq: clockFreq}
}

// GetTime returns the raw value of the time CSR.
func (t *Timer) GetTime() uint64 {
	return t.hart.Time
}

// GetTimeMs returns the time since boot in milliseconds.
func (t *Timer) GetTimeMs() uint64 {
	return t.GetTime() / (t.clockFreq / MsecPerSec)
}

// SetNextTrigger arms the timer interrupt for the end of the current slice.
func (t *Timer) SetNextTrigger() {
	t.firmware.SetTimer(t.GetTime() + t.Slice())
}

// Slice returns the length of a scheduling slice in timer ticks.
func (t *Timer) Slice() uint64 {
	return t.clockFreq / TicksPerSec
}
