// Package sbi describes the firmware services the kernel relies on. The
// kernel only consumes the interface; the board provides the implementation.
package sbi

// Firmware is the supervisor binary interface exposed by the machine
// firmware.
type Firmware interface {
	// SetTimer programs the next timer interrupt to fire once the time
	// CSR reaches stime.
	SetTimer(stime uint64)

	// ConsolePutchar writes a single byte to the firmware console.
	ConsolePutchar(c byte)

	// Shutdown powers the machine off. The failure flag reports whether
	// the kernel is stopping because of an error.
	Shutdown(failure bool)
}

// Console adapts the firmware console to an io.Writer.
type Console struct {
	Firmware Firmware
}

// Write sends p to the firmware console one byte at a time.
func (c Console) Write(p []byte) (int, error) {
	for _, b := range p {
		c.Firmware.ConsolePutchar(b)
	}
	return len(p), nil
}
