package hal

import (
	"gopherv/kernel/cpu"
	"io"
)

// Firmware implements the supervisor binary interface of the machine.
type Firmware struct {
	hart    *cpu.Hart
	console io.Writer

	// line buffers console output until a newline is written.
	line []byte

	poweredOff bool
	failure    bool
}

// SetTimer programs the timer compare register of the hart.
func (fw *Firmware) SetTimer(stime uint64) {
	fw.hart.SetTimerCompare(stime)
}

// ConsolePutchar writes c to the firmware console. Output is forwarded to
// the attached console a line at a time; it is dropped while no console is
// attached.
func (fw *Firmware) ConsolePutchar(c byte) {
	if fw.console == nil {
		return
	}

	fw.line = append(fw.line, c)
	if c == '\n' {
		fw.Flush()
	}
}

// Shutdown powers the machine off.
func (fw *Firmware) Shutdown(failure bool) {
	fw.Flush()
	fw.poweredOff = true
	fw.failure = failure
}

// PoweredOff reports whether Shutdown was called and whether it reported a
// failure.
func (fw *Firmware) PoweredOff() (bool, bool) {
	return fw.poweredOff, fw.failure
}

// AttachConsole routes the firmware console to w.
func (fw *Firmware) AttachConsole(w io.Writer) {
	fw.Flush()
	fw.console = w
}

// Flush writes any buffered console output.
func (fw *Firmware) Flush() {
	if len(fw.line) == 0 || fw.console == nil {
		return
	}

	fw.console.Write(fw.line)
	fw.line = fw.line[:0]
}
