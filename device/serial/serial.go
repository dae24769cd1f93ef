// Package serial provides a console driver that forwards the firmware
// console output to a host terminal device.
package serial

import (
	"gopherv/device"
	"gopherv/kernel"
	"gopherv/kernel/kfmt"
	"io"

	tty "github.com/mattn/go-tty"
)

var (
	// DevicePath is the terminal device probed by the driver. The driver
	// is not probed when it is empty.
	DevicePath string

	// openDeviceFn is mocked by tests.
	openDeviceFn = openDevice

	errOpenFailed = &kernel.Error{Module: "serial", Message: "unable to open terminal device"}
)

func openDevice(path string) (io.WriteCloser, error) {
	t, err := tty.OpenDevice(path)
	if err != nil {
		return nil, err
	}
	return &ttyWriter{t: t}, nil
}

// ttyWriter writes to the output side of a terminal.
type ttyWriter struct {
	t *tty.TTY
}

func (w *ttyWriter) Write(p []byte) (int, error) { return w.t.Output().Write(p) }
func (w *ttyWriter) Close() error                { return w.t.Close() }

// Device is a console driver backed by a terminal device.
type Device struct {
	path string
	out  io.WriteCloser

	// pendingCR is set when the last byte written was a carriage return.
	pendingCR bool
}

// DriverName returns the name of the driver.
func (d *Device) DriverName() string {
	return "serial"
}

// DriverVersion returns the driver version.
func (d *Device) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit opens the terminal device.
func (d *Device) DriverInit(w io.Writer) *kernel.Error {
	out, err := openDeviceFn(d.path)
	if err != nil {
		kfmt.Fprintf(w, "open %s: %s\n", d.path, err.Error())
		return errOpenFailed
	}

	d.out = out
	kfmt.Fprintf(w, "attached to %s\n", d.path)
	return nil
}

// Write sends p to the terminal. Bare line feeds are expanded to CRLF so
// that output lines up on terminals in raw mode.
func (d *Device) Write(p []byte) (int, error) {
	var (
		buf   = make([]byte, 0, len(p)+8)
		start int
	)

	for i, b := range p {
		if b == '\n' && !d.pendingCR && (i == 0 || p[i-1] != '\r') {
			buf = append(buf, p[start:i]...)
			buf = append(buf, '\r')
			start = i
		}
		d.pendingCR = false
	}
	buf = append(buf, p[start:]...)
	d.pendingCR = len(p) != 0 && p[len(p)-1] == '\r'

	if _, err := d.out.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close releases the terminal device.
func (d *Device) Close() error {
	if d.out == nil {
		return nil
	}
	return d.out.Close()
}

func probeForSerial() device.Driver {
	if DevicePath == "" {
		return nil
	}
	return &Device{path: DevicePath}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderConsole,
		Probe: probeForSerial,
	})
}
