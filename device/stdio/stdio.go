// Package stdio provides a console driver that writes the firmware console
// output to a host io.Writer, the standard output by default.
package stdio

import (
	"gopherv/device"
	"gopherv/kernel"
	"io"
	"os"
)

// Device is a console driver backed by an io.Writer.
type Device struct {
	w io.Writer
}

// New returns a console driver that writes to w.
func New(w io.Writer) *Device {
	return &Device{w: w}
}

// DriverName returns the name of the driver.
func (d *Device) DriverName() string {
	return "stdio"
}

// DriverVersion returns the driver version.
func (d *Device) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit initializes the driver.
func (d *Device) DriverInit(_ io.Writer) *kernel.Error {
	return nil
}

// Write implements io.Writer.
func (d *Device) Write(p []byte) (int, error) {
	return d.w.Write(p)
}

func probeForStdout() device.Driver {
	return New(os.Stdout)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderFallback,
		Probe: probeForStdout,
	})
}
