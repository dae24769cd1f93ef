// Package hal describes the machine the kernel runs on: the RAM arena, the
// hart, the firmware and the placement of the kernel image. It also probes
// the console drivers that receive the firmware console output.
package hal

import (
	"bytes"
	"gopherv/device"
	"gopherv/kernel/kfmt"
	"gopherv/kernel/sbi"
	"io"
	"sort"
)

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	activeConsole device.ConsoleDriver

	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver
}

// printfWriter forwards writes to kfmt.Printf so that driver logs end up in
// the early ring buffer until a console is attached.
type printfWriter struct{}

func (printfWriter) Write(p []byte) (int, error) {
	kfmt.Printf("%s", p)
	return len(p), nil
}

// ActiveConsole returns the console driver that receives the firmware
// console output.
func (m *Machine) ActiveConsole() device.ConsoleDriver {
	return m.devices.activeConsole
}

// DetectHardware probes for console devices and initializes the
// appropriate drivers.
func (m *Machine) DetectHardware() {
	// Get driver list and sort by detection priority
	drivers := device.DriverList()
	sort.Sort(drivers)

	m.probe(drivers)
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func (m *Machine) probe(driverInfoList device.DriverInfoList) {
	var (
		strBuf bytes.Buffer
		w      = kfmt.PrefixWriter{Sink: printfWriter{}}
	)

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		m.onDriverInit(drv)
		m.devices.activeDrivers = append(m.devices.activeDrivers, drv)
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized. The first console driver becomes the
// firmware console and the kernel output is routed through the firmware.
func (m *Machine) onDriverInit(drv device.Driver) {
	cons, ok := drv.(device.ConsoleDriver)
	if !ok || m.devices.activeConsole != nil {
		return
	}

	m.devices.activeConsole = cons
	m.Firmware.AttachConsole(cons)
	kfmt.SetOutputSink(sbi.Console{Firmware: m.Firmware})
}

// Close flushes the firmware console and releases the initialized drivers.
func (m *Machine) Close() {
	m.Firmware.Flush()
	kfmt.SetOutputSink(nil)

	for _, drv := range m.devices.activeDrivers {
		if closer, ok := drv.(io.Closer); ok {
			closer.Close()
		}
	}
	m.devices = managedDevices{}
}
