package stdio

import (
	"bytes"
	"gopherv/device"
	"testing"
)

func TestDevice(t *testing.T) {
	var buf bytes.Buffer
	var drv device.ConsoleDriver = New(&buf)

	if err := drv.DriverInit(nil); err != nil {
		t.Fatal(err)
	}

	if _, err := drv.Write([]byte("[kernel] Hello, world!\n")); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "[kernel] Hello, world!\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestProbe(t *testing.T) {
	if drv := probeForStdout(); drv == nil || drv.DriverName() != "stdio" {
		t.Fatal("expected the stdout probe to always succeed")
	}
}
