package hal

import (
	"bytes"
	"gopherv/device"
	"gopherv/kernel"
	"gopherv/kernel/cpu"
	"gopherv/kernel/kfmt"
	"io"
	"strings"
	"testing"
)

type fakeConsole struct {
	bytes.Buffer
	name    string
	initErr *kernel.Error
	closed  bool
}

func (c *fakeConsole) DriverName() string                      { return c.name }
func (c *fakeConsole) DriverVersion() (uint16, uint16, uint16) { return 1, 2, 3 }
func (c *fakeConsole) DriverInit(w io.Writer) *kernel.Error    { return c.initErr }
func (c *fakeConsole) Close() error                            { c.closed = true; return nil }

func newTestMachine(t *testing.T) *Machine {
	m, err := NewMachine(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNewMachine(t *testing.T) {
	m := newTestMachine(t)

	if m.Layout.TextStart != 0x80200000 || m.Layout.Trampoline != 0x80201000 {
		t.Fatalf("unexpected kernel text placement %+v", m.Layout)
	}
	if m.Layout.MemoryEnd != 0x80800000 {
		t.Fatalf("expected memory to end at 0x80800000; got 0x%x", uint64(m.Layout.MemoryEnd))
	}
	if m.BootStackTop != uint64(m.Layout.BssEnd) || m.Layout.KernelEnd != m.Layout.BssEnd {
		t.Fatal("expected the boot stack to sit at the end of .bss")
	}
	if m.Hart.Priv != cpu.PrivSupervisor || m.Hart.TicksPerInstruction != 100 {
		t.Fatal("expected the hart to boot in supervisor mode with the configured tick rate")
	}

	specs := []Config{
		{MemoryBase: 0x80400000, MemorySize: 8 << 20},
		{MemoryBase: 0x80000000, MemorySize: 2 << 20},
		{MemoryBase: 0x80000000, MemorySize: (8 << 20) + 12},
	}
	for specIndex, spec := range specs {
		if _, err := NewMachine(spec); err != errMemoryLayout {
			t.Errorf("[spec %d] expected errMemoryLayout; got %v", specIndex, err)
		}
	}
}

func TestFirmware(t *testing.T) {
	m := newTestMachine(t)
	fw := m.Firmware

	for _, c := range []byte("dropped\n") {
		fw.ConsolePutchar(c)
	}

	var out bytes.Buffer
	fw.AttachConsole(&out)
	for _, c := range []byte("line 1\npartial") {
		fw.ConsolePutchar(c)
	}
	if out.String() != "line 1\n" {
		t.Fatalf("expected output to be flushed a line at a time; got %q", out.String())
	}

	fw.Shutdown(true)
	if out.String() != "line 1\npartial" {
		t.Fatalf("expected shutdown to flush the console; got %q", out.String())
	}
	if off, failure := fw.PoweredOff(); !off || !failure {
		t.Fatal("expected the machine to be powered off with a failure")
	}

	fw.SetTimer(1234)
	if m.Hart.Stimecmp != 1234 {
		t.Fatalf("expected stimecmp 1234; got %d", m.Hart.Stimecmp)
	}
}

func TestRun(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	kfmt.SetOutputSink(new(bytes.Buffer))

	m := newTestMachine(t)

	errFoo := &kernel.Error{Module: "test", Message: "foo"}
	if err := m.Run(func() *kernel.Error { return errFoo }); err != errFoo {
		t.Fatalf("expected Run to pass through errors; got %v", err)
	}

	if err := m.Run(func() *kernel.Error { kfmt.Panic(errFoo); return nil }); err != ErrKernelPanic {
		t.Fatalf("expected ErrKernelPanic; got %v", err)
	}

	defer func() {
		if r := recover(); r != "boom" {
			t.Fatalf("expected foreign panics to propagate; got %v", r)
		}
	}()
	m.Run(func() *kernel.Error { panic("boom") })
}

func TestProbe(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	var log bytes.Buffer
	kfmt.SetOutputSink(&log)

	m := newTestMachine(t)

	var (
		broken = &fakeConsole{name: "broken", initErr: &kernel.Error{Module: "test", Message: "no device"}}
		first  = &fakeConsole{name: "first"}
		second = &fakeConsole{name: "second"}
	)

	m.probe(device.DriverInfoList{
		{Probe: func() device.Driver { return nil }},
		{Probe: func() device.Driver { return broken }},
		{Probe: func() device.Driver { return first }},
		{Probe: func() device.Driver { return second }},
	})

	if m.ActiveConsole() != first {
		t.Fatalf("expected the first initialized console to become active; got %v", m.ActiveConsole())
	}

	for _, exp := range []string{
		"[hal] broken(1.2.3): init failed: no device\n",
		"[hal] first(1.2.3): initialized\n",
		"[hal] second(1.2.3): initialized\n",
	} {
		if !strings.Contains(log.String()+first.String(), exp) {
			t.Errorf("expected the probe log to contain %q", exp)
		}
	}

	kfmt.Printf("routed\n")
	if !strings.HasSuffix(first.String(), "routed\n") {
		t.Fatalf("expected kernel output to reach the active console; got %q", first.String())
	}

	m.Close()
	if !first.closed || !second.closed || broken.closed {
		t.Fatal("expected Close to release the initialized drivers only")
	}
}
