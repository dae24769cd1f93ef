package trap

import (
	"bytes"
	"fmt"
	"gopherv/kernel/cpu"
	"gopherv/kernel/gate"
	"gopherv/kernel/kfmt"
	"gopherv/kernel/mm"
	"gopherv/kernel/mm/pmm"
	"gopherv/kernel/mm/vmm"
	"gopherv/kernel/syscall"
	"gopherv/kernel/task"
	"gopherv/kernel/timer"
	"gopherv/userland/rvasm"
	"strings"
	"testing"
)

const (
	testTextBase  = mm.PhysAddr(gate.KernelTextBase)
	testFrames    = 512
	testClockFreq = 12500000
)

type testFirmware struct {
	hart *cpu.Hart
}

func (fw *testFirmware) SetTimer(stime uint64) { fw.hart.SetTimerCompare(stime) }
func (fw *testFirmware) ConsolePutchar(byte)   {}
func (fw *testFirmware) Shutdown(bool)         {}

type testEnv struct {
	hart        *cpu.Hart
	kernelSpace *vmm.MemorySet
	tasks       *task.Manager
	timer       *timer.Timer
	handler     *Handler
}

func testLayout() vmm.KernelLayout {
	return vmm.KernelLayout{
		TextStart:   testTextBase,
		TextEnd:     testTextBase + 0x2000,
		RodataStart: testTextBase + 0x2000,
		RodataEnd:   testTextBase + 0x3000,
		DataStart:   testTextBase + 0x3000,
		DataEnd:     testTextBase + 0x4000,
		BssStart:    testTextBase + 0x4000,
		BssEnd:      testTextBase + 0x5000,
		KernelEnd:   testTextBase + 0x5000,
		MemoryEnd:   testTextBase + mm.PhysAddr(testFrames*mm.PageSize),
		Trampoline:  testTextBase + 0x1000,
	}
}

func newTestEnv(t *testing.T, images ...[]byte) *testEnv {
	layout := testLayout()
	mem := mm.NewPhysMem(testTextBase, testFrames*mm.PageSize)
	alloc := pmm.NewFrameAllocator(mem, layout.KernelEnd.Floor(), layout.MemoryEnd.Floor())

	kfmt.SetOutputSink(new(bytes.Buffer))
	defer kfmt.SetOutputSink(nil)

	kernelSpace, err := vmm.NewKernel(alloc, layout)
	if err != nil {
		t.Fatal(err)
	}

	var tcbs []*task.ControlBlock
	for slot, img := range images {
		tcb, err := task.NewControlBlock(alloc, kernelSpace, layout.Trampoline.Floor(), img, slot)
		if err != nil {
			t.Fatal(err)
		}
		tcbs = append(tcbs, tcb)
	}

	hart := cpu.NewHart(mem, 1)
	tasks := task.NewManager(hart, tcbs)
	tm := timer.New(hart, &testFirmware{hart: hart}, testClockFreq)

	env := &testEnv{
		hart:        hart,
		kernelSpace: kernelSpace,
		tasks:       tasks,
		timer:       tm,
		handler:     NewHandler(hart, tasks, syscall.NewTable(tasks, tm, mem), tm),
	}

	Init(hart)
	kernelSpace.Activate(hart)
	hart.Kernel = cpu.KernelRegs{RA: gate.BootReturnEntry}
	if err := tasks.RunFirstTask(); err != nil {
		t.Fatal(err)
	}

	return env
}

func buildImage(t *testing.T, fn func(a *rvasm.Assembler)) []byte {
	a := rvasm.New()
	a.Label("_start")
	fn(a)

	img, err := a.Build(rvasm.DefaultTextBase)
	if err != nil {
		t.Fatal(err)
	}
	return img.Bytes()
}

// enterUser returns to the current task and runs it until it traps.
func (env *testEnv) enterUser(t *testing.T) {
	if err := env.handler.TrapReturn(); err != nil {
		t.Fatal(err)
	}
	if env.hart.Priv != cpu.PrivUser {
		t.Fatal("expected the hart to run in user mode after the trap return")
	}

	if !env.hart.Run(10000) {
		t.Fatal("expected the task to trap")
	}
	if err := AllTraps(env.hart); err != nil {
		t.Fatal(err)
	}
}

func TestSyscallRoundTrip(t *testing.T) {
	img := buildImage(t, func(a *rvasm.Assembler) {
		a.Li(rvasm.A0, 42)
		a.Li(rvasm.S1, 7)
		a.Li(rvasm.A7, syscall.SysYield)
		a.Ecall()
		a.Addi(rvasm.S1, rvasm.S1, 1)
		a.Ebreak()
	})
	env := newTestEnv(t, img)

	env.enterUser(t)

	if env.hart.Scause != cpu.CauseEcallFromU {
		t.Fatalf("expected an ecall; got %s", cpu.CauseName(env.hart.Scause))
	}
	if env.hart.ActiveSATP() != env.kernelSpace.Token() {
		t.Fatal("expected the trap entry to activate the kernel address space")
	}
	if env.hart.PC != gate.TrapHandlerEntry {
		t.Fatalf("expected the trap entry to jump to the handler; got 0x%x", env.hart.PC)
	}
	if _, top := vmm.KernelStackPosition(0); env.hart.Kernel.SP != top {
		t.Fatalf("expected the kernel stack of slot 0; got 0x%x", env.hart.Kernel.SP)
	}

	frame := env.tasks.CurrentTrapContext()
	if frame.Reg(cpu.RegA0) != 42 || frame.Reg(rvasm.S1) != 7 {
		t.Fatalf("expected the user registers to be saved; got a0=%d s1=%d", frame.Reg(cpu.RegA0), frame.Reg(rvasm.S1))
	}
	ecallPC := frame.Sepc()

	env.handler.Handle()
	if env.hart.Kernel.RA != gate.SwitchReturnEntry {
		t.Fatalf("expected the yielding task to resume through the switch return; got 0x%x", env.hart.Kernel.RA)
	}
	if frame.Sepc() != ecallPC+4 || frame.Reg(cpu.RegA0) != 0 {
		t.Fatalf("expected sepc to skip the ecall and a0 to hold 0; got 0x%x / %d", frame.Sepc(), frame.Reg(cpu.RegA0))
	}

	env.enterUser(t)
	if env.hart.Scause != cpu.CauseBreakpoint {
		t.Fatalf("expected a breakpoint; got %s", cpu.CauseName(env.hart.Scause))
	}
	if got := env.tasks.CurrentTrapContext().Reg(rvasm.S1); got != 8 {
		t.Fatalf("expected s1 to survive the round trip; got %d", got)
	}
}

func TestFaultsKillTask(t *testing.T) {
	specs := []struct {
		descr  string
		body   func(a *rvasm.Assembler)
		expMsg string
	}{
		{
			"store to read-only text",
			func(a *rvasm.Assembler) {
				a.Li(rvasm.T0, rvasm.DefaultTextBase)
				a.Sd(rvasm.Zero, rvasm.T0, 0)
			},
			"[kernel] PageFault in application, kernel killed it.\n",
		},
		{
			"privileged csr write",
			func(a *rvasm.Assembler) {
				a.Word(0x10001073) // csrw sstatus, zero
			},
			"[kernel] IllegalInstruction in application, kernel killed it.\n",
		},
	}

	survivor := buildImage(t, func(a *rvasm.Assembler) {
		a.Li(rvasm.A7, syscall.SysYield)
		a.Ecall()
	})

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			env := newTestEnv(t, buildImage(t, spec.body), survivor)

			var buf bytes.Buffer
			kfmt.SetOutputSink(&buf)
			defer kfmt.SetOutputSink(nil)

			env.enterUser(t)
			env.handler.Handle()

			if buf.String() != spec.expMsg {
				t.Fatalf("expected %q; got %q", spec.expMsg, buf.String())
			}
			if env.tasks.Status(0) != task.Exited || env.tasks.CurrentSlot() != 1 {
				t.Fatalf("expected only the faulting task to be killed; current slot %d", env.tasks.CurrentSlot())
			}
			if env.hart.Kernel.RA != gate.TrapReturnEntry {
				t.Fatalf("expected slot 1 to start through the trap return; got 0x%x", env.hart.Kernel.RA)
			}
		})
	}
}

func TestTimerInterruptPreempts(t *testing.T) {
	spin := buildImage(t, func(a *rvasm.Assembler) {
		a.Label("loop")
		a.Addi(rvasm.T0, rvasm.T0, 1)
		a.J("loop")
	})
	env := newTestEnv(t, spin, spin)
	env.hart.TicksPerInstruction = 100

	EnableTimerInterrupt(env.hart)
	env.timer.SetNextTrigger()

	env.enterUser(t)
	if env.hart.Scause != cpu.CauseSTimerInt {
		t.Fatalf("expected a timer interrupt; got %s", cpu.CauseName(env.hart.Scause))
	}

	env.handler.Handle()
	if env.tasks.CurrentSlot() != 1 || env.tasks.Status(0) != task.Ready {
		t.Fatalf("expected slot 0 to be preempted; current slot %d", env.tasks.CurrentSlot())
	}
	if env.hart.Stimecmp <= env.hart.Time {
		t.Fatal("expected the timer to be re-armed")
	}
}

func TestUnsupportedTrap(t *testing.T) {
	defer func(orig func(interface{})) {
		panicFn = orig
	}(panicFn)

	var got interface{}
	panicFn = func(e interface{}) { got = e }

	env := newTestEnv(t, buildImage(t, func(a *rvasm.Assembler) { a.Ebreak() }))

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	env.enterUser(t)
	env.handler.Handle()

	if got != errUnsupportedTrap {
		t.Fatalf("expected errUnsupportedTrap; got %v", got)
	}
	if exp := "[kernel] Unsupported trap Breakpoint, stval = 0x10000!\nRegisters:\n"; !strings.HasPrefix(buf.String(), exp) {
		t.Fatalf("expected output to start with %q; got %q", exp, buf.String())
	}
	if exp := "SEPC    = 0000000000010000"; !strings.Contains(buf.String(), exp) {
		t.Fatalf("expected the saved registers to be dumped; got %q", buf.String())
	}

	buf.Reset()
	got = nil
	env.handler.TrapFromKernel()
	if got != errTrapFromKernel {
		t.Fatalf("expected errTrapFromKernel; got %v", got)
	}
	if exp := fmt.Sprintf("satp = 0x%x\nRegisters:\n", env.kernelSpace.Token()); !strings.Contains(buf.String(), exp) {
		t.Fatalf("expected output to contain %q; got %q", exp, buf.String())
	}
}

func TestAllTrapsOutsideTrampoline(t *testing.T) {
	hart := cpu.NewHart(nil, 1)
	hart.PC = gate.TrapHandlerEntry

	if err := AllTraps(hart); err != errNotAtTrampoline {
		t.Fatalf("expected errNotAtTrampoline; got %v", err)
	}
}

func TestRestoreWithoutTrampoline(t *testing.T) {
	mem := mm.NewPhysMem(testTextBase, 16*mm.PageSize)
	alloc := pmm.NewFrameAllocator(mem, testTextBase.Floor(), testTextBase.Floor()+16)
	bare, err := vmm.NewBare(alloc)
	if err != nil {
		t.Fatal(err)
	}

	hart := cpu.NewHart(mem, 1)
	if err := Restore(hart, vmm.TrapContextAddr, bare.Token()); err != errTrampolineNotMapped {
		t.Fatalf("expected errTrampolineNotMapped; got %v", err)
	}
}
