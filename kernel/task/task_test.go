package task

import (
	"gopherv/kernel/cpu"
	"gopherv/kernel/gate"
	"gopherv/kernel/mm"
	"gopherv/kernel/mm/pmm"
	"gopherv/kernel/mm/vmm"
	"gopherv/userland/rvasm"
	"testing"
)

const (
	testRAMBase    = mm.PhysAddr(0x80000000)
	testTrampoline = mm.Frame(0x80000)
)

type testEnv struct {
	alloc       *pmm.FrameAllocator
	kernelSpace *vmm.MemorySet
	hart        *cpu.Hart
}

func newTestEnv(t *testing.T, frames uint64) *testEnv {
	mem := mm.NewPhysMem(testRAMBase, frames*mm.PageSize)

	// frame 0 plays the role of the trampoline page
	alloc := pmm.NewFrameAllocator(mem, testRAMBase.Floor()+1, testRAMBase.Floor()+mm.Frame(frames))
	kernelSpace, err := vmm.NewBare(alloc)
	if err != nil {
		t.Fatal(err)
	}

	return &testEnv{
		alloc:       alloc,
		kernelSpace: kernelSpace,
		hart:        cpu.NewHart(mem, 1),
	}
}

func yieldImage(t *testing.T) []byte {
	a := rvasm.New()
	a.Label("_start")
	a.Li(rvasm.A7, 124)
	a.Ecall()
	a.J("_start")

	img, err := a.Build(rvasm.DefaultTextBase)
	if err != nil {
		t.Fatal(err)
	}
	return img.Bytes()
}

func (env *testEnv) newTasks(t *testing.T, count int) []*ControlBlock {
	tasks := make([]*ControlBlock, count)
	for slot := range tasks {
		tcb, err := NewControlBlock(env.alloc, env.kernelSpace, testTrampoline, yieldImage(t), slot)
		if err != nil {
			t.Fatalf("slot %d: %v", slot, err)
		}
		tasks[slot] = tcb
	}
	return tasks
}

func TestNewControlBlock(t *testing.T) {
	env := newTestEnv(t, 128)
	tcb := env.newTasks(t, 2)[1]

	_, expTop := vmm.KernelStackPosition(1)
	if tcb.Status != Ready {
		t.Fatalf("expected a new task to be Ready; got %s", tcb.Status)
	}
	if exp := GotoTrapReturn(expTop); tcb.Context != exp {
		t.Fatalf("expected context %+v; got %+v", exp, tcb.Context)
	}

	if _, err := env.kernelSpace.Translate(mm.VirtAddrFrom(expTop - 1).Floor()); err != nil {
		t.Fatalf("expected the kernel stack to be mapped in the kernel space; got %v", err)
	}

	ctx := tcb.TrapContext().Load()
	if ctx.Sepc != rvasm.DefaultTextBase {
		t.Errorf("expected sepc 0x%x; got 0x%x", rvasm.DefaultTextBase, ctx.Sepc)
	}
	if ctx.X[cpu.RegSP] != tcb.BaseSize {
		t.Errorf("expected sp 0x%x; got 0x%x", tcb.BaseSize, ctx.X[cpu.RegSP])
	}
	if ctx.KernelSatp != env.kernelSpace.Token() || ctx.KernelSP != expTop || ctx.TrapHandler != gate.TrapHandlerEntry {
		t.Errorf("unexpected kernel fields in trap context %+v", ctx)
	}

	pte, err := tcb.MemorySet.Translate(mm.VirtAddrFrom(vmm.TrapContextAddr).Floor())
	if err != nil || pte.Frame() != tcb.TrapContextFrame {
		t.Fatalf("expected the trap context frame to back TrapContextAddr; got %v", err)
	}
}

func TestNewControlBlockBadImage(t *testing.T) {
	env := newTestEnv(t, 64)
	before := env.alloc.Stats()

	if _, err := NewControlBlock(env.alloc, env.kernelSpace, testTrampoline, []byte("not an elf"), 0); err == nil {
		t.Fatal("expected loading a malformed image to fail")
	}

	if after := env.alloc.Stats(); after.Allocated != before.Allocated {
		t.Fatalf("expected no frames to leak; allocated %d -> %d", before.Allocated, after.Allocated)
	}
}

func TestDestroyControlBlock(t *testing.T) {
	env := newTestEnv(t, 128)

	tcb := env.newTasks(t, 1)[0]
	if err := tcb.Destroy(env.kernelSpace); err != nil {
		t.Fatal(err)
	}
	if tcb.MemorySet != nil || tcb.Status != Exited {
		t.Fatal("expected the address space to be released")
	}

	_, top := vmm.KernelStackPosition(0)
	if _, err := env.kernelSpace.Translate(mm.VirtAddrFrom(top - 1).Floor()); err != vmm.ErrNotMapped {
		t.Fatalf("expected the kernel stack to be unmapped; got %v", err)
	}

	// the kernel space keeps its intermediate tables; everything else
	// comes back
	afterFirst := env.alloc.Stats().Allocated
	if err := env.newTasks(t, 1)[0].Destroy(env.kernelSpace); err != nil {
		t.Fatal(err)
	}
	if got := env.alloc.Stats().Allocated; got != afterFirst {
		t.Fatalf("expected %d allocated frames after destroying a second task; got %d", afterFirst, got)
	}
}

func TestRoundRobin(t *testing.T) {
	env := newTestEnv(t, 256)
	m := NewManager(env.hart, env.newTasks(t, 3))

	boot := cpu.KernelRegs{RA: gate.BootReturnEntry, SP: 0x80210000}
	env.hart.Kernel = boot

	if err := m.RunFirstTask(); err != nil {
		t.Fatal(err)
	}
	if m.CurrentSlot() != 0 || m.Status(0) != Running {
		t.Fatalf("expected slot 0 to run first; got slot %d (%s)", m.CurrentSlot(), m.Status(0))
	}
	if env.hart.Kernel.RA != gate.TrapReturnEntry {
		t.Fatalf("expected the first task to start at the trap return entry; got 0x%x", env.hart.Kernel.RA)
	}

	for _, exp := range []int{1, 2, 0, 1} {
		if err := m.SuspendCurrentAndRunNext(); err != nil {
			t.Fatal(err)
		}
		if got := m.CurrentSlot(); got != exp {
			t.Fatalf("expected slot %d to run next; got %d", exp, got)
		}
	}

	if got := m.Task(0).Context.RA; got != gate.SwitchReturnEntry {
		t.Fatalf("expected a suspended task to resume at the switch return entry; got 0x%x", got)
	}
	_, top := vmm.KernelStackPosition(1)
	if env.hart.Kernel.SP != top {
		t.Fatalf("expected the kernel stack of slot 1 to be active; got 0x%x", env.hart.Kernel.SP)
	}

	// slot 1 exits: 2 and 0 remain
	if err := m.ExitCurrentAndRunNext(); err != nil {
		t.Fatal(err)
	}
	if m.Status(1) != Exited || m.CurrentSlot() != 2 {
		t.Fatalf("expected slot 2 after slot 1 exited; got %d", m.CurrentSlot())
	}
	if err := m.SuspendCurrentAndRunNext(); err != nil || m.CurrentSlot() != 0 {
		t.Fatalf("expected exited slot 1 to be skipped; got slot %d (%v)", m.CurrentSlot(), err)
	}

	if err := m.ExitCurrentAndRunNext(); err != nil || m.CurrentSlot() != 2 {
		t.Fatalf("expected slot 2; got %d (%v)", m.CurrentSlot(), err)
	}
	if err := m.ExitCurrentAndRunNext(); err != ErrNoRunnableTask {
		t.Fatalf("expected ErrNoRunnableTask; got %v", err)
	}
	if env.hart.Kernel != boot {
		t.Fatalf("expected the hart to return to the boot thread; got %+v", env.hart.Kernel)
	}
}

func TestYieldWithSingleTask(t *testing.T) {
	env := newTestEnv(t, 64)
	m := NewManager(env.hart, env.newTasks(t, 1))

	if err := m.RunFirstTask(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := m.SuspendCurrentAndRunNext(); err != nil {
			t.Fatal(err)
		}
		if m.CurrentSlot() != 0 || m.Status(0) != Running {
			t.Fatalf("expected the only task to keep running; got %s", m.Status(0))
		}
		if env.hart.Kernel.RA != gate.SwitchReturnEntry {
			t.Fatalf("expected the task to resume at the switch return entry; got 0x%x", env.hart.Kernel.RA)
		}
	}
}

func TestExitReleasesAddressSpace(t *testing.T) {
	env := newTestEnv(t, 64)
	before := env.alloc.Stats()

	tasks := env.newTasks(t, 1)
	m := NewManager(env.hart, tasks)
	loaded := env.alloc.Stats()

	if err := m.RunFirstTask(); err != nil {
		t.Fatal(err)
	}
	trapFrame := tasks[0].TrapContextFrame

	if err := m.ExitCurrentAndRunNext(); err != ErrNoRunnableTask {
		t.Fatalf("expected ErrNoRunnableTask; got %v", err)
	}

	if tasks[0].MemorySet != nil {
		t.Fatal("expected the address space of an exited task to be dropped")
	}
	if env.alloc.Live(trapFrame) {
		t.Fatal("expected the trap context frame to be released")
	}

	// only the kernel stack and the kernel page-table nodes stay allocated
	after := env.alloc.Stats()
	stackFrames := vmm.KernelStackSize / mm.PageSize
	if after.Allocated >= loaded.Allocated || after.Allocated < before.Allocated+stackFrames {
		t.Fatalf("unexpected allocation count: before %d, loaded %d, after %d", before.Allocated, loaded.Allocated, after.Allocated)
	}
}

func TestCurrentOfExitedTask(t *testing.T) {
	defer func(orig func(interface{})) {
		panicFn = orig
	}(panicFn)

	var got interface{}
	panicFn = func(e interface{}) {
		got = e
	}

	env := newTestEnv(t, 64)
	m := NewManager(env.hart, env.newTasks(t, 1))
	if err := m.RunFirstTask(); err != nil {
		t.Fatal(err)
	}
	m.MarkCurrentExited()

	m.CurrentTrapContext()
	if got != errCurrentExited {
		t.Fatalf("expected errCurrentExited; got %v", got)
	}
}

func TestRunFirstTaskWithoutTasks(t *testing.T) {
	m := NewManager(cpu.NewHart(nil, 1), nil)
	if err := m.RunFirstTask(); err != ErrNoRunnableTask {
		t.Fatalf("expected ErrNoRunnableTask; got %v", err)
	}
}

func TestStatusString(t *testing.T) {
	specs := map[Status]string{
		UnInit:     "uninit",
		Ready:      "ready",
		Running:    "running",
		Exited:     "exited",
		Status(42): "unknown",
	}
	for status, exp := range specs {
		if got := status.String(); got != exp {
			t.Errorf("expected %q; got %q", exp, got)
		}
	}
}
