// Package trap handles the transitions between user and supervisor mode:
// the trampoline that saves and restores user state and the handler that
// services system calls, faults and timer interrupts.
package trap

import (
	"gopherv/kernel"
	"gopherv/kernel/cpu"
	"gopherv/kernel/gate"
	"gopherv/kernel/kfmt"
	"gopherv/kernel/mm/vmm"
	"gopherv/kernel/syscall"
	"gopherv/kernel/task"
	"gopherv/kernel/timer"
)

var (
	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic

	errUnsupportedTrap = &kernel.Error{Module: "trap", Message: "unsupported trap"}
	errTrapFromKernel  = &kernel.Error{Module: "trap", Message: "a trap from kernel"}
)

// Init directs every trap to the trampoline.
func Init(hart *cpu.Hart) {
	hart.Stvec = vmm.Trampoline
}

// EnableTimerInterrupt unmasks the supervisor timer interrupt.
func EnableTimerInterrupt(hart *cpu.Hart) {
	hart.Sie |= cpu.SieSTIE
}

// Handler services the traps raised by applications.
type Handler struct {
	hart     *cpu.Hart
	tasks    *task.Manager
	syscalls *syscall.Table
	timer    *timer.Timer
}

// NewHandler returns a trap handler for the tasks run by the supplied
// manager.
func NewHandler(hart *cpu.Hart, tasks *task.Manager, syscalls *syscall.Table, timer *timer.Timer) *Handler {
	return &Handler{
		hart:     hart,
		tasks:    tasks,
		syscalls: syscalls,
		timer:    timer,
	}
}

// Handle services the trap recorded in scause and stval. The current task
// may be switched out while the trap is handled; the kernel register file
// of the hart then describes the thread that runs next.
func (h *Handler) Handle() {
	h.hart.Stvec = gate.TrapFromKernelEntry

	frame := h.tasks.CurrentTrapContext()
	scause, stval := h.hart.Scause, h.hart.Stval

	switch scause {
	case cpu.CauseEcallFromU:
		frame.SetSepc(frame.Sepc() + 4)
		args := [3]uint64{frame.Reg(cpu.RegA0), frame.Reg(cpu.RegA1), frame.Reg(cpu.RegA2)}
		if ret, resumes := h.syscalls.Dispatch(frame.Reg(cpu.RegA7), args); resumes {
			frame.SetReg(cpu.RegA0, uint64(ret))
		}
	case cpu.CauseStoreAccessFault, cpu.CauseStorePageFault:
		kfmt.Printf("[kernel] PageFault in application, kernel killed it.\n")
		_ = h.tasks.ExitCurrentAndRunNext()
	case cpu.CauseIllegalInsn:
		kfmt.Printf("[kernel] IllegalInstruction in application, kernel killed it.\n")
		_ = h.tasks.ExitCurrentAndRunNext()
	case cpu.CauseSTimerInt:
		h.timer.SetNextTrigger()
		_ = h.tasks.SuspendCurrentAndRunNext()
	default:
		kfmt.Printf("[kernel] Unsupported trap %s, stval = 0x%x!\n", cpu.CauseName(scause), stval)
		dumpContext(frame)
		panicFn(errUnsupportedTrap)
	}
}

// TrapFromKernel handles a trap taken while the kernel itself was running.
// The registers dumped are the last ones saved for the current task.
func (h *Handler) TrapFromKernel() {
	kfmt.Printf("[kernel] trap from kernel: %s, stval = 0x%x, satp = 0x%x\n", cpu.CauseName(h.hart.Scause), h.hart.Stval, h.hart.ActiveSATP())
	dumpContext(h.tasks.CurrentTrapContext())
	panicFn(errTrapFromKernel)
}

func dumpContext(frame gate.ContextFrame) {
	ctx := frame.Load()
	kfmt.Printf("Registers:\n")
	ctx.DumpTo(kfmt.GetOutputSink())
}

// TrapReturn resumes the current task in user mode.
func (h *Handler) TrapReturn() *kernel.Error {
	h.hart.Stvec = vmm.Trampoline
	return Restore(h.hart, vmm.TrapContextAddr, h.tasks.CurrentUserToken())
}
