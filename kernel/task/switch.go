package task

import (
	"gopherv/kernel/cpu"
	"gopherv/kernel/gate"
)

// Switch saves the kernel register file of the hart into current and
// installs next in its place. Only ra, sp and s0..s11 are exchanged: the
// user registers and the active address space are left untouched.
//
// Switch returns to its caller straight away; the switched-in thread
// continues at next.RA once the caller unwinds back to the kernel loop.
// Callers must not touch state of the switched-out task after the call.
func Switch(hart *cpu.Hart, current, next *TaskContext) {
	*current = TaskContext(hart.Kernel)
	hart.Kernel = cpu.KernelRegs(*next)
}

// switchFromTask switches away from a task that is executing its trap
// handler. The task resumes where the handler called into the scheduler.
func switchFromTask(hart *cpu.Hart, current, next *TaskContext) {
	hart.Kernel.RA = gate.SwitchReturnEntry
	Switch(hart, current, next)
}
