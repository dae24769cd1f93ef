// Package syscall implements the system calls available to applications.
package syscall

import (
	"gopherv/kernel"
	"gopherv/kernel/kfmt"
	"gopherv/kernel/mm"
	"gopherv/kernel/mm/vmm"
	"gopherv/kernel/task"
	"gopherv/kernel/timer"
)

// System call numbers.
const (
	SysWrite   = 64
	SysExit    = 93
	SysYield   = 124
	SysGetTime = 169
)

const fdStdout = 1

var (
	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic

	errUnsupportedFD  = &kernel.Error{Module: "syscall", Message: "unsupported fd in sys_write"}
	errUnknownSyscall = &kernel.Error{Module: "syscall", Message: "unknown syscall id"}
)

// Table dispatches system calls on behalf of the running task.
type Table struct {
	tasks *task.Manager
	timer *timer.Timer
	mem   *mm.PhysMem
}

// NewTable returns a system call table bound to the supplied scheduler,
// timer and physical memory.
func NewTable(tasks *task.Manager, timer *timer.Timer, mem *mm.PhysMem) *Table {
	return &Table{tasks: tasks, timer: timer, mem: mem}
}

// Dispatch executes system call id with the supplied arguments. It returns
// the value for the caller's a0 register and whether the calling task will
// ever resume; no value must be stored for a task that does not.
func (t *Table) Dispatch(id uint64, args [3]uint64) (int64, bool) {
	switch id {
	case SysWrite:
		return t.sysWrite(args[0], args[1], args[2]), true
	case SysExit:
		t.sysExit(int32(args[0]))
		return 0, false
	case SysYield:
		return t.sysYield(), true
	case SysGetTime:
		return t.sysGetTime(), true
	}

	kfmt.Printf("[kernel] unknown syscall_id: %d\n", id)
	panicFn(errUnknownSyscall)
	return -1, true
}

// sysWrite writes the user buffer at va to the console. Only stdout is
// supported. A buffer that is not mapped in the caller's address space or
// that reaches outside the user half yields -1.
func (t *Table) sysWrite(fd, va, n uint64) int64 {
	if fd != fdStdout {
		panicFn(errUnsupportedFD)
		return -1
	}

	buffers, err := vmm.TranslatedByteBuffer(t.tasks.CurrentUserToken(), t.mem, va, n)
	if err != nil {
		return -1
	}

	for _, buf := range buffers {
		kfmt.Printf("%s", buf)
	}
	return int64(n)
}

func (t *Table) sysExit(code int32) {
	kfmt.Printf("[kernel] Application exited with code %d\n", code)

	// When no task is left the hart goes back to the boot thread; the
	// kernel loop notices that on its own.
	_ = t.tasks.ExitCurrentAndRunNext()
}

func (t *Table) sysYield() int64 {
	_ = t.tasks.SuspendCurrentAndRunNext()
	return 0
}

func (t *Table) sysGetTime() int64 {
	return int64(t.timer.GetTimeMs())
}
