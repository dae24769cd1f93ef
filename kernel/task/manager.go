// Package task implements the task control blocks and the round-robin
// scheduler that multiplexes them on the hart.
package task

import (
	"gopherv/kernel"
	"gopherv/kernel/cpu"
	"gopherv/kernel/gate"
	"gopherv/kernel/kfmt"
	"gopherv/kernel/sync"
)

var (
	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic

	// ErrNoRunnableTask is returned when no task is left in the Ready state.
	ErrNoRunnableTask = &kernel.Error{Module: "task", Message: "no runnable task"}

	errCurrentExited = &kernel.Error{Module: "task", Message: "current task has exited"}
)

// Manager owns every task and tracks which one is running. It is the only
// code that changes the current task or the status of a task.
type Manager struct {
	hart  *cpu.Hart
	inner *sync.Cell[managerInner]
}

type managerInner struct {
	tasks   []*ControlBlock
	current int

	// idle holds the kernel thread that started the first task. The hart
	// returns to it once no task is runnable.
	idle TaskContext
}

// NewManager returns a manager that schedules tasks on hart.
func NewManager(hart *cpu.Hart, tasks []*ControlBlock) *Manager {
	return &Manager{
		hart:  hart,
		inner: sync.NewCell(managerInner{tasks: tasks}),
	}
}

// NumTasks returns the number of tasks owned by the manager.
func (m *Manager) NumTasks() int {
	var n int
	m.inner.Exclusive(func(inner *managerInner) {
		n = len(inner.tasks)
	})
	return n
}

// Status returns the status of the task in the supplied slot.
func (m *Manager) Status(slot int) Status {
	var status Status
	m.inner.Exclusive(func(inner *managerInner) {
		status = inner.tasks[slot].Status
	})
	return status
}

// Task returns the control block in the supplied slot.
func (m *Manager) Task(slot int) *ControlBlock {
	var tcb *ControlBlock
	m.inner.Exclusive(func(inner *managerInner) {
		tcb = inner.tasks[slot]
	})
	return tcb
}

// CurrentSlot returns the slot of the running task.
func (m *Manager) CurrentSlot() int {
	var slot int
	m.inner.Exclusive(func(inner *managerInner) {
		slot = inner.current
	})
	return slot
}

// CurrentUserToken returns the satp value of the running task.
func (m *Manager) CurrentUserToken() uint64 {
	tcb := m.current()
	return tcb.UserToken()
}

// CurrentTrapContext returns the TrapContext of the running task.
func (m *Manager) CurrentTrapContext() gate.ContextFrame {
	tcb := m.current()
	return tcb.TrapContext()
}

// RunFirstTask switches from the calling kernel thread to the task in slot
// 0. The caller resumes once every task has stopped being runnable.
func (m *Manager) RunFirstTask() *kernel.Error {
	inner, release := m.inner.Borrow()
	if len(inner.tasks) == 0 {
		release()
		return ErrNoRunnableTask
	}

	first := inner.tasks[0]
	first.Status = Running
	inner.current = 0
	idle, next := &inner.idle, &first.Context
	release()

	Switch(m.hart, idle, next)
	return nil
}

// RunNextTask switches to the next Ready task, scanning round-robin from the
// slot after the current one. If no task is Ready the hart goes back to the
// kernel thread that called RunFirstTask and ErrNoRunnableTask is returned.
func (m *Manager) RunNextTask() *kernel.Error {
	inner, release := m.inner.Borrow()

	last := &inner.tasks[inner.current].Context
	nextSlot, found := inner.findNext()
	if !found {
		idle := &inner.idle
		release()

		switchFromTask(m.hart, last, idle)
		return ErrNoRunnableTask
	}

	next := inner.tasks[nextSlot]
	next.Status = Running
	inner.current = nextSlot
	release()

	switchFromTask(m.hart, last, &next.Context)
	return nil
}

// MarkCurrentSuspended moves the running task back to the Ready state.
func (m *Manager) MarkCurrentSuspended() {
	m.inner.Exclusive(func(inner *managerInner) {
		inner.tasks[inner.current].Status = Ready
	})
}

// MarkCurrentExited moves the running task to the Exited state and releases
// its address space.
func (m *Manager) MarkCurrentExited() {
	m.inner.Exclusive(func(inner *managerInner) {
		tcb := inner.tasks[inner.current]
		tcb.Status = Exited
		tcb.release()
	})
}

// SuspendCurrentAndRunNext gives up the hart on behalf of the running task.
func (m *Manager) SuspendCurrentAndRunNext() *kernel.Error {
	m.MarkCurrentSuspended()
	return m.RunNextTask()
}

// ExitCurrentAndRunNext terminates the running task and switches to the
// next runnable one.
func (m *Manager) ExitCurrentAndRunNext() *kernel.Error {
	m.MarkCurrentExited()
	return m.RunNextTask()
}

func (m *Manager) current() *ControlBlock {
	var tcb *ControlBlock
	m.inner.Exclusive(func(inner *managerInner) {
		tcb = inner.tasks[inner.current]
	})

	if tcb.Status == Exited {
		panicFn(errCurrentExited)
	}
	return tcb
}

// findNext returns the first Ready slot after the current one, wrapping
// around so that the current task is considered last.
func (inner *managerInner) findNext() (int, bool) {
	n := len(inner.tasks)
	for i := 1; i <= n; i++ {
		slot := (inner.current + i) % n
		if inner.tasks[slot].Status == Ready {
			return slot, true
		}
	}
	return 0, false
}
