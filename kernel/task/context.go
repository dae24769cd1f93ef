package task

import "gopherv/kernel/gate"

// TaskContext is the kernel register file of a suspended task: the address
// the task resumes at, its kernel stack pointer and the callee-saved
// registers s0..s11.
type TaskContext struct {
	RA uint64
	SP uint64
	S  [12]uint64
}

// GotoTrapReturn returns the context of a task that has never run. Once
// switched in, the task returns to user mode through the trap return path
// using the kernel stack that ends at kstackTop.
func GotoTrapReturn(kstackTop uint64) TaskContext {
	return TaskContext{
		RA: gate.TrapReturnEntry,
		SP: kstackTop,
	}
}
