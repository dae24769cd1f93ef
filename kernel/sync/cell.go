package sync

import (
	"gopherv/kernel"
	"gopherv/kernel/kfmt"
)

var (
	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic

	errReentrantAccess = &kernel.Error{Module: "sync", Message: "re-entrant access to exclusive cell"}
)

// Cell guards a piece of kernel-wide state. The kernel runs on one hart with
// traps masked while a cell is borrowed, so a second borrow while the first
// one is outstanding can only be a kernel bug: it halts the system instead of
// waiting.
type Cell[T any] struct {
	lock  Spinlock
	value T
}

// NewCell returns a cell that owns v.
func NewCell[T any](v T) *Cell[T] {
	return &Cell[T]{value: v}
}

// Borrow grants exclusive access to the guarded value. The returned release
// function must be called exactly once when the caller is done.
func (c *Cell[T]) Borrow() (*T, func()) {
	if !c.lock.TryToAcquire() {
		panicFn(errReentrantAccess)
	}

	return &c.value, c.lock.Release
}

// Exclusive invokes fn while holding exclusive access to the guarded value.
// Access is released even if fn panics.
func (c *Cell[T]) Exclusive(fn func(*T)) {
	v, release := c.Borrow()
	defer release()
	fn(v)
}
