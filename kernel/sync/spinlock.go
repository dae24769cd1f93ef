// Package sync provides the spinlock and the exclusive-access cells guarding
// kernel-wide state.
package sync

import "sync/atomic"

// Spinlock is a lock word that is either free or held. The kernel runs on a
// single hart so it never spins: a held lock can only be released by its
// holder.
type Spinlock struct {
	state uint32
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
