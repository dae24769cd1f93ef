package mm

import "gopherv/kernel"

// FrameAllocator is implemented by physical frame allocators. Every frame
// returned by AllocFrame is zero-filled and owned by the returned tracker.
type FrameAllocator interface {
	AllocFrame() (*FrameTracker, *kernel.Error)

	// PhysMem returns the RAM the allocated frames live in.
	PhysMem() *PhysMem
}

// FrameDeallocator returns a frame to the allocator it was obtained from.
type FrameDeallocator interface {
	DeallocFrame(Frame)
}

// FrameTracker is the ownership handle for exactly one physical frame. The
// frame goes back to its allocator the first time Release is called; owners
// are expected to defer Release on every path that drops the tracker.
type FrameTracker struct {
	Frame Frame

	owner    FrameDeallocator
	mem      *PhysMem
	released bool
}

// NewFrameTracker wraps a frame handed out by owner.
func NewFrameTracker(frame Frame, owner FrameDeallocator, mem *PhysMem) *FrameTracker {
	return &FrameTracker{Frame: frame, owner: owner, mem: mem}
}

// Bytes returns the contents of the tracked frame.
func (ft *FrameTracker) Bytes() []byte {
	if ft.released {
		return nil
	}
	return ft.mem.FrameBytes(ft.Frame)
}

// Release returns the frame to its allocator. Subsequent calls are no-ops.
func (ft *FrameTracker) Release() {
	if ft == nil || ft.released {
		return
	}

	ft.released = true
	if ft.owner != nil {
		ft.owner.DeallocFrame(ft.Frame)
	}
}

// Released returns true once the frame has been given back.
func (ft *FrameTracker) Released() bool {
	return ft.released
}
