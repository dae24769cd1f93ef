// Package pmm manages the physical frames that are not occupied by the
// kernel image.
package pmm

import (
	"gopherv/kernel"
	"gopherv/kernel/mm"
)

var (
	errOutOfMemory       = &kernel.Error{Module: "pmm", Message: "out of physical frames"}
	errFrameNotAllocated = &kernel.Error{Module: "pmm", Message: "frame has not been allocated"}
	errFrameAlreadyFree  = &kernel.Error{Module: "pmm", Message: "frame has already been recycled"}
)

// Stats summarizes the state of a frame allocator.
type Stats struct {
	// Total is the number of frames managed by the allocator.
	Total uint64

	// Allocated is the number of frames currently handed out.
	Allocated uint64

	// Recycled is the number of frames that were handed out, returned and
	// are now waiting to be reused.
	Recycled uint64
}

// Free returns the number of frames that can still be allocated.
func (s Stats) Free() uint64 {
	return s.Total - s.Allocated
}

// StackAllocator hands out frames from the range [start, end). Returned
// frames are pushed to a recycle stack and are preferred (most recently
// freed first) over frames that have never been used.
type StackAllocator struct {
	start mm.Frame

	// current is the lowest frame that has never been handed out.
	current mm.Frame
	end     mm.Frame

	recycled []mm.Frame
}

// Init resets the allocator so that it manages the frames [low, high).
func (alloc *StackAllocator) Init(low, high mm.Frame) {
	if high < low {
		high = low
	}

	alloc.start = low
	alloc.current = low
	alloc.end = high
	alloc.recycled = alloc.recycled[:0]
}

// Alloc reserves a frame.
func (alloc *StackAllocator) Alloc() (mm.Frame, *kernel.Error) {
	if n := len(alloc.recycled); n != 0 {
		frame := alloc.recycled[n-1]
		alloc.recycled = alloc.recycled[:n-1]
		return frame, nil
	}

	if alloc.current == alloc.end {
		return mm.InvalidFrame, errOutOfMemory
	}

	frame := alloc.current
	alloc.current++
	return frame, nil
}

// Dealloc returns a frame previously obtained via Alloc. It fails if the
// frame was never handed out or if it has already been returned.
func (alloc *StackAllocator) Dealloc(frame mm.Frame) *kernel.Error {
	if frame < alloc.start || frame >= alloc.current {
		return errFrameNotAllocated
	}

	for _, recycled := range alloc.recycled {
		if recycled == frame {
			return errFrameAlreadyFree
		}
	}

	alloc.recycled = append(alloc.recycled, frame)
	return nil
}

// Stats returns a snapshot of the allocator usage.
func (alloc *StackAllocator) Stats() Stats {
	used := uint64(alloc.current - alloc.start)
	return Stats{
		Total:     uint64(alloc.end - alloc.start),
		Allocated: used - uint64(len(alloc.recycled)),
		Recycled:  uint64(len(alloc.recycled)),
	}
}

// Live reports whether frame is currently handed out.
func (alloc *StackAllocator) Live(frame mm.Frame) bool {
	if frame < alloc.start || frame >= alloc.current {
		return false
	}

	for _, recycled := range alloc.recycled {
		if recycled == frame {
			return false
		}
	}
	return true
}
