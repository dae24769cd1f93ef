package pmm

import (
	"gopherv/kernel"
	"gopherv/kernel/kfmt"
	"gopherv/kernel/mm"
	"gopherv/kernel/sync"
)

var (
	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic

	errFrameOutsideRAM = &kernel.Error{Module: "pmm", Message: "allocated frame lies outside physical memory"}
)

// FrameAllocator is the kernel-wide frame allocator. It guards a
// StackAllocator behind an exclusive-access cell, zero-fills every frame it
// hands out and wraps it in a FrameTracker that returns it on release.
type FrameAllocator struct {
	mem   *mm.PhysMem
	stack *sync.Cell[StackAllocator]
}

// NewFrameAllocator returns an allocator that manages the frames [low, high)
// of mem.
func NewFrameAllocator(mem *mm.PhysMem, low, high mm.Frame) *FrameAllocator {
	fa := &FrameAllocator{
		mem:   mem,
		stack: sync.NewCell(StackAllocator{}),
	}
	fa.stack.Exclusive(func(alloc *StackAllocator) {
		alloc.Init(low, high)
	})

	return fa
}

// AllocFrame reserves a zero-filled frame.
func (fa *FrameAllocator) AllocFrame() (*mm.FrameTracker, *kernel.Error) {
	var (
		frame mm.Frame
		err   *kernel.Error
	)

	fa.stack.Exclusive(func(alloc *StackAllocator) {
		frame, err = alloc.Alloc()
	})
	if err != nil {
		return nil, err
	}

	contents := fa.mem.FrameBytes(frame)
	if contents == nil {
		return nil, errFrameOutsideRAM
	}
	kernel.Memset(contents, 0)

	return mm.NewFrameTracker(frame, fa, fa.mem), nil
}

// DeallocFrame returns a frame to the allocator. Returning a frame that is
// not currently allocated is a kernel bug and halts the system.
func (fa *FrameAllocator) DeallocFrame(frame mm.Frame) {
	var err *kernel.Error
	fa.stack.Exclusive(func(alloc *StackAllocator) {
		err = alloc.Dealloc(frame)
	})

	if err != nil {
		panicFn(err)
	}
}

// PhysMem returns the RAM that allocated frames live in.
func (fa *FrameAllocator) PhysMem() *mm.PhysMem {
	return fa.mem
}

// Stats returns a snapshot of the allocator usage.
func (fa *FrameAllocator) Stats() Stats {
	var stats Stats
	fa.stack.Exclusive(func(alloc *StackAllocator) {
		stats = alloc.Stats()
	})
	return stats
}

// Live reports whether frame is currently handed out.
func (fa *FrameAllocator) Live(frame mm.Frame) bool {
	var live bool
	fa.stack.Exclusive(func(alloc *StackAllocator) {
		live = alloc.Live(frame)
	})
	return live
}
