package kmain

import (
	"gopherv/kernel/gate"
	"gopherv/kernel/mm"
	"gopherv/kernel/mm/vmm"
	"gopherv/kernel/task"
)

// FrameOwner classifies the user of a physical frame.
type FrameOwner uint8

// The frame owners reported by FrameMap.
const (
	OwnerFree FrameOwner = iota
	OwnerFirmware
	OwnerKernelImage
	OwnerKernelPageTable
	OwnerKernelStack
	OwnerUserPageTable
	OwnerUserMemory
	OwnerTrapContext

	// NumFrameOwners is the number of distinct owners.
	NumFrameOwners
)

// String implements fmt.Stringer for FrameOwner.
func (o FrameOwner) String() string {
	switch o {
	case OwnerFree:
		return "free"
	case OwnerFirmware:
		return "firmware"
	case OwnerKernelImage:
		return "kernel image"
	case OwnerKernelPageTable:
		return "kernel page table"
	case OwnerKernelStack:
		return "kernel stack"
	case OwnerUserPageTable:
		return "user page table"
	case OwnerUserMemory:
		return "user memory"
	case OwnerTrapContext:
		return "trap context"
	}
	return "unknown"
}

// FrameMap returns the owner of every frame of RAM, in physical address
// order.
func (k *Kernel) FrameMap() []FrameOwner {
	var (
		mem    = k.machine.Mem
		base   = mem.Base().Floor()
		owners = make([]FrameOwner, mem.End().Floor()-base)
		text   = mm.PhysAddrFrom(gate.KernelTextBase).Floor()
		kend   = k.machine.Layout.KernelEnd.Ceil()
	)

	mark := func(frames []mm.Frame, owner FrameOwner) {
		for _, frame := range frames {
			if frame >= base && int(frame-base) < len(owners) {
				owners[frame-base] = owner
			}
		}
	}

	for frame := base; frame < kend && int(frame-base) < len(owners); frame++ {
		if frame < text {
			owners[frame-base] = OwnerFirmware
		} else {
			owners[frame-base] = OwnerKernelImage
		}
	}

	k.kernelSpace.Exclusive(func(ks **vmm.MemorySet) {
		mark((*ks).PageTable().Frames(), OwnerKernelPageTable)
		for _, area := range (*ks).Areas() {
			mark(area.Frames(), OwnerKernelStack)
		}
	})

	for slot := 0; slot < k.tasks.NumTasks(); slot++ {
		tcb := k.tasks.Task(slot)
		if tcb.Status == task.Exited || tcb.MemorySet == nil {
			continue
		}

		mark(tcb.MemorySet.PageTable().Frames(), OwnerUserPageTable)
		for _, area := range tcb.MemorySet.Areas() {
			mark(area.Frames(), OwnerUserMemory)
		}
		mark([]mm.Frame{tcb.TrapContextFrame}, OwnerTrapContext)
	}

	return owners
}
