package task

import (
	"gopherv/kernel"
	"gopherv/kernel/gate"
	"gopherv/kernel/mm"
	"gopherv/kernel/mm/vmm"
)

// Status describes the scheduling state of a task.
type Status uint8

// The states a task moves through: UnInit -> Ready -> Running -> Ready or
// Exited.
const (
	UnInit Status = iota
	Ready
	Running
	Exited
)

// String implements fmt.Stringer for Status.
func (s Status) String() string {
	switch s {
	case UnInit:
		return "uninit"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Exited:
		return "exited"
	}
	return "unknown"
}

// ControlBlock holds the state the kernel keeps for each task.
type ControlBlock struct {
	Status Status

	// Context is the kernel register file saved when the task was last
	// switched out.
	Context TaskContext

	// MemorySet is the address space of the task. It is released as soon
	// as the task exits.
	MemorySet *vmm.MemorySet

	// TrapContextFrame is the physical frame backing the TrapContext page.
	TrapContextFrame mm.Frame

	// BaseSize is the size of the user address space below the top of the
	// user stack.
	BaseSize uint64

	// KernelStackTop is the top of the kernel stack mapped for the task in
	// the kernel address space.
	KernelStackTop uint64

	mem *mm.PhysMem
}

// NewControlBlock loads the ELF image in data into a new address space, maps
// a kernel stack for the task slot into kernelSpace and prepares the
// TrapContext that starts the application at its entry point.
func NewControlBlock(alloc mm.FrameAllocator, kernelSpace *vmm.MemorySet, trampoline mm.Frame, data []byte, slot int) (*ControlBlock, *kernel.Error) {
	ms, userSP, entry, err := vmm.LoadELF(alloc, trampoline, data)
	if err != nil {
		return nil, err
	}

	pte, err := ms.Translate(mm.VirtAddrFrom(vmm.TrapContextAddr).Floor())
	if err != nil {
		ms.Release()
		return nil, err
	}

	_, kstackTop, err := kernelSpace.PushKernelStackForApp(slot)
	if err != nil {
		ms.Release()
		return nil, err
	}

	tcb := &ControlBlock{
		Status:           Ready,
		Context:          GotoTrapReturn(kstackTop),
		MemorySet:        ms,
		TrapContextFrame: pte.Frame(),
		BaseSize:         userSP,
		KernelStackTop:   kstackTop,
		mem:              alloc.PhysMem(),
	}

	ctx := gate.AppInitContext(entry, userSP, kernelSpace.Token(), kstackTop, gate.TrapHandlerEntry)
	tcb.TrapContext().Store(&ctx)

	return tcb, nil
}

// TrapContext returns a view over the TrapContext page of the task.
func (tcb *ControlBlock) TrapContext() gate.ContextFrame {
	return gate.FrameOf(tcb.mem.FrameBytes(tcb.TrapContextFrame))
}

// UserToken returns the satp value of the task address space.
func (tcb *ControlBlock) UserToken() uint64 {
	return tcb.MemorySet.Token()
}

// Destroy releases everything NewControlBlock allocated for a task that
// never ran: its address space and the kernel stack mapped into
// kernelSpace.
func (tcb *ControlBlock) Destroy(kernelSpace *vmm.MemorySet) *kernel.Error {
	tcb.release()
	tcb.Status = Exited

	bottom := mm.VirtAddrFrom(tcb.KernelStackTop - vmm.KernelStackSize)
	return kernelSpace.RemoveAreaWithStartVPN(bottom.Floor())
}

// release returns the address space of the task to the frame allocator.
func (tcb *ControlBlock) release() {
	if tcb.MemorySet == nil {
		return
	}
	tcb.MemorySet.Release()
	tcb.MemorySet = nil
}
