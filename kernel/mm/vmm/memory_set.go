package vmm

import (
	"bytes"
	"debug/elf"
	"gopherv/kernel"
	"gopherv/kernel/cpu"
	"gopherv/kernel/kfmt"
	"gopherv/kernel/mm"
)

var (
	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic

	errBadMagic         = &kernel.Error{Module: "vmm", Message: "invalid ELF magic"}
	errMalformedELF     = &kernel.Error{Module: "vmm", Message: "malformed ELF image"}
	errWrongMachine     = &kernel.Error{Module: "vmm", Message: "ELF image is not a riscv64 executable"}
	errNoLoadSegments   = &kernel.Error{Module: "vmm", Message: "ELF image has no loadable segments"}
	errAreaOverlap      = &kernel.Error{Module: "vmm", Message: "map area overlaps an existing area"}
	errAreaNotFound     = &kernel.Error{Module: "vmm", Message: "no map area starts at the requested page"}
	errSegmentTruncated = &kernel.Error{Module: "vmm", Message: "ELF segment extends past the end of the image"}

	trampolinePage = mm.PageRange{
		Start: mm.VirtAddrFrom(Trampoline).Floor(),
		End:   mm.VirtAddrFrom(Trampoline).Floor() + 1,
	}
)

// KernelLayout describes where the sections of the kernel image live in
// physical memory.
type KernelLayout struct {
	TextStart, TextEnd     mm.PhysAddr
	RodataStart, RodataEnd mm.PhysAddr
	DataStart, DataEnd     mm.PhysAddr
	BssStart, BssEnd       mm.PhysAddr

	// KernelEnd is the first address past the kernel image and MemoryEnd
	// the first address past the installed RAM.
	KernelEnd, MemoryEnd mm.PhysAddr

	// Trampoline is the address of the page holding the trap entry and
	// return code inside the kernel text.
	Trampoline mm.PhysAddr
}

// MemorySet is an address space: a page table together with the ordered,
// non-overlapping areas mapped into it.
type MemorySet struct {
	pageTable *PageTable
	alloc     mm.FrameAllocator
	areas     []*MapArea
}

// NewBare returns an address space with an empty page table.
func NewBare(alloc mm.FrameAllocator) (*MemorySet, *kernel.Error) {
	pt, err := NewPageTable(alloc)
	if err != nil {
		return nil, err
	}

	return &MemorySet{pageTable: pt, alloc: alloc}, nil
}

// NewKernel builds the kernel address space. The sections of the kernel
// image and the remaining physical memory are identity-mapped with the
// permissions of each section; the trampoline is mapped at the top of the
// address space.
func NewKernel(alloc mm.FrameAllocator, layout KernelLayout) (*MemorySet, *kernel.Error) {
	ms, err := NewBare(alloc)
	if err != nil {
		return nil, err
	}

	if err = ms.mapTrampoline(layout.Trampoline.Floor()); err != nil {
		ms.Release()
		return nil, err
	}

	sections := []struct {
		name       string
		start, end mm.PhysAddr
		perm       MapPermission
	}{
		{".text", layout.TextStart, layout.TextEnd, PermR | PermX},
		{".rodata", layout.RodataStart, layout.RodataEnd, PermR},
		{".data", layout.DataStart, layout.DataEnd, PermR | PermW},
		{".bss", layout.BssStart, layout.BssEnd, PermR | PermW},
		{"physical memory", layout.KernelEnd, layout.MemoryEnd, PermR | PermW},
	}

	for _, section := range sections {
		kfmt.Printf("[kernel] mapping %s [0x%x, 0x%x)\n", section.name, uint64(section.start), uint64(section.end))

		area := NewMapArea(mm.VirtAddr(section.start), mm.VirtAddr(section.end), MapIdentical, section.perm)
		if err = ms.push(area, nil, 0); err != nil {
			ms.Release()
			return nil, err
		}
	}

	return ms, nil
}

// LoadELF builds a user address space from an ELF executable. Every PT_LOAD
// segment becomes a framed area with the segment permissions plus PermU.
// Above the highest segment the address space gets a guard page followed by
// the user stack; the trap context page and the trampoline sit at the top.
// Segments outside the lower half of the address space and entry points
// outside an executable segment are rejected with errMalformedELF.
// LoadELF returns the address space, the user stack top and the entry point.
func LoadELF(alloc mm.FrameAllocator, trampoline mm.Frame, data []byte) (*MemorySet, uint64, uint64, *kernel.Error) {
	if len(data) < len(elf.ELFMAG) || !bytes.Equal(data[:len(elf.ELFMAG)], []byte(elf.ELFMAG)) {
		return nil, 0, 0, errBadMagic
	}

	f, parseErr := elf.NewFile(bytes.NewReader(data))
	if parseErr != nil || f.Class != elf.ELFCLASS64 {
		return nil, 0, 0, errMalformedELF
	}
	if f.Machine != elf.EM_RISCV {
		return nil, 0, 0, errWrongMachine
	}

	ms, err := NewBare(alloc)
	if err != nil {
		return nil, 0, 0, err
	}

	if err = ms.mapTrampoline(trampoline); err != nil {
		ms.Release()
		return nil, 0, 0, err
	}

	var (
		maxEnd     mm.Page
		segments   int
		entryFound bool
	)

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		if prog.Filesz > prog.Memsz || prog.Off+prog.Filesz < prog.Off || prog.Off+prog.Filesz > uint64(len(data)) {
			ms.Release()
			return nil, 0, 0, errSegmentTruncated
		}

		// segments must fit in the user half without being truncated
		start, ok := mm.UserVirtAddr(prog.Vaddr)
		if segEnd := prog.Vaddr + prog.Memsz; !ok || segEnd < prog.Vaddr || segEnd > mm.UserSpaceEnd {
			ms.Release()
			return nil, 0, 0, errMalformedELF
		}

		perm := PermU
		if prog.Flags&elf.PF_R != 0 {
			perm |= PermR
		}
		if prog.Flags&elf.PF_W != 0 {
			perm |= PermW
		}
		if prog.Flags&elf.PF_X != 0 {
			perm |= PermX
		}

		area := NewMapArea(start, start+mm.VirtAddr(prog.Memsz), MapFramed, perm)
		if err = ms.push(area, data[prog.Off:prog.Off+prog.Filesz], start.PageOffset()); err != nil {
			ms.Release()
			return nil, 0, 0, err
		}

		if area.Range.End > maxEnd {
			maxEnd = area.Range.End
		}
		if perm&PermX != 0 && f.Entry >= prog.Vaddr && f.Entry < prog.Vaddr+prog.Memsz {
			entryFound = true
		}
		segments++
	}

	if segments == 0 {
		ms.Release()
		return nil, 0, 0, errNoLoadSegments
	}
	if !entryFound {
		ms.Release()
		return nil, 0, 0, errMalformedELF
	}

	// leave an unmapped guard page below the user stack
	userStackBottom := (maxEnd + 1).Address()
	userStackTop := userStackBottom + mm.VirtAddr(UserStackSize)
	if uint64(userStackTop) > mm.UserSpaceEnd {
		ms.Release()
		return nil, 0, 0, errMalformedELF
	}
	if err = ms.InsertFramedArea(userStackBottom, userStackTop, PermR|PermW|PermU); err != nil {
		ms.Release()
		return nil, 0, 0, err
	}

	trapContext := NewMapArea(mm.VirtAddrFrom(TrapContextAddr), mm.VirtAddrFrom(Trampoline), MapFramed, PermR|PermW)
	if err = ms.push(trapContext, nil, 0); err != nil {
		ms.Release()
		return nil, 0, 0, err
	}

	return ms, uint64(userStackTop), f.Entry, nil
}

// InsertFramedArea maps [start, end) with freshly allocated frames.
func (ms *MemorySet) InsertFramedArea(start, end mm.VirtAddr, perm MapPermission) *kernel.Error {
	return ms.push(NewMapArea(start, end, MapFramed, perm), nil, 0)
}

// PushKernelStackForApp maps the kernel stack for the application in the
// supplied slot and returns the stack bottom and top.
func (ms *MemorySet) PushKernelStackForApp(slot int) (uint64, uint64, *kernel.Error) {
	bottom, top := KernelStackPosition(slot)
	if err := ms.InsertFramedArea(mm.VirtAddrFrom(bottom), mm.VirtAddrFrom(top), PermR|PermW); err != nil {
		return 0, 0, err
	}
	return bottom, top, nil
}

// RemoveAreaWithStartVPN unmaps the area that starts at page and releases
// its frames.
func (ms *MemorySet) RemoveAreaWithStartVPN(page mm.Page) *kernel.Error {
	for i, area := range ms.areas {
		if area.Range.Start != page {
			continue
		}

		if err := area.Unmap(ms.pageTable); err != nil {
			panicFn(err)
			return err
		}
		ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
		return nil
	}

	return errAreaNotFound
}

// Translate returns the leaf entry that maps page.
func (ms *MemorySet) Translate(page mm.Page) (PageTableEntry, *kernel.Error) {
	return ms.pageTable.Translate(page)
}

// Token returns the satp value that activates this address space.
func (ms *MemorySet) Token() uint64 {
	return ms.pageTable.Token()
}

// PageTable returns the page table of the address space.
func (ms *MemorySet) PageTable() *PageTable {
	return ms.pageTable
}

// Areas returns the areas of the address space in insertion order.
func (ms *MemorySet) Areas() []*MapArea {
	return ms.areas
}

// Activate installs the page table of the address space on the hart and
// flushes any cached translations.
func (ms *MemorySet) Activate(hart *cpu.Hart) {
	hart.SwitchSATP(ms.Token())
	hart.FlushTLB()
}

// Release returns every frame owned by the address space: the frames
// backing framed areas and the page table nodes.
func (ms *MemorySet) Release() {
	for _, area := range ms.areas {
		area.Release()
	}
	ms.areas = nil
	ms.pageTable.Release()
}

// mapTrampoline maps the trampoline code at the top of the address space.
// The page is not owned by the address space.
func (ms *MemorySet) mapTrampoline(trampoline mm.Frame) *kernel.Error {
	if err := ms.pageTable.Map(mm.VirtAddrFrom(Trampoline).Floor(), trampoline, PermR|PermX); err != nil {
		panicFn(err)
		return err
	}
	return nil
}

// push maps area into the address space and copies data into it starting
// at offset off of its first page. Areas overlapping an existing area or
// the trampoline are rejected; failing to map an accepted area is fatal.
func (ms *MemorySet) push(area *MapArea, data []byte, off uint64) *kernel.Error {
	if area.Range.Overlaps(trampolinePage) {
		return errAreaOverlap
	}

	for _, existing := range ms.areas {
		if existing.Range.Overlaps(area.Range) {
			return errAreaOverlap
		}
	}

	if err := area.Map(ms.pageTable, ms.alloc); err != nil {
		area.Release()
		panicFn(err)
		return err
	}
	ms.areas = append(ms.areas, area)

	if len(data) != 0 {
		return area.CopyData(ms.pageTable, data, off)
	}
	return nil
}
