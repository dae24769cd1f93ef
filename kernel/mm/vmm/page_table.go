package vmm

import (
	"gopherv/kernel"
	"gopherv/kernel/mm"
)

var (
	// ErrAlreadyMapped is returned by Map when the page already has a leaf
	// entry.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "page is already mapped"}

	// ErrNotMapped is returned when no leaf entry exists for a page.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "page is not mapped"}

	errReadOnlyTable   = &kernel.Error{Module: "vmm", Message: "page table view cannot be modified"}
	errTableOutsideRAM = &kernel.Error{Module: "vmm", Message: "page table frame lies outside physical memory"}
)

// PageTable is an SV39 page table. It owns the frames of its root and of
// every intermediate table it allocates; they are returned to the allocator
// by Release.
type PageTable struct {
	root   mm.Frame
	mem    *mm.PhysMem
	alloc  mm.FrameAllocator
	frames []*mm.FrameTracker
}

// NewPageTable allocates a root table frame and returns an empty page table.
func NewPageTable(alloc mm.FrameAllocator) (*PageTable, *kernel.Error) {
	ft, err := alloc.AllocFrame()
	if err != nil {
		return nil, err
	}

	return &PageTable{
		root:   ft.Frame,
		mem:    alloc.PhysMem(),
		alloc:  alloc,
		frames: []*mm.FrameTracker{ft},
	}, nil
}

// PageTableFromToken returns a read-only view of the page table whose satp
// encoding is token. The view owns no frames and cannot be modified.
func PageTableFromToken(token uint64, mem *mm.PhysMem) *PageTable {
	return &PageTable{
		root: mm.Frame(token & ptePPNMask),
		mem:  mem,
	}
}

// Token returns the satp value that activates this page table.
func (pt *PageTable) Token() uint64 {
	return satpModeSv39 | uint64(pt.root)
}

// Root returns the frame that holds the root table.
func (pt *PageTable) Root() mm.Frame {
	return pt.root
}

// Frames returns the frames used by the table nodes of this page table.
func (pt *PageTable) Frames() []mm.Frame {
	frames := make([]mm.Frame, 0, len(pt.frames))
	for _, ft := range pt.frames {
		frames = append(frames, ft.Frame)
	}
	return frames
}

// Map establishes a mapping between a virtual page and a physical frame.
// Missing intermediate tables are allocated on demand. Map fails with
// ErrAlreadyMapped if page already has a valid leaf entry.
func (pt *PageTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if pt.alloc == nil {
		return errReadOnlyTable
	}

	var (
		pteAddr mm.PhysAddr
		pte     PageTableEntry
		err     *kernel.Error
	)

	if pteAddr, pte, err = pt.walk(page, true); err != nil {
		return err
	}

	if pte.Valid() {
		return ErrAlreadyMapped
	}

	return pt.store(pteAddr, newPageTableEntry(frame, flags|FlagValid))
}

// Unmap removes the leaf entry of page. It fails with ErrNotMapped if the
// page has no valid leaf entry. Intermediate tables are kept until the page
// table is released.
func (pt *PageTable) Unmap(page mm.Page) *kernel.Error {
	if pt.alloc == nil {
		return errReadOnlyTable
	}

	pteAddr, pte, err := pt.walk(page, false)
	if err != nil {
		return err
	}

	if !pte.Valid() {
		return ErrNotMapped
	}

	pte.ClearFlags(FlagValid)
	return pt.store(pteAddr, pte)
}

// Translate returns the leaf entry for page or ErrNotMapped if the page is
// not mapped.
func (pt *PageTable) Translate(page mm.Page) (PageTableEntry, *kernel.Error) {
	_, pte, err := pt.walk(page, false)
	if err != nil {
		return 0, err
	}

	if !pte.Valid() {
		return 0, ErrNotMapped
	}

	return pte, nil
}

// TranslateVA returns the physical address that corresponds to va.
func (pt *PageTable) TranslateVA(va mm.VirtAddr) (mm.PhysAddr, *kernel.Error) {
	pte, err := pt.Translate(va.Floor())
	if err != nil {
		return 0, err
	}

	return pte.Frame().Address() + mm.PhysAddr(va.PageOffset()), nil
}

// Release returns the frames of every table node to the allocator. The page
// table must not be used afterwards.
func (pt *PageTable) Release() {
	for _, ft := range pt.frames {
		ft.Release()
	}
	pt.frames = nil
}

// walk traverses the page table starting from the root table and returns
// the physical address and contents of the leaf entry for page. Walking
// stops with ErrNotMapped when an intermediate entry is invalid, unless
// create is set in which case the missing table is allocated.
func (pt *PageTable) walk(page mm.Page, create bool) (mm.PhysAddr, PageTableEntry, *kernel.Error) {
	var (
		table   = pt.root
		indexes = page.Indexes()
	)

	for level, index := range indexes {
		entryAddr := table.Address() + mm.PhysAddr(index<<mm.PointerShift)

		raw, err := pt.mem.ReadUint64(entryAddr)
		if err != nil {
			return 0, 0, errTableOutsideRAM
		}
		pte := PageTableEntry(raw)

		if level == mm.PageLevels-1 {
			return entryAddr, pte, nil
		}

		switch {
		case pte.Valid() && pte.Leaf():
			// a superpage sits where a table is expected
			return 0, 0, ErrAlreadyMapped
		case pte.Valid():
			table = pte.Frame()
			continue
		case !create:
			return 0, 0, ErrNotMapped
		}

		ft, err := pt.alloc.AllocFrame()
		if err != nil {
			return 0, 0, err
		}
		pt.frames = append(pt.frames, ft)

		if err = pt.store(entryAddr, newPageTableEntry(ft.Frame, FlagValid)); err != nil {
			return 0, 0, err
		}
		table = ft.Frame
	}

	// unreachable: the loop returns at the last level
	return 0, 0, ErrNotMapped
}

func (pt *PageTable) store(entryAddr mm.PhysAddr, pte PageTableEntry) *kernel.Error {
	if err := pt.mem.WriteUint64(entryAddr, uint64(pte)); err != nil {
		return errTableOutsideRAM
	}
	return nil
}
