package vmm

import (
	"gopherv/kernel"
	"gopherv/kernel/mm"
	"sort"
)

// MapType selects how the pages of a MapArea are backed.
type MapType uint8

const (
	// MapIdentical maps each page to the frame with the same number.
	MapIdentical MapType = iota

	// MapFramed backs each page with a freshly allocated frame owned by
	// the area.
	MapFramed
)

// MapPermission is the subset of page table flags that an area can request.
type MapPermission = PageTableEntryFlag

// Permissions accepted by a MapArea.
const (
	PermR = FlagRead
	PermW = FlagWrite
	PermX = FlagExec
	PermU = FlagUser

	permMask = PermR | PermW | PermX | PermU
)

var errDataTooLarge = &kernel.Error{Module: "vmm", Message: "data does not fit in the map area"}

// MapArea is a contiguous range of virtual pages that share a mapping
// policy and a permission set.
type MapArea struct {
	Range mm.PageRange
	Type  MapType
	Perm  MapPermission

	frames map[mm.Page]*mm.FrameTracker
}

// NewMapArea returns an unmapped area covering [start, end). The start
// address is rounded down and the end address rounded up to a page
// boundary.
func NewMapArea(start, end mm.VirtAddr, mapType MapType, perm MapPermission) *MapArea {
	return &MapArea{
		Range:  mm.PageRange{Start: start.Floor(), End: end.Ceil()},
		Type:   mapType,
		Perm:   perm & permMask,
		frames: make(map[mm.Page]*mm.FrameTracker),
	}
}

// Map installs every page of the area into pt.
func (area *MapArea) Map(pt *PageTable, alloc mm.FrameAllocator) *kernel.Error {
	for page := area.Range.Start; page < area.Range.End; page++ {
		if err := area.mapOne(pt, alloc, page); err != nil {
			return err
		}
	}
	return nil
}

func (area *MapArea) mapOne(pt *PageTable, alloc mm.FrameAllocator, page mm.Page) *kernel.Error {
	var frame mm.Frame

	switch area.Type {
	case MapIdentical:
		frame = mm.Frame(page)
	case MapFramed:
		ft, err := alloc.AllocFrame()
		if err != nil {
			return err
		}
		area.frames[page] = ft
		frame = ft.Frame
	}

	return pt.Map(page, frame, area.Perm)
}

// Unmap removes every page of the area from pt and releases the frames
// owned by the area.
func (area *MapArea) Unmap(pt *PageTable) *kernel.Error {
	for page := area.Range.Start; page < area.Range.End; page++ {
		if err := pt.Unmap(page); err != nil {
			return err
		}

		if ft, ok := area.frames[page]; ok {
			ft.Release()
			delete(area.frames, page)
		}
	}
	return nil
}

// Release returns the frames owned by the area without touching any page
// table.
func (area *MapArea) Release() {
	for page, ft := range area.frames {
		ft.Release()
		delete(area.frames, page)
	}
}

// CopyData copies data into the area starting at byte offset off of its
// first page. The area must already be mapped in pt.
func (area *MapArea) CopyData(pt *PageTable, data []byte, off uint64) *kernel.Error {
	if off+uint64(len(data)) > area.Range.Len()*mm.PageSize {
		return errDataTooLarge
	}

	page := area.Range.Start + mm.Page(off>>mm.PageShift)
	off &= mm.PageSize - 1

	for len(data) != 0 {
		pte, err := pt.Translate(page)
		if err != nil {
			return err
		}

		contents := pt.mem.FrameBytes(pte.Frame())
		if contents == nil {
			return errTableOutsideRAM
		}

		n := kernel.Memcopy(data, contents[off:])
		data = data[n:]
		page, off = page+1, 0
	}

	return nil
}

// Frames returns the frames owned by the area ordered by page.
func (area *MapArea) Frames() []mm.Frame {
	pages := make([]mm.Page, 0, len(area.frames))
	for page := range area.frames {
		pages = append(pages, page)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })

	frames := make([]mm.Frame, len(pages))
	for i, page := range pages {
		frames[i] = area.frames[page].Frame
	}
	return frames
}
