package mm

import "math"

// Frame describes a physical memory page index (PPN).
type Frame uint64

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() PhysAddr {
	return PhysAddr(uint64(f) << PageShift)
}

// Page describes a virtual memory page index (VPN).
type Page uint64

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() VirtAddr {
	return VirtAddr(uint64(p) << PageShift)
}

// Indexes returns the page table index for each paging level, starting from
// the root table.
func (p Page) Indexes() [PageLevels]uint64 {
	var (
		idx [PageLevels]uint64
		vpn = uint64(p)
	)

	for level := PageLevels - 1; level >= 0; level-- {
		idx[level] = vpn & (EntriesPerTable - 1)
		vpn >>= PageLevelBits
	}

	return idx
}

// PageRange describes the half-open page interval [Start, End).
type PageRange struct {
	Start, End Page
}

// Len returns the number of pages in the range.
func (r PageRange) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return uint64(r.End - r.Start)
}

// Contains returns true if p lies within the range.
func (r PageRange) Contains(p Page) bool {
	return p >= r.Start && p < r.End
}

// Overlaps returns true if the two ranges share at least one page.
func (r PageRange) Overlaps(other PageRange) bool {
	return r.Start < other.End && other.Start < r.End
}
