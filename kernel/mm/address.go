package mm

// PhysAddr describes a 56-bit physical memory address.
type PhysAddr uint64

// VirtAddr describes a 39-bit virtual memory address.
type VirtAddr uint64

// PhysAddrFrom truncates v to the width of a physical address.
func PhysAddrFrom(v uint64) PhysAddr {
	return PhysAddr(v & ((1 << PhysAddrBits) - 1))
}

// VirtAddrFrom truncates v to the width of a virtual address. Addresses in
// the upper half (e.g. the trampoline) lose their sign-extension bits.
func VirtAddrFrom(v uint64) VirtAddr {
	return VirtAddr(v & ((1 << VirtAddrBits) - 1))
}

// UserVirtAddr converts a pointer supplied by user code. Unlike VirtAddrFrom
// it does not truncate: ok is false unless v lies in the lower half of the
// address space.
func UserVirtAddr(v uint64) (va VirtAddr, ok bool) {
	if v >= UserSpaceEnd {
		return 0, false
	}
	return VirtAddr(v), true
}

// PageOffset returns the offset of the address within its frame.
func (pa PhysAddr) PageOffset() uint64 {
	return uint64(pa) & (PageSize - 1)
}

// Aligned returns true if the address is page-aligned.
func (pa PhysAddr) Aligned() bool {
	return pa.PageOffset() == 0
}

// Floor returns the frame that contains the address.
func (pa PhysAddr) Floor() Frame {
	return Frame(uint64(pa) >> PageShift)
}

// Ceil returns the first frame that starts at or after the address.
func (pa PhysAddr) Ceil() Frame {
	return Frame((uint64(pa) + PageSize - 1) >> PageShift)
}

// PageOffset returns the offset of the address within its page.
func (va VirtAddr) PageOffset() uint64 {
	return uint64(va) & (PageSize - 1)
}

// Aligned returns true if the address is page-aligned.
func (va VirtAddr) Aligned() bool {
	return va.PageOffset() == 0
}

// Floor returns the page that contains the address.
func (va VirtAddr) Floor() Page {
	return Page(uint64(va) >> PageShift)
}

// Ceil returns the first page that starts at or after the address.
func (va VirtAddr) Ceil() Page {
	return Page((uint64(va) + PageSize - 1) >> PageShift)
}

// Canonical sign-extends bit 38 of the address into the upper bits as
// required by the MMU for any address loaded into a register.
func (va VirtAddr) Canonical() uint64 {
	if uint64(va)&(1<<(VirtAddrBits-1)) != 0 {
		return uint64(va) | ^uint64((1<<VirtAddrBits)-1)
	}
	return uint64(va)
}
