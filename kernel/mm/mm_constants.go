package mm

const (
	// PointerShift is equal to log2(size of a machine word). The word size
	// for riscv64 is defined as (1 << PointerShift).
	PointerShift = 3

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = uint64(1 << PageShift)

	// PhysAddrBits is the width of a physical address under SV39.
	PhysAddrBits = 56

	// VirtAddrBits is the width of a virtual address under SV39.
	VirtAddrBits = 39

	// PPNBits and VPNBits are the widths of the page numbers extracted
	// from a physical and virtual address respectively.
	PPNBits = PhysAddrBits - PageShift
	VPNBits = VirtAddrBits - PageShift

	// UserSpaceEnd is the first address past the canonical lower half of
	// the address space. User mappings live below it.
	UserSpaceEnd = uint64(1) << (VirtAddrBits - 1)

	// PageLevels is the number of page table levels used by SV39 and
	// PageLevelBits the number of VPN bits consumed by each level.
	PageLevels    = 3
	PageLevelBits = 9

	// EntriesPerTable is the fan-out of each page table node.
	EntriesPerTable = 1 << PageLevelBits
)
