package vmm

import "gopherv/kernel/mm"

// PageTableEntry is a single SV39 page table entry: the physical page
// number in bits 10..53 and the flags in bits 0..7.
type PageTableEntry uint64

// newPageTableEntry returns an entry pointing at frame with the supplied
// flags.
func newPageTableEntry(frame mm.Frame, flags PageTableEntryFlag) PageTableEntry {
	var pte PageTableEntry
	pte.SetFrame(frame)
	pte.SetFlags(flags & PageTableEntryFlag(pteFlagMask))
	return pte
}

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) == uint64(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *PageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uint64(*pte) | uint64(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *PageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uint64(*pte) &^ uint64(flags))
}

// Flags returns the flags of the entry.
func (pte PageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uint64(pte) & pteFlagMask)
}

// Frame returns the physical page frame that this page table entry points to.
func (pte PageTableEntry) Frame() mm.Frame {
	return mm.Frame((uint64(pte) >> ptePPNShift) & ptePPNMask)
}

// SetFrame updates the page table entry to point the the given physical frame.
func (pte *PageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (PageTableEntry)(uint64(*pte)&^(ptePPNMask<<ptePPNShift) | (uint64(frame)&ptePPNMask)<<ptePPNShift)
}

// Valid returns true if the entry is in use.
func (pte PageTableEntry) Valid() bool {
	return pte.HasFlags(FlagValid)
}

// Leaf returns true if the entry maps a page instead of pointing to the next
// level table. Entries with none of R, W or X set are internal nodes.
func (pte PageTableEntry) Leaf() bool {
	return pte.HasAnyFlag(FlagRead | FlagWrite | FlagExec)
}
