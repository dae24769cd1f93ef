package vmm

import "gopherv/kernel/mm"

const (
	// Trampoline is the virtual address of the page holding the trap entry
	// and return code. It is the highest page of every address space.
	Trampoline = uint64(0xfffffffffffff000)

	// TrapContextAddr is the virtual address of the page holding the
	// TrapContext of a user address space. It sits right below the
	// trampoline and is only accessible from supervisor mode.
	TrapContextAddr = Trampoline - mm.PageSize

	// UserStackSize is the size of the stack allocated to each application.
	UserStackSize = uint64(2 * mm.PageSize)

	// KernelStackSize is the size of the kernel stack allocated to each
	// application.
	KernelStackSize = uint64(2 * mm.PageSize)
)

// PageTableEntryFlag describes a flag that can be applied to an SV39 page
// table entry.
type PageTableEntryFlag uint64

const (
	// FlagValid is set when the entry is in use.
	FlagValid PageTableEntryFlag = 1 << iota

	// FlagRead is set if the page can be read from.
	FlagRead

	// FlagWrite is set if the page can be written to.
	FlagWrite

	// FlagExec is set if the page contains executable code.
	FlagExec

	// FlagUser is set if user-mode code can access this page. If not set
	// only supervisor code can access this page.
	FlagUser

	// FlagGlobal marks a mapping that exists in every address space.
	FlagGlobal

	// FlagAccessed is set by the hart when the page is accessed.
	FlagAccessed

	// FlagDirty is set by the hart when the page is modified.
	FlagDirty
)

const (
	// ptePPNShift is the position of the physical page number in a page
	// table entry.
	ptePPNShift = 10

	// ptePPNMask extracts the physical page number once shifted.
	ptePPNMask = (uint64(1) << mm.PPNBits) - 1

	// pteFlagMask covers the flag bits of an entry.
	pteFlagMask = uint64(0xff)

	// satpModeSv39 is placed in the MODE field of satp to enable SV39.
	satpModeSv39 = uint64(8) << 60
)

// KernelStackPosition returns the bottom and top addresses of the kernel
// stack used by the application in the supplied slot. Each stack is
// followed by an unmapped guard page.
func KernelStackPosition(slot int) (bottom, top uint64) {
	top = Trampoline - uint64(slot)*(KernelStackSize+mm.PageSize)
	bottom = top - KernelStackSize
	return bottom, top
}
