package kmain

import (
	"gopherv/kernel"
	"gopherv/kernel/mm"
	"gopherv/kernel/mm/vmm"
)

var errRemapTest = &kernel.Error{Module: "kmain", Message: "kernel sections mapped with wrong permissions"}

// remapTest checks that the middle of .text and .rodata is not writable and
// that the middle of .data is not executable in the kernel address space.
func remapTest(ks *vmm.MemorySet, layout vmm.KernelLayout) *kernel.Error {
	specs := []struct {
		start, end mm.PhysAddr
		forbidden  vmm.PageTableEntryFlag
	}{
		{layout.TextStart, layout.TextEnd, vmm.FlagWrite},
		{layout.RodataStart, layout.RodataEnd, vmm.FlagWrite},
		{layout.DataStart, layout.DataEnd, vmm.FlagExec},
	}

	for _, spec := range specs {
		mid := mm.VirtAddr((spec.start + spec.end) / 2)
		pte, err := ks.Translate(mid.Floor())
		if err != nil {
			return err
		}
		if pte.HasAnyFlag(spec.forbidden) {
			return errRemapTest
		}
	}
	return nil
}
