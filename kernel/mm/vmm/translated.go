package vmm

import (
	"gopherv/kernel"
	"gopherv/kernel/mm"
)

var (
	errNotUserAccessible = &kernel.Error{Module: "vmm", Message: "buffer is not accessible from user mode"}
	errBadUserPointer    = &kernel.Error{Module: "vmm", Message: "buffer does not lie in the user half of the address space"}
)

// TranslatedByteBuffer returns the kernel-visible slices backing the n bytes
// that start at the user pointer ptr in the address space identified by
// token. Each slice covers the part of the buffer that lives in one page.
// The whole buffer must lie in the lower half of the address space and
// every page must be mapped with FlagUser.
func TranslatedByteBuffer(token uint64, mem *mm.PhysMem, ptr, n uint64) ([][]byte, *kernel.Error) {
	va, ok := mm.UserVirtAddr(ptr)
	if !ok || ptr+n < ptr || ptr+n > mm.UserSpaceEnd {
		return nil, errBadUserPointer
	}

	var (
		pt     = PageTableFromToken(token, mem)
		end    = va + mm.VirtAddr(n)
		chunks [][]byte
	)

	for va < end {
		contents, err := userPage(pt, mem, va.Floor())
		if err != nil {
			return nil, err
		}

		off := va.PageOffset()
		last := mm.PageSize
		if pageEnd := (va.Floor() + 1).Address(); end < pageEnd {
			last = end.PageOffset()
		}

		chunks = append(chunks, contents[off:last])
		va += mm.VirtAddr(last - off)
	}

	return chunks, nil
}

func userPage(pt *PageTable, mem *mm.PhysMem, page mm.Page) ([]byte, *kernel.Error) {
	pte, err := pt.Translate(page)
	if err != nil {
		return nil, err
	}

	if !pte.HasFlags(FlagUser) {
		return nil, errNotUserAccessible
	}

	contents := mem.FrameBytes(pte.Frame())
	if contents == nil {
		return nil, errTableOutsideRAM
	}
	return contents, nil
}
