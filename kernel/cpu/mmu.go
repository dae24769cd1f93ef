package cpu

import (
	"encoding/binary"
	"gopherv/kernel"
)

// SV39 page table entry bits as interpreted by the hardware walker.
const (
	pteValid    uint64 = 1 << 0
	pteRead     uint64 = 1 << 1
	pteWrite    uint64 = 1 << 2
	pteExec     uint64 = 1 << 3
	pteUser     uint64 = 1 << 4
	pteAccessed uint64 = 1 << 6
	pteDirty    uint64 = 1 << 7

	ptePPNShift = 10
	ptePPNMask  = (uint64(1) << 44) - 1

	pageShift     = 12
	pageSize      = uint64(1) << pageShift
	levels        = 3
	levelBits     = 9
	levelMask     = (uint64(1) << levelBits) - 1
	pteSize       = 8
	satpPPNMask   = (uint64(1) << 44) - 1
	satpModeShift = 60

	tlbEntries = 64
)

type accessType uint8

const (
	accessFetch accessType = iota
	accessLoad
	accessStore
)

var (
	errVirtLoadFault  = &kernel.Error{Module: "cpu", Message: "supervisor load through the active page table faulted"}
	errVirtStoreFault = &kernel.Error{Module: "cpu", Message: "supervisor store through the active page table faulted"}
)

// tlbEntry caches the leaf PTE for a virtual page.
type tlbEntry struct {
	valid bool
	vpn   uint64
	pte   uint64

	// the page offset bits for superpage leaves come from the VA
	levelShift uint64
}

// SwitchSATP installs a new value for the satp CSR. Like the hardware, the
// write does not flush cached translations; callers follow it with FlushTLB.
func (h *Hart) SwitchSATP(token uint64) {
	h.Satp = token
}

// ActiveSATP returns the value of the satp CSR.
func (h *Hart) ActiveSATP() uint64 {
	return h.Satp
}

// FlushTLB drops every cached translation (sfence.vma with no operands).
func (h *Hart) FlushTLB() {
	for i := range h.tlb {
		h.tlb[i].valid = false
	}
}

// CanExecute reports whether an instruction fetch at va would succeed in
// supervisor mode using the active page table.
func (h *Hart) CanExecute(va uint64) bool {
	_, cause := h.translate(va, accessFetch, PrivSupervisor)
	return cause == noFault
}

// LoadVirt reads len(p) bytes starting at va with supervisor privileges
// through the active page table.
func (h *Hart) LoadVirt(va uint64, p []byte) *kernel.Error {
	for len(p) != 0 {
		pa, cause := h.translate(va, accessLoad, PrivSupervisor)
		if cause != noFault {
			return errVirtLoadFault
		}

		n := chunkLen(va, len(p))
		if !h.bus.ReadPhys(pa, p[:n]) {
			return errVirtLoadFault
		}
		p, va = p[n:], va+uint64(n)
	}
	return nil
}

// StoreVirt writes p starting at va with supervisor privileges through the
// active page table.
func (h *Hart) StoreVirt(va uint64, p []byte) *kernel.Error {
	for len(p) != 0 {
		pa, cause := h.translate(va, accessStore, PrivSupervisor)
		if cause != noFault {
			return errVirtStoreFault
		}

		n := chunkLen(va, len(p))
		if !h.bus.WritePhys(pa, p[:n]) {
			return errVirtStoreFault
		}
		p, va = p[n:], va+uint64(n)
	}
	return nil
}

// chunkLen returns how many of the remaining bytes fit before the next page
// boundary.
func chunkLen(va uint64, remaining int) int {
	n := int(pageSize - va&(pageSize-1))
	if n > remaining {
		n = remaining
	}
	return n
}

// noFault is returned by translate when the access is permitted.
const noFault = ^uint64(0)

// translate converts va to a physical address for the requested access
// performed at privilege priv. On failure it returns the exception cause
// that the access raises.
func (h *Hart) translate(va uint64, access accessType, priv uint8) (uint64, uint64) {
	if h.Satp>>satpModeShift != SatpModeSv39 {
		return va, noFault
	}

	// bits 63..39 must all equal bit 38
	if top := int64(va) >> 38; top != 0 && top != -1 {
		return 0, pageFaultCause(access)
	}

	vpn := va >> pageShift
	slot := &h.tlb[vpn%tlbEntries]

	var (
		pte        uint64
		levelShift uint64
	)

	if slot.valid && slot.vpn == vpn {
		pte, levelShift = slot.pte, slot.levelShift
	} else {
		slot.valid = false
	}

	needsWalk := !slot.valid || pte&pteAccessed == 0 || (access == accessStore && pte&pteDirty == 0)
	if needsWalk {
		var cause uint64
		if pte, levelShift, cause = h.walk(va, access); cause != noFault {
			return 0, cause
		}
		*slot = tlbEntry{valid: true, vpn: vpn, pte: pte, levelShift: levelShift}
	}

	if !permitted(pte, access, priv, h.Sstatus) {
		return 0, pageFaultCause(access)
	}

	offsetMask := (uint64(1) << levelShift) - 1
	ppn := (pte >> ptePPNShift) & ptePPNMask
	return (ppn<<pageShift)&^offsetMask | va&offsetMask, noFault
}

// walk traverses the three SV39 levels for va and returns the leaf entry
// after updating its accessed and dirty bits in memory.
func (h *Hart) walk(va uint64, access accessType) (uint64, uint64, uint64) {
	var (
		buf   [pteSize]byte
		table = (h.Satp & satpPPNMask) << pageShift
	)

	for level := levels - 1; level >= 0; level-- {
		index := (va >> (pageShift + uint64(level)*levelBits)) & levelMask
		pteAddr := table + index*pteSize

		if !h.bus.ReadPhys(pteAddr, buf[:]) {
			return 0, 0, accessFaultCause(access)
		}
		pte := binary.LittleEndian.Uint64(buf[:])

		if pte&pteValid == 0 || (pte&pteRead == 0 && pte&pteWrite != 0) {
			return 0, 0, pageFaultCause(access)
		}

		if pte&(pteRead|pteExec) == 0 {
			table = ((pte >> ptePPNShift) & ptePPNMask) << pageShift
			continue
		}

		levelShift := pageShift + uint64(level)*levelBits

		// superpage leaves must be aligned to their size
		ppn := (pte >> ptePPNShift) & ptePPNMask
		if ppn&((uint64(1)<<(levelShift-pageShift))-1) != 0 {
			return 0, 0, pageFaultCause(access)
		}

		update := pte | pteAccessed
		if access == accessStore && pte&pteWrite != 0 {
			update |= pteDirty
		}
		if update != pte {
			binary.LittleEndian.PutUint64(buf[:], update)
			if !h.bus.WritePhys(pteAddr, buf[:]) {
				return 0, 0, accessFaultCause(access)
			}
			pte = update
		}

		return pte, levelShift, noFault
	}

	// ran out of levels without finding a leaf
	return 0, 0, pageFaultCause(access)
}

// permitted checks the leaf permissions against the access.
func permitted(pte uint64, access accessType, priv uint8, sstatus uint64) bool {
	userPage := pte&pteUser != 0
	switch {
	case priv == PrivUser && !userPage:
		return false
	case priv == PrivSupervisor && userPage:
		if access == accessFetch || sstatus&SstatusSUM == 0 {
			return false
		}
	}

	switch access {
	case accessFetch:
		return pte&pteExec != 0
	case accessLoad:
		return pte&pteRead != 0 || (sstatus&SstatusMXR != 0 && pte&pteExec != 0)
	default:
		return pte&pteWrite != 0
	}
}

func pageFaultCause(access accessType) uint64 {
	switch access {
	case accessFetch:
		return CauseInsnPageFault
	case accessLoad:
		return CauseLoadPageFault
	default:
		return CauseStorePageFault
	}
}

func accessFaultCause(access accessType) uint64 {
	switch access {
	case accessFetch:
		return CauseInsnAccessFault
	case accessLoad:
		return CauseLoadAccessFault
	default:
		return CauseStoreAccessFault
	}
}
