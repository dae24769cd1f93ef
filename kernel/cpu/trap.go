package cpu

// raiseTrap enters supervisor mode to handle the supplied cause. The
// interrupted pc is saved into sepc and execution resumes at stvec.
func (h *Hart) raiseTrap(cause, tval uint64) {
	h.Sepc = h.PC
	h.Scause = cause
	h.Stval = tval

	if h.Sstatus&SstatusSIE != 0 {
		h.Sstatus |= SstatusSPIE
	} else {
		h.Sstatus &^= SstatusSPIE
	}
	h.Sstatus &^= SstatusSIE

	if h.Priv == PrivSupervisor {
		h.Sstatus |= SstatusSPP
	} else {
		h.Sstatus &^= SstatusSPP
	}

	h.Priv = PrivSupervisor
	h.PC = h.Stvec &^ 3
}

// Sret returns from a supervisor trap: the privilege level is restored from
// sstatus.SPP, interrupts are restored from sstatus.SPIE and execution
// resumes at sepc.
func (h *Hart) Sret() {
	if h.Sstatus&SstatusSPP != 0 {
		h.Priv = PrivSupervisor
	} else {
		h.Priv = PrivUser
	}

	if h.Sstatus&SstatusSPIE != 0 {
		h.Sstatus |= SstatusSIE
	} else {
		h.Sstatus &^= SstatusSIE
	}
	h.Sstatus |= SstatusSPIE
	h.Sstatus &^= SstatusSPP

	h.PC = h.Sepc
}

// pendingInterrupt returns the cause of the highest priority interrupt that
// the hart must take before executing the next instruction.
func (h *Hart) pendingInterrupt() (uint64, bool) {
	if h.Time >= h.Stimecmp {
		h.Sip |= SipSTIP
	}

	// supervisor interrupts are always enabled while running in user mode
	if h.Priv == PrivSupervisor && h.Sstatus&SstatusSIE == 0 {
		return 0, false
	}

	pending := h.Sip & h.Sie
	switch {
	case pending&SipSEIP != 0:
		return CauseSExternalInt, true
	case pending&SipSSIP != 0:
		return CauseSSoftwareInt, true
	case pending&SipSTIP != 0:
		return CauseSTimerInt, true
	}
	return 0, false
}
