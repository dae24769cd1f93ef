// Package cpu simulates the single RV64 hart that the kernel drives. The hart
// interprets user-mode RV64IM code, translates every access through an SV39
// page-table walker and raises supervisor traps the way the privileged
// architecture describes them.
package cpu

import "gopherv/kernel"

// Privilege levels.
const (
	PrivUser       uint8 = 0
	PrivSupervisor uint8 = 1
)

// sstatus bits.
const (
	SstatusSIE  uint64 = 1 << 1
	SstatusSPIE uint64 = 1 << 5
	SstatusSPP  uint64 = 1 << 8
	SstatusSUM  uint64 = 1 << 18
	SstatusMXR  uint64 = 1 << 19
)

// sie bits.
const (
	SieSSIE uint64 = 1 << 1
	SieSTIE uint64 = 1 << 5
	SieSEIE uint64 = 1 << 9
)

// sip bits.
const (
	SipSSIP uint64 = 1 << 1
	SipSTIP uint64 = 1 << 5
	SipSEIP uint64 = 1 << 9
)

// Exception causes.
const (
	CauseInsnAddrMisaligned  uint64 = 0
	CauseInsnAccessFault     uint64 = 1
	CauseIllegalInsn         uint64 = 2
	CauseBreakpoint          uint64 = 3
	CauseLoadAddrMisaligned  uint64 = 4
	CauseLoadAccessFault     uint64 = 5
	CauseStoreAddrMisaligned uint64 = 6
	CauseStoreAccessFault    uint64 = 7
	CauseEcallFromU          uint64 = 8
	CauseInsnPageFault       uint64 = 12
	CauseLoadPageFault       uint64 = 13
	CauseStorePageFault      uint64 = 15
)

// Interrupt causes (with bit 63 set).
const (
	CauseInterrupt    uint64 = 1 << 63
	CauseSSoftwareInt        = CauseInterrupt | 1
	CauseSTimerInt           = CauseInterrupt | 5
	CauseSExternalInt        = CauseInterrupt | 9
)

// SatpModeSv39 is the satp MODE field value selecting SV39 translation.
const SatpModeSv39 uint64 = 8

// Register aliases used by the calling convention.
const (
	RegRA = 1
	RegSP = 2
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA7 = 17
)

var errHalted = &kernel.Error{Module: "cpu", Message: "hart halted"}

// Bus provides the hart with access to physical memory. Accesses outside
// the memory backed by the bus report false and raise access faults.
type Bus interface {
	ReadPhys(pa uint64, p []byte) bool
	WritePhys(pa uint64, p []byte) bool
}

// KernelRegs is the supervisor register file preserved across a context
// switch: the return address, the stack pointer and the callee-saved
// registers s0..s11.
type KernelRegs struct {
	RA uint64
	SP uint64
	S  [12]uint64
}

// Hart is the state of the simulated RV64 hardware thread.
type Hart struct {
	// Integer registers x0..x31 of the interrupted user context.
	X [32]uint64

	// Program counter.
	PC uint64

	// Current privilege level.
	Priv uint8

	// Supervisor CSRs.
	Sstatus  uint64
	Sie      uint64
	Sip      uint64
	Stvec    uint64
	Sscratch uint64
	Sepc     uint64
	Scause   uint64
	Stval    uint64
	Satp     uint64

	// Time is the value of the time CSR. It advances by TicksPerInstruction
	// on every retired instruction.
	Time uint64

	// Stimecmp is the timer compare value programmed by the firmware.
	Stimecmp uint64

	// Instret counts retired instructions.
	Instret uint64

	// TicksPerInstruction is the number of timer ticks that elapse for every
	// retired instruction.
	TicksPerInstruction uint64

	// Kernel holds the supervisor register file of the running kernel
	// thread.
	Kernel KernelRegs

	bus Bus
	tlb [tlbEntries]tlbEntry
}

// NewHart creates a hart attached to the supplied bus. The hart starts in
// supervisor mode with translation disabled.
func NewHart(bus Bus, ticksPerInstruction uint64) *Hart {
	if ticksPerInstruction == 0 {
		ticksPerInstruction = 1
	}

	return &Hart{
		bus:                 bus,
		Priv:                PrivSupervisor,
		Stimecmp:            ^uint64(0),
		TicksPerInstruction: ticksPerInstruction,
	}
}

// Reg returns the value of integer register x[i]. x0 always reads as zero.
func (h *Hart) Reg(i int) uint64 {
	if i == 0 {
		return 0
	}
	return h.X[i]
}

// SetReg writes integer register x[i]. Writes to x0 are discarded.
func (h *Hart) SetReg(i int, v uint64) {
	if i != 0 {
		h.X[i] = v
	}
}

// SetTimerCompare programs the timer compare value and clears any pending
// timer interrupt.
func (h *Hart) SetTimerCompare(stime uint64) {
	h.Stimecmp = stime
	h.Sip &^= SipSTIP
}

// Halt stops instruction execution. Halt never returns to its caller; the
// board that owns the hart recovers the halt via IsHalt.
func Halt() {
	panic(errHalted)
}

// IsHalt reports whether a value recovered from a panic was produced by Halt.
func IsHalt(r interface{}) bool {
	err, ok := r.(*kernel.Error)
	return ok && err == errHalted
}

// CauseName returns a human readable description of a trap cause.
func CauseName(cause uint64) string {
	switch cause {
	case CauseInsnAddrMisaligned:
		return "InstructionMisaligned"
	case CauseInsnAccessFault:
		return "InstructionFault"
	case CauseIllegalInsn:
		return "IllegalInstruction"
	case CauseBreakpoint:
		return "Breakpoint"
	case CauseLoadAddrMisaligned:
		return "LoadMisaligned"
	case CauseLoadAccessFault:
		return "LoadFault"
	case CauseStoreAddrMisaligned:
		return "StoreMisaligned"
	case CauseStoreAccessFault:
		return "StoreFault"
	case CauseEcallFromU:
		return "UserEnvCall"
	case CauseInsnPageFault:
		return "InstructionPageFault"
	case CauseLoadPageFault:
		return "LoadPageFault"
	case CauseStorePageFault:
		return "StorePageFault"
	case CauseSSoftwareInt:
		return "SupervisorSoft"
	case CauseSTimerInt:
		return "SupervisorTimer"
	case CauseSExternalInt:
		return "SupervisorExternal"
	}
	return "Unknown"
}
