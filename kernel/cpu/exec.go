package cpu

import (
	"encoding/binary"
	"math/bits"
)

// Major opcodes.
const (
	opLoad     = 0x03
	opMiscMem  = 0x0f
	opImm      = 0x13
	opAuipc    = 0x17
	opImm32    = 0x1b
	opStore    = 0x23
	opReg      = 0x33
	opLui      = 0x37
	opReg32    = 0x3b
	opBranch   = 0x63
	opJalr     = 0x67
	opJal      = 0x6f
	opSystem   = 0x73
	funct7Alt  = 0x20
	funct7MulD = 0x01
)

// Read-only counter CSRs accessible from user mode.
const (
	csrCycle   = 0xc00
	csrTime    = 0xc01
	csrInstret = 0xc02
)

// Run executes user-mode instructions until the hart takes a trap or the
// instruction budget is exhausted. It reports whether the hart is now in
// supervisor mode at stvec. Calling Run while the hart is already in
// supervisor mode executes nothing and returns true.
func (h *Hart) Run(budget int) bool {
	for ; budget > 0; budget-- {
		if h.Priv != PrivUser {
			return true
		}

		if cause, ok := h.pendingInterrupt(); ok {
			h.raiseTrap(cause, 0)
			return true
		}

		h.step()
	}

	return h.Priv != PrivUser
}

// step fetches, decodes and executes a single instruction. Instructions that
// raise an exception do not retire.
func (h *Hart) step() {
	insn, ok := h.fetch()
	if !ok {
		return
	}

	if h.execute(insn) {
		h.Instret++
		h.Time += h.TicksPerInstruction
	}
}

func (h *Hart) fetch() (uint32, bool) {
	if h.PC&3 != 0 {
		h.raiseTrap(CauseInsnAddrMisaligned, h.PC)
		return 0, false
	}

	pa, cause := h.translate(h.PC, accessFetch, h.Priv)
	if cause != noFault {
		h.raiseTrap(cause, h.PC)
		return 0, false
	}

	var buf [4]byte
	if !h.bus.ReadPhys(pa, buf[:]) {
		h.raiseTrap(CauseInsnAccessFault, h.PC)
		return 0, false
	}

	return binary.LittleEndian.Uint32(buf[:]), true
}

// load reads size bytes at va using the current privilege level.
func (h *Hart) load(va uint64, size int) (uint64, bool) {
	if va&uint64(size-1) != 0 {
		h.raiseTrap(CauseLoadAddrMisaligned, va)
		return 0, false
	}

	pa, cause := h.translate(va, accessLoad, h.Priv)
	if cause != noFault {
		h.raiseTrap(cause, va)
		return 0, false
	}

	var buf [8]byte
	if !h.bus.ReadPhys(pa, buf[:size]) {
		h.raiseTrap(CauseLoadAccessFault, va)
		return 0, false
	}

	return binary.LittleEndian.Uint64(buf[:]), true
}

// store writes the low size bytes of v at va using the current privilege
// level.
func (h *Hart) store(va uint64, size int, v uint64) bool {
	if va&uint64(size-1) != 0 {
		h.raiseTrap(CauseStoreAddrMisaligned, va)
		return false
	}

	pa, cause := h.translate(va, accessStore, h.Priv)
	if cause != noFault {
		h.raiseTrap(cause, va)
		return false
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if !h.bus.WritePhys(pa, buf[:size]) {
		h.raiseTrap(CauseStoreAccessFault, va)
		return false
	}

	return true
}

func (h *Hart) illegal(insn uint32) bool {
	h.raiseTrap(CauseIllegalInsn, uint64(insn))
	return false
}

// execute runs a decoded instruction and reports whether it retired.
func (h *Hart) execute(insn uint32) bool {
	var (
		rd     = int(insn>>7) & 0x1f
		rs1    = int(insn>>15) & 0x1f
		rs2    = int(insn>>20) & 0x1f
		funct3 = (insn >> 12) & 0x7
		funct7 = insn >> 25
		pc     = h.PC
		nextPC = pc + 4
	)

	switch insn & 0x7f {
	case opLui:
		h.SetReg(rd, immU(insn))

	case opAuipc:
		h.SetReg(rd, pc+immU(insn))

	case opJal:
		h.SetReg(rd, nextPC)
		nextPC = pc + immJ(insn)

	case opJalr:
		if funct3 != 0 {
			return h.illegal(insn)
		}
		target := (h.Reg(rs1) + immI(insn)) &^ 1
		h.SetReg(rd, nextPC)
		nextPC = target

	case opBranch:
		a, b := h.Reg(rs1), h.Reg(rs2)
		var taken bool
		switch funct3 {
		case 0:
			taken = a == b
		case 1:
			taken = a != b
		case 4:
			taken = int64(a) < int64(b)
		case 5:
			taken = int64(a) >= int64(b)
		case 6:
			taken = a < b
		case 7:
			taken = a >= b
		default:
			return h.illegal(insn)
		}
		if taken {
			nextPC = pc + immB(insn)
		}

	case opLoad:
		var (
			size   int
			signed bool
		)
		switch funct3 {
		case 0, 4:
			size = 1
		case 1, 5:
			size = 2
		case 2, 6:
			size = 4
		case 3:
			size = 8
		default:
			return h.illegal(insn)
		}
		signed = funct3 < 4

		v, ok := h.load(h.Reg(rs1)+immI(insn), size)
		if !ok {
			return false
		}
		if signed && size < 8 {
			v = signExtend(v, size*8)
		}
		h.SetReg(rd, v)

	case opStore:
		if funct3 > 3 {
			return h.illegal(insn)
		}
		if !h.store(h.Reg(rs1)+immS(insn), 1<<funct3, h.Reg(rs2)) {
			return false
		}

	case opImm:
		v, ok := aluImm(funct3, insn, h.Reg(rs1))
		if !ok {
			return h.illegal(insn)
		}
		h.SetReg(rd, v)

	case opImm32:
		v, ok := aluImm32(funct3, insn, h.Reg(rs1))
		if !ok {
			return h.illegal(insn)
		}
		h.SetReg(rd, v)

	case opReg:
		v, ok := aluReg(funct3, funct7, h.Reg(rs1), h.Reg(rs2))
		if !ok {
			return h.illegal(insn)
		}
		h.SetReg(rd, v)

	case opReg32:
		v, ok := aluReg32(funct3, funct7, h.Reg(rs1), h.Reg(rs2))
		if !ok {
			return h.illegal(insn)
		}
		h.SetReg(rd, v)

	case opMiscMem:
		// FENCE and FENCE.I are no-ops on a single in-order hart.

	case opSystem:
		return h.system(insn, rd, rs1, funct3)

	default:
		return h.illegal(insn)
	}

	h.PC = nextPC
	return true
}

// system executes ECALL, EBREAK and reads of the user counter CSRs. Every
// other SYSTEM instruction is privileged and illegal in user mode.
func (h *Hart) system(insn uint32, rd, rs1 int, funct3 uint32) bool {
	if funct3 == 0 {
		switch {
		case insn == 0x00000073:
			h.raiseTrap(CauseEcallFromU, 0)
		case insn == 0x00100073:
			h.raiseTrap(CauseBreakpoint, h.PC)
		default:
			return h.illegal(insn)
		}
		return false
	}

	// Only csrrs/csrrc/csrrsi/csrrci with a zero source are pure reads.
	if (funct3 != 2 && funct3 != 3 && funct3 != 6 && funct3 != 7) || rs1 != 0 {
		return h.illegal(insn)
	}

	var v uint64
	switch insn >> 20 {
	case csrCycle, csrInstret:
		v = h.Instret
	case csrTime:
		v = h.Time
	default:
		return h.illegal(insn)
	}

	h.SetReg(rd, v)
	h.PC += 4
	return true
}

func aluImm(funct3, insn uint32, a uint64) (uint64, bool) {
	imm := immI(insn)
	shamt := uint64(insn>>20) & 0x3f
	funct6 := insn >> 26

	switch funct3 {
	case 0:
		return a + imm, true
	case 1:
		if funct6 != 0 {
			return 0, false
		}
		return a << shamt, true
	case 2:
		return boolToReg(int64(a) < int64(imm)), true
	case 3:
		return boolToReg(a < imm), true
	case 4:
		return a ^ imm, true
	case 5:
		switch funct6 {
		case 0:
			return a >> shamt, true
		case 0x10:
			return uint64(int64(a) >> shamt), true
		}
		return 0, false
	case 6:
		return a | imm, true
	default:
		return a & imm, true
	}
}

func aluImm32(funct3, insn uint32, a uint64) (uint64, bool) {
	shamt := (insn >> 20) & 0x1f
	funct7 := insn >> 25

	switch funct3 {
	case 0:
		return sext32(uint32(a + immI(insn))), true
	case 1:
		if funct7 != 0 {
			return 0, false
		}
		return sext32(uint32(a) << shamt), true
	case 5:
		switch funct7 {
		case 0:
			return sext32(uint32(a) >> shamt), true
		case funct7Alt:
			return sext32(uint32(int32(uint32(a)) >> shamt)), true
		}
	}
	return 0, false
}

func aluReg(funct3, funct7 uint32, a, b uint64) (uint64, bool) {
	switch funct7 {
	case 0:
		switch funct3 {
		case 0:
			return a + b, true
		case 1:
			return a << (b & 0x3f), true
		case 2:
			return boolToReg(int64(a) < int64(b)), true
		case 3:
			return boolToReg(a < b), true
		case 4:
			return a ^ b, true
		case 5:
			return a >> (b & 0x3f), true
		case 6:
			return a | b, true
		default:
			return a & b, true
		}
	case funct7Alt:
		switch funct3 {
		case 0:
			return a - b, true
		case 5:
			return uint64(int64(a) >> (b & 0x3f)), true
		}
	case funct7MulD:
		return mulDiv(funct3, a, b), true
	}
	return 0, false
}

func aluReg32(funct3, funct7 uint32, a, b uint64) (uint64, bool) {
	x, y := uint32(a), uint32(b)

	switch funct7 {
	case 0:
		switch funct3 {
		case 0:
			return sext32(x + y), true
		case 1:
			return sext32(x << (y & 0x1f)), true
		case 5:
			return sext32(x >> (y & 0x1f)), true
		}
	case funct7Alt:
		switch funct3 {
		case 0:
			return sext32(x - y), true
		case 5:
			return sext32(uint32(int32(x) >> (y & 0x1f))), true
		}
	case funct7MulD:
		return mulDiv32(funct3, x, y)
	}
	return 0, false
}

// mulDiv implements the RV64M instructions. Division by zero and signed
// overflow produce the results mandated by the ISA instead of trapping.
func mulDiv(funct3 uint32, a, b uint64) uint64 {
	switch funct3 {
	case 0: // mul
		return a * b
	case 1: // mulh
		hi, _ := bits.Mul64(a, b)
		if int64(a) < 0 {
			hi -= b
		}
		if int64(b) < 0 {
			hi -= a
		}
		return hi
	case 2: // mulhsu
		hi, _ := bits.Mul64(a, b)
		if int64(a) < 0 {
			hi -= b
		}
		return hi
	case 3: // mulhu
		hi, _ := bits.Mul64(a, b)
		return hi
	case 4: // div
		if b == 0 {
			return ^uint64(0)
		}
		return uint64(int64(a) / int64(b))
	case 5: // divu
		if b == 0 {
			return ^uint64(0)
		}
		return a / b
	case 6: // rem
		if b == 0 {
			return a
		}
		return uint64(int64(a) % int64(b))
	default: // remu
		if b == 0 {
			return a
		}
		return a % b
	}
}

func mulDiv32(funct3 uint32, a, b uint32) (uint64, bool) {
	switch funct3 {
	case 0: // mulw
		return sext32(a * b), true
	case 4: // divw
		if b == 0 {
			return ^uint64(0), true
		}
		return sext32(uint32(int32(a) / int32(b))), true
	case 5: // divuw
		if b == 0 {
			return ^uint64(0), true
		}
		return sext32(a / b), true
	case 6: // remw
		if b == 0 {
			return sext32(a), true
		}
		return sext32(uint32(int32(a) % int32(b))), true
	case 7: // remuw
		if b == 0 {
			return sext32(a), true
		}
		return sext32(a % b), true
	}
	return 0, false
}

func immI(insn uint32) uint64 {
	return uint64(int64(int32(insn)) >> 20)
}

func immS(insn uint32) uint64 {
	return uint64(int64(int32(insn&0xfe000000))>>20) | uint64((insn>>7)&0x1f)
}

func immB(insn uint32) uint64 {
	return uint64(int64(int32(insn&0x80000000))>>19) |
		uint64((insn&0x80)<<4) |
		uint64((insn>>20)&0x7e0) |
		uint64((insn>>7)&0x1e)
}

func immU(insn uint32) uint64 {
	return uint64(int64(int32(insn & 0xfffff000)))
}

func immJ(insn uint32) uint64 {
	return uint64(int64(int32(insn&0x80000000))>>11) |
		uint64(insn&0xff000) |
		uint64((insn>>9)&0x800) |
		uint64((insn>>20)&0x7fe)
}

func signExtend(v uint64, bits int) uint64 {
	shift := 64 - bits
	return uint64(int64(v<<shift) >> shift)
}

func sext32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

func boolToReg(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
