// Package rvasm is a small RV64IM assembler used to build the user
// applications that run on the kernel. It supports labels with forward
// references, the common pseudo instructions and emits ELF64 executables.
package rvasm

import "fmt"

// Integer register numbers using their ABI names.
const (
	Zero = iota
	RA
	SP
	GP
	TP
	T0
	T1
	T2
	S0
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6
)

// Major opcodes.
const (
	opLoad    = 0x03
	opMiscMem = 0x0f
	opImm     = 0x13
	opAuipc   = 0x17
	opImm32   = 0x1b
	opStore   = 0x23
	opReg     = 0x33
	opLui     = 0x37
	opReg32   = 0x3b
	opBranch  = 0x63
	opJalr    = 0x67
	opJal     = 0x6f
	opSystem  = 0x73
)

type fixupKind uint8

const (
	fixupBranch fixupKind = iota
	fixupJal
	fixupPCRel
)

type fixup struct {
	at    int
	label string
	kind  fixupKind
}

// Assembler accumulates instructions and read-only data. Instructions are
// placed in a text segment; data added with Data is placed in a read-only
// segment that starts on the page following the text.
type Assembler struct {
	insns      []uint32
	textLabels map[string]int

	data       []byte
	dataLabels map[string]int

	fixups []fixup
}

// New returns an empty assembler.
func New() *Assembler {
	return &Assembler{
		textLabels: make(map[string]int),
		dataLabels: make(map[string]int),
	}
}

// Label defines a label at the current text position.
func (a *Assembler) Label(name string) {
	a.textLabels[name] = len(a.insns)
}

// Data appends b to the read-only data segment under the supplied label.
func (a *Assembler) Data(name string, b []byte) {
	for len(a.data)%8 != 0 {
		a.data = append(a.data, 0)
	}
	a.dataLabels[name] = len(a.data)
	a.data = append(a.data, b...)
}

// Word emits a raw instruction word.
func (a *Assembler) Word(insn uint32) {
	a.insns = append(a.insns, insn)
}

// Len returns the number of emitted instructions.
func (a *Assembler) Len() int {
	return len(a.insns)
}

func (a *Assembler) r(op, f3, f7 uint32, rd, rs1, rs2 int) {
	a.Word(f7<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | f3<<12 | uint32(rd)<<7 | op)
}

func (a *Assembler) i(op, f3 uint32, rd, rs1 int, imm int64) {
	a.Word(encodeI(op, f3, rd, rs1, imm))
}

func (a *Assembler) s(f3 uint32, rs1, rs2 int, imm int64) {
	u := uint32(imm)
	a.Word((u>>5&0x7f)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | f3<<12 | (u&0x1f)<<7 | opStore)
}

func (a *Assembler) branch(f3 uint32, rs1, rs2 int, label string) {
	a.fixups = append(a.fixups, fixup{at: len(a.insns), label: label, kind: fixupBranch})
	a.Word(uint32(rs2)<<20 | uint32(rs1)<<15 | f3<<12 | opBranch)
}

func encodeI(op, f3 uint32, rd, rs1 int, imm int64) uint32 {
	return uint32(imm)<<20 | uint32(rs1)<<15 | f3<<12 | uint32(rd)<<7 | op
}

// Arithmetic and logic.
func (a *Assembler) Add(rd, rs1, rs2 int)  { a.r(opReg, 0, 0, rd, rs1, rs2) }
func (a *Assembler) Sub(rd, rs1, rs2 int)  { a.r(opReg, 0, 0x20, rd, rs1, rs2) }
func (a *Assembler) Sll(rd, rs1, rs2 int)  { a.r(opReg, 1, 0, rd, rs1, rs2) }
func (a *Assembler) Slt(rd, rs1, rs2 int)  { a.r(opReg, 2, 0, rd, rs1, rs2) }
func (a *Assembler) Sltu(rd, rs1, rs2 int) { a.r(opReg, 3, 0, rd, rs1, rs2) }
func (a *Assembler) Xor(rd, rs1, rs2 int)  { a.r(opReg, 4, 0, rd, rs1, rs2) }
func (a *Assembler) Srl(rd, rs1, rs2 int)  { a.r(opReg, 5, 0, rd, rs1, rs2) }
func (a *Assembler) Sra(rd, rs1, rs2 int)  { a.r(opReg, 5, 0x20, rd, rs1, rs2) }
func (a *Assembler) Or(rd, rs1, rs2 int)   { a.r(opReg, 6, 0, rd, rs1, rs2) }
func (a *Assembler) And(rd, rs1, rs2 int)  { a.r(opReg, 7, 0, rd, rs1, rs2) }
func (a *Assembler) Addw(rd, rs1, rs2 int) { a.r(opReg32, 0, 0, rd, rs1, rs2) }
func (a *Assembler) Subw(rd, rs1, rs2 int) { a.r(opReg32, 0, 0x20, rd, rs1, rs2) }

// Multiplication and division.
func (a *Assembler) Mul(rd, rs1, rs2 int)   { a.r(opReg, 0, 1, rd, rs1, rs2) }
func (a *Assembler) Mulh(rd, rs1, rs2 int)  { a.r(opReg, 1, 1, rd, rs1, rs2) }
func (a *Assembler) Mulhu(rd, rs1, rs2 int) { a.r(opReg, 3, 1, rd, rs1, rs2) }
func (a *Assembler) Div(rd, rs1, rs2 int)   { a.r(opReg, 4, 1, rd, rs1, rs2) }
func (a *Assembler) Divu(rd, rs1, rs2 int)  { a.r(opReg, 5, 1, rd, rs1, rs2) }
func (a *Assembler) Rem(rd, rs1, rs2 int)   { a.r(opReg, 6, 1, rd, rs1, rs2) }
func (a *Assembler) Remu(rd, rs1, rs2 int)  { a.r(opReg, 7, 1, rd, rs1, rs2) }
func (a *Assembler) Mulw(rd, rs1, rs2 int)  { a.r(opReg32, 0, 1, rd, rs1, rs2) }
func (a *Assembler) Divw(rd, rs1, rs2 int)  { a.r(opReg32, 4, 1, rd, rs1, rs2) }
func (a *Assembler) Remw(rd, rs1, rs2 int)  { a.r(opReg32, 6, 1, rd, rs1, rs2) }

// Immediate forms.
func (a *Assembler) Addi(rd, rs1 int, imm int64)   { a.i(opImm, 0, rd, rs1, imm) }
func (a *Assembler) Slti(rd, rs1 int, imm int64)   { a.i(opImm, 2, rd, rs1, imm) }
func (a *Assembler) Sltiu(rd, rs1 int, imm int64)  { a.i(opImm, 3, rd, rs1, imm) }
func (a *Assembler) Xori(rd, rs1 int, imm int64)   { a.i(opImm, 4, rd, rs1, imm) }
func (a *Assembler) Ori(rd, rs1 int, imm int64)    { a.i(opImm, 6, rd, rs1, imm) }
func (a *Assembler) Andi(rd, rs1 int, imm int64)   { a.i(opImm, 7, rd, rs1, imm) }
func (a *Assembler) Slli(rd, rs1 int, shamt int64) { a.i(opImm, 1, rd, rs1, shamt&0x3f) }
func (a *Assembler) Srli(rd, rs1 int, shamt int64) { a.i(opImm, 5, rd, rs1, shamt&0x3f) }
func (a *Assembler) Srai(rd, rs1 int, shamt int64) { a.i(opImm, 5, rd, rs1, 0x400|shamt&0x3f) }
func (a *Assembler) Addiw(rd, rs1 int, imm int64)  { a.i(opImm32, 0, rd, rs1, imm) }

// Upper immediates.
func (a *Assembler) Lui(rd int, imm20 int64) {
	a.Word(uint32(imm20)<<12 | uint32(rd)<<7 | opLui)
}

func (a *Assembler) Auipc(rd int, imm20 int64) {
	a.Word(uint32(imm20)<<12 | uint32(rd)<<7 | opAuipc)
}

// Loads and stores.
func (a *Assembler) Lb(rd, rs1 int, off int64)  { a.i(opLoad, 0, rd, rs1, off) }
func (a *Assembler) Lh(rd, rs1 int, off int64)  { a.i(opLoad, 1, rd, rs1, off) }
func (a *Assembler) Lw(rd, rs1 int, off int64)  { a.i(opLoad, 2, rd, rs1, off) }
func (a *Assembler) Ld(rd, rs1 int, off int64)  { a.i(opLoad, 3, rd, rs1, off) }
func (a *Assembler) Lbu(rd, rs1 int, off int64) { a.i(opLoad, 4, rd, rs1, off) }
func (a *Assembler) Lhu(rd, rs1 int, off int64) { a.i(opLoad, 5, rd, rs1, off) }
func (a *Assembler) Lwu(rd, rs1 int, off int64) { a.i(opLoad, 6, rd, rs1, off) }
func (a *Assembler) Sb(rs2, rs1 int, off int64) { a.s(0, rs1, rs2, off) }
func (a *Assembler) Sh(rs2, rs1 int, off int64) { a.s(1, rs1, rs2, off) }
func (a *Assembler) Sw(rs2, rs1 int, off int64) { a.s(2, rs1, rs2, off) }
func (a *Assembler) Sd(rs2, rs1 int, off int64) { a.s(3, rs1, rs2, off) }

// Control transfer.
func (a *Assembler) Beq(rs1, rs2 int, label string)  { a.branch(0, rs1, rs2, label) }
func (a *Assembler) Bne(rs1, rs2 int, label string)  { a.branch(1, rs1, rs2, label) }
func (a *Assembler) Blt(rs1, rs2 int, label string)  { a.branch(4, rs1, rs2, label) }
func (a *Assembler) Bge(rs1, rs2 int, label string)  { a.branch(5, rs1, rs2, label) }
func (a *Assembler) Bltu(rs1, rs2 int, label string) { a.branch(6, rs1, rs2, label) }
func (a *Assembler) Bgeu(rs1, rs2 int, label string) { a.branch(7, rs1, rs2, label) }

// Jal jumps to label storing the return address in rd.
func (a *Assembler) Jal(rd int, label string) {
	a.fixups = append(a.fixups, fixup{at: len(a.insns), label: label, kind: fixupJal})
	a.Word(uint32(rd)<<7 | opJal)
}

// Jalr jumps to rs1+off storing the return address in rd.
func (a *Assembler) Jalr(rd, rs1 int, off int64) { a.i(opJalr, 0, rd, rs1, off) }

// J jumps to label.
func (a *Assembler) J(label string) { a.Jal(Zero, label) }

// Call jumps to label storing the return address in ra.
func (a *Assembler) Call(label string) { a.Jal(RA, label) }

// Ret returns to the address held in ra.
func (a *Assembler) Ret() { a.Jalr(Zero, RA, 0) }

// System instructions.
func (a *Assembler) Ecall()  { a.Word(0x00000073) }
func (a *Assembler) Ebreak() { a.Word(0x00100073) }
func (a *Assembler) Fence()  { a.Word(0x0ff0000f) }

// Rdtime reads the time CSR into rd.
func (a *Assembler) Rdtime(rd int) { a.i(opSystem, 2, rd, Zero, 0xc01) }

// Rdcycle reads the cycle CSR into rd.
func (a *Assembler) Rdcycle(rd int) { a.i(opSystem, 2, rd, Zero, 0xc00) }

// Nop emits addi x0, x0, 0.
func (a *Assembler) Nop() { a.Addi(Zero, Zero, 0) }

// Mv copies rs into rd.
func (a *Assembler) Mv(rd, rs int) { a.Addi(rd, rs, 0) }

// Li loads an arbitrary 64-bit constant into rd.
func (a *Assembler) Li(rd int, imm int64) {
	if imm >= -2048 && imm < 2048 {
		a.Addi(rd, Zero, imm)
		return
	}

	if imm == int64(int32(imm)) {
		lo := signExtend12(imm)
		a.Lui(rd, ((imm-lo)>>12)&0xfffff)
		if lo != 0 {
			a.Addiw(rd, rd, lo)
		}
		return
	}

	lo := signExtend12(imm)
	a.Li(rd, (imm-lo)>>12)
	a.Slli(rd, rd, 12)
	if lo != 0 {
		a.Addi(rd, rd, lo)
	}
}

// La loads the address of a text or data label into rd using a pc-relative
// auipc/addi pair.
func (a *Assembler) La(rd int, label string) {
	a.fixups = append(a.fixups, fixup{at: len(a.insns), label: label, kind: fixupPCRel})
	a.Auipc(rd, 0)
	a.Addi(rd, rd, 0)
}

func signExtend12(v int64) int64 {
	return int64(uint64(v)<<52) >> 52
}

// Link resolves every label reference assuming the text segment is loaded at
// textBase and returns the instruction words together with the data segment
// address.
func (a *Assembler) Link(textBase uint64) ([]uint32, uint64, error) {
	var (
		insns    = append([]uint32(nil), a.insns...)
		dataBase = alignUp(textBase+uint64(len(insns))*4, pageSize)
	)

	for _, fix := range a.fixups {
		pc := textBase + uint64(fix.at)*4

		target, err := a.resolve(fix.label, textBase, dataBase)
		if err != nil {
			return nil, 0, err
		}
		off := int64(target - pc)

		switch fix.kind {
		case fixupBranch:
			if off < -4096 || off >= 4096 {
				return nil, 0, fmt.Errorf("branch to %q out of range", fix.label)
			}
			u := uint32(off)
			insns[fix.at] |= (u>>12&1)<<31 | (u>>5&0x3f)<<25 | (u>>1&0xf)<<8 | (u>>11&1)<<7
		case fixupJal:
			if off < -(1<<20) || off >= 1<<20 {
				return nil, 0, fmt.Errorf("jump to %q out of range", fix.label)
			}
			u := uint32(off)
			insns[fix.at] |= (u>>20&1)<<31 | (u>>1&0x3ff)<<21 | (u>>11&1)<<20 | (u>>12&0xff)<<12
		case fixupPCRel:
			lo := signExtend12(off)
			hi := (off - lo) >> 12
			insns[fix.at] |= uint32(hi&0xfffff) << 12
			insns[fix.at+1] |= uint32(lo) << 20
		}
	}

	return insns, dataBase, nil
}

func (a *Assembler) resolve(label string, textBase, dataBase uint64) (uint64, error) {
	if idx, ok := a.textLabels[label]; ok {
		return textBase + uint64(idx)*4, nil
	}
	if off, ok := a.dataLabels[label]; ok {
		return dataBase + uint64(off), nil
	}
	return 0, fmt.Errorf("undefined label %q", label)
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
