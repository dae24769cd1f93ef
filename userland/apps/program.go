// Package apps contains the demonstration applications run by the kernel.
// Each application is assembled with rvasm into an ELF64 executable.
package apps

import (
	"fmt"
	"gopherv/userland/rvasm"
)

// System call numbers understood by the kernel.
const (
	sysWrite   = 64
	sysExit    = 93
	sysYield   = 124
	sysGetTime = 169

	fdStdout = 1
)

// program wraps an assembler with the user library routines shared by the
// applications.
type program struct {
	*rvasm.Assembler

	strings  int
	usesUint bool
}

func newProgram() *program {
	p := &program{Assembler: rvasm.New()}
	p.Label("_start")
	return p
}

// syscall issues system call id. Arguments are expected in a0..a2.
func (p *program) syscall(id int64) {
	p.Li(rvasm.A7, id)
	p.Ecall()
}

// puts writes s to stdout.
func (p *program) puts(s string) {
	name := fmt.Sprintf(".str%d", p.strings)
	p.strings++
	p.Data(name, []byte(s))

	p.Li(rvasm.A0, fdStdout)
	p.La(rvasm.A1, name)
	p.Li(rvasm.A2, int64(len(s)))
	p.syscall(sysWrite)
}

// putUint writes the unsigned value held in reg to stdout in decimal.
func (p *program) putUint(reg int) {
	p.usesUint = true
	p.Mv(rvasm.A0, reg)
	p.Call("put_uint")
}

// exit terminates the program with the supplied code.
func (p *program) exit(code int64) {
	p.Li(rvasm.A0, code)
	p.syscall(sysExit)
}

// build appends the library routines referenced by the program and returns
// the ELF image.
func (p *program) build() ([]byte, error) {
	if p.usesUint {
		p.emitPutUint()
	}

	img, err := p.Build(rvasm.DefaultTextBase)
	if err != nil {
		return nil, err
	}
	return img.Bytes(), nil
}

// emitPutUint emits put_uint(a0): the digits are produced right to left in
// a 32-byte buffer on the stack and written with a single call. The routine
// clobbers t1..t4 and a0..a2.
func (p *program) emitPutUint() {
	p.Label("put_uint")
	p.Addi(rvasm.SP, rvasm.SP, -32)
	p.Addi(rvasm.T1, rvasm.SP, 32)
	p.Li(rvasm.T2, 10)

	p.Label("put_uint_digit")
	p.Remu(rvasm.T3, rvasm.A0, rvasm.T2)
	p.Divu(rvasm.A0, rvasm.A0, rvasm.T2)
	p.Addi(rvasm.T3, rvasm.T3, '0')
	p.Addi(rvasm.T1, rvasm.T1, -1)
	p.Sb(rvasm.T3, rvasm.T1, 0)
	p.Bne(rvasm.A0, rvasm.Zero, "put_uint_digit")

	p.Addi(rvasm.T4, rvasm.SP, 32)
	p.Sub(rvasm.A2, rvasm.T4, rvasm.T1)
	p.Mv(rvasm.A1, rvasm.T1)
	p.Li(rvasm.A0, fdStdout)
	p.Li(rvasm.A7, sysWrite)
	p.Ecall()

	p.Addi(rvasm.SP, rvasm.SP, 32)
	p.Ret()
}
