// Package gate defines the state that crosses the user/kernel boundary: the
// TrapContext saved on every trap and the addresses of the kernel entry
// points that the trampoline and the context switch transfer control to.
package gate

import (
	"encoding/binary"
	"gopherv/kernel/cpu"
	"gopherv/kernel/kfmt"
	"io"
)

// Addresses of the kernel entry points inside the kernel text.
const (
	// KernelTextBase is the address where the kernel image is loaded.
	KernelTextBase = uint64(0x80200000)

	// TrapHandlerEntry is the entry of the supervisor trap handler that the
	// trampoline jumps to after saving the user context.
	TrapHandlerEntry = KernelTextBase + 0x100

	// TrapReturnEntry is the address a freshly created task starts from:
	// it returns to user mode through the trampoline.
	TrapReturnEntry = KernelTextBase + 0x200

	// SwitchReturnEntry is the address a suspended task resumes at once
	// it is switched back in.
	SwitchReturnEntry = KernelTextBase + 0x300

	// TrapFromKernelEntry is installed in stvec while the kernel runs. A
	// trap taken there is fatal.
	TrapFromKernelEntry = KernelTextBase + 0x380

	// BootReturnEntry is where the boot thread resumes once no task is
	// left to run.
	BootReturnEntry = KernelTextBase + 0x400
)

// TrapContext holds the user registers saved on a trap together with the
// kernel state the trampoline needs to enter the trap handler.
type TrapContext struct {
	X       [32]uint64
	Sstatus uint64
	Sepc    uint64

	// KernelSatp is the satp value of the kernel address space.
	KernelSatp uint64

	// KernelSP is the top of the task's kernel stack.
	KernelSP uint64

	// TrapHandler is the address of the trap handler entry.
	TrapHandler uint64
}

// AppInitContext returns the context that starts an application at entry
// in user mode with its stack pointer set to sp.
func AppInitContext(entry, sp, kernelSatp, kernelSP, trapHandler uint64) TrapContext {
	ctx := TrapContext{
		// return to user mode with interrupts enabled afterwards
		Sstatus:     cpu.SstatusSPIE,
		Sepc:        entry,
		KernelSatp:  kernelSatp,
		KernelSP:    kernelSP,
		TrapHandler: trapHandler,
	}
	ctx.X[cpu.RegSP] = sp
	return ctx
}

// DumpTo outputs the register contents to w.
func (ctx *TrapContext) DumpTo(w io.Writer) {
	for i := 0; i < 32; i += 2 {
		kfmt.Fprintf(w, "x%2d = %16x x%2d = %16x\n", i, ctx.X[i], i+1, ctx.X[i+1])
	}
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "SEPC    = %16x SSTATUS = %16x\n", ctx.Sepc, ctx.Sstatus)
	kfmt.Fprintf(w, "KSATP   = %16x KSP     = %16x\n", ctx.KernelSatp, ctx.KernelSP)
}

// Offsets of the TrapContext fields in its in-memory representation.
const (
	offsetX           = 0
	offsetSstatus     = 32 * 8
	offsetSepc        = offsetSstatus + 8
	offsetKernelSatp  = offsetSepc + 8
	offsetKernelSP    = offsetKernelSatp + 8
	offsetTrapHandler = offsetKernelSP + 8

	// ContextSize is the size of an encoded TrapContext.
	ContextSize = offsetTrapHandler + 8
)

// ContextFrame is a view over the memory that holds an encoded TrapContext.
// Fields are stored as little-endian double words in declaration order.
type ContextFrame []byte

// FrameOf returns a view over the first ContextSize bytes of b.
func FrameOf(b []byte) ContextFrame {
	return ContextFrame(b[:ContextSize:ContextSize])
}

func (f ContextFrame) word(off int) uint64       { return binary.LittleEndian.Uint64(f[off:]) }
func (f ContextFrame) setWord(off int, v uint64) { binary.LittleEndian.PutUint64(f[off:], v) }

// Reg returns the saved value of register x[i].
func (f ContextFrame) Reg(i int) uint64 { return f.word(offsetX + i*8) }

// SetReg updates the saved value of register x[i].
func (f ContextFrame) SetReg(i int, v uint64) { f.setWord(offsetX+i*8, v) }

// Sstatus returns the saved sstatus.
func (f ContextFrame) Sstatus() uint64 { return f.word(offsetSstatus) }

// SetSstatus updates the saved sstatus.
func (f ContextFrame) SetSstatus(v uint64) { f.setWord(offsetSstatus, v) }

// Sepc returns the saved exception pc.
func (f ContextFrame) Sepc() uint64 { return f.word(offsetSepc) }

// SetSepc updates the saved exception pc.
func (f ContextFrame) SetSepc(v uint64) { f.setWord(offsetSepc, v) }

// KernelSatp returns the satp value of the kernel address space.
func (f ContextFrame) KernelSatp() uint64 { return f.word(offsetKernelSatp) }

// KernelSP returns the top of the task's kernel stack.
func (f ContextFrame) KernelSP() uint64 { return f.word(offsetKernelSP) }

// TrapHandler returns the address of the trap handler entry.
func (f ContextFrame) TrapHandler() uint64 { return f.word(offsetTrapHandler) }

// Store encodes ctx into the frame.
func (f ContextFrame) Store(ctx *TrapContext) {
	for i, v := range ctx.X {
		f.SetReg(i, v)
	}
	f.setWord(offsetSstatus, ctx.Sstatus)
	f.setWord(offsetSepc, ctx.Sepc)
	f.setWord(offsetKernelSatp, ctx.KernelSatp)
	f.setWord(offsetKernelSP, ctx.KernelSP)
	f.setWord(offsetTrapHandler, ctx.TrapHandler)
}

// Load decodes the frame into a TrapContext.
func (f ContextFrame) Load() TrapContext {
	var ctx TrapContext
	for i := range ctx.X {
		ctx.X[i] = f.Reg(i)
	}
	ctx.Sstatus = f.Sstatus()
	ctx.Sepc = f.Sepc()
	ctx.KernelSatp = f.KernelSatp()
	ctx.KernelSP = f.KernelSP()
	ctx.TrapHandler = f.TrapHandler()
	return ctx
}
