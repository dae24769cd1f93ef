package trap

import (
	"gopherv/kernel"
	"gopherv/kernel/cpu"
	"gopherv/kernel/gate"
	"gopherv/kernel/mm/vmm"
)

var (
	errNotAtTrampoline     = &kernel.Error{Module: "trap", Message: "hart did not enter the trampoline"}
	errTrampolineNotMapped = &kernel.Error{Module: "trap", Message: "trampoline is not mapped in the active address space"}
	errHandlerNotMapped    = &kernel.Error{Module: "trap", Message: "trap handler is not executable in the kernel address space"}
)

// The trampoline page holds the only code that runs while the user address
// space is active in supervisor mode. It is mapped at the same address in
// every address space so that switching satp in the middle of it is safe.
// sscratch always holds the address of the TrapContext page.

// AllTraps is the trap entry. It saves the user registers, sstatus and sepc
// into the TrapContext page of the interrupted address space, switches to
// the kernel address space and transfers control to the trap handler on
// the kernel stack recorded in the context.
func AllTraps(hart *cpu.Hart) *kernel.Error {
	if hart.Priv != cpu.PrivSupervisor || hart.PC != vmm.Trampoline {
		return errNotAtTrampoline
	}
	if !hart.CanExecute(vmm.Trampoline) {
		return errTrampolineNotMapped
	}

	var buf [gate.ContextSize]byte
	ctxAddr := hart.Sscratch
	if err := hart.LoadVirt(ctxAddr, buf[:]); err != nil {
		return err
	}

	frame := gate.FrameOf(buf[:])
	for i := 1; i < len(hart.X); i++ {
		frame.SetReg(i, hart.X[i])
	}
	frame.SetSstatus(hart.Sstatus)
	frame.SetSepc(hart.Sepc)
	if err := hart.StoreVirt(ctxAddr, buf[:]); err != nil {
		return err
	}

	hart.SwitchSATP(frame.KernelSatp())
	hart.FlushTLB()

	handler := frame.TrapHandler()
	if !hart.CanExecute(handler) {
		return errHandlerNotMapped
	}

	hart.Kernel.SP = frame.KernelSP()
	hart.PC = handler
	return nil
}

// Restore is the trap return. It switches to the user address space,
// reloads the registers saved in the TrapContext page at ctxAddr and
// returns to the interrupted code with sret.
func Restore(hart *cpu.Hart, ctxAddr, userSatp uint64) *kernel.Error {
	hart.SwitchSATP(userSatp)
	hart.FlushTLB()
	if !hart.CanExecute(vmm.Trampoline) {
		return errTrampolineNotMapped
	}

	hart.Sscratch = ctxAddr

	var buf [gate.ContextSize]byte
	if err := hart.LoadVirt(ctxAddr, buf[:]); err != nil {
		return err
	}

	frame := gate.FrameOf(buf[:])
	hart.Sstatus = frame.Sstatus()
	hart.Sepc = frame.Sepc()
	hart.X[0] = 0
	for i := 1; i < len(hart.X); i++ {
		hart.X[i] = frame.Reg(i)
	}

	hart.Sret()
	return nil
}
