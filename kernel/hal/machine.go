package hal

import (
	"gopherv/kernel"
	"gopherv/kernel/cpu"
	"gopherv/kernel/gate"
	"gopherv/kernel/mm"
	"gopherv/kernel/mm/vmm"
)

// Placement of the kernel image sections relative to gate.KernelTextBase.
const (
	textSize   = 0x4000
	rodataSize = 0x2000
	dataSize   = 0x1000

	// bootStackSize is the size of the boot stack that lives in .bss.
	bootStackSize = 0x10000

	// trampolineOffset is the offset of the trampoline page in .text.
	trampolineOffset = 0x1000
)

var (
	// ErrKernelPanic is returned by Run when the kernel halted the hart.
	ErrKernelPanic = &kernel.Error{Module: "hal", Message: "kernel panic"}

	errMemoryLayout = &kernel.Error{Module: "hal", Message: "memory does not cover the kernel image"}
)

// Config describes the machine.
type Config struct {
	// MemoryBase and MemorySize describe the RAM arena.
	MemoryBase uint64
	MemorySize uint64

	// ClockFreq is the frequency of the time CSR in Hz.
	ClockFreq uint64

	// TicksPerInstruction is the number of timer ticks that elapse with
	// every retired user instruction.
	TicksPerInstruction uint64

	// RunBudget is the maximum number of instructions the hart executes
	// before control returns to the host loop.
	RunBudget int
}

// DefaultConfig returns the configuration of the reference board: 8 MiB of
// RAM at 0x80000000 and a 12.5 MHz timer.
func DefaultConfig() Config {
	return Config{
		MemoryBase:          0x80000000,
		MemorySize:          8 << 20,
		ClockFreq:           12500000,
		TicksPerInstruction: 100,
		RunBudget:           10000,
	}
}

// Machine is the board the kernel runs on.
type Machine struct {
	Config   Config
	Mem      *mm.PhysMem
	Hart     *cpu.Hart
	Firmware *Firmware

	// Layout describes the kernel image in physical memory.
	Layout vmm.KernelLayout

	// BootStackTop is the initial kernel stack pointer.
	BootStackTop uint64

	devices managedDevices
}

// NewMachine assembles a machine. The kernel image is placed at
// gate.KernelTextBase; the RAM below it is reserved for the firmware.
func NewMachine(cfg Config) (*Machine, *kernel.Error) {
	var (
		text   = mm.PhysAddrFrom(gate.KernelTextBase)
		rodata = text + textSize
		data   = rodata + rodataSize
		bss    = data + dataSize
		end    = bss + bootStackSize
		memEnd = mm.PhysAddrFrom(cfg.MemoryBase + cfg.MemorySize)
	)

	if mm.PhysAddrFrom(cfg.MemoryBase) > text || memEnd <= end || !memEnd.Aligned() {
		return nil, errMemoryLayout
	}

	mem := mm.NewPhysMem(mm.PhysAddrFrom(cfg.MemoryBase), cfg.MemorySize)
	hart := cpu.NewHart(mem, cfg.TicksPerInstruction)

	return &Machine{
		Config:   cfg,
		Mem:      mem,
		Hart:     hart,
		Firmware: &Firmware{hart: hart},
		Layout: vmm.KernelLayout{
			TextStart:   text,
			TextEnd:     rodata,
			RodataStart: rodata,
			RodataEnd:   data,
			DataStart:   data,
			DataEnd:     bss,
			BssStart:    bss,
			BssEnd:      end,
			KernelEnd:   end,
			MemoryEnd:   memEnd,
			Trampoline:  text + trampolineOffset,
		},
		BootStackTop: uint64(end),
	}, nil
}

// Run invokes fn on the machine. A kernel panic halts the hart; Run
// recovers the halt and reports it as ErrKernelPanic. Any other panic is
// propagated.
func (m *Machine) Run(fn func() *kernel.Error) (err *kernel.Error) {
	defer func() {
		if r := recover(); r != nil {
			if !cpu.IsHalt(r) {
				panic(r)
			}
			m.Firmware.Flush()
			err = ErrKernelPanic
		}
	}()

	return fn()
}
