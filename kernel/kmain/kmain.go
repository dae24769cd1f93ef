// Package kmain boots the kernel on a machine and runs the scheduling loop
// that moves the hart between the applications and the trap handler.
package kmain

import (
	"gopherv/kernel"
	"gopherv/kernel/cpu"
	"gopherv/kernel/gate"
	"gopherv/kernel/hal"
	"gopherv/kernel/kfmt"
	"gopherv/kernel/loader"
	"gopherv/kernel/mm/pmm"
	"gopherv/kernel/mm/vmm"
	"gopherv/kernel/sync"
	"gopherv/kernel/syscall"
	"gopherv/kernel/task"
	"gopherv/kernel/timer"
	"gopherv/kernel/trap"
)

var (
	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic

	errBadContinuation = &kernel.Error{Module: "kmain", Message: "kernel thread resumed at an unknown address"}
	errTrapFromKernel  = &kernel.Error{Module: "kmain", Message: "trap taken outside the trampoline"}
)

// Kernel owns the process-wide kernel state.
type Kernel struct {
	machine *hal.Machine
	alloc   *pmm.FrameAllocator

	// kernelSpace is shared by everything that maps kernel stacks.
	kernelSpace *sync.Cell[*vmm.MemorySet]

	tasks *task.Manager
	timer *timer.Timer
	traps *trap.Handler
}

// Boot initializes memory management, builds the kernel address space and
// creates a task for every application provided by apps.
func Boot(m *hal.Machine, apps loader.Source) (*Kernel, *kernel.Error) {
	kfmt.Printf("[kernel] Hello, world!\n")

	alloc := pmm.NewFrameAllocator(m.Mem, m.Layout.KernelEnd.Ceil(), m.Layout.MemoryEnd.Floor())
	ks, err := vmm.NewKernel(alloc, m.Layout)
	if err != nil {
		return nil, err
	}
	ks.Activate(m.Hart)

	if err = remapTest(ks, m.Layout); err != nil {
		return nil, err
	}
	kfmt.Printf("[kernel] remap_test passed!\n")

	k := &Kernel{
		machine:     m,
		alloc:       alloc,
		kernelSpace: sync.NewCell(ks),
	}

	numApps := apps.NumApps()
	kfmt.Printf("[kernel] num_app = %d\n", numApps)

	tcbs := make([]*task.ControlBlock, 0, numApps)
	for i := 0; i < numApps; i++ {
		var tcb *task.ControlBlock
		k.kernelSpace.Exclusive(func(ks **vmm.MemorySet) {
			tcb, err = task.NewControlBlock(alloc, *ks, m.Layout.Trampoline.Floor(), apps.AppData(i), i)
		})
		if err != nil {
			kfmt.Printf("[kernel] failed to load app %d: %s\n", i, err.Message)
			k.kernelSpace.Exclusive(func(ks **vmm.MemorySet) {
				for _, loaded := range tcbs {
					loaded.Destroy(*ks)
				}
			})
			return nil, err
		}
		tcbs = append(tcbs, tcb)
	}

	k.tasks = task.NewManager(m.Hart, tcbs)
	k.timer = timer.New(m.Hart, m.Firmware, m.Config.ClockFreq)
	k.traps = trap.NewHandler(m.Hart, k.tasks, syscall.NewTable(k.tasks, k.timer, m.Mem), k.timer)

	trap.Init(m.Hart)
	trap.EnableTimerInterrupt(m.Hart)
	return k, nil
}

// Run starts the first task and keeps the hart busy until no task is left
// to run. The machine is then shut down through the firmware.
func (k *Kernel) Run() *kernel.Error {
	hart := k.machine.Hart

	k.timer.SetNextTrigger()
	hart.Kernel = cpu.KernelRegs{RA: gate.BootReturnEntry, SP: k.machine.BootStackTop}
	if err := k.tasks.RunFirstTask(); err != nil {
		return k.shutdown()
	}

	for {
		switch hart.Kernel.RA {
		case gate.TrapReturnEntry, gate.SwitchReturnEntry:
			if err := k.traps.TrapReturn(); err != nil {
				panicFn(err)
				return err
			}
		case gate.BootReturnEntry:
			return k.shutdown()
		default:
			panicFn(errBadContinuation)
			return errBadContinuation
		}

		for !hart.Run(k.machine.Config.RunBudget) {
		}

		if hart.PC != vmm.Trampoline {
			k.traps.TrapFromKernel()
			return errTrapFromKernel
		}
		if err := trap.AllTraps(hart); err != nil {
			panicFn(err)
			return err
		}
		k.traps.Handle()
	}
}

// Tasks returns the task manager.
func (k *Kernel) Tasks() *task.Manager {
	return k.tasks
}

func (k *Kernel) shutdown() *kernel.Error {
	kfmt.Printf("[kernel] no runnable task\n")
	k.machine.Firmware.Shutdown(false)
	return nil
}

// FrameStats returns the usage statistics of the frame allocator.
func (k *Kernel) FrameStats() pmm.Stats {
	return k.alloc.Stats()
}

// Kmain boots the kernel on m and runs the applications provided by apps.
// Each onBoot hook is invoked with the booted kernel before the first task
// runs. Kmain returns once the machine has been shut down; a kernel panic is
// reported as hal.ErrKernelPanic.
func Kmain(m *hal.Machine, apps loader.Source, onBoot ...func(*Kernel)) *kernel.Error {
	return m.Run(func() *kernel.Error {
		k, err := Boot(m, apps)
		if err != nil {
			m.Firmware.Shutdown(true)
			return err
		}

		for _, hook := range onBoot {
			hook(k)
		}

		return k.Run()
	})
}
