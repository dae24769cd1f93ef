package apps

import (
	"fmt"
	"gopherv/userland/rvasm"
)

// PowerModulus is the modulus used by the Power application.
const PowerModulus = 998244353

// Program is a named application.
type Program struct {
	Name  string
	Build func() ([]byte, error)
}

// Catalog returns the applications booted by default, in load order.
func Catalog() []Program {
	return []Program{
		{"00hello_world", Hello},
		{"01store_fault", StoreFault},
		{"02power_3", func() ([]byte, error) { return Power(3, 200000) }},
		{"03power_5", func() ([]byte, error) { return Power(5, 140000) }},
		{"04sleep", func() ([]byte, error) { return Sleep(3000) }},
		{"05priv_inst", IllegalInstruction},
	}
}

// Hello prints ten greetings, yielding the hart after each one.
func Hello() ([]byte, error) {
	p := newProgram()
	for i := 1; i <= 10; i++ {
		p.puts(fmt.Sprintf("Hello, world! [%d/10]\n", i))
		p.syscall(sysYield)
	}
	p.puts("Test Hello world OK!\n")
	p.exit(0)
	return p.build()
}

// StoreFault announces itself and then stores into its own text segment,
// which is mapped read-only.
func StoreFault() ([]byte, error) {
	p := newProgram()
	p.puts("Into Test store_fault, we will insert an invalid store operation...\n")
	p.puts("Kernel should kill this application!\n")
	p.La(rvasm.T0, "_start")
	p.Sd(rvasm.Zero, rvasm.T0, 0)
	p.exit(0)
	return p.build()
}

// Sleep busy-waits for ms milliseconds using get_time and yields the hart
// between polls. It exits with -1 if time ever goes backwards.
func Sleep(ms int64) ([]byte, error) {
	p := newProgram()
	p.Li(rvasm.A0, 0)
	p.syscall(sysGetTime)
	p.Mv(rvasm.S1, rvasm.A0) // last observed time
	p.Li(rvasm.T0, ms)
	p.Add(rvasm.S2, rvasm.A0, rvasm.T0) // deadline

	p.Label("poll")
	p.syscall(sysGetTime)
	p.Bltu(rvasm.A0, rvasm.S1, "backwards")
	p.Mv(rvasm.S1, rvasm.A0)
	p.Bgeu(rvasm.A0, rvasm.S2, "done")
	p.syscall(sysYield)
	p.J("poll")

	p.Label("backwards")
	p.puts("time went backwards!\n")
	p.exit(-1)

	p.Label("done")
	p.puts("Test sleep OK!\n")
	p.exit(0)
	return p.build()
}

// Power computes base^iterations modulo PowerModulus one multiplication at
// a time, reporting progress every tenth of the way. It never yields and
// relies on the timer to be preempted.
func Power(base, iterations int64) ([]byte, error) {
	if iterations < 10 || iterations%10 != 0 {
		return nil, fmt.Errorf("power: iterations must be a positive multiple of 10; got %d", iterations)
	}

	name := fmt.Sprintf("power_%d", base)
	p := newProgram()
	p.Li(rvasm.S1, 1)            // accumulator
	p.Li(rvasm.S2, 0)            // iteration
	p.Li(rvasm.S3, base)         // base
	p.Li(rvasm.S4, PowerModulus) // modulus
	p.Li(rvasm.S5, iterations/10)
	p.Li(rvasm.S6, 0) // countdown to the next progress report
	p.Li(rvasm.S7, iterations)

	p.Label("step")
	p.Mul(rvasm.S1, rvasm.S1, rvasm.S3)
	p.Remu(rvasm.S1, rvasm.S1, rvasm.S4)
	p.Addi(rvasm.S2, rvasm.S2, 1)
	p.Addi(rvasm.S6, rvasm.S6, 1)
	p.Bne(rvasm.S6, rvasm.S5, "next")

	p.Li(rvasm.S6, 0)
	p.puts(name + " [")
	p.putUint(rvasm.S2)
	p.puts("/")
	p.putUint(rvasm.S7)
	p.puts("]\n")

	p.Label("next")
	p.Bne(rvasm.S2, rvasm.S7, "step")

	p.puts(fmt.Sprintf("%d^%d = ", base, iterations))
	p.putUint(rvasm.S1)
	p.puts(fmt.Sprintf("(MOD %d)\n", PowerModulus))
	p.puts(fmt.Sprintf("Test %s OK!\n", name))
	p.exit(0)
	return p.build()
}

// IllegalInstruction executes sret from user mode.
func IllegalInstruction() ([]byte, error) {
	p := newProgram()
	p.puts("Try to execute privileged instruction in U Mode\n")
	p.puts("Kernel should kill this application!\n")
	p.Word(0x10200073) // sret
	p.exit(0)
	return p.build()
}
