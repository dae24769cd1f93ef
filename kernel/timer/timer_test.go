package timer

import (
	"gopherv/kernel/cpu"
	"testing"
)

type timerFirmware struct {
	hart *cpu.Hart
	next uint64
}

func (f *timerFirmware) SetTimer(stime uint64) {
	f.next = stime
	f.hart.SetTimerCompare(stime)
}
func (f *timerFirmware) ConsolePutchar(byte) {}
func (f *timerFirmware) Shutdown(bool)       {}

func TestTimer(t *testing.T) {
	hart := cpu.NewHart(nil, 1)
	fw := &timerFirmware{hart: hart}
	tm := New(hart, fw, 12500000)

	hart.Time = 25000000
	if got := tm.GetTime(); got != 25000000 {
		t.Fatalf("expected GetTime to return the time CSR; got %d", got)
	}
	if got := tm.GetTimeMs(); got != 2000 {
		t.Fatalf("expected 2000ms; got %d", got)
	}

	tm.SetNextTrigger()
	if exp := uint64(25000000 + 125000); fw.next != exp || hart.Stimecmp != exp {
		t.Fatalf("expected the next trigger at %d; got %d", exp, fw.next)
	}
}
