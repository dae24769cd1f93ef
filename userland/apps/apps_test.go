package apps

import (
	"bytes"
	"debug/elf"
	"testing"
)

func TestCatalogBuilds(t *testing.T) {
	for _, prog := range Catalog() {
		t.Run(prog.Name, func(t *testing.T) {
			image, err := prog.Build()
			if err != nil {
				t.Fatal(err)
			}

			f, err := elf.NewFile(bytes.NewReader(image))
			if err != nil {
				t.Fatal(err)
			}
			if f.Machine != elf.EM_RISCV || f.Entry != 0x10000 {
				t.Fatalf("unexpected machine %s / entry 0x%x", f.Machine, f.Entry)
			}

			var hasText bool
			for _, prog := range f.Progs {
				if prog.Type == elf.PT_LOAD && prog.Flags == elf.PF_R|elf.PF_X {
					hasText = true
				}
			}
			if !hasText {
				t.Fatal("expected a read-execute text segment")
			}
		})
	}
}

func TestPowerIterations(t *testing.T) {
	for _, iterations := range []int64{0, 5, 15} {
		if _, err := Power(3, iterations); err == nil {
			t.Errorf("expected %d iterations to be rejected", iterations)
		}
	}
}
