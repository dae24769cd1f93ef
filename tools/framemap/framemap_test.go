package framemap

import (
	"bytes"
	"gopherv/kernel/kmain"
	"gopherv/kernel/mm/pmm"
	"image/png"
	"testing"
)

func TestRender(t *testing.T) {
	owners := make([]kmain.FrameOwner, 3*FramesPerRow+5)
	owners[0] = kmain.OwnerFirmware
	owners[FramesPerRow+1] = kmain.OwnerTrapContext

	img := Render(owners, pmm.Stats{Total: 10, Allocated: 2})

	bounds := img.Bounds()
	if exp := FramesPerRow*CellSize + 2*margin; bounds.Dx() != exp {
		t.Fatalf("expected image width to be %d; got %d", exp, bounds.Dx())
	}
	if minH := 4 * CellSize; bounds.Dy() < minH {
		t.Fatalf("expected image height to be at least %d; got %d", minH, bounds.Dy())
	}

	specs := []struct {
		index int
		owner kmain.FrameOwner
	}{
		{0, kmain.OwnerFirmware},
		{1, kmain.OwnerFree},
		{FramesPerRow + 1, kmain.OwnerTrapContext},
		{3 * FramesPerRow, kmain.OwnerFree},
	}

	for specIndex, spec := range specs {
		x := margin + (spec.index%FramesPerRow)*CellSize + CellSize/2
		y := margin + (spec.index/FramesPerRow)*CellSize + CellSize/2

		r, g, b, _ := img.At(x, y).RGBA()
		exp := Palette[spec.owner]
		if uint8(r>>8) != exp.R || uint8(g>>8) != exp.G || uint8(b>>8) != exp.B {
			t.Errorf("[spec %d] expected frame %d to be drawn as %v; got (%d, %d, %d)", specIndex, spec.index, exp, r>>8, g>>8, b>>8)
		}
	}
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, []kmain.FrameOwner{kmain.OwnerKernelImage, kmain.OwnerUserMemory}, pmm.Stats{}); err != nil {
		t.Fatal(err)
	}

	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() == 0 {
		t.Fatal("expected a non-empty image")
	}
}
