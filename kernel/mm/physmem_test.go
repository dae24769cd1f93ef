package mm

import "testing"

type recordingDeallocator struct {
	freed []Frame
}

func (d *recordingDeallocator) DeallocFrame(f Frame) {
	d.freed = append(d.freed, f)
}

func TestPhysMem(t *testing.T) {
	mem := NewPhysMem(0x8000_0000, 4*PageSize)

	if exp, got := PhysAddr(0x8000_4000), mem.End(); got != exp {
		t.Fatalf("expected End() to return %x; got %x", exp, got)
	}

	if buf := mem.FrameBytes(Frame(0x80003)); len(buf) != int(PageSize) {
		t.Fatalf("expected FrameBytes to return a full page; got %d bytes", len(buf))
	}

	if buf := mem.FrameBytes(Frame(0x80004)); buf != nil {
		t.Fatal("expected FrameBytes to return nil for a frame past the end of RAM")
	}

	if _, err := mem.Slice(0x7fff_fff8, 16); err != errOutOfRange {
		t.Fatalf("expected errOutOfRange; got %v", err)
	}

	if err := mem.WriteUint64(0x8000_1008, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}

	v, err := mem.ReadUint64(0x8000_1008)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xdeadbeef {
		t.Fatalf("expected to read back 0xdeadbeef; got %x", v)
	}

	var word [4]byte
	if !mem.ReadPhys(0x8000_1008, word[:]) || word[0] != 0xef {
		t.Fatalf("expected ReadPhys to return the low byte first; got %x", word)
	}

	if mem.WritePhys(0x8000_3ffe, word[:]) {
		t.Fatal("expected WritePhys across the end of RAM to fail")
	}
}

func TestFrameTrackerRelease(t *testing.T) {
	var (
		mem   = NewPhysMem(0x8000_0000, 2*PageSize)
		owner recordingDeallocator
		ft    = NewFrameTracker(Frame(0x80001), &owner, mem)
	)

	if len(ft.Bytes()) != int(PageSize) {
		t.Fatal("expected tracker to expose the frame contents")
	}

	ft.Release()
	ft.Release()

	if exp, got := 1, len(owner.freed); got != exp {
		t.Fatalf("expected frame to be returned %d time(s); got %d", exp, got)
	}

	if !ft.Released() || ft.Bytes() != nil {
		t.Fatal("expected released tracker to drop access to the frame")
	}

	var nilTracker *FrameTracker
	nilTracker.Release()
}
