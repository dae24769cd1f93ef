package pmm

import (
	"gopherv/kernel/mm"
	"testing"
)

func TestStackAllocatorAlloc(t *testing.T) {
	var alloc StackAllocator
	alloc.Init(10, 13)

	seen := make(map[mm.Frame]bool)
	for i := 0; i < 3; i++ {
		frame, err := alloc.Alloc()
		if err != nil {
			t.Fatalf("[alloc %d] unexpected error: %v", i, err)
		}
		if seen[frame] {
			t.Fatalf("[alloc %d] frame %d handed out twice", i, frame)
		}
		if frame < 10 || frame >= 13 {
			t.Fatalf("[alloc %d] frame %d outside of the managed range", i, frame)
		}
		seen[frame] = true
	}

	if frame, err := alloc.Alloc(); err != errOutOfMemory || frame.Valid() {
		t.Fatalf("expected errOutOfMemory and an invalid frame; got %v, %d", err, frame)
	}
}

func TestStackAllocatorRecycleLIFO(t *testing.T) {
	var alloc StackAllocator
	alloc.Init(100, 200)

	frames := make([]mm.Frame, 4)
	for i := range frames {
		frames[i], _ = alloc.Alloc()
	}

	if err := alloc.Dealloc(frames[1]); err != nil {
		t.Fatal(err)
	}
	if err := alloc.Dealloc(frames[3]); err != nil {
		t.Fatal(err)
	}

	for _, exp := range []mm.Frame{frames[3], frames[1], 104} {
		if got, _ := alloc.Alloc(); got != exp {
			t.Fatalf("expected to get frame %d; got %d", exp, got)
		}
	}
}

func TestStackAllocatorDeallocErrors(t *testing.T) {
	var alloc StackAllocator
	alloc.Init(100, 200)
	frame, _ := alloc.Alloc()

	specs := []struct {
		name   string
		frame  mm.Frame
		expErr error
	}{
		{"below the managed range", 99, errFrameNotAllocated},
		{"never handed out", 150, errFrameNotAllocated},
		{"the cursor frame", frame + 1, errFrameNotAllocated},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			if err := alloc.Dealloc(spec.frame); err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}
		})
	}

	if err := alloc.Dealloc(frame); err != nil {
		t.Fatal(err)
	}
	if err := alloc.Dealloc(frame); err != errFrameAlreadyFree {
		t.Fatalf("expected errFrameAlreadyFree; got %v", err)
	}
}

func TestStackAllocatorStats(t *testing.T) {
	var alloc StackAllocator
	alloc.Init(0, 8)

	a, _ := alloc.Alloc()
	alloc.Alloc()
	alloc.Alloc()
	alloc.Dealloc(a)

	exp := Stats{Total: 8, Allocated: 2, Recycled: 1}
	if got := alloc.Stats(); got != exp {
		t.Fatalf("expected stats %+v; got %+v", exp, got)
	}
	if got := exp.Free(); got != 6 {
		t.Fatalf("expected 6 free frames; got %d", got)
	}

	if alloc.Live(a) {
		t.Fatal("expected a recycled frame not to be live")
	}
	if !alloc.Live(1) {
		t.Fatal("expected frame 1 to be live")
	}

	// an inverted range manages nothing
	alloc.Init(5, 2)
	if _, err := alloc.Alloc(); err != errOutOfMemory {
		t.Fatalf("expected errOutOfMemory; got %v", err)
	}
}
