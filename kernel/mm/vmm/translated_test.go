package vmm

import (
	"bytes"
	"gopherv/kernel/mm"
	"testing"
)

func TestTranslatedByteBuffer(t *testing.T) {
	alloc := newTestAllocator(16)
	ms, err := NewBare(alloc)
	if err != nil {
		t.Fatal(err)
	}

	start := mm.VirtAddr(0x10000)
	if err = ms.InsertFramedArea(start, start+mm.VirtAddr(2*mm.PageSize), PermR|PermW|PermU); err != nil {
		t.Fatal(err)
	}

	msg := []byte("spans two pages\x00")
	va := start + mm.VirtAddr(mm.PageSize-5)
	if err = ms.Areas()[0].CopyData(ms.PageTable(), msg, mm.PageSize-5); err != nil {
		t.Fatal(err)
	}

	chunks, err := TranslatedByteBuffer(ms.Token(), alloc.PhysMem(), uint64(va), uint64(len(msg)))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 || len(chunks[0]) != 5 {
		t.Fatalf("expected the buffer to be split at the page boundary; got %d chunks", len(chunks))
	}
	if got := bytes.Join(chunks, nil); !bytes.Equal(got, msg) {
		t.Fatalf("expected %q; got %q", msg, got)
	}

	if _, err = TranslatedByteBuffer(ms.Token(), alloc.PhysMem(), uint64(start)+2*mm.PageSize-1, 2); err != ErrNotMapped {
		t.Fatalf("expected ErrNotMapped for a buffer crossing into an unmapped page; got %v", err)
	}
}

func TestTranslatedByteBufferRejectsKernelPages(t *testing.T) {
	alloc := newTestAllocator(16)
	ms, _ := NewBare(alloc)
	ms.InsertFramedArea(0x10000, 0x11000, PermR|PermW)

	if _, err := TranslatedByteBuffer(ms.Token(), alloc.PhysMem(), 0x10000, 4); err != errNotUserAccessible {
		t.Fatalf("expected errNotUserAccessible; got %v", err)
	}
}

func TestTranslatedByteBufferRejectsBadPointers(t *testing.T) {
	alloc := newTestAllocator(16)
	ms, _ := NewBare(alloc)
	ms.InsertFramedArea(0x10000, 0x11000, PermR|PermW|PermU)

	specs := []struct {
		descr string
		ptr   uint64
		n     uint64
	}{
		{"upper bits set", 0x10000 | 1<<45, 4},
		{"upper half", TrapContextAddr, 4},
		{"length overflows", 0x10000, ^uint64(0)},
		{"ends past the user half", mm.UserSpaceEnd - 2, 4},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			if _, err := TranslatedByteBuffer(ms.Token(), alloc.PhysMem(), spec.ptr, spec.n); err != errBadUserPointer {
				t.Fatalf("expected errBadUserPointer; got %v", err)
			}
		})
	}

	if chunks, err := TranslatedByteBuffer(ms.Token(), alloc.PhysMem(), 0x10000, 4); err != nil || len(chunks) != 1 {
		t.Fatalf("expected the in-range buffer to be translated; got %d chunks, %v", len(chunks), err)
	}
}
