package rvasm

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

const pageSize = 4096

// DefaultTextBase is the address where application text is loaded.
const DefaultTextBase = 0x10000

// Segment is a loadable region of an executable.
type Segment struct {
	Vaddr uint64
	Flags elf.ProgFlag
	Data  []byte

	// Memsz is the size of the region in memory. Bytes past len(Data) are
	// zero-filled by the loader. A Memsz smaller than len(Data) is raised
	// to len(Data).
	Memsz uint64
}

// Image describes an ELF64 executable.
type Image struct {
	Entry    uint64
	Segments []Segment
}

// Build links the assembler output at textBase and returns an image with a
// read-execute text segment and, when data was added, a read-only data
// segment. The entry point is the start label if defined, else textBase.
func (a *Assembler) Build(textBase uint64) (*Image, error) {
	insns, dataBase, err := a.Link(textBase)
	if err != nil {
		return nil, err
	}

	text := make([]byte, len(insns)*4)
	for i, insn := range insns {
		binary.LittleEndian.PutUint32(text[i*4:], insn)
	}

	img := &Image{
		Entry:    textBase,
		Segments: []Segment{{Vaddr: textBase, Flags: elf.PF_R | elf.PF_X, Data: text}},
	}

	if idx, ok := a.textLabels["_start"]; ok {
		img.Entry = textBase + uint64(idx)*4
	}

	if len(a.data) != 0 {
		img.Segments = append(img.Segments, Segment{
			Vaddr: dataBase,
			Flags: elf.PF_R,
			Data:  append([]byte(nil), a.data...),
		})
	}

	return img, nil
}

// Bytes serializes the image as a little-endian riscv64 ELF64 executable.
// Segment contents are placed at page-aligned file offsets congruent with
// their virtual addresses.
func (img *Image) Bytes() []byte {
	const (
		ehdrSize = 64
		phdrSize = 56
	)

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     img.Entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(img.Segments)),
		Shentsize: 64,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	var (
		progs  = make([]elf.Prog64, len(img.Segments))
		offset = alignUp(ehdrSize+phdrSize*uint64(len(img.Segments)), pageSize)
	)

	for i, seg := range img.Segments {
		memsz := seg.Memsz
		if memsz < uint64(len(seg.Data)) {
			memsz = uint64(len(seg.Data))
		}

		offset += seg.Vaddr % pageSize
		progs[i] = elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(seg.Flags),
			Off:    offset,
			Vaddr:  seg.Vaddr,
			Paddr:  seg.Vaddr,
			Filesz: uint64(len(seg.Data)),
			Memsz:  memsz,
			Align:  pageSize,
		}
		offset = alignUp(offset+uint64(len(seg.Data)), pageSize)
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &hdr)
	binary.Write(&buf, binary.LittleEndian, progs)

	for i, seg := range img.Segments {
		pad(&buf, progs[i].Off)
		buf.Write(seg.Data)
	}

	return buf.Bytes()
}

func pad(buf *bytes.Buffer, to uint64) {
	for uint64(buf.Len()) < to {
		buf.WriteByte(0)
	}
}
