package mm

import (
	"encoding/binary"
	"gopherv/kernel"
)

var (
	errOutOfRange = &kernel.Error{Module: "mm", Message: "physical address outside of installed memory"}
)

// PhysMem is the machine's installed RAM. It is the only place where a
// physical address is turned into addressable bytes; every other subsystem
// obtains frame contents through FrameBytes or Slice.
type PhysMem struct {
	base PhysAddr
	ram  []byte
}

// NewPhysMem returns a zero-filled RAM region of size bytes starting at base.
// Both base and size are rounded to page boundaries.
func NewPhysMem(base PhysAddr, size uint64) *PhysMem {
	base = base.Floor().Address()
	size = (size + PageSize - 1) &^ (PageSize - 1)
	return &PhysMem{base: base, ram: make([]byte, size)}
}

// Base returns the first physical address backed by RAM.
func (m *PhysMem) Base() PhysAddr { return m.base }

// End returns the first physical address past the end of RAM.
func (m *PhysMem) End() PhysAddr { return m.base + PhysAddr(len(m.ram)) }

// Contains returns true if the n bytes starting at pa are backed by RAM.
func (m *PhysMem) Contains(pa PhysAddr, n uint64) bool {
	return pa >= m.base && uint64(pa-m.base)+n <= uint64(len(m.ram)) && uint64(pa)+n >= uint64(pa)
}

// Slice returns the n bytes of RAM starting at pa.
func (m *PhysMem) Slice(pa PhysAddr, n uint64) ([]byte, *kernel.Error) {
	if !m.Contains(pa, n) {
		return nil, errOutOfRange
	}

	off := uint64(pa - m.base)
	return m.ram[off : off+n : off+n], nil
}

// FrameBytes returns the contents of frame f or nil if the frame is not
// backed by RAM.
func (m *PhysMem) FrameBytes(f Frame) []byte {
	buf, err := m.Slice(f.Address(), PageSize)
	if err != nil {
		return nil
	}
	return buf
}

// ReadPhys copies len(p) bytes starting at the physical address into p. It
// implements the hart's memory bus.
func (m *PhysMem) ReadPhys(pa uint64, p []byte) bool {
	buf, err := m.Slice(PhysAddr(pa), uint64(len(p)))
	if err != nil {
		return false
	}
	copy(p, buf)
	return true
}

// WritePhys copies p into RAM starting at the physical address. It
// implements the hart's memory bus.
func (m *PhysMem) WritePhys(pa uint64, p []byte) bool {
	buf, err := m.Slice(PhysAddr(pa), uint64(len(p)))
	if err != nil {
		return false
	}
	copy(buf, p)
	return true
}

// ReadUint64 reads the little-endian machine word at pa.
func (m *PhysMem) ReadUint64(pa PhysAddr) (uint64, *kernel.Error) {
	buf, err := m.Slice(pa, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// WriteUint64 stores v as a little-endian machine word at pa.
func (m *PhysMem) WriteUint64(pa PhysAddr, v uint64) *kernel.Error {
	buf, err := m.Slice(pa, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf, v)
	return nil
}
