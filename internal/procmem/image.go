package procmem

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
)

// imageBase is where Alloc starts handing out addresses.
const imageBase = 0xc000000000

type region struct {
	base uint64
	data []byte
}

func (r *region) contains(addr uint64, n int) bool {
	return addr >= r.base && addr+uint64(n) <= r.base+uint64(len(r.data))
}

// Image is a sparse in-memory address space. Reads that do not fall
// entirely inside one mapped region fault, like they would in a real process.
type Image struct {
	mu      sync.RWMutex
	regions []*region // sorted by base
	next    uint64
}

// NewImage returns an empty image.
func NewImage() *Image {
	return &Image{next: imageBase}
}

// Map adds a region at base holding a copy of data.
func (m *Image) Map(base uint64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	m.regions = append(m.regions, &region{base: base, data: buf})
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].base < m.regions[j].base })
	if end := base + uint64(len(buf)); end > m.next {
		m.next = align8(end)
	}
}

// Alloc maps a zeroed region of n bytes and returns its address.
// Allocations are 8-byte aligned and separated by an unmapped guard word.
func (m *Image) Alloc(n int) uint64 {
	m.mu.Lock()
	addr := m.next
	m.next = align8(addr+uint64(n)) + 8
	m.mu.Unlock()

	m.Map(addr, make([]byte, n))
	return addr
}

func (m *Image) find(addr uint64, n int) *region {
	i := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].base > addr
	})
	if i == 0 {
		return nil
	}
	r := m.regions[i-1]
	if !r.contains(addr, n) {
		return nil
	}
	return r
}

// ReadAt implements Reader.
func (m *Image) ReadAt(dst []byte, addr uint64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r := m.find(addr, len(dst))
	if r == nil {
		return fmt.Errorf("%w: %#x+%d not mapped", ErrFault, addr, len(dst))
	}
	copy(dst, r.data[addr-r.base:])
	return nil
}

// Write copies b to addr, which must be inside a mapped region.
func (m *Image) Write(addr uint64, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.find(addr, len(b))
	if r == nil {
		return fmt.Errorf("%w: %#x+%d not mapped", ErrFault, addr, len(b))
	}
	copy(r.data[addr-r.base:], b)
	return nil
}

// PutU32 writes a little-endian uint32.
func (m *Image) PutU32(addr uint64, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return m.Write(addr, b[:])
}

// PutU64 writes a little-endian uint64.
func (m *Image) PutU64(addr uint64, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return m.Write(addr, b[:])
}

// PutIface writes an interface value.
func (m *Image) PutIface(addr uint64, v Iface) error {
	var b [IfaceSize]byte
	binary.LittleEndian.PutUint64(b[0:8], v.Tab)
	binary.LittleEndian.PutUint64(b[8:16], v.Data)
	return m.Write(addr, b[:])
}

// PutString writes a string header.
func (m *Image) PutString(addr uint64, v String) error {
	var b [StringSize]byte
	binary.LittleEndian.PutUint64(b[0:8], v.Ptr)
	binary.LittleEndian.PutUint64(b[8:16], v.Len)
	return m.Write(addr, b[:])
}

// PutSlice writes a slice header.
func (m *Image) PutSlice(addr uint64, v Slice) error {
	var b [SliceSize]byte
	binary.LittleEndian.PutUint64(b[0:8], v.Ptr)
	binary.LittleEndian.PutUint64(b[8:16], v.Len)
	binary.LittleEndian.PutUint64(b[16:24], v.Cap)
	return m.Write(addr, b[:])
}

// NewString allocates the bytes of s and returns a header pointing at them.
// The empty string gets a zero header.
func (m *Image) NewString(s string) String {
	if s == "" {
		return String{}
	}
	addr := m.Alloc(len(s))
	_ = m.Write(addr, []byte(s)) //nolint:errcheck // Freshly allocated region
	return String{Ptr: addr, Len: uint64(len(s))}
}

func align8(v uint64) uint64 {
	return (v + 7) &^ 7
}
