package procmem

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFault is returned when a read lands outside readable memory.
var ErrFault = errors.New("procmem: bad address")

// MinAddr is the lowest address considered readable. Anything below it is a
// nil pointer plus a small field offset.
const MinAddr = 4096

// Sizes of the Go runtime value headers on amd64.
const (
	PtrSize    = 8
	IfaceSize  = 16
	StringSize = 16
	SliceSize  = 24
)

// Reader reads bytes out of a target address space.
// ReadAt fills dst completely or returns an error.
type Reader interface {
	ReadAt(dst []byte, addr uint64) error
}

// Iface is a Go interface value: the itab (or type) word and the data word.
type Iface struct {
	Tab  uint64
	Data uint64
}

// IsNil reports whether the interface holds no concrete type.
func (i Iface) IsNil() bool {
	return i.Tab == 0
}

// String is a Go string header.
type String struct {
	Ptr uint64
	Len uint64
}

// Slice is a Go slice header.
type Slice struct {
	Ptr uint64
	Len uint64
	Cap uint64
}

func checkAddr(addr uint64, n int) error {
	if addr < MinAddr {
		return fmt.Errorf("%w: %#x", ErrFault, addr)
	}
	if addr+uint64(n) < addr {
		return fmt.Errorf("%w: %#x+%d wraps", ErrFault, addr, n)
	}
	return nil
}

func read(r Reader, addr uint64, dst []byte) error {
	if err := checkAddr(addr, len(dst)); err != nil {
		return err
	}
	return r.ReadAt(dst, addr)
}

// ReadU32 reads a little-endian uint32.
func ReadU32(r Reader, addr uint64) (uint32, error) {
	var b [4]byte
	if err := read(r, addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// ReadU64 reads a little-endian uint64.
func ReadU64(r Reader, addr uint64) (uint64, error) {
	var b [8]byte
	if err := read(r, addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// ReadPtr reads a pointer word. A nil pointer is returned as an error so
// that chains of dereferences stop at the first hole.
func ReadPtr(r Reader, addr uint64) (uint64, error) {
	p, err := ReadU64(r, addr)
	if err != nil {
		return 0, err
	}
	if p == 0 {
		return 0, fmt.Errorf("%w: nil pointer at %#x", ErrFault, addr)
	}
	return p, nil
}

// ReadIface reads an interface value.
func ReadIface(r Reader, addr uint64) (Iface, error) {
	var b [IfaceSize]byte
	if err := read(r, addr, b[:]); err != nil {
		return Iface{}, err
	}
	return Iface{
		Tab:  binary.LittleEndian.Uint64(b[0:8]),
		Data: binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

// ReadString reads a string header. The bytes are not copied.
func ReadString(r Reader, addr uint64) (String, error) {
	var b [StringSize]byte
	if err := read(r, addr, b[:]); err != nil {
		return String{}, err
	}
	return String{
		Ptr: binary.LittleEndian.Uint64(b[0:8]),
		Len: binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

// ReadSlice reads a slice header.
func ReadSlice(r Reader, addr uint64) (Slice, error) {
	var b [SliceSize]byte
	if err := read(r, addr, b[:]); err != nil {
		return Slice{}, err
	}
	return Slice{
		Ptr: binary.LittleEndian.Uint64(b[0:8]),
		Len: binary.LittleEndian.Uint64(b[8:16]),
		Cap: binary.LittleEndian.Uint64(b[16:24]),
	}, nil
}

// ReadBytes copies len(dst) bytes starting at addr. A zero-length read
// always succeeds without touching memory.
func ReadBytes(r Reader, addr uint64, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	return read(r, addr, dst)
}
