package procmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImage_AllocAndRead(t *testing.T) {
	img := NewImage()

	addr := img.Alloc(16)
	require.NoError(t, img.PutU64(addr, 0xdeadbeef))
	require.NoError(t, img.PutU32(addr+8, 42))

	v, err := ReadU64(img, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), v)

	u, err := ReadU32(img, addr+8)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), u)
}

func TestImage_ReadOutsideRegionFaults(t *testing.T) {
	img := NewImage()
	addr := img.Alloc(8)

	_, err := ReadU64(img, addr+4)
	assert.ErrorIs(t, err, ErrFault, "read straddling the end of a region")

	_, err = ReadU64(img, addr+64)
	assert.ErrorIs(t, err, ErrFault, "read in the guard gap")
}

func TestReadHelpers_LowAddressFaults(t *testing.T) {
	img := NewImage()

	tests := []struct {
		name string
		read func() error
	}{
		{"ReadU32", func() error { _, err := ReadU32(img, 0); return err }},
		{"ReadU64", func() error { _, err := ReadU64(img, 8); return err }},
		{"ReadPtr", func() error { _, err := ReadPtr(img, 0x10); return err }},
		{"ReadIface", func() error { _, err := ReadIface(img, 0x18); return err }},
		{"ReadString", func() error { _, err := ReadString(img, MinAddr-1); return err }},
		{"ReadSlice", func() error { _, err := ReadSlice(img, 0); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.read(), ErrFault)
		})
	}
}

func TestReadPtr_NilIsFault(t *testing.T) {
	img := NewImage()
	addr := img.Alloc(8)

	_, err := ReadPtr(img, addr)
	assert.ErrorIs(t, err, ErrFault)
}

func TestReadIface(t *testing.T) {
	img := NewImage()
	addr := img.Alloc(IfaceSize)
	require.NoError(t, img.PutIface(addr, Iface{Tab: 0x1111, Data: 0x2222}))

	got, err := ReadIface(img, addr)
	require.NoError(t, err)
	assert.Equal(t, Iface{Tab: 0x1111, Data: 0x2222}, got)
	assert.False(t, got.IsNil())
	assert.True(t, Iface{}.IsNil())
}

func TestNewStringAndReadBytes(t *testing.T) {
	img := NewImage()
	s := img.NewString(":authority")

	hdr := img.Alloc(StringSize)
	require.NoError(t, img.PutString(hdr, s))

	got, err := ReadString(img, hdr)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(":authority")), got.Len)

	buf := make([]byte, got.Len)
	require.NoError(t, ReadBytes(img, got.Ptr, buf))
	assert.Equal(t, ":authority", string(buf))

	assert.Equal(t, String{}, img.NewString(""))
	assert.NoError(t, ReadBytes(img, 0, nil), "empty reads never touch memory")
}

func TestReadSlice(t *testing.T) {
	img := NewImage()
	addr := img.Alloc(SliceSize)
	require.NoError(t, img.PutSlice(addr, Slice{Ptr: 0xc000001000, Len: 3, Cap: 4}))

	got, err := ReadSlice(img, addr)
	require.NoError(t, err)
	assert.Equal(t, Slice{Ptr: 0xc000001000, Len: 3, Cap: 4}, got)
}

func TestImage_WriteUnmapped(t *testing.T) {
	img := NewImage()
	assert.ErrorIs(t, img.PutU64(0x5000, 1), ErrFault)
}
