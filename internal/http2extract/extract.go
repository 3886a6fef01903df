// Package http2extract reads HTTP/2 stream ids and header fields out of
// net/http and x/net/http2 frame objects in a traced process.
package http2extract

import (
	"encoding/binary"
	"math"

	"github.com/mrzor/h2trace/internal/offsets"
	"github.com/mrzor/h2trace/internal/probectx"
	"github.com/mrzor/h2trace/internal/procmem"
)

// MaxFields is the default number of fields read from one collection.
const MaxFields = 9

// HeaderFieldSize is sizeof(hpack.HeaderField) on amd64:
// Name string, Value string, Sensitive bool, padded to 8.
const HeaderFieldSize = 40

// Field is one hpack.HeaderField as it sits in target memory. Name and
// Value are not copied; they are only valid during the probe invocation.
type Field struct {
	Name      procmem.String
	Value     procmem.String
	Sensitive bool
}

// Fields is a view over a []hpack.HeaderField in target memory.
type Fields struct {
	procmem.Slice
}

// Len returns the collection's reported length.
func (f Fields) Len() int {
	if f.Slice.Len > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f.Slice.Len) //nolint:gosec // Bounded above
}

// At reads the i-th field.
func (f Fields) At(mem procmem.Reader, i int) (Field, error) {
	var buf [HeaderFieldSize]byte
	addr := f.Ptr + uint64(i)*HeaderFieldSize //nolint:gosec // i is a small loop index
	if err := procmem.ReadBytes(mem, addr, buf[:]); err != nil {
		return Field{}, err
	}
	return Field{
		Name:      procmem.String{Ptr: binary.LittleEndian.Uint64(buf[0:8]), Len: binary.LittleEndian.Uint64(buf[8:16])},
		Value:     procmem.String{Ptr: binary.LittleEndian.Uint64(buf[16:24]), Len: binary.LittleEndian.Uint64(buf[24:32])},
		Sensitive: buf[32] != 0,
	}, nil
}

// StreamID returns the stream id of a MetaHeadersFrame. The frame embeds a
// *HeadersFrame, which embeds the FrameHeader.
func StreamID(ctx *probectx.Context, frame uint64) (uint32, bool) {
	headers, err := procmem.ReadPtr(ctx.Mem, frame)
	if err != nil {
		return 0, false
	}
	addr, ok := ctx.Field(headers, offsets.FrameHeaderStreamID)
	if !ok {
		return 0, false
	}
	id, err := procmem.ReadU32(ctx.Mem, addr)
	if err != nil {
		return 0, false
	}
	return id, true
}

// FieldsOf returns the decoded header fields of a MetaHeadersFrame.
func FieldsOf(ctx *probectx.Context, frame uint64) (Fields, bool) {
	addr, ok := ctx.Field(frame, offsets.MetaHeadersFrameFields)
	if !ok {
		return Fields{}, false
	}
	s, err := procmem.ReadSlice(ctx.Mem, addr)
	if err != nil {
		return Fields{}, false
	}
	return Fields{Slice: s}, true
}

// ClientStreamID corrects a stream id read from http2ClientConn while it
// writes headers. The conn has already advanced nextStreamID past the
// stream being written, by two since client streams are odd.
func ClientStreamID(next uint32) uint32 {
	return next - 2
}

// StatusDigits encodes an HTTP status code as three ASCII digits. Codes
// outside 0..999 keep only their low three digits.
func StatusDigits(code uint32) [3]byte {
	return [3]byte{
		byte('0' + code/100%10),
		byte('0' + code/10%10),
		byte('0' + code%10),
	}
}
