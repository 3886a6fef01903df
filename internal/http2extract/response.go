package http2extract

import (
	"github.com/mrzor/h2trace/internal/offsets"
	"github.com/mrzor/h2trace/internal/probectx"
	"github.com/mrzor/h2trace/internal/procmem"
)

// ResponseHeaders are the fields net/http's http2writeResHeaders carries
// outside its header map.
type ResponseHeaders struct {
	StreamID      uint32
	Status        uint32
	Date          procmem.String
	ContentType   procmem.String
	ContentLength procmem.String
}

// ReadResponseHeaders reads an http2writeResHeaders. The stream id is
// required; a string field that cannot be read is left empty.
func ReadResponseHeaders(ctx *probectx.Context, obj uint64) (ResponseHeaders, bool) {
	var rh ResponseHeaders

	addr, ok := ctx.Field(obj, offsets.ResHeadersStreamID)
	if !ok {
		return rh, false
	}
	id, err := procmem.ReadU32(ctx.Mem, addr)
	if err != nil {
		return rh, false
	}
	rh.StreamID = id

	if addr, ok := ctx.Field(obj, offsets.ResHeadersHTTPResCode); ok {
		if code, err := procmem.ReadU32(ctx.Mem, addr); err == nil {
			rh.Status = code
		}
	}

	rh.Date = readString(ctx, obj, offsets.ResHeadersDate)
	rh.ContentType = readString(ctx, obj, offsets.ResHeadersContentType)
	rh.ContentLength = readString(ctx, obj, offsets.ResHeadersContentLength)
	return rh, true
}

func readString(ctx *probectx.Context, obj uint64, f offsets.Field) procmem.String {
	addr, ok := ctx.Field(obj, f)
	if !ok {
		return procmem.String{}
	}
	s, err := procmem.ReadString(ctx.Mem, addr)
	if err != nil {
		return procmem.String{}
	}
	return s
}
