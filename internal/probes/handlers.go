package probes

import (
	"github.com/mrzor/h2trace/internal/bpf"
	"github.com/mrzor/h2trace/internal/emitter"
	"github.com/mrzor/h2trace/internal/goabi"
	"github.com/mrzor/h2trace/internal/http2extract"
	"github.com/mrzor/h2trace/internal/offsets"
	"github.com/mrzor/h2trace/internal/probectx"
	"github.com/mrzor/h2trace/internal/procmem"
	"github.com/mrzor/h2trace/internal/telemetry"
)

// Intercepted symbols.
const (
	ClientWriteHeader     = "net/http.(*http2ClientConn).writeHeader"
	ClientWriteHeaders    = "net/http.(*http2ClientConn).writeHeaders"
	ServerProcessHeaders  = "net/http.(*http2serverConn).processHeaders"
	ServerWriteHeaders    = "net/http.(*http2serverConn).writeHeaders"
	ClientHandleResponse  = "net/http.(*http2clientConnReadLoop).handleResponse"
	GRPCLoopyWriteHeader  = "google.golang.org/grpc/internal/transport.(*loopyWriter).writeHeader"
	GRPCServerOperateHdrs = "google.golang.org/grpc/internal/transport.(*http2Server).operateHeaders"
	GRPCClientOperateHdrs = "google.golang.org/grpc/internal/transport.(*http2Client).operateHeaders"
)

// grpc's transport side enum: clientSide = 0, serverSide = 1.
const grpcServerSide = 1

// Argument locations, register first then ABI0 stack offset.
var (
	argSecond = goabi.Loc{Reg: goabi.RBX, Stack: 16}
	argThird  = goabi.Loc{Reg: goabi.RCX, Stack: 24}

	writeHeaderName  = [2]goabi.Loc{{Reg: goabi.RBX, Stack: 16}, {Reg: goabi.RCX, Stack: 24}}
	writeHeaderValue = [2]goabi.Loc{{Reg: goabi.RDI, Stack: 32}, {Reg: goabi.RSI, Stack: 40}}

	loopyStream = goabi.Loc{Reg: goabi.RBX, Stack: 16}
	loopyFields = [3]goabi.Loc{{Reg: goabi.RDI, Stack: 24}, {Reg: goabi.RSI, Stack: 32}, {Reg: goabi.R8, Stack: 40}}
)

var builtins = map[string]Handler{
	ClientWriteHeader:     (*Processor).clientWriteHeader,
	ClientWriteHeaders:    (*Processor).clientWriteHeaders,
	ServerProcessHeaders:  (*Processor).serverProcessHeaders,
	ServerWriteHeaders:    (*Processor).serverWriteHeaders,
	ClientHandleResponse:  (*Processor).clientHandleResponse,
	GRPCLoopyWriteHeader:  (*Processor).grpcLoopyWriteHeader,
	GRPCServerOperateHdrs: (*Processor).grpcServerOperateHeaders,
	GRPCClientOperateHdrs: (*Processor).grpcClientOperateHeaders,
}

// clientNextStream returns the stream id the client is currently writing.
func (p *Processor) clientNextStream(ctx *probectx.Context, cc uint64) (uint32, bool) {
	addr, ok := ctx.Field(cc, offsets.ClientConnNextStreamID)
	if !ok {
		return 0, false
	}
	next, err := procmem.ReadU32(ctx.Mem, addr)
	if err != nil {
		return 0, false
	}
	return http2extract.ClientStreamID(next), true
}

// http2ClientConn.writeHeader(name, value string)
func (p *Processor) clientWriteHeader(ctx *probectx.Context) {
	args := ctx.Args()
	cc := args.Receiver()

	fd, ok := p.resolver.Resolve(ctx, cc, offsets.ClientConnTConn)
	if !ok {
		p.abort(ctx, ClientWriteHeader, telemetry.NoConnection)
		return
	}
	stream, ok := p.clientNextStream(ctx, cc)
	if !ok {
		p.abort(ctx, ClientWriteHeader, telemetry.NoStream)
		return
	}

	name := args.String(writeHeaderName[0], writeHeaderName[1])
	value := args.String(writeHeaderValue[0], writeHeaderValue[1])
	p.emitter.EmitField(ctx, fd, false, stream, bpf.MSG_REQUEST, emitter.Remote(name), emitter.Remote(value))
}

// http2ClientConn.writeHeaders(streamID uint32, endStream bool, maxFrameSize int, hdrs []byte).
// The fields were already emitted one by one through writeHeader.
func (p *Processor) clientWriteHeaders(ctx *probectx.Context) {
	cc := ctx.Args().Receiver()

	fd, ok := p.resolver.Resolve(ctx, cc, offsets.ClientConnTConn)
	if !ok {
		p.abort(ctx, ClientWriteHeaders, telemetry.NoConnection)
		return
	}
	stream, ok := p.clientNextStream(ctx, cc)
	if !ok {
		p.abort(ctx, ClientWriteHeaders, telemetry.NoStream)
		return
	}

	s, ok := p.emitter.Begin(ctx, fd, false)
	if !ok {
		return
	}
	s.End(stream, bpf.MSG_REQUEST)
}

// frameBatch emits the fields of a MetaHeadersFrame received on fd.
func (p *Processor) frameBatch(ctx *probectx.Context, symbol string, fd int32, frame uint64, kind bpf.MessageType) {
	stream, ok := http2extract.StreamID(ctx, frame)
	if !ok {
		p.abort(ctx, symbol, telemetry.NoStream)
		return
	}
	fields, ok := http2extract.FieldsOf(ctx, frame)
	if !ok {
		p.abort(ctx, symbol, telemetry.NoFields)
		return
	}
	p.emitter.EmitHeaders(ctx, emitter.Batch{
		Read:   true,
		FD:     fd,
		Stream: stream,
		Kind:   kind,
		Fields: fields,
	})
}

// http2serverConn.processHeaders(f *http2MetaHeadersFrame)
func (p *Processor) serverProcessHeaders(ctx *probectx.Context) {
	args := ctx.Args()
	sc := args.Receiver()

	fd, ok := p.resolver.Resolve(ctx, sc, offsets.ServerConnConn)
	if !ok {
		p.abort(ctx, ServerProcessHeaders, telemetry.NoConnection)
		return
	}
	p.frameBatch(ctx, ServerProcessHeaders, fd, args.Word(argSecond), bpf.MSG_REQUEST)
}

// http2serverConn.writeHeaders(st *http2stream, headerData *http2writeResHeaders).
// net/http encodes the response header map itself, so only the fields
// writeResHeaders carries explicitly are recovered.
func (p *Processor) serverWriteHeaders(ctx *probectx.Context) {
	args := ctx.Args()
	sc := args.Receiver()

	fd, ok := p.resolver.Resolve(ctx, sc, offsets.ServerConnConn)
	if !ok {
		p.abort(ctx, ServerWriteHeaders, telemetry.NoConnection)
		return
	}
	rh, ok := http2extract.ReadResponseHeaders(ctx, args.Word(argThird))
	if !ok {
		p.abort(ctx, ServerWriteHeaders, telemetry.NoStream)
		return
	}

	s, ok := p.emitter.Begin(ctx, fd, false)
	if !ok {
		return
	}
	if rh.Status != 0 {
		digits := http2extract.StatusDigits(rh.Status)
		s.Field(rh.StreamID, bpf.MSG_RESPONSE, emitter.Literal(":status"), emitter.Literal(string(digits[:])))
	}
	for _, f := range []struct {
		name  string
		value procmem.String
	}{
		{"date", rh.Date},
		{"content-type", rh.ContentType},
		{"content-length", rh.ContentLength},
	} {
		if f.value.Len == 0 {
			continue
		}
		s.Field(rh.StreamID, bpf.MSG_RESPONSE, emitter.Literal(f.name), emitter.Remote(f.value))
	}
	s.End(rh.StreamID, bpf.MSG_RESPONSE)
}

// http2clientConnReadLoop.handleResponse(cs *http2clientStream, f *http2MetaHeadersFrame)
func (p *Processor) clientHandleResponse(ctx *probectx.Context) {
	args := ctx.Args()
	rl := args.Receiver()

	fd, ok := p.resolver.ResolveChain(ctx, rl, offsets.ReadLoopCC, offsets.ClientConnTConn)
	if !ok {
		p.abort(ctx, ClientHandleResponse, telemetry.NoConnection)
		return
	}
	p.frameBatch(ctx, ClientHandleResponse, fd, args.Word(argThird), bpf.MSG_RESPONSE)
}

// loopyWriter.writeHeader(streamID uint32, endStream bool, hf []hpack.HeaderField, onWrite func())
func (p *Processor) grpcLoopyWriteHeader(ctx *probectx.Context) {
	args := ctx.Args()
	l := args.Receiver()

	kind := bpf.MSG_REQUEST
	if addr, ok := ctx.Field(l, offsets.GRPCLoopySide); ok {
		if side, err := procmem.ReadU64(ctx.Mem, addr); err == nil && side == grpcServerSide {
			kind = bpf.MSG_RESPONSE
		}
	}

	fd, ok := p.resolver.ResolveChain(ctx, l,
		offsets.GRPCLoopyFramer, offsets.GRPCFramerWriter, offsets.GRPCBufWriterConn)
	if !ok {
		p.abort(ctx, GRPCLoopyWriteHeader, telemetry.NoConnection)
		return
	}

	p.emitter.EmitHeaders(ctx, emitter.Batch{
		FD:     fd,
		Stream: args.U32(loopyStream),
		Kind:   kind,
		Fields: http2extract.Fields{Slice: args.Slice(loopyFields[0], loopyFields[1], loopyFields[2])},
	})
}

// http2Server.operateHeaders(frame *http2.MetaHeadersFrame, ...)
func (p *Processor) grpcServerOperateHeaders(ctx *probectx.Context) {
	args := ctx.Args()
	fd, ok := p.resolver.Resolve(ctx, args.Receiver(), offsets.GRPCServerConn)
	if !ok {
		p.abort(ctx, GRPCServerOperateHdrs, telemetry.NoConnection)
		return
	}
	p.frameBatch(ctx, GRPCServerOperateHdrs, fd, args.Word(argSecond), bpf.MSG_REQUEST)
}

// http2Client.operateHeaders(frame *http2.MetaHeadersFrame)
func (p *Processor) grpcClientOperateHeaders(ctx *probectx.Context) {
	args := ctx.Args()
	fd, ok := p.resolver.Resolve(ctx, args.Receiver(), offsets.GRPCClientConn)
	if !ok {
		p.abort(ctx, GRPCClientOperateHdrs, telemetry.NoConnection)
		return
	}
	p.frameBatch(ctx, GRPCClientOperateHdrs, fd, args.Word(argSecond), bpf.MSG_RESPONSE)
}
