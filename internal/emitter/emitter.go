// Package emitter packs header fields into wire records and hands them to a
// transport.
//
// A record is the event's SocketData, a HeaderInfo, the name bytes, the
// value bytes and a NUL, padded to 8 bytes. Every header batch ends with one
// terminal record whose kind is the batch kind's end marker.
package emitter

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mrzor/h2trace/internal/bpf"
	"github.com/mrzor/h2trace/internal/http2extract"
	"github.com/mrzor/h2trace/internal/probectx"
	"github.com/mrzor/h2trace/internal/procmem"
	"github.com/mrzor/h2trace/internal/sockctx"
	"github.com/mrzor/h2trace/internal/telemetry"
)

// Defaults.
const (
	DefaultFieldLimit = http2extract.MaxFields
	DefaultCapacity   = 1024
)

// Transport receives finished records. The record is only valid for the
// duration of the call.
type Transport interface {
	Submit(record []byte) error
}

// Span is a header name or value: either bytes in the traced process or a
// literal the pipeline synthesized.
type Span struct {
	remote  procmem.String
	literal string
	local   bool
}

// Remote returns a span over a string in target memory.
func Remote(s procmem.String) Span {
	return Span{remote: s}
}

// Literal returns a span over s.
func Literal(s string) Span {
	return Span{literal: s, local: true}
}

// Len returns the span length capped at bpf.MaxFieldLen.
func (s Span) Len() int {
	var n uint64
	if s.local {
		n = uint64(len(s.literal))
	} else {
		n = s.remote.Len
	}
	if n > bpf.MaxFieldLen {
		return bpf.MaxFieldLen
	}
	return int(n) //nolint:gosec // Bounded above
}

func (s Span) copyTo(mem procmem.Reader, dst []byte) error {
	if s.local {
		copy(dst, s.literal)
		return nil
	}
	return procmem.ReadBytes(mem, s.remote.Ptr, dst)
}

// Batch is a header collection to emit.
type Batch struct {
	Read   bool
	FD     int32
	Stream uint32
	Kind   bpf.MessageType
	Fields http2extract.Fields
}

// Emitter packs and submits records.
type Emitter struct {
	transport Transport
	builder   *sockctx.Builder
	metrics   *telemetry.Metrics
	log       logrus.FieldLogger

	fieldLimit int
	capacity   int

	scratch sync.Pool
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithFieldLimit sets how many fields of one collection are emitted.
func WithFieldLimit(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.fieldLimit = n
		}
	}
}

// WithCapacity sets the scratch capacity a field record must fit in.
func WithCapacity(n int) Option {
	return func(e *Emitter) {
		if n > bpf.HeaderInfoSize {
			e.capacity = n
		}
	}
}

// WithMetrics records emitted and dropped records.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Emitter) { e.metrics = m }
}

// WithLogger sets the logger for transport failures.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Emitter) { e.log = l }
}

// New returns an Emitter writing to t, with common headers from b.
func New(t Transport, b *sockctx.Builder, opts ...Option) *Emitter {
	e := &Emitter{
		transport:  t,
		builder:    b,
		log:        logrus.StandardLogger(),
		fieldLimit: DefaultFieldLimit,
		capacity:   DefaultCapacity,
	}
	for _, opt := range opts {
		opt(e)
	}

	frame := bpf.RecordSize(2 * bpf.MaxFieldLen)
	e.scratch.New = func() any {
		buf := make([]byte, frame)
		return &buf
	}
	return e
}

// FieldLimit returns the per-collection field limit.
func (e *Emitter) FieldLimit() int {
	return e.fieldLimit
}

// Capacity returns the scratch capacity.
func (e *Emitter) Capacity() int {
	return e.capacity
}

// Session emits records sharing one common header.
type Session struct {
	e   *Emitter
	ctx *probectx.Context
	c   sockctx.Common
}

// Begin builds the common header for events on fd. It returns false when
// the socket is not observable, and nothing should be emitted.
func (e *Emitter) Begin(ctx *probectx.Context, fd int32, read bool) (*Session, bool) {
	c, ok := e.builder.Build(ctx, fd, read)
	if !ok {
		return nil, false
	}
	return &Session{e: e, ctx: ctx, c: c}, true
}

// Common returns the session header.
func (s *Session) Common() sockctx.Common {
	return s.c
}

// Field emits one header field.
func (s *Session) Field(stream uint32, kind bpf.MessageType, name, value Span) {
	s.e.pack(s.ctx, &s.c, stream, kind, name, value)
}

// End emits the terminal record of a batch of kind.
func (s *Session) End(stream uint32, kind bpf.MessageType) {
	s.e.pack(s.ctx, &s.c, stream, kind.End(), Span{local: true}, Span{local: true})
}

// EmitField emits a single field with its own common header.
func (e *Emitter) EmitField(ctx *probectx.Context, fd int32, read bool, stream uint32, kind bpf.MessageType, name, value Span) {
	s, ok := e.Begin(ctx, fd, read)
	if !ok {
		return
	}
	s.Field(stream, kind, name, value)
}

// EmitHeaders emits up to FieldLimit fields of b in order, then the
// terminal record. The terminal record is emitted even for an empty or
// unreadable collection.
func (e *Emitter) EmitHeaders(ctx *probectx.Context, b Batch) {
	s, ok := e.Begin(ctx, b.FD, b.Read)
	if !ok {
		return
	}

	n := b.Fields.Len()
	if n > e.fieldLimit {
		e.metrics.Truncated(n - e.fieldLimit)
		n = e.fieldLimit
	}
	for i := range n {
		f, err := b.Fields.At(ctx.Mem, i)
		if err != nil {
			break
		}
		s.Field(b.Stream, b.Kind, Remote(f.Name), Remote(f.Value))
	}
	s.End(b.Stream, b.Kind)
}

func (e *Emitter) pack(ctx *probectx.Context, c *sockctx.Common, stream uint32, kind bpf.MessageType, name, value Span) {
	nameLen, valueLen := name.Len(), value.Len()
	size := bpf.HeaderInfoSize + nameLen + valueLen
	if size > e.capacity {
		e.metrics.Dropped()
		return
	}

	bufp := e.scratch.Get().(*[]byte)
	defer e.scratch.Put(bufp)

	frame := (*bufp)[:bpf.RecordSize(nameLen+valueLen)]
	clear(frame)

	sd := c.Data
	sd.MsgType = kind
	sd.DataLen = uint32(size) //nolint:gosec // Bounded by capacity
	hi := bpf.HeaderInfo{
		FD:       uint32(c.FD), //nolint:gosec // Descriptors are non-negative
		StreamID: stream,
		NameLen:  uint32(nameLen),  //nolint:gosec // Capped at MaxFieldLen
		ValueLen: uint32(valueLen), //nolint:gosec // Capped at MaxFieldLen
	}
	if err := bpf.PutHeaders(frame, &sd, &hi); err != nil {
		e.log.WithError(err).Debug("encoding record headers")
		return
	}

	body := frame[bpf.SocketDataSize+bpf.HeaderInfoSize:]
	if err := name.copyTo(ctx.Mem, body[:nameLen]); err != nil {
		return
	}
	if err := value.copyTo(ctx.Mem, body[nameLen:nameLen+valueLen]); err != nil {
		return
	}
	// body[nameLen+valueLen] is the NUL terminator, already zero.

	if err := e.transport.Submit(frame); err != nil {
		e.metrics.TransportError()
		e.log.WithError(err).WithField("kind", kind).Debug("submitting record")
		return
	}
	e.metrics.Emitted(kind)
}
