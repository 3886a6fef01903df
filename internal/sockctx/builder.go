// Package sockctx assembles the common header shared by every event of one
// probe invocation: direction, TCP sequence, protocol tag, 5-tuple, socket
// id, timestamps and thread identity.
package sockctx

import (
	"github.com/mrzor/h2trace/internal/bpf"
	"github.com/mrzor/h2trace/internal/probectx"
	"github.com/mrzor/h2trace/internal/tcpseq"
	"github.com/mrzor/h2trace/internal/telemetry"
	"github.com/mrzor/h2trace/internal/timesync"
)

// Common is the per-invocation event header.
type Common struct {
	FD   int32
	Data bpf.SocketData // MsgType and DataLen are filled per event
}

// Builder builds Common headers.
type Builder struct {
	seqs    SeqSource
	corr    tcpseq.Correlator
	sockets SocketLookup
	ids     *SocketIDs
	clock   timesync.Clock
	metrics *telemetry.Metrics
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock overrides the timestamp source.
func WithClock(c timesync.Clock) Option {
	return func(b *Builder) { b.clock = c }
}

// WithMetrics counts aborted invocations and allocated sockets.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// NewBuilder returns a Builder over its collaborators.
func NewBuilder(seqs SeqSource, corr tcpseq.Correlator, sockets SocketLookup, ids *SocketIDs, opts ...Option) *Builder {
	b := &Builder{
		seqs:    seqs,
		corr:    corr,
		sockets: sockets,
		ids:     ids,
		clock:   timesync.Monotonic,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles the header for events on fd. read selects the ingress
// path. It returns false when the socket is not observable: no known
// sequence, or not a TCP/UDP socket.
func (b *Builder) Build(ctx *probectx.Context, fd int32, read bool) (Common, bool) {
	c := Common{FD: fd}
	sd := &c.Data

	if read {
		sd.Direction = bpf.T_INGRESS
		end := b.seqs.ReadSeq(ctx.Tgid, fd)
		if end == 0 {
			b.metrics.Aborted(telemetry.ZeroSequence)
			return c, false
		}
		// A read the tracker has not stitched starts at 0.
		sd.TCPSeq = b.corr.PreviousReadStart(ctx.Tgid, fd, end)
	} else {
		sd.Direction = bpf.T_EGRESS
		sd.TCPSeq = b.seqs.WriteSeq(ctx.Tgid, fd)
		if sd.TCPSeq == 0 {
			b.metrics.Aborted(telemetry.ZeroSequence)
			return c, false
		}
	}

	sd.DataType = bpf.ProtocolFor(ctx.TLS())

	info, ok := b.sockets.Socket(ctx.Tgid, fd)
	if !ok || !info.Classifiable() {
		b.metrics.Aborted(telemetry.NoSocket)
		return c, false
	}
	fillTuple(&sd.Tuple, info)

	id, fresh := b.ids.ID(ctx.Tgid, fd)
	if fresh {
		b.metrics.SocketAllocated()
	}
	sd.SocketID = id

	sd.Source = bpf.SOURCE_GO_HTTP2_UPROBE
	sd.Timestamp = b.clock()
	sd.CoroutineID = ctx.GoID
	sd.Tgid = ctx.Tgid
	sd.Pid = ctx.Pid
	return c, true
}

func fillTuple(t *bpf.Tuple, info SocketInfo) {
	t.L4Protocol = info.L4Protocol
	t.Lport = info.Local.Port()
	t.Rport = info.Remote.Port()

	laddr, raddr := info.Local.Addr(), info.Remote.Addr()
	if laddr.Is4() && (raddr.Is4() || !raddr.IsValid()) {
		t.AddrLen = 4
		l4, r4 := laddr.As4(), raddr.As4()
		copy(t.Laddr[:], l4[:])
		if raddr.IsValid() {
			copy(t.Raddr[:], r4[:])
		}
		return
	}
	t.AddrLen = 16
	t.Laddr = laddr.As16()
	t.Raddr = raddr.As16()
}
