package probes

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/h2trace/internal/bpf"
	"github.com/mrzor/h2trace/internal/connresolve"
	"github.com/mrzor/h2trace/internal/emitter"
	"github.com/mrzor/h2trace/internal/fakeproc"
	"github.com/mrzor/h2trace/internal/goabi"
	"github.com/mrzor/h2trace/internal/offsets"
	"github.com/mrzor/h2trace/internal/probectx"
	"github.com/mrzor/h2trace/internal/procmem"
	"github.com/mrzor/h2trace/internal/sockctx"
	"github.com/mrzor/h2trace/internal/tcpseq"
)

const testPid = 3000

type recorder struct {
	records [][]byte
}

func (r *recorder) Submit(record []byte) error {
	r.records = append(r.records, append([]byte(nil), record...))
	return nil
}

type harness struct {
	t       *testing.T
	proc    *fakeproc.Process
	seqs    *sockctx.StaticSeqs
	sockets *sockctx.StaticSockets
	rec     *recorder
	p       *Processor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	corr, err := tcpseq.NewTable(8)
	require.NoError(t, err)

	h := &harness{
		t:       t,
		proc:    fakeproc.New(testPid),
		seqs:    sockctx.NewStaticSeqs(),
		sockets: sockctx.NewStaticSockets(),
		rec:     &recorder{},
	}
	b := sockctx.NewBuilder(h.seqs, corr, h.sockets, sockctx.NewSocketIDs(0))
	h.p = NewProcessor(emitter.New(h.rec, b), connresolve.New(nil))
	return h
}

// socket makes fd observable.
func (h *harness) socket(fd int32) {
	h.seqs.Set(testPid, fd, 1000, 2000)
	h.sockets.Add(testPid, fd, sockctx.SocketInfo{
		L4Protocol: bpf.IPPROTO_TCP,
		Local:      netip.MustParseAddrPort("10.1.0.1:40000"),
		Remote:     netip.MustParseAddrPort("10.1.0.2:443"),
	})
}

func (h *harness) fire(symbol string, regs goabi.Regs) {
	h.t.Helper()
	require.NoError(h.t, h.p.HandleProbe(symbol, h.proc.Context(regs, testPid+1, 42)))
}

func (h *harness) events() []*bpf.HeaderEvent {
	h.t.Helper()
	out := make([]*bpf.HeaderEvent, 0, len(h.rec.records))
	for _, raw := range h.rec.records {
		ev, err := bpf.Decode(raw)
		require.NoError(h.t, err)
		out = append(out, ev)
	}
	return out
}

func (h *harness) clientConn(fd int, nextStreamID uint32) uint64 {
	cc := h.proc.Struct(0x80)
	h.proc.SetConn(cc, offsets.ClientConnTConn, h.proc.TCPConn(fd))
	require.NoError(h.t, h.proc.Img.PutU32(cc+fakeproc.Offsets[offsets.ClientConnNextStreamID], nextStreamID))
	return cc
}

func TestClientRequestHeaders(t *testing.T) {
	h := newHarness(t)
	h.socket(7)
	cc := h.clientConn(7, 3)

	name := h.proc.Img.NewString(":method")
	value := h.proc.Img.NewString("GET")
	h.fire(ClientWriteHeader, goabi.Regs{RAX: cc, RBX: name.Ptr, RCX: name.Len, RDI: value.Ptr, RSI: value.Len})
	h.fire(ClientWriteHeaders, goabi.Regs{RAX: cc})

	evs := h.events()
	require.Len(t, evs, 2)

	assert.Equal(t, ":method", string(evs[0].Name()))
	assert.Equal(t, "GET", string(evs[0].Value()))
	assert.Equal(t, bpf.MSG_REQUEST, evs[0].MsgType)
	assert.Equal(t, uint32(1), evs[0].StreamID)
	assert.Equal(t, uint32(7), evs[0].FD)

	assert.Equal(t, bpf.MSG_REQUEST_END, evs[1].MsgType)
	assert.Equal(t, uint32(1), evs[1].StreamID)
	assert.Zero(t, evs[1].NameLen)

	for _, ev := range evs {
		assert.Equal(t, bpf.T_EGRESS, ev.Direction)
		assert.Equal(t, bpf.PROTO_HTTP2, ev.DataType)
		assert.Equal(t, uint32(2000), ev.TCPSeq)
		assert.Equal(t, uint64(42), ev.CoroutineID)
		assert.Equal(t, uint32(testPid), ev.Tgid)
		assert.Equal(t, uint32(testPid+1), ev.Pid)
	}
}

func TestServerResponseSynthesis(t *testing.T) {
	h := newHarness(t)
	h.socket(8)

	sc := h.proc.Struct(0x100)
	h.proc.SetConn(sc, offsets.ServerConnConn, h.proc.TCPConn(8))
	hd := h.proc.WriteResHeaders(fakeproc.ResHeaders{Stream: 1, Status: 404, ContentLength: "0"})

	h.fire(ServerWriteHeaders, goabi.Regs{RAX: sc, RCX: hd})

	evs := h.events()
	require.Len(t, evs, 3)
	assert.Equal(t, ":status", string(evs[0].Name()))
	assert.Equal(t, "404", string(evs[0].Value()))
	assert.Equal(t, "content-length", string(evs[1].Name()))
	assert.Equal(t, "0", string(evs[1].Value()))
	assert.Equal(t, bpf.MSG_RESPONSE_END, evs[2].MsgType)
	for _, ev := range evs {
		assert.Equal(t, uint32(1), ev.StreamID)
		assert.Equal(t, bpf.T_EGRESS, ev.Direction)
	}
}

func TestServerResponseAllFields(t *testing.T) {
	h := newHarness(t)
	h.socket(8)

	sc := h.proc.Struct(0x100)
	h.proc.SetConn(sc, offsets.ServerConnConn, h.proc.TLSConn(h.proc.TCPConn(8)))
	hd := h.proc.WriteResHeaders(fakeproc.ResHeaders{
		Stream:        5,
		Status:        200,
		Date:          "Tue, 13 Oct 2026 10:00:00 GMT",
		ContentType:   "application/json",
		ContentLength: "17",
	})

	h.fire(ServerWriteHeaders, goabi.Regs{RAX: sc, RCX: hd})

	evs := h.events()
	require.Len(t, evs, 5)
	names := make([]string, 0, 4)
	for _, ev := range evs[:4] {
		names = append(names, string(ev.Name()))
		assert.Equal(t, bpf.PROTO_TLS_HTTP2, ev.DataType)
	}
	assert.Equal(t, []string{":status", "date", "content-type", "content-length"}, names)
	assert.Equal(t, "200", string(evs[0].Value()))
}

func TestServerProcessHeadersStackABI(t *testing.T) {
	h := newHarness(t)
	h.proc.Info.Convention = goabi.StackABI
	h.socket(9)

	sc := h.proc.Struct(0x100)
	h.proc.SetConn(sc, offsets.ServerConnConn, h.proc.TCPConn(9))
	frame := h.proc.MetaHeadersFrame(3, h.proc.HeaderFields(fakeproc.Pairs(":method", "POST", ":path", "/upload")...))

	h.fire(ServerProcessHeaders, goabi.Regs{RSP: h.proc.Stack(sc, frame)})

	evs := h.events()
	require.Len(t, evs, 3)
	assert.Equal(t, ":method", string(evs[0].Name()))
	assert.Equal(t, "/upload", string(evs[1].Value()))
	assert.Equal(t, bpf.MSG_REQUEST_END, evs[2].MsgType)
	for _, ev := range evs {
		assert.Equal(t, bpf.T_INGRESS, ev.Direction)
		assert.Equal(t, uint32(3), ev.StreamID)
		// The correlator has no entry for this read.
		assert.Zero(t, ev.TCPSeq)
	}
}

func TestClientHandleResponse(t *testing.T) {
	h := newHarness(t)
	h.socket(10)

	cc := h.clientConn(10, 5)
	rl := h.proc.Struct(0x10)
	h.proc.SetField(rl, offsets.ReadLoopCC, cc)
	frame := h.proc.MetaHeadersFrame(3, h.proc.HeaderFields(fakeproc.Pairs(":status", "200")...))

	h.fire(ClientHandleResponse, goabi.Regs{RAX: rl, RCX: frame})

	evs := h.events()
	require.Len(t, evs, 2)
	assert.Equal(t, bpf.MSG_RESPONSE, evs[0].MsgType)
	assert.Equal(t, bpf.MSG_RESPONSE_END, evs[1].MsgType)
	assert.Equal(t, uint32(3), evs[0].StreamID)
	assert.Equal(t, bpf.T_INGRESS, evs[0].Direction)
}

func (h *harness) loopy(side uint64, conn procmem.Iface) uint64 {
	bw := h.proc.Struct(0x60)
	h.proc.SetConn(bw, offsets.GRPCBufWriterConn, conn)
	framer := h.proc.Struct(0x30)
	h.proc.SetField(framer, offsets.GRPCFramerWriter, bw)

	l := h.proc.Struct(0x80)
	h.proc.SetField(l, offsets.GRPCLoopySide, side)
	h.proc.SetField(l, offsets.GRPCLoopyFramer, framer)
	return l
}

func TestGRPCLoopyWriteHeader(t *testing.T) {
	tests := []struct {
		name     string
		side     uint64
		wantKind bpf.MessageType
	}{
		{"client side", 0, bpf.MSG_REQUEST},
		{"server side", grpcServerSide, bpf.MSG_RESPONSE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.socket(11)

			conn := h.proc.SyscallConn(h.proc.TLSConn(h.proc.TCPConn(11)))
			l := h.loopy(tt.side, conn)
			hf := h.proc.HeaderFields(fakeproc.Pairs(":path", "/pkg.Svc/Call", "content-type", "application/grpc")...)

			h.fire(GRPCLoopyWriteHeader, goabi.Regs{RAX: l, RBX: 13, RDI: hf.Ptr, RSI: hf.Len, R8: hf.Cap})

			evs := h.events()
			require.Len(t, evs, 3)
			assert.Equal(t, tt.wantKind, evs[0].MsgType)
			assert.Equal(t, tt.wantKind.End(), evs[2].MsgType)
			for _, ev := range evs {
				assert.Equal(t, uint32(13), ev.StreamID)
				assert.Equal(t, bpf.T_EGRESS, ev.Direction)
				assert.Equal(t, bpf.PROTO_TLS_HTTP2, ev.DataType)
			}
		})
	}
}

func TestGRPCOperateHeaders(t *testing.T) {
	tests := []struct {
		name     string
		symbol   string
		field    offsets.Field
		wantKind bpf.MessageType
	}{
		{"server", GRPCServerOperateHdrs, offsets.GRPCServerConn, bpf.MSG_REQUEST},
		{"client", GRPCClientOperateHdrs, offsets.GRPCClientConn, bpf.MSG_RESPONSE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.socket(12)

			tr := h.proc.Struct(0x100)
			h.proc.SetConn(tr, tt.field, h.proc.TCPConn(12))
			frame := h.proc.MetaHeadersFrame(1, h.proc.HeaderFields(fakeproc.Pairs("grpc-status", "0")...))

			h.fire(tt.symbol, goabi.Regs{RAX: tr, RBX: frame})

			evs := h.events()
			require.Len(t, evs, 2)
			assert.Equal(t, tt.wantKind, evs[0].MsgType)
			assert.Equal(t, "grpc-status", string(evs[0].Name()))
			assert.Equal(t, bpf.T_INGRESS, evs[0].Direction)
		})
	}
}

func TestHandleProbe_Failures(t *testing.T) {
	h := newHarness(t)

	err := h.p.HandleProbe("main.nope", h.proc.Context(goabi.Regs{}, testPid, 1))
	require.ErrorIs(t, err, ErrUnknownProbe)

	ctx := probectx.New(nil, h.proc.Img, goabi.Regs{}, testPid, testPid, 1)
	require.NoError(t, h.p.HandleProbe(ServerProcessHeaders, ctx))

	// Resolvable connection but the socket is unknown.
	sc := h.proc.Struct(0x100)
	h.proc.SetConn(sc, offsets.ServerConnConn, h.proc.TCPConn(20))
	frame := h.proc.MetaHeadersFrame(1, h.proc.HeaderFields(fakeproc.Pairs("a", "b")...))
	h.fire(ServerProcessHeaders, goabi.Regs{RAX: sc, RBX: frame})

	// Nil connection.
	h.fire(ServerProcessHeaders, goabi.Regs{RAX: h.proc.Struct(0x100), RBX: frame})

	assert.Empty(t, h.rec.records)
}

func TestSymbols(t *testing.T) {
	h := newHarness(t)
	syms := h.p.Symbols()
	assert.Len(t, syms, 8)
	assert.Contains(t, syms, ClientWriteHeader)
	assert.IsIncreasing(t, syms)
}

func TestWithHandler(t *testing.T) {
	h := newHarness(t)
	called := false
	p := NewProcessor(h.p.emitter, h.p.resolver, WithHandler("main.custom", func(_ *Processor, _ *probectx.Context) {
		called = true
	}))

	require.NoError(t, p.HandleProbe("main.custom", h.proc.Context(goabi.Regs{}, testPid, 1)))
	assert.True(t, called)
}
