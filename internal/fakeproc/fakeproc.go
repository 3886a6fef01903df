// Package fakeproc builds Go runtime object graphs inside a procmem.Image so
// the probe pipeline can run without a live target. It backs the package
// tests and the selftest command.
//
// Layouts follow amd64 Go: interfaces are {itab, data}, strings {ptr, len},
// slices {ptr, len, cap}, hpack.HeaderField is 40 bytes.
package fakeproc

import (
	"github.com/mrzor/h2trace/internal/goabi"
	"github.com/mrzor/h2trace/internal/offsets"
	"github.com/mrzor/h2trace/internal/probectx"
	"github.com/mrzor/h2trace/internal/procinfo"
	"github.com/mrzor/h2trace/internal/procmem"
)

// Itab addresses handed out to the fake process.
const (
	TCPConnItab     = 0x7a0000
	TLSConnItab     = 0x7a0100
	SyscallConnItab = 0x7a0200
)

// BinaryVersion is the offset table key of the fake binary.
const BinaryVersion = "go1.21.3"

// Offsets of the moving fields in the fake binary.
var Offsets = offsets.Table{
	offsets.ServerConnConn:         0x10,
	offsets.ClientConnTConn:        0x8,
	offsets.ClientConnNextStreamID: 0x20,
	offsets.GRPCClientConn:         0x40,
	offsets.GRPCServerConn:         0x20,
	offsets.GRPCLoopySide:          0x0,
	offsets.GRPCLoopyFramer:        0x28,
	offsets.GRPCFramerWriter:       0x0,
	offsets.GRPCBufWriterConn:      0x28,
}

// Process is a synthetic traced process.
type Process struct {
	Img   *procmem.Image
	Info  *procinfo.ProcessInfo
	Store *offsets.Store
	Tgid  uint32
}

// New returns an empty process using the register ABI.
func New(tgid uint32) *Process {
	store := offsets.NewStore()
	for f, off := range Offsets {
		store.Set(BinaryVersion, f, off)
	}

	return &Process{
		Img:   procmem.NewImage(),
		Store: store,
		Tgid:  tgid,
		Info: &procinfo.ProcessInfo{
			Pid:           tgid,
			BinaryVersion: BinaryVersion,
			Convention:    goabi.RegisterABI,
			Offsets:       store,
			Itabs: procinfo.Itabs{
				SyscallConn: SyscallConnItab,
				TLSConn:     TLSConnItab,
				TCPConn:     TCPConnItab,
			},
		},
	}
}

// Context returns an invocation context for a probe firing on thread tid.
func (p *Process) Context(regs goabi.Regs, tid uint32, goid uint64) *probectx.Context {
	return probectx.New(p.Info, p.Img, regs, p.Tgid, tid, goid)
}

func (p *Process) off(f offsets.Field) uint64 {
	off, _ := p.Store.Lookup(BinaryVersion, f)
	return off
}

// Struct allocates a zeroed object of size bytes.
func (p *Process) Struct(size int) uint64 {
	return p.Img.Alloc(size)
}

// SetField writes a pointer-sized value at obj+offset(f).
func (p *Process) SetField(obj uint64, f offsets.Field, v uint64) {
	p.must(p.Img.PutU64(obj+p.off(f), v))
}

// SetConn writes a net.Conn interface value at obj+offset(f).
func (p *Process) SetConn(obj uint64, f offsets.Field, conn procmem.Iface) {
	p.must(p.Img.PutIface(obj+p.off(f), conn))
}

// TCPConn builds *net.TCPConn -> netFD{pfd: poll.FD{Sysfd: fd}}.
func (p *Process) TCPConn(fd int) procmem.Iface {
	// poll.FD is embedded in netFD.
	netFD := p.Struct(0x60)
	p.must(p.Img.PutU64(netFD+p.off(offsets.NetFDPfd)+p.off(offsets.PollFDSysfd), uint64(fd))) //nolint:gosec // Test descriptors are small

	tcp := p.Struct(0x10)
	p.must(p.Img.PutU64(tcp+p.off(offsets.NetConnFD), netFD))

	return procmem.Iface{Tab: TCPConnItab, Data: tcp}
}

// TLSConn wraps raw in a *crypto/tls.Conn.
func (p *Process) TLSConn(raw procmem.Iface) procmem.Iface {
	tc := p.Struct(0x200)
	p.must(p.Img.PutIface(tc+p.off(offsets.TLSConnConn), raw))
	return procmem.Iface{Tab: TLSConnItab, Data: tc}
}

// SyscallConn wraps inner in grpc's credentials syscallConn.
func (p *Process) SyscallConn(inner procmem.Iface) procmem.Iface {
	sc := p.Struct(0x20)
	p.must(p.Img.PutIface(sc, inner))
	return procmem.Iface{Tab: SyscallConnItab, Data: sc}
}

// Field is a header field to lay out in memory.
type Field struct {
	Name      string
	Value     string
	Sensitive bool
}

// HeaderFieldSize is sizeof(hpack.HeaderField).
const HeaderFieldSize = 40

// HeaderFields lays out a []hpack.HeaderField.
func (p *Process) HeaderFields(fields ...Field) procmem.Slice {
	if len(fields) == 0 {
		return procmem.Slice{}
	}
	base := p.Struct(len(fields) * HeaderFieldSize)
	for i, f := range fields {
		at := base + uint64(i*HeaderFieldSize) //nolint:gosec // Bounded by len(fields)
		p.must(p.Img.PutString(at, p.Img.NewString(f.Name)))
		p.must(p.Img.PutString(at+16, p.Img.NewString(f.Value)))
		if f.Sensitive {
			p.must(p.Img.Write(at+32, []byte{1}))
		}
	}
	n := uint64(len(fields))
	return procmem.Slice{Ptr: base, Len: n, Cap: n}
}

// Pairs turns name, value, name, value... into fields.
func Pairs(kv ...string) []Field {
	out := make([]Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, Field{Name: kv[i], Value: kv[i+1]})
	}
	return out
}

// MetaHeadersFrame builds an http2.MetaHeadersFrame whose embedded
// *HeadersFrame carries stream, with fields as its Fields slice.
func (p *Process) MetaHeadersFrame(stream uint32, fields procmem.Slice) uint64 {
	hf := p.Struct(0x40)
	p.must(p.Img.PutU32(hf+p.off(offsets.FrameHeaderStreamID), stream))

	mh := p.Struct(0x30)
	p.must(p.Img.PutU64(mh, hf))
	p.must(p.Img.PutSlice(mh+p.off(offsets.MetaHeadersFrameFields), fields))
	return mh
}

// ResHeaders describes a net/http.http2writeResHeaders.
type ResHeaders struct {
	Stream        uint32
	Status        int
	Date          string
	ContentType   string
	ContentLength string
}

// WriteResHeaders lays out an http2writeResHeaders.
func (p *Process) WriteResHeaders(h ResHeaders) uint64 {
	obj := p.Struct(0x68)
	p.must(p.Img.PutU32(obj+p.off(offsets.ResHeadersStreamID), h.Stream))
	p.must(p.Img.PutU64(obj+p.off(offsets.ResHeadersHTTPResCode), uint64(h.Status))) //nolint:gosec // Test status codes are positive
	p.must(p.Img.PutString(obj+p.off(offsets.ResHeadersDate), p.Img.NewString(h.Date)))
	p.must(p.Img.PutString(obj+p.off(offsets.ResHeadersContentType), p.Img.NewString(h.ContentType)))
	p.must(p.Img.PutString(obj+p.off(offsets.ResHeadersContentLength), p.Img.NewString(h.ContentLength)))
	return obj
}

// Stack lays out words as ABI0 stack arguments and returns RSP. The first
// word lands at RSP+8, above the return address slot.
func (p *Process) Stack(words ...uint64) uint64 {
	sp := p.Struct(8 * (len(words) + 1))
	for i, w := range words {
		p.must(p.Img.PutU64(sp+uint64(8*(i+1)), w)) //nolint:gosec // Bounded by len(words)
	}
	return sp
}

func (p *Process) must(err error) {
	if err != nil {
		panic(err)
	}
}
