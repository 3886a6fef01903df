// Package connresolve finds the socket descriptor behind an HTTP/2 or gRPC
// connection object.
//
// Resolution starts from a connection-like struct (http2serverConn,
// http2Client, a grpc bufWriter, ...), adds a symbolic field offset to reach
// its net.Conn interface value, unwraps grpc's credentials syscallConn if
// present, and hands the remaining interface to an FDSource.
//
// The syscallConn unwrap is exactly one hop. A conn wrapped twice by grpc is
// not unwrapped further and resolves to whatever the FDSource makes of the
// inner wrapper.
package connresolve

import (
	"github.com/mrzor/h2trace/internal/offsets"
	"github.com/mrzor/h2trace/internal/probectx"
	"github.com/mrzor/h2trace/internal/procmem"
)

// FDSource extracts the descriptor from a net.Conn interface value stored at
// addr. Implementations call ctx.SetTLS(true) when they cross a TLS layer.
type FDSource interface {
	FD(ctx *probectx.Context, addr uint64) (int32, bool)
}

// Resolver walks from a connection object to its descriptor.
type Resolver struct {
	fds FDSource
}

// New returns a Resolver using fds for the final step. A nil fds selects
// GoNetConn.
func New(fds FDSource) *Resolver {
	if fds == nil {
		fds = GoNetConn{}
	}
	return &Resolver{fds: fds}
}

// Resolve returns the descriptor of the net.Conn stored in field of the
// struct at ptr. It resets the invocation's TLS flag first.
func (r *Resolver) Resolve(ctx *probectx.Context, ptr uint64, field offsets.Field) (int32, bool) {
	return r.ResolveChain(ctx, ptr, field)
}

// ResolveChain follows pointer fields before reaching the net.Conn field.
// Every field but the last names a pointer to the next struct; the last
// names the net.Conn itself.
func (r *Resolver) ResolveChain(ctx *probectx.Context, ptr uint64, fields ...offsets.Field) (int32, bool) {
	ctx.SetTLS(false)
	if len(fields) == 0 {
		return -1, false
	}

	for _, f := range fields[:len(fields)-1] {
		addr, ok := ctx.Field(ptr, f)
		if !ok {
			return -1, false
		}
		next, err := procmem.ReadPtr(ctx.Mem, addr)
		if err != nil {
			return -1, false
		}
		ptr = next
	}

	addr, ok := ctx.Field(ptr, fields[len(fields)-1])
	if !ok {
		return -1, false
	}
	return r.resolveConn(ctx, addr)
}

func (r *Resolver) resolveConn(ctx *probectx.Context, addr uint64) (int32, bool) {
	conn, err := procmem.ReadIface(ctx.Mem, addr)
	if err != nil || conn.IsNil() {
		return -1, false
	}

	if wrapped := ctx.Itabs().SyscallConn; wrapped != 0 && conn.Tab == wrapped {
		// syscallConn embeds the TLS conn as its first field.
		inner, err := procmem.ReadIface(ctx.Mem, conn.Data)
		if err != nil || inner.IsNil() {
			return -1, false
		}
		ctx.SetTLS(true)
		addr = inner.Data
	}

	return r.fds.FD(ctx, addr)
}
