package connresolve

import (
	"math"

	"github.com/mrzor/h2trace/internal/offsets"
	"github.com/mrzor/h2trace/internal/probectx"
	"github.com/mrzor/h2trace/internal/procmem"
)

// GoNetConn is the default FDSource. It understands *crypto/tls.Conn and
// anything embedding net.conn (*net.TCPConn, *net.UnixConn):
//
//	tls.Conn.conn -> net.conn.fd -> netFD.pfd -> poll.FD.Sysfd
type GoNetConn struct{}

// FD implements FDSource.
func (GoNetConn) FD(ctx *probectx.Context, addr uint64) (int32, bool) {
	conn, err := procmem.ReadIface(ctx.Mem, addr)
	if err != nil || conn.IsNil() {
		return -1, false
	}

	target := conn.Data
	if tlsTab := ctx.Itabs().TLSConn; tlsTab != 0 && conn.Tab == tlsTab {
		rawAddr, ok := ctx.Field(conn.Data, offsets.TLSConnConn)
		if !ok {
			return -1, false
		}
		raw, err := procmem.ReadIface(ctx.Mem, rawAddr)
		if err != nil || raw.IsNil() {
			return -1, false
		}
		ctx.SetTLS(true)
		target = raw.Data
	}

	return sysfd(ctx, target)
}

func sysfd(ctx *probectx.Context, conn uint64) (int32, bool) {
	fdField, ok := ctx.Field(conn, offsets.NetConnFD)
	if !ok {
		return -1, false
	}
	netfd, err := procmem.ReadPtr(ctx.Mem, fdField)
	if err != nil {
		return -1, false
	}

	pfd, ok := ctx.Field(netfd, offsets.NetFDPfd)
	if !ok {
		return -1, false
	}
	sysfdAddr, ok := ctx.Field(pfd, offsets.PollFDSysfd)
	if !ok {
		return -1, false
	}

	v, err := procmem.ReadU64(ctx.Mem, sysfdAddr)
	if err != nil {
		return -1, false
	}
	fd := int64(v) //nolint:gosec // Sysfd is a Go int
	if fd < 0 || fd > math.MaxInt32 {
		return -1, false
	}
	return int32(fd), true
}
