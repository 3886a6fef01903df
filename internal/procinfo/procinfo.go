package procinfo

import (
	"github.com/hashicorp/go-version"

	"github.com/mrzor/h2trace/internal/goabi"
	"github.com/mrzor/h2trace/internal/offsets"
)

// Itabs holds runtime addresses of the net.Conn itabs the resolver compares
// interface tags against. A zero address never matches.
type Itabs struct {
	// SyscallConn is grpc's credentials/internal.syscallConn, the wrapper
	// grpc puts around a TLS conn after the handshake.
	SyscallConn uint64
	// TLSConn is *crypto/tls.Conn.
	TLSConn uint64
	// TCPConn is *net.TCPConn.
	TCPConn uint64
}

// ProcessInfo describes one traced process.
type ProcessInfo struct {
	Pid           uint32
	Executable    string
	GoVersion     *version.Version
	BinaryVersion string // offset table key
	Convention    goabi.Convention
	Itabs         Itabs
	Offsets       offsets.Source
}

// Offset resolves a symbolic field for this process's binary.
func (p *ProcessInfo) Offset(f offsets.Field) (uint64, bool) {
	if p == nil || p.Offsets == nil {
		return 0, false
	}
	return p.Offsets.Lookup(p.BinaryVersion, f)
}
