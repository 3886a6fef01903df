package sockctx

import (
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/procfs"

	"github.com/mrzor/h2trace/internal/bpf"
)

// SocketInfo is what the pipeline needs to know about a descriptor.
type SocketInfo struct {
	L4Protocol uint8 // bpf.IPPROTO_TCP or bpf.IPPROTO_UDP
	Local      netip.AddrPort
	Remote     netip.AddrPort
}

// Classifiable reports whether the socket is TCP or UDP.
func (s SocketInfo) Classifiable() bool {
	return s.L4Protocol == bpf.IPPROTO_TCP || s.L4Protocol == bpf.IPPROTO_UDP
}

// SocketLookup maps a process descriptor to its socket.
type SocketLookup interface {
	Socket(tgid uint32, fd int32) (SocketInfo, bool)
}

// SeqSource reports the current TCP sequence of a descriptor's read and
// write sides. 0 means unknown.
type SeqSource interface {
	ReadSeq(tgid uint32, fd int32) uint32
	WriteSeq(tgid uint32, fd int32) uint32
}

// ProcSockets resolves sockets through procfs: the fd link names the socket
// inode, and the process's own view of /proc/net lists the inode's tuple,
// so sockets in other network namespaces resolve too.
type ProcSockets struct {
	root string
}

// NewProcSockets reads from a proc mount at root. An empty root means /proc.
func NewProcSockets(root string) *ProcSockets {
	if root == "" {
		root = procfs.DefaultMountPoint
	}
	return &ProcSockets{root: root}
}

// Socket implements SocketLookup.
func (p *ProcSockets) Socket(tgid uint32, fd int32) (SocketInfo, bool) {
	pidDir := filepath.Join(p.root, strconv.FormatUint(uint64(tgid), 10))

	inode, ok := socketInode(filepath.Join(pidDir, "fd", strconv.Itoa(int(fd))))
	if !ok {
		return SocketInfo{}, false
	}

	fs, err := procfs.NewFS(pidDir)
	if err != nil {
		return SocketInfo{}, false
	}

	tables := []struct {
		proto uint8
		read  func() (procfs.NetTCP, error)
	}{
		{bpf.IPPROTO_TCP, fs.NetTCP},
		{bpf.IPPROTO_TCP, fs.NetTCP6},
		{bpf.IPPROTO_UDP, func() (procfs.NetTCP, error) { l, err := fs.NetUDP(); return procfs.NetTCP(l), err }},
		{bpf.IPPROTO_UDP, func() (procfs.NetTCP, error) { l, err := fs.NetUDP6(); return procfs.NetTCP(l), err }},
	}
	for _, tbl := range tables {
		lines, err := tbl.read()
		if err != nil {
			continue
		}
		for _, l := range lines {
			if l.Inode != inode {
				continue
			}
			return SocketInfo{
				L4Protocol: tbl.proto,
				Local:      addrPort(l.LocalAddr, l.LocalPort),
				Remote:     addrPort(l.RemAddr, l.RemPort),
			}, true
		}
	}
	return SocketInfo{}, false
}

// socketInode parses a "socket:[12345]" fd link.
func socketInode(link string) (uint64, bool) {
	target, err := os.Readlink(link)
	if err != nil {
		return 0, false
	}
	if !strings.HasPrefix(target, "socket:[") || !strings.HasSuffix(target, "]") {
		return 0, false
	}
	inode, err := strconv.ParseUint(target[len("socket:["):len(target)-1], 10, 64)
	if err != nil {
		return 0, false
	}
	return inode, true
}

func addrPort(ip net.IP, port uint64) netip.AddrPort {
	addr, _ := netip.AddrFromSlice(ip)
	return netip.AddrPortFrom(addr.Unmap(), uint16(port)) //nolint:gosec // Ports are 16-bit
}

// FDKey identifies a descriptor of a process.
type FDKey struct {
	Tgid uint32
	FD   int32
}

// StaticSockets is a SocketLookup over a fixed table, for replaying
// captured sessions.
type StaticSockets struct {
	mu      sync.RWMutex
	sockets map[FDKey]SocketInfo
}

// NewStaticSockets returns an empty table.
func NewStaticSockets() *StaticSockets {
	return &StaticSockets{sockets: make(map[FDKey]SocketInfo)}
}

// Add registers a socket.
func (s *StaticSockets) Add(tgid uint32, fd int32, info SocketInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[FDKey{Tgid: tgid, FD: fd}] = info
}

// Socket implements SocketLookup.
func (s *StaticSockets) Socket(tgid uint32, fd int32) (SocketInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.sockets[FDKey{Tgid: tgid, FD: fd}]
	return info, ok
}

// StaticSeqs is a SeqSource over a fixed table.
type StaticSeqs struct {
	mu    sync.RWMutex
	read  map[FDKey]uint32
	write map[FDKey]uint32
}

// NewStaticSeqs returns an empty table.
func NewStaticSeqs() *StaticSeqs {
	return &StaticSeqs{read: make(map[FDKey]uint32), write: make(map[FDKey]uint32)}
}

// Set records the current read and write sequences of a descriptor.
func (s *StaticSeqs) Set(tgid uint32, fd int32, read, write uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := FDKey{Tgid: tgid, FD: fd}
	s.read[k] = read
	s.write[k] = write
}

// ReadSeq implements SeqSource.
func (s *StaticSeqs) ReadSeq(tgid uint32, fd int32) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read[FDKey{Tgid: tgid, FD: fd}]
}

// WriteSeq implements SeqSource.
func (s *StaticSeqs) WriteSeq(tgid uint32, fd int32) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.write[FDKey{Tgid: tgid, FD: fd}]
}
