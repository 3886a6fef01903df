package bininspect

import (
	"debug/buildinfo"
	"debug/elf"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/prometheus/procfs"

	"github.com/mrzor/h2trace/internal/goabi"
	"github.com/mrzor/h2trace/internal/offsets"
	"github.com/mrzor/h2trace/internal/procinfo"
)

// ErrNotGo is returned for executables without Go build information.
var ErrNotGo = errors.New("bininspect: not a Go binary")

// Concrete types of the itabs the pipeline tracks.
const (
	SyscallConnType = "*google.golang.org/grpc/credentials/internal.syscallConn"
	TLSConnType     = "*crypto/tls.Conn"
	TCPConnType     = "*net.TCPConn"
	netConnIface    = "net.Conn"
)

const (
	itabPrefixNew = "go:itab."
	itabPrefixOld = "go.itab."
)

// Binary is the static view of an executable.
type Binary struct {
	Path          string
	GoVersion     *version.Version
	BinaryVersion string // toolchain string, e.g. "go1.21.3"
	Convention    goabi.Convention
	PIE           bool
	Itabs         procinfo.Itabs // link-time addresses
	firstLoad     uint64         // vaddr of the executable PT_LOAD, page aligned
}

// InspectFile reads build info and itab symbols from the executable at path.
func InspectFile(path string) (*Binary, error) {
	bi, err := buildinfo.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotGo, path, err)
	}
	v, err := ParseGoVersion(bi.GoVersion)
	if err != nil {
		return nil, err
	}

	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening ELF %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	b := &Binary{
		Path:          path,
		GoVersion:     v,
		BinaryVersion: bi.GoVersion,
		Convention:    goabi.ConventionFor(v),
		PIE:           f.Type == elf.ET_DYN,
		Itabs:         FindItabs(symbols(f)),
		firstLoad:     firstExecLoad(f),
	}
	return b, nil
}

// ParseGoVersion parses a toolchain string such as "go1.21.3" or
// "go1.22rc1 X:nocoverageredesign".
func ParseGoVersion(s string) (*version.Version, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("parsing go version: empty")
	}
	raw := strings.TrimPrefix(fields[0], "go")
	// Pre-release suffixes like "rc1" and "beta2" are not semver.
	for i, c := range raw {
		if c != '.' && (c < '0' || c > '9') {
			raw = raw[:i]
			break
		}
	}
	v, err := version.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing go version %q: %w", s, err)
	}
	return v, nil
}

func symbols(f *elf.File) []elf.Symbol {
	syms, err := f.Symbols()
	if err != nil {
		// Stripped binaries may still carry dynamic symbols.
		syms, err = f.DynamicSymbols()
		if err != nil {
			return nil
		}
	}
	return syms
}

// FindItabs picks the tracked net.Conn itabs out of a symbol table.
func FindItabs(syms []elf.Symbol) procinfo.Itabs {
	var it procinfo.Itabs
	for _, s := range syms {
		concrete, iface, ok := itabTypes(s.Name)
		if !ok || iface != netConnIface {
			continue
		}
		switch concrete {
		case SyscallConnType:
			it.SyscallConn = s.Value
		case TLSConnType:
			it.TLSConn = s.Value
		case TCPConnType:
			it.TCPConn = s.Value
		}
	}
	return it
}

// itabTypes splits "go:itab.<concrete>,<interface>".
func itabTypes(name string) (concrete, iface string, ok bool) {
	rest, found := strings.CutPrefix(name, itabPrefixNew)
	if !found {
		rest, found = strings.CutPrefix(name, itabPrefixOld)
	}
	if !found {
		return "", "", false
	}
	concrete, iface, ok = strings.Cut(rest, ",")
	if !ok || concrete == "" || iface == "" {
		return "", "", false
	}
	return concrete, iface, true
}

func firstExecLoad(f *elf.File) uint64 {
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Flags&elf.PF_X == 0 {
			continue
		}
		if p.Align == 0 {
			return p.Vaddr
		}
		return p.Vaddr &^ (p.Align - 1)
	}
	return 0
}

// Relocate returns the itabs shifted by bias. Zero addresses stay zero.
func (b *Binary) Relocate(bias uint64) procinfo.Itabs {
	shift := func(v uint64) uint64 {
		if v == 0 {
			return 0
		}
		return v + bias
	}
	return procinfo.Itabs{
		SyscallConn: shift(b.Itabs.SyscallConn),
		TLSConn:     shift(b.Itabs.TLSConn),
		TCPConn:     shift(b.Itabs.TCPConn),
	}
}

// LoadBias finds where exe's executable segment was mapped, relative to its
// link-time address.
func (b *Binary) LoadBias(maps []*procfs.ProcMap, exe string) (uint64, bool) {
	if !b.PIE {
		return 0, true
	}
	for _, m := range maps {
		if m.Pathname != exe || m.Perms == nil || !m.Perms.Execute {
			continue
		}
		start := uint64(m.StartAddr) - uint64(m.Offset) //nolint:gosec // Mapping offsets are non-negative
		if start < b.firstLoad {
			return 0, false
		}
		return start - b.firstLoad, true
	}
	return 0, false
}

// Inspector builds ProcessInfo for live processes.
type Inspector struct {
	fs      procfs.FS
	root    string
	offsets offsets.Source
}

// NewInspector reads processes under procRoot and resolves fields through
// src.
func NewInspector(procRoot string, src offsets.Source) (*Inspector, error) {
	if procRoot == "" {
		procRoot = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("opening procfs at %s: %w", procRoot, err)
	}
	return &Inspector{fs: fs, root: procRoot, offsets: src}, nil
}

// Inspect implements the procinfo.Manager loader for pid.
func (in *Inspector) Inspect(pid uint32) (*procinfo.ProcessInfo, error) {
	proc, err := in.fs.Proc(int(pid))
	if err != nil {
		return nil, fmt.Errorf("reading process %d: %w", pid, err)
	}
	exe, err := proc.Executable()
	if err != nil {
		return nil, fmt.Errorf("reading executable of %d: %w", pid, err)
	}

	// Read through /proc so binaries in other mount namespaces resolve.
	b, err := InspectFile(filepath.Join(in.root, strconv.FormatUint(uint64(pid), 10), "exe"))
	if err != nil {
		return nil, err
	}

	maps, err := proc.ProcMaps()
	if err != nil {
		return nil, fmt.Errorf("reading maps of %d: %w", pid, err)
	}
	bias, ok := b.LoadBias(maps, exe)
	if !ok {
		return nil, fmt.Errorf("no executable mapping of %s in process %d", exe, pid)
	}

	return &procinfo.ProcessInfo{
		Pid:           pid,
		Executable:    exe,
		GoVersion:     b.GoVersion,
		BinaryVersion: b.BinaryVersion,
		Convention:    b.Convention,
		Itabs:         b.Relocate(bias),
		Offsets:       in.offsets,
	}, nil
}
