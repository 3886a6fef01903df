// Package offsets resolves symbolic struct field names to byte offsets for a
// given traced binary.
//
// Offsets of unexported fields inside net/http and grpc move between
// releases, so the pipeline never hardcodes them. A Store holds one Table
// per binary version plus a fallback table, and is usually loaded from a
// YAML file produced by an offline binary inspection step:
//
//	default:
//	  net/http.http2serverConn.conn: 0x10
//	binaries:
//	  go1.21.3:
//	    net/http.http2ClientConn.nextStreamID: 0xd8
//
// Runtime layouts that have been stable for many releases are built in (see
// Defaults) so only the moving parts need to be supplied.
package offsets

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrUnknownField is returned when a table names a field this package does
// not know about.
var ErrUnknownField = errors.New("offsets: unknown field")

// Field is a symbolic struct field name, package path first.
type Field string

// Fields read by the probe pipeline.
const (
	// net/http bundled HTTP/2
	ServerConnConn         Field = "net/http.http2serverConn.conn"
	ClientConnTConn        Field = "net/http.http2ClientConn.tconn"
	ClientConnNextStreamID Field = "net/http.http2ClientConn.nextStreamID"
	ReadLoopCC             Field = "net/http.http2clientConnReadLoop.cc"
	FrameHeaderStreamID    Field = "http2.FrameHeader.StreamID"
	MetaHeadersFrameFields Field = "http2.MetaHeadersFrame.Fields"

	// net/http.http2writeResHeaders
	ResHeadersStreamID      Field = "net/http.http2writeResHeaders.streamID"
	ResHeadersHTTPResCode   Field = "net/http.http2writeResHeaders.httpResCode"
	ResHeadersDate          Field = "net/http.http2writeResHeaders.date"
	ResHeadersContentType   Field = "net/http.http2writeResHeaders.contentType"
	ResHeadersContentLength Field = "net/http.http2writeResHeaders.contentLength"

	// google.golang.org/grpc/internal/transport
	GRPCClientConn    Field = "google.golang.org/grpc/internal/transport.http2Client.conn"
	GRPCServerConn    Field = "google.golang.org/grpc/internal/transport.http2Server.conn"
	GRPCLoopySide     Field = "google.golang.org/grpc/internal/transport.loopyWriter.side"
	GRPCLoopyFramer   Field = "google.golang.org/grpc/internal/transport.loopyWriter.framer"
	GRPCFramerWriter  Field = "google.golang.org/grpc/internal/transport.framer.writer"
	GRPCBufWriterConn Field = "google.golang.org/grpc/internal/transport.bufWriter.conn"

	// net.Conn down to the descriptor
	TLSConnConn Field = "crypto/tls.Conn.conn"
	NetConnFD   Field = "net.conn.fd"
	NetFDPfd    Field = "net.netFD.pfd"
	PollFDSysfd Field = "internal/poll.FD.Sysfd"
)

var known = map[Field]struct{}{}

func init() {
	for _, f := range []Field{
		ServerConnConn, ClientConnTConn, ClientConnNextStreamID, ReadLoopCC,
		FrameHeaderStreamID, MetaHeadersFrameFields,
		ResHeadersStreamID, ResHeadersHTTPResCode, ResHeadersDate, ResHeadersContentType, ResHeadersContentLength,
		GRPCClientConn, GRPCServerConn, GRPCLoopySide, GRPCLoopyFramer, GRPCFramerWriter, GRPCBufWriterConn,
		TLSConnConn, NetConnFD, NetFDPfd, PollFDSysfd,
	} {
		known[f] = struct{}{}
	}
}

// Known returns every field the pipeline may look up, sorted.
func Known() []Field {
	out := make([]Field, 0, len(known))
	for f := range known {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Table maps fields to byte offsets within their struct.
type Table map[Field]uint64

// Defaults returns the built-in offsets of layouts that have not changed
// across supported Go and x/net releases.
func Defaults() Table {
	return Table{
		FrameHeaderStreamID:     0x8,
		MetaHeadersFrameFields:  0x8,
		ReadLoopCC:              0x0,
		ResHeadersStreamID:      0x0,
		ResHeadersHTTPResCode:   0x8,
		ResHeadersDate:          0x38,
		ResHeadersContentType:   0x48,
		ResHeadersContentLength: 0x58,
		TLSConnConn:             0x0,
		NetConnFD:               0x0,
		NetFDPfd:                0x0,
		PollFDSysfd:             0x10,
	}
}

// Source resolves an offset for a binary version.
type Source interface {
	Lookup(binaryVersion string, f Field) (uint64, bool)
}

// Store is a Source backed by per-version tables. It is safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	builtin  Table
	fallback Table
	versions map[string]Table
}

// NewStore returns a Store that only knows the built-in defaults.
func NewStore() *Store {
	return &Store{
		builtin:  Defaults(),
		fallback: Table{},
		versions: make(map[string]Table),
	}
}

// Lookup checks the version's table, then the file-level default table, then
// the built-in defaults.
func (s *Store) Lookup(binaryVersion string, f Field) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.versions[binaryVersion]; ok {
		if off, ok := t[f]; ok {
			return off, true
		}
	}
	if off, ok := s.fallback[f]; ok {
		return off, true
	}
	off, ok := s.builtin[f]
	return off, ok
}

// Set stores the offset of f for one binary version. An empty version
// writes the fallback table.
func (s *Store) Set(binaryVersion string, f Field, off uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if binaryVersion == "" {
		s.fallback[f] = off
		return
	}
	t, ok := s.versions[binaryVersion]
	if !ok {
		t = Table{}
		s.versions[binaryVersion] = t
	}
	t[f] = off
}

// Versions returns the binary versions with a dedicated table, sorted.
func (s *Store) Versions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.versions))
	for v := range s.versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Missing returns the known fields that cannot be resolved for a version.
func (s *Store) Missing(binaryVersion string) []Field {
	var out []Field
	for _, f := range Known() {
		if _, ok := s.Lookup(binaryVersion, f); !ok {
			out = append(out, f)
		}
	}
	return out
}

type fileFormat struct {
	Default  map[string]uint64            `yaml:"default"`
	Binaries map[string]map[string]uint64 `yaml:"binaries"`
}

// Parse builds a Store from YAML. Unknown field names are rejected so that a
// typo does not silently fall through to a default.
func Parse(data []byte) (*Store, error) {
	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("decoding offsets: %w", err)
	}

	s := NewStore()
	for name, off := range ff.Default {
		if _, ok := known[Field(name)]; !ok {
			return nil, fmt.Errorf("%w: %q in default table", ErrUnknownField, name)
		}
		s.Set("", Field(name), off)
	}
	for ver, table := range ff.Binaries {
		if ver == "" {
			return nil, fmt.Errorf("binary table with empty version")
		}
		for name, off := range table {
			if _, ok := known[Field(name)]; !ok {
				return nil, fmt.Errorf("%w: %q in table %s", ErrUnknownField, name, ver)
			}
			s.Set(ver, Field(name), off)
		}
	}
	return s, nil
}

// Load reads and parses an offsets file.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("reading offsets file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
