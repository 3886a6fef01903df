// Package peernames recovers names for the addresses header events carry.
//
// A raw 5-tuple says a socket talks to 10.0.0.5:443, not that the peer is
// "payments.internal". The names are usually nearby: the :authority or host
// header of the requests on that socket, and the endpoints a process was
// configured with through its environment and command line. The Resolver
// learns from both and answers Lookup for any address it has seen named.
//
// This is imperfect (it misses peers that never send an authority and were
// not configured by name) but costs nothing on the probe path.
package peernames

import (
	"context"
	"net"
	"net/netip"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/procfs"

	"github.com/mrzor/h2trace/internal/bpf"
)

// DefaultSize bounds the number of addresses remembered.
const DefaultSize = 4096

// LookupFunc resolves a hostname to addresses.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// Resolver maps addresses to the names they were reached by.
type Resolver struct {
	mu       sync.Mutex
	names    *lru.Cache[netip.Addr, []string]
	resolved map[string]bool
	seeded   map[uint32]bool

	lookup  LookupFunc
	timeout time.Duration
	proc    *procfs.FS

	hostnameRegex   *regexp.Regexp
	hostnamePortReg *regexp.Regexp
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookup replaces DNS resolution of configured endpoints.
func WithLookup(fn LookupFunc) Option {
	return func(r *Resolver) { r.lookup = fn }
}

// WithProcFS seeds each newly seen process from its environment and
// command line.
func WithProcFS(fs procfs.FS) Option {
	return func(r *Resolver) { r.proc = &fs }
}

// New creates a Resolver remembering up to size addresses.
func New(size int, opts ...Option) (*Resolver, error) {
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New[netip.Addr, []string](size)
	if err != nil {
		return nil, err
	}
	r := &Resolver{
		names:           cache,
		resolved:        make(map[string]bool),
		seeded:          make(map[uint32]bool),
		lookup:          dnsLookup,
		timeout:         2 * time.Second,
		hostnameRegex:   regexp.MustCompile(`(?i)(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}`),
		hostnamePortReg: regexp.MustCompile(`(?i)(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}:\d{1,5}`),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Learn records what ev reveals about its peers. A request's authority
// names the remote end when the request is sent and the local end when it is
// received.
func (r *Resolver) Learn(ev *bpf.HeaderEvent) {
	if r.proc != nil {
		r.seed(ev.Tgid)
	}
	if ev.IsEnd() || ev.MsgType != bpf.MSG_REQUEST {
		return
	}
	name := string(ev.Name())
	if name != ":authority" && name != "host" {
		return
	}
	host, ok := authorityHost(string(ev.Value()))
	if !ok {
		return
	}

	addr := ev.Tuple.Remote().Addr()
	if ev.Direction == bpf.T_INGRESS {
		addr = ev.Tuple.Local().Addr()
	}
	r.add(addr, host)
}

// IngestEndpoints scans free text for hostnames and hostname:port pairs and
// resolves each hostname once.
func (r *Resolver) IngestEndpoints(ctx context.Context, endpoints ...string) {
	for _, s := range endpoints {
		for _, m := range r.hostnamePortReg.FindAllString(s, -1) {
			host, _, err := net.SplitHostPort(m)
			if err == nil {
				r.resolve(ctx, host)
			}
		}
		for _, m := range r.hostnameRegex.FindAllString(s, -1) {
			r.resolve(ctx, m)
		}
	}
}

// Lookup returns the names addr was reached by, most recent last.
func (r *Resolver) Lookup(addr netip.Addr) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names, _ := r.names.Get(addr.Unmap())
	return slices.Clone(names)
}

// Len returns the number of named addresses.
func (r *Resolver) Len() int {
	return r.names.Len()
}

func (r *Resolver) resolve(ctx context.Context, host string) {
	host = strings.ToLower(host)

	r.mu.Lock()
	done := r.resolved[host]
	r.resolved[host] = true
	r.mu.Unlock()
	if done {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	addrs, err := r.lookup(ctx, host)
	if err != nil {
		return
	}
	for _, a := range addrs {
		r.add(a, host)
	}
}

func (r *Resolver) add(addr netip.Addr, host string) {
	if !addr.IsValid() {
		return
	}
	addr = addr.Unmap()

	r.mu.Lock()
	defer r.mu.Unlock()
	names, _ := r.names.Get(addr)
	if slices.Contains(names, host) {
		return
	}
	r.names.Add(addr, append(slices.Clone(names), host))
}

// seed ingests the environment and command line of tgid the first time it is
// seen. Unreadable processes are not retried.
func (r *Resolver) seed(tgid uint32) {
	r.mu.Lock()
	done := r.seeded[tgid]
	r.seeded[tgid] = true
	r.mu.Unlock()
	if done {
		return
	}

	proc, err := r.proc.Proc(int(tgid))
	if err != nil {
		return
	}
	var endpoints []string
	if environ, err := proc.Environ(); err == nil {
		for _, kv := range environ {
			if _, v, ok := strings.Cut(kv, "="); ok && v != "" {
				endpoints = append(endpoints, v)
			}
		}
	}
	if args, err := proc.CmdLine(); err == nil {
		endpoints = append(endpoints, args...)
	}
	r.IngestEndpoints(context.Background(), endpoints...)
}

func dnsLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

var hostnameLabel = regexp.MustCompile(`(?i)^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)*$`)

// authorityHost returns the hostname of an authority, or false for IP
// literals and malformed values.
func authorityHost(authority string) (string, bool) {
	host := authority
	if h, _, err := net.SplitHostPort(authority); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if _, err := netip.ParseAddr(host); err == nil {
		return "", false
	}
	if !hostnameLabel.MatchString(host) {
		return "", false
	}
	return strings.ToLower(host), true
}
