package sockctx

import (
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/h2trace/internal/bpf"
	"github.com/mrzor/h2trace/internal/fakeproc"
	"github.com/mrzor/h2trace/internal/goabi"
	"github.com/mrzor/h2trace/internal/tcpseq"
)

const testPid = 4242

type fixture struct {
	proc    *fakeproc.Process
	seqs    *StaticSeqs
	corr    *tcpseq.Table
	sockets *StaticSockets
	ids     *SocketIDs
	builder *Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	corr, err := tcpseq.NewTable(16)
	require.NoError(t, err)

	f := &fixture{
		proc:    fakeproc.New(testPid),
		seqs:    NewStaticSeqs(),
		corr:    corr,
		sockets: NewStaticSockets(),
		ids:     NewSocketIDs(0),
	}
	f.builder = NewBuilder(f.seqs, f.corr, f.sockets, f.ids, WithClock(func() uint64 { return 777 }))
	return f
}

func tcp4(local, remote string) SocketInfo {
	return SocketInfo{
		L4Protocol: bpf.IPPROTO_TCP,
		Local:      netip.MustParseAddrPort(local),
		Remote:     netip.MustParseAddrPort(remote),
	}
}

func TestBuild_Write(t *testing.T) {
	f := newFixture(t)
	f.seqs.Set(testPid, 7, 0, 5000)
	f.sockets.Add(testPid, 7, tcp4("10.0.0.1:43210", "10.0.0.2:443"))

	ctx := f.proc.Context(goabi.Regs{}, 4243, 99)
	ctx.SetTLS(true)

	c, ok := f.builder.Build(ctx, 7, false)
	require.True(t, ok)

	sd := c.Data
	assert.Equal(t, int32(7), c.FD)
	assert.Equal(t, bpf.T_EGRESS, sd.Direction)
	assert.Equal(t, uint32(5000), sd.TCPSeq)
	assert.Equal(t, bpf.PROTO_TLS_HTTP2, sd.DataType)
	assert.Equal(t, uint8(bpf.SOURCE_GO_HTTP2_UPROBE), sd.Source)
	assert.Equal(t, uint64(777), sd.Timestamp)
	assert.Equal(t, uint64(99), sd.CoroutineID)
	assert.Equal(t, uint32(testPid), sd.Tgid)
	assert.Equal(t, uint32(4243), sd.Pid)
	assert.Equal(t, uint64(1), sd.SocketID)

	assert.Equal(t, uint8(bpf.IPPROTO_TCP), sd.Tuple.L4Protocol)
	assert.Equal(t, uint8(4), sd.Tuple.AddrLen)
	assert.Equal(t, "10.0.0.1:43210", sd.Tuple.Local().String())
	assert.Equal(t, "10.0.0.2:443", sd.Tuple.Remote().String())
}

func TestBuild_ReadUsesCorrelator(t *testing.T) {
	f := newFixture(t)
	f.seqs.Set(testPid, 8, 9000, 1)
	f.sockets.Add(testPid, 8, tcp4("127.0.0.1:8080", "127.0.0.1:5555"))
	f.corr.Record(testPid, 8, 9000, 8800)

	c, ok := f.builder.Build(f.proc.Context(goabi.Regs{}, testPid, 1), 8, true)
	require.True(t, ok)
	assert.Equal(t, bpf.T_INGRESS, c.Data.Direction)
	assert.Equal(t, uint32(8800), c.Data.TCPSeq)
	assert.Equal(t, bpf.PROTO_HTTP2, c.Data.DataType)
}

func TestBuild_ReadCorrelatorMiss(t *testing.T) {
	f := newFixture(t)
	f.seqs.Set(testPid, 8, 9000, 1)
	f.sockets.Add(testPid, 8, tcp4("127.0.0.1:8080", "127.0.0.1:5555"))

	c, ok := f.builder.Build(f.proc.Context(goabi.Regs{}, testPid, 1), 8, true)
	require.True(t, ok)
	assert.Equal(t, uint32(0), c.Data.TCPSeq)
}

func TestBuild_Aborts(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		read  bool
	}{
		{
			name: "zero write sequence",
			setup: func(f *fixture) {
				f.sockets.Add(testPid, 7, tcp4("10.0.0.1:1", "10.0.0.2:2"))
			},
		},
		{
			name: "zero read sequence",
			setup: func(f *fixture) {
				f.seqs.Set(testPid, 7, 0, 10)
				f.sockets.Add(testPid, 7, tcp4("10.0.0.1:1", "10.0.0.2:2"))
			},
			read: true,
		},
		{
			name: "unknown socket",
			setup: func(f *fixture) {
				f.seqs.Set(testPid, 7, 10, 10)
			},
		},
		{
			name: "unix socket",
			setup: func(f *fixture) {
				f.seqs.Set(testPid, 7, 10, 10)
				f.sockets.Add(testPid, 7, SocketInfo{L4Protocol: 0})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)
			_, ok := f.builder.Build(f.proc.Context(goabi.Regs{}, testPid, 1), 7, tt.read)
			assert.False(t, ok)
			assert.Equal(t, uint64(0), f.ids.Allocated())
		})
	}
}

func TestBuild_IPv6(t *testing.T) {
	f := newFixture(t)
	f.seqs.Set(testPid, 9, 1, 1)
	f.sockets.Add(testPid, 9, SocketInfo{
		L4Protocol: bpf.IPPROTO_UDP,
		Local:      netip.MustParseAddrPort("[2001:db8::1]:443"),
		Remote:     netip.MustParseAddrPort("[2001:db8::2]:5000"),
	})

	c, ok := f.builder.Build(f.proc.Context(goabi.Regs{}, testPid, 1), 9, false)
	require.True(t, ok)
	assert.Equal(t, uint8(16), c.Data.Tuple.AddrLen)
	assert.Equal(t, "[2001:db8::1]:443", c.Data.Tuple.Local().String())
	assert.Equal(t, "[2001:db8::2]:5000", c.Data.Tuple.Remote().String())
}

func TestSocketIDs_Stable(t *testing.T) {
	ids := NewSocketIDs(100)

	a, fresh := ids.ID(1, 3)
	assert.True(t, fresh)
	assert.Equal(t, uint64(101), a)

	again, fresh := ids.ID(1, 3)
	assert.False(t, fresh)
	assert.Equal(t, a, again)

	b, _ := ids.ID(2, 3)
	assert.NotEqual(t, a, b)

	ids.Forget(1, 3)
	c, fresh := ids.ID(1, 3)
	assert.True(t, fresh)
	assert.NotEqual(t, a, c)
	assert.Equal(t, uint64(3), ids.Allocated())
}

func TestSocketIDs_Concurrent(t *testing.T) {
	ids := NewSocketIDs(0)

	const fds = 64
	const workers = 8

	results := make([][]uint64, workers)
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fd := range fds {
				id, _ := ids.ID(1, int32(fd))
				results[w] = append(results[w], id)
			}
		}()
	}
	wg.Wait()

	// Every worker agrees on each descriptor's id.
	for w := 1; w < workers; w++ {
		assert.Equal(t, results[0], results[w])
	}

	seen := make(map[uint64]bool)
	for _, id := range results[0] {
		assert.False(t, seen[id], "id %d handed out twice", id)
		seen[id] = true
	}
	assert.Equal(t, uint64(fds), ids.Allocated())
}

func TestSocketInode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Symlink("socket:[12345]", filepath.Join(dir, "3")))
	require.NoError(t, os.Symlink("pipe:[99]", filepath.Join(dir, "4")))

	inode, ok := socketInode(filepath.Join(dir, "3"))
	assert.True(t, ok)
	assert.Equal(t, uint64(12345), inode)

	_, ok = socketInode(filepath.Join(dir, "4"))
	assert.False(t, ok)

	_, ok = socketInode(filepath.Join(dir, "5"))
	assert.False(t, ok)
}
