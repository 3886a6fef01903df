package main

import (
	"context"
	"fmt"
	"net/netip"
	"sort"

	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/mrzor/h2trace/internal/bpf"
	"github.com/mrzor/h2trace/internal/connresolve"
	"github.com/mrzor/h2trace/internal/emitter"
	"github.com/mrzor/h2trace/internal/eventstream"
	"github.com/mrzor/h2trace/internal/fakeproc"
	"github.com/mrzor/h2trace/internal/goabi"
	"github.com/mrzor/h2trace/internal/offsets"
	"github.com/mrzor/h2trace/internal/probes"
	"github.com/mrzor/h2trace/internal/procinfo"
	"github.com/mrzor/h2trace/internal/sockctx"
	"github.com/mrzor/h2trace/internal/tcpseq"
	"github.com/mrzor/h2trace/internal/telemetry"
)

const selftestPid = 4242

// invocation is one synthetic probe firing.
type invocation struct {
	symbol string
	regs   goabi.Regs
}

// selftest drives the whole pipeline against a synthetic process.
type selftest struct {
	proc    *fakeproc.Process
	seqs    *sockctx.StaticSeqs
	sockets *sockctx.StaticSockets
	corr    *tcpseq.Table
	fd      int32
}

func newSelftest(corr *tcpseq.Table) *selftest {
	return &selftest{
		proc:    fakeproc.New(selftestPid),
		seqs:    sockctx.NewStaticSeqs(),
		sockets: sockctx.NewStaticSockets(),
		corr:    corr,
	}
}

// socket registers a fresh TCP descriptor.
func (s *selftest) socket(read, write uint32) int32 {
	s.fd++
	s.seqs.Set(selftestPid, s.fd, read, write)
	s.sockets.Add(selftestPid, s.fd, sockctx.SocketInfo{
		L4Protocol: bpf.IPPROTO_TCP,
		Local:      netip.AddrPortFrom(netip.MustParseAddr("10.0.0.1"), uint16(40000+s.fd)), //nolint:gosec // Small descriptors
		Remote:     netip.MustParseAddrPort("10.0.0.2:443"),
	})
	return s.fd
}

func (s *selftest) clientRequest() []invocation {
	fd := s.socket(0, 1000)
	cc := s.proc.Struct(0x100)
	s.proc.SetConn(cc, offsets.ClientConnTConn, s.proc.TCPConn(int(fd)))
	s.proc.SetField(cc, offsets.ClientConnNextStreamID, 3)

	var out []invocation
	for _, f := range fakeproc.Pairs(":method", "GET", ":path", "/healthz", ":authority", "api.internal") {
		name := s.proc.Img.NewString(f.Name)
		value := s.proc.Img.NewString(f.Value)
		out = append(out, invocation{probes.ClientWriteHeader, goabi.Regs{
			RAX: cc, RBX: name.Ptr, RCX: name.Len, RDI: value.Ptr, RSI: value.Len,
		}})
	}
	return append(out, invocation{probes.ClientWriteHeaders, goabi.Regs{RAX: cc}})
}

func (s *selftest) serverRequest() []invocation {
	fd := s.socket(5000, 9000)
	// The read that delivered this frame started at 4800.
	s.corr.Record(selftestPid, fd, 5000, 4800)
	sc := s.proc.Struct(0x100)
	s.proc.SetConn(sc, offsets.ServerConnConn, s.proc.TLSConn(s.proc.TCPConn(int(fd))))
	fields := fakeproc.Pairs(":method", "POST", ":path", "/upload", "content-type", "application/octet-stream")
	for i := range 10 {
		fields = append(fields, fakeproc.Field{Name: fmt.Sprintf("x-extra-%d", i), Value: "1"})
	}
	frame := s.proc.MetaHeadersFrame(1, s.proc.HeaderFields(fields...))
	return []invocation{{probes.ServerProcessHeaders, goabi.Regs{RAX: sc, RBX: frame}}}
}

func (s *selftest) serverResponse() []invocation {
	fd := s.socket(0, 7000)
	sc := s.proc.Struct(0x100)
	s.proc.SetConn(sc, offsets.ServerConnConn, s.proc.TCPConn(int(fd)))
	hd := s.proc.WriteResHeaders(fakeproc.ResHeaders{
		Stream:        1,
		Status:        200,
		ContentType:   "text/plain",
		ContentLength: "2",
	})
	return []invocation{{probes.ServerWriteHeaders, goabi.Regs{RAX: sc, RCX: hd}}}
}

func (s *selftest) grpcRequest() []invocation {
	fd := s.socket(0, 3000)
	bw := s.proc.Struct(0x60)
	s.proc.SetConn(bw, offsets.GRPCBufWriterConn, s.proc.SyscallConn(s.proc.TLSConn(s.proc.TCPConn(int(fd)))))
	framer := s.proc.Struct(0x30)
	s.proc.SetField(framer, offsets.GRPCFramerWriter, bw)
	l := s.proc.Struct(0x80)
	s.proc.SetField(l, offsets.GRPCLoopyFramer, framer)

	hf := s.proc.HeaderFields(fakeproc.Pairs(
		":method", "POST",
		":path", "/helloworld.Greeter/SayHello",
		"content-type", "application/grpc",
		"te", "trailers",
	)...)
	return []invocation{{probes.GRPCLoopyWriteHeader, goabi.Regs{RAX: l, RBX: 5, RDI: hf.Ptr, RSI: hf.Len, R8: hf.Cap}}}
}

func newSelftestCmd(a *app) *cobra.Command {
	var flags consoleFlags
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Run synthetic HTTP/2 and gRPC invocations through the pipeline and print the events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reader := sdkmetric.NewManualReader()
			metrics, err := a.setupMetrics(reader)
			if err != nil {
				return err
			}
			console, err := flags.setupConsole(cmd, a.cfg.ProcRoot, a.log)
			if err != nil {
				return err
			}

			corr, err := a.cfg.NewCorrelator()
			if err != nil {
				return err
			}
			st := newSelftest(corr)
			var invocations []invocation
			for _, scenario := range []func() []invocation{
				st.clientRequest,
				st.grpcRequest,
				st.serverRequest,
				st.serverResponse,
			} {
				invocations = append(invocations, scenario()...)
			}

			procs := procinfo.NewManager()
			procs.Set(selftestPid, st.proc.Info)

			transport := eventstream.NewChanTransport(len(invocations) * (emitter.DefaultFieldLimit + 1))
			builder := sockctx.NewBuilder(st.seqs, corr, st.sockets,
				sockctx.NewSocketIDs(a.cfg.SocketIDSeed), sockctx.WithMetrics(metrics))
			opts := append(a.cfg.EmitterOptions(), emitter.WithMetrics(metrics), emitter.WithLogger(a.log))
			processor := probes.NewProcessor(
				emitter.New(transport, builder, opts...),
				connresolve.New(nil),
				probes.WithMetrics(metrics),
				probes.WithLogger(a.log),
			)

			stream := eventstream.New(transport, console, a.log)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := stream.Start(ctx); err != nil {
				return err
			}

			for i, inv := range invocations {
				pctx := st.proc.Context(inv.regs, selftestPid+1, uint64(100+i)) //nolint:gosec // Small index
				pctx.Proc = procs.Get(selftestPid)
				if err := processor.HandleProbe(inv.symbol, pctx); err != nil {
					return err
				}
			}
			if err := transport.Close(); err != nil {
				return err
			}
			<-stream.Done()

			counts, err := telemetry.Snapshot(ctx, reader)
			if err != nil {
				return err
			}
			return printCounts(cmd, counts)
		},
	}
	flags.register(cmd)
	return cmd
}

func printCounts(cmd *cobra.Command, counts map[string]int64) error {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	w := cmd.ErrOrStderr()
	fmt.Fprintln(w, "pipeline counters:")
	for _, name := range names {
		fmt.Fprintf(w, "  %-32s %d\n", name, counts[name])
	}
	return nil
}
