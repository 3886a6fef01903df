package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/procfs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mrzor/h2trace/internal/bpfloader"
	"github.com/mrzor/h2trace/internal/eventstream"
	"github.com/mrzor/h2trace/internal/filter"
	"github.com/mrzor/h2trace/internal/output"
	"github.com/mrzor/h2trace/internal/peernames"
	"github.com/mrzor/h2trace/internal/timesync"
)

// consoleFlags are shared by the commands that print events.
type consoleFlags struct {
	format string
	filter string
	labels []string
	json   bool
	peers  bool
}

func (f *consoleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.format, "format", "text", "output format: text or json")
	cmd.Flags().BoolVar(&f.json, "json", false, "shorthand for --format json")
	cmd.Flags().StringVar(&f.filter, "filter", "", "only print events matching this expression")
	cmd.Flags().StringArrayVar(&f.labels, "label", nil, "attach name=expression to every printed event")
	cmd.Flags().BoolVar(&f.peers, "peer-names", false, "label remote addresses with names learned from headers and process configuration")
}

// setupConsole builds the console handler from the flags.
func (f *consoleFlags) setupConsole(cmd *cobra.Command, procRoot string, log logrus.FieldLogger) (*output.Console, error) {
	if f.json {
		f.format = string(output.FormatJSON)
	}
	format, err := output.ParseFormat(f.format)
	if err != nil {
		return nil, err
	}
	flt, err := filter.Compile(f.filter)
	if err != nil {
		return nil, err
	}

	labels := make([]filter.Label, 0, len(f.labels))
	for _, s := range f.labels {
		l, err := filter.ParseLabel(s)
		if err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	labeler, err := filter.NewLabeler(labels)
	if err != nil {
		return nil, err
	}

	converter, err := timesync.NewConverter()
	if err != nil {
		return nil, fmt.Errorf("failed to create time converter: %w", err)
	}

	opts := []output.ConsoleOption{
		output.WithFilter(flt),
		output.WithLabels(labeler),
		output.WithLogger(log),
	}
	if f.peers {
		fs, err := procfs.NewFS(procRoot)
		if err != nil {
			return nil, fmt.Errorf("opening procfs: %w", err)
		}
		peers, err := peernames.New(peernames.DefaultSize, peernames.WithProcFS(fs))
		if err != nil {
			return nil, err
		}
		opts = append(opts, output.WithPeers(peers))
	}
	return output.NewConsole(cmd.OutOrStdout(), format, converter, opts...), nil
}

func newConsumeCmd(a *app) *cobra.Command {
	var (
		flags  consoleFlags
		paths  bpfloader.Paths
		pinDir string
	)
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Print header events from a pinned ring buffer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths.Dir = a.cfg.PinDir
			if pinDir != "" {
				paths.Dir = pinDir
			}

			console, err := flags.setupConsole(cmd, a.cfg.ProcRoot, a.log)
			if err != nil {
				return err
			}
			loader, rd, cleanup, err := setupBPF(paths, a.log)
			if err != nil {
				return err
			}
			defer cleanup()

			if loader.Correlator() == nil {
				a.log.Warn("no tcp sequence map pinned, read-side correlation is unavailable to the probe host")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stream := eventstream.New(rd, console, a.log)
			if err := stream.Start(ctx); err != nil {
				return err
			}
			a.log.WithField("pin_dir", paths.Dir).Info("consuming header events")

			select {
			case <-ctx.Done():
				a.log.Info("received signal, stopping")
			case <-stream.Done():
			}
			return stream.Stop()
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&pinDir, "pin-dir", "", "override H2TRACE_PIN_DIR")
	cmd.Flags().StringVar(&paths.Events, "ringbuf", "", "path of the pinned events ring buffer")
	cmd.Flags().StringVar(&paths.TCPSeq, "tcp-seq-map", "", "path of the pinned tcp sequence map")
	return cmd
}

// setupBPF opens the pinned maps and the ring buffer reader.
// Returns loader, ring buffer reader, and cleanup function.
func setupBPF(paths bpfloader.Paths, log logrus.FieldLogger) (*bpfloader.Loader, eventstream.Reader, func(), error) {
	loader, err := bpfloader.Open(paths)
	if err != nil {
		return nil, nil, nil, err
	}

	rd, err := loader.OpenRingBuffer()
	if err != nil {
		if closeErr := loader.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("closing loader after ring buffer open failure")
		}
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := rd.Close(); err != nil {
			log.WithError(err).Warn("closing ring buffer")
		}
		if err := loader.Close(); err != nil {
			log.WithError(err).Warn("closing loader")
		}
	}
	return loader, rd, cleanup, nil
}
