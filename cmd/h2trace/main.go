// h2trace rebuilds HTTP/2 and gRPC headers from the memory of traced Go
// processes and prints the header events a probe host publishes.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/mrzor/h2trace/internal/config"
	"github.com/mrzor/h2trace/internal/logging"
	"github.com/mrzor/h2trace/internal/offsets"
	"github.com/mrzor/h2trace/internal/otel"
	"github.com/mrzor/h2trace/internal/telemetry"
)

// Version information injected at build time.
var (
	version = "dev"
	commit  = "unknown"
)

// app is the state shared by every subcommand.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	cleanup []func()
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	a := &app{}
	root := &cobra.Command{
		Use:           "h2trace",
		Short:         "Rebuild HTTP/2 and gRPC headers from traced Go processes",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().String("log-level", "", "override H2TRACE_LOG_LEVEL")

	root.AddCommand(
		newInspectCmd(a),
		newOffsetsCmd(a),
		newSocketsCmd(a),
		newConsumeCmd(a),
		newSelftestCmd(a),
	)

	defer a.close()
	return root.Execute()
}

// setup loads the configuration and the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, cleanup, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger
	a.cleanup = append(a.cleanup, cleanup)

	logger.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
	}).Debug("starting h2trace")
	return nil
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

// offsetStore returns the configured offset table, or the built-in defaults.
func (a *app) offsetStore() (*offsets.Store, error) {
	if a.cfg.OffsetsFile == "" {
		return offsets.NewStore(), nil
	}
	store, err := offsets.Load(a.cfg.OffsetsFile)
	if err != nil {
		return nil, err
	}
	a.log.WithFields(logrus.Fields{
		"file":     a.cfg.OffsetsFile,
		"versions": len(store.Versions()),
	}).Info("loaded offset table")
	return store, nil
}

// setupMetrics initializes the meter provider and the pipeline counters.
// Extra readers are attached alongside any configured exporter.
func (a *app) setupMetrics(readers ...sdkmetric.Reader) (*telemetry.Metrics, error) {
	provider, err := otel.InitProvider(&a.cfg.OTEL, a.log, readers...)
	if err != nil {
		return nil, fmt.Errorf("initializing meter provider: %w", err)
	}
	a.cleanup = append(a.cleanup, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.ShutdownProvider(ctx, provider); err != nil {
			a.log.WithError(err).Warn("shutting down meter provider")
		}
	})

	m, err := telemetry.New(provider)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline metrics: %w", err)
	}
	return m, nil
}
