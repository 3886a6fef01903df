// Package otel provides OpenTelemetry meter provider initialization and management.
package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/mrzor/h2trace/internal/config"
)

// Provider is a meter provider plus the shutdown of whatever backs it.
type Provider struct {
	metric.MeterProvider
	sdk *sdkmetric.MeterProvider
}

// InitProvider builds a meter provider exporting over OTLP/HTTP. Without a
// configured endpoint it returns a no-op provider. Extra readers (such as a
// ManualReader for a final snapshot) are attached alongside the exporter.
//
// Note: the HTTP client honors HTTP_PROXY, HTTPS_PROXY and NO_PROXY through
// net/http's default transport.
func InitProvider(cfg *config.OTELConfig, log logrus.FieldLogger, readers ...sdkmetric.Reader) (*Provider, error) {
	if !cfg.Enabled() && len(readers) == 0 {
		log.Debug("no OTLP endpoint configured, metrics disabled")
		return &Provider{MeterProvider: noop.NewMeterProvider()}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := make([]sdkmetric.Option, 0, len(readers)+2)
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	if cfg.Enabled() {
		endpoint := cfg.GetEndpoint()
		log.WithFields(logrus.Fields{
			"service":  cfg.ServiceName,
			"endpoint": endpoint,
		}).Info("exporting metrics over OTLP/HTTP")

		exporterOpts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithTimeout(10 * time.Second),
		}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
		}

		interval := time.Duration(cfg.ExportIntervalSec) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))))
	}

	resourceAttrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	}
	if custom := cfg.ParseResourceAttributes(); len(custom) > 0 {
		resourceAttrs = append(resourceAttrs, resource.WithAttributes(custom...))
	}
	res, err := resource.New(ctx, resourceAttrs...)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}
	opts = append(opts, sdkmetric.WithResource(res))

	mp := sdkmetric.NewMeterProvider(opts...)
	return &Provider{MeterProvider: mp, sdk: mp}, nil
}

// ShutdownProvider flushes and stops the provider's readers.
func ShutdownProvider(ctx context.Context, p *Provider) error {
	if p == nil || p.sdk == nil {
		return nil
	}
	if err := p.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down meter provider: %w", err)
	}
	return nil
}
