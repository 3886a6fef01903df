package config

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// OTELConfig holds OpenTelemetry metrics export settings. Under Config the
// variables read as H2TRACE_OTEL_*.
type OTELConfig struct {
	ServiceName        string `env:"SERVICE_NAME" envDefault:"h2trace"`
	ResourceAttributes string `env:"RESOURCE_ATTRIBUTES" envDefault:""`
	ExporterEndpoint   string `env:"EXPORTER_OTLP_ENDPOINT" envDefault:""`
	MetricsEndpoint    string `env:"EXPORTER_OTLP_METRICS_ENDPOINT" envDefault:""`
	Insecure           bool   `env:"EXPORTER_OTLP_INSECURE" envDefault:"true"`
	ExportIntervalSec  int    `env:"METRIC_EXPORT_INTERVAL_SEC" envDefault:"30"`
}

// Enabled reports whether an exporter endpoint is configured.
func (c *OTELConfig) Enabled() bool {
	return c.GetEndpoint() != ""
}

// GetEndpoint returns the endpoint for metrics.
// Priority: metrics endpoint > exporter endpoint. Empty disables export.
func (c *OTELConfig) GetEndpoint() string {
	if c.MetricsEndpoint != "" {
		return c.MetricsEndpoint
	}
	return c.ExporterEndpoint
}

// ParseResourceAttributes parses the resource attributes string
// Format: key1=value1,key2=value2
func (c *OTELConfig) ParseResourceAttributes() []attribute.KeyValue {
	if c.ResourceAttributes == "" {
		return nil
	}

	var attrs []attribute.KeyValue
	pairs := strings.Split(c.ResourceAttributes, ",")
	for _, pair := range pairs {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) == 2 {
			key := strings.TrimSpace(kv[0])
			value := strings.TrimSpace(kv[1])
			if key != "" {
				attrs = append(attrs, attribute.String(key, value))
			}
		}
	}
	return attrs
}
