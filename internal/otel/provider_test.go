package otel

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/mrzor/h2trace/internal/config"
	"github.com/mrzor/h2trace/internal/telemetry"
)

func TestInitProvider_Disabled(t *testing.T) {
	p, err := InitProvider(&config.OTELConfig{ServiceName: "h2trace"}, logrus.New())
	require.NoError(t, err)
	require.NotNil(t, p.MeterProvider)
	assert.Nil(t, p.sdk)
	assert.NoError(t, ShutdownProvider(context.Background(), p))
}

func TestInitProvider_ManualReader(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	p, err := InitProvider(&config.OTELConfig{ServiceName: "h2trace"}, logrus.New(), reader)
	require.NoError(t, err)
	require.NotNil(t, p.sdk)

	m, err := telemetry.New(p)
	require.NoError(t, err)
	m.SocketAllocated()

	got, err := telemetry.Snapshot(context.Background(), reader)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got["h2trace.sockets.allocated"])

	assert.NoError(t, ShutdownProvider(context.Background(), p))
}
