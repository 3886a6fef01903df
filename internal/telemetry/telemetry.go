// Package telemetry counts what the probe pipeline emits and drops.
//
// Drops never surface as errors to the instrumented process, so these
// counters are the only place a lossy run becomes visible. A nil *Metrics is
// valid and records nothing.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Reason labels why an invocation produced no events.
type Reason string

// Abort reasons.
const (
	NoConnection Reason = "no_connection"
	NoStream     Reason = "no_stream"
	NoFields     Reason = "no_fields"
	ZeroSequence Reason = "zero_sequence"
	NoSocket     Reason = "no_socket"
	NoProcess    Reason = "no_process"
)

// MeterName is the instrumentation scope of the pipeline's meters.
const MeterName = "github.com/mrzor/h2trace"

// Metrics holds the pipeline counters.
type Metrics struct {
	emitted   metric.Int64Counter
	dropped   metric.Int64Counter
	truncated metric.Int64Counter
	aborted   metric.Int64Counter
	sockets   metric.Int64Counter
	transport metric.Int64Counter
}

// New creates the counters on mp.
func New(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(MeterName)
	m := &Metrics{}

	var err error
	if m.emitted, err = meter.Int64Counter("h2trace.events.emitted",
		metric.WithDescription("Header events handed to the transport")); err != nil {
		return nil, fmt.Errorf("creating emitted counter: %w", err)
	}
	if m.dropped, err = meter.Int64Counter("h2trace.fields.dropped",
		metric.WithDescription("Header fields dropped for exceeding the scratch buffer")); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	if m.truncated, err = meter.Int64Counter("h2trace.fields.truncated",
		metric.WithDescription("Header fields beyond the per-batch limit")); err != nil {
		return nil, fmt.Errorf("creating truncated counter: %w", err)
	}
	if m.aborted, err = meter.Int64Counter("h2trace.invocations.aborted",
		metric.WithDescription("Probe invocations that emitted nothing")); err != nil {
		return nil, fmt.Errorf("creating aborted counter: %w", err)
	}
	if m.sockets, err = meter.Int64Counter("h2trace.sockets.allocated",
		metric.WithDescription("Socket ids allocated for first-seen descriptors")); err != nil {
		return nil, fmt.Errorf("creating sockets counter: %w", err)
	}
	if m.transport, err = meter.Int64Counter("h2trace.transport.errors",
		metric.WithDescription("Records the transport refused")); err != nil {
		return nil, fmt.Errorf("creating transport counter: %w", err)
	}
	return m, nil
}

// Noop returns counters that record nothing.
func Noop() *Metrics {
	m, _ := New(noop.NewMeterProvider()) //nolint:errcheck // The noop provider never fails
	return m
}

// Emitted counts one event of kind.
func (m *Metrics) Emitted(kind fmt.Stringer) {
	if m == nil {
		return
	}
	m.emitted.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

// Dropped counts one field dropped for size.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Add(context.Background(), 1)
}

// Truncated counts n fields cut by the batch limit.
func (m *Metrics) Truncated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.truncated.Add(context.Background(), int64(n))
}

// Aborted counts one invocation aborted for reason.
func (m *Metrics) Aborted(reason Reason) {
	if m == nil {
		return
	}
	m.aborted.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}

// SocketAllocated counts one new socket id.
func (m *Metrics) SocketAllocated() {
	if m == nil {
		return
	}
	m.sockets.Add(context.Background(), 1)
}

// TransportError counts one record the transport refused.
func (m *Metrics) TransportError() {
	if m == nil {
		return
	}
	m.transport.Add(context.Background(), 1)
}
