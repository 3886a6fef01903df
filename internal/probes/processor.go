package probes

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/mrzor/h2trace/internal/connresolve"
	"github.com/mrzor/h2trace/internal/emitter"
	"github.com/mrzor/h2trace/internal/probectx"
	"github.com/mrzor/h2trace/internal/telemetry"
)

// ErrUnknownProbe is returned for a symbol with no registered handler.
var ErrUnknownProbe = errors.New("probes: unknown probe symbol")

// Handler handles one invocation of an intercepted function.
type Handler func(p *Processor, ctx *probectx.Context)

// Processor coordinates probe handling.
// It routes invocations to handlers by symbol and owns the shared pipeline.
type Processor struct {
	emitter  *emitter.Emitter
	resolver *connresolve.Resolver
	metrics  *telemetry.Metrics
	log      logrus.FieldLogger
	handlers map[string]Handler
}

// Option configures a Processor.
type Option func(*Processor)

// WithMetrics counts aborted invocations.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Processor) { p.log = l }
}

// WithHandler registers or replaces the handler of symbol.
func WithHandler(symbol string, h Handler) Option {
	return func(p *Processor) { p.handlers[symbol] = h }
}

// NewProcessor creates a processor with the built-in handlers.
func NewProcessor(em *emitter.Emitter, resolver *connresolve.Resolver, opts ...Option) *Processor {
	p := &Processor{
		emitter:  em,
		resolver: resolver,
		log:      logrus.StandardLogger(),
		handlers: make(map[string]Handler, len(builtins)),
	}
	for sym, h := range builtins {
		p.handlers[sym] = h
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleProbe runs the handler registered for symbol.
func (p *Processor) HandleProbe(symbol string, ctx *probectx.Context) error {
	h, ok := p.handlers[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProbe, symbol)
	}
	if ctx.Proc == nil {
		p.abort(ctx, symbol, telemetry.NoProcess)
		return nil
	}
	h(p, ctx)
	return nil
}

// Symbols returns the registered symbols, sorted.
func (p *Processor) Symbols() []string {
	out := make([]string, 0, len(p.handlers))
	for sym := range p.handlers {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (p *Processor) abort(ctx *probectx.Context, symbol string, reason telemetry.Reason) {
	p.metrics.Aborted(reason)
	p.log.WithFields(logrus.Fields{
		"symbol": symbol,
		"reason": reason,
		"pid":    ctx.Tgid,
		"tid":    ctx.Pid,
	}).Trace("probe invocation dropped")
}
