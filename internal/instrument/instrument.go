// Package instrument notifies observers around template compilation and
// rendering.
//
// An Instrumenter wraps a unit of work: it always runs fn exactly once and
// returns fn's error unchanged. Observers see the event but never alter
// control flow.
package instrument

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/conneroisu/erbview/internal/logging"
)

// Event names.
const (
	EventCompile = "compile_template.erbview"
	EventRender  = "render_template.erbview"
)

// Payload identifies the template an event concerns.
type Payload struct {
	VirtualPath string
	Identifier  string
}

// Instrumenter observes a unit of work.
type Instrumenter interface {
	Instrument(ctx context.Context, event string, payload Payload, fn func() error) error
}

// Func adapts a function to the Instrumenter interface.
type Func func(ctx context.Context, event string, payload Payload, fn func() error) error

// Instrument implements Instrumenter.
func (f Func) Instrument(ctx context.Context, event string, payload Payload, fn func() error) error {
	return f(ctx, event, payload, fn)
}

type nop struct{}

func (nop) Instrument(_ context.Context, _ string, _ Payload, fn func() error) error {
	return fn()
}

// Nop returns an Instrumenter that only runs fn.
func Nop() Instrumenter { return nop{} }

// Logging records every event with its duration at debug level and failures
// at warn level.
type Logging struct {
	logger logging.Logger
}

// NewLogging creates a logging instrumenter.
func NewLogging(logger logging.Logger) *Logging {
	return &Logging{logger: logger.WithComponent("instrument")}
}

// Instrument implements Instrumenter.
func (l *Logging) Instrument(ctx context.Context, event string, payload Payload, fn func() error) error {
	start := time.Now()
	err := fn()
	fields := []interface{}{
		"event", event,
		"virtual_path", payload.VirtualPath,
		"identifier", payload.Identifier,
		"duration", time.Since(start).String(),
	}
	if err != nil {
		l.logger.Warn(ctx, err, "Instrumented operation failed", fields...)
	} else {
		l.logger.Debug(ctx, "Instrumented operation", fields...)
	}
	return err
}

// Tracing opens an OpenTelemetry span per event.
type Tracing struct {
	tracer trace.Tracer
}

// TracingOption configures a Tracing instrumenter.
type TracingOption func(*tracingOptions)

type tracingOptions struct {
	provider trace.TracerProvider
}

// WithTracerProvider uses tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) TracingOption {
	return func(o *tracingOptions) { o.provider = tp }
}

// NewTracing creates a tracing instrumenter.
func NewTracing(opts ...TracingOption) *Tracing {
	o := tracingOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.provider == nil {
		o.provider = otel.GetTracerProvider()
	}
	return &Tracing{tracer: o.provider.Tracer("github.com/conneroisu/erbview")}
}

// Instrument implements Instrumenter.
func (t *Tracing) Instrument(ctx context.Context, event string, payload Payload, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := t.tracer.Start(ctx, event, trace.WithAttributes(
		attribute.String("erbview.virtual_path", payload.VirtualPath),
		attribute.String("erbview.identifier", payload.Identifier),
	))
	defer span.End()

	err := fn()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Multi fans an event out to several instrumenters, outermost first.
type Multi []Instrumenter

// Instrument implements Instrumenter.
func (m Multi) Instrument(ctx context.Context, event string, payload Payload, fn func() error) error {
	wrapped := fn
	for i := len(m) - 1; i >= 0; i-- {
		inst, next := m[i], wrapped
		wrapped = func() error { return inst.Instrument(ctx, event, payload, next) }
	}
	return wrapped()
}
