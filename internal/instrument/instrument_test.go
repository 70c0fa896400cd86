package instrument

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/conneroisu/erbview/internal/logging"
)

var payload = Payload{VirtualPath: "articles/_row", Identifier: "views/articles/_row.html.erb"}

func TestNop(t *testing.T) {
	calls := 0
	err := Nop().Instrument(context.Background(), EventRender, payload, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestInstrumentersPreserveErrors(t *testing.T) {
	boom := errors.New("boom")
	instrumenters := map[string]Instrumenter{
		"nop":     Nop(),
		"logging": NewLogging(logging.Nop()),
		"tracing": NewTracing(),
		"multi":   Multi{Nop(), NewLogging(logging.Nop())},
	}

	for name, inst := range instrumenters {
		t.Run(name, func(t *testing.T) {
			calls := 0
			err := inst.Instrument(context.Background(), EventCompile, payload, func() error {
				calls++
				return boom
			})
			assert.Same(t, boom, err)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelDebug, Output: &buf})
	inst := NewLogging(logger)

	require.NoError(t, inst.Instrument(context.Background(), EventCompile, payload, func() error { return nil }))
	assert.Contains(t, buf.String(), "event="+EventCompile)
	assert.Contains(t, buf.String(), "virtual_path=articles/_row")

	buf.Reset()
	_ = inst.Instrument(context.Background(), EventRender, payload, func() error { return errors.New("bad") })
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "error=bad")
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	inst := NewTracing(WithTracerProvider(tp))

	require.NoError(t, inst.Instrument(context.Background(), EventCompile, payload, func() error { return nil }))
	_ = inst.Instrument(context.Background(), EventRender, payload, func() error { return errors.New("bad") })

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, EventCompile, spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "articles/_row", attrs["erbview.virtual_path"])
	assert.Equal(t, "views/articles/_row.html.erb", attrs["erbview.identifier"])

	assert.Equal(t, EventRender, spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "bad", spans[1].Status().Description)
}

func TestMultiOrder(t *testing.T) {
	var order []string
	record := func(name string) Instrumenter {
		return Func(func(ctx context.Context, event string, p Payload, fn func() error) error {
			order = append(order, name+":before")
			err := fn()
			order = append(order, name+":after")
			return err
		})
	}

	err := Multi{record("outer"), record("inner")}.Instrument(context.Background(), EventRender, payload, func() error {
		order = append(order, "work")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer:before", "inner:before", "work", "inner:after", "outer:after"}, order)
}

func TestNewTracerProvider(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), ProviderConfig{
		ServiceName: "erbview-test",
		Endpoint:    "http://127.0.0.1:4318",
	})
	require.NoError(t, err)

	tracing := NewTracing(WithTracerProvider(tp))
	assert.NotNil(t, tracing.tracer)
	assert.NoError(t, tp.Shutdown(context.Background()))
}
