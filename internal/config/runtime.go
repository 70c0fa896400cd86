package config

import (
	"context"
	"fmt"
	"io"

	"github.com/conneroisu/erbview/internal/handlers"
	"github.com/conneroisu/erbview/internal/instrument"
	"github.com/conneroisu/erbview/internal/logging"
	"github.com/conneroisu/erbview/internal/lookup"
	"github.com/conneroisu/erbview/internal/registry"
)

// NewLogger builds the logger described by the log section.
func (c *Config) NewLogger(w io.Writer) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(c.Log.Level),
		Format: c.Log.Format,
		Output: w,
	})
}

// NewInstrumenter builds the instrumenter selected by instrumentation.mode.
// In otel mode it installs a global tracer provider exporting to
// instrumentation.endpoint; the returned shutdown flushes it and must be
// called when the work is done. In other modes shutdown does nothing.
func (c *Config) NewInstrumenter(ctx context.Context, logger logging.Logger) (instrument.Instrumenter, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch c.Instrumentation.Mode {
	case InstrumentLog:
		return instrument.NewLogging(logger), noop, nil
	case InstrumentOtel:
		tracing, shutdown, err := instrument.SetupTracing(ctx, instrument.ProviderConfig{
			ServiceName: c.Instrumentation.ServiceName,
			Endpoint:    c.Instrumentation.Endpoint,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("setting up tracing: %w", err)
		}
		return instrument.Multi{tracing, instrument.NewLogging(logger)}, shutdown, nil
	default:
		return instrument.Nop(), noop, nil
	}
}

// NewHandlers returns the builtin handlers with the configured default.
func (c *Config) NewHandlers() (*handlers.Registry, error) {
	h := handlers.New()
	if err := h.SetDefault(c.Template.DefaultHandler); err != nil {
		return nil, err
	}
	return h, nil
}

// NewLookup returns a lookup over the configured roots.
func (c *Config) NewLookup(reg *registry.Registry, h *handlers.Registry, logger logging.Logger) *lookup.Context {
	return lookup.New(reg, lookup.DirRoots(c.Lookup.Roots...),
		lookup.WithHandlers(h),
		lookup.WithFormats(c.Template.DefaultFormats...),
		lookup.WithCache(c.Lookup.CacheSize, c.Lookup.CacheTTL),
		lookup.WithLogger(logger),
	)
}
