package template

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/conneroisu/erbview/internal/codegen"
	"github.com/conneroisu/erbview/internal/errors"
	"github.com/conneroisu/erbview/internal/instrument"
	"github.com/conneroisu/erbview/internal/logging"
	"github.com/conneroisu/erbview/internal/registry"
	"github.com/conneroisu/erbview/internal/view"
)

// Compiler compiles templates into units of a shared registry.
type Compiler struct {
	registry     *registry.Registry
	instrumenter instrument.Instrumenter
	logger       logging.Logger
}

// Option configures a Compiler or a Renderer.
type Option func(*options)

type options struct {
	instrumenter instrument.Instrumenter
	logger       logging.Logger
}

// WithInstrumenter sets the instrumenter notified around compile and render.
func WithInstrumenter(i instrument.Instrumenter) Option {
	return func(o *options) { o.instrumenter = i }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.instrumenter == nil {
		o.instrumenter = instrument.Nop()
	}
	if o.logger == nil {
		o.logger = logging.Nop()
	}
	return o
}

// NewCompiler creates a compiler defining units into reg.
func NewCompiler(reg *registry.Registry, opts ...Option) *Compiler {
	o := buildOptions(opts)
	return &Compiler{
		registry:     reg,
		instrumenter: o.instrumenter,
		logger:       o.logger.WithComponent("compiler"),
	}
}

// Registry returns the registry units are defined into.
func (c *Compiler) Registry() *registry.Registry { return c.registry }

// EnsureCompiled compiles t unless it already is. Concurrent callers on one
// template block until the first finishes; the generator runs at most once
// per successful compile. A failed compile leaves t uncompiled so the next
// call tries again. An evicted template is never compiled again.
func (c *Compiler) EnsureCompiled(ctx context.Context, t *Template) error {
	if t.evicted.Load() {
		return evictedError(t)
	}
	if t.compiled.Load() {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.evicted.Load() {
		return evictedError(t)
	}
	if t.compiled.Load() {
		return nil
	}

	payload := instrument.Payload{VirtualPath: t.virtualPath, Identifier: t.identifier}
	return c.instrumenter.Instrument(ctx, instrument.EventCompile, payload, func() error {
		return c.compile(ctx, t)
	})
}

// compile runs with t.mu held.
func (c *Compiler) compile(ctx context.Context, t *Template) error {
	perf := logging.StartOperation(c.logger, "compile_template")
	fields := []interface{}{"identifier", t.identifier, "virtual_path", t.virtualPath}

	if _, err := DecodeSource(t); err != nil {
		perf.EndWithError(ctx, err, fields...)
		return err
	}
	if t.generator == nil {
		err := errors.NewCompileError(errors.ErrCodeHandlerNotDefined, "template has no generator", nil).
			WithTemplate(t.identifier, t.virtualPath)
		perf.EndWithError(ctx, err, fields...)
		return err
	}

	program, err := t.generator.Generate(t)
	if err == nil {
		var body codegen.Body
		body, err = codegen.Compile(program, t.locals)
		if err == nil {
			err = c.define(t, body)
		}
	}
	if err != nil {
		err = compileError(t, err)
		perf.EndWithError(ctx, err, fields...)
		return err
	}

	t.compiled.Store(true)
	if t.virtualPath != "" {
		t.source.Store(nil)
	}
	perf.End(ctx, append(fields, "unit", t.UnitName())...)
	return nil
}

func (c *Compiler) define(t *Template, body codegen.Body) error {
	unit := func(v view.View, locals view.Locals, buf *view.Buffer) (view.SafeString, error) {
		if buf == nil {
			buf = view.NewBuffer()
		}
		if err := body(v, locals, buf); err != nil {
			return "", err
		}
		if buf.Streaming() {
			return "", buf.Err()
		}
		return view.SafeString(buf.String()), nil
	}
	if err := c.registry.Define(t.UnitName(), t.identifier, unit); err != nil {
		return errors.NewCompileError(errors.ErrCodeRegistration, "could not define unit "+t.UnitName(), err)
	}
	return nil
}

func evictedError(t *Template) error {
	return errors.NewLookupError(errors.ErrCodeTemplateEvicted,
		fmt.Sprintf("%s was evicted; look it up again", t), nil).
		WithTemplate(t.identifier, t.virtualPath)
}

// compileError classifies a generation or registration failure. Errors that
// already carry a category pass through, wrapping intact, with the template
// attached to the categorized error.
func compileError(t *Template, err error) error {
	var ve *errors.ViewError
	if stderrors.As(err, &ve) {
		if ve.Identifier == "" {
			ve.WithTemplate(t.identifier, t.virtualPath)
		}
		return err
	}
	out := errors.NewCompileError(errors.ErrCodeCompileFailed, fmt.Sprintf("could not compile %s", t), err).
		WithTemplate(t.identifier, t.virtualPath)
	var ge *codegen.GenerateError
	if stderrors.As(err, &ge) {
		out.WithLine(ge.Line)
	}
	return out
}
