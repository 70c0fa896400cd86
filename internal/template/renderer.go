package template

import (
	"github.com/conneroisu/erbview/internal/instrument"
	"github.com/conneroisu/erbview/internal/logging"
	"github.com/conneroisu/erbview/internal/view"
)

// Renderer renders templates against a view.
type Renderer struct {
	compiler     *Compiler
	instrumenter instrument.Instrumenter
	logger       logging.Logger
}

// NewRenderer creates a renderer compiling through c.
func NewRenderer(c *Compiler, opts ...Option) *Renderer {
	o := buildOptions(opts)
	return &Renderer{
		compiler:     c,
		instrumenter: o.instrumenter,
		logger:       o.logger.WithComponent("renderer"),
	}
}

// Compiler returns the renderer's compiler.
func (r *Renderer) Compiler() *Compiler { return r.compiler }

// Render compiles t if needed and runs it against v with locals, writing into
// buf. A nil buf gets a fresh in-memory buffer. The view's virtual path and
// output buffer are restored before Render returns, whether or not the
// template failed. Failures inside the template come back as *RenderError.
func (r *Renderer) Render(v View, t *Template, locals view.Locals, buf *view.Buffer) (view.SafeString, error) {
	if buf == nil {
		buf = view.NewBuffer()
	}

	var out view.SafeString
	payload := instrument.Payload{VirtualPath: t.virtualPath, Identifier: t.identifier}
	err := r.instrumenter.Instrument(v.Context(), instrument.EventRender, payload, func() error {
		if err := r.compiler.EnsureCompiled(v.Context(), t); err != nil {
			return err
		}
		s, err := r.invoke(v, t, locals, buf)
		if err != nil {
			return r.handleRenderError(v, t, err)
		}
		out = s
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func (r *Renderer) invoke(v View, t *Template, locals view.Locals, buf *view.Buffer) (view.SafeString, error) {
	prevPath, prevBuf := v.VirtualPath(), v.OutputBuffer()
	defer func() {
		v.SetVirtualPath(prevPath)
		v.SetOutputBuffer(prevBuf)
	}()

	v.SetVirtualPath(t.virtualPath)
	v.SetOutputBuffer(buf)
	return r.compiler.registry.Invoke(v, t.UnitName(), locals, buf)
}
