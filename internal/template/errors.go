package template

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/conneroisu/erbview/internal/codegen"
)

// RenderError is a failure raised while a compiled template ran. It records
// the template that failed and every template that rendered it.
type RenderError struct {
	template     *Template
	subTemplates []*Template
	cause        error
	refreshErr   error
}

func (e *RenderError) Error() string {
	var sb strings.Builder
	sb.WriteString("error rendering ")
	sb.WriteString(e.template.String())
	if line := e.LineNumber(); line > 0 {
		fmt.Fprintf(&sb, ":%d", line)
	}
	if n := len(e.subTemplates); n > 0 {
		fmt.Fprintf(&sb, " (inside %s)", e.subTemplates[n-1])
	}
	sb.WriteString(": ")
	sb.WriteString(e.Cause().Error())
	return sb.String()
}

// Unwrap returns the original failure.
func (e *RenderError) Unwrap() error { return e.cause }

// Cause returns the original failure without the line wrapper added by the
// generated code.
func (e *RenderError) Cause() error {
	var ee *codegen.EvalError
	if stderrors.As(e.cause, &ee) {
		return ee.Err
	}
	return e.cause
}

// Template returns the template that failed. When the failing template had
// dropped its source, this is the refreshed copy.
func (e *RenderError) Template() *Template { return e.template }

// SubTemplateOf records that the failing template was rendered from t.
func (e *RenderError) SubTemplateOf(t *Template) {
	e.subTemplates = append(e.subTemplates, t)
}

// SubTemplates returns the enclosing templates, outermost first.
func (e *RenderError) SubTemplates() []*Template {
	out := make([]*Template, len(e.subTemplates))
	for i, t := range e.subTemplates {
		out[len(out)-1-i] = t
	}
	return out
}

// Chain returns the failing template followed by its enclosing templates,
// deepest first.
func (e *RenderError) Chain() []*Template {
	return append([]*Template{e.template}, e.subTemplates...)
}

// LineNumber returns the template line that failed, or 0 when unknown.
func (e *RenderError) LineNumber() int {
	var ee *codegen.EvalError
	if stderrors.As(e.cause, &ee) {
		return ee.Line
	}
	return 0
}

// RefreshErr returns the error of the refresh attempted to recover the
// template source, if it failed.
func (e *RenderError) RefreshErr() error { return e.refreshErr }

// SourceExtract returns the source lines within n lines of the failing
// line, each prefixed with its number. It is empty when the source or the
// line is unknown.
func (e *RenderError) SourceExtract(n int) string {
	src, ok := e.template.Source()
	line := e.LineNumber()
	if !ok || line == 0 {
		return ""
	}

	lines := strings.Split(src, "\n")
	start := max(line-n, 1)
	end := min(line+n, len(lines))
	width := len(fmt.Sprint(end))

	var sb strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&sb, "%*d: %s\n", width, i, lines[i-1])
	}
	return sb.String()
}

// IsRenderError reports whether err is or wraps a *RenderError.
func IsRenderError(err error) bool {
	var re *RenderError
	return stderrors.As(err, &re)
}

// handleRenderError turns a failure from t's unit into a *RenderError.
// Failures of nested renders already are one and gain t as an enclosing
// template. Otherwise, if t dropped its source, a refreshed copy is reported
// so the error can show source.
func (r *Renderer) handleRenderError(v View, t *Template, err error) error {
	var re *RenderError
	if stderrors.As(err, &re) {
		re.SubTemplateOf(t)
		return re
	}

	failed := t
	var refreshErr error
	if _, ok := t.Source(); !ok && t.virtualPath != "" {
		fresh, ferr := t.Refresh(v)
		if ferr != nil {
			refreshErr = ferr
			r.logger.Warn(ctxOf(v), ferr, "Could not refresh template for diagnostics",
				"virtual_path", t.virtualPath, "identifier", t.identifier)
		} else {
			failed = fresh
		}
	}

	return &RenderError{template: failed, cause: err, refreshErr: refreshErr}
}

func ctxOf(v View) context.Context {
	if v == nil {
		return context.Background()
	}
	return v.Context()
}
