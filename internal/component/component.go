// Package component bridges templates and templ components in both
// directions.
package component

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/conneroisu/erbview/internal/template"
	"github.com/conneroisu/erbview/internal/view"
)

// Render returns a templ component that renders t with locals. Templates
// whose generator supports streaming write straight into the templ writer.
// A nil v renders every call against a fresh view carrying that call's
// context. A non-nil v is shared by every render of the component.
func Render(r *template.Renderer, t *template.Template, v template.View, locals view.Locals) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		rv := v
		if rv == nil {
			rv = template.NewContext(nil, view.WithContext(ctx))
		}

		buf := view.NewBuffer()
		if t.SupportsStreaming() {
			buf = view.NewStreamingBuffer(w)
		}

		out, err := r.Render(rv, t, locals, buf)
		if err != nil {
			return err
		}
		if buf.Streaming() {
			return nil
		}
		_, err = io.WriteString(w, string(out))
		return err
	})
}

// Helper returns the templ helper, which renders a templ.Component inline.
func Helper() view.HelperFunc {
	return func(v view.View, args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("templ: expected 1 argument, got %d", len(args))
		}
		c, ok := args[0].(templ.Component)
		if !ok {
			return nil, fmt.Errorf("templ: %T is not a templ.Component", args[0])
		}

		var sb strings.Builder
		if err := c.Render(v.Context(), &sb); err != nil {
			return nil, fmt.Errorf("templ: %w", err)
		}
		return view.SafeString(sb.String()), nil
	}
}
