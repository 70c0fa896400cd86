// Package helpers provides the standard view helpers callable from
// templates.
package helpers

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/conneroisu/erbview/internal/component"
	"github.com/conneroisu/erbview/internal/template"
	"github.com/conneroisu/erbview/internal/view"
)

var (
	ugcPolicy    = bluemonday.UGCPolicy()
	strictPolicy = bluemonday.StrictPolicy()
)

// Install registers every standard helper on b. Partials rendered through
// the render helper use r.
func Install(b *view.Base, r *template.Renderer) {
	b.RegisterHelper("render", Render(r))
	b.RegisterHelper("sanitize", Sanitize)
	b.RegisterHelper("stripTags", StripTags)
	b.RegisterHelper("raw", Raw)
	b.RegisterHelper("templ", component.Helper())
}

// Options returns the standard helpers as view options.
func Options(r *template.Renderer) []view.Option {
	return []view.Option{
		view.WithHelper("render", Render(r)),
		view.WithHelper("sanitize", Sanitize),
		view.WithHelper("stripTags", StripTags),
		view.WithHelper("raw", Raw),
		view.WithHelper("templ", component.Helper()),
	}
}

// Render returns the render helper: render(path [, locals]).
//
// path names a partial. A path without a directory is resolved next to the
// template being rendered. The partial is rendered into its own buffer and
// its output is returned as a SafeString.
func Render(r *template.Renderer) view.HelperFunc {
	return func(v view.View, args ...any) (any, error) {
		if len(args) < 1 || len(args) > 2 {
			return nil, fmt.Errorf("render: expected 1 or 2 arguments, got %d", len(args))
		}
		name, ok := args[0].(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("render: partial name must be a non-empty string, got %T", args[0])
		}

		var locals view.Locals
		if len(args) == 2 {
			l, err := toLocals(args[1])
			if err != nil {
				return nil, err
			}
			locals = l
		}

		tv, ok := v.(template.View)
		if !ok || tv.LookupContext() == nil {
			return nil, fmt.Errorf("render: view has no lookup context")
		}

		partialName, prefixes := partialPath(name, v.VirtualPath())
		t, err := tv.LookupContext().FindTemplate(partialName, prefixes, true, localNames(locals))
		if err != nil {
			return nil, err
		}
		return r.Render(tv, t, locals, view.NewBuffer())
	}
}

func partialPath(name, current string) (string, []string) {
	if strings.Contains(name, "/") {
		dir, leaf := path.Split(name)
		return leaf, []string{strings.TrimSuffix(dir, "/")}
	}
	if dir := path.Dir(current); current != "" && dir != "." {
		return name, []string{dir}
	}
	return name, nil
}

func toLocals(arg any) (view.Locals, error) {
	switch l := arg.(type) {
	case nil:
		return nil, nil
	case view.Locals:
		return l, nil
	case map[string]any:
		return view.Locals(l), nil
	case map[string]string:
		out := make(view.Locals, len(l))
		for k, v := range l {
			out[k] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("render: locals must be a map, got %T", arg)
	}
}

func localNames(locals view.Locals) []string {
	if len(locals) == 0 {
		return nil
	}
	names := make([]string, 0, len(locals))
	for k := range locals {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Sanitize keeps user-generated-content markup and drops everything else.
func Sanitize(_ view.View, args ...any) (any, error) {
	s, err := single("sanitize", args)
	if err != nil {
		return nil, err
	}
	return view.SafeString(ugcPolicy.Sanitize(s)), nil
}

// StripTags removes all markup.
func StripTags(_ view.View, args ...any) (any, error) {
	s, err := single("stripTags", args)
	if err != nil {
		return nil, err
	}
	return view.SafeString(strictPolicy.Sanitize(s)), nil
}

// Raw marks its argument as safe.
func Raw(_ view.View, args ...any) (any, error) {
	s, err := single("raw", args)
	if err != nil {
		return nil, err
	}
	return view.SafeString(s), nil
}

func single(name string, args []any) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s: expected 1 argument, got %d", name, len(args))
	}
	return view.ToString(args[0]), nil
}
