package template

import (
	"fmt"
	"strings"

	"github.com/conneroisu/erbview/internal/view"
)

// Lookup resolves templates by name. It is implemented by the lookup
// package.
type Lookup interface {
	// FindTemplate resolves name under the first matching prefix.
	FindTemplate(name string, prefixes []string, partial bool, locals []string) (*Template, error)
	// DisableCache runs fn with the lookup's result cache bypassed.
	DisableCache(fn func() (*Template, error)) (*Template, error)
}

// View is the receiver templates render against.
type View interface {
	view.View
	LookupContext() Lookup
}

// Context is the standard View: a view.Base with a lookup.
type Context struct {
	*view.Base
	lookup Lookup
}

// NewContext creates a Context. lookup may be nil for views that never
// resolve partials or refresh templates.
func NewContext(lookup Lookup, opts ...view.Option) *Context {
	return &Context{Base: view.NewBase(opts...), lookup: lookup}
}

// LookupContext returns the view's lookup.
func (c *Context) LookupContext() Lookup { return c.lookup }

// MissingTemplateError is returned by a Lookup that cannot resolve a name.
type MissingTemplateError struct {
	Name     string
	Prefixes []string
	Partial  bool
}

func (e *MissingTemplateError) Error() string {
	kind := "template"
	if e.Partial {
		kind = "partial"
	}
	return fmt.Sprintf("missing %s %s in [%s]", kind, e.Name, strings.Join(e.Prefixes, ", "))
}
