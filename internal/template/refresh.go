package template

import (
	"strings"

	"github.com/conneroisu/erbview/internal/errors"
)

// PartialPrefix marks the leaf of a partial's virtual path.
const PartialPrefix = "_"

// Refresh resolves a fresh copy of t, with source, through the view's
// lookup. The lookup cache is bypassed so the result reflects the current
// source. Inline templates have no virtual path and cannot be refreshed.
func (t *Template) Refresh(v View) (*Template, error) {
	if t.virtualPath == "" {
		return nil, errors.NewRefreshError(errors.ErrCodeRefreshNoPath,
			"a template must have a virtual path to be refreshed").
			WithTemplate(t.identifier, "")
	}

	var lookup Lookup
	if v != nil {
		lookup = v.LookupContext()
	}
	if lookup == nil {
		return nil, errors.NewRefreshError(errors.ErrCodeTemplateNotFound,
			"view has no lookup context to refresh from").
			WithTemplate(t.identifier, t.virtualPath)
	}

	name, prefixes, partial := SplitVirtualPath(t.virtualPath)
	return lookup.DisableCache(func() (*Template, error) {
		return lookup.FindTemplate(name, prefixes, partial, t.Locals())
	})
}

// SplitVirtualPath splits a virtual path into its leaf name and prefix. A
// leaf starting with PartialPrefix names a partial and has the marker
// stripped. A path without directories has the single prefix "".
func SplitVirtualPath(virtualPath string) (name string, prefixes []string, partial bool) {
	pieces := strings.Split(virtualPath, "/")
	name = pieces[len(pieces)-1]
	prefixes = []string{strings.Join(pieces[:len(pieces)-1], "/")}
	if strings.HasPrefix(name, PartialPrefix) {
		partial = true
		name = strings.TrimPrefix(name, PartialPrefix)
	}
	return name, prefixes, partial
}
