// Package template is the compile-and-render engine.
//
// A Template holds one unit of source together with the generator that
// turns it into code. The first render compiles it exactly once: the
// generator emits a codegen.Program, the program is compiled into a closure
// and that closure is defined in the shared registry under the template's
// unit name. Later renders invoke the unit by name without taking any lock.
//
// Templates with a virtual path drop their source after compiling. When a
// render fails and the source is needed for diagnostics, Refresh rebuilds
// the template through the view's Lookup.
package template

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/erbview/internal/registry"
)

var instanceSeq atomic.Uint64

// Details are the optional attributes of a template.
type Details struct {
	Formats     []string
	Variants    []string
	Locals      []string
	VirtualPath string
	UpdatedAt   time.Time
	// Encoding is the label of the source encoding, as accepted by
	// golang.org/x/text/encoding/htmlindex. Empty means UTF-8.
	Encoding string
}

// Template is one renderable unit of source.
type Template struct {
	identifier  string
	generator   Generator
	locals      []string
	formats     []string
	variants    []string
	virtualPath string
	updatedAt   time.Time
	encoding    string

	source   atomic.Pointer[string]
	compiled atomic.Bool
	evicted  atomic.Bool
	// mu guards the compile and evict transitions.
	mu sync.Mutex

	instance uint64
	nameOnce sync.Once
	unitName string
}

// New creates a template. identifier names where the source came from and is
// used in diagnostics; it need not be unique.
func New(source, identifier string, generator Generator, details Details) *Template {
	t := &Template{
		identifier:  identifier,
		generator:   generator,
		locals:      append([]string(nil), details.Locals...),
		formats:     append([]string(nil), details.Formats...),
		variants:    append([]string(nil), details.Variants...),
		virtualPath: details.VirtualPath,
		updatedAt:   details.UpdatedAt,
		encoding:    details.Encoding,
		instance:    instanceSeq.Add(1),
	}
	if t.updatedAt.IsZero() {
		t.updatedAt = time.Now()
	}
	if len(t.formats) == 0 {
		if d, ok := generator.(interface{ DefaultFormat() string }); ok && d.DefaultFormat() != "" {
			t.formats = []string{d.DefaultFormat()}
		}
	}
	t.source.Store(&source)
	return t
}

// Source returns the template source. ok is false once the source has been
// evicted after compilation.
func (t *Template) Source() (string, bool) {
	s := t.source.Load()
	if s == nil {
		return "", false
	}
	return *s, true
}

// Identifier returns the template's origin, usually a file path.
func (t *Template) Identifier() string { return t.identifier }

// Generator returns the code generator of the template.
func (t *Template) Generator() Generator { return t.generator }

// Locals returns the declared local names.
func (t *Template) Locals() []string { return append([]string(nil), t.locals...) }

// Formats returns the content-type tags of the template.
func (t *Template) Formats() []string { return append([]string(nil), t.formats...) }

// Format returns the primary format, or "" when none is set.
func (t *Template) Format() string {
	if len(t.formats) == 0 {
		return ""
	}
	return t.formats[0]
}

// Variants returns the variant tags of the template.
func (t *Template) Variants() []string { return append([]string(nil), t.variants...) }

// VirtualPath returns the logical path, or "" for inline templates.
func (t *Template) VirtualPath() string { return t.virtualPath }

// UpdatedAt returns when the source was last modified.
func (t *Template) UpdatedAt() time.Time { return t.updatedAt }

// Encoding returns the declared source encoding label.
func (t *Template) Encoding() string { return t.encoding }

// Compiled reports whether the template has been compiled.
func (t *Template) Compiled() bool { return t.compiled.Load() }

// Evicted reports whether the owner of t has dropped it.
func (t *Template) Evicted() bool { return t.evicted.Load() }

// Evict is called by the owner of t when it drops t. It waits for a compile
// in flight, removes t's unit from reg and keeps t from defining another
// one: later renders of t fail with ErrCodeTemplateEvicted. It reports
// whether a unit was removed.
func (t *Template) Evict(reg *registry.Registry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evicted.Store(true)
	if !t.compiled.Load() {
		return false
	}
	return reg.Remove(t.UnitName())
}

// Type returns the MIME type of the primary format.
func (t *Template) Type() string { return MIMEType(t.Format()) }

// SupportsStreaming reports whether the generator can write into a
// streaming buffer.
func (t *Template) SupportsStreaming() bool {
	return t.generator != nil && t.generator.SupportsStreaming()
}

// Inspect returns the identifier relative to the working directory.
func (t *Template) Inspect() string {
	if wd, err := os.Getwd(); err == nil {
		prefix := wd + string(filepath.Separator)
		if strings.HasPrefix(t.identifier, prefix) {
			return strings.TrimPrefix(t.identifier, prefix)
		}
	}
	return t.identifier
}

// UnitName returns the name the compiled unit is registered under. It is
// computed once and differs between instances with the same identifier.
func (t *Template) UnitName() string {
	t.nameOnce.Do(func() {
		h := fnv.New32a()
		h.Write([]byte(t.identifier))
		t.unitName = fmt.Sprintf("_%s__%08x_%d", symbolName(t.Inspect()), h.Sum32(), t.instance)
	})
	return t.unitName
}

// String implements fmt.Stringer.
func (t *Template) String() string {
	if t.virtualPath != "" {
		return t.virtualPath
	}
	return t.Inspect()
}

func symbolName(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || r == '_' {
			return r
		}
		return '_'
	}, s)
}
