// Package handlers maps template file extensions to code generators.
package handlers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/erbview/internal/codegen"
	"github.com/conneroisu/erbview/internal/handlers/erb"
	"github.com/conneroisu/erbview/internal/template"
)

// Registry maps extensions to generators.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]template.Generator
	def        string
}

// New returns a registry with the built-in handlers: erb, raw and html.
// erb is the default.
func New() *Registry {
	r := &Registry{generators: make(map[string]template.Generator)}
	r.Register("erb", erb.Default())
	r.Register("raw", Raw{})
	r.Register("html", Raw{})
	r.def = "erb"
	return r
}

// Register adds or replaces the generator for ext.
func (r *Registry) Register(ext string, g template.Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[normalize(ext)] = g
}

// Unregister removes the generator for ext.
func (r *Registry) Unregister(ext string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.generators, normalize(ext))
}

// For returns the generator registered for ext.
func (r *Registry) For(ext string) (template.Generator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generators[normalize(ext)]
	return g, ok
}

// Extensions returns the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.generators))
	for ext := range r.generators {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Default returns the default generator and its extension.
func (r *Registry) Default() (string, template.Generator) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def, r.generators[r.def]
}

// SetDefault makes the generator for ext the default.
func (r *Registry) SetDefault(ext string) error {
	ext = normalize(ext)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.generators[ext]; !ok {
		return fmt.Errorf("no handler registered for %q", ext)
	}
	r.def = ext
	return nil
}

func normalize(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// Raw emits the source unchanged.
type Raw struct{}

// Generate implements template.Generator.
func (Raw) Generate(t *template.Template) (*codegen.Program, error) {
	src, err := template.DecodeSource(t)
	if err != nil {
		return nil, err
	}
	b := codegen.NewBuilder()
	b.Text(src, 1)
	return b.Finish()
}

// SupportsStreaming implements template.Generator.
func (Raw) SupportsStreaming() bool { return false }
