// Package lookup resolves template names to templates stored in file
// systems.
//
// A name is resolved under each prefix in turn: the file
// <prefix>/<name>.<format>.<handler> is tried for every configured format
// and registered handler extension, then <prefix>/<name>.<handler>. Partials
// carry a leading underscore on the file name. Resolved templates are cached
// and every template that leaves the cache has its compiled unit removed
// from the registry.
package lookup

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/erbview/internal/handlers"
	"github.com/conneroisu/erbview/internal/logging"
	"github.com/conneroisu/erbview/internal/registry"
	"github.com/conneroisu/erbview/internal/template"
)

const (
	DefaultCacheSize = 512
	DefaultCacheTTL  = time.Hour
)

// Root is one file system templates are read from. Name prefixes the
// identifiers of its templates.
type Root struct {
	Name string
	FS   fs.FS
}

// Context resolves templates. It implements template.Lookup.
type Context struct {
	roots    []Root
	handlers *handlers.Registry
	registry *registry.Registry
	formats  []string
	logger   logging.Logger
	cache    *TemplateCache

	mu       sync.Mutex
	disabled int
}

var _ template.Lookup = (*Context)(nil)

// Option configures a Context.
type Option func(*config)

type config struct {
	handlers  *handlers.Registry
	formats   []string
	cacheSize int
	cacheTTL  time.Duration
	logger    logging.Logger
}

// WithHandlers sets the handler registry used to pick generators.
func WithHandlers(h *handlers.Registry) Option {
	return func(c *config) { c.handlers = h }
}

// WithFormats sets the formats tried, in order.
func WithFormats(formats ...string) Option {
	return func(c *config) { c.formats = formats }
}

// WithCache sets the cache size and TTL.
func WithCache(size int, ttl time.Duration) Option {
	return func(c *config) {
		c.cacheSize = size
		c.cacheTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New creates a Context reading from roots. Units of evicted templates are
// removed from reg.
func New(reg *registry.Registry, roots []Root, opts ...Option) *Context {
	cfg := config{
		formats:   []string{"html"},
		cacheSize: DefaultCacheSize,
		cacheTTL:  DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.handlers == nil {
		cfg.handlers = handlers.New()
	}
	if cfg.logger == nil {
		cfg.logger = logging.Nop()
	}

	c := &Context{
		roots:    roots,
		handlers: cfg.handlers,
		registry: reg,
		formats:  cfg.formats,
		logger:   cfg.logger.WithComponent("lookup"),
	}
	c.cache = NewTemplateCache(cfg.cacheSize, cfg.cacheTTL, c.evict)
	return c
}

// DirRoots returns a Root for each directory.
func DirRoots(dirs ...string) []Root {
	roots := make([]Root, len(dirs))
	for i, dir := range dirs {
		roots[i] = Root{Name: filepath.Clean(dir), FS: os.DirFS(dir)}
	}
	return roots
}

// FindTemplate implements template.Lookup.
func (c *Context) FindTemplate(name string, prefixes []string, partial bool, locals []string) (*template.Template, error) {
	key := cacheKey(name, prefixes, partial, locals, c.formats)
	useCache := !c.cacheDisabled()

	if useCache {
		if t, ok := c.cache.Get(key); ok {
			return t, nil
		}
	}

	t, err := c.resolve(name, prefixes, partial, locals)
	if err != nil {
		return nil, err
	}

	if useCache {
		return c.cache.Set(key, t), nil
	}
	return t, nil
}

// DisableCache implements template.Lookup. While fn runs, lookups neither
// read nor fill the cache. Calls may nest.
func (c *Context) DisableCache(fn func() (*template.Template, error)) (*template.Template, error) {
	c.mu.Lock()
	c.disabled++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.disabled--
		c.mu.Unlock()
	}()

	return fn()
}

func (c *Context) cacheDisabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled > 0
}

// Expire evicts every cached template read from the file at path, given
// either as an identifier or as a path inside a root.
func (c *Context) Expire(p string) int {
	p = filepath.ToSlash(filepath.Clean(p))
	n := c.cache.RemoveFunc(func(t *template.Template) bool {
		id := filepath.ToSlash(t.Identifier())
		return id == p || strings.HasSuffix(p, "/"+id) || strings.HasSuffix(id, "/"+p)
	})
	if n > 0 {
		c.logger.Debug(context.Background(), "Expired templates", "path", p, "count", n)
	}
	return n
}

// Clear evicts every cached template.
func (c *Context) Clear() { c.cache.Clear() }

// Stats returns cache statistics.
func (c *Context) Stats() CacheStats { return c.cache.Stats() }

// Prune evicts templates whose TTL has passed. Expired templates are also
// evicted lazily when looked up.
func (c *Context) Prune() int { return c.cache.Prune() }

// Registry returns the registry units are removed from.
func (c *Context) Registry() *registry.Registry { return c.registry }

// Handlers returns the handler registry.
func (c *Context) Handlers() *handlers.Registry { return c.handlers }

func (c *Context) evict(t *template.Template) {
	if t.Evict(c.registry) {
		c.logger.Debug(context.Background(), "Removed unit of evicted template",
			"unit", t.UnitName(), "identifier", t.Identifier())
	}
}

func (c *Context) resolve(name string, prefixes []string, partial bool, locals []string) (*template.Template, error) {
	dir, leaf := path.Split(name)
	if partial {
		leaf = template.PartialPrefix + leaf
	}

	searched := prefixes
	if len(searched) == 0 {
		searched = []string{""}
	}

	exts := c.handlers.Extensions()
	for _, prefix := range searched {
		base := path.Join(prefix, dir, leaf)
		for _, root := range c.roots {
			for _, candidate := range c.candidates(base, exts) {
				t, err := c.load(root, candidate, locals)
				if stderrors.Is(err, fs.ErrNotExist) {
					continue
				}
				if err != nil {
					return nil, err
				}
				return t, nil
			}
		}
	}

	return nil, &template.MissingTemplateError{Name: name, Prefixes: prefixes, Partial: partial}
}

type candidate struct {
	virtualPath string
	file        string
	format      string
	ext         string
}

func (c *Context) candidates(base string, exts []string) []candidate {
	var out []candidate
	for _, format := range c.formats {
		for _, ext := range exts {
			out = append(out, candidate{virtualPath: base, file: base + "." + format + "." + ext, format: format, ext: ext})
		}
	}
	for _, ext := range exts {
		out = append(out, candidate{virtualPath: base, file: base + "." + ext, ext: ext})
	}
	return out
}

func (c *Context) load(root Root, cand candidate, locals []string) (*template.Template, error) {
	data, err := fs.ReadFile(root.FS, cand.file)
	if err != nil {
		return nil, err
	}
	info, err := fs.Stat(root.FS, cand.file)
	if err != nil {
		return nil, err
	}

	gen, ok := c.handlers.For(cand.ext)
	if !ok {
		return nil, fmt.Errorf("no handler registered for %q", cand.ext)
	}

	details := template.Details{
		Locals:      locals,
		VirtualPath: cand.virtualPath,
		UpdatedAt:   info.ModTime(),
	}
	if cand.format != "" {
		details.Formats = []string{cand.format}
	}

	identifier := cand.file
	if root.Name != "" {
		identifier = path.Join(filepath.ToSlash(root.Name), cand.file)
	}
	return template.New(string(data), identifier, gen, details), nil
}

func cacheKey(name string, prefixes []string, partial bool, locals, formats []string) string {
	sorted := append([]string(nil), locals...)
	sort.Strings(sorted)
	return fmt.Sprintf("%s\x00%s\x00%t\x00%s\x00%s",
		name, strings.Join(prefixes, ","), partial, strings.Join(sorted, ","), strings.Join(formats, ","))
}
