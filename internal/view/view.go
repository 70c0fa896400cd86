// Package view defines the rendering context that compiled templates run
// against: the mutable virtual path and output buffer, the helper table that
// generated code calls into, and the Go context used for logging and tracing.
package view

import (
	"context"
	"sync"
)

// Locals holds the values passed to one render call, keyed by name.
type Locals map[string]any

// HelperFunc is a function callable from template expressions. The view the
// template is rendering against is passed first.
type HelperFunc func(v View, args ...any) (any, error)

// View is the receiver of a compiled template.
type View interface {
	VirtualPath() string
	SetVirtualPath(path string)
	OutputBuffer() *Buffer
	SetOutputBuffer(buf *Buffer)
	Helper(name string) (HelperFunc, bool)
	Context() context.Context
}

// Base is an embeddable View implementation.
//
// The virtual path and output buffer are per-render state: a Base must not be
// shared by goroutines rendering concurrently. The helper table is safe for
// concurrent registration and lookup.
type Base struct {
	ctx         context.Context
	virtualPath string
	buffer      *Buffer

	helpersMu sync.RWMutex
	helpers   map[string]HelperFunc
}

// Option configures a Base.
type Option func(*Base)

// WithContext sets the Go context exposed through View.Context.
func WithContext(ctx context.Context) Option {
	return func(b *Base) { b.ctx = ctx }
}

// WithHelper registers a helper.
func WithHelper(name string, fn HelperFunc) Option {
	return func(b *Base) { b.helpers[name] = fn }
}

// WithBuffer sets the initial output buffer.
func WithBuffer(buf *Buffer) Option {
	return func(b *Base) { b.buffer = buf }
}

// NewBase creates a Base.
func NewBase(opts ...Option) *Base {
	b := &Base{
		ctx:     context.Background(),
		helpers: make(map[string]HelperFunc),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// VirtualPath returns the virtual path of the template being rendered.
func (b *Base) VirtualPath() string { return b.virtualPath }

// SetVirtualPath sets the virtual path of the template being rendered.
func (b *Base) SetVirtualPath(path string) { b.virtualPath = path }

// OutputBuffer returns the current output buffer.
func (b *Base) OutputBuffer() *Buffer { return b.buffer }

// SetOutputBuffer replaces the current output buffer.
func (b *Base) SetOutputBuffer(buf *Buffer) { b.buffer = buf }

// Context returns the Go context of the render.
func (b *Base) Context() context.Context {
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// RegisterHelper adds or replaces a helper.
func (b *Base) RegisterHelper(name string, fn HelperFunc) {
	b.helpersMu.Lock()
	defer b.helpersMu.Unlock()
	if b.helpers == nil {
		b.helpers = make(map[string]HelperFunc)
	}
	b.helpers[name] = fn
}

// Helper looks up a helper by name.
func (b *Base) Helper(name string) (HelperFunc, bool) {
	b.helpersMu.RLock()
	defer b.helpersMu.RUnlock()
	fn, ok := b.helpers[name]
	return fn, ok
}
