// Package erb is the embedded-expression template generator.
//
// Source is plain text with tags:
//
//	<% stmt %>     control statement: if, else if, elsif, else, for, end
//	<%= expr %>    output, HTML-escaped unless the content type is exempt
//	<%== expr %>   output, never escaped
//	<%# text %>    comment
//	<%%            a literal "<%"
//
// <%- and -%> trim the indentation before and the newline after a tag. In
// trim mode statement and comment tags standing alone on a line are trimmed
// without markers.
package erb

import (
	stderrors "errors"
	"slices"
	"strings"
	"sync/atomic"

	"golang.org/x/net/html"

	"github.com/conneroisu/erbview/internal/codegen"
	"github.com/conneroisu/erbview/internal/errors"
	"github.com/conneroisu/erbview/internal/template"
)

// Config controls code generation.
type Config struct {
	// Trim removes the lines of tags that stand alone.
	Trim bool `mapstructure:"trim_mode" yaml:"trim_mode"`
	// EscapeExempt lists content types whose output is never escaped.
	EscapeExempt []string `mapstructure:"escape_exempt" yaml:"escape_exempt"`
}

var defaultConfig atomic.Pointer[Config]

func init() {
	SetDefaultConfig(Config{Trim: true, EscapeExempt: []string{"text/plain"}})
}

// DefaultConfig returns the process-wide configuration.
func DefaultConfig() Config {
	c := *defaultConfig.Load()
	c.EscapeExempt = slices.Clone(c.EscapeExempt)
	return c
}

// SetDefaultConfig replaces the process-wide configuration. Handlers created
// with Default read it on every generation.
func SetDefaultConfig(c Config) {
	c.EscapeExempt = slices.Clone(c.EscapeExempt)
	defaultConfig.Store(&c)
}

// Handler generates programs from ERB source.
type Handler struct {
	cfg *Config
}

// New returns a handler with its own configuration.
func New(cfg Config) *Handler {
	cfg.EscapeExempt = slices.Clone(cfg.EscapeExempt)
	return &Handler{cfg: &cfg}
}

// Default returns a handler that follows the process-wide configuration.
func Default() *Handler {
	return &Handler{}
}

func (h *Handler) config() Config {
	if h.cfg != nil {
		return *h.cfg
	}
	return *defaultConfig.Load()
}

// SupportsStreaming implements template.Generator.
func (h *Handler) SupportsStreaming() bool { return true }

// Generate implements template.Generator.
func (h *Handler) Generate(t *template.Template) (*codegen.Program, error) {
	src, err := template.DecodeSource(t)
	if err != nil {
		return nil, err
	}
	src = strings.TrimPrefix(src, "\ufeff")

	cfg := h.config()
	escape := !slices.Contains(cfg.EscapeExempt, t.Type())

	toks, err := scan(src)
	if err != nil {
		return nil, generateError(t, err)
	}
	trim(toks, cfg.Trim)

	b := codegen.NewBuilder()
	for _, tok := range toks {
		switch tok.kind {
		case tokText:
			b.Text(tok.text, tok.line)
		case tokOutput:
			err = b.Output(tok.text, escape, tok.line)
		case tokRawOutput:
			err = b.Output(tok.text, false, tok.line)
		case tokStatement:
			err = b.Statement(tok.text, tok.line)
		}
		if err != nil {
			return nil, generateError(t, err)
		}
	}

	p, err := b.Finish()
	if err != nil {
		return nil, generateError(t, err)
	}
	p.Escaper = html.EscapeString
	return p, nil
}

func generateError(t *template.Template, err error) error {
	out := errors.NewCompileError(errors.ErrCodeCompileFailed, "invalid ERB source", err).
		WithTemplate(t.Identifier(), t.VirtualPath())
	var ge *codegen.GenerateError
	var se *ScanError
	switch {
	case stderrors.As(err, &ge):
		out.WithLine(ge.Line)
	case stderrors.As(err, &se):
		out.WithLine(se.Line)
	}
	return out
}
