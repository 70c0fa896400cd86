package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/erbview/internal/config"
	"github.com/conneroisu/erbview/internal/errors"
	"github.com/conneroisu/erbview/internal/handlers"
	"github.com/conneroisu/erbview/internal/helpers"
	"github.com/conneroisu/erbview/internal/logging"
	"github.com/conneroisu/erbview/internal/lookup"
	"github.com/conneroisu/erbview/internal/registry"
	"github.com/conneroisu/erbview/internal/template"
	"github.com/conneroisu/erbview/internal/view"
)

// engine wires the configured components together for one command run.
type engine struct {
	cfg      *config.Config
	logger   logging.Logger
	errors   *errors.ErrorHandler
	handlers *handlers.Registry
	registry *registry.Registry
	lookup   *lookup.Context
	renderer *template.Renderer
	shutdown func(context.Context) error
}

// shutdownTimeout bounds flushing pending spans on exit.
const shutdownTimeout = 5 * time.Second

func newEngine(ctx context.Context, v *viper.Viper, logOut io.Writer) (*engine, error) {
	cfg, err := config.LoadFrom(v)
	if err != nil {
		return nil, err
	}
	config.Apply(cfg)

	logger := cfg.NewLogger(logOut)
	h, err := cfg.NewHandlers()
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, err.Error())
	}

	inst, shutdown, err := cfg.NewInstrumenter(ctx, logger)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	opts := []template.Option{
		template.WithLogger(logger),
		template.WithInstrumenter(inst),
	}
	return &engine{
		cfg:      cfg,
		logger:   logger,
		errors:   errors.NewErrorHandler(logger),
		handlers: h,
		registry: reg,
		lookup:   cfg.NewLookup(reg, h, logger),
		renderer: template.NewRenderer(template.NewCompiler(reg, opts...), opts...),
		shutdown: shutdown,
	}, nil
}

// close flushes instrumentation. It runs on a fresh context so spans are
// still exported after the command context is cancelled.
func (e *engine) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.shutdown(ctx); err != nil {
		e.logger.Warn(ctx, err, "Could not flush instrumentation")
	}
}

func (e *engine) newView(ctx context.Context) *template.Context {
	opts := append(helpers.Options(e.renderer), view.WithContext(ctx))
	return template.NewContext(e.lookup, opts...)
}

// loadTemplate reads a template file. The handler is picked by the last
// extension, falling back to the default handler, and a known format
// extension before it sets the format.
func (e *engine) loadTemplate(file string, f *TemplateFlags, locals []string) (*template.Template, string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, "", fmt.Errorf("reading template: %w", err)
	}

	base := filepath.Base(file)
	parts := strings.Split(base, ".")

	handler := ""
	gen := template.Generator(nil)
	if len(parts) > 1 {
		handler = strings.ToLower(parts[len(parts)-1])
		gen, _ = e.handlers.For(handler)
	}
	if gen == nil {
		handler, gen = e.handlers.Default()
	}

	format := f.Format
	if format == "" && len(parts) > 2 && template.IsFormat(parts[len(parts)-2]) {
		format = parts[len(parts)-2]
	}

	details := template.Details{
		Locals:      locals,
		VirtualPath: f.VirtualPath,
	}
	if details.VirtualPath == "" {
		details.VirtualPath = e.virtualPath(file)
	}
	if format != "" {
		details.Formats = []string{format}
	}
	if info, err := os.Stat(file); err == nil {
		details.UpdatedAt = info.ModTime()
	}

	return template.New(string(data), filepath.ToSlash(file), gen, details), handler, nil
}

// virtualPath derives the virtual path of a file under one of the lookup
// roots, or returns "".
func (e *engine) virtualPath(file string) string {
	abs, err := filepath.Abs(file)
	if err != nil {
		return ""
	}
	for _, root := range e.cfg.Lookup.Roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		dir, name := filepath.Split(rel)
		if i := strings.Index(name, "."); i > 0 {
			name = name[:i]
		}
		return filepath.ToSlash(filepath.Join(dir, name))
	}
	return ""
}

// printRenderError writes the template chain and a source extract of a
// render failure.
func printRenderError(w io.Writer, err error) {
	re, ok := err.(*template.RenderError)
	if !ok {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}

	fmt.Fprintf(w, "Error: %v\n", re.Cause())
	for _, t := range re.Chain() {
		fmt.Fprintf(w, "  in %s\n", t)
	}
	if extract := re.SourceExtract(2); extract != "" {
		fmt.Fprintf(w, "\n%s", extract)
	}
	if rerr := re.RefreshErr(); rerr != nil {
		fmt.Fprintf(w, "\n(source unavailable: %v)\n", rerr)
	}
}
