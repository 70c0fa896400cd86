package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/erbview/internal/template"
	"github.com/conneroisu/erbview/internal/view"
	"github.com/conneroisu/erbview/internal/watcher"
)

func newRenderCommand(v *viper.Viper) *cobra.Command {
	var f TemplateFlags

	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Render a template file to stdout",
		Long: `Render a template file with the given locals and print the result.

Partials rendered with render("name") are resolved under the lookup roots.

Examples:
  erbview render views/posts/show.html.erb -L title=Hello
  erbview render views/report.text.erb --locals-file data.yml
  erbview render views/posts/show.html.erb --root views --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context(), v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()
			locals, err := f.ParseLocals()
			if err != nil {
				return err
			}

			if e.cfg.Watch.Enabled {
				return e.watch(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], &f, locals)
			}
			_, err = e.renderFile(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], &f, locals)
			return err
		},
	}
	addTemplateFlags(cmd, v, &f)
	return cmd
}

func (e *engine) renderFile(ctx context.Context, out, errOut io.Writer, file string, f *TemplateFlags, locals view.Locals) (*template.Template, error) {
	t, _, err := e.loadTemplate(file, f, localNames(locals))
	if err != nil {
		return nil, err
	}

	result, err := e.renderer.Render(e.newView(ctx), t, locals, nil)
	if err != nil {
		e.errors.Handle(ctx, err)
		printRenderError(errOut, err)
		return t, err
	}
	_, err = io.WriteString(out, string(result))
	return t, err
}

// watch renders file, then renders it again after every change to it or
// to a template under the lookup roots, until ctx is done.
func (e *engine) watch(ctx context.Context, out, errOut io.Writer, file string, f *TemplateFlags, locals view.Locals) error {
	var previous *template.Template
	render := func() {
		t, err := e.renderFile(ctx, out, errOut, file, f, locals)
		if previous != nil {
			previous.Evict(e.registry)
		}
		previous = t
		if err == nil {
			fmt.Fprintln(errOut, "-- rendered", file)
		}
	}
	render()

	var dirs []string
	seen := make(map[string]bool)
	for _, dir := range append(append([]string(nil), e.cfg.Lookup.Roots...), filepath.Dir(file)) {
		dir = filepath.Clean(dir)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() || seen[dir] {
			continue
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}

	fw, err := watcher.NewInvalidator(e.lookup, e.logger).
		Watch(ctx, e.cfg.Watch.Debounce, e.handlers.Extensions(), dirs...)
	if err != nil {
		return err
	}
	defer fw.Stop()

	changed := make(chan struct{}, 1)
	fw.AddHandler(func([]watcher.ChangeEvent) error {
		select {
		case changed <- struct{}{}:
		default:
		}
		return nil
	})

	events := e.registry.Watch()
	defer e.registry.UnWatch(events)

	e.logger.Info(ctx, "Watching for template changes", "dirs", dirs)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			e.logger.Debug(ctx, "Registry changed", "event", ev.Type.String(), "unit", ev.Name)
		case <-changed:
			if n := e.lookup.Prune(); n > 0 {
				e.logger.Debug(ctx, "Pruned expired templates", "count", n)
			}
			render()
			e.logger.Debug(ctx, "Defined units", "units", e.registry.Names())
		}
	}
}
