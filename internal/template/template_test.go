package template_test

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/erbview/internal/codegen"
	"github.com/conneroisu/erbview/internal/errors"
	"github.com/conneroisu/erbview/internal/handlers/erb"
	"github.com/conneroisu/erbview/internal/instrument"
	"github.com/conneroisu/erbview/internal/registry"
	"github.com/conneroisu/erbview/internal/template"
	"github.com/conneroisu/erbview/internal/view"
)

type countingGenerator struct {
	template.Generator
	calls atomic.Int32
}

func (g *countingGenerator) Generate(t *template.Template) (*codegen.Program, error) {
	g.calls.Add(1)
	return g.Generator.Generate(t)
}

func newGenerator() *countingGenerator {
	return &countingGenerator{Generator: erb.New(erb.Config{Trim: true, EscapeExempt: []string{"text/plain"}})}
}

type findCall struct {
	name     string
	prefixes []string
	partial  bool
	locals   []string
}

type fakeLookup struct {
	mu       sync.Mutex
	calls    []findCall
	disabled int
	find     func(name string, prefixes []string, partial bool) (*template.Template, error)
}

func (l *fakeLookup) FindTemplate(name string, prefixes []string, partial bool, locals []string) (*template.Template, error) {
	l.mu.Lock()
	l.calls = append(l.calls, findCall{name: name, prefixes: prefixes, partial: partial, locals: locals})
	l.mu.Unlock()
	if l.find == nil {
		return nil, &template.MissingTemplateError{Name: name, Prefixes: prefixes, Partial: partial}
	}
	return l.find(name, prefixes, partial)
}

func (l *fakeLookup) DisableCache(fn func() (*template.Template, error)) (*template.Template, error) {
	l.mu.Lock()
	l.disabled++
	l.mu.Unlock()
	return fn()
}

func newRenderer(reg *registry.Registry, opts ...template.Option) *template.Renderer {
	return template.NewRenderer(template.NewCompiler(reg, opts...), opts...)
}

func TestConcurrentFirstRenderCompilesOnce(t *testing.T) {
	gen := newGenerator()
	reg := registry.New()
	r := newRenderer(reg)
	tmpl := template.New("Hello <%= name %>!", "hello.erb", gen, template.Details{
		Formats: []string{"html"},
		Locals:  []string{"name"},
	})

	const n = 64
	outputs := make([]view.SafeString, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outputs[i], errs[i] = r.Render(template.NewContext(nil), tmpl, view.Locals{"name": "<you>"}, nil)
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, 1, reg.Count())
	assert.True(t, tmpl.Compiled())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, view.SafeString("Hello &lt;you&gt;!"), outputs[i])
	}
}

func TestSourceEviction(t *testing.T) {
	r := newRenderer(registry.New())

	t.Run("dropped with virtual path", func(t *testing.T) {
		tmpl := template.New("hi", "views/hi.erb", newGenerator(), template.Details{VirtualPath: "hi"})
		src, ok := tmpl.Source()
		require.True(t, ok)
		assert.Equal(t, "hi", src)

		_, err := r.Render(template.NewContext(nil), tmpl, nil, nil)
		require.NoError(t, err)

		_, ok = tmpl.Source()
		assert.False(t, ok)

		_, err = r.Render(template.NewContext(nil), tmpl, nil, nil)
		require.NoError(t, err)
		_, ok = tmpl.Source()
		assert.False(t, ok)
	})

	t.Run("kept without virtual path", func(t *testing.T) {
		tmpl := template.New("hi", "inline", newGenerator(), template.Details{})
		_, err := r.Render(template.NewContext(nil), tmpl, nil, nil)
		require.NoError(t, err)

		src, ok := tmpl.Source()
		assert.True(t, ok)
		assert.Equal(t, "hi", src)
	})
}

func TestUnitName(t *testing.T) {
	a := template.New("x", "views/Posts/show.html.erb", newGenerator(), template.Details{})
	b := template.New("x", "views/Posts/show.html.erb", newGenerator(), template.Details{})

	assert.Equal(t, a.UnitName(), a.UnitName())
	assert.NotEqual(t, a.UnitName(), b.UnitName())
	assert.Regexp(t, regexp.MustCompile(`^_views__osts_show_html_erb__[0-9a-f]{8}_\d+$`), a.UnitName())
}

func TestRenderRestoresViewState(t *testing.T) {
	r := newRenderer(registry.New())
	callerBuf := view.NewBuffer()

	tests := []struct {
		name    string
		src     string
		wantErr bool
	}{
		{"success", "<%= virtualPath %>", false},
		{"failure", "<%= missing %>", true},
		{"helper panic", "<%= explode() %>", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := template.NewContext(nil, view.WithHelper("explode", func(view.View, ...any) (any, error) {
				panic("kaboom")
			}))
			v.SetVirtualPath("caller")
			v.SetOutputBuffer(callerBuf)

			tmpl := template.New(tt.src, "state.erb", newGenerator(), template.Details{VirtualPath: "state"})
			_, err := r.Render(v, tmpl, nil, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, template.IsRenderError(err))
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, "caller", v.VirtualPath())
			assert.Same(t, callerBuf, v.OutputBuffer())
		})
	}
}

func TestRenderRestoresViewStateOnPanic(t *testing.T) {
	reg := registry.New()
	r := newRenderer(reg)
	tmpl := template.New("ok", "panic.erb", newGenerator(), template.Details{VirtualPath: "panicking"})

	_, err := r.Render(template.NewContext(nil), tmpl, nil, nil)
	require.NoError(t, err)
	require.True(t, reg.Remove(tmpl.UnitName()))
	require.NoError(t, reg.Define(tmpl.UnitName(), tmpl.Identifier(), func(v view.View, _ view.Locals, _ *view.Buffer) (view.SafeString, error) {
		assert.Equal(t, "panicking", v.VirtualPath())
		panic("kaboom")
	}))

	callerBuf := view.NewBuffer()
	v := template.NewContext(nil)
	v.SetVirtualPath("caller")
	v.SetOutputBuffer(callerBuf)

	assert.PanicsWithValue(t, "kaboom", func() {
		_, _ = r.Render(v, tmpl, nil, nil)
	})
	assert.Equal(t, "caller", v.VirtualPath())
	assert.Same(t, callerBuf, v.OutputBuffer())
}

func TestRefreshLookup(t *testing.T) {
	tests := []struct {
		virtualPath string
		want        findCall
	}{
		{"articles/_row", findCall{name: "row", prefixes: []string{"articles"}, partial: true, locals: []string{"article"}}},
		{"admin/articles/index", findCall{name: "index", prefixes: []string{"admin/articles"}, partial: false, locals: []string{"article"}}},
		{"_footer", findCall{name: "footer", prefixes: []string{""}, partial: true, locals: []string{"article"}}},
	}
	for _, tt := range tests {
		t.Run(tt.virtualPath, func(t *testing.T) {
			fresh := template.New("fresh", "fresh.erb", newGenerator(), template.Details{})
			lookup := &fakeLookup{find: func(string, []string, bool) (*template.Template, error) { return fresh, nil }}
			tmpl := template.New("old", "old.erb", newGenerator(), template.Details{
				VirtualPath: tt.virtualPath,
				Locals:      []string{"article"},
			})

			got, err := tmpl.Refresh(template.NewContext(lookup))
			require.NoError(t, err)
			assert.Same(t, fresh, got)
			require.Len(t, lookup.calls, 1)
			assert.Equal(t, tt.want, lookup.calls[0])
			assert.Equal(t, 1, lookup.disabled)
		})
	}
}

func TestRefreshWithoutVirtualPath(t *testing.T) {
	lookup := &fakeLookup{}
	tmpl := template.New("inline", "inline", newGenerator(), template.Details{})

	_, err := tmpl.Refresh(template.NewContext(lookup))
	require.Error(t, err)
	assert.True(t, errors.IsRefreshError(err))
	assert.Empty(t, lookup.calls)
}

func TestInvalidEncodingLeavesRegistryUntouched(t *testing.T) {
	gen := newGenerator()
	reg := registry.New()
	r := newRenderer(reg)
	tmpl := template.New("ok\xff\xfe", "bad.erb", gen, template.Details{VirtualPath: "bad"})

	_, err := r.Render(template.NewContext(nil), tmpl, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsEncodingError(err))
	assert.False(t, template.IsRenderError(err))

	assert.Equal(t, 0, reg.Count())
	assert.False(t, tmpl.Compiled())
	assert.Equal(t, int32(0), gen.calls.Load())
	_, ok := tmpl.Source()
	assert.True(t, ok)
}

func TestEscapingByContentType(t *testing.T) {
	r := newRenderer(registry.New())

	for format, want := range map[string]string{"html": "&lt;b&gt;", "text/plain": "<b>"} {
		tmpl := template.New("<%= name %>", "name.erb", newGenerator(), template.Details{
			Formats: []string{format},
			Locals:  []string{"name"},
		})
		out, err := r.Render(template.NewContext(nil), tmpl, view.Locals{"name": "<b>"}, nil)
		require.NoError(t, err)
		assert.Equal(t, view.SafeString(want), out, format)
	}
}

func TestNestedRenderRestoresVirtualPath(t *testing.T) {
	r := newRenderer(registry.New())
	inner := template.New("<%= virtualPath %>", "inner.erb", newGenerator(), template.Details{VirtualPath: "inner"})
	outer := template.New("<%= virtualPath %><%= renderInner() %><%= virtualPath %>", "outer.erb", newGenerator(),
		template.Details{VirtualPath: "outer"})

	v := template.NewContext(nil)
	v.RegisterHelper("renderInner", func(v view.View, _ ...any) (any, error) {
		return r.Render(v.(template.View), inner, nil, nil)
	})

	out, err := r.Render(v, outer, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, view.SafeString("outerinnerouter"), out)
	assert.Equal(t, "", v.VirtualPath())
}

func TestRenderErrorChain(t *testing.T) {
	r := newRenderer(registry.New())

	innerSource := "ok\n<%= boom %>\nafter"
	lookup := &fakeLookup{find: func(name string, prefixes []string, partial bool) (*template.Template, error) {
		return template.New(innerSource, "views/shared/_inner.erb", newGenerator(), template.Details{VirtualPath: "shared/_inner"}), nil
	}}
	inner := template.New(innerSource, "views/shared/_inner.erb", newGenerator(), template.Details{VirtualPath: "shared/_inner"})
	outer := template.New("<%= renderInner() %>", "views/pages/show.erb", newGenerator(), template.Details{VirtualPath: "pages/show"})

	v := template.NewContext(lookup)
	v.RegisterHelper("renderInner", func(v view.View, _ ...any) (any, error) {
		return r.Render(v.(template.View), inner, nil, nil)
	})

	_, err := r.Render(v, outer, nil, nil)
	require.Error(t, err)

	var re *template.RenderError
	require.ErrorAs(t, err, &re)

	assert.NotSame(t, inner, re.Template())
	assert.Equal(t, "shared/_inner", re.Template().VirtualPath())
	src, ok := re.Template().Source()
	require.True(t, ok)
	assert.Equal(t, innerSource, src)

	assert.Equal(t, []*template.Template{outer}, re.SubTemplates())
	assert.Equal(t, []*template.Template{re.Template(), outer}, re.Chain())
	assert.Equal(t, 2, re.LineNumber())
	assert.Equal(t, "1: ok\n2: <%= boom %>\n3: after\n", re.SourceExtract(1))
	assert.NoError(t, re.RefreshErr())

	var undefined *codegen.UndefinedError
	require.ErrorAs(t, err, &undefined)
	assert.Equal(t, "boom", undefined.Name)
	assert.Contains(t, err.Error(), "shared/_inner:2")
	assert.Contains(t, err.Error(), "inside pages/show")

	require.Len(t, lookup.calls, 1)
	assert.Equal(t, findCall{name: "inner", prefixes: []string{"shared"}, partial: true}, lookup.calls[0])
}

func TestRenderErrorKeepsTemplateWhenRefreshFails(t *testing.T) {
	r := newRenderer(registry.New())
	tmpl := template.New("<%= boom %>", "views/x.erb", newGenerator(), template.Details{VirtualPath: "x"})

	_, err := r.Render(template.NewContext(&fakeLookup{}), tmpl, nil, nil)
	var re *template.RenderError
	require.ErrorAs(t, err, &re)
	assert.Same(t, tmpl, re.Template())

	var missing *template.MissingTemplateError
	assert.ErrorAs(t, re.RefreshErr(), &missing)
	assert.Empty(t, re.SourceExtract(2))
}

func TestFailedCompileIsRetried(t *testing.T) {
	var calls atomic.Int32
	gen := template.GeneratorFunc(func(t *template.Template) (*codegen.Program, error) {
		if calls.Add(1) == 1 {
			return nil, fmt.Errorf("transient")
		}
		b := codegen.NewBuilder()
		b.Text("done", 1)
		return b.Finish()
	})
	reg := registry.New()
	r := newRenderer(reg)
	tmpl := template.New("done", "retry.erb", gen, template.Details{VirtualPath: "retry"})

	_, err := r.Render(template.NewContext(nil), tmpl, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCompileError(err))
	assert.False(t, tmpl.Compiled())
	assert.Equal(t, 0, reg.Count())

	out, err := r.Render(template.NewContext(nil), tmpl, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, view.SafeString("done"), out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompileErrorKeepsGeneratorWrapping(t *testing.T) {
	gen := template.GeneratorFunc(func(*template.Template) (*codegen.Program, error) {
		return nil, fmt.Errorf("erb pass: %w", errors.NewCompileError(errors.ErrCodeCompileFailed, "bad tag", nil).WithLine(2))
	})
	tmpl := template.New("x", "wrapped.erb", gen, template.Details{VirtualPath: "wrapped"})

	_, err := newRenderer(registry.New()).Render(template.NewContext(nil), tmpl, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "erb pass: ")

	var ve *errors.ViewError
	require.True(t, stderrors.As(err, &ve))
	assert.Equal(t, "wrapped.erb", ve.Identifier)
	assert.Equal(t, "wrapped", ve.VirtualPath)
	assert.Equal(t, 2, ve.Line)
}

func TestEvictedTemplateIsNotCompiled(t *testing.T) {
	gen := newGenerator()
	reg := registry.New()
	tmpl := template.New("x", "evicted.erb", gen, template.Details{VirtualPath: "evicted"})

	assert.False(t, tmpl.Evict(reg))
	_, err := newRenderer(reg).Render(template.NewContext(nil), tmpl, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsLookupError(err))
	assert.True(t, stderrors.Is(err, &errors.ViewError{Type: errors.ErrorTypeLookup, Code: errors.ErrCodeTemplateEvicted}))
	assert.Equal(t, int32(0), gen.calls.Load())
	assert.Zero(t, reg.Count())
}

func TestEvictRemovesCompiledUnit(t *testing.T) {
	reg := registry.New()
	r := newRenderer(reg)
	tmpl := template.New("x", "evict.erb", newGenerator(), template.Details{VirtualPath: "evict"})

	_, err := r.Render(template.NewContext(nil), tmpl, nil, nil)
	require.NoError(t, err)
	require.True(t, reg.Has(tmpl.UnitName()))

	assert.True(t, tmpl.Evict(reg))
	assert.False(t, tmpl.Evict(reg))
	assert.Zero(t, reg.Count())
	assert.True(t, tmpl.Evicted())
}

func TestLocalBinding(t *testing.T) {
	r := newRenderer(registry.New())
	tmpl := template.New(`<%= name %>|<%= localAssigns["Title"] %>|<%= localAssigns["if"] %>`, "locals.erb", newGenerator(),
		template.Details{Formats: []string{"html"}, Locals: []string{"name", "Title", "if", "2x", "name"}})

	out, err := r.Render(template.NewContext(nil), tmpl, view.Locals{"name": "n", "Title": "t", "if": "i"}, nil)
	require.NoError(t, err)
	assert.Equal(t, view.SafeString("n|t|i"), out)

	bad := template.New(`<%= Title %>`, "bad-local.erb", newGenerator(), template.Details{Locals: []string{"Title"}})
	_, err = r.Render(template.NewContext(nil), bad, view.Locals{"Title": "t"}, nil)
	var undefined *codegen.UndefinedError
	require.ErrorAs(t, err, &undefined)
	assert.Equal(t, "Title", undefined.Name)
}

func TestStreamingBuffer(t *testing.T) {
	r := newRenderer(registry.New())
	tmpl := template.New("<% for x in items %><%= x %>,<% end %>", "stream.erb", newGenerator(),
		template.Details{Locals: []string{"items"}})
	require.True(t, tmpl.SupportsStreaming())

	var w bytes.Buffer
	out, err := r.Render(template.NewContext(nil), tmpl, view.Locals{"items": []int{1, 2, 3}}, view.NewStreamingBuffer(&w))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, "1,2,3,", w.String())
}

func TestInstrumentation(t *testing.T) {
	var mu sync.Mutex
	var events []string
	inst := instrument.Func(func(ctx context.Context, event string, p instrument.Payload, fn func() error) error {
		mu.Lock()
		events = append(events, event+":"+p.VirtualPath)
		mu.Unlock()
		return fn()
	})
	r := newRenderer(registry.New(), template.WithInstrumenter(inst))
	tmpl := template.New("x", "x.erb", newGenerator(), template.Details{VirtualPath: "x"})

	for i := 0; i < 2; i++ {
		_, err := r.Render(template.NewContext(nil), tmpl, nil, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{
		instrument.EventRender + ":x",
		instrument.EventCompile + ":x",
		instrument.EventRender + ":x",
	}, events)
}

func TestInstrumentationDoesNotMaskErrors(t *testing.T) {
	swallow := instrument.Func(func(ctx context.Context, event string, p instrument.Payload, fn func() error) error {
		return fn()
	})
	r := newRenderer(registry.New(), template.WithInstrumenter(swallow))
	tmpl := template.New("<%= nope %>", "x.erb", newGenerator(), template.Details{})

	_, err := r.Render(template.NewContext(nil), tmpl, nil, nil)
	assert.True(t, template.IsRenderError(err))
}

func TestRegistrationConflict(t *testing.T) {
	reg := registry.New()
	tmpl := template.New("x", "x.erb", newGenerator(), template.Details{})
	require.NoError(t, reg.Define(tmpl.UnitName(), "squatter", func(view.View, view.Locals, *view.Buffer) (view.SafeString, error) {
		return "", nil
	}))

	err := template.NewCompiler(reg).EnsureCompiled(context.Background(), tmpl)
	require.Error(t, err)
	assert.True(t, errors.IsCompileError(err))
	assert.True(t, stderrors.Is(err, registry.ErrUnitExists))
	assert.False(t, tmpl.Compiled())
}

func TestTemplateAttributes(t *testing.T) {
	tmpl := template.New("x", "views/a.erb", newGenerator(), template.Details{
		Formats:  []string{"json"},
		Variants: []string{"phone"},
		Locals:   []string{"a"},
	})

	assert.Equal(t, "application/json", tmpl.Type())
	assert.Equal(t, []string{"phone"}, tmpl.Variants())
	assert.Equal(t, []string{"a"}, tmpl.Locals())
	assert.False(t, tmpl.UpdatedAt().IsZero())
	assert.Equal(t, "views/a.erb", tmpl.String())

	assert.Equal(t, "", template.New("x", "y", newGenerator(), template.Details{}).Type())
}

func TestMIMEType(t *testing.T) {
	tests := map[string]string{
		"html":       "text/html",
		"text":       "text/plain",
		"js":         "text/javascript",
		"css":        "text/css",
		"xml":        "application/xml",
		"ics":        "text/calendar",
		"csv":        "text/csv",
		"text/plain": "text/plain",
		"unknown":    "unknown",
	}
	for format, want := range tests {
		assert.Equal(t, want, template.MIMEType(format), format)
	}
}
