package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/erbview/internal/handlers/erb"
)

// workspace creates files under a temporary working directory.
func workspace(t *testing.T, files map[string]string) {
	t.Helper()
	prev := erb.DefaultConfig()
	t.Cleanup(func() { erb.SetDefaultConfig(prev) })

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(ConfigFileEnv, "")
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func execute(args ...string) (string, string, error) {
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

var views = map[string]string{
	"views/posts/show.html.erb": `<h1><%= title %></h1><%= render("row", localAssigns) %>`,
	"views/posts/_row.html.erb": `<p><%= title %></p>`,
	"views/notes/note.text.erb": `<%= body %>`,
	"views/bad.html.erb":        "a\n<%= nope %>\nc",
}

func TestRender(t *testing.T) {
	workspace(t, views)

	out, _, err := execute("render", "views/posts/show.html.erb", "-L", "title=<x>")
	require.NoError(t, err)
	assert.Equal(t, "<h1>&lt;x&gt;</h1><p>&lt;x&gt;</p>", out)
}

func TestRenderTextIsNotEscaped(t *testing.T) {
	workspace(t, views)

	out, _, err := execute("render", "views/notes/note.text.erb", "-L", "body=<b>")
	require.NoError(t, err)
	assert.Equal(t, "<b>", out)

	out, _, err = execute("render", "views/notes/note.text.erb", "-F", "html", "-L", "body=<b>")
	require.NoError(t, err)
	assert.Equal(t, "&lt;b&gt;", out)
}

func TestRenderLocalsFile(t *testing.T) {
	workspace(t, views)
	require.NoError(t, os.WriteFile("locals.yml", []byte("title: from file\n"), 0o644))

	out, _, err := execute("render", "views/posts/show.html.erb", "--locals-file", "locals.yml")
	require.NoError(t, err)
	assert.Equal(t, "<h1>from file</h1><p>from file</p>", out)

	out, _, err = execute("render", "views/posts/show.html.erb", "--locals-file", "locals.yml", "-L", "title=flag")
	require.NoError(t, err)
	assert.Equal(t, "<h1>flag</h1><p>flag</p>", out)
}

func TestRenderErrorReport(t *testing.T) {
	workspace(t, views)

	_, stderr, err := execute("render", "views/bad.html.erb")
	require.Error(t, err)
	assert.Contains(t, stderr, `undefined local variable or method "nope"`)
	assert.Contains(t, stderr, "in bad")
	assert.Contains(t, stderr, "1: a\n2: <%= nope %>\n3: c\n")
}

func TestRenderInvalidLocal(t *testing.T) {
	workspace(t, views)

	_, _, err := execute("render", "views/posts/show.html.erb", "-L", "title")
	assert.ErrorContains(t, err, "want key=value")
}

func TestCompile(t *testing.T) {
	workspace(t, views)

	out, _, err := execute("compile", "views/posts/_row.html.erb", "-L", "title=")
	require.NoError(t, err)
	assert.Equal(t, "text \"<p>\"\nescape title\ntext \"</p>\"\n", out)

	out, _, err = execute("compile", "views/posts/_row.html.erb", "-L", "title=", "-o", "json")
	require.NoError(t, err)
	var report compileReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "erb", report.Handler)
	assert.Equal(t, "posts/_row", report.VirtualPath)
	assert.Equal(t, "text/html", report.Type)
	assert.Equal(t, []string{"title"}, report.Locals)
	assert.True(t, strings.HasPrefix(report.Unit, "_"))
	require.Len(t, report.Instructions, 3)
	assert.Equal(t, "escape", report.Instructions[1].Op)

	out, _, err = execute("compile", "views/posts/_row.html.erb", "-o", "yaml")
	require.NoError(t, err)
	var fromYAML compileReport
	require.NoError(t, yaml.Unmarshal([]byte(out), &fromYAML))
	assert.Equal(t, "erb", fromYAML.Handler)

	out, _, err = execute("compile", "views/posts/_row.html.erb", "-o", "msgpack")
	require.NoError(t, err)
	var fromMsgpack compileReport
	require.NoError(t, msgpack.Unmarshal([]byte(out), &fromMsgpack))
	assert.Len(t, fromMsgpack.Instructions, 3)

	_, _, err = execute("compile", "views/posts/_row.html.erb", "-o", "xml")
	assert.ErrorContains(t, err, "must be one of")
}

func TestCompileError(t *testing.T) {
	workspace(t, map[string]string{"views/broken.html.erb": "<% if x %>open"})

	_, _, err := execute("compile", "views/broken.html.erb")
	assert.Error(t, err)
}

func TestHandlers(t *testing.T) {
	workspace(t, nil)

	out, _, err := execute("handlers")
	require.NoError(t, err)
	assert.Contains(t, out, "Extension")
	assert.Contains(t, out, "Streaming")
	assert.Regexp(t, `erb\s+true\s+\*`, out)
	assert.Regexp(t, `raw\s+false`, out)

	out, _, err = execute("handlers", "-o", "json")
	require.NoError(t, err)
	var infos []handlerInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	assert.Len(t, infos, 3)
}

func TestConfigFile(t *testing.T) {
	workspace(t, map[string]string{
		".erbview.yml": "template:\n  default_handler: raw\n",
		"custom.yml":   "log:\n  format: xml\n",
	})

	out, _, err := execute("handlers", "-o", "json")
	require.NoError(t, err)
	var infos []handlerInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	for _, info := range infos {
		assert.Equal(t, info.Extension == "raw", info.Default, info.Extension)
	}

	_, _, err = execute("handlers", "--config", "custom.yml")
	assert.ErrorContains(t, err, "unknown format")

	t.Setenv(ConfigFileEnv, "custom.yml")
	_, _, err = execute("handlers")
	assert.ErrorContains(t, err, "unknown format")

	_, _, err = execute("handlers", "--config", "missing.yml")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	workspace(t, nil)

	out, _, err := execute("version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "erbview "))

	out, _, err = execute("version", "--format", "json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "go_version")
}

func TestParseLocals(t *testing.T) {
	f := TemplateFlags{Locals: []string{"a=1", "b==x", " c = y"}}
	locals, err := f.ParseLocals()
	require.NoError(t, err)
	assert.Equal(t, "1", locals["a"])
	assert.Equal(t, "=x", locals["b"])
	assert.Equal(t, " y", locals["c"])

	_, err = (&TemplateFlags{Locals: []string{"=v"}}).ParseLocals()
	assert.Error(t, err)
	_, err = (&TemplateFlags{LocalsFile: "missing.yml"}).ParseLocals()
	assert.Error(t, err)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRenderWatch(t *testing.T) {
	workspace(t, views)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := NewRootCommand()
	var out, errOut syncBuffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"render", "views/posts/show.html.erb", "-L", "title=x", "--root", "views", "--watch", "--log-level", "debug"})

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(errOut.String(), "Watching for template changes")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "<h1>x</h1><p>x</p>")

	require.NoError(t, os.WriteFile("views/posts/_row.html.erb", []byte(`<p>changed <%= title %></p>`), 0o644))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "<p>changed x</p>")
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(errOut.String(), "Registry changed")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}
