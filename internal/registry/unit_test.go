package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/erbview/internal/view"
)

func constUnit(s string) Unit {
	return func(v view.View, locals view.Locals, buf *view.Buffer) (view.SafeString, error) {
		buf.AppendSafe(s)
		return view.SafeString(buf.String()), nil
	}
}

func TestNew(t *testing.T) {
	reg := New()

	assert.NotNil(t, reg)
	assert.NotNil(t, reg.units)
	assert.NotNil(t, reg.watchers)
	assert.Equal(t, 0, reg.Count())
	assert.Empty(t, reg.Names())
}

func TestRegistry_DefineAndInvoke(t *testing.T) {
	reg := New()

	require.NoError(t, reg.Define("_hello__1", "hello.erb", constUnit("Hello")))

	assert.True(t, reg.Has("_hello__1"))
	assert.Equal(t, 1, reg.Count())

	info, ok := reg.Get("_hello__1")
	require.True(t, ok)
	assert.Equal(t, "hello.erb", info.Identifier)
	assert.False(t, info.DefinedAt.IsZero())

	out, err := reg.Invoke(view.NewBase(), "_hello__1", nil, view.NewBuffer())
	require.NoError(t, err)
	assert.Equal(t, view.SafeString("Hello"), out)
}

func TestRegistry_DefineRejectsDuplicates(t *testing.T) {
	reg := New()

	require.NoError(t, reg.Define("unit", "a", constUnit("a")))
	err := reg.Define("unit", "b", constUnit("b"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnitExists))

	out, err := reg.Invoke(view.NewBase(), "unit", nil, view.NewBuffer())
	require.NoError(t, err)
	assert.Equal(t, view.SafeString("a"), out, "first definition must win")
}

func TestRegistry_DefineValidation(t *testing.T) {
	reg := New()

	assert.Error(t, reg.Define("", "x", constUnit("x")))
	assert.Error(t, reg.Define("x", "x", nil))
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_InvokeMissing(t *testing.T) {
	reg := New()

	_, err := reg.Invoke(view.NewBase(), "missing", nil, view.NewBuffer())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnitNotFound))
}

func TestRegistry_Remove(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Define("unit", "a", constUnit("a")))

	assert.True(t, reg.Remove("unit"))
	assert.False(t, reg.Has("unit"))
	assert.False(t, reg.Remove("unit"), "second remove is a no-op")

	// The name can be reused once removed.
	require.NoError(t, reg.Define("unit", "b", constUnit("b")))
}

func TestRegistry_Watch(t *testing.T) {
	reg := New()
	events := reg.Watch()

	require.NoError(t, reg.Define("unit", "a", constUnit("a")))
	reg.Remove("unit")
	reg.Remove("unit")

	first := <-events
	second := <-events
	assert.Equal(t, EventTypeDefined, first.Type)
	assert.Equal(t, "unit", first.Name)
	assert.Equal(t, EventTypeRemoved, second.Type)
	assert.Equal(t, "removed", second.Type.String())

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %v", ev)
	default:
	}

	reg.UnWatch(events)
	_, open := <-events
	assert.False(t, open)
}

func TestRegistry_ConcurrentDefine(t *testing.T) {
	reg := New()

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("unit_%d", i)
			assert.NoError(t, reg.Define(name, name, constUnit(name)))
			_, err := reg.Invoke(view.NewBase(), name, nil, view.NewBuffer())
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, reg.Count())
	assert.Len(t, reg.Names(), n)
}
