package view

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

type stamp struct{}

func (stamp) String() string { return "stamp" }

func TestBufferAppend(t *testing.T) {
	buf := NewBuffer()
	upper := Escaper(strings.ToUpper)

	buf.Append("a", upper)
	buf.Append(SafeString("b"), upper)
	buf.Append("c", nil)
	buf.Append(nil, upper)
	buf.Append(42, nil)
	buf.Append(stamp{}, nil)
	buf.AppendSafe("")

	assert.Equal(t, "Abc42stamp", buf.String())
	assert.False(t, buf.Streaming())
	assert.NoError(t, buf.Err())
}

func TestStreamingBuffer(t *testing.T) {
	var sb strings.Builder
	buf := NewStreamingBuffer(&sb)

	buf.AppendSafe("x")
	buf.Append("y", nil)

	assert.True(t, buf.Streaming())
	assert.Equal(t, "xy", sb.String())
	assert.Empty(t, buf.String())
}

func TestStreamingBufferKeepsFirstError(t *testing.T) {
	boom := errors.New("closed")
	buf := NewStreamingBuffer(failingWriter{err: boom})

	buf.AppendSafe("a")
	buf.AppendSafe("b")
	assert.Same(t, boom, buf.Err())
}

func TestBufferConcurrentAppend(t *testing.T) {
	buf := NewBuffer()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf.AppendSafe("x")
		}()
	}
	wg.Wait()
	assert.Len(t, buf.String(), 50)
}

func TestToString(t *testing.T) {
	assert.Equal(t, "", ToString(nil))
	assert.Equal(t, "s", ToString("s"))
	assert.Equal(t, "b", ToString([]byte("b")))
	assert.Equal(t, "e", ToString(errors.New("e")))
	assert.Equal(t, "1.5", ToString(1.5))
	assert.Equal(t, "[1 2]", ToString([]int{1, 2}))
}

type ctxKey struct{}

func TestBase(t *testing.T) {
	ctx := context.WithValue(context.Background(), ctxKey{}, "v")
	buf := NewBuffer()
	b := NewBase(WithContext(ctx), WithBuffer(buf), WithHelper("greet", func(v View, args ...any) (any, error) {
		return fmt.Sprint("hello ", args[0]), nil
	}))

	assert.Equal(t, "v", b.Context().Value(ctxKey{}))
	assert.Same(t, buf, b.OutputBuffer())

	b.SetVirtualPath("a/b")
	assert.Equal(t, "a/b", b.VirtualPath())

	fn, ok := b.Helper("greet")
	require.True(t, ok)
	out, err := fn(b, "you")
	require.NoError(t, err)
	assert.Equal(t, "hello you", out)

	_, ok = b.Helper("missing")
	assert.False(t, ok)

	b.RegisterHelper("missing", func(View, ...any) (any, error) { return nil, nil })
	_, ok = b.Helper("missing")
	assert.True(t, ok)
}

func TestZeroBase(t *testing.T) {
	var b Base
	assert.NotNil(t, b.Context())
	b.RegisterHelper("x", func(View, ...any) (any, error) { return nil, nil })
	_, ok := b.Helper("x")
	assert.True(t, ok)
}
