package view

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// SafeString is text that has already been escaped for its output context
// and is written to a Buffer verbatim.
type SafeString string

// String implements fmt.Stringer.
func (s SafeString) String() string { return string(s) }

// Escaper escapes untrusted text for the buffer's output context.
type Escaper func(string) string

// Buffer collects rendered output. A Buffer created with NewBuffer retains
// everything written to it; a streaming Buffer forwards writes to its sink
// and retains nothing.
type Buffer struct {
	mu   sync.Mutex
	sb   strings.Builder
	sink io.Writer
	err  error
}

// NewBuffer returns an empty in-memory buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// NewStreamingBuffer returns a buffer that writes through to w.
func NewStreamingBuffer(w io.Writer) *Buffer {
	return &Buffer{sink: w}
}

// Streaming reports whether the buffer forwards to a sink.
func (b *Buffer) Streaming() bool { return b.sink != nil }

// AppendSafe writes s without escaping.
func (b *Buffer) AppendSafe(s string) {
	if s == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return
	}
	if b.sink != nil {
		_, b.err = io.WriteString(b.sink, s)
		return
	}
	b.sb.WriteString(s)
}

// Append writes v, escaping it with esc unless v is a SafeString or esc is nil.
func (b *Buffer) Append(v any, esc Escaper) {
	switch s := v.(type) {
	case nil:
		return
	case SafeString:
		b.AppendSafe(string(s))
		return
	}
	text := ToString(v)
	if esc != nil {
		text = esc(text)
	}
	b.AppendSafe(text)
}

// String returns the retained content. It is empty for streaming buffers.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

// Err returns the first error reported by the sink of a streaming buffer.
func (b *Buffer) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// ToString converts an arbitrary value to the text written for it.
func ToString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case SafeString:
		return string(s)
	case []byte:
		return string(s)
	case fmt.Stringer:
		return s.String()
	case error:
		return s.Error()
	default:
		return fmt.Sprint(v)
	}
}
