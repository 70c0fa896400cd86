package template

import (
	"sort"
	"strings"
	"sync"
)

var (
	typesMu sync.RWMutex
	types   = map[string]string{
		"html": "text/html",
		"text": "text/plain",
		"js":   "text/javascript",
		"css":  "text/css",
		"json": "application/json",
		"xml":  "application/xml",
		"ics":  "text/calendar",
		"csv":  "text/csv",
	}
)

// MIMEType maps a format symbol to its MIME type. Unknown symbols, including
// MIME types themselves, are returned unchanged.
func MIMEType(format string) string {
	typesMu.RLock()
	defer typesMu.RUnlock()
	if t, ok := types[format]; ok {
		return t
	}
	return format
}

// RegisterType adds or replaces a format symbol.
func RegisterType(format, mime string) {
	typesMu.Lock()
	defer typesMu.Unlock()
	types[strings.ToLower(format)] = mime
}

// Formats returns the registered format symbols in sorted order.
func Formats() []string {
	typesMu.RLock()
	defer typesMu.RUnlock()
	out := make([]string, 0, len(types))
	for f := range types {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// IsFormat reports whether format is a registered symbol.
func IsFormat(format string) bool {
	typesMu.RLock()
	defer typesMu.RUnlock()
	_, ok := types[format]
	return ok
}
