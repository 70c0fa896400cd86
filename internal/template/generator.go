package template

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/conneroisu/erbview/internal/codegen"
	"github.com/conneroisu/erbview/internal/errors"
)

// Generator turns a template's source into a program.
//
// Generate is called at most once per template instance, with the
// template's compile lock held. It must not call back into the compiler.
type Generator interface {
	Generate(t *Template) (*codegen.Program, error)
	// SupportsStreaming reports whether the generated code may write into a
	// streaming buffer.
	SupportsStreaming() bool
}

// GeneratorFunc adapts a function to Generator. It does not support
// streaming.
type GeneratorFunc func(t *Template) (*codegen.Program, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(t *Template) (*codegen.Program, error) { return f(t) }

// SupportsStreaming implements Generator.
func (GeneratorFunc) SupportsStreaming() bool { return false }

// DecodeSource returns the template source as UTF-8. Sources declaring
// another encoding are transcoded first. Invalid bytes and unknown encoding
// labels fail with an encoding error.
func DecodeSource(t *Template) (string, error) {
	src, ok := t.Source()
	if !ok {
		return "", errors.NewInternalError(errors.ErrCodeInternalError, "template source has been evicted", nil).
			WithTemplate(t.identifier, t.virtualPath)
	}

	label := strings.ToLower(strings.TrimSpace(t.encoding))
	if label != "" && label != "utf-8" && label != "utf8" {
		enc, err := htmlindex.Get(label)
		if err != nil {
			return "", errors.NewEncodingError(fmt.Sprintf("unknown source encoding %q", t.encoding), err).
				WithTemplate(t.identifier, t.virtualPath)
		}
		decoded, err := enc.NewDecoder().String(src)
		if err != nil {
			return "", errors.NewEncodingError(fmt.Sprintf("source is not valid %s", t.encoding), err).
				WithTemplate(t.identifier, t.virtualPath)
		}
		src = decoded
	}

	if !utf8.ValidString(src) {
		line := 1 + strings.Count(src[:firstInvalid(src)], "\n")
		return "", errors.NewEncodingError("source contains an invalid UTF-8 byte sequence", nil).
			WithTemplate(t.identifier, t.virtualPath).WithLine(line)
	}
	return src, nil
}

func firstInvalid(s string) int {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(s)
}
