//go:build property

package codegen

import (
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/erbview/internal/view"
)

func render(p *Program, bound []string, locals view.Locals) (string, error) {
	body, err := Compile(p, bound)
	if err != nil {
		return "", err
	}
	buf := view.NewBuffer()
	if err := body(view.NewBase(), locals, buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// TestCodegenProperties validates invariants of compiled programs
func TestCodegenProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("text renders verbatim", prop.ForAll(
		func(text string) bool {
			b := NewBuilder()
			b.Text(text, 1)
			p, err := b.Finish()
			if err != nil {
				return false
			}
			out, err := render(p, nil, nil)
			return err == nil && out == text
		},
		gen.AnyString(),
	))

	properties.Property("escaped output has no markup", prop.ForAll(
		func(value string) bool {
			b := NewBuilder()
			if err := b.Output("value", true, 1); err != nil {
				return false
			}
			p, err := b.Finish()
			if err != nil {
				return false
			}
			out, err := render(p, []string{"value"}, view.Locals{"value": value})
			return err == nil && !strings.ContainsAny(out, `<>"'`)
		},
		gen.AnyString(),
	))

	properties.Property("raw output is verbatim", prop.ForAll(
		func(value string) bool {
			b := NewBuilder()
			if err := b.Output("value", false, 1); err != nil {
				return false
			}
			p, err := b.Finish()
			if err != nil {
				return false
			}
			out, err := render(p, []string{"value"}, view.Locals{"value": value})
			return err == nil && out == value
		},
		gen.AnyString(),
	))

	properties.Property("valid locals are lower-case identifiers", prop.ForAll(
		func(name string) bool {
			if !IsValidLocal(name) {
				return true
			}
			r, _ := utf8.DecodeRuneInString(name)
			return !unicode.IsUpper(r) && !unicode.IsDigit(r) && !reserved[name]
		},
		gen.AnyString(),
	))

	properties.Property("bound locals resolve to their values", prop.ForAll(
		func(name string, value int) bool {
			if !IsValidLocal(name) {
				return true
			}
			b := NewBuilder()
			if err := b.Output(name, false, 1); err != nil {
				return false
			}
			p, err := b.Finish()
			if err != nil {
				return false
			}
			out, err := render(p, []string{name}, view.Locals{name: value})
			return err == nil && out == view.ToString(value)
		},
		gen.Identifier(),
		gen.Int(),
	))

	properties.TestingRun(t)
}
