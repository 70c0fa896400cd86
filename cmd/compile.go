package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/erbview/internal/codegen"
)

// compileReport describes the unit generated for one template.
type compileReport struct {
	Identifier   string                `json:"identifier" yaml:"identifier" msgpack:"identifier"`
	VirtualPath  string                `json:"virtual_path,omitempty" yaml:"virtual_path,omitempty" msgpack:"virtual_path,omitempty"`
	Handler      string                `json:"handler" yaml:"handler" msgpack:"handler"`
	Format       string                `json:"format,omitempty" yaml:"format,omitempty" msgpack:"format,omitempty"`
	Type         string                `json:"type,omitempty" yaml:"type,omitempty" msgpack:"type,omitempty"`
	Unit         string                `json:"unit" yaml:"unit" msgpack:"unit"`
	Locals       []string              `json:"locals,omitempty" yaml:"locals,omitempty" msgpack:"locals,omitempty"`
	Instructions []codegen.Instruction `json:"instructions" yaml:"instructions" msgpack:"instructions"`
}

func newCompileCommand(v *viper.Viper) *cobra.Command {
	var f TemplateFlags
	output := newChoice("text", "text", "json", "yaml", "msgpack")

	cmd := &cobra.Command{
		Use:   "compile <file>",
		Short: "Print the code generated for a template",
		Long: `Compile a template and print its generated program.

The text output is the program listing. json, yaml and msgpack outputs
describe the compiled unit together with its instructions.

Examples:
  erbview compile views/posts/show.html.erb
  erbview compile views/posts/show.html.erb -L title= -o yaml`,
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

			t, handler, err := e.loadTemplate(args[0], &f, localNames(locals))
			if err != nil {
				return err
			}
			program, err := t.Generator().Generate(t)
			if err != nil {
				e.errors.Handle(cmd.Context(), err)
				return err
			}
			if err := e.renderer.Compiler().EnsureCompiled(cmd.Context(), t); err != nil {
				e.errors.Handle(cmd.Context(), err)
				return err
			}

			report := compileReport{
				Identifier:   t.Identifier(),
				VirtualPath:  t.VirtualPath(),
				Handler:      handler,
				Format:       t.Format(),
				Type:         t.Type(),
				Unit:         t.UnitName(),
				Locals:       t.Locals(),
				Instructions: program.Instructions(),
			}
			return writeReport(cmd.OutOrStdout(), output.String(), report, program.Source())
		},
	}
	addTemplateFlags(cmd, v, &f)
	cmd.Flags().VarP(output, "output", "o", "output format (text|json|yaml|msgpack)")
	return cmd
}

func writeReport(w io.Writer, format string, report any, text string) error {
	switch format {
	case "text":
		_, err := io.WriteString(w, text)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	case "msgpack":
		return msgpack.NewEncoder(w).Encode(report)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
