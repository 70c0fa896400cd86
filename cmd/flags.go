package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/erbview/internal/view"
)

// bindFlags binds flags to viper configuration keys.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, bindings map[string]string) {
	for flagName, key := range bindings {
		if flag := flags.Lookup(flagName); flag != nil {
			_ = v.BindPFlag(key, flag)
		}
	}
}

// choiceValue is a string flag restricted to a fixed set of values.
type choiceValue struct {
	value   string
	choices []string
}

var _ pflag.Value = (*choiceValue)(nil)

func newChoice(def string, choices ...string) *choiceValue {
	return &choiceValue{value: def, choices: choices}
}

func (c *choiceValue) String() string { return c.value }

func (c *choiceValue) Set(s string) error {
	for _, choice := range c.choices {
		if s == choice {
			c.value = s
			return nil
		}
	}
	return fmt.Errorf("must be one of: %s", strings.Join(c.choices, ", "))
}

func (c *choiceValue) Type() string { return "string" }

// TemplateFlags select a template file and the locals it is rendered with.
type TemplateFlags struct {
	Format      string
	Locals      []string
	LocalsFile  string
	VirtualPath string
	Roots       []string
	Watch       bool
}

func addTemplateFlags(cmd *cobra.Command, v *viper.Viper, f *TemplateFlags) {
	flags := cmd.Flags()
	flags.StringVarP(&f.Format, "format", "F", "", "template format (default from the file name)")
	flags.StringArrayVarP(&f.Locals, "local", "L", nil, "local assignment key=value (repeatable)")
	flags.StringVar(&f.LocalsFile, "locals-file", "", "YAML file holding a map of locals")
	flags.StringVar(&f.VirtualPath, "virtual-path", "", "virtual path of the template (default from the file path under a root)")
	flags.StringSliceVar(&f.Roots, "root", nil, "lookup roots for partials (default from lookup.roots)")
	flags.BoolVarP(&f.Watch, "watch", "w", false, "re-render when templates change")
	bindFlags(v, flags, map[string]string{
		"root":  "lookup.roots",
		"watch": "watch.enabled",
	})
}

// ParseLocals merges the locals file with key=value assignments, the
// latter taking precedence.
func (f *TemplateFlags) ParseLocals() (view.Locals, error) {
	locals := view.Locals{}

	if f.LocalsFile != "" {
		data, err := os.ReadFile(f.LocalsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read locals file %s: %w", f.LocalsFile, err)
		}
		var fromFile map[string]any
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return nil, fmt.Errorf("invalid YAML in locals file %s: %w", f.LocalsFile, err)
		}
		for k, val := range fromFile {
			locals[k] = val
		}
	}

	for _, assignment := range f.Locals {
		key, val, ok := strings.Cut(assignment, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid local %q, want key=value", assignment)
		}
		locals[strings.TrimSpace(key)] = val
	}
	return locals, nil
}

func localNames(locals view.Locals) []string {
	names := make([]string, 0, len(locals))
	for k := range locals {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
