package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/erbview/internal/version"
)

func newVersionCommand() *cobra.Command {
	format := newChoice("text", "text", "json", "yaml")
	var short, detailed bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display version information for erbview.

Examples:
  erbview version              # Show version, commit and platform
  erbview version --short      # Show the version only
  erbview version --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			out := cmd.OutOrStdout()

			if format.String() != "text" {
				return writeReport(out, format.String(), info, "")
			}
			switch {
			case short:
				fmt.Fprintln(out, info.Short())
			case detailed:
				fmt.Fprintln(out, info.Detailed())
			default:
				fmt.Fprintf(out, "erbview %s\nGo: %s\nPlatform: %s\n", info.Short(), info.GoVersion, info.Platform)
			}
			return nil
		},
	}
	cmd.Flags().VarP(format, "format", "f", "output format (text|json|yaml)")
	cmd.Flags().BoolVar(&short, "short", false, "show the version only")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "show detailed build information")
	return cmd
}
