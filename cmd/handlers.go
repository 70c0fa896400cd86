package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type handlerInfo struct {
	Extension string `json:"extension" yaml:"extension" msgpack:"extension"`
	Streaming bool   `json:"streaming" yaml:"streaming" msgpack:"streaming"`
	Default   bool   `json:"default" yaml:"default" msgpack:"default"`
}

func newHandlersCommand(v *viper.Viper) *cobra.Command {
	output := newChoice("table", "table", "json", "yaml")

	cmd := &cobra.Command{
		Use:   "handlers",
		Short: "List registered template handlers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEngine(cmd.Context(), v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()

			def, _ := e.handlers.Default()
			var infos []handlerInfo
			for _, ext := range e.handlers.Extensions() {
				gen, _ := e.handlers.For(ext)
				infos = append(infos, handlerInfo{
					Extension: ext,
					Streaming: gen.SupportsStreaming(),
					Default:   ext == def,
				})
			}

			if output.String() != "table" {
				return writeReport(cmd.OutOrStdout(), output.String(), infos, "")
			}

			title := cases.Title(language.English)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, strings.Join([]string{
				title.String("extension"), title.String("streaming"), title.String("default"),
			}, "\t"))
			for _, info := range infos {
				mark := ""
				if info.Default {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%t\t%s\n", info.Extension, info.Streaming, mark)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().VarP(output, "output", "o", "output format (table|json|yaml)")
	return cmd
}
