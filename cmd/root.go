// Package cmd provides the erbview command-line interface.
//
// Configuration is read, in increasing priority, from .erbview.yml (or the
// file named by --config or ERBVIEW_CONFIG_FILE), ERBVIEW_<SECTION>_<KEY>
// environment variables, and command-line flags.
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/erbview/internal/config"
)

// ConfigFileEnv names a configuration file when --config is not given.
const ConfigFileEnv = "ERBVIEW_CONFIG_FILE"

// NewRootCommand builds the command tree. Each tree owns its viper instance.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "erbview",
		Short: "Compile and render ERB-style view templates",
		Long: `erbview compiles view templates into cached executable units and renders
them against a view context.

Examples:
  erbview render views/posts/show.html.erb -L title=Hello
  erbview compile views/posts/show.html.erb -o json
  erbview handlers`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			file := cfgFile
			if file == "" {
				file = os.Getenv(ConfigFileEnv)
			}
			config.Setup(v, file)
			return config.Read(v)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .erbview.yml, can also use "+ConfigFileEnv+")")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.String("instrument", config.InstrumentNone, "instrumentation mode (none, log, otel)")
	flags.String("otel-endpoint", "", "OTLP/HTTP collector URL for --instrument otel")
	bindFlags(v, flags, map[string]string{
		"log-level":     "log.level",
		"log-format":    "log.format",
		"instrument":    "instrumentation.mode",
		"otel-endpoint": "instrumentation.endpoint",
	})

	root.AddCommand(
		newRenderCommand(v),
		newCompileCommand(v),
		newHandlersCommand(v),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command line.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
