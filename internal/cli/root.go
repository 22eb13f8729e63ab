// Package cli implements the quanthpo command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
)

// Version is set by main from ldflags or "dev". Used for --version and the version command.
var Version string

type globalFlags struct {
	logLevel    string
	logFormat   string
	showVersion bool
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "quanthpo",
		Short:         "Search post-training quantization settings for an inference model",
		Long:          "quanthpo quantizes a float inference model under many calibration settings, scores each quantized model by the Earth Mover's Distance between its outputs and the float model's, and keeps the best one. Run a single search with `search` or host a search service with `serve`.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format (text or json); overrides the config file")
	root.Flags().BoolVarP(&g.showVersion, "version", "v", false, "Print version and exit")

	root.AddCommand(newSearchCmd(g), newServeCmd(g), newSpaceCmd(g), newVersionCmd())
	return root
}

// Execute runs the root command. Returns error for exit code handling.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(out io.Writer) {
	if Version == "" {
		Version = "dev"
	}
	fmt.Fprintln(out, Version)
}

// setupLogger installs the default logger. Flags win over the config values.
func (g *globalFlags) setupLogger(errOut io.Writer, cfgLevel, cfgFormat string) *slog.Logger {
	level, format := cfgLevel, cfgFormat
	if g.logLevel != "" {
		level = g.logLevel
	}
	if g.logFormat != "" {
		format = g.logFormat
	}
	if level == "" {
		level = "info"
	}
	l := logger.NewWithFormat(format, level, errOut)
	logger.SetDefault(l)
	return l
}
