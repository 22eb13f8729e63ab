package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/display"
	"github.com/GoSim-25-26J-441/quant-hpo/internal/publish"
	"github.com/GoSim-25-26J-441/quant-hpo/internal/search"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/config"
)

type searchFlags struct {
	configPath string
	budget     int
	useJSON    bool
	trials     bool
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	f := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run one quantization search and save the best model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, g, f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Search config file (YAML)")
	cmd.Flags().IntVarP(&f.budget, "budget", "n", 0, "Maximum evaluations including the baseline (0 = search.runcount_limit)")
	cmd.Flags().BoolVar(&f.useJSON, "json", false, "Output the result as JSON")
	cmd.Flags().BoolVar(&f.trials, "progress", false, "Print each trial as it finishes")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runSearch(cmd *cobra.Command, g *globalFlags, f *searchFlags) error {
	if f.budget < 0 {
		return fmt.Errorf("--budget cannot be negative")
	}
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return err
	}
	l := g.setupLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := search.JobOptions{Budget: f.budget, Logger: l}
	if f.trials && !f.useJSON {
		out := cmd.OutOrStdout()
		opts.Progress = func(t search.Trial) {
			display.Trials(out, []search.Trial{t})
		}
	}
	job, err := search.NewJob(cfg, opts)
	if err != nil {
		return err
	}
	res, err := job.Run(ctx)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if cfg.Publish != nil && cfg.Publish.Enabled && job.Tracker.HasPromoted() {
		p, err := publish.NewFromConfig(cfg.Publish, l.With("component", "publish"))
		if err != nil {
			return err
		}
		keys, err := p.Publish(ctx, cfg.Output.Path)
		if err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		l.Info("published best model", "bucket", cfg.Publish.Bucket, "objects", len(keys))
	}

	return display.Result(cmd.OutOrStdout(), res, cfg.Output.Path, f.useJSON)
}
