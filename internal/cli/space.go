package cli

import (
	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/display"
	"github.com/GoSim-25-26J-441/quant-hpo/internal/space"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/config"
)

func newSpaceCmd(g *globalFlags) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "space",
		Short: "Print the hyperparameter space a config searches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			g.setupLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			sp, err := space.QuantSpace(cfg.Quantization.WeightQuantizeType, cfg.Search.Space)
			if err != nil {
				return err
			}
			display.Space(cmd.OutOrStdout(), sp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Search config file (YAML)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
