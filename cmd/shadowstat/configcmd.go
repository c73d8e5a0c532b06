package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shadowstat/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.CreateDefaultConfigFile(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to: %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration after env overrides",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		hc, err := cfg.HarnessConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "bands: %d, candidates: %d, alpha: %g\n",
			len(hc.Bands), len(hc.SmoothSigmas)*len(hc.WeightExps)*len(hc.MaskQuantiles), hc.Alpha)
		fmt.Fprintf(out, "kernel: %s, permutation total: %d, checkpoint: %s (%s)\n",
			hc.Evaluator.Kernel.Name(), hc.Permutation.Total(), cfg.Checkpoint.Dir, cfg.Checkpoint.Backend)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)
}
