package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"shadowstat/internal/logging"
	"shadowstat/pkg/checkpoint"
	"shadowstat/pkg/config"
	"shadowstat/pkg/fieldio"
	"shadowstat/pkg/harness"
)

var (
	configPath  string
	envFiles    []string
	verbose     bool
	metricsFile string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "shadowstat",
	Short: "Shadow band-pass statistic with controls, permutation nulls and FDR",
	Long: `shadowstat tests whether the residual between an observed field and an
aligned prediction carries the shadow signature of a source field.

Candidates are scored against rotation, wrap-shift and phase-randomization
controls; survivors get a checkpointed sign-flip permutation null and the
best candidate is selected under Benjamini-Hochberg control.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" {
			return nil
		}
		var err error
		cfg, err = config.Load(configPath, envFiles...)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Output.Verbose = true
		}
		logger, err = logging.New(cfg.Output.Verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if metricsFile != "" {
			if err := prometheus.WriteToTextfile(metricsFile, prometheus.DefaultGatherer); err != nil && logger != nil {
				logger.Warn("failed to write metrics", zap.Error(err))
			}
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "shadowstat.yaml", "Configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", nil, "Environment files (default ./.env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(demoCmd, runCmd, fdrCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore opens the configured checkpoint backend
func openStore() (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "badger":
		return checkpoint.OpenBadgerStore(checkpoint.BadgerConfig{Path: cfg.Checkpoint.Dir})
	default:
		return checkpoint.NewFileStore(cfg.Checkpoint.Dir)
	}
}

// runHarness runs the configured harness on the inputs and writes the report
func runHarness(cmd *cobra.Command, in harness.Inputs) (*harness.Report, error) {
	hc, err := cfg.HarnessConfig()
	if err != nil {
		return nil, err
	}
	store, err := openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	dumper := &fieldio.Dumper{
		Dir:     filepath.Join(cfg.Output.Dir, "intermediary_results"),
		Enabled: cfg.Output.SaveIntermediaryResults,
	}
	h, err := harness.New(hc, store, harness.WithLogger(logger), harness.WithDumper(dumper))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	report, err := h.Run(cmd.Context(), in)
	if err != nil {
		return nil, err
	}

	path, err := writeReport(report)
	if err != nil {
		return nil, err
	}
	printSummary(cmd, report, time.Since(start), path)
	return report, nil
}

// writeReport stores the report as YAML; JSON cannot carry the NaN fields
func writeReport(report *harness.Report) (string, error) {
	if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
		return "", fmt.Errorf("error creating output directory: %w", err)
	}
	data, err := yaml.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("error encoding report: %w", err)
	}
	path := filepath.Join(cfg.Output.Dir, fmt.Sprintf("report_%s.yaml", report.RunID))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("error writing report: %w", err)
	}
	return path, nil
}

func printSummary(cmd *cobra.Command, report *harness.Report, elapsed time.Duration, path string) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, strings.Repeat("=", 48))
	fmt.Fprintf(out, "Outcome: %s (alpha %.3g)\n", report.Outcome, report.Alpha)
	fmt.Fprintf(out, "Candidates: %d\n", len(report.Candidates))
	for _, c := range report.Candidates {
		fmt.Fprintf(out, "  #%d sigma=%.2f wexp=%.2f maskq=%.2f  %-18s dAICc rot=%.1f shift=%.1f shuffle=%.1f\n",
			c.Index, c.SmoothSigma, c.WeightExp, c.MaskQuantile, c.Status,
			c.Deltas.Rotated, c.Deltas.Shifted, c.Deltas.Shuffled)
	}
	if b := report.Best; b != nil {
		fmt.Fprintf(out, "Best: #%d shift=(%.2f, %.2f) p=%.4g q=%.4g\n", b.Index, b.AlignDY, b.AlignDX, b.P, b.Q)
		if b.Shadow != nil {
			fmt.Fprintf(out, "  S=%.4f Q2=%.4f Rayleigh p=%.3g n=%d\n", b.Shadow.S, b.Shadow.Q2, b.Shadow.Rayleigh.P, b.Shadow.N)
		}
		if bs := b.Bootstrap; bs != nil {
			fmt.Fprintf(out, "  bootstrap S 95%% CI [%.4f, %.4f]\n", bs.S.CI95[0], bs.S.CI95[1])
		}
	}
	fmt.Fprintf(out, "Completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Fprintf(out, "Report saved to: %s\n", path)
}
