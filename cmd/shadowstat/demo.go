package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shadowstat/internal/synth"
	"shadowstat/pkg/harness"
)

var demoOpts = synth.DefaultScenario()

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the harness on a synthetic disk scenario",
	Long: `Builds a source disk, a smooth prediction and an observation equal to the
displaced prediction plus a shadow residual and noise, then runs the full
harness. Use --amplitude 0 for a scenario without a shadow.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc := synth.NewScenario(demoOpts)
		logger.Info("synthetic scenario",
			zap.Int("size", demoOpts.Size),
			zap.Float64("amplitude", demoOpts.Amplitude),
			zap.Float64("shift_y", demoOpts.ShiftY),
			zap.Float64("shift_x", demoOpts.ShiftX))
		_, err := runHarness(cmd, harness.Inputs{
			Source:    sc.Source,
			Predicted: sc.Predicted,
			Observed:  sc.Observed,
		})
		return err
	},
}

func init() {
	f := demoCmd.Flags()
	f.IntVar(&demoOpts.Size, "size", demoOpts.Size, "Grid side in pixels")
	f.Float64Var(&demoOpts.Radius, "radius", demoOpts.Radius, "Disk radius in pixels")
	f.Float64Var(&demoOpts.Amplitude, "amplitude", demoOpts.Amplitude, "Shadow amplitude")
	f.Float64Var(&demoOpts.Noise, "noise", demoOpts.Noise, "Noise standard deviation")
	f.Float64Var(&demoOpts.ShiftY, "shift-y", demoOpts.ShiftY, "Displacement of the observation along y")
	f.Float64Var(&demoOpts.ShiftX, "shift-x", demoOpts.ShiftX, "Displacement of the observation along x")
	f.Int64Var(&demoOpts.Seed, "seed", demoOpts.Seed, "Noise seed")
}
