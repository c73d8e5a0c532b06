package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shadowstat/pkg/fieldio"
	"shadowstat/pkg/harness"
)

var (
	sourcePath    string
	predictedPath string
	observedPath  string
	fieldScale    float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the harness on raw field files",
	Long: `Reads three raw little-endian float64 fields, each with a .json header
holding width, height and scale, and runs the full harness.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var in harness.Inputs
		var err error
		if in.Source, err = fieldio.Read(sourcePath, fieldScale); err != nil {
			return fmt.Errorf("source: %w", err)
		}
		if in.Predicted, err = fieldio.Read(predictedPath, fieldScale); err != nil {
			return fmt.Errorf("predicted: %w", err)
		}
		if in.Observed, err = fieldio.Read(observedPath, fieldScale); err != nil {
			return fmt.Errorf("observed: %w", err)
		}
		_, err = runHarness(cmd, in)
		return err
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&sourcePath, "source", "", "Source field")
	f.StringVar(&predictedPath, "predicted", "", "Predicted field")
	f.StringVar(&observedPath, "observed", "", "Observed field")
	f.Float64Var(&fieldScale, "scale", 0, "Pixel scale override (0 keeps the header value)")
	for _, name := range []string{"source", "predicted", "observed"} {
		_ = runCmd.MarkFlagRequired(name)
	}
}
