package main

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"shadowstat/pkg/fdr"
)

var fdrAlpha float64

var fdrCmd = &cobra.Command{
	Use:   "fdr [p-values...]",
	Short: "Benjamini-Hochberg q-values for a list of p-values",
	Long: `Prints the BH q-value of every p-value given as arguments, or one per line
on stdin when no argument is given. Unparseable entries count as NaN.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := args
		if len(fields) == 0 {
			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				fields = append(fields, strings.Fields(sc.Text())...)
			}
			if err := sc.Err(); err != nil {
				return fmt.Errorf("error reading p-values: %w", err)
			}
		}

		p := make([]float64, len(fields))
		for i, s := range fields {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				v = math.NaN()
			}
			p[i] = v
		}
		q := fdr.BenjaminiHochberg(p)
		reject := fdr.Reject(q, fdrAlpha)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-6s %-12s %-12s %s\n", "index", "p", "q", "reject")
		for i := range p {
			fmt.Fprintf(out, "%-6d %-12.6g %-12.6g %v\n", i, p[i], q[i], reject[i])
		}
		return nil
	},
}

func init() {
	fdrCmd.Flags().Float64Var(&fdrAlpha, "alpha", 0.05, "FDR level")
}
