package montecarlo

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"shadowstat/internal/models"
	"shadowstat/pkg/checkpoint"
	"shadowstat/pkg/mask"
	"shadowstat/pkg/shadow"
)

// PermutationConfig controls the block sign-flip null distribution
type PermutationConfig struct {
	// Stage names the checkpoint stage
	Stage string

	Target    int
	Min       int
	Max       int
	EarlyStop bool
	Success   float64
	Failure   float64
	Seed      int64

	// BlockSize is the side of the sign-flip blocks. Zero uses the
	// evaluator's block size, falling back to 16.
	BlockSize int

	Progress ProgressCallback
}

// DefaultPermutation returns the standard permutation budget
func DefaultPermutation() PermutationConfig {
	return PermutationConfig{
		Stage:   "shadow_perm",
		Target:  5000,
		Min:     10000,
		Success: 0.02,
		Failure: 0.20,
		Seed:    123,
	}
}

// Total is the hard iteration cap of the stage
func (c PermutationConfig) Total() int {
	total := c.Max
	if total <= 0 {
		total = c.Target
		if c.Min > total {
			total = c.Min
		}
	}
	if total < 8 {
		total = 8
	}
	return total
}

// PermutationResult summarizes the null samples of S
type PermutationResult struct {
	N    int     `json:"n"`
	P    float64 `json:"p_perm_one_sided_pos"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`

	Iterations int    `json:"iterations"`
	Reason     string `json:"reason,omitempty"`
}

// SignFlipPermutation estimates the null distribution of S by multiplying the
// residual with independent random signs per spatial block, rebuilding the
// residual bands and evaluating over region without cleaning. The one-sided
// p-value counts null samples at or above observed.
func SignFlipPermutation(ctx context.Context, ev *shadow.Evaluator, residual *models.Field, region *models.Mask,
	observed float64, cfg PermutationConfig, store checkpoint.Store, logger *zap.Logger) (PermutationResult, error) {
	if ev == nil {
		return PermutationResult{}, fmt.Errorf("permutation: nil evaluator")
	}
	if err := residual.Validate(); err != nil {
		return PermutationResult{}, fmt.Errorf("permutation residual: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Stage == "" {
		cfg.Stage = "shadow_perm"
	}

	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = ev.Options().BlockSize
	}
	if blockSize <= 0 {
		blockSize = 16
	}

	total := cfg.Total()
	digest := PermutationDigest(ev, residual, region, observed, cfg, blockSize)
	stage, err := checkpoint.Open[float64](store, cfg.Stage, digest, total, checkpoint.WithLogger(logger))
	if err != nil {
		return PermutationResult{}, err
	}
	defer stage.Close()

	bands := ev.Bands()
	ids, nBlocks := mask.BlockIDs(residual.Width, residual.Height, blockSize)

	sample := func(_ context.Context, _ int, rng *rand.Rand) (*float64, error) {
		signs := make([]float64, nBlocks)
		for b := range signs {
			signs[b] = 1
			if rng.Intn(2) == 0 {
				signs[b] = -1
			}
		}
		flipped := residual.Like()
		for i, v := range residual.Data {
			flipped.Data[i] = v * signs[ids[i]]
		}
		rr, err := shadow.BuildResidualBands(flipped, bands)
		if err != nil {
			return nil, err
		}
		res, err := ev.Evaluate(rr, region, false)
		if err != nil || res == nil {
			return nil, err
		}
		s := res.S
		return &s, nil
	}

	plan := Plan{
		Target:     cfg.Target,
		MinSamples: cfg.Min,
		MaxSamples: cfg.Max,
		EarlyStop:  cfg.EarlyStop,
		BaseSeed:   cfg.Seed,
		Progress:   cfg.Progress,
		Logger:     logger,
	}
	if plan.MaxSamples <= 0 {
		plan.MaxSamples = total
	}

	out, err := Run(ctx, stage, plan, sample, OneSided(observed, cfg.Success, cfg.Failure))
	if err != nil {
		return PermutationResult{}, err
	}
	return summarizeNull(out.Values, observed, out.Iterations, out.Reason), nil
}

// PermutationDigest identifies a permutation run by every input that
// changes its samples or its stopping point
func PermutationDigest(ev *shadow.Evaluator, residual *models.Field, region *models.Mask,
	observed float64, cfg PermutationConfig, blockSize int) string {
	d := checkpoint.NewDigest("shadow-perm").
		Field("residual", residual).
		Mask("region", region).
		Int("block_size", int64(blockSize)).
		Int("target", int64(cfg.Target)).
		Int("min", int64(cfg.Min)).
		Int("max", int64(cfg.Max)).
		Int("total", int64(cfg.Total())).
		Bool("early_stop", cfg.EarlyStop).
		Int("seed", cfg.Seed)
	if cfg.EarlyStop {
		d.Float("observed", observed).
			Float("success", cfg.Success).
			Float("failure", cfg.Failure)
	}
	return ev.DigestInto(d).Sum()
}

func summarizeNull(values []float64, observed float64, iterations int, reason string) PermutationResult {
	res := PermutationResult{
		N:          len(values),
		P:          math.NaN(),
		Mean:       math.NaN(),
		Std:        math.NaN(),
		Iterations: iterations,
		Reason:     reason,
	}
	if len(values) == 0 {
		return res
	}
	res.P = UpperTailP(values, observed)

	finite := make(stats.Float64Data, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if mean, err := stats.Mean(finite); err == nil {
		res.Mean = mean
	}
	if std, err := stats.StandardDeviationPopulation(finite); err == nil {
		res.Std = std
	}
	return res
}
