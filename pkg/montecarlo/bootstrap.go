package montecarlo

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"shadowstat/pkg/checkpoint"
	"shadowstat/pkg/mask"
	"shadowstat/pkg/shadow"
)

// BootstrapConfig controls the block bootstrap of an evaluation
type BootstrapConfig struct {
	Stage string

	// N is the number of resamples, raised to at least 32
	N    int
	Seed int64

	Progress ProgressCallback
}

// DefaultBootstrap returns the standard bootstrap settings
func DefaultBootstrap() BootstrapConfig {
	return BootstrapConfig{Stage: "shadow_boot", N: 400, Seed: 321}
}

// BootSample is one resampled evaluation
type BootSample struct {
	S  float64 `json:"S"`
	Q2 float64 `json:"Q2"`
	R  float64 `json:"R"`
}

// Summary describes the bootstrap distribution of one statistic
type Summary struct {
	Mean float64    `json:"mean"`
	Std  float64    `json:"std"`
	CI95 [2]float64 `json:"ci95"`
}

// BootstrapResult holds the per-statistic summaries. N is zero when the
// evaluation had no weighted blocks.
type BootstrapResult struct {
	N  int     `json:"n"`
	S  Summary `json:"S"`
	Q2 Summary `json:"Q2"`
	R  Summary `json:"R"`
}

// BlockBootstrap resamples the active blocks of an evaluation with
// replacement and recomputes S, Q2 and the mean resultant length from the
// block sums.
func BlockBootstrap(ctx context.Context, blocks *shadow.BlockContrib, cfg BootstrapConfig,
	store checkpoint.Store, logger *zap.Logger) (BootstrapResult, error) {
	if blocks == nil {
		return BootstrapResult{}, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Stage == "" {
		cfg.Stage = "shadow_boot"
	}
	if cfg.N < 32 {
		cfg.N = 32
	}

	var active []int
	for b, w := range blocks.Weight {
		if w > 0 {
			active = append(active, b)
		}
	}
	if len(active) == 0 {
		return BootstrapResult{}, nil
	}

	digest := checkpoint.NewDigest("shadow-boot").
		Floats("weight", blocks.Weight).
		Floats("S", blocks.S).
		Floats("Q2", blocks.Q2).
		Floats("cos", blocks.Cos).
		Floats("sin", blocks.Sin).
		Ints("active", active).
		Int("n_boot", int64(cfg.N)).
		Int("seed", cfg.Seed).
		Int("n_blocks", int64(len(active))).
		Sum()

	stage, err := checkpoint.Open[BootSample](store, cfg.Stage, digest, cfg.N, checkpoint.WithLogger(logger))
	if err != nil {
		return BootstrapResult{}, err
	}
	defer stage.Close()

	sample := func(_ context.Context, _ int, rng *rand.Rand) (*BootSample, error) {
		var w, s, q2, c, sn float64
		for range active {
			b := active[rng.Intn(len(active))]
			w += blocks.Weight[b]
			s += blocks.S[b]
			q2 += blocks.Q2[b]
			c += blocks.Cos[b]
			sn += blocks.Sin[b]
		}
		if !(w > 0) {
			return nil, nil
		}
		return &BootSample{S: s / w, Q2: q2 / w, R: math.Hypot(c/w, sn/w)}, nil
	}

	out, err := Run(ctx, stage, Plan{BaseSeed: cfg.Seed, Progress: cfg.Progress, Logger: logger}, sample, nil)
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("block bootstrap: %w", err)
	}
	if len(out.Values) == 0 {
		return BootstrapResult{}, nil
	}

	pick := func(get func(BootSample) float64) []float64 {
		vals := make([]float64, len(out.Values))
		for i, v := range out.Values {
			vals[i] = get(v)
		}
		return vals
	}
	return BootstrapResult{
		N:  len(out.Values),
		S:  summarize(pick(func(b BootSample) float64 { return b.S })),
		Q2: summarize(pick(func(b BootSample) float64 { return b.Q2 })),
		R:  summarize(pick(func(b BootSample) float64 { return b.R })),
	}, nil
}

// summarize returns the mean, population standard deviation and the
// 2.5/97.5 percentile interval
func summarize(vals []float64) Summary {
	out := Summary{Mean: math.NaN(), Std: math.NaN(), CI95: [2]float64{math.NaN(), math.NaN()}}
	finite := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return out
	}
	if m, err := stats.Mean(finite); err == nil {
		out.Mean = m
	}
	if s, err := stats.StandardDeviationPopulation(finite); err == nil {
		out.Std = s
	}
	sort.Float64s(finite)
	out.CI95[0] = mask.SortedQuantile(finite, 0.025)
	out.CI95[1] = mask.SortedQuantile(finite, 0.975)
	return out
}
