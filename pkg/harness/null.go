package harness

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shadowstat/pkg/fdr"
	"shadowstat/pkg/montecarlo"
	"shadowstat/pkg/shadow"
)

// estimateNulls evaluates the shadow statistic of every survivor and runs
// its sign-flip permutation null. Candidates run concurrently up to
// Parallelism; each writes only its own record.
func (h *Harness) estimateNulls(ctx context.Context, r *run) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Parallelism)
	for _, sc := range r.scored {
		if !sc.report.Survived {
			continue
		}
		g.Go(func() error {
			return h.candidateNull(gctx, r, sc)
		})
	}
	return g.Wait()
}

func (h *Harness) candidateNull(ctx context.Context, r *run, sc *scoredCandidate) error {
	idx := sc.report.Index
	log := r.logger.With(zap.Int("candidate", idx))

	residual := sc.observed.Like()
	for i := range residual.Data {
		residual.Data[i] = sc.observed.Data[i] - sc.aligned.Data[i]
	}
	rr, err := shadow.BuildResidualBands(residual, h.cfg.Bands)
	if err != nil {
		return fmt.Errorf("candidate %d residual bands: %w", idx, err)
	}

	signal := SignalMask(sc.sigma, residual, sc.region, h.cfg.SNQuantile)
	sc.report.SignalPixels = signal.Count()

	opts := h.cfg.Evaluator
	opts.Logger = log
	ev, err := shadow.NewEvaluator(r.source, signal, opts)
	if err != nil {
		return fmt.Errorf("candidate %d: %w", idx, err)
	}
	res, err := ev.Evaluate(rr, sc.region, true)
	if err != nil {
		return fmt.Errorf("candidate %d: %w", idx, err)
	}
	if res == nil {
		sc.report.Status, sc.report.Reason = StatusNoStatistic, "insufficient support for the shadow statistic"
		log.Info("no shadow statistic",
			zap.Int("region_pixels", sc.report.RegionPixels),
			zap.Int("signal_pixels", sc.report.SignalPixels))
		return nil
	}
	sc.result = res
	sc.report.Shadow = res

	stage := fmt.Sprintf("02_candidates/c%02d", idx)
	if err := h.dumper.SaveField(stage, "residual", residual); err != nil {
		log.Warn("failed to save residual", zap.Error(err))
	}
	if err := h.dumper.SaveMask(stage, "signal_mask", signal); err != nil {
		log.Warn("failed to save signal mask", zap.Error(err))
	}
	if err := h.dumper.SaveMask(stage, "work_mask", res.Mask); err != nil {
		log.Warn("failed to save working mask", zap.Error(err))
	}

	pcfg := h.cfg.Permutation
	if pcfg.Stage == "" {
		pcfg.Stage = montecarlo.DefaultPermutation().Stage
	}
	pcfg.Stage = fmt.Sprintf("%s_c%02d", pcfg.Stage, idx)

	perm, err := montecarlo.SignFlipPermutation(ctx, ev, residual, res.Mask, res.S, pcfg, h.store, log)
	if err != nil {
		return fmt.Errorf("candidate %d permutation: %w", idx, err)
	}
	sc.report.Permutation = &perm
	sc.report.P = perm.P
	log.Info("permutation null done",
		zap.Float64("S", res.S),
		zap.Float64("p", perm.P),
		zap.Int("n", perm.N),
		zap.String("reason", perm.Reason))
	return nil
}

// decide assigns BH q-values over the survivors and returns the one with the
// smallest q, breaking ties by the lowest primary AICc. It returns nil when
// no survivor has a finite p-value.
func (h *Harness) decide(r *run) *scoredCandidate {
	var pool []*scoredCandidate
	var ps []float64
	for _, sc := range r.scored {
		if sc.report.Survived {
			pool = append(pool, sc)
			ps = append(ps, sc.report.P)
		}
	}
	qs := fdr.BenjaminiHochberg(ps)

	var best *scoredCandidate
	for i, sc := range pool {
		sc.report.Q = qs[i]
		if math.IsNaN(qs[i]) {
			continue
		}
		if best == nil || qs[i] < best.report.Q ||
			(qs[i] == best.report.Q && sc.report.AICc.Primary < best.report.AICc.Primary) {
			best = sc
		}
	}
	if best != nil {
		r.logger.Info("best candidate",
			zap.Int("candidate", best.report.Index),
			zap.Float64("p", best.report.P),
			zap.Float64("q", best.report.Q))
	}
	return best
}
