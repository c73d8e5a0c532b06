// Package montecarlo drives resumable resampling loops over a checkpoint
// stage. Iteration i always draws from a generator seeded with BaseSeed+i,
// so the final sample set does not depend on how often a run was resumed.
package montecarlo

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"shadowstat/pkg/checkpoint"
)

// ProgressCallback is a function that reports progress of a loop
type ProgressCallback func(completed, total int, message string)

// Plan bounds a Monte-Carlo loop
type Plan struct {
	// Target is the number of scored samples after which the loop stops
	// when early stopping is disabled. The loop never stops below
	// MinSamples. Zero disables the target.
	Target int

	// MinSamples is the number of scored samples required before the stop
	// rule is consulted
	MinSamples int

	// MaxSamples stops the loop once this many scored samples exist.
	// Zero means no cap beyond the stage total.
	MaxSamples int

	EarlyStop bool
	BaseSeed  int64

	// ProgressInterval throttles progress reports; zero means 5s
	ProgressInterval time.Duration
	Progress         ProgressCallback
	Logger           *zap.Logger
}

// Sampler computes iteration idx. A nil value marks an iteration that
// produced no score.
type Sampler[T any] func(ctx context.Context, idx int, rng *rand.Rand) (*T, error)

// StopRule decides on the scored samples so far whether the loop can stop
type StopRule[T any] func(values []T) bool

// Stop reasons
const (
	ReasonResumed   = "already_complete"
	ReasonMax       = "max_samples"
	ReasonTarget    = "target"
	ReasonEarlyStop = "early_stop"
	ReasonTotal     = "total"
)

// Outcome is the state of a stage after Run
type Outcome[T any] struct {
	Values     []T
	Iterations int
	Resumed    int
	Complete   bool
	Reason     string
}

// Run continues the stage from its last recorded iteration until a stop
// condition is met or the stage total is reached. The context is checked
// between iterations only; an interrupted run can be resumed by calling Run
// again with a stage opened on the same digest.
func Run[T any](ctx context.Context, stage *checkpoint.Stage[T], plan Plan, sample Sampler[T], rule StopRule[T]) (Outcome[T], error) {
	if stage == nil {
		return Outcome[T]{}, fmt.Errorf("run: nil stage")
	}
	if sample == nil {
		return Outcome[T]{}, fmt.Errorf("run stage %q: nil sampler", stage.Name())
	}

	values := stage.Values()
	out := Outcome[T]{Resumed: stage.Iterations()}
	finish := func(reason string) Outcome[T] {
		out.Values = values
		out.Iterations = stage.Iterations()
		out.Complete = stage.Complete()
		out.Reason = reason
		return out
	}

	if stage.Complete() {
		return finish(ReasonResumed), nil
	}

	total := stage.Total()
	prog := newProgress(stage.Name(), total, stage.Iterations(), plan)

	for idx := stage.Iterations(); idx < total; idx++ {
		if err := ctx.Err(); err != nil {
			return finish(""), err
		}

		rng := rand.New(rand.NewSource(plan.BaseSeed + int64(idx)))
		v, err := sample(ctx, idx, rng)
		if err != nil {
			return finish(""), fmt.Errorf("stage %q iteration %d: %w", stage.Name(), idx, err)
		}
		if err := stage.Record(v); err != nil {
			return finish(""), err
		}
		if v != nil {
			values = append(values, *v)
		}
		prog.step()

		n := len(values)
		reason := ""
		switch {
		case plan.MaxSamples > 0 && n >= plan.MaxSamples:
			reason = ReasonMax
		case !plan.EarlyStop && plan.Target > 0 && n >= max(plan.Target, plan.MinSamples):
			reason = ReasonTarget
		case plan.EarlyStop && rule != nil && n > 0 && n >= plan.MinSamples && rule(values):
			reason = ReasonEarlyStop
		}
		if reason != "" {
			if err := stage.MarkComplete(); err != nil {
				return finish(""), err
			}
			prog.done(reason)
			return finish(reason), nil
		}
	}

	if err := stage.MarkComplete(); err != nil {
		return finish(""), err
	}
	prog.done(ReasonTotal)
	return finish(ReasonTotal), nil
}

// OneSided stops once the running one-sided p-value of observed is clearly
// small (below success) or clearly large (above failure).
func OneSided(observed, success, failure float64) StopRule[float64] {
	return func(values []float64) bool {
		p := UpperTailP(values, observed)
		return p < success || p > failure
	}
}

// UpperTailP returns (#{v >= observed} + 1) / (n + 1) with NaN samples
// counted as zero. It is NaN for an empty sample.
func UpperTailP(values []float64, observed float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	k := 0
	for _, v := range values {
		if math.IsNaN(v) {
			v = 0
		}
		if v >= observed {
			k++
		}
	}
	return float64(k+1) / float64(len(values)+1)
}

// progress reports loop advancement with an ETA, at most once per interval
// except for the first and the last step
type progress struct {
	label    string
	total    int
	count    int
	initial  int
	interval time.Duration
	start    time.Time
	last     time.Time
	callback ProgressCallback
	logger   *zap.Logger
}

func newProgress(label string, total, initial int, plan Plan) *progress {
	p := &progress{
		label:    label,
		total:    total,
		count:    initial,
		initial:  initial,
		interval: plan.ProgressInterval,
		start:    time.Now(),
		callback: plan.Progress,
		logger:   plan.Logger,
	}
	if p.interval <= 0 {
		p.interval = 5 * time.Second
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.last = p.start
	if initial > 0 {
		p.report(fmt.Sprintf("resume at %d/%d", initial, total))
		p.logger.Info("resuming stage",
			zap.String("stage", label),
			zap.Int("done", initial),
			zap.Int("total", total))
	}
	return p
}

func (p *progress) report(msg string) {
	if p.callback != nil {
		p.callback(p.count, p.total, msg)
	}
}

func (p *progress) step() {
	if p.count < p.total {
		p.count++
	}
	now := time.Now()
	first := p.count == p.initial+1
	if !first && p.count < p.total && now.Sub(p.last) < p.interval {
		return
	}
	p.last = now

	elapsed := now.Sub(p.start)
	doneHere := p.count - p.initial
	var eta time.Duration
	if doneHere > 0 {
		eta = time.Duration(float64(elapsed) / float64(doneHere) * float64(p.total-p.count))
	}
	p.report(fmt.Sprintf("%d/%d | elapsed=%s ETA=%s", p.count, p.total,
		elapsed.Round(time.Second), eta.Round(time.Second)))
	p.logger.Info("stage progress",
		zap.String("stage", p.label),
		zap.Int("done", p.count),
		zap.Int("total", p.total),
		zap.Duration("elapsed", elapsed),
		zap.Duration("eta", eta))
}

func (p *progress) done(reason string) {
	p.report("complete: " + reason)
	p.logger.Info("stage complete",
		zap.String("stage", p.label),
		zap.Int("done", p.count),
		zap.String("reason", reason),
		zap.Duration("elapsed", time.Since(p.start)))
}
