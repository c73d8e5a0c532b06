// Package harness scores candidate configurations of a predicted field
// against an observation, rejects candidates that do not beat the rotation,
// shift and phase-randomization controls, estimates a permutation null for
// the survivors and selects the best candidate under FDR control.
//
// The harness runs as a small state machine:
//
//	CANDIDATE_GENERATION -> CONTROL_SCORING -> NULL_DISTRIBUTION ->
//	SIGNIFICANCE_DECISION -> ACCEPTED | NO_SIGNIFICANT_CANDIDATE
//
// Every visited state is recorded in the report trace. Failing to find a
// significant candidate is a reported outcome, not an error.
package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"shadowstat/internal/models"
	"shadowstat/pkg/checkpoint"
	"shadowstat/pkg/fieldio"
	"shadowstat/pkg/montecarlo"
	"shadowstat/pkg/registration"
	"shadowstat/pkg/shadow"
	"shadowstat/pkg/spectral"
)

// State is a step of the harness state machine
type State string

const (
	StateCandidateGeneration    State = "CANDIDATE_GENERATION"
	StateControlScoring         State = "CONTROL_SCORING"
	StateNullDistribution       State = "NULL_DISTRIBUTION"
	StateSignificanceDecision   State = "SIGNIFICANCE_DECISION"
	StateAccepted               State = "ACCEPTED"
	StateNoSignificantCandidate State = "NO_SIGNIFICANT_CANDIDATE"
)

// Config holds the harness parameters
type Config struct {
	Bands     []spectral.BandSpec
	Evaluator shadow.Options

	// Candidate grid
	SmoothSigmas  []float64
	WeightExps    []float64
	MaskQuantiles []float64

	// Region construction
	TrimFrac  float64
	TrimIter  int
	MinRegion int

	// Noise model: sigma = sqrt(max(Sigma0^2 + SigmaCoeff*max(source,0), (0.1*Sigma0)^2))
	Sigma0     float64
	SigmaCoeff float64
	MaxLag     int

	// SNQuantile is the sigma quantile over the region above which pixels
	// are left out of the shadow statistic's signal mask
	SNQuantile float64

	// Registration and controls
	Subpixel    bool
	Support     int
	WrapShift   [2]int
	ControlSeed int64

	Permutation montecarlo.PermutationConfig

	// Bootstrap runs a block bootstrap of the selected candidate when enabled
	Bootstrap    montecarlo.BootstrapConfig
	RunBootstrap bool

	Alpha float64

	// Parallelism bounds how many candidate nulls run at once
	Parallelism int
}

// DefaultConfig returns the standard harness parameters for the given bands
func DefaultConfig(bands []spectral.BandSpec) Config {
	return Config{
		Bands:         bands,
		Evaluator:     shadow.DefaultOptions(),
		SmoothSigmas:  []float64{1.0},
		WeightExps:    []float64{0, 1},
		MaskQuantiles: []float64{0.5},
		TrimFrac:      0.05,
		TrimIter:      1,
		MinRegion:     10,
		Sigma0:        0.3,
		SigmaCoeff:    0,
		MaxLag:        8,
		SNQuantile:    0.9,
		Subpixel:      true,
		Support:       3,
		WrapShift:     registration.DefaultWrapShift,
		ControlSeed:   42,
		Permutation:   montecarlo.DefaultPermutation(),
		Bootstrap:     montecarlo.DefaultBootstrap(),
		Alpha:         0.05,
		Parallelism:   1,
	}
}

// Validate checks the configuration before any numeric work
func (c Config) Validate() error {
	if len(c.Bands) == 0 {
		return fmt.Errorf("harness: at least one band is required")
	}
	for _, b := range c.Bands {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	if len(c.SmoothSigmas) == 0 || len(c.WeightExps) == 0 || len(c.MaskQuantiles) == 0 {
		return fmt.Errorf("harness: candidate grid is empty")
	}
	for _, q := range c.MaskQuantiles {
		if !(q >= 0 && q <= 1) {
			return fmt.Errorf("harness: mask quantile %v outside [0, 1]", q)
		}
	}
	if !(c.Sigma0 > 0) {
		return fmt.Errorf("harness: sigma0 must be positive, got %v", c.Sigma0)
	}
	if !(c.SNQuantile > 0 && c.SNQuantile <= 1) {
		return fmt.Errorf("harness: signal quantile must lie in (0, 1], got %v", c.SNQuantile)
	}
	if !(c.Alpha > 0 && c.Alpha < 1) {
		return fmt.Errorf("harness: alpha must lie in (0, 1), got %v", c.Alpha)
	}
	return nil
}

// Inputs are the three fields of an analysis. They must share shape and scale.
type Inputs struct {
	Source    *models.Field
	Predicted *models.Field
	Observed  *models.Field
}

func (in Inputs) validate() error {
	for name, f := range map[string]*models.Field{"source": in.Source, "predicted": in.Predicted, "observed": in.Observed} {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("%s field: %w", name, err)
		}
	}
	if err := models.CheckSameShape(in.Source, in.Predicted); err != nil {
		return fmt.Errorf("predicted field: %w", err)
	}
	if err := models.CheckSameShape(in.Source, in.Observed); err != nil {
		return fmt.Errorf("observed field: %w", err)
	}
	return nil
}

// Transition is one entry of the report trace
type Transition struct {
	State  State     `json:"state" yaml:"state"`
	At     time.Time `json:"at" yaml:"at"`
	Detail string    `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Report is the outcome of a harness run. Best is the candidate with the
// smallest q-value whenever a null was estimated, even if it is not
// significant; Outcome tells whether it was accepted.
type Report struct {
	RunID      string            `json:"run_id" yaml:"run_id"`
	Outcome    State             `json:"outcome" yaml:"outcome"`
	Alpha      float64           `json:"alpha" yaml:"alpha"`
	Best       *CandidateReport  `json:"best,omitempty" yaml:"best,omitempty"`
	Candidates []CandidateReport `json:"candidates" yaml:"candidates"`
	Trace      []Transition      `json:"trace" yaml:"trace"`
}

// Option configures a Harness
type Option func(*Harness)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithDumper enables intermediary field dumps
func WithDumper(d *fieldio.Dumper) Option {
	return func(h *Harness) { h.dumper = d }
}

// WithTracer overrides the global OpenTelemetry tracer
func WithTracer(t trace.Tracer) Option {
	return func(h *Harness) {
		if t != nil {
			h.tracer = t
		}
	}
}

// Harness runs candidate scoring against one checkpoint store
type Harness struct {
	cfg    Config
	store  checkpoint.Store
	logger *zap.Logger
	dumper *fieldio.Dumper
	tracer trace.Tracer
}

// New validates the configuration and creates a harness
func New(cfg Config, store checkpoint.Store, opts ...Option) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("harness: checkpoint store is required")
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.MaxLag < 1 {
		cfg.MaxLag = 8
	}
	h := &Harness{
		cfg:    cfg,
		store:  store,
		logger: zap.NewNop(),
		tracer: otel.Tracer("shadowstat/harness"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// run carries the per-invocation state through the steps
type run struct {
	report *Report
	inputs Inputs
	source *shadow.SourceBands
	srcMag *models.Field
	scored []*scoredCandidate
	logger *zap.Logger
}

func (h *Harness) enter(ctx context.Context, r *run, s State, detail string) (context.Context, trace.Span) {
	r.report.Trace = append(r.report.Trace, Transition{State: s, At: time.Now(), Detail: detail})
	r.logger.Info("harness state", zap.String("state", string(s)), zap.String("detail", detail))
	return h.tracer.Start(ctx, "harness."+string(s), trace.WithAttributes(
		attribute.String("run_id", r.report.RunID),
	))
}

// Run executes the full state machine on the inputs
func (h *Harness) Run(ctx context.Context, in Inputs) (*Report, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	report := &Report{RunID: uuid.NewString(), Alpha: h.cfg.Alpha}
	r := &run{
		report: report,
		inputs: in,
		logger: h.logger.With(zap.String("run_id", report.RunID)),
	}

	ctx, root := h.tracer.Start(ctx, "harness.Run", trace.WithAttributes(
		attribute.String("run_id", report.RunID),
		attribute.Int("width", in.Source.Width),
		attribute.Int("height", in.Source.Height),
	))
	defer root.End()

	if err := h.dumpInputs(in); err != nil {
		r.logger.Warn("failed to save inputs", zap.Error(err))
	}

	// Candidate generation
	_, span := h.enter(ctx, r, StateCandidateGeneration, "")
	cands := GenerateCandidates(h.cfg.SmoothSigmas, h.cfg.WeightExps, h.cfg.MaskQuantiles)
	span.SetAttributes(attribute.Int("candidates", len(cands)))
	span.End()

	// Control scoring
	_, span = h.enter(ctx, r, StateControlScoring, fmt.Sprintf("%d candidates", len(cands)))
	if err := h.prepareSource(r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "source preparation failed")
		span.End()
		return nil, err
	}
	survivors := 0
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			span.End()
			return nil, err
		}
		sc, err := h.scoreCandidate(r, c)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "candidate scoring failed")
			span.End()
			return nil, err
		}
		r.scored = append(r.scored, sc)
		if sc.report.Survived {
			survivors++
		}
	}
	span.SetAttributes(attribute.Int("survivors", survivors))
	span.End()

	if survivors == 0 {
		_, span = h.enter(ctx, r, StateNoSignificantCandidate, "no candidate beat all controls")
		span.End()
		report.Outcome = StateNoSignificantCandidate
		report.Candidates = collectReports(r.scored)
		return report, nil
	}

	// Null distribution
	nctx, span := h.enter(ctx, r, StateNullDistribution, fmt.Sprintf("%d survivors", survivors))
	if err := h.estimateNulls(nctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "null estimation failed")
		span.End()
		return nil, err
	}
	span.End()

	// Significance decision
	dctx, span := h.enter(ctx, r, StateSignificanceDecision, "")
	best := h.decide(r)
	span.End()

	report.Candidates = collectReports(r.scored)
	if best == nil {
		_, span = h.enter(ctx, r, StateNoSignificantCandidate, "no survivor produced a null distribution")
		span.End()
		report.Outcome = StateNoSignificantCandidate
		return report, nil
	}

	if h.cfg.RunBootstrap && best.result != nil && best.result.Blocks != nil {
		boot, err := montecarlo.BlockBootstrap(dctx, best.result.Blocks, h.cfg.Bootstrap, h.store, r.logger)
		if err != nil {
			return nil, err
		}
		best.report.Bootstrap = &boot
		report.Candidates[best.report.Index].Bootstrap = &boot
	}

	bestReport := report.Candidates[best.report.Index]
	report.Best = &bestReport
	if best.report.Q <= h.cfg.Alpha {
		report.Outcome = StateAccepted
		_, span = h.enter(ctx, r, StateAccepted, fmt.Sprintf("candidate %d, q=%.4g", best.report.Index, best.report.Q))
	} else {
		report.Outcome = StateNoSignificantCandidate
		_, span = h.enter(ctx, r, StateNoSignificantCandidate, fmt.Sprintf("best q=%.4g above alpha", best.report.Q))
	}
	span.End()
	root.SetAttributes(attribute.String("outcome", string(report.Outcome)))
	return report, nil
}

// prepareSource builds the shared source band cache and gradient magnitude
func (h *Harness) prepareSource(r *run) error {
	src, err := shadow.BuildSourceBands(r.inputs.Source, h.cfg.Bands)
	if err != nil {
		return err
	}
	r.source = src
	_, _, r.srcMag = spectral.Gradient(r.inputs.Source)
	return nil
}

func (h *Harness) dumpInputs(in Inputs) error {
	if h.dumper == nil || !h.dumper.Enabled {
		return nil
	}
	if err := h.dumper.SaveField("01_inputs", "source", in.Source); err != nil {
		return err
	}
	if err := h.dumper.SaveField("01_inputs", "predicted", in.Predicted); err != nil {
		return err
	}
	return h.dumper.SaveField("01_inputs", "observed", in.Observed)
}

func collectReports(scored []*scoredCandidate) []CandidateReport {
	out := make([]CandidateReport, len(scored))
	for i, sc := range scored {
		out[i] = sc.report
	}
	return out
}
