package harness

import (
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"shadowstat/internal/models"
	"shadowstat/pkg/mask"
	"shadowstat/pkg/montecarlo"
	"shadowstat/pkg/registration"
	"shadowstat/pkg/shadow"
	"shadowstat/pkg/spectral"
)

// Parameter counts of the primary model and the controls in the AICc
const (
	kPrimary  = 2
	kRotated  = 1
	kShifted  = 2
	kShuffled = 0
)

// Candidate status values
const (
	StatusSkipped          = "skipped"
	StatusRejectedControls = "rejected_controls"
	StatusNoStatistic      = "no_statistic"
	StatusScored           = "scored"
)

// Candidate is one point of the candidate grid
type Candidate struct {
	Index        int     `json:"index" yaml:"index"`
	SmoothSigma  float64 `json:"smooth_sigma" yaml:"smooth_sigma"`
	WeightExp    float64 `json:"weight_exp" yaml:"weight_exp"`
	MaskQuantile float64 `json:"mask_quantile" yaml:"mask_quantile"`
}

// ControlScores holds one value per model
type ControlScores struct {
	Primary  float64 `json:"primary" yaml:"primary"`
	Rotated  float64 `json:"rotated" yaml:"rotated"`
	Shifted  float64 `json:"shifted" yaml:"shifted"`
	Shuffled float64 `json:"shuffled" yaml:"shuffled"`
}

// Deltas are primary minus control; negative favors the primary model
type Deltas struct {
	Rotated  float64 `json:"rotated" yaml:"rotated"`
	Shifted  float64 `json:"shifted" yaml:"shifted"`
	Shuffled float64 `json:"shuffled" yaml:"shuffled"`
}

// CandidateReport is the scored record of one candidate
type CandidateReport struct {
	Candidate `yaml:",inline"`

	Status string `json:"status" yaml:"status"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`

	RegionPixels int     `json:"region_pixels" yaml:"region_pixels"`
	NEff         int     `json:"n_eff" yaml:"n_eff"`
	RhoSumPos    float64 `json:"rho_sum_pos" yaml:"rho_sum_pos"`
	BlockPixels  int     `json:"block_pixels" yaml:"block_pixels"`
	AlignDY      float64 `json:"align_dy" yaml:"align_dy"`
	AlignDX      float64 `json:"align_dx" yaml:"align_dx"`
	SigmaMedian  float64 `json:"sigma_median" yaml:"sigma_median"`
	SignalPixels int     `json:"signal_pixels" yaml:"signal_pixels"`

	Chi2        ControlScores `json:"chi2" yaml:"chi2"`
	ReducedChi2 ControlScores `json:"reduced_chi2" yaml:"reduced_chi2"`
	Chi2P       ControlScores `json:"chi2_p" yaml:"chi2_p"`
	AICc        ControlScores `json:"aicc" yaml:"aicc"`
	Deltas      Deltas        `json:"aicc_deltas" yaml:"aicc_deltas"`
	Survived    bool          `json:"survived" yaml:"survived"`

	Shadow      *shadow.Result                `json:"shadow,omitempty" yaml:"shadow,omitempty"`
	Permutation *montecarlo.PermutationResult `json:"permutation,omitempty" yaml:"permutation,omitempty"`
	P           float64                       `json:"p" yaml:"p"`
	Q           float64                       `json:"q" yaml:"q"`
	Bootstrap   *montecarlo.BootstrapResult   `json:"bootstrap,omitempty" yaml:"bootstrap,omitempty"`
}

// scoredCandidate keeps the fields needed by the null step next to the report
type scoredCandidate struct {
	report   CandidateReport
	observed *models.Field
	aligned  *models.Field
	sigma    *models.Field
	region   *models.Mask
	result   *shadow.Result
}

// GenerateCandidates returns the cartesian product of the grids in
// sigma-major order
func GenerateCandidates(sigmas, weightExps, maskQuantiles []float64) []Candidate {
	out := make([]Candidate, 0, len(sigmas)*len(weightExps)*len(maskQuantiles))
	for _, s := range sigmas {
		for _, p := range weightExps {
			for _, q := range maskQuantiles {
				out = append(out, Candidate{
					Index:        len(out),
					SmoothSigma:  s,
					WeightExp:    p,
					MaskQuantile: q,
				})
			}
		}
	}
	return out
}

func smooth(f *models.Field, sigma float64) *models.Field {
	if !(sigma > 0) {
		return f.Clone()
	}
	return spectral.GaussianSmooth(f, sigma)
}

// scoreCandidate builds the candidate region, aligns the prediction inside
// it and compares the fit against the three controls. Insufficient support
// is recorded on the report, never returned as an error.
func (h *Harness) scoreCandidate(r *run, c Candidate) (*scoredCandidate, error) {
	sc := &scoredCandidate{report: CandidateReport{Candidate: c, P: math.NaN(), Q: math.NaN()}}
	rep := &sc.report
	log := r.logger.With(zap.Int("candidate", c.Index))

	pred := smooth(r.inputs.Predicted, c.SmoothSigma)
	obs := smooth(r.inputs.Observed, c.SmoothSigma)

	finite := mask.Finite(pred, obs)
	if n := finite.Count(); n <= h.cfg.MinRegion {
		rep.Status, rep.Reason = StatusSkipped, fmt.Sprintf("only %d finite pixels", n)
		log.Info("candidate skipped", zap.String("reason", rep.Reason))
		return sc, nil
	}
	region := mask.EdgeTrim(finite, h.cfg.TrimFrac, h.cfg.TrimIter)
	region = mask.AboveQuantile(r.srcMag, region, c.MaskQuantile)
	rep.RegionPixels = region.Count()
	if rep.RegionPixels <= h.cfg.MinRegion {
		rep.Status, rep.Reason = StatusSkipped, fmt.Sprintf("region holds %d pixels", rep.RegionPixels)
		log.Info("candidate skipped", zap.String("reason", rep.Reason))
		return sc, nil
	}

	al, err := registration.Align(pred, obs,
		registration.WithMask(region),
		registration.WithSubpixel(h.cfg.Subpixel),
		registration.WithSupport(h.cfg.Support))
	if err != nil {
		return nil, fmt.Errorf("candidate %d: %w", c.Index, err)
	}
	rep.AlignDY, rep.AlignDX = al.DY, al.DX

	sigma := SigmaMap(r.inputs.Source, h.cfg.Sigma0, h.cfg.SigmaCoeff)
	weights := Weights(r.inputs.Source, region, c.WeightExp)
	rep.SigmaMedian = maskedMedian(sigma, region)

	primaryNorm := normalizedResidual(obs, al.Aligned, sigma, region)
	rep.Chi2.Primary = chi2(primaryNorm, weights, region)

	nEff, rhoPos := EffectiveN(primaryNorm, region, h.cfg.MaxLag)
	rep.NEff, rep.RhoSumPos = nEff, rhoPos
	rep.BlockPixels = BlockPixels(rep.RegionPixels, nEff)

	ctrl := registration.BuildControls(al.Aligned, h.cfg.WrapShift, rand.New(rand.NewSource(h.cfg.ControlSeed)))
	rep.Chi2.Rotated = chi2(normalizedResidual(obs, ctrl.Rotated, sigma, region), weights, region)
	rep.Chi2.Shifted = chi2(normalizedResidual(obs, ctrl.Shifted, sigma, region), weights, region)
	rep.Chi2.Shuffled = chi2(normalizedResidual(obs, ctrl.Shuffled, sigma, region), weights, region)

	rep.AICc = ControlScores{
		Primary:  AICc(rep.Chi2.Primary, kPrimary, nEff),
		Rotated:  AICc(rep.Chi2.Rotated, kRotated, nEff),
		Shifted:  AICc(rep.Chi2.Shifted, kShifted, nEff),
		Shuffled: AICc(rep.Chi2.Shuffled, kShuffled, nEff),
	}
	rep.ReducedChi2 = ControlScores{
		Primary:  reducedChi2(rep.Chi2.Primary, kPrimary, nEff),
		Rotated:  reducedChi2(rep.Chi2.Rotated, kRotated, nEff),
		Shifted:  reducedChi2(rep.Chi2.Shifted, kShifted, nEff),
		Shuffled: reducedChi2(rep.Chi2.Shuffled, kShuffled, nEff),
	}
	rep.Chi2P = ControlScores{
		Primary:  chi2Survival(rep.Chi2.Primary, kPrimary, nEff),
		Rotated:  chi2Survival(rep.Chi2.Rotated, kRotated, nEff),
		Shifted:  chi2Survival(rep.Chi2.Shifted, kShifted, nEff),
		Shuffled: chi2Survival(rep.Chi2.Shuffled, kShuffled, nEff),
	}
	rep.Deltas = Deltas{
		Rotated:  rep.AICc.Primary - rep.AICc.Rotated,
		Shifted:  rep.AICc.Primary - rep.AICc.Shifted,
		Shuffled: rep.AICc.Primary - rep.AICc.Shuffled,
	}
	rep.Survived = rep.Deltas.Rotated < 0 && rep.Deltas.Shifted < 0 && rep.Deltas.Shuffled < 0
	if rep.Survived {
		rep.Status = StatusScored
	} else {
		rep.Status, rep.Reason = StatusRejectedControls, "primary AICc does not beat every control"
	}

	sc.observed = obs
	sc.aligned = al.Aligned
	sc.sigma = sigma
	sc.region = region

	log.Info("candidate scored",
		zap.Float64("aicc", rep.AICc.Primary),
		zap.Float64("d_rot", rep.Deltas.Rotated),
		zap.Float64("d_shift", rep.Deltas.Shifted),
		zap.Float64("d_shuffle", rep.Deltas.Shuffled),
		zap.Int("n_eff", nEff),
		zap.Bool("survived", rep.Survived))

	stage := fmt.Sprintf("02_candidates/c%02d", c.Index)
	if err := h.dumper.SaveMask(stage, "region", region); err != nil {
		log.Warn("failed to save region", zap.Error(err))
	}
	if err := h.dumper.SaveField(stage, "aligned", al.Aligned); err != nil {
		log.Warn("failed to save aligned prediction", zap.Error(err))
	}
	return sc, nil
}

// SignalMask keeps the region pixels with a finite residual whose sigma is
// at or below the q-quantile of sigma over the region. When the quantile is
// undefined only the finiteness cut applies.
func SignalMask(sigma, residual *models.Field, region *models.Mask, q float64) *models.Mask {
	base := region.And(mask.Finite(residual))
	thr, ok := mask.Quantile(sigma.Data, region.Bits, q)
	if !ok {
		return base
	}
	for i, on := range base.Bits {
		if on && !(sigma.Data[i] <= thr) {
			base.Bits[i] = false
		}
	}
	return base
}

// SigmaMap returns sqrt(max(sigma0^2 + coeff*max(source, 0), floor)) with
// floor = max((0.1*sigma0)^2, 1e-8). Non-finite source pixels get sigma0.
func SigmaMap(source *models.Field, sigma0, coeff float64) *models.Field {
	out := source.Like()
	floor := math.Max(0.01*sigma0*sigma0, 1e-8)
	for i, v := range source.Data {
		s := math.Sqrt(math.Max(sigma0*sigma0+coeff*math.Max(v, 0), floor))
		if math.IsNaN(s) || math.IsInf(s, 0) {
			s = sigma0
		}
		out.Data[i] = math.Max(s, 1e-8)
	}
	return out
}

// Weights returns (source/mean)^p where mean is the finite source mean over
// the region. Non-positive ratios are floored at 1e-6. A zero exponent
// returns nil for unit weights.
func Weights(source *models.Field, region *models.Mask, p float64) []float64 {
	if math.Abs(p) <= 1e-12 {
		return nil
	}
	vals := make([]float64, 0, region.Count())
	for i, on := range region.Bits {
		if on && !math.IsNaN(source.Data[i]) && !math.IsInf(source.Data[i], 0) {
			vals = append(vals, source.Data[i])
		}
	}
	mean := 1.0
	if len(vals) > 0 {
		if m := stat.Mean(vals, nil); m != 0 && !math.IsNaN(m) {
			mean = m
		}
	}
	w := make([]float64, len(source.Data))
	for i, v := range source.Data {
		base := v / (mean + 1e-12)
		if !(base > 0) {
			base = 1e-6
		}
		w[i] = math.Pow(base, p)
	}
	return w
}

// normalizedResidual is (obs - model)/sigma inside the region and 0 elsewhere
func normalizedResidual(obs, model, sigma *models.Field, region *models.Mask) []float64 {
	out := make([]float64, len(obs.Data))
	for i, on := range region.Bits {
		if on {
			out[i] = (obs.Data[i] - model.Data[i]) / sigma.Data[i]
		}
	}
	return out
}

// chi2 sums the (weighted) squares over the region, skipping NaN
func chi2(norm []float64, weights []float64, region *models.Mask) float64 {
	terms := make([]float64, 0, region.Count())
	for i, on := range region.Bits {
		if !on {
			continue
		}
		sq := norm[i] * norm[i]
		if weights != nil {
			sq *= weights[i]
		}
		if math.IsNaN(sq) {
			continue
		}
		terms = append(terms, sq)
	}
	return floats.Sum(terms)
}

// AICc is chi2 + 2k + 2k(k+1)/max(n-k-1, 1)
func AICc(chi2 float64, k, n int) float64 {
	den := n - k - 1
	if den < 1 {
		den = 1
	}
	return chi2 + float64(2*k) + float64(2*k*(k+1))/float64(den)
}

func dof(k, n int) float64 {
	d := n - k
	if d < 1 {
		d = 1
	}
	return float64(d)
}

func reducedChi2(chi2 float64, k, n int) float64 {
	return chi2 / dof(k, n)
}

func chi2Survival(chi2 float64, k, n int) float64 {
	if math.IsNaN(chi2) {
		return math.NaN()
	}
	return distuv.ChiSquared{K: dof(k, n)}.Survival(chi2)
}

func maskedMedian(f *models.Field, region *models.Mask) float64 {
	v, ok := mask.Quantile(f.Data, region.Bits, 0.5)
	if !ok {
		return math.NaN()
	}
	return v
}
