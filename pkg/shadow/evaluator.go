// Package shadow computes the directional band-pass alignment statistic between
// the gradient of a source field and the gradient of a filtered residual.
package shadow

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"shadowstat/internal/models"
	"shadowstat/pkg/mask"
	"shadowstat/pkg/spectral"
)

const (
	// gradientFloor drops pixels whose gradient direction is undefined
	gradientFloor = 1e-6

	// unitEpsilon keeps unit-vector normalization finite
	unitEpsilon = 1e-12
)

// Options configures an Evaluator
type Options struct {
	// BlockSize is the side of the spatial blocks used for block
	// contributions. Zero or negative disables block accumulation.
	BlockSize int

	// ResidualQuantile keeps only residual gradients at or above this
	// quantile per band. NaN disables the filter.
	ResidualQuantile float64

	// MorphClose and MorphOpen are the cleaning iteration counts
	MorphClose int
	MorphOpen  int

	// MorphCleanMin is the pixel count the working mask must exceed before
	// cleaning; smaller masks are rejected as insufficient support.
	MorphCleanMin int

	// WeightExp is the exponent of the source gradient magnitude weights
	WeightExp float64

	// Kernel shapes the signed quantity; nil means PowerKernel{Gamma: 1}
	Kernel AngleKernel

	Logger *zap.Logger
}

// DefaultOptions returns the standard evaluator configuration
func DefaultOptions() Options {
	return Options{
		BlockSize:        16,
		ResidualQuantile: 0.85,
		MorphClose:       2,
		MorphOpen:        1,
		MorphCleanMin:    0,
		WeightExp:        1,
		Kernel:           PowerKernel{Gamma: 1},
	}
}

// BandDetail is the per-band breakdown of a result
type BandDetail struct {
	S         float64 `json:"S"`
	Q2        float64 `json:"Q2"`
	WeightSum float64 `json:"weight_sum"`
	N         int     `json:"n"`
}

// BlockContrib holds weighted per-block sums for block resampling.
// S, Q2, Cos and Sin are already multiplied by the pixel weights.
type BlockContrib struct {
	Weight []float64
	S      []float64
	Q2     []float64
	Cos    []float64
	Sin    []float64
}

func newBlockContrib(n int) *BlockContrib {
	return &BlockContrib{
		Weight: make([]float64, n),
		S:      make([]float64, n),
		Q2:     make([]float64, n),
		Cos:    make([]float64, n),
		Sin:    make([]float64, n),
	}
}

// Result is the outcome of one evaluation
type Result struct {
	S             float64               `json:"S"`
	Q2            float64               `json:"Q2"`
	Rayleigh      Rayleigh              `json:"rayleigh"`
	VTest         VTest                 `json:"v_test"`
	MeanDirection float64               `json:"mean_direction"`
	N             int                   `json:"n_dir"`
	WeightSum     float64               `json:"weightsum"`
	Bands         map[string]BandDetail `json:"band_details"`

	// Mask is the working mask after intersection and cleaning
	Mask *models.Mask `json:"-" yaml:"-"`

	// Blocks is nil when block accumulation is disabled
	Blocks *BlockContrib `json:"-" yaml:"-"`
}

// Evaluator owns the source band cache and the signal mask and can be
// reused across many residual caches and masks. It is safe for concurrent
// use once constructed.
type Evaluator struct {
	source     *SourceBands
	signal     *models.Mask
	opts       Options
	blockIDs   []int
	blockCount int
	logger     *zap.Logger
}

// NewEvaluator creates an evaluator. A nil signal mask selects every pixel.
func NewEvaluator(source *SourceBands, signal *models.Mask, opts Options) (*Evaluator, error) {
	if source == nil || len(source.Bands) == 0 {
		return nil, fmt.Errorf("evaluator needs at least one source band")
	}
	if signal != nil && (signal.Width != source.Width || signal.Height != source.Height) {
		return nil, fmt.Errorf("signal mask: %w", models.ErrShapeMismatch)
	}
	if opts.Kernel == nil {
		opts.Kernel = PowerKernel{Gamma: 1}
	}
	if opts.MorphClose < 0 {
		opts.MorphClose = 0
	}
	if opts.MorphOpen < 0 {
		opts.MorphOpen = 0
	}
	if opts.MorphCleanMin < 0 {
		opts.MorphCleanMin = 0
	}
	e := &Evaluator{
		source: source,
		signal: signal,
		opts:   opts,
		logger: opts.Logger,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if opts.BlockSize > 0 {
		e.blockIDs, e.blockCount = mask.BlockIDs(source.Width, source.Height, opts.BlockSize)
	}
	return e, nil
}

// Options returns the effective configuration
func (e *Evaluator) Options() Options {
	return e.opts
}

// Bands returns the configured band specs in evaluation order
func (e *Evaluator) Bands() []spectral.BandSpec {
	out := make([]spectral.BandSpec, len(e.source.Bands))
	for i, b := range e.source.Bands {
		out[i] = b.Band
	}
	return out
}

// BlockIDs returns the block label of every pixel, or nil when disabled
func (e *Evaluator) BlockIDs() ([]int, int) {
	return e.blockIDs, e.blockCount
}

// Evaluate computes the statistic of the residual bands over m. It returns
// nil without error when the mask or the weights leave nothing to measure.
func (e *Evaluator) Evaluate(residual ResidualBands, m *models.Mask, clean bool) (*Result, error) {
	w, h := e.source.Width, e.source.Height
	if m != nil && (m.Width != w || m.Height != h) {
		return nil, fmt.Errorf("evaluation mask: %w", models.ErrShapeMismatch)
	}
	for name, f := range residual {
		if f.Width != w || f.Height != h {
			return nil, fmt.Errorf("residual band %q: %w", name, models.ErrShapeMismatch)
		}
	}

	work := e.workMask(m, clean)
	if work == nil {
		return nil, nil
	}

	var blocks *BlockContrib
	if e.blockIDs != nil {
		blocks = newBlockContrib(e.blockCount)
	}

	var (
		totalWeight float64
		sumS        float64
		sumQ2       float64
		sumCos      float64
		sumSin      float64
		count       int
	)
	details := make(map[string]BandDetail)

	for _, sb := range e.source.Bands {
		rr, ok := residual[sb.Band.Name]
		if !ok || rr == nil {
			continue
		}
		acc := e.accumulateBand(sb, rr, work, blocks)
		if acc == nil {
			e.logger.Debug("band skipped", zap.String("band", sb.Band.Name))
			continue
		}
		totalWeight += acc.weight
		sumS += acc.s
		sumQ2 += acc.q2
		sumCos += acc.cos
		sumSin += acc.sin
		count += acc.n
		details[sb.Band.Name] = BandDetail{
			S:         acc.s / acc.weight,
			Q2:        acc.q2 / acc.weight,
			WeightSum: acc.weight,
			N:         acc.n,
		}
	}

	if totalWeight <= 0 || count == 0 {
		return nil, nil
	}

	meanCos := sumCos / totalWeight
	meanSin := sumSin / totalWeight
	n := count
	if n < 1 {
		n = 1
	}
	ray := rayleighTest(meanCos, meanSin, n)
	mu := math.Atan2(meanSin, meanCos)

	return &Result{
		S:             clamp(sumS/totalWeight, -1, 1),
		Q2:            clamp(sumQ2/totalWeight, -1, 1),
		Rayleigh:      ray,
		VTest:         vTest(ray.R, mu, n),
		MeanDirection: mu,
		N:             n,
		WeightSum:     totalWeight,
		Bands:         details,
		Mask:          work,
		Blocks:        blocks,
	}, nil
}

// workMask intersects m with the signal mask and optionally cleans it.
// nil means insufficient support.
func (e *Evaluator) workMask(m *models.Mask, clean bool) *models.Mask {
	var work *models.Mask
	switch {
	case m == nil && e.signal == nil:
		work = models.FullMask(e.source.Width, e.source.Height)
	default:
		work = m.And(e.signal)
	}
	if !work.Any() {
		return nil
	}
	if clean {
		if work.Count() <= e.opts.MorphCleanMin {
			return nil
		}
		work = mask.Clean(work, e.opts.MorphClose, e.opts.MorphOpen)
		if !work.Any() {
			return nil
		}
	}
	return work
}

type bandSums struct {
	weight float64
	s      float64
	q2     float64
	cos    float64
	sin    float64
	n      int
}

// accumulateBand returns the weighted sums of one band, or nil when no pixel survives
func (e *Evaluator) accumulateBand(sb SourceBand, rr *models.Field, work *models.Mask, blocks *BlockContrib) *bandSums {
	gxR, gyR, magR := spectral.Gradient(rr)

	idx := make([]int, 0, work.Count())
	for i, on := range work.Bits {
		if !on {
			continue
		}
		ms, mr := sb.Mag.Data[i], magR.Data[i]
		if !finite(ms) || ms <= gradientFloor {
			continue
		}
		if !finite(mr) || mr <= gradientFloor {
			continue
		}
		idx = append(idx, i)
	}
	if len(idx) == 0 {
		return nil
	}

	// Keep only the sharpest residual edges when the quantile is usable
	if !math.IsNaN(e.opts.ResidualQuantile) {
		vals := make([]float64, len(idx))
		for k, i := range idx {
			vals[k] = magR.Data[i]
		}
		if thr, ok := mask.Quantile(vals, nil, e.opts.ResidualQuantile); ok {
			kept := idx[:0]
			for _, i := range idx {
				if magR.Data[i] >= thr {
					kept = append(kept, i)
				}
			}
			idx = kept
			if len(idx) == 0 {
				return nil
			}
		}
	}

	n := len(idx)
	weights := make([]float64, n)
	dot := make([]float64, n)
	theta := make([]float64, n)
	signed := make([]float64, n)
	unitWeights := math.Abs(e.opts.WeightExp-1) < 1e-9
	for k, i := range idx {
		ms := sb.Mag.Data[i]
		if unitWeights {
			weights[k] = ms
		} else {
			weights[k] = math.Pow(ms, e.opts.WeightExp)
		}

		nx := -sb.Gx.Data[i] / (ms + unitEpsilon)
		ny := -sb.Gy.Data[i] / (ms + unitEpsilon)
		mr := magR.Data[i]
		rx := gxR.Data[i] / (mr + unitEpsilon)
		ry := gyR.Data[i] / (mr + unitEpsilon)

		d := clamp(nx*rx+ny*ry, -1, 1)
		det := nx*ry - ny*rx
		dot[k] = d
		theta[k] = math.Atan2(det, d)
		signed[k] = -d
	}

	e.opts.Kernel.Shape(signed, dot, sb.LambdaMean)

	var out bandSums
	for k, i := range idx {
		wt := weights[k]
		s := clamp(signed[k], -1, 1)
		c := math.Cos(theta[k])
		sn := math.Sin(theta[k])
		c2 := math.Cos(2 * theta[k])

		out.weight += wt
		out.s += wt * s
		out.q2 += wt * c2
		out.cos += wt * c
		out.sin += wt * sn
		out.n++

		if blocks != nil {
			b := e.blockIDs[i]
			blocks.Weight[b] += wt
			blocks.S[b] += wt * s
			blocks.Q2[b] += wt * c2
			blocks.Cos[b] += wt * c
			blocks.Sin[b] += wt * sn
		}
	}
	// non-finite weights propagate into the sums
	if out.weight <= 0 {
		return nil
	}
	return &out
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
