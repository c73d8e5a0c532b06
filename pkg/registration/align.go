// Package registration aligns a predicted field onto an observed one by
// frequency-domain cross-correlation and builds the null controls.
package registration

import (
	"fmt"
	"math"
	"math/cmplx"

	"shadowstat/internal/models"
	"shadowstat/pkg/interpolation"
	"shadowstat/pkg/spectral"
)

// Alignment is the result of registering a source field onto a target
type Alignment struct {
	// Aligned is the source resampled so that it overlays the target
	Aligned *models.Field

	// DY and DX are the recovered offsets in pixels: Aligned(y, x) ~ Source(y+DY, x+DX)
	DY float64
	DX float64

	// PeakY and PeakX are the wrapped integer correlation peak
	PeakY int
	PeakX int

	// Fallback is set when no finite data was available and no shift was applied
	Fallback bool
}

type options struct {
	mask     *models.Mask
	subpixel bool
	support  int
}

// Option configures Align
type Option func(*options)

// WithMask restricts the comparison to the pixels of m; everything else is
// zeroed before correlating.
func WithMask(m *models.Mask) Option {
	return func(o *options) { o.mask = m }
}

// WithSubpixel toggles the quadratic peak refinement (enabled by default)
func WithSubpixel(enabled bool) Option {
	return func(o *options) { o.subpixel = enabled }
}

// WithSupport sets the Lanczos window radius used for the fractional shift
func WithSupport(a int) Option {
	return func(o *options) { o.support = a }
}

// Align estimates the translation that maps source onto target and returns
// source resampled accordingly. If either field has no finite values inside
// the comparison region the source is returned unshifted.
func Align(source, target *models.Field, opts ...Option) (Alignment, error) {
	o := options{subpixel: true, support: interpolation.DefaultSupport}
	for _, opt := range opts {
		opt(&o)
	}
	if err := source.Validate(); err != nil {
		return Alignment{}, fmt.Errorf("invalid source: %w", err)
	}
	if err := models.CheckSameShape(source, target); err != nil {
		return Alignment{}, err
	}
	if o.mask != nil && !o.mask.Fits(source) {
		return Alignment{}, fmt.Errorf("alignment mask: %w", models.ErrShapeMismatch)
	}

	a, okA := prepare(source, o.mask)
	b, okB := prepare(target, o.mask)
	if !okA || !okB {
		return Alignment{Aligned: source.Clone(), Fallback: true}, nil
	}

	w, h := source.Width, source.Height
	plan := spectral.NewPlan(w, h)
	fa := plan.Forward(a)
	fb := plan.Forward(b)
	for i := range fa {
		fa[i] *= cmplx.Conj(fb[i])
	}
	cc := plan.InverseReal(fa)

	py, px := argmax(cc, w)
	res := Alignment{
		PeakY: wrap(py, h),
		PeakX: wrap(px, w),
	}
	res.DY = float64(res.PeakY)
	res.DX = float64(res.PeakX)
	if o.subpixel {
		res.DY += parabolicOffset(
			cc[mod(py-1, h)*w+px], cc[py*w+px], cc[mod(py+1, h)*w+px])
		res.DX += parabolicOffset(
			cc[py*w+mod(px-1, w)], cc[py*w+px], cc[py*w+mod(px+1, w)])
	}

	res.Aligned = interpolation.Shift(source, res.DY, res.DX, o.support)
	return res, nil
}

// prepare zeroes non-finite and masked-out pixels. ok is false when no
// finite pixel remains.
func prepare(f *models.Field, m *models.Mask) ([]float64, bool) {
	out := make([]float64, len(f.Data))
	ok := false
	for i, v := range f.Data {
		if m != nil && !m.Bits[i] {
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = v
		ok = true
	}
	return out, ok
}

func argmax(cc []float64, w int) (int, int) {
	best := 0
	for i, v := range cc {
		if v > cc[best] {
			best = i
		}
	}
	return best / w, best % w
}

// wrap maps a correlation index onto a signed shift
func wrap(p, n int) int {
	if p > n/2 {
		return p - n
	}
	return p
}

func mod(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// parabolicOffset returns the vertex of the parabola through (-1, cm),
// (0, c0), (1, cp), clamped to half a pixel. Flat or non-finite
// neighbourhoods return 0.
func parabolicOffset(cm, c0, cp float64) float64 {
	denom := cm - 2*c0 + cp
	if denom == 0 || math.IsNaN(denom) || math.IsInf(denom, 0) {
		return 0
	}
	d := 0.5 * (cm - cp) / denom
	if math.IsNaN(d) {
		return 0
	}
	return math.Max(-0.5, math.Min(0.5, d))
}
