package harness

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"shadowstat/internal/models"
)

// Autocorrelation returns the spatial autocorrelation of values inside the
// region for lags 1..maxLag. Each lag averages the horizontal and vertical
// pair products of centered values where both pixels lie in the region.
func Autocorrelation(values []float64, region *models.Mask, maxLag int) []float64 {
	sel := make([]float64, 0, region.Count())
	for i, on := range region.Bits {
		if on && !math.IsNaN(values[i]) {
			sel = append(sel, values[i])
		}
	}
	if len(sel) < 2 || maxLag < 1 {
		return nil
	}
	mean, variance := stat.PopMeanVariance(sel, nil)
	if !(variance > 0) {
		return make([]float64, maxLag)
	}

	w, h := region.Width, region.Height
	in := func(i int) bool { return region.Bits[i] && !math.IsNaN(values[i]) }
	rhos := make([]float64, maxLag)
	for lag := 1; lag <= maxLag; lag++ {
		sum, n := 0.0, 0
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				if !in(i) {
					continue
				}
				if x+lag < w && in(i+lag) {
					sum += (values[i] - mean) * (values[i+lag] - mean)
					n++
				}
				if y+lag < h && in(i+lag*w) {
					sum += (values[i] - mean) * (values[i+lag*w] - mean)
					n++
				}
			}
		}
		if n > 0 {
			rhos[lag-1] = sum / float64(n) / variance
		}
	}
	return rhos
}

// EffectiveN deflates the region pixel count by the positive
// autocorrelation mass: N_eff = max(1, round(N / (1 + 2*sum(rho > 0)))).
func EffectiveN(values []float64, region *models.Mask, maxLag int) (int, float64) {
	n := region.Count()
	if n == 0 {
		return 1, 0
	}
	pos := 0.0
	for _, r := range Autocorrelation(values, region, maxLag) {
		if r > 0 {
			pos += r
		}
	}
	neff := int(math.Round(float64(n) / (1 + 2*pos)))
	if neff < 1 {
		neff = 1
	}
	return neff, pos
}

// BlockPixels is the block side implied by the effective sample size
func BlockPixels(n, neff int) int {
	if neff < 1 {
		neff = 1
	}
	b := int(math.Round(math.Sqrt(float64(n) / float64(neff))))
	if b < 4 {
		b = 4
	}
	return b
}
