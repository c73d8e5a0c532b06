package spectral

import (
	"math"

	"shadowstat/internal/models"
)

// gaussianTruncate is the kernel half-width in units of sigma
const gaussianTruncate = 4.0

// GaussianKernel returns a normalized 1D Gaussian of radius ceil(4*sigma)
func GaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(gaussianTruncate * sigma))
	if radius < 1 {
		radius = 1
	}
	k := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-0.5 * float64(i*i) / (sigma * sigma))
		k[i+radius] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// GaussianSmooth applies a separable Gaussian blur with reflective
// boundaries. Non-finite pixels stay NaN and are excluded from their
// neighbours' averages. sigma <= 0 returns a copy.
func GaussianSmooth(f *models.Field, sigma float64) *models.Field {
	if !(sigma > 0) {
		return f.Clone()
	}
	k := GaussianKernel(sigma)
	radius := len(k) / 2
	w, h := f.Width, f.Height

	finite := make([]bool, len(f.Data))
	for i, v := range f.Data {
		finite[i] = !math.IsNaN(v) && !math.IsInf(v, 0)
	}

	// Horizontal pass keeps value and weight sums so the vertical pass can renormalize
	sumH := make([]float64, len(f.Data))
	wtH := make([]float64, len(f.Data))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s, ws float64
			for j := -radius; j <= radius; j++ {
				idx := y*w + reflect(x+j, w)
				if finite[idx] {
					s += k[j+radius] * f.Data[idx]
					ws += k[j+radius]
				}
			}
			sumH[y*w+x] = s
			wtH[y*w+x] = ws
		}
	}

	out := f.Like()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if !finite[idx] {
				out.Data[idx] = math.NaN()
				continue
			}
			var s, ws float64
			for j := -radius; j <= radius; j++ {
				src := reflect(y+j, h)*w + x
				s += k[j+radius] * sumH[src]
				ws += k[j+radius] * wtH[src]
			}
			if ws > 0 {
				out.Data[idx] = s / ws
			} else {
				out.Data[idx] = math.NaN()
			}
		}
	}
	return out
}
