// Package interpolation implements windowed-sinc resampling for sub-pixel shifts.
package interpolation

import (
	"math"

	"shadowstat/internal/models"
)

// DefaultSupport is the Lanczos window radius a
const DefaultSupport = 3

// fracEpsilon is the smallest fractional shift worth resampling
const fracEpsilon = 1e-6

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// LanczosKernel returns the 2a taps L(j - frac) for j = -a+1 .. a, normalized
// to sum to one. A nil result means the kernel is degenerate and the caller
// should leave the data unshifted.
func LanczosKernel(frac float64, a int) []float64 {
	if a < 1 {
		a = DefaultSupport
	}
	k := make([]float64, 2*a)
	var sum float64
	for i := range k {
		x := float64(i-a+1) - frac
		k[i] = sinc(x) * sinc(x/float64(a))
		sum += k[i]
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) || math.Abs(sum) < 1e-12 {
		return nil
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// Shift resamples f so that out(y, x) ~ f(y+dy, x+dx). The integer part of
// each offset is applied as a circular roll and the fractional part with a
// separable Lanczos-a kernel using nearest-edge boundaries.
func Shift(f *models.Field, dy, dx float64, a int) *models.Field {
	out := f.Clone()
	out.Data = shiftAxis(out.Data, f.Width, f.Height, dy, a, true)
	out.Data = shiftAxis(out.Data, f.Width, f.Height, dx, a, false)
	return out
}

// Roll circularly shifts f so that out(y, x) = f(y+dy, x+dx) with wrap-around
func Roll(f *models.Field, dy, dx int) *models.Field {
	out := f.Like()
	w, h := f.Width, f.Height
	for y := 0; y < h; y++ {
		sy := mod(y+dy, h)
		for x := 0; x < w; x++ {
			out.Data[y*w+x] = f.Data[sy*w+mod(x+dx, w)]
		}
	}
	return out
}

func mod(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// shiftAxis shifts data along rows (vertical) or columns
func shiftAxis(data []float64, w, h int, delta float64, a int, vertical bool) []float64 {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return data
	}
	whole := math.Floor(delta)
	frac := delta - whole
	integer := int(whole)
	if frac > 1-fracEpsilon {
		integer++
		frac = 0
	}

	n, lines := w, h
	if vertical {
		n, lines = h, w
	}
	at := func(line, i int) int {
		if vertical {
			return i*w + line
		}
		return line*w + i
	}

	out := make([]float64, len(data))
	if integer != 0 {
		for line := 0; line < lines; line++ {
			for i := 0; i < n; i++ {
				out[at(line, i)] = data[at(line, mod(i+integer, n))]
			}
		}
	} else {
		copy(out, data)
	}

	if frac < fracEpsilon {
		return out
	}
	if a < 1 {
		a = DefaultSupport
	}
	k := LanczosKernel(frac, a)
	if k == nil {
		return out
	}

	res := make([]float64, len(out))
	for line := 0; line < lines; line++ {
		for i := 0; i < n; i++ {
			var acc float64
			for t, wt := range k {
				j := t - a + 1
				acc += wt * out[at(line, clamp(i+j, n))]
			}
			res[at(line, i)] = acc
		}
	}
	return res
}
