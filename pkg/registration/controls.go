package registration

import (
	"math"
	"math/cmplx"
	"math/rand"

	"shadowstat/internal/models"
	"shadowstat/pkg/interpolation"
	"shadowstat/pkg/spectral"
)

// DefaultWrapShift is the (dy, dx) offset of the shift control
var DefaultWrapShift = [2]int{12, -7}

// Rotate180 rotates f by 180 degrees about the grid center
func Rotate180(f *models.Field) *models.Field {
	out := f.Like()
	n := len(f.Data)
	for i, v := range f.Data {
		out.Data[n-1-i] = v
	}
	return out
}

// WrapShift moves the content of f by (dy, dx) pixels with wrap-around, so
// out(y+dy, x+dx) = f(y, x).
func WrapShift(f *models.Field, dy, dx int) *models.Field {
	return interpolation.Roll(f, -dy, -dx)
}

// PhaseRandomize keeps the amplitude spectrum of f and replaces every phase
// with an independent uniform draw on [-pi, pi). Phases are paired across
// conjugate bins so the result is real. Non-finite pixels are treated as zero.
func PhaseRandomize(f *models.Field, rng *rand.Rand) *models.Field {
	w, h := f.Width, f.Height
	data := make([]float64, len(f.Data))
	for i, v := range f.Data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			data[i] = v
		}
	}

	plan := spectral.NewPlan(w, h)
	spec := plan.Forward(data)

	done := make([]bool, len(spec))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if done[i] {
				continue
			}
			j := mod(-y, h)*w + mod(-x, w)
			amp := cmplx.Abs(spec[i])
			if i == j {
				// Self-conjugate bins must stay real
				sign := 1.0
				if rng.Intn(2) == 1 {
					sign = -1.0
				}
				spec[i] = complex(sign*amp, 0)
				done[i] = true
				continue
			}
			phi := rng.Float64()*2*math.Pi - math.Pi
			spec[i] = cmplx.Rect(amp, phi)
			spec[j] = cmplx.Rect(amp, -phi)
			done[i], done[j] = true, true
		}
	}
	return &models.Field{Data: plan.InverseReal(spec), Width: w, Height: h, Scale: f.Scale}
}

// Controls holds the three reference transforms of an aligned prediction
type Controls struct {
	Rotated  *models.Field
	Shifted  *models.Field
	Shuffled *models.Field
}

// BuildControls computes the rotation, wrap-shift and phase-randomized controls
func BuildControls(aligned *models.Field, shift [2]int, rng *rand.Rand) Controls {
	return Controls{
		Rotated:  Rotate180(aligned),
		Shifted:  WrapShift(aligned, shift[0], shift[1]),
		Shuffled: PhaseRandomize(aligned, rng),
	}
}
