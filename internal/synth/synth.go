// Package synth generates deterministic synthetic fields for tests and the demo command.
package synth

import (
	"math"
	"math/rand"

	"shadowstat/internal/models"
	"shadowstat/pkg/interpolation"
)

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(x))
}

func fill(n int, scale float64, fn func(y, x float64) float64) *models.Field {
	f := &models.Field{Data: make([]float64, n*n), Width: n, Height: n, Scale: scale}
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			f.Data[y*n+x] = fn(float64(y), float64(x))
		}
	}
	return f
}

// Disk is a soft-edged disk of the given radius centered on the grid,
// equal to 1 inside and decaying to 0 over roughly width pixels.
func Disk(n int, radius, width, scale float64) *models.Field {
	c := float64(n-1) / 2
	return fill(n, scale, func(y, x float64) float64 {
		r := math.Hypot(y-c, x-c)
		return logistic((r - radius) / width)
	})
}

// Shadow is a plateau of the given amplitude whose edge sits inset pixels
// inside a disk of the given radius, so its gradient runs parallel to the
// disk's gradient just inside the disk edge.
func Shadow(n int, radius, inset, width, amplitude, scale float64) *models.Field {
	c := float64(n-1) / 2
	return fill(n, scale, func(y, x float64) float64 {
		r := math.Hypot(y-c, x-c)
		return amplitude * logistic((r-(radius-inset))/width)
	})
}

// Noise draws independent normal pixels with standard deviation sigma
func Noise(n int, sigma, scale float64, seed int64) *models.Field {
	rng := rand.New(rand.NewSource(seed))
	return fill(n, scale, func(y, x float64) float64 {
		return sigma * rng.NormFloat64()
	})
}

// Bumps is a smooth, asymmetric pair of Gaussian bumps used as a predicted field
func Bumps(n int, scale float64) *models.Field {
	nf := float64(n)
	y1, x1, s1 := 0.35*nf, 0.6*nf, 0.09*nf
	y2, x2, s2 := 0.7*nf, 0.3*nf, 0.06*nf
	return fill(n, scale, func(y, x float64) float64 {
		a := math.Exp(-((y-y1)*(y-y1) + (x-x1)*(x-x1)) / (2 * s1 * s1))
		b := 0.6 * math.Exp(-((y-y2)*(y-y2)+(x-x2)*(x-x2))/(2*s2*s2))
		return a + b
	})
}

// Add returns the pixel-wise sum of the fields
func Add(fields ...*models.Field) *models.Field {
	out := fields[0].Clone()
	for _, f := range fields[1:] {
		for i, v := range f.Data {
			out.Data[i] += v
		}
	}
	return out
}

// Scenario bundles the three inputs of a shadow analysis
type Scenario struct {
	Source    *models.Field
	Predicted *models.Field
	Observed  *models.Field
	Residual  *models.Field
}

// ScenarioOptions controls NewScenario
type ScenarioOptions struct {
	Size      int
	Radius    float64
	EdgeWidth float64
	Amplitude float64
	Noise     float64
	ShiftY    float64
	ShiftX    float64
	Seed      int64
}

// DefaultScenario is a 64x64 grid with a clear shadow signal
func DefaultScenario() ScenarioOptions {
	return ScenarioOptions{
		Size:      64,
		Radius:    18,
		EdgeWidth: 1.5,
		Amplitude: 0.5,
		Noise:     0.02,
		ShiftY:    1.4,
		ShiftX:    -0.8,
		Seed:      17,
	}
}

// NewScenario builds a source disk, a predicted field and an observation
// equal to the shifted prediction plus the shadow residual and noise.
// Amplitude 0 yields an observation without any shadow.
func NewScenario(o ScenarioOptions) Scenario {
	const scale = 1.0
	source := Disk(o.Size, o.Radius, o.EdgeWidth, scale)
	predicted := Bumps(o.Size, scale)
	residual := Shadow(o.Size, o.Radius, 1, o.EdgeWidth, o.Amplitude, scale)
	noise := Noise(o.Size, o.Noise, scale, o.Seed)

	// The observation sees the prediction displaced by (ShiftY, ShiftX)
	displaced := interpolation.Shift(predicted, -o.ShiftY, -o.ShiftX, interpolation.DefaultSupport)
	observed := Add(displaced, residual, noise)
	return Scenario{
		Source:    source,
		Predicted: predicted,
		Observed:  observed,
		Residual:  Add(residual, noise),
	}
}
