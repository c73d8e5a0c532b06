// Package spectral provides the frequency-domain and derivative operators used
// by the shadow statistic: ring band-pass filtering, the Scharr gradient and
// Gaussian smoothing.
package spectral

import (
	"errors"
	"fmt"
	"math"

	"shadowstat/internal/models"
)

const (
	// minLambda is the smallest wavelength (in pixels) accepted after clamping
	minLambda = 1e-6
)

// ErrInvalidBand is matched by every *InvalidBandError
var ErrInvalidBand = errors.New("invalid band")

// InvalidBandError describes a rejected wavelength window
type InvalidBandError struct {
	Name      string
	LambdaMin float64
	LambdaMax float64
	Reason    string
}

func (e *InvalidBandError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("invalid band %q [%g, %g]: %s", e.Name, e.LambdaMin, e.LambdaMax, e.Reason)
	}
	return fmt.Sprintf("invalid band [%g, %g]: %s", e.LambdaMin, e.LambdaMax, e.Reason)
}

// Is lets errors.Is match ErrInvalidBand
func (e *InvalidBandError) Is(target error) bool {
	return target == ErrInvalidBand
}

// BandSpec is one real-space wavelength window, in pixels
type BandSpec struct {
	Name      string
	LambdaMin float64
	LambdaMax float64
}

// NewBandSpec validates and returns a band
func NewBandSpec(name string, lambdaMin, lambdaMax float64) (BandSpec, error) {
	b := BandSpec{Name: name, LambdaMin: lambdaMin, LambdaMax: lambdaMax}
	if err := b.Validate(); err != nil {
		return BandSpec{}, err
	}
	return b, nil
}

// Validate checks the band invariants
func (b BandSpec) Validate() error {
	if b.Name == "" {
		return &InvalidBandError{LambdaMin: b.LambdaMin, LambdaMax: b.LambdaMax, Reason: "empty name"}
	}
	return validateWindow(b.Name, b.LambdaMin, b.LambdaMax)
}

// LambdaMean returns the midpoint wavelength of the window
func (b BandSpec) LambdaMean() float64 {
	return 0.5 * (b.LambdaMin + b.LambdaMax)
}

func validateWindow(name string, lambdaMin, lambdaMax float64) error {
	bad := func(reason string) error {
		return &InvalidBandError{Name: name, LambdaMin: lambdaMin, LambdaMax: lambdaMax, Reason: reason}
	}
	if math.IsNaN(lambdaMin) || math.IsInf(lambdaMin, 0) || math.IsNaN(lambdaMax) || math.IsInf(lambdaMax, 0) {
		return bad("bounds must be finite")
	}
	if lambdaMin <= 0 || lambdaMax <= 0 {
		return bad("bounds must be positive")
	}
	if lambdaMax <= lambdaMin {
		return bad("lambda_max must exceed lambda_min")
	}
	return nil
}

// RingBandpass keeps the spectral content with kLow <= |k| <= kHigh, where
// |k| is the angular wavenumber in radians per pixel. NaN inputs are treated
// as zero before the transform.
func RingBandpass(f *models.Field, kLow, kHigh float64) (*models.Field, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	data := make([]float64, len(f.Data))
	for i, v := range f.Data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			data[i] = v
		}
	}

	plan := NewPlan(f.Width, f.Height)
	spec := plan.Forward(data)
	k := Wavenumbers(f.Width, f.Height)
	for i := range spec {
		if k[i] < kLow || k[i] > kHigh {
			spec[i] = 0
		}
	}

	out := f.Like()
	out.Data = plan.InverseReal(spec)
	return out, nil
}

// RingBandpassLambda filters f to the real-space wavelength window
// [lambdaMin, lambdaMax] given in pixels.
func RingBandpassLambda(f *models.Field, lambdaMin, lambdaMax float64) (*models.Field, error) {
	if err := validateWindow("", lambdaMin, lambdaMax); err != nil {
		return nil, err
	}
	lambdaMin = math.Max(lambdaMin, minLambda)
	lambdaMax = math.Max(lambdaMax, lambdaMin+minLambda)
	kHigh := 2 * math.Pi / lambdaMin
	kLow := 2 * math.Pi / lambdaMax
	return RingBandpass(f, kLow, kHigh)
}

// Apply filters f to the window of band
func Apply(f *models.Field, band BandSpec) (*models.Field, error) {
	if err := band.Validate(); err != nil {
		return nil, err
	}
	return RingBandpassLambda(f, band.LambdaMin, band.LambdaMax)
}
