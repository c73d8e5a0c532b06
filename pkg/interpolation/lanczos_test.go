package interpolation

import (
	"math"
	"testing"

	"shadowstat/internal/models"
)

func rampField(t *testing.T, w, h int, fn func(y, x float64) float64) *models.Field {
	t.Helper()
	f, err := models.NewField(w, h, 1.0)
	if err != nil {
		t.Fatalf("Failed to create field: %v", err)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.Set(y, x, fn(float64(y), float64(x)))
		}
	}
	return f
}

// TestLanczosKernel verifies normalization and the zero-shift impulse
func TestLanczosKernel(t *testing.T) {
	for _, frac := range []float64{0, 0.1, 0.5, 0.9} {
		k := LanczosKernel(frac, 3)
		if len(k) != 6 {
			t.Fatalf("Expected 6 taps, got %d", len(k))
		}
		var sum float64
		for _, v := range k {
			sum += v
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("frac=%f: expected kernel sum 1, got %f", frac, sum)
		}
	}

	impulse := LanczosKernel(0, 3)
	for i, v := range impulse {
		expected := 0.0
		if i == 2 {
			expected = 1.0
		}
		if math.Abs(v-expected) > 1e-12 {
			t.Errorf("Expected tap %d = %f, got %f", i, expected, v)
		}
	}
}

// TestShiftIntegerMatchesRoll checks integer offsets reduce to a circular roll
func TestShiftIntegerMatchesRoll(t *testing.T) {
	f := rampField(t, 9, 7, func(y, x float64) float64 { return y*10 + x })
	shifted := Shift(f, 2, -3, DefaultSupport)
	rolled := Roll(f, 2, -3)

	for i := range f.Data {
		if shifted.Data[i] != rolled.Data[i] {
			t.Fatalf("Mismatch at %d: shift=%f roll=%f", i, shifted.Data[i], rolled.Data[i])
		}
	}
	if rolled.At(0, 0) != f.At(2, 6) {
		t.Errorf("Expected roll(0,0)=%f, got %f", f.At(2, 6), rolled.At(0, 0))
	}
}

// TestShiftZeroIsIdentity ensures no resampling happens for a zero offset
func TestShiftZeroIsIdentity(t *testing.T) {
	f := rampField(t, 8, 8, func(y, x float64) float64 { return math.Sin(x) * math.Cos(y) })
	out := Shift(f, 0, 0, DefaultSupport)
	for i := range f.Data {
		if out.Data[i] != f.Data[i] {
			t.Fatalf("Expected identical value at %d", i)
		}
	}
}

// TestShiftFractional resamples a smooth sinusoid by sub-pixel offsets
func TestShiftFractional(t *testing.T) {
	const period = 32.0
	f := rampField(t, 64, 4, func(y, x float64) float64 { return math.Sin(2 * math.Pi * x / period) })

	for _, dx := range []float64{0.5, -0.25, 1.3} {
		out := Shift(f, 0, dx, DefaultSupport)
		for x := 4; x < 60; x++ {
			expected := math.Sin(2 * math.Pi * (float64(x) + dx) / period)
			got := out.At(1, x)
			if math.Abs(got-expected) > 5e-3 {
				t.Errorf("dx=%f x=%d: expected %f, got %f", dx, x, expected, got)
			}
		}
	}
}

// TestShiftDoesNotMutate ensures the input field is left intact
func TestShiftDoesNotMutate(t *testing.T) {
	f := rampField(t, 6, 6, func(y, x float64) float64 { return x })
	before := f.Clone()
	_ = Shift(f, 0.4, 1.7, DefaultSupport)
	for i := range f.Data {
		if f.Data[i] != before.Data[i] {
			t.Fatalf("Input mutated at %d", i)
		}
	}
}
