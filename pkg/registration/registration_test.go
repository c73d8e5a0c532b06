package registration

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowstat/internal/models"
	"shadowstat/pkg/spectral"
)

func gaussianBlob(t *testing.T, n int, cy, cx, sigma float64) *models.Field {
	t.Helper()
	f, err := models.NewField(n, n, 1)
	require.NoError(t, err)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			dy, dx := float64(y)-cy, float64(x)-cx
			f.Set(y, x, math.Exp(-(dy*dy+dx*dx)/(2*sigma*sigma)))
		}
	}
	return f
}

func TestAlignSelfIsIdentity(t *testing.T) {
	f := gaussianBlob(t, 48, 20, 27, 3)
	rng := rand.New(rand.NewSource(3))
	for i := range f.Data {
		f.Data[i] += 0.05 * rng.NormFloat64()
	}

	res, err := Align(f, f)
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, 0, res.PeakY)
	assert.Equal(t, 0, res.PeakX)
	assert.InDelta(t, 0, res.DY, 1e-9)
	assert.InDelta(t, 0, res.DX, 1e-9)
	assert.InDeltaSlice(t, f.Data, res.Aligned.Data, 1e-12)
}

func TestAlignRecoversSubpixelShift(t *testing.T) {
	source := gaussianBlob(t, 64, 32, 32, 4)
	target := gaussianBlob(t, 64, 32-3.3, 32+2.6, 4)

	res, err := Align(source, target)
	require.NoError(t, err)
	assert.Equal(t, 3, res.PeakY)
	assert.Equal(t, -3, res.PeakX)
	assert.InDelta(t, 3.3, res.DY, 0.1)
	assert.InDelta(t, -2.6, res.DX, 0.1)

	// The aligned source should now overlay the target
	var maxErr float64
	for i := range target.Data {
		maxErr = math.Max(maxErr, math.Abs(res.Aligned.Data[i]-target.Data[i]))
	}
	assert.Less(t, maxErr, 0.05)
}

func TestAlignIntegerOnly(t *testing.T) {
	source := gaussianBlob(t, 32, 16, 16, 2)
	target := gaussianBlob(t, 32, 11, 18, 2)

	res, err := Align(source, target, WithSubpixel(false))
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.DY)
	assert.Equal(t, -2.0, res.DX)
	assert.InDeltaSlice(t, target.Data, res.Aligned.Data, 1e-9)
}

func TestAlignFallbackOnNonFinite(t *testing.T) {
	source, _ := models.NewField(8, 8, 1)
	for i := range source.Data {
		source.Data[i] = math.NaN()
	}
	target := gaussianBlob(t, 8, 4, 4, 1)

	res, err := Align(source, target)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Zero(t, res.DY)
	assert.Zero(t, res.DX)

	// Empty comparison region behaves the same way
	res, err = Align(target, target, WithMask(models.NewMask(8, 8)))
	require.NoError(t, err)
	assert.True(t, res.Fallback)
}

func TestAlignShapeMismatch(t *testing.T) {
	a, _ := models.NewField(8, 8, 1)
	b, _ := models.NewField(8, 9, 1)
	_, err := Align(a, b)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)

	_, err = Align(a, a, WithMask(models.NewMask(4, 4)))
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
}

func TestParabolicOffset(t *testing.T) {
	assert.Zero(t, parabolicOffset(1, 1, 1))
	assert.InDelta(t, 0.25, parabolicOffset(-(1.25 * 1.25), -(0.25 * 0.25), -(0.75 * 0.75)), 1e-12)
	assert.Equal(t, -0.5, parabolicOffset(0, 1, 5))
}

func TestRotate180(t *testing.T) {
	f := gaussianBlob(t, 5, 1, 3, 1)
	r := Rotate180(f)
	assert.Equal(t, f.At(1, 3), r.At(3, 1))
	assert.InDeltaSlice(t, f.Data, Rotate180(r).Data, 0)
}

func TestWrapShift(t *testing.T) {
	f, _ := models.NewField(20, 30, 1)
	for i := range f.Data {
		f.Data[i] = float64(i)
	}
	s := WrapShift(f, DefaultWrapShift[0], DefaultWrapShift[1])
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			ty := (y + 12) % f.Height
			tx := ((x-7)%f.Width + f.Width) % f.Width
			require.Equal(t, f.At(y, x), s.At(ty, tx))
		}
	}
}

func TestPhaseRandomizeKeepsAmplitude(t *testing.T) {
	f := gaussianBlob(t, 16, 5, 9, 2)
	f.Data[3] = math.NaN()

	out := PhaseRandomize(f, rand.New(rand.NewSource(42)))
	again := PhaseRandomize(f, rand.New(rand.NewSource(42)))
	assert.Equal(t, out.Data, again.Data, "same seed must give the same control")

	clean := f.Clone()
	clean.Data[3] = 0
	plan := spectral.NewPlan(16, 16)
	want := plan.Forward(clean.Data)
	got := plan.Forward(out.Data)
	for i := range want {
		require.InDelta(t, cmplx.Abs(want[i]), cmplx.Abs(got[i]), 1e-9, "bin %d", i)
	}

	var diff float64
	for i := range clean.Data {
		diff += math.Abs(out.Data[i] - clean.Data[i])
	}
	assert.Greater(t, diff, 1e-3)
}

func TestBuildControls(t *testing.T) {
	f := gaussianBlob(t, 24, 8, 8, 2)
	c := BuildControls(f, DefaultWrapShift, rand.New(rand.NewSource(1)))
	require.NotNil(t, c.Rotated)
	require.NotNil(t, c.Shifted)
	require.NotNil(t, c.Shuffled)
	assert.Equal(t, f.At(8, 8), c.Shifted.At(20, 1))
}
