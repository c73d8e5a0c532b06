package mask

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowstat/internal/models"
)

func TestCleanRemovesSpeckle(t *testing.T) {
	m := models.NewMask(10, 10)
	m.Bits[5*10+5] = true

	out := Clean(m, 2, 1)
	assert.Equal(t, 0, out.Count())
	assert.True(t, m.Bits[55], "input must not be mutated")
}

func TestCloseErodesGridBorder(t *testing.T) {
	m := models.FullMask(8, 8)

	// closing(iter=1) on a full grid leaves the interior 6x6
	closed := Close(m, 1)
	assert.Equal(t, 36, closed.Count())
	assert.False(t, closed.Bits[0])
	assert.False(t, closed.Bits[3*8+7])
	assert.True(t, closed.Bits[1*8+1])

	// two closing passes strip two rows; opening then restores the cross shape
	out := Clean(m, 2, 1)
	assert.False(t, out.Bits[1*8+1])
	assert.True(t, out.Bits[3*8+3])
	assert.Equal(t, 12, out.Count())
}

func TestCloseFillsHole(t *testing.T) {
	m := models.NewMask(11, 11)
	for y := 2; y < 9; y++ {
		for x := 2; x < 9; x++ {
			m.Bits[y*11+x] = true
		}
	}
	m.Bits[5*11+5] = false

	out := Close(m, 1)
	assert.Equal(t, 49, out.Count())
	assert.True(t, out.Bits[5*11+5])
}

func TestOpenKeepsLargeRegion(t *testing.T) {
	m := models.NewMask(12, 12)
	for y := 2; y < 10; y++ {
		for x := 2; x < 10; x++ {
			m.Bits[y*12+x] = true
		}
	}
	out := Open(m, 1)
	// Opening with the cross keeps the square except its four corners
	assert.Equal(t, 64-4, out.Count())
}

func TestEdgeTrim(t *testing.T) {
	m := models.FullMask(20, 20)
	out := EdgeTrim(m, 0.1, 1)
	assert.Equal(t, 14*14, out.Count())

	untouched := EdgeTrim(m, 0, 3)
	assert.Equal(t, 400, untouched.Count())
}

func TestBlockIDs(t *testing.T) {
	ids, n := BlockIDs(5, 3, 2)
	require.Equal(t, 6, n)
	require.Len(t, ids, 15)

	assert.Equal(t, 0, ids[0])
	assert.Equal(t, 2, ids[4])
	assert.Equal(t, 3, ids[2*5+0])
	assert.Equal(t, 5, ids[2*5+4])

	_, single := BlockIDs(4, 4, 0)
	assert.Equal(t, 16, single, "block size is clamped to one pixel")
}

func TestQuantileGuards(t *testing.T) {
	_, ok := Quantile(nil, nil, 0.5)
	assert.False(t, ok)

	_, ok = Quantile([]float64{1, 2}, nil, 1.5)
	assert.False(t, ok)

	_, ok = Quantile([]float64{math.NaN(), math.Inf(1)}, nil, 0.5)
	assert.False(t, ok)

	v, ok := Quantile([]float64{math.NaN(), 7, 3}, nil, 1)
	require.True(t, ok)
	assert.Equal(t, 7.0, v)

	v, ok = Quantile([]float64{1, 100, 3}, []bool{true, false, true}, 1)
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	lo, _ := Quantile([]float64{5, 1, 4, 2, 3}, nil, 0.3)
	hi, _ := Quantile([]float64{5, 1, 4, 2, 3}, nil, 0.8)
	assert.LessOrEqual(t, lo, hi)
}

func TestQuantileInterpolation(t *testing.T) {
	// Matches numpy's default linear method
	cases := []struct {
		vals []float64
		q    float64
		want float64
	}{
		{[]float64{4, 1, 3, 2}, 0.3, 1.9},
		{[]float64{4, 1, 3, 2}, 0.5, 2.5},
		{[]float64{5, 1, 4, 2, 3}, 0.025, 1.1},
		{[]float64{5, 1, 4, 2, 3}, 0.975, 4.9},
		{[]float64{10, 0}, 0.85, 8.5},
		{[]float64{7}, 0.4, 7},
		{[]float64{1, 2, 3}, 0, 1},
		{[]float64{1, 2, 3}, 1, 3},
	}
	for _, c := range cases {
		got, ok := Quantile(c.vals, nil, c.q)
		require.True(t, ok)
		assert.InDelta(t, c.want, got, 1e-12, "q=%g of %v", c.q, c.vals)
	}
}

func TestAboveQuantile(t *testing.T) {
	f, err := models.NewField(10, 10, 1)
	require.NoError(t, err)
	for i := range f.Data {
		f.Data[i] = float64(i)
	}

	out := AboveQuantile(f, models.FullMask(10, 10), 0.9)
	assert.InDelta(t, 10, out.Count(), 2)
	assert.True(t, out.Bits[99])
	assert.False(t, out.Bits[0])

	fallback := AboveQuantile(f, models.FullMask(10, 10), math.NaN())
	assert.Equal(t, 100, fallback.Count())
}

func TestFinite(t *testing.T) {
	a, _ := models.NewField(2, 2, 1)
	b, _ := models.NewField(2, 2, 1)
	a.Data[0] = math.NaN()
	b.Data[3] = math.Inf(-1)

	m := Finite(a, b)
	assert.Equal(t, []bool{false, true, true, false}, m.Bits)
}
