package mask

import (
	"math"
	"sort"

	"shadowstat/internal/models"
)

// Quantile returns the q-quantile of the finite values in vals, optionally
// restricted to sel, interpolated like SortedQuantile. ok is false when
// nothing is selected or q is unusable.
func Quantile(vals []float64, sel []bool, q float64) (v float64, ok bool) {
	if math.IsNaN(q) || q < 0 || q > 1 {
		return 0, false
	}
	picked := make([]float64, 0, len(vals))
	for i, x := range vals {
		if sel != nil && !sel[i] {
			continue
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		picked = append(picked, x)
	}
	if len(picked) == 0 {
		return 0, false
	}
	sort.Float64s(picked)
	v = SortedQuantile(picked, q)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// SortedQuantile interpolates linearly between the order statistics at
// rank (n-1)*q (Hyndman-Fan type 7). sorted must be ascending and non-empty.
func SortedQuantile(sorted []float64, q float64) float64 {
	h := float64(len(sorted)-1) * q
	lo := int(math.Floor(h))
	if lo < 0 {
		return sorted[0]
	}
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// Finite returns the pixels that are finite in every field
func Finite(fields ...*models.Field) *models.Mask {
	if len(fields) == 0 {
		return nil
	}
	m := models.FullMask(fields[0].Width, fields[0].Height)
	for _, f := range fields {
		for i, v := range f.Data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				m.Bits[i] = false
			}
		}
	}
	return m
}

// AboveQuantile keeps the pixels of base where f is at or above its q-quantile
// over base. When the quantile cannot be computed base is returned unchanged.
func AboveQuantile(f *models.Field, base *models.Mask, q float64) *models.Mask {
	var sel []bool
	if base != nil {
		sel = base.Bits
	}
	thr, ok := Quantile(f.Data, sel, q)
	if !ok {
		if base == nil {
			return models.FullMask(f.Width, f.Height)
		}
		return base.Clone()
	}
	out := models.NewMask(f.Width, f.Height)
	for i, v := range f.Data {
		if sel != nil && !sel[i] {
			continue
		}
		out.Bits[i] = v >= thr
	}
	return out
}
