package spectral

import (
	"math"

	"shadowstat/internal/models"
)

// Axis selects the derivative direction
type Axis int

const (
	// AxisY differentiates along rows (top to bottom)
	AxisY Axis = iota
	// AxisX differentiates along columns (left to right)
	AxisX
)

// scharrSmooth is the cross-axis smoothing profile of the Scharr kernel
var scharrSmooth = [3]float64{3, 10, 3}

// reflect maps an out-of-range index onto [0, n) with half-sample symmetry,
// so -1 maps to 0 and n maps to n-1.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// Scharr applies the 3x3 Scharr derivative along axis with reflective
// boundaries. The kernel is [3,10,3]/16 across the axis and a central
// difference along it, so a unit ramp yields a derivative of 2.
func Scharr(f *models.Field, axis Axis) *models.Field {
	out := f.Like()
	w, h := f.Width, f.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for m := -1; m <= 1; m++ {
				wt := scharrSmooth[m+1]
				if axis == AxisX {
					yy := reflect(y+m, h)
					acc += wt * (f.Data[yy*w+reflect(x+1, w)] - f.Data[yy*w+reflect(x-1, w)])
				} else {
					xx := reflect(x+m, w)
					acc += wt * (f.Data[reflect(y+1, h)*w+xx] - f.Data[reflect(y-1, h)*w+xx])
				}
			}
			out.Data[y*w+x] = acc / 16
		}
	}
	return out
}

// Gradient returns the x and y Scharr derivatives and their magnitude
func Gradient(f *models.Field) (gx, gy, mag *models.Field) {
	gx = Scharr(f, AxisX)
	gy = Scharr(f, AxisY)
	mag = f.Like()
	for i := range mag.Data {
		mag.Data[i] = math.Hypot(gx.Data[i], gy.Data[i])
	}
	return gx, gy, mag
}
