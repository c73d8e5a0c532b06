package shadow

import "math"

// Rayleigh is the unconditional test of directional non-uniformity
type Rayleigh struct {
	R float64 `json:"R"`
	Z float64 `json:"z"`
	P float64 `json:"p"`
}

// VTest is the test of concentration around the hypothesized direction 0
type VTest struct {
	V float64 `json:"V"`
	Z float64 `json:"z"`
	P float64 `json:"p"`
}

// rayleighTest uses the large-sample approximation
// p = exp(-z) * (1 + (2z - z^2) / (4n)), clamped to [0, 1].
func rayleighTest(meanCos, meanSin float64, n int) Rayleigh {
	r := math.Hypot(meanCos, meanSin)
	if n < 1 {
		return Rayleigh{R: r, Z: math.NaN(), P: math.NaN()}
	}
	nf := float64(n)
	z := nf * r * r
	p := math.Exp(-z) * (1 + (2*z-z*z)/(4*nf))
	return Rayleigh{R: r, Z: z, P: clamp(p, 0, 1)}
}

func vTest(r, mu float64, n int) VTest {
	v := r * math.Cos(mu)
	if n < 1 {
		return VTest{V: v, Z: math.NaN(), P: math.NaN()}
	}
	z := float64(n) * v * v
	return VTest{V: v, Z: z, P: math.Exp(-z)}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
