package shadow

import (
	"fmt"
	"math"
	"strings"
)

// AngleKernel shapes the signed alignment quantity -cos(theta) of one band.
// Implementations are PowerKernel and VonMisesKernel.
type AngleKernel interface {
	// Shape rewrites signed in place. dot holds cos(theta) for the same
	// pixels and lambdaMean is the band's mean wavelength in pixels.
	Shape(signed, dot []float64, lambdaMean float64)

	// Name is the configuration selector of the kernel
	Name() string
}

// PowerKernel applies sign(x)*|x|^Gamma. Gamma is floored at 0.1.
type PowerKernel struct {
	Gamma float64
}

// Name implements AngleKernel
func (PowerKernel) Name() string { return "power" }

// Shape implements AngleKernel
func (k PowerKernel) Shape(signed, _ []float64, _ float64) {
	gamma := math.Max(0.1, k.Gamma)
	if math.Abs(gamma-1) <= 1e-9 {
		return
	}
	for i, x := range signed {
		if x == 0 {
			continue
		}
		signed[i] = math.Copysign(math.Pow(math.Abs(x), gamma), x)
	}
}

// VonMisesKernel multiplies the signed quantity by exp(-kappa_eff*cos(theta))
// normalized to unit mean over the band's pixels, which favours angles near pi.
//
// kappa_eff = max(0, Kappa) * scale, where scale is
// max(0.1, lambdaMean/HCutPix) * max(0.1, Chi) when HCutPix and lambdaMean are
// positive and max(0.1, Chi) otherwise.
type VonMisesKernel struct {
	Kappa   float64
	HCutPix float64
	Chi     float64
}

// Name implements AngleKernel
func (VonMisesKernel) Name() string { return "von-mises" }

// EffectiveKappa returns kappa_eff for a band of the given mean wavelength
func (k VonMisesKernel) EffectiveKappa(lambdaMean float64) float64 {
	scale := math.Max(0.1, k.Chi)
	if k.HCutPix > 0 && lambdaMean > 0 {
		scale *= math.Max(0.1, lambdaMean/k.HCutPix)
	}
	return math.Max(0, k.Kappa) * scale
}

// Shape implements AngleKernel
func (k VonMisesKernel) Shape(signed, dot []float64, lambdaMean float64) {
	if len(signed) == 0 {
		return
	}
	kappa := k.EffectiveKappa(lambdaMean)
	w := make([]float64, len(dot))
	var sum float64
	for i, d := range dot {
		w[i] = math.Exp(-kappa * d)
		sum += w[i]
	}
	mean := sum / float64(len(w))
	if math.IsNaN(mean) || math.IsInf(mean, 0) || mean <= 1e-12 {
		mean = 1
	}
	for i := range signed {
		signed[i] *= w[i] / mean
	}
}

// ParseKernel builds a kernel from its configuration selector
func ParseKernel(name string, gamma, kappa, hCutPix, chi float64) (AngleKernel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "power":
		return PowerKernel{Gamma: gamma}, nil
	case "von-mises", "vonmises", "von_mises":
		return VonMisesKernel{Kappa: kappa, HCutPix: hCutPix, Chi: chi}, nil
	default:
		return nil, fmt.Errorf("unknown angle kernel %q (want power or von-mises)", name)
	}
}
