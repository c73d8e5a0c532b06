package spectral

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Plan holds reusable 1D transforms for a fixed grid shape.
// A Plan is not safe for concurrent use.
type Plan struct {
	width  int
	height int
	rows   *fourier.CmplxFFT
	cols   *fourier.CmplxFFT
	col    []complex128
}

// NewPlan creates the row and column transforms for a width x height grid
func NewPlan(width, height int) *Plan {
	return &Plan{
		width:  width,
		height: height,
		rows:   fourier.NewCmplxFFT(width),
		cols:   fourier.NewCmplxFFT(height),
		col:    make([]complex128, height),
	}
}

// Forward performs an unnormalized 2D FFT of real row-major data.
//
// Parameters:
//   - data: Input grid as a 1D array (row-major order)
//
// Returns:
//   - The 2D spectrum as a 1D array of complex numbers (row-major order)
func (p *Plan) Forward(data []float64) []complex128 {
	spec := make([]complex128, len(data))
	for i, v := range data {
		spec[i] = complex(v, 0)
	}
	p.transform(spec, false)
	return spec
}

// ForwardComplex transforms spec in place
func (p *Plan) ForwardComplex(spec []complex128) {
	p.transform(spec, false)
}

// Inverse performs the inverse 2D FFT in place, normalized by 1/(width*height)
func (p *Plan) Inverse(spec []complex128) {
	p.transform(spec, true)
	scale := complex(1/float64(p.width*p.height), 0)
	for i := range spec {
		spec[i] *= scale
	}
}

// InverseReal returns the real part of the normalized inverse transform.
// spec is consumed.
func (p *Plan) InverseReal(spec []complex128) []float64 {
	p.Inverse(spec)
	out := make([]float64, len(spec))
	for i, c := range spec {
		out[i] = real(c)
	}
	return out
}

func (p *Plan) transform(spec []complex128, inverse bool) {
	// Rows first
	for y := 0; y < p.height; y++ {
		row := spec[y*p.width : (y+1)*p.width]
		if inverse {
			p.rows.Sequence(row, row)
		} else {
			p.rows.Coefficients(row, row)
		}
	}

	// Then columns through a scratch buffer
	for x := 0; x < p.width; x++ {
		for y := 0; y < p.height; y++ {
			p.col[y] = spec[y*p.width+x]
		}
		if inverse {
			p.cols.Sequence(p.col, p.col)
		} else {
			p.cols.Coefficients(p.col, p.col)
		}
		for y := 0; y < p.height; y++ {
			spec[y*p.width+x] = p.col[y]
		}
	}
}

// Freq returns the sample frequencies of an n-point FFT in cycles per pixel,
// ordered like the transform output: 0, 1/n, ..., then the negative half.
func Freq(n int) []float64 {
	f := make([]float64, n)
	half := (n - 1) / 2
	for i := 0; i <= half; i++ {
		f[i] = float64(i) / float64(n)
	}
	for i := half + 1; i < n; i++ {
		f[i] = float64(i-n) / float64(n)
	}
	return f
}

// Wavenumbers returns the radial angular wavenumber |k| = 2*pi*hypot(fy, fx)
// for every bin of a width x height spectrum.
func Wavenumbers(width, height int) []float64 {
	fx := Freq(width)
	fy := Freq(height)
	k := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			k[y*width+x] = 2 * math.Pi * math.Hypot(fy[y], fx[x])
		}
	}
	return k
}
