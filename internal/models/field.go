package models

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidScale is returned when a field is given a non-positive or non-finite pixel scale.
	ErrInvalidScale = errors.New("pixel scale must be positive and finite")

	// ErrInvalidShape is returned for empty grids or data that does not match the grid.
	ErrInvalidShape = errors.New("invalid field shape")

	// ErrShapeMismatch is returned when two grids that must agree do not.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// Field represents a 2D scalar field with its physical pixel scale
type Field struct {
	// Data is the field data as a 1D array in row-major order.
	// NaN marks a missing value.
	Data []float64

	// Width is the number of columns
	Width int

	// Height is the number of rows
	Height int

	// Scale is the physical length of one pixel (e.g. kpc/pixel)
	Scale float64
}

// NewField allocates a zero-valued field with the given shape and scale
func NewField(width, height int, scale float64) (*Field, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidShape, width, height)
	}
	if !(scale > 0) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}
	return &Field{
		Data:   make([]float64, width*height),
		Width:  width,
		Height: height,
		Scale:  scale,
	}, nil
}

// FieldFromData wraps existing row-major data. The slice is not copied.
func FieldFromData(data []float64, width, height int, scale float64) (*Field, error) {
	f := &Field{Data: data, Width: width, Height: height, Scale: scale}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks the invariants of the field
func (f *Field) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil field", ErrInvalidShape)
	}
	if f.Width <= 0 || f.Height <= 0 || len(f.Data) != f.Width*f.Height {
		return fmt.Errorf("%w: %dx%d with %d values", ErrInvalidShape, f.Width, f.Height, len(f.Data))
	}
	if !(f.Scale > 0) || math.IsInf(f.Scale, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidScale, f.Scale)
	}
	return nil
}

// At returns the value at row y, column x
func (f *Field) At(y, x int) float64 {
	return f.Data[y*f.Width+x]
}

// Set stores v at row y, column x
func (f *Field) Set(y, x int, v float64) {
	f.Data[y*f.Width+x] = v
}

// Len returns the number of pixels
func (f *Field) Len() int {
	return f.Width * f.Height
}

// Clone returns a deep copy of the field
func (f *Field) Clone() *Field {
	data := make([]float64, len(f.Data))
	copy(data, f.Data)
	return &Field{Data: data, Width: f.Width, Height: f.Height, Scale: f.Scale}
}

// Like returns a zero-valued field with the same shape and scale
func (f *Field) Like() *Field {
	return &Field{Data: make([]float64, len(f.Data)), Width: f.Width, Height: f.Height, Scale: f.Scale}
}

// SameShape reports whether both fields have identical dimensions
func (f *Field) SameShape(o *Field) bool {
	return f != nil && o != nil && f.Width == o.Width && f.Height == o.Height
}

// CheckSameShape returns ErrShapeMismatch when the fields do not share dimensions
func CheckSameShape(a, b *Field) error {
	if !a.SameShape(b) {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, a.Width, a.Height, b.Width, b.Height)
	}
	return nil
}

// Mask is a boolean region over a field grid
type Mask struct {
	Bits   []bool
	Width  int
	Height int
}

// NewMask allocates an all-false mask
func NewMask(width, height int) *Mask {
	return &Mask{Bits: make([]bool, width*height), Width: width, Height: height}
}

// FullMask allocates an all-true mask
func FullMask(width, height int) *Mask {
	m := NewMask(width, height)
	for i := range m.Bits {
		m.Bits[i] = true
	}
	return m
}

// MaskFor allocates an all-false mask matching the field grid
func MaskFor(f *Field) *Mask {
	return NewMask(f.Width, f.Height)
}

// Count returns the number of true elements
func (m *Mask) Count() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Any reports whether at least one element is true
func (m *Mask) Any() bool {
	if m == nil {
		return false
	}
	for _, b := range m.Bits {
		if b {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the mask
func (m *Mask) Clone() *Mask {
	bits := make([]bool, len(m.Bits))
	copy(bits, m.Bits)
	return &Mask{Bits: bits, Width: m.Width, Height: m.Height}
}

// And returns the element-wise intersection. A nil operand acts as all-true.
func (m *Mask) And(o *Mask) *Mask {
	if m == nil {
		if o == nil {
			return nil
		}
		return o.Clone()
	}
	out := m.Clone()
	if o == nil {
		return out
	}
	for i := range out.Bits {
		out.Bits[i] = out.Bits[i] && o.Bits[i]
	}
	return out
}

// Fits reports whether the mask shares the field grid
func (m *Mask) Fits(f *Field) bool {
	return m != nil && f != nil && m.Width == f.Width && m.Height == f.Height && len(m.Bits) == len(f.Data)
}
