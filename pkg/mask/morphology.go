// Package mask builds and cleans the boolean regions the statistic is computed over.
package mask

import (
	"shadowstat/internal/models"
)

// cross is the 4-connected structuring element
var cross = [5][2]int{{0, 0}, {-1, 0}, {1, 0}, {0, -1}, {0, 1}}

// Dilate grows m by the cross element. Pixels outside the grid count as false.
func Dilate(m *models.Mask, iterations int) *models.Mask {
	out := m.Clone()
	for it := 0; it < iterations; it++ {
		out = step(out, false, false)
	}
	return out
}

// Erode shrinks m by the cross element. border is the value assumed
// for pixels outside the grid.
func Erode(m *models.Mask, iterations int, border bool) *models.Mask {
	out := m.Clone()
	for it := 0; it < iterations; it++ {
		out = step(out, true, border)
	}
	return out
}

func step(m *models.Mask, erode, border bool) *models.Mask {
	out := models.NewMask(m.Width, m.Height)
	w, h := m.Width, m.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hit := erode
			for _, d := range cross {
				yy, xx := y+d[0], x+d[1]
				v := border
				if yy >= 0 && yy < h && xx >= 0 && xx < w {
					v = m.Bits[yy*w+xx]
				}
				if erode && !v {
					hit = false
					break
				}
				if !erode && v {
					hit = true
					break
				}
			}
			out.Bits[y*w+x] = hit
		}
	}
	return out
}

// Close fills small gaps: dilation then erosion
func Close(m *models.Mask, iterations int) *models.Mask {
	if iterations <= 0 {
		return m.Clone()
	}
	return Erode(Dilate(m, iterations), iterations, false)
}

// Open removes speckle: erosion then dilation
func Open(m *models.Mask, iterations int) *models.Mask {
	if iterations <= 0 {
		return m.Clone()
	}
	return Dilate(Erode(m, iterations, false), iterations)
}

// Clean applies closing then opening. Pixels outside the grid are false in
// every pass, so regions touching the border lose their outer rows.
func Clean(m *models.Mask, closeIter, openIter int) *models.Mask {
	return Open(Close(m, closeIter), openIter)
}

// EdgeTrim clears a border of round(min(w,h)*frac) pixels and then erodes
// the remainder iterations times with an empty border.
func EdgeTrim(m *models.Mask, frac float64, iterations int) *models.Mask {
	short := m.Width
	if m.Height < short {
		short = m.Height
	}
	trim := int(float64(short)*frac + 0.5)
	if trim <= 0 {
		return m.Clone()
	}
	out := m.Clone()
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if y < trim || y >= m.Height-trim || x < trim || x >= m.Width-trim {
				out.Bits[y*m.Width+x] = false
			}
		}
	}
	if iterations > 0 {
		out = Erode(out, iterations, false)
	}
	return out
}
