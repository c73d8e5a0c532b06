// Package fieldio reads and writes scalar fields as raw little-endian
// float64 grids with a JSON sidecar, and renders grayscale previews.
package fieldio

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"shadowstat/internal/models"
)

// Header is the JSON sidecar of a raw field
type Header struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Scale  float64 `json:"scale"`
}

// SidecarPath returns the header path of a raw field file
func SidecarPath(path string) string {
	return path + ".json"
}

// Write stores f at path and its header next to it
func Write(path string, f *models.Field) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	buf := make([]byte, 8*len(f.Data))
	for i, v := range f.Data {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to write field data: %w", err)
	}

	hdr, err := json.MarshalIndent(Header{Width: f.Width, Height: f.Height, Scale: f.Scale}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	if err := os.WriteFile(SidecarPath(path), hdr, 0644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// Read loads a field written by Write. A scale > 0 overrides the header.
func Read(path string, scale float64) (*models.Field, error) {
	raw, err := os.ReadFile(SidecarPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	var hdr Header
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("failed to parse header %s: %w", SidecarPath(path), err)
	}
	if scale > 0 {
		hdr.Scale = scale
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field data: %w", err)
	}
	if len(data) != 8*hdr.Width*hdr.Height {
		return nil, fmt.Errorf("%w: %s holds %d bytes for a %dx%d grid",
			models.ErrInvalidShape, path, len(data), hdr.Width, hdr.Height)
	}
	values := make([]float64, hdr.Width*hdr.Height)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return models.FieldFromData(values, hdr.Width, hdr.Height, hdr.Scale)
}

// Preview maps the finite range of f onto 16-bit gray. Non-finite pixels are black.
func Preview(f *models.Field) image.Image {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range f.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	img := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			v := f.Data[y*f.Width+x]
			if math.IsNaN(v) || math.IsInf(v, 0) || !(span > 0) {
				continue
			}
			value := uint16(math.Max(0, math.Min(65535, (v-lo)/span*65535)))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img
}

// MaskPreview renders selected pixels white
func MaskPreview(m *models.Mask) image.Image {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, on := range m.Bits {
		if on {
			img.SetGray(i%m.Width, i/m.Width, color.Gray{Y: 255})
		}
	}
	return img
}

// SaveImage encodes img as JPEG for .jpg/.jpeg paths and PNG otherwise
func SaveImage(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(file, img)
	}
	if err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}

// Dumper saves intermediary fields and masks per processing stage. A nil
// or disabled Dumper does nothing.
type Dumper struct {
	Dir     string
	Enabled bool
}

// SaveField writes <dir>/<stage>/<name>.bin with its header and a PNG preview
func (d *Dumper) SaveField(stage, name string, f *models.Field) error {
	if d == nil || !d.Enabled || f == nil {
		return nil
	}
	base := filepath.Join(d.Dir, stage, name)
	if err := Write(base+".bin", f); err != nil {
		return err
	}
	return SaveImage(base+".png", Preview(f))
}

// SaveMask writes a PNG of the mask
func (d *Dumper) SaveMask(stage, name string, m *models.Mask) error {
	if d == nil || !d.Enabled || m == nil {
		return nil
	}
	return SaveImage(filepath.Join(d.Dir, stage, name+".png"), MaskPreview(m))
}
