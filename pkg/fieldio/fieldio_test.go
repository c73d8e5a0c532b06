package fieldio

import (
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"shadowstat/internal/models"
)

// createTestField creates a field with a ramp pattern and one missing pixel
func createTestField(t *testing.T) *models.Field {
	f, err := models.NewField(5, 4, 0.75)
	if err != nil {
		t.Fatalf("Failed to create field: %v", err)
	}
	for i := range f.Data {
		f.Data[i] = float64(i) / 10
	}
	f.Data[7] = math.NaN()
	return f
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "field.bin")
	f := createTestField(t)

	if err := Write(path, f); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := os.Stat(SidecarPath(path)); err != nil {
		t.Fatalf("Expected header file: %v", err)
	}

	got, err := Read(path, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.Width != 5 || got.Height != 4 {
		t.Errorf("Expected 5x4, got %dx%d", got.Width, got.Height)
	}
	if got.Scale != 0.75 {
		t.Errorf("Expected scale 0.75, got %f", got.Scale)
	}
	for i := range f.Data {
		if i == 7 {
			if !math.IsNaN(got.Data[i]) {
				t.Errorf("Expected NaN at 7, got %f", got.Data[i])
			}
			continue
		}
		if got.Data[i] != f.Data[i] {
			t.Errorf("Value %d: expected %f, got %f", i, f.Data[i], got.Data[i])
		}
	}

	scaled, err := Read(path, 2)
	if err != nil {
		t.Fatalf("Read with scale failed: %v", err)
	}
	if scaled.Scale != 2 {
		t.Errorf("Expected scale override 2, got %f", scaled.Scale)
	}
}

func TestReadRejectsTruncatedData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "field.bin")
	if err := Write(path, createTestField(t)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, 16), 0644); err != nil {
		t.Fatalf("Failed to truncate: %v", err)
	}
	if _, err := Read(path, 0); err == nil {
		t.Error("Expected error for truncated data")
	}
}

func TestPreview(t *testing.T) {
	img := Preview(createTestField(t))
	gray, ok := img.(*image.Gray16)
	if !ok {
		t.Fatalf("Expected *image.Gray16, got %T", img)
	}
	if gray.Bounds().Dx() != 5 || gray.Bounds().Dy() != 4 {
		t.Errorf("Expected 5x4 image, got %v", gray.Bounds())
	}
	if v := gray.Gray16At(0, 0).Y; v != 0 {
		t.Errorf("Expected minimum to map to 0, got %d", v)
	}
	if v := gray.Gray16At(4, 3).Y; v != 65535 {
		t.Errorf("Expected maximum to map to 65535, got %d", v)
	}
	if v := gray.Gray16At(2, 1).Y; v != 0 {
		t.Errorf("Expected NaN pixel to be black, got %d", v)
	}
}

func TestDumper(t *testing.T) {
	dir := t.TempDir()
	f := createTestField(t)

	var disabled *Dumper
	if err := disabled.SaveField("x", "y", f); err != nil {
		t.Errorf("nil dumper should be a no-op, got %v", err)
	}

	d := &Dumper{Dir: dir, Enabled: true}
	if err := d.SaveField("01_inputs", "observed", f); err != nil {
		t.Fatalf("SaveField failed: %v", err)
	}
	m := models.FullMask(5, 4)
	if err := d.SaveMask("01_inputs", "region", m); err != nil {
		t.Fatalf("SaveMask failed: %v", err)
	}
	for _, name := range []string{"observed.bin", "observed.bin.json", "observed.png", "region.png"} {
		if _, err := os.Stat(filepath.Join(dir, "01_inputs", name)); err != nil {
			t.Errorf("Expected %s: %v", name, err)
		}
	}

	if err := SaveImage(filepath.Join(dir, "preview.jpg"), Preview(f)); err != nil {
		t.Errorf("Failed to save JPEG: %v", err)
	}
}
