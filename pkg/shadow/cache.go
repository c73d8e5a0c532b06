package shadow

import (
	"fmt"

	"shadowstat/internal/models"
	"shadowstat/pkg/spectral"
)

// SourceBand is the band-limited source gradient of one band
type SourceBand struct {
	Band       spectral.BandSpec
	Gx         *models.Field
	Gy         *models.Field
	Mag        *models.Field
	LambdaMean float64
}

// SourceBands is the read-only per-band gradient cache of the source field.
// Band order follows the configuration.
type SourceBands struct {
	Width  int
	Height int
	Bands  []SourceBand
}

// BuildSourceBands band-passes the source field once per band and stores the
// Scharr gradient of each result.
func BuildSourceBands(source *models.Field, bands []spectral.BandSpec) (*SourceBands, error) {
	if err := source.Validate(); err != nil {
		return nil, err
	}
	out := &SourceBands{Width: source.Width, Height: source.Height}
	for _, b := range bands {
		filtered, err := spectral.Apply(source, b)
		if err != nil {
			return nil, fmt.Errorf("source band %q: %w", b.Name, err)
		}
		gx, gy, mag := spectral.Gradient(filtered)
		out.Bands = append(out.Bands, SourceBand{
			Band:       b,
			Gx:         gx,
			Gy:         gy,
			Mag:        mag,
			LambdaMean: b.LambdaMean(),
		})
	}
	return out, nil
}

// ResidualBands maps band name to the band-passed residual field
type ResidualBands map[string]*models.Field

// BuildResidualBands band-passes the residual field once per band
func BuildResidualBands(residual *models.Field, bands []spectral.BandSpec) (ResidualBands, error) {
	if err := residual.Validate(); err != nil {
		return nil, err
	}
	out := make(ResidualBands, len(bands))
	for _, b := range bands {
		filtered, err := spectral.Apply(residual, b)
		if err != nil {
			return nil, fmt.Errorf("residual band %q: %w", b.Name, err)
		}
		out[b.Name] = filtered
	}
	return out, nil
}
