package ebsd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Acquisition holds microscope metadata recorded alongside patterns.
type Acquisition struct {
	Microscope      string  `json:"microscope"`
	BeamEnergy      float64 `json:"beamEnergy"` // kV
	WorkingDistance float64 `json:"workingDistance"`
	Magnification   float64 `json:"magnification"`
	StepSize        float64 `json:"stepSize"` // um
	SampleTilt      float64 `json:"sampleTilt"`
	CameraTilt      float64 `json:"cameraTilt"`
}

// Dataset is an in-memory diffraction pattern dataset: one signal
// image of SigRows x SigCols per navigation (scan) pixel.
type Dataset struct {
	NavRows  int         `json:"navRows"`
	NavCols  int         `json:"navCols"`
	SigRows  int         `json:"sigRows"`
	SigCols  int         `json:"sigCols"`
	Patterns [][]float32 `json:"patterns"`
	Metadata Acquisition `json:"metadata"`
}

// NavigationShape returns the scan grid shape as (rows, columns).
func (d *Dataset) NavigationShape() (int, int) {
	return d.NavRows, d.NavCols
}

// SignalShape returns the detector signal shape as (rows, columns).
func (d *Dataset) SignalShape() (int, int) {
	return d.SigRows, d.SigCols
}

// Pattern returns the signal image at navigation pixel i.
func (d *Dataset) Pattern(i int) []float32 {
	return d.Patterns[i]
}

// Validate checks the per-pixel pattern storage matches the shapes.
func (d *Dataset) Validate() error {
	if d.NavRows <= 0 || d.NavCols <= 0 {
		return fmt.Errorf("navigation shape (%d, %d) is empty", d.NavRows, d.NavCols)
	}
	if d.SigRows <= 0 || d.SigCols <= 0 {
		return fmt.Errorf("signal shape (%d, %d) is empty", d.SigRows, d.SigCols)
	}
	if len(d.Patterns) != d.NavRows*d.NavCols {
		return fmt.Errorf("pattern count %d does not match %d scan pixels", len(d.Patterns), d.NavRows*d.NavCols)
	}
	want := d.SigRows * d.SigCols
	for i, p := range d.Patterns {
		if len(p) != want {
			return fmt.Errorf("pattern %d has %d samples, want %d", i, len(p), want)
		}
	}
	return nil
}

// Clone returns a deep copy owning its own pattern storage.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		NavRows:  d.NavRows,
		NavCols:  d.NavCols,
		SigRows:  d.SigRows,
		SigCols:  d.SigCols,
		Patterns: make([][]float32, len(d.Patterns)),
		Metadata: d.Metadata,
	}
	for i, p := range d.Patterns {
		out.Patterns[i] = append([]float32(nil), p...)
	}
	return out
}

// ValidBinnings returns the integer factors in [2, 16] that evenly
// divide both signal dimensions.
func ValidBinnings(sigRows, sigCols int) []int {
	var factors []int
	for num := 2; num <= 16; num++ {
		if sigRows%num == 0 && sigCols%num == 0 {
			factors = append(factors, num)
		}
	}
	return factors
}

// Rebin downsamples every pattern by an integer factor using block
// means. The factor must evenly divide both signal dimensions.
func (d *Dataset) Rebin(factor int) (*Dataset, error) {
	if factor <= 1 {
		return nil, fmt.Errorf("binning factor %d must be at least 2", factor)
	}
	if d.SigRows%factor != 0 || d.SigCols%factor != 0 {
		return nil, fmt.Errorf("binning factor %d does not divide signal shape (%d, %d)", factor, d.SigRows, d.SigCols)
	}

	rows := d.SigRows / factor
	cols := d.SigCols / factor
	out := &Dataset{
		NavRows:  d.NavRows,
		NavCols:  d.NavCols,
		SigRows:  rows,
		SigCols:  cols,
		Patterns: make([][]float32, len(d.Patterns)),
		Metadata: d.Metadata,
	}

	area := float32(factor * factor)
	for i, src := range d.Patterns {
		dst := make([]float32, rows*cols)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				var sum float32
				for br := 0; br < factor; br++ {
					for bc := 0; bc < factor; bc++ {
						sum += src[(r*factor+br)*d.SigCols+(c*factor+bc)]
					}
				}
				dst[r*cols+c] = sum / area
			}
		}
		out.Patterns[i] = dst
	}
	return out, nil
}

// WriteJSON persists a dataset to disk.
func WriteJSON(path string, d *Dataset) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadJSON loads a dataset from disk.
func ReadJSON(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var d Dataset
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", path, err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}
	return &d, nil
}
