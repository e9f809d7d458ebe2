package ebsd

import (
	"fmt"
	"math"
	"strings"
)

// Convention identifies the pattern-center coordinate convention.
type Convention string

const (
	ConventionBruker Convention = "bruker"
	ConventionTSL    Convention = "tsl"
	ConventionOxford Convention = "oxford"
)

// ParseConvention normalizes a convention string from settings.
func ParseConvention(raw string) (Convention, error) {
	switch Convention(strings.ToLower(strings.TrimSpace(raw))) {
	case ConventionBruker:
		return ConventionBruker, nil
	case ConventionTSL:
		return ConventionTSL, nil
	case ConventionOxford:
		return ConventionOxford, nil
	}
	return "", fmt.Errorf("unknown pattern center convention %q", raw)
}

// Geometry describes detector parameters supplied by the task builder.
type Geometry struct {
	Rows       int        `json:"rows"`
	Cols       int        `json:"cols"`
	Binning    int        `json:"binning"` // 1 = none
	SampleTilt float64    `json:"sampleTilt"`
	CameraTilt float64    `json:"cameraTilt"`
	PC         [3]float64 `json:"pc"`
	Convention Convention `json:"convention"`
}

// Detector is the resolved detector model used by refinement. Its
// pattern center is stored in the Bruker convention: x* from the left,
// y* from the top, z* as detector distance in pattern heights.
type Detector struct {
	Rows       int
	Cols       int
	Binning    int
	SampleTilt float64
	CameraTilt float64
	PC         [3]float64
}

// NewDetector builds a detector from geometry, converting the pattern
// center to the Bruker convention.
func NewDetector(g Geometry) (Detector, error) {
	if g.Rows <= 0 || g.Cols <= 0 {
		return Detector{}, fmt.Errorf("detector shape (%d, %d) is empty", g.Rows, g.Cols)
	}
	binning := g.Binning
	if binning < 1 {
		binning = 1
	}

	convention := g.Convention
	if convention == "" {
		convention = ConventionBruker
	}
	pc := g.PC
	switch convention {
	case ConventionBruker:
	case ConventionTSL, ConventionOxford:
		// TSL and Oxford measure y* from the bottom edge.
		pc[1] = 1 - pc[1]
	default:
		return Detector{}, fmt.Errorf("unknown pattern center convention %q", convention)
	}

	return Detector{
		Rows:       g.Rows,
		Cols:       g.Cols,
		Binning:    binning,
		SampleTilt: g.SampleTilt,
		CameraTilt: g.CameraTilt,
		PC:         pc,
	}, nil
}

// PixelDirection returns the unit vector from the beam-sample
// interaction point towards detector pixel (row, col), in the sample
// frame with the sample and camera tilts applied.
func (d Detector) PixelDirection(row, col int) [3]float64 {
	// Gnomonic coordinates relative to the pattern center.
	x := (float64(col)+0.5)/float64(d.Cols) - d.PC[0]
	y := d.PC[1] - (float64(row)+0.5)/float64(d.Rows)
	z := d.PC[2]

	// Tilt the detector frame by the angle between the sample normal
	// and the detector normal.
	alpha := (90 - d.SampleTilt + d.CameraTilt) * math.Pi / 180
	ca, sa := math.Cos(alpha), math.Sin(alpha)
	v := [3]float64{x, y*ca + z*sa, -y*sa + z*ca}

	length := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	return [3]float64{v[0] / length, v[1] / length, v[2] / length}
}

// CircularMask returns a signal-space mask that is true outside the
// inscribed circular aperture, excluding detector corners.
func CircularMask(rows, cols int) []bool {
	mask := make([]bool, rows*cols)
	cy := float64(rows-1) / 2
	cx := float64(cols-1) / 2
	radius := math.Min(float64(rows), float64(cols)) / 2

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dy := float64(r) - cy
			dx := float64(c) - cx
			mask[r*cols+c] = math.Sqrt(dx*dx+dy*dy) > radius
		}
	}
	return mask
}
