package xmap

import (
	"fmt"
	"math"
)

// NotIndexed is the phase id of pixels without an indexed solution.
const NotIndexed = -1

// NotIndexedName is the synthetic phase name for unclaimed pixels.
const NotIndexedName = "not_indexed"

// Rotation is a crystal orientation as Bunge (ZXZ) Euler angles in radians.
type Rotation struct {
	Phi1 float64 `json:"phi1"`
	Phi  float64 `json:"phi"`
	Phi2 float64 `json:"phi2"`
}

// Matrix returns the rotation matrix mapping sample to crystal coordinates.
func (r Rotation) Matrix() [3][3]float64 {
	c1, s1 := math.Cos(r.Phi1), math.Sin(r.Phi1)
	c, s := math.Cos(r.Phi), math.Sin(r.Phi)
	c2, s2 := math.Cos(r.Phi2), math.Sin(r.Phi2)

	return [3][3]float64{
		{c1*c2 - s1*s2*c, s1*c2 + c1*s2*c, s2 * s},
		{-c1*s2 - s1*c2*c, -s1*s2 + c1*c2*c, c2 * s},
		{s1 * s, -c1 * s, c},
	}
}

// Apply rotates a sample-frame vector into the crystal frame.
func (r Rotation) Apply(v [3]float64) [3]float64 {
	m := r.Matrix()
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = m[i][0]*v[0] + m[i][1]*v[1] + m[i][2]*v[2]
	}
	return out
}

// Phase describes one candidate crystal structure a pixel may be indexed as.
type Phase struct {
	ID                  int    `json:"id"`
	Name                string `json:"name"`
	SpaceGroupNumber    int    `json:"spaceGroupNumber"`
	SpaceGroupShortName string `json:"spaceGroupShortName"`
	CrystalSystem       string `json:"crystalSystem"`
	Color               string `json:"color"`
	MasterPatternPath   string `json:"masterPatternPath,omitempty"`
}

// CrystalMap is a per-pixel grid of indexed crystallographic results
// over a spatial scan. Scores holds one value per pixel per metric.
type CrystalMap struct {
	Rows      int                  `json:"rows"`
	Cols      int                  `json:"cols"`
	StepSize  float64              `json:"stepSize"`
	Phases    []Phase              `json:"phases"`
	PhaseID   []int                `json:"phaseId"`
	Rotations []Rotation           `json:"rotations"`
	Scores    map[string][]float64 `json:"scores"`
}

// New creates an empty crystal map with every pixel not indexed.
func New(rows, cols int, phases []Phase) *CrystalMap {
	size := rows * cols
	m := &CrystalMap{
		Rows:      rows,
		Cols:      cols,
		Phases:    append([]Phase(nil), phases...),
		PhaseID:   make([]int, size),
		Rotations: make([]Rotation, size),
		Scores:    map[string][]float64{},
	}
	for i := range m.PhaseID {
		m.PhaseID[i] = NotIndexed
	}
	return m
}

// Size returns the number of scan pixels.
func (m *CrystalMap) Size() int {
	return m.Rows * m.Cols
}

// Index converts a (row, column) position to a flat pixel index.
func (m *CrystalMap) Index(row, col int) int {
	return row*m.Cols + col
}

// PhaseByID returns the phase with the given id.
func (m *CrystalMap) PhaseByID(id int) (Phase, bool) {
	for _, p := range m.Phases {
		if p.ID == id {
			return p, true
		}
	}
	return Phase{}, false
}

// PhaseIDByName returns the id of the named phase.
func (m *CrystalMap) PhaseIDByName(name string) (int, bool) {
	for _, p := range m.Phases {
		if p.Name == name {
			return p.ID, true
		}
	}
	return NotIndexed, false
}

// NavigationMask returns a boolean grid that is true for every pixel
// NOT assigned to the given phase, i.e. pixels excluded from an
// operation restricted to that phase.
func (m *CrystalMap) NavigationMask(phaseID int) []bool {
	mask := make([]bool, m.Size())
	for i, id := range m.PhaseID {
		mask[i] = id != phaseID
	}
	return mask
}

// Score returns the named per-pixel metric, allocating it when absent.
func (m *CrystalMap) Score(metric string) []float64 {
	if m.Scores == nil {
		m.Scores = map[string][]float64{}
	}
	s, ok := m.Scores[metric]
	if !ok {
		s = make([]float64, m.Size())
		m.Scores[metric] = s
	}
	return s
}

// Clone returns a deep copy owning its own storage.
func (m *CrystalMap) Clone() *CrystalMap {
	out := &CrystalMap{
		Rows:      m.Rows,
		Cols:      m.Cols,
		StepSize:  m.StepSize,
		Phases:    append([]Phase(nil), m.Phases...),
		PhaseID:   append([]int(nil), m.PhaseID...),
		Rotations: append([]Rotation(nil), m.Rotations...),
		Scores:    map[string][]float64{},
	}
	for metric, values := range m.Scores {
		out.Scores[metric] = append([]float64(nil), values...)
	}
	return out
}

// PhaseAmount summarizes how much of the map one phase covers.
type PhaseAmount struct {
	Phase    Phase   `json:"phase"`
	Pixels   int     `json:"pixels"`
	Fraction float64 `json:"fraction"`
}

// Composition returns per-phase pixel counts and fractions, with a
// trailing not-indexed entry when any pixel is unclaimed.
func (m *CrystalMap) Composition() []PhaseAmount {
	counts := map[int]int{}
	for _, id := range m.PhaseID {
		counts[id]++
	}

	out := make([]PhaseAmount, 0, len(m.Phases)+1)
	size := float64(m.Size())
	for _, p := range m.Phases {
		if p.ID == NotIndexed {
			continue
		}
		n := counts[p.ID]
		out = append(out, PhaseAmount{Phase: p, Pixels: n, Fraction: float64(n) / size})
	}
	if n := counts[NotIndexed]; n > 0 {
		out = append(out, PhaseAmount{
			Phase:    Phase{ID: NotIndexed, Name: NotIndexedName},
			Pixels:   n,
			Fraction: float64(n) / size,
		})
	}
	return out
}

// Validate checks internal consistency of grid and per-pixel storage.
func (m *CrystalMap) Validate() error {
	if m.Rows <= 0 || m.Cols <= 0 {
		return fmt.Errorf("crystal map shape (%d, %d) is empty", m.Rows, m.Cols)
	}
	size := m.Size()
	if len(m.PhaseID) != size {
		return fmt.Errorf("phase id length %d does not match %d pixels", len(m.PhaseID), size)
	}
	if len(m.Rotations) != size {
		return fmt.Errorf("rotation length %d does not match %d pixels", len(m.Rotations), size)
	}
	for metric, values := range m.Scores {
		if len(values) != size {
			return fmt.Errorf("score %q length %d does not match %d pixels", metric, len(values), size)
		}
	}
	return nil
}
