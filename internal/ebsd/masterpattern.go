package ebsd

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// PhaseInfo is the crystallographic metadata a master pattern carries
// about the phase it was simulated for.
type PhaseInfo struct {
	Name                string `json:"name"`
	SpaceGroupNumber    int    `json:"spaceGroupNumber"`
	SpaceGroupShortName string `json:"spaceGroupShortName"`
	CrystalSystem       string `json:"crystalSystem"`
}

// MasterPattern is a precomputed reference: simulated diffraction
// intensities over the sphere of crystal directions, sampled on a
// regular polar grid, for one phase at one acceleration energy.
type MasterPattern struct {
	Phase       PhaseInfo `json:"phase"`
	Energy      float64   `json:"energy"` // kV
	ThetaSteps  int       `json:"thetaSteps"`
	PhiSteps    int       `json:"phiSteps"`
	Intensities []float64 `json:"intensities"` // ThetaSteps x PhiSteps

	path string
}

// Path returns the file the master pattern was loaded from.
func (mp *MasterPattern) Path() string {
	return mp.path
}

// Validate checks the intensity grid matches the declared shape.
func (mp *MasterPattern) Validate() error {
	if mp.ThetaSteps < 2 || mp.PhiSteps < 2 {
		return fmt.Errorf("master pattern grid (%d, %d) is too small", mp.ThetaSteps, mp.PhiSteps)
	}
	if len(mp.Intensities) != mp.ThetaSteps*mp.PhiSteps {
		return fmt.Errorf("intensity count %d does not match grid (%d, %d)",
			len(mp.Intensities), mp.ThetaSteps, mp.PhiSteps)
	}
	return nil
}

// Sample returns the bilinearly interpolated intensity for a unit
// direction in the crystal frame.
func (mp *MasterPattern) Sample(dir [3]float64) float64 {
	theta := math.Acos(clamp(dir[2], -1, 1))           // [0, pi]
	phi := math.Atan2(dir[1], dir[0]) + math.Pi        // [0, 2pi]
	ti := theta / math.Pi * float64(mp.ThetaSteps-1)   // grid row
	pj := phi / (2 * math.Pi) * float64(mp.PhiSteps-1) // grid column

	t0 := int(ti)
	p0 := int(pj)
	if t0 >= mp.ThetaSteps-1 {
		t0 = mp.ThetaSteps - 2
	}
	if p0 >= mp.PhiSteps-1 {
		p0 = mp.PhiSteps - 2
	}
	ft := ti - float64(t0)
	fp := pj - float64(p0)

	at := func(t, p int) float64 { return mp.Intensities[t*mp.PhiSteps+p] }
	top := at(t0, p0)*(1-fp) + at(t0, p0+1)*fp
	bottom := at(t0+1, p0)*(1-fp) + at(t0+1, p0+1)*fp
	return top*(1-ft) + bottom*ft
}

// LoadMasterPattern reads a master pattern descriptor. When the phase
// name is missing it falls back to the parent directory name, the way
// simulation pipelines lay out one directory per phase.
func LoadMasterPattern(path string) (*MasterPattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var mp MasterPattern
	if err := json.Unmarshal(data, &mp); err != nil {
		return nil, fmt.Errorf("parse master pattern %s: %w", path, err)
	}
	if err := mp.Validate(); err != nil {
		return nil, fmt.Errorf("master pattern %s: %w", path, err)
	}

	if mp.Phase.Name == "" {
		mp.Phase.Name = filepath.Base(filepath.Dir(path))
	}
	mp.path = path
	return &mp, nil
}

// WriteMasterPattern persists a master pattern descriptor.
func WriteMasterPattern(path string, mp *MasterPattern) error {
	if err := mp.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(mp)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
