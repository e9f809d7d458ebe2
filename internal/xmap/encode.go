package xmap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteJSON persists a crystal map in the native structured format.
func WriteJSON(path string, m *CrystalMap) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadJSON loads a crystal map from the native structured format.
func ReadJSON(path string) (*CrystalMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m CrystalMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse crystal map %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("crystal map %s: %w", path, err)
	}
	return &m, nil
}

// WriteAng persists a crystal map in the plain-text angle-file format:
// one pixel per line with Euler angles (radians), scan position (um),
// the primary quality score, and the phase id. Not-indexed pixels keep
// phase id -1 with zeroed angles and score.
func WriteAng(path string, m *CrystalMap) error {
	if err := m.Validate(); err != nil {
		return err
	}

	var b strings.Builder
	for i, p := range m.Phases {
		if p.ID == NotIndexed {
			continue
		}
		fmt.Fprintf(&b, "# Phase %d: %s\n", i+1, p.Name)
		fmt.Fprintf(&b, "# SpaceGroup %d (%s) %s\n", p.SpaceGroupNumber, p.SpaceGroupShortName, p.CrystalSystem)
	}
	b.WriteString("# phi1 PHI phi2 x y score phase_id\n")

	step := m.StepSize
	if step <= 0 {
		step = 1
	}
	scores := m.Scores[PrimaryScore]
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			i := m.Index(r, c)
			rot := m.Rotations[i]
			score := 0.0
			if scores != nil {
				score = scores[i]
			}
			fmt.Fprintf(&b, "%10.5f %10.5f %10.5f %12.5f %12.5f %8.5f %3d\n",
				rot.Phi1, rot.Phi, rot.Phi2,
				float64(c)*step, float64(r)*step,
				score, m.PhaseID[i],
			)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// PrimaryScore is the refinement quality metric every refined map has.
const PrimaryScore = "ncc"

// RefinedPaths derives the output paths for a refined map from the
// prior map's filename, prefixed with "refined_".
func RefinedPaths(priorPath string) (jsonPath, angPath string) {
	dir := filepath.Dir(priorPath)
	base := filepath.Base(priorPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "refined_"+stem+".json"), filepath.Join(dir, "refined_"+stem+".ang")
}
