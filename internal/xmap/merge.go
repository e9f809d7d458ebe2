package xmap

import (
	"errors"
	"fmt"
	"sort"
)

// ErrMergeOverlap reports two partial maps both claiming one pixel.
// Refined pixel sets are disjoint by construction of the navigation
// masks, so an overlap is an upstream defect and is never resolved by
// precedence.
var ErrMergeOverlap = errors.New("partial crystal maps overlap")

// ErrNoPartials is returned when merging an empty partial list.
var ErrNoPartials = errors.New("no partial crystal maps to merge")

// Merge combines per-phase partial crystal maps into one map covering
// the full grid. A partial claims a pixel when its phase id there is
// not NotIndexed. The result owns fresh storage; pixels claimed by no
// partial stay not indexed with zero orientation and scores.
func Merge(partials []*CrystalMap) (*CrystalMap, error) {
	if len(partials) == 0 {
		return nil, ErrNoPartials
	}
	if len(partials) == 1 {
		return partials[0].Clone(), nil
	}

	rows, cols := partials[0].Rows, partials[0].Cols
	for _, p := range partials[1:] {
		if p.Rows != rows || p.Cols != cols {
			return nil, fmt.Errorf("partial shape (%d, %d) does not match (%d, %d)", p.Rows, p.Cols, rows, cols)
		}
	}

	merged := New(rows, cols, unionPhases(partials))
	merged.StepSize = partials[0].StepSize

	metrics := map[string]bool{}
	for _, p := range partials {
		for metric := range p.Scores {
			metrics[metric] = true
		}
	}
	for metric := range metrics {
		merged.Score(metric)
	}

	unclaimed := merged.Size()
	for _, p := range partials {
		for i, id := range p.PhaseID {
			if id == NotIndexed {
				continue
			}
			if merged.PhaseID[i] != NotIndexed {
				prev, _ := merged.PhaseByID(merged.PhaseID[i])
				cur, _ := p.PhaseByID(id)
				return nil, fmt.Errorf("%w: pixel %d claimed by %q and %q", ErrMergeOverlap, i, prev.Name, cur.Name)
			}
			merged.PhaseID[i] = id
			merged.Rotations[i] = p.Rotations[i]
			for metric, values := range p.Scores {
				merged.Scores[metric][i] = values[i]
			}
			unclaimed--
		}
	}

	if unclaimed > 0 {
		merged.Phases = append(merged.Phases, Phase{ID: NotIndexed, Name: NotIndexedName, Color: "#000000"})
	}
	return merged, nil
}

// unionPhases collects the distinct phases of all partials, id-sorted.
func unionPhases(partials []*CrystalMap) []Phase {
	seen := map[int]Phase{}
	for _, p := range partials {
		for _, phase := range p.Phases {
			if phase.ID == NotIndexed {
				continue
			}
			if _, ok := seen[phase.ID]; !ok {
				seen[phase.ID] = phase
			}
		}
	}

	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]Phase, 0, len(ids))
	for _, id := range ids {
		out = append(out, seen[id])
	}
	return out
}
