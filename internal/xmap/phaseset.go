package xmap

import (
	"errors"
	"fmt"
)

// DefaultPalette is the fallback display color cycle for phases.
var DefaultPalette = []string{
	"#0000ff", // blue
	"#ffa500", // orange
	"#00ff00", // lime
	"#ffff00", // yellow
}

// ErrEmptyPhaseName is returned when adding a phase without a name.
var ErrEmptyPhaseName = errors.New("phase name is empty")

// PhaseSet is an ordered phase collection. Each phase gets a display
// color from the palette at first insertion; the color sticks to the
// phase name even when other phases are removed or reordered.
type PhaseSet struct {
	phases  []Phase
	colors  map[string]string
	palette []string
	nextID  int
}

// NewPhaseSet creates an empty set drawing colors from palette, or
// from DefaultPalette when palette is empty.
func NewPhaseSet(palette []string) *PhaseSet {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	return &PhaseSet{
		colors:  map[string]string{},
		palette: append([]string(nil), palette...),
	}
}

// Add inserts a phase, assigning its id and color. Re-adding an
// existing name replaces the entry but keeps its id and color.
func (s *PhaseSet) Add(p Phase) (Phase, error) {
	if p.Name == "" {
		return Phase{}, ErrEmptyPhaseName
	}

	if color, ok := s.colors[p.Name]; ok {
		for i, existing := range s.phases {
			if existing.Name == p.Name {
				p.ID = existing.ID
				p.Color = color
				s.phases[i] = p
				return p, nil
			}
		}
		// The name was removed earlier; restore its reserved color.
		p.ID = s.nextID
		p.Color = color
		s.nextID++
		s.phases = append(s.phases, p)
		return p, nil
	}

	color := s.palette[len(s.colors)%len(s.palette)]
	s.colors[p.Name] = color
	p.ID = s.nextID
	p.Color = color
	s.nextID++
	s.phases = append(s.phases, p)
	return p, nil
}

// Remove deletes the named phase, keeping its color reserved so the
// remaining phases do not change appearance.
func (s *PhaseSet) Remove(name string) bool {
	for i, p := range s.phases {
		if p.Name == name {
			s.phases = append(s.phases[:i], s.phases[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the named phase.
func (s *PhaseSet) Get(name string) (Phase, bool) {
	for _, p := range s.phases {
		if p.Name == name {
			return p, true
		}
	}
	return Phase{}, false
}

// At returns the phase at insertion position i.
func (s *PhaseSet) At(i int) (Phase, error) {
	if i < 0 || i >= len(s.phases) {
		return Phase{}, fmt.Errorf("phase index %d out of range [0, %d)", i, len(s.phases))
	}
	return s.phases[i], nil
}

// Len returns the number of phases in the set.
func (s *PhaseSet) Len() int {
	return len(s.phases)
}

// List returns the phases in insertion order.
func (s *PhaseSet) List() []Phase {
	return append([]Phase(nil), s.phases...)
}

// Names returns phase names in insertion order.
func (s *PhaseSet) Names() []string {
	names := make([]string, len(s.phases))
	for i, p := range s.phases {
		names[i] = p.Name
	}
	return names
}
