package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProjectFileName is the per-project parameter file kept next to a
// scan's datasets.
const ProjectFileName = "project_settings.yaml"

// Project parameter keys. Master patterns are stored under numbered
// keys starting at 1.
const (
	keyPatternName   = "Pattern name"
	keyConvention    = "Convention"
	keyXStar         = "X star"
	keyYStar         = "Y star"
	keyZStar         = "Z star"
	keyBinning       = "Binning"
	keyColors        = "Colors"
	masterPatternFmt = "Master pattern %d"
)

// DefaultPatternCenter is assumed when a project records none.
var DefaultPatternCenter = [3]float64{0.5, 0.2, 0.5}

// Project holds the parameters of one scan directory as a flat map,
// preserving keys it does not understand.
type Project struct {
	Dir    string
	values map[string]any
}

// NewProject creates an empty parameter set for a scan directory.
func NewProject(dir string) *Project {
	return &Project{Dir: dir, values: map[string]any{}}
}

// LoadProject reads the parameter file of a scan directory. A missing
// file yields an empty project rather than an error.
func LoadProject(dir string) (*Project, error) {
	p := NewProject(dir)

	data, err := os.ReadFile(filepath.Join(dir, ProjectFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &p.values); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ProjectFileName, err)
	}
	if p.values == nil {
		p.values = map[string]any{}
	}
	return p, nil
}

// Save writes the parameter file back to the scan directory.
func (p *Project) Save() error {
	data, err := yaml.Marshal(p.values)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.Dir, ProjectFileName), data, 0o644)
}

// Set stores one parameter.
func (p *Project) Set(key string, value any) {
	p.values[key] = value
}

// lookupString reads a parameter as a trimmed string.
func (p *Project) lookupString(key string) (string, bool) {
	v, ok := p.values[key]
	if !ok {
		return "", false
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return "", false
	}
	return s, true
}

// PatternName returns the dataset filename recorded for the project.
func (p *Project) PatternName() (string, bool) {
	return p.lookupString(keyPatternName)
}

// Convention returns the recorded pattern center convention, falling
// back to the given application default.
func (p *Project) Convention(fallback string) string {
	if s, ok := p.lookupString(keyConvention); ok {
		return strings.ToLower(s)
	}
	return strings.ToLower(fallback)
}

// PatternCenter returns the recorded pattern center, or the default
// when any component is missing or malformed.
func (p *Project) PatternCenter() [3]float64 {
	pc := DefaultPatternCenter
	keys := [3]string{keyXStar, keyYStar, keyZStar}
	for i, key := range keys {
		s, ok := p.lookupString(key)
		if !ok {
			return DefaultPatternCenter
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return DefaultPatternCenter
		}
		pc[i] = v
	}
	return pc
}

// SetPatternCenter records the pattern center.
func (p *Project) SetPatternCenter(pc [3]float64) {
	p.values[keyXStar] = pc[0]
	p.values[keyYStar] = pc[1]
	p.values[keyZStar] = pc[2]
}

// Binning returns the recorded binning factor. Missing or "None"
// means no binning, reported as 1.
func (p *Project) Binning() int {
	s, ok := p.lookupString(keyBinning)
	if !ok || strings.EqualFold(s, "none") {
		return 1
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// SetBinning records the binning factor, 1 meaning none.
func (p *Project) SetBinning(factor int) {
	if factor <= 1 {
		p.values[keyBinning] = "None"
		return
	}
	p.values[keyBinning] = factor
}

// MasterPatterns returns the recorded master pattern paths in their
// numbered order.
func (p *Project) MasterPatterns() []string {
	indexes := make([]int, 0, 4)
	for key := range p.values {
		var i int
		if _, err := fmt.Sscanf(key, masterPatternFmt, &i); err == nil {
			indexes = append(indexes, i)
		}
	}
	sort.Ints(indexes)

	paths := make([]string, 0, len(indexes))
	for _, i := range indexes {
		if s, ok := p.lookupString(fmt.Sprintf(masterPatternFmt, i)); ok {
			paths = append(paths, s)
		}
	}
	return paths
}

// SetMasterPatterns replaces the recorded master pattern paths.
func (p *Project) SetMasterPatterns(paths []string) {
	for key := range p.values {
		var i int
		if _, err := fmt.Sscanf(key, masterPatternFmt, &i); err == nil {
			delete(p.values, key)
		}
	}
	for i, path := range paths {
		p.values[fmt.Sprintf(masterPatternFmt, i+1)] = path
	}
}

// Colors returns the recorded phase color palette, or nil when unset.
func (p *Project) Colors() []string {
	var raw []any
	switch v := p.values[keyColors].(type) {
	case []any:
		raw = v
	case []string:
		for _, s := range v {
			raw = append(raw, s)
		}
	default:
		return nil
	}
	colors := make([]string, 0, len(raw))
	for _, c := range raw {
		if s := strings.TrimSpace(fmt.Sprint(c)); s != "" {
			colors = append(colors, s)
		}
	}
	return colors
}

// SetColors records the phase color palette.
func (p *Project) SetColors(colors []string) {
	p.values[keyColors] = colors
}
