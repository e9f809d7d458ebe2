package refine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"orientation-refiner/internal/ebsd"
	"orientation-refiner/internal/xmap"
)

// ParameterLogName is the fixed filename of the human-readable run log.
const ParameterLogName = "hi_parameters.txt"

// ParameterLog collects everything the run log records about one
// refinement: acquisition metadata, geometry, and phase composition.
type ParameterLog struct {
	Date       time.Time
	Dataset    *ebsd.Dataset
	Map        *xmap.CrystalMap
	Phases     []xmap.Phase
	PC         [3]float64
	Convention ebsd.Convention
	Binning    int
}

// WriteParameterLog writes the run log as flat "Key: value" lines.
func WriteParameterLog(path string, p ParameterLog) error {
	var b strings.Builder
	write := func(key string, format string, a ...any) {
		fmt.Fprintf(&b, "%s: %s\n", key, fmt.Sprintf(format, a...))
	}

	write("Date", "%s", p.Date.Format("2006-01-02"))
	b.WriteString("\n")

	meta := p.Dataset.Metadata
	write("Microscope", "%s", meta.Microscope)
	write("Acceleration voltage", "%g kV", meta.BeamEnergy)
	write("Sample tilt", "%g degrees", meta.SampleTilt)
	write("Camera tilt", "%g degrees", meta.CameraTilt)
	write("Working distance", "%g", meta.WorkingDistance)
	write("Magnification", "%g", meta.Magnification)

	navRows, navCols := p.Dataset.NavigationShape()
	sigRows, sigCols := p.Dataset.SignalShape()
	write("Navigation shape (rows, columns)", "(%d, %d)", navRows, navCols)
	if p.Binning <= 1 {
		write("Binning", "None")
	} else {
		write("Binning", "%d", p.Binning)
	}
	write("Signal shape (rows, columns)", "(%d, %d)", sigRows, sigCols)
	write("Step size", "%g um", meta.StepSize)
	b.WriteString("\n")

	for i, phase := range p.Phases {
		write(fmt.Sprintf("Master pattern path %d", i+1), "%s", phase.MasterPatternPath)
	}
	write("PC convention", "%s", strings.ToUpper(string(p.Convention)))
	write("Pattern center (x*, y*, z*)", "(%.4f, %.4f, %.4f)", p.PC[0], p.PC[1], p.PC[2])

	amounts := p.Map.Composition()
	if len(amounts) > 1 {
		i := 1
		for _, amount := range amounts {
			if amount.Phase.ID == xmap.NotIndexed {
				write("Not indexed", "%d (%.1f%%)", amount.Pixels, amount.Fraction*100)
				continue
			}
			write(fmt.Sprintf("Phase %d: %s [%% (# points)]", i, amount.Phase.Name),
				"%.1f%%, (%d)", amount.Fraction*100, amount.Pixels)
			i++
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
