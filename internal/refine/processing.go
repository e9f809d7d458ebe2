package refine

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"orientation-refiner/internal/ebsd"
)

// Signal-to-noise processing step tags, appended to the output
// filename stem so later runs can see what a dataset went through.
const (
	StepStaticBackground  = "sb"
	StepDynamicBackground = "db"
	StepAverageNeighbour  = "anp"
)

// ProcessingOptions selects the signal-to-noise improvements applied
// to a pattern dataset.
type ProcessingOptions struct {
	StaticBackground  bool `json:"staticBackground"`
	DynamicBackground bool `json:"dynamicBackground"`
	AverageNeighbour  bool `json:"averageNeighbour"`
}

// Any reports whether at least one step is selected.
func (o ProcessingOptions) Any() bool {
	return o.StaticBackground || o.DynamicBackground || o.AverageNeighbour
}

// AppliedSteps parses the step tags out of a dataset filename stem.
// Only tags following the first underscore count.
func AppliedSteps(path string) map[string]bool {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	applied := map[string]bool{}
	for _, part := range strings.Split(stem, "_")[1:] {
		switch part {
		case StepStaticBackground, StepDynamicBackground, StepAverageNeighbour:
			applied[part] = true
		}
	}
	return applied
}

// ProcessedPath derives the output path for a processed dataset: the
// input stem with one tag appended per newly applied step.
func ProcessedPath(inputPath string, opts ProcessingOptions) string {
	applied := AppliedSteps(inputPath)
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	if opts.StaticBackground && !applied[StepStaticBackground] {
		stem += "_" + StepStaticBackground
	}
	if opts.DynamicBackground && !applied[StepDynamicBackground] {
		stem += "_" + StepDynamicBackground
	}
	if opts.AverageNeighbour && !applied[StepAverageNeighbour] {
		stem += "_" + StepAverageNeighbour
	}
	return filepath.Join(filepath.Dir(inputPath), stem+".json")
}

// ApplyProcessing runs the selected improvements in order on a copy of
// the dataset, skipping steps the filename marks as already applied.
// The logf callback may be nil.
func ApplyProcessing(ds *ebsd.Dataset, inputPath string, opts ProcessingOptions, logf func(string, ...any)) (*ebsd.Dataset, error) {
	if !opts.Any() {
		return nil, fmt.Errorf("no processing steps selected")
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	log := func(format string, a ...any) {
		if logf != nil {
			logf(format, a...)
		}
	}

	applied := AppliedSteps(inputPath)
	out := ds.Clone()
	if opts.StaticBackground && !applied[StepStaticBackground] {
		log("Removing static background")
		RemoveStaticBackground(out)
	}
	if opts.DynamicBackground && !applied[StepDynamicBackground] {
		log("Removing dynamic background")
		RemoveDynamicBackground(out)
	}
	if opts.AverageNeighbour && !applied[StepAverageNeighbour] {
		log("Applying averaging")
		AverageNeighbourPatterns(out)
	}
	return out, nil
}

// RemoveStaticBackground subtracts the mean pattern of the whole scan
// from every pattern, removing the detector's fixed background.
func RemoveStaticBackground(ds *ebsd.Dataset) {
	n := len(ds.Patterns)
	if n == 0 {
		return
	}
	size := len(ds.Patterns[0])

	static := make([]float64, size)
	for _, pattern := range ds.Patterns {
		for i, v := range pattern {
			static[i] += float64(v)
		}
	}
	for i := range static {
		static[i] /= float64(n)
	}

	for _, pattern := range ds.Patterns {
		for i := range pattern {
			pattern[i] -= float32(static[i])
		}
	}
}

// RemoveDynamicBackground subtracts a per-pattern low-frequency
// background estimated with a box blur over the pattern itself.
func RemoveDynamicBackground(ds *ebsd.Dataset) {
	radius := minInt(ds.SigRows, ds.SigCols) / 8
	if radius < 1 {
		radius = 1
	}
	for _, pattern := range ds.Patterns {
		background := boxBlur(pattern, ds.SigRows, ds.SigCols, radius)
		for i := range pattern {
			pattern[i] -= background[i]
		}
	}
}

// gaussianNeighbourWeights is a 3x3 Gaussian window with a standard
// deviation of one pixel, the center excluded from neighbours.
var gaussianNeighbourWeights = [3][3]float64{
	{math.Exp(-1), math.Exp(-0.5), math.Exp(-1)},
	{math.Exp(-0.5), 1, math.Exp(-0.5)},
	{math.Exp(-1), math.Exp(-0.5), math.Exp(-1)},
}

// AverageNeighbourPatterns blends each pattern with its scan
// neighbours using a Gaussian window, improving signal to noise at
// the cost of some spatial resolution.
func AverageNeighbourPatterns(ds *ebsd.Dataset) {
	size := ds.SigRows * ds.SigCols
	averaged := make([][]float32, len(ds.Patterns))

	for row := 0; row < ds.NavRows; row++ {
		for col := 0; col < ds.NavCols; col++ {
			sum := make([]float64, size)
			weight := 0.0
			for dr := -1; dr <= 1; dr++ {
				for dc := -1; dc <= 1; dc++ {
					nr, nc := row+dr, col+dc
					if nr < 0 || nr >= ds.NavRows || nc < 0 || nc >= ds.NavCols {
						continue
					}
					w := gaussianNeighbourWeights[dr+1][dc+1]
					neighbour := ds.Patterns[nr*ds.NavCols+nc]
					for i, v := range neighbour {
						sum[i] += w * float64(v)
					}
					weight += w
				}
			}

			pattern := make([]float32, size)
			for i := range pattern {
				pattern[i] = float32(sum[i] / weight)
			}
			averaged[row*ds.NavCols+col] = pattern
		}
	}
	ds.Patterns = averaged
}

// boxBlur averages each pixel over a (2*radius+1) square window
// clamped at the pattern edges.
func boxBlur(pattern []float32, rows, cols, radius int) []float32 {
	out := make([]float32, len(pattern))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			var sum float64
			count := 0
			for wr := r - radius; wr <= r+radius; wr++ {
				if wr < 0 || wr >= rows {
					continue
				}
				for wc := c - radius; wc <= c+radius; wc++ {
					if wc < 0 || wc >= cols {
						continue
					}
					sum += float64(pattern[wr*cols+wc])
					count++
				}
			}
			out[r*cols+c] = float32(sum / float64(count))
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
