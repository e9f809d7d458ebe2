package refine

import (
	"math"
	"strings"
	"testing"

	"orientation-refiner/internal/ebsd"
)

func flatDataset(navRows, navCols, sigRows, sigCols int, fill func(pixel, sample int) float32) *ebsd.Dataset {
	ds := &ebsd.Dataset{
		NavRows:  navRows,
		NavCols:  navCols,
		SigRows:  sigRows,
		SigCols:  sigCols,
		Patterns: make([][]float32, navRows*navCols),
	}
	for i := range ds.Patterns {
		p := make([]float32, sigRows*sigCols)
		for j := range p {
			p[j] = fill(i, j)
		}
		ds.Patterns[i] = p
	}
	return ds
}

func TestAppliedStepsParsesFilenameTags(t *testing.T) {
	applied := AppliedSteps("/scans/steel_sb_anp.json")
	if !applied[StepStaticBackground] || !applied[StepAverageNeighbour] {
		t.Fatalf("missing tags in %v", applied)
	}
	if applied[StepDynamicBackground] {
		t.Fatalf("db not in filename, got %v", applied)
	}

	if got := AppliedSteps("/scans/steel.json"); len(got) != 0 {
		t.Fatalf("untagged filename yielded %v", got)
	}
}

func TestProcessedPathAppendsOnlyNewSteps(t *testing.T) {
	opts := ProcessingOptions{StaticBackground: true, DynamicBackground: true, AverageNeighbour: true}
	got := ProcessedPath("/scans/steel_sb.json", opts)
	if !strings.HasSuffix(got, "steel_sb_db_anp.json") {
		t.Fatalf("got %s", got)
	}
}

func TestApplyProcessingRequiresASelection(t *testing.T) {
	ds := flatDataset(1, 1, 2, 2, func(int, int) float32 { return 1 })
	if _, err := ApplyProcessing(ds, "p.json", ProcessingOptions{}, nil); err == nil {
		t.Fatal("expected error with no steps selected")
	}
}

func TestApplyProcessingSkipsAlreadyAppliedSteps(t *testing.T) {
	ds := flatDataset(2, 2, 2, 2, func(pixel, _ int) float32 { return float32(pixel) })
	var lines []string
	logf := func(format string, a ...any) { lines = append(lines, format) }

	opts := ProcessingOptions{StaticBackground: true}
	if _, err := ApplyProcessing(ds, "steel_sb.json", opts, logf); err != nil {
		t.Fatalf("ApplyProcessing: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("already applied step ran anyway: %v", lines)
	}
}

func TestApplyProcessingLeavesInputUntouched(t *testing.T) {
	ds := flatDataset(2, 2, 2, 2, func(pixel, _ int) float32 { return float32(pixel + 1) })
	before := ds.Patterns[0][0]

	out, err := ApplyProcessing(ds, "steel.json", ProcessingOptions{StaticBackground: true}, nil)
	if err != nil {
		t.Fatalf("ApplyProcessing: %v", err)
	}
	if ds.Patterns[0][0] != before {
		t.Fatal("input dataset was modified")
	}
	if out == ds {
		t.Fatal("output aliases the input")
	}
}

func TestRemoveStaticBackgroundSubtractsScanMean(t *testing.T) {
	// Pattern values are pixel index, so the scan mean is 1.5 at every
	// signal sample.
	ds := flatDataset(2, 2, 1, 2, func(pixel, _ int) float32 { return float32(pixel) })
	RemoveStaticBackground(ds)

	for pixel, pattern := range ds.Patterns {
		want := float32(pixel) - 1.5
		for _, v := range pattern {
			if v != want {
				t.Fatalf("pixel %d: got %g, want %g", pixel, v, want)
			}
		}
	}
}

func TestRemoveDynamicBackgroundZeroesFlatPattern(t *testing.T) {
	ds := flatDataset(1, 1, 8, 8, func(int, int) float32 { return 7 })
	RemoveDynamicBackground(ds)

	for _, v := range ds.Patterns[0] {
		if math.Abs(float64(v)) > 1e-5 {
			t.Fatalf("flat pattern left residual %g", v)
		}
	}
}

func TestAverageNeighbourPatternsPullsTowardNeighbours(t *testing.T) {
	// A single bright pixel in a dark scan must dim, and its
	// neighbours must brighten.
	ds := flatDataset(3, 3, 1, 1, func(pixel, _ int) float32 {
		if pixel == 4 {
			return 9
		}
		return 0
	})
	AverageNeighbourPatterns(ds)

	center := ds.Patterns[4][0]
	if center <= 0 || center >= 9 {
		t.Fatalf("center %g not pulled toward neighbours", center)
	}
	if edge := ds.Patterns[0][0]; edge <= 0 {
		t.Fatalf("neighbour %g did not brighten", edge)
	}
}
