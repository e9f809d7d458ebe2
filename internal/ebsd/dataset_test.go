package ebsd

import (
	"math"
	"path/filepath"
	"testing"
)

// testDataset builds a small dataset with a linear intensity ramp.
func testDataset(navRows, navCols, sigRows, sigCols int) *Dataset {
	d := &Dataset{
		NavRows:  navRows,
		NavCols:  navCols,
		SigRows:  sigRows,
		SigCols:  sigCols,
		Patterns: make([][]float32, navRows*navCols),
		Metadata: Acquisition{BeamEnergy: 20, SampleTilt: 70, StepSize: 1.5},
	}
	for i := range d.Patterns {
		p := make([]float32, sigRows*sigCols)
		for j := range p {
			p[j] = float32(i + j)
		}
		d.Patterns[i] = p
	}
	return d
}

// TestValidBinnings checks only factors dividing both dims are listed.
func TestValidBinnings(t *testing.T) {
	got := ValidBinnings(16, 12)
	want := []int{2, 4}
	if len(got) != len(want) {
		t.Fatalf("binnings = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("binnings = %v, want %v", got, want)
		}
	}

	if ValidBinnings(7, 5) != nil {
		t.Fatalf("binnings for (7, 5) = %v, want none", ValidBinnings(7, 5))
	}
}

// TestRebinBlockMean checks downsampled values are block averages.
func TestRebinBlockMean(t *testing.T) {
	d := testDataset(1, 1, 4, 4)
	out, err := d.Rebin(2)
	if err != nil {
		t.Fatalf("rebin: %v", err)
	}
	if out.SigRows != 2 || out.SigCols != 2 {
		t.Fatalf("shape = (%d, %d), want (2, 2)", out.SigRows, out.SigCols)
	}

	// Top-left block of the ramp pattern is {0, 1, 4, 5}.
	if got := out.Patterns[0][0]; math.Abs(float64(got)-2.5) > 1e-6 {
		t.Fatalf("block mean = %f, want 2.5", got)
	}
	if d.SigRows != 4 {
		t.Fatal("rebin mutated the source dataset")
	}
}

// TestRebinRejectsNonDividingFactor checks the divisibility guard.
func TestRebinRejectsNonDividingFactor(t *testing.T) {
	d := testDataset(1, 1, 7, 5)
	if _, err := d.Rebin(2); err == nil {
		t.Fatal("expected divisibility error")
	}
}

// TestDatasetJSONRoundTrip checks persistence keeps shapes and metadata.
func TestDatasetJSONRoundTrip(t *testing.T) {
	d := testDataset(2, 2, 4, 4)
	path := filepath.Join(t.TempDir(), "scan", "patterns.json")

	if err := WriteJSON(path, d); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadJSON(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.NavRows != 2 || got.SigCols != 4 {
		t.Fatalf("shape = %+v", got)
	}
	if got.Metadata.BeamEnergy != 20 {
		t.Fatalf("beam energy = %f, want 20", got.Metadata.BeamEnergy)
	}
}

// TestValidateRejectsRaggedPatterns checks per-pixel length validation.
func TestValidateRejectsRaggedPatterns(t *testing.T) {
	d := testDataset(1, 2, 2, 2)
	d.Patterns[1] = d.Patterns[1][:3]
	if err := d.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
