package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadProjectMissingFileIsEmpty(t *testing.T) {
	p, err := LoadProject(t.TempDir())
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if got := p.Convention("BRUKER"); got != "bruker" {
		t.Fatalf("convention = %q, want fallback bruker", got)
	}
	if got := p.PatternCenter(); got != DefaultPatternCenter {
		t.Fatalf("pattern center = %v, want default", got)
	}
	if got := p.Binning(); got != 1 {
		t.Fatalf("binning = %d, want 1", got)
	}
	if got := p.MasterPatterns(); len(got) != 0 {
		t.Fatalf("master patterns = %v, want none", got)
	}
}

func TestProjectSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	p := NewProject(dir)
	p.Set("Pattern name", "steel_sb.json")
	p.Set("Convention", "TSL")
	p.SetPatternCenter([3]float64{0.42, 0.21, 0.5})
	p.SetBinning(4)
	p.SetMasterPatterns([]string{"/mp/ferrite.json", "/mp/austenite.json"})
	p.SetColors([]string{"#0000ff", "#ffa500"})
	if err := p.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := LoadProject(dir)
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if name, _ := got.PatternName(); name != "steel_sb.json" {
		t.Fatalf("pattern name = %q", name)
	}
	if c := got.Convention("bruker"); c != "tsl" {
		t.Fatalf("convention = %q, want tsl", c)
	}
	if pc := got.PatternCenter(); pc != [3]float64{0.42, 0.21, 0.5} {
		t.Fatalf("pattern center = %v", pc)
	}
	if b := got.Binning(); b != 4 {
		t.Fatalf("binning = %d, want 4", b)
	}
	want := []string{"/mp/ferrite.json", "/mp/austenite.json"}
	if mps := got.MasterPatterns(); !reflect.DeepEqual(mps, want) {
		t.Fatalf("master patterns = %v, want %v", mps, want)
	}
	if colors := got.Colors(); !reflect.DeepEqual(colors, []string{"#0000ff", "#ffa500"}) {
		t.Fatalf("colors = %v", colors)
	}
}

func TestProjectBinningNoneReadsAsOne(t *testing.T) {
	p := NewProject(t.TempDir())
	p.SetBinning(1)
	if err := p.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := LoadProject(p.Dir)
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if b := got.Binning(); b != 1 {
		t.Fatalf("binning = %d, want 1", b)
	}
}

func TestProjectPatternCenterFallsBackOnPartialRecord(t *testing.T) {
	p := NewProject(t.TempDir())
	p.Set("X star", 0.4)
	p.Set("Y star", 0.2)
	// Z star missing.
	if got := p.PatternCenter(); got != DefaultPatternCenter {
		t.Fatalf("pattern center = %v, want default", got)
	}
}

func TestProjectSetMasterPatternsReplacesOldEntries(t *testing.T) {
	p := NewProject(t.TempDir())
	p.SetMasterPatterns([]string{"/mp/a.json", "/mp/b.json", "/mp/c.json"})
	p.SetMasterPatterns([]string{"/mp/d.json"})

	if got := p.MasterPatterns(); !reflect.DeepEqual(got, []string{"/mp/d.json"}) {
		t.Fatalf("master patterns = %v", got)
	}
}

func TestLoadProjectRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ProjectFileName), []byte("{:bad"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadProject(dir); err == nil {
		t.Fatal("expected yaml parse error")
	}
}
