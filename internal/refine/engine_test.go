package refine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"orientation-refiner/internal/ebsd"
	"orientation-refiner/internal/xmap"
)

// fakeRefiner claims every unmasked pixel with the request's phase and
// a fixed score, without any optimization.
type fakeRefiner struct {
	calls []string
	fail  map[string]error
}

func (f *fakeRefiner) Refine(ctx context.Context, req Request) (*xmap.CrystalMap, error) {
	f.calls = append(f.calls, req.Phase.Name)
	if err := f.fail[req.Phase.Name]; err != nil {
		return nil, err
	}

	partial := xmap.New(req.Prior.Rows, req.Prior.Cols, []xmap.Phase{req.Phase})
	scores := partial.Score(xmap.PrimaryScore)
	for i := range partial.PhaseID {
		if req.NavMask[i] {
			continue
		}
		partial.PhaseID[i] = req.Phase.ID
		partial.Rotations[i] = req.Prior.Rotations[i]
		scores[i] = 0.9
	}
	return partial, nil
}

func stubMaster(path string) (*ebsd.MasterPattern, error) {
	return &ebsd.MasterPattern{
		Phase:       ebsd.PhaseInfo{Name: strings.TrimSuffix(filepath.Base(path), ".json")},
		Energy:      20,
		ThetaSteps:  2,
		PhiSteps:    2,
		Intensities: []float64{1, 2, 3, 4},
	}, nil
}

func engineTask(t *testing.T) (*Task, *fakeRefiner, *Engine) {
	t.Helper()
	task := validTask(t)
	task.PriorMapPath = filepath.Join(t.TempDir(), "steel.json")

	refiner := &fakeRefiner{fail: map[string]error{}}
	engine := NewEngineForTests(refiner, stubMaster)
	return task, refiner, engine
}

func TestEngineRunRefinesAndPersists(t *testing.T) {
	task, refiner, engine := engineTask(t)

	var stages []string
	task.OnStage = func(s string) { stages = append(stages, s) }

	merged, err := engine.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(refiner.calls) != 1 || refiner.calls[0] != "ferrite" {
		t.Fatalf("refiner calls %v", refiner.calls)
	}
	for i, id := range merged.PhaseID {
		if id == xmap.NotIndexed {
			t.Fatalf("pixel %d left unclaimed", i)
		}
	}

	want := []string{"validating", "refining", "merging", "exporting"}
	if len(stages) != len(want) {
		t.Fatalf("stages %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stages %v, want %v", stages, want)
		}
	}

	jsonPath, angPath := xmap.RefinedPaths(task.PriorMapPath)
	for _, p := range []string{jsonPath, angPath, filepath.Join(filepath.Dir(task.PriorMapPath), ParameterLogName)} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing artifact %s: %v", p, err)
		}
	}
}

func TestEngineRunAbortsOnPhaseFailure(t *testing.T) {
	task, refiner, engine := engineTask(t)
	if _, err := task.Phases.Add(xmap.Phase{Name: "austenite", MasterPatternPath: "/mp/austenite.json"}); err != nil {
		t.Fatalf("add phase: %v", err)
	}
	task.PriorMap.Phases = append(task.PriorMap.Phases, xmap.Phase{ID: 1, Name: "austenite"})
	task.PriorMap.PhaseID[0] = 1

	refiner.fail["ferrite"] = errors.New("optimizer diverged")

	_, err := engine.Run(context.Background(), task)
	var failure *RefinementFailure
	if !errors.As(err, &failure) {
		t.Fatalf("got %v, want RefinementFailure", err)
	}
	if failure.Phase != "ferrite" {
		t.Fatalf("failing phase %q, want ferrite", failure.Phase)
	}
	// The sibling phase must not run after the failure.
	if len(refiner.calls) != 1 {
		t.Fatalf("refiner calls %v after failure", refiner.calls)
	}

	jsonPath, _ := xmap.RefinedPaths(task.PriorMapPath)
	if _, err := os.Stat(jsonPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("partial result was persisted after a phase failure")
	}
}

func TestEngineRunValidatesBeforeRefining(t *testing.T) {
	task, refiner, engine := engineTask(t)
	task.Dataset = flatDataset(2, 3, 7, 5, func(int, int) float32 { return 1 })
	task.Geometry.Rows, task.Geometry.Cols = 7, 5
	task.Geometry.Binning = 2

	_, err := engine.Run(context.Background(), task)
	assertConfigErr(t, err, "binning")
	if len(refiner.calls) != 0 {
		t.Fatalf("refiner ran despite invalid task: %v", refiner.calls)
	}
}

func TestEngineRunStopsOnCancelledContext(t *testing.T) {
	task, refiner, engine := engineTask(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Run(ctx, task)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if len(refiner.calls) != 0 {
		t.Fatalf("refiner ran after cancellation: %v", refiner.calls)
	}
}

func TestEngineRunProductFailureIsNonFatal(t *testing.T) {
	task, _, engine := engineTask(t)
	task.Products = Products{PhaseMap: true}
	// An unparseable palette color makes the phase map fail to render.
	task.Phases = xmap.NewPhaseSet([]string{"blue"})
	if _, err := task.Phases.Add(xmap.Phase{Name: "ferrite", MasterPatternPath: "/mp/ferrite.json"}); err != nil {
		t.Fatalf("add phase: %v", err)
	}

	var logs []string
	task.Logf = func(format string, a ...any) { logs = append(logs, fmt.Sprintf(format, a...)) }

	if _, err := engine.Run(context.Background(), task); err != nil {
		t.Fatalf("Run: %v", err)
	}

	found := false
	for _, line := range logs {
		if strings.HasPrefix(line, "Could not save phase map") {
			found = true
		}
	}
	if !found {
		t.Fatalf("product failure not logged:\n%s", strings.Join(logs, "\n"))
	}
}

func TestEngineRunLoadsMasterPatternPerPhase(t *testing.T) {
	task, _, _ := engineTask(t)
	loaded := []string{}
	engine := NewEngineForTests(&fakeRefiner{}, func(path string) (*ebsd.MasterPattern, error) {
		loaded = append(loaded, path)
		return stubMaster(path)
	})

	if _, err := engine.Run(context.Background(), task); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(loaded) != 1 || loaded[0] != "/mp/ferrite.json" {
		t.Fatalf("loaded %v", loaded)
	}
}

func TestEngineRunMasterPatternLoadFailureAborts(t *testing.T) {
	task, _, _ := engineTask(t)
	engine := NewEngineForTests(&fakeRefiner{}, func(path string) (*ebsd.MasterPattern, error) {
		return nil, fmt.Errorf("open %s: no such file", path)
	})

	_, err := engine.Run(context.Background(), task)
	var failure *RefinementFailure
	if !errors.As(err, &failure) {
		t.Fatalf("got %v, want RefinementFailure", err)
	}
}
