package refine

import (
	"errors"
	"testing"

	"orientation-refiner/internal/ebsd"
	"orientation-refiner/internal/xmap"
)

func validTask(t *testing.T) *Task {
	t.Helper()
	ds := flatDataset(2, 3, 8, 8, func(int, int) float32 { return 1 })

	prior := xmap.New(2, 3, []xmap.Phase{{ID: 0, Name: "ferrite", MasterPatternPath: "/mp/ferrite.json"}})
	for i := range prior.PhaseID {
		prior.PhaseID[i] = 0
	}

	phases := xmap.NewPhaseSet(nil)
	if _, err := phases.Add(xmap.Phase{Name: "ferrite", MasterPatternPath: "/mp/ferrite.json"}); err != nil {
		t.Fatalf("add phase: %v", err)
	}

	return &Task{
		Dataset:      ds,
		PriorMap:     prior,
		PriorMapPath: "/scans/steel.json",
		Phases:       phases,
		Geometry: ebsd.Geometry{
			Rows: 8, Cols: 8, Binning: 1,
			SampleTilt: 70,
			PC:         [3]float64{0.5, 0.2, 0.5},
			Convention: ebsd.ConventionBruker,
		},
		Method: MethodNelderMead,
		Params: DefaultMethodParams(),
	}
}

func assertConfigErr(t *testing.T, err error, field string) {
	t.Helper()
	var cfg *ConfigurationError
	if !errors.As(err, &cfg) {
		t.Fatalf("got %v, want ConfigurationError", err)
	}
	if cfg.Field != field {
		t.Fatalf("got field %q, want %q", cfg.Field, field)
	}
}

func TestTaskValidateAcceptsCompleteTask(t *testing.T) {
	if err := validTask(t).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestTaskValidateRequiresDataset(t *testing.T) {
	task := validTask(t)
	task.Dataset = nil
	assertConfigErr(t, task.Validate(), "dataset")
}

func TestTaskValidateRequiresPhaseInPriorMap(t *testing.T) {
	task := validTask(t)
	if _, err := task.Phases.Add(xmap.Phase{Name: "austenite", MasterPatternPath: "/mp/a.json"}); err != nil {
		t.Fatalf("add phase: %v", err)
	}
	assertConfigErr(t, task.Validate(), "phases")
}

func TestTaskValidateRequiresMasterPattern(t *testing.T) {
	task := validTask(t)
	task.Phases = xmap.NewPhaseSet(nil)
	if _, err := task.Phases.Add(xmap.Phase{Name: "ferrite"}); err != nil {
		t.Fatalf("add phase: %v", err)
	}
	assertConfigErr(t, task.Validate(), "phases")
}

func TestTaskValidateRejectsMapShapeMismatch(t *testing.T) {
	task := validTask(t)
	task.PriorMap = xmap.New(3, 3, task.PriorMap.Phases)
	for i := range task.PriorMap.PhaseID {
		task.PriorMap.PhaseID[i] = 0
	}
	assertConfigErr(t, task.Validate(), "priorMap")
}

func TestTaskValidateRejectsNonDividingBinning(t *testing.T) {
	task := validTask(t)
	task.Dataset = flatDataset(2, 3, 7, 5, func(int, int) float32 { return 1 })
	task.Geometry.Rows, task.Geometry.Cols = 7, 5
	task.Geometry.Binning = 2
	assertConfigErr(t, task.Validate(), "binning")
}

func TestTaskValidateChecksDetectorAgainstRebinnedShape(t *testing.T) {
	task := validTask(t)
	task.Geometry.Binning = 2
	// Detector still declares the full 8x8 shape.
	assertConfigErr(t, task.Validate(), "detector")

	task.Geometry.Rows, task.Geometry.Cols = 4, 4
	if err := task.Validate(); err != nil {
		t.Fatalf("Validate after rebinned shape: %v", err)
	}
}

func TestTaskValidateRejectsUnknownConvention(t *testing.T) {
	task := validTask(t)
	task.Geometry.Convention = "edax"
	assertConfigErr(t, task.Validate(), "convention")
}

func TestTaskValidateRejectsUnknownMethod(t *testing.T) {
	task := validTask(t)
	task.Method = "gradient-descent"
	assertConfigErr(t, task.Validate(), "method")
}

func TestTaskValidateRejectsBadParams(t *testing.T) {
	task := validTask(t)
	task.Params.MaxIterations = 0
	assertConfigErr(t, task.Validate(), "params")

	task = validTask(t)
	task.Params.Tolerance = 0
	assertConfigErr(t, task.Validate(), "params")
}

func TestTaskValidateRequiresCKeyDirection(t *testing.T) {
	task := validTask(t)
	task.Products.OrientationMap = true
	assertConfigErr(t, task.Validate(), "products")
}
