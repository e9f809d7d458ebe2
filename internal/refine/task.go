package refine

import (
	"orientation-refiner/internal/ebsd"
	"orientation-refiner/internal/xmap"
)

// Method names a supported optimization method.
const (
	MethodNelderMead = "nelder-mead"
)

// MethodParams are typed optimizer settings. They replace free-form
// keyword-argument strings with validated fields.
type MethodParams struct {
	MaxIterations int     `json:"maxIterations"`
	Tolerance     float64 `json:"tolerance"`
}

// DefaultMethodParams returns the optimizer settings used when the
// task builder leaves them unset.
func DefaultMethodParams() MethodParams {
	return MethodParams{MaxIterations: 200, Tolerance: 1e-4}
}

// Products selects the derived outputs generated after merging.
type Products struct {
	PhaseMap       bool       `json:"phaseMap"`
	OrientationMap bool       `json:"orientationMap"`
	CKeyDirection  [3]float64 `json:"ckeyDirection"`
	NCC            bool       `json:"ncc"`
	QualityMetrics bool       `json:"qualityMetrics"`
}

// Task bundles every input for one multi-phase refinement run.
type Task struct {
	Dataset      *ebsd.Dataset
	PriorMap     *xmap.CrystalMap
	PriorMapPath string
	Phases       *xmap.PhaseSet
	Geometry     ebsd.Geometry
	MaskEnabled  bool
	Method       string
	Params       MethodParams
	Products     Products
	OutputDir    string

	// OnStage and the sink-style Logf stream progress back to the job
	// manager; both may be nil.
	OnStage func(stage string)
	Logf    func(format string, a ...any)
}

// stage forwards a stage transition when a callback is configured.
func (t *Task) stage(name string) {
	if t.OnStage != nil {
		t.OnStage(name)
	}
}

// logf forwards one progress line when a callback is configured.
func (t *Task) logf(format string, a ...any) {
	if t.Logf != nil {
		t.Logf(format, a...)
	}
}

// Validate checks the task before any computation starts. All
// violations surface as ConfigurationError.
func (t *Task) Validate() error {
	if t.Dataset == nil {
		return configErr("dataset", "pattern dataset is required")
	}
	if err := t.Dataset.Validate(); err != nil {
		return configErr("dataset", "%v", err)
	}
	if t.PriorMap == nil {
		return configErr("priorMap", "prior crystal map is required")
	}
	if err := t.PriorMap.Validate(); err != nil {
		return configErr("priorMap", "%v", err)
	}
	if t.Phases == nil || t.Phases.Len() == 0 {
		return configErr("phases", "at least one phase with a refinement model is required")
	}
	for _, phase := range t.Phases.List() {
		if phase.MasterPatternPath == "" {
			return configErr("phases", "phase %q has no master pattern", phase.Name)
		}
		if _, ok := t.PriorMap.PhaseIDByName(phase.Name); !ok {
			return configErr("phases", "phase %q is not present in the prior crystal map", phase.Name)
		}
	}

	navRows, navCols := t.Dataset.NavigationShape()
	if navRows != t.PriorMap.Rows || navCols != t.PriorMap.Cols {
		return configErr("priorMap", "map shape (%d, %d) does not match scan shape (%d, %d)",
			t.PriorMap.Rows, t.PriorMap.Cols, navRows, navCols)
	}

	sigRows, sigCols := t.Dataset.SignalShape()
	binning := t.Geometry.Binning
	if binning < 1 {
		binning = 1
	}
	if binning > 1 {
		if sigRows%binning != 0 || sigCols%binning != 0 {
			return configErr("binning", "factor %d does not evenly divide signal shape (%d, %d)",
				binning, sigRows, sigCols)
		}
		sigRows /= binning
		sigCols /= binning
	}
	if t.Geometry.Rows != sigRows || t.Geometry.Cols != sigCols {
		return configErr("detector", "detector shape (%d, %d) does not match rebinned signal shape (%d, %d)",
			t.Geometry.Rows, t.Geometry.Cols, sigRows, sigCols)
	}

	if _, err := ebsd.ParseConvention(string(t.Geometry.Convention)); err != nil {
		return configErr("convention", "%v", err)
	}

	switch t.Method {
	case MethodNelderMead:
	case "":
		return configErr("method", "optimization method is required")
	default:
		return configErr("method", "unsupported optimization method %q", t.Method)
	}
	if t.Params.MaxIterations < 1 || t.Params.MaxIterations > 100000 {
		return configErr("params", "max iterations %d outside [1, 100000]", t.Params.MaxIterations)
	}
	if t.Params.Tolerance <= 0 {
		return configErr("params", "tolerance must be positive")
	}

	if t.Products.OrientationMap {
		d := t.Products.CKeyDirection
		if d[0] == 0 && d[1] == 0 && d[2] == 0 {
			return configErr("products", "orientation map needs a non-zero color key direction")
		}
	}
	return nil
}
