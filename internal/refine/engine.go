package refine

import (
	"context"
	"path/filepath"
	"time"

	"orientation-refiner/internal/ebsd"
	"orientation-refiner/internal/products"
	"orientation-refiner/internal/xmap"
)

// TrustRegion is the fixed Euler-angle search window, in degrees, for
// every per-pixel refinement.
var TrustRegion = [3]float64{1, 1, 1}

// Engine executes refinement tasks end to end: per-phase refinement,
// merging, persistence, and derived products.
type Engine struct {
	refiner    Refiner
	loadMaster func(path string) (*ebsd.MasterPattern, error)
	now        func() time.Time
}

// NewEngine constructs the production engine with the NCC-based
// Nelder-Mead refiner.
func NewEngine() *Engine {
	return &Engine{
		refiner:    NewNelderMeadRefiner(NCCScorer{}),
		loadMaster: ebsd.LoadMasterPattern,
		now:        time.Now,
	}
}

// NewEngineForTests constructs an engine with injectable dependencies.
func NewEngineForTests(refiner Refiner, loadMaster func(string) (*ebsd.MasterPattern, error)) *Engine {
	return &Engine{
		refiner:    refiner,
		loadMaster: loadMaster,
		now:        time.Now,
	}
}

// Run refines every phase of the task, merges the partial maps, and
// writes the refined map plus requested derived products. A failure in
// any phase aborts the whole run; failures writing derived products
// are logged and skipped.
func (e *Engine) Run(ctx context.Context, task *Task) (*xmap.CrystalMap, error) {
	task.stage("validating")
	if err := task.Validate(); err != nil {
		return nil, err
	}

	ds := task.Dataset
	binning := task.Geometry.Binning
	if binning < 1 {
		binning = 1
	}
	if binning > 1 {
		rebinned, err := ds.Rebin(binning)
		if err != nil {
			return nil, configErr("binning", "%v", err)
		}
		ds = rebinned
	}

	det, err := ebsd.NewDetector(task.Geometry)
	if err != nil {
		return nil, configErr("detector", "%v", err)
	}

	var signalMask []bool
	if task.MaskEnabled {
		signalMask = ebsd.CircularMask(det.Rows, det.Cols)
	}

	navRows, navCols := ds.NavigationShape()
	sigRows, sigCols := ds.SignalShape()
	task.logf("------- Detector stats -------")
	task.logf("Navigation shape: (%d, %d)", navRows, navCols)
	task.logf("Signal shape: (%d, %d)", sigRows, sigCols)
	task.logf("Signal mask: %v", task.MaskEnabled)
	task.logf("PC convention: %s", task.Geometry.Convention)

	task.stage("refining")
	energy := ds.Metadata.BeamEnergy
	phases := task.Phases.List()
	partials := make([]*xmap.CrystalMap, 0, len(phases))
	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		master, err := e.loadMaster(phase.MasterPatternPath)
		if err != nil {
			return nil, &RefinementFailure{Phase: phase.Name, Err: err}
		}

		phaseID, _ := task.PriorMap.PhaseIDByName(phase.Name)
		task.logf("Refining with master pattern: %s", phase.Name)

		partial, err := e.refiner.Refine(ctx, Request{
			Dataset:     ds,
			Prior:       task.PriorMap,
			Phase:       withPriorID(phase, phaseID),
			PhaseID:     phaseID,
			Detector:    det,
			Master:      master,
			Energy:      energy,
			NavMask:     task.PriorMap.NavigationMask(phaseID),
			SignalMask:  signalMask,
			TrustRegion: TrustRegion,
			Params:      task.Params,
		})
		if err != nil {
			return nil, &RefinementFailure{Phase: phase.Name, Err: err}
		}
		partials = append(partials, partial)
	}

	task.stage("merging")
	merged, err := xmap.Merge(partials)
	if err != nil {
		return nil, err
	}

	task.stage("exporting")
	jsonPath, angPath := xmap.RefinedPaths(task.PriorMapPath)
	if err := xmap.WriteJSON(jsonPath, merged); err != nil {
		return nil, &PersistenceError{Path: jsonPath, Err: err}
	}
	if err := xmap.WriteAng(angPath, merged); err != nil {
		return nil, &PersistenceError{Path: angPath, Err: err}
	}
	task.logf("Result saved as %s and %s", filepath.Base(jsonPath), filepath.Base(angPath))

	outDir := task.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(task.PriorMapPath)
	}
	e.generateProducts(task, merged, outDir)

	if err := WriteParameterLog(filepath.Join(outDir, ParameterLogName), ParameterLog{
		Date:       e.now(),
		Dataset:    ds,
		Map:        merged,
		Phases:     phases,
		PC:         det.PC,
		Convention: task.Geometry.Convention,
		Binning:    binning,
	}); err != nil {
		task.logf("Could not write parameter log: %v", err)
	}

	task.logf("Finished refining orientations for %s", filepath.Base(task.PriorMapPath))
	return merged, nil
}

// generateProducts renders each requested derived product, logging and
// skipping individual failures.
func (e *Engine) generateProducts(task *Task, merged *xmap.CrystalMap, outDir string) {
	if task.Products.PhaseMap {
		task.logf("Saving phase map ...")
		if _, err := products.PhaseMapPNG(merged, outDir); err != nil {
			task.logf("Could not save phase map: %v", err)
		}
	}
	if task.Products.OrientationMap {
		task.logf("Saving inverse pole figure map ...")
		if _, err := products.IPFMapPNG(merged, outDir, task.Products.CKeyDirection); err != nil {
			task.logf("Could not save orientation map: %v", err)
		}
	}
	if task.Products.NCC {
		task.logf("Saving NCC map ...")
		if _, err := products.NCCMapPNG(merged, outDir); err != nil {
			task.logf("Could not save NCC map: %v", err)
		}
	}
	if task.Products.QualityMetrics {
		task.logf("Saving quality metrics for combined map ...")
		if _, err := products.QualityMetricPNGs(merged, outDir); err != nil {
			task.logf("Could not save quality metrics: %v", err)
		}
	}
}

// withPriorID aligns the task phase's id with its id in the prior map
// so partial and merged maps agree on phase identity.
func withPriorID(phase xmap.Phase, priorID int) xmap.Phase {
	phase.ID = priorID
	return phase
}
