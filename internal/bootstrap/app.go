package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"orientation-refiner/internal/config"
	"orientation-refiner/internal/diagnostics"
	"orientation-refiner/internal/domain"
	"orientation-refiner/internal/ebsd"
	"orientation-refiner/internal/jobs"
	"orientation-refiner/internal/refine"
	"orientation-refiner/internal/xmap"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var datasetDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Pattern datasets",
		Pattern:     "*.json",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

var crystalMapDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Crystal maps",
		Pattern:     "*.json;*.ang",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

var masterPatternDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Master patterns",
		Pattern:     "*.json",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App wires configuration, the job manager, the refinement engine, and
// UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Jobs        *jobs.Manager
	Engine      refinementRunner
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker

	mu         sync.Mutex
	events     *jobs.EventBus
	runtimeCtx context.Context
}

// refinementRunner isolates the refinement engine behind an interface.
type refinementRunner interface {
	Run(ctx context.Context, task *refine.Task) (*xmap.CrystalMap, error)
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".orientation-refiner", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)

	app := &App{
		Settings:    settings,
		Store:       store,
		Engine:      refine.NewEngine(),
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
		events:      jobs.NewEventBus(1000),
	}
	app.Jobs = jobs.NewManager(0, app)
	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Orientation Refiner",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			a.runtimeCtx = nil
			a.mu.Unlock()
			a.Jobs.Close()
		},
		Bind: []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns startup checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.Diagnostics = a.checker.Run(settings)
	report := a.Diagnostics
	a.mu.Unlock()
	return report, nil
}

// PickDatasetFile opens a native file dialog for pattern dataset selection.
func (a *App) PickDatasetFile() (string, error) {
	return a.pickFile("Select pattern dataset", datasetDialogFilter)
}

// PickCrystalMapFile opens a native file dialog for crystal map selection.
func (a *App) PickCrystalMapFile() (string, error) {
	return a.pickFile("Select crystal map", crystalMapDialogFilter)
}

// PickMasterPatternFile opens a native file dialog for master pattern selection.
func (a *App) PickMasterPatternFile() (string, error) {
	return a.pickFile("Select master pattern", masterPatternDialogFilter)
}

// PickWorkingDirectory opens a native directory picker for scan projects.
func (a *App) PickWorkingDirectory() (string, error) {
	return a.pickDirectory("Select working directory")
}

// PickOutputDirectory opens a native directory picker for result export.
func (a *App) PickOutputDirectory() (string, error) {
	return a.pickDirectory("Select output directory")
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// ProjectInfo is the UI view of a scan directory's parameter file.
type ProjectInfo struct {
	Dir            string     `json:"dir"`
	PatternName    string     `json:"patternName"`
	Convention     string     `json:"convention"`
	PatternCenter  [3]float64 `json:"patternCenter"`
	Binning        int        `json:"binning"`
	MasterPatterns []string   `json:"masterPatterns"`
	Colors         []string   `json:"colors"`
}

// LoadProject reads the parameter file of a scan directory, filling
// application defaults where the project records nothing.
func (a *App) LoadProject(dir string) (ProjectInfo, error) {
	project, err := config.LoadProject(dir)
	if err != nil {
		return ProjectInfo{}, fmt.Errorf("load project: %w", err)
	}

	a.mu.Lock()
	fallbackConvention := a.Settings.Convention
	a.mu.Unlock()

	name, _ := project.PatternName()
	return ProjectInfo{
		Dir:            dir,
		PatternName:    name,
		Convention:     project.Convention(fallbackConvention),
		PatternCenter:  project.PatternCenter(),
		Binning:        project.Binning(),
		MasterPatterns: project.MasterPatterns(),
		Colors:         project.Colors(),
	}, nil
}

// SaveProject persists the given parameters to a scan directory.
func (a *App) SaveProject(info ProjectInfo) error {
	project, err := config.LoadProject(info.Dir)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	if info.PatternName != "" {
		project.Set("Pattern name", info.PatternName)
	}
	project.Set("Convention", strings.ToUpper(info.Convention))
	project.SetPatternCenter(info.PatternCenter)
	project.SetBinning(info.Binning)
	project.SetMasterPatterns(info.MasterPatterns)
	if len(info.Colors) > 0 {
		project.SetColors(info.Colors)
	}
	return project.Save()
}

// ValidBinnings returns the binning factors compatible with a dataset.
func (a *App) ValidBinnings(datasetPath string) ([]int, error) {
	ds, err := ebsd.ReadJSON(datasetPath)
	if err != nil {
		return nil, err
	}
	return ebsd.ValidBinnings(ds.SignalShape()), nil
}

// PhaseComposition returns per-phase pixel counts for a crystal map.
func (a *App) PhaseComposition(mapPath string) ([]xmap.PhaseAmount, error) {
	m, err := xmap.ReadJSON(mapPath)
	if err != nil {
		return nil, err
	}
	return m.Composition(), nil
}

// RefinementRequest carries UI-selected parameters for one run.
type RefinementRequest struct {
	DatasetPath        string              `json:"datasetPath"`
	CrystalMapPath     string              `json:"crystalMapPath"`
	MasterPatternPaths []string            `json:"masterPatternPaths"`
	Convention         string              `json:"convention"`
	PC                 [3]float64          `json:"pc"`
	Binning            int                 `json:"binning"`
	MaskEnabled        bool                `json:"maskEnabled"`
	Params             refine.MethodParams `json:"params"`
	Products           refine.Products     `json:"products"`
	OutputDir          string              `json:"outputDir"`
}

// StartRefinement loads the inputs, builds the refinement task, and
// submits it to the job manager. It returns the queued job snapshot.
func (a *App) StartRefinement(req RefinementRequest) (jobs.Snapshot, error) {
	ds, err := ebsd.ReadJSON(req.DatasetPath)
	if err != nil {
		return jobs.Snapshot{}, fmt.Errorf("load dataset: %w", err)
	}
	prior, err := xmap.ReadJSON(req.CrystalMapPath)
	if err != nil {
		return jobs.Snapshot{}, fmt.Errorf("load crystal map: %w", err)
	}

	a.mu.Lock()
	palette := append([]string(nil), a.Settings.Palette...)
	a.mu.Unlock()

	phases := xmap.NewPhaseSet(palette)
	for _, path := range req.MasterPatternPaths {
		mp, err := ebsd.LoadMasterPattern(path)
		if err != nil {
			return jobs.Snapshot{}, fmt.Errorf("load master pattern: %w", err)
		}
		if _, err := phases.Add(xmap.Phase{
			Name:                mp.Phase.Name,
			SpaceGroupNumber:    mp.Phase.SpaceGroupNumber,
			SpaceGroupShortName: mp.Phase.SpaceGroupShortName,
			CrystalSystem:       mp.Phase.CrystalSystem,
			MasterPatternPath:   path,
		}); err != nil {
			return jobs.Snapshot{}, fmt.Errorf("register phase: %w", err)
		}
	}

	binning := req.Binning
	if binning < 1 {
		binning = 1
	}
	sigRows, sigCols := ds.SignalShape()
	task := &refine.Task{
		Dataset:      ds,
		PriorMap:     prior,
		PriorMapPath: req.CrystalMapPath,
		Phases:       phases,
		Geometry: ebsd.Geometry{
			Rows:       sigRows / binning,
			Cols:       sigCols / binning,
			Binning:    binning,
			SampleTilt: ds.Metadata.SampleTilt,
			CameraTilt: ds.Metadata.CameraTilt,
			PC:         req.PC,
			Convention: ebsd.Convention(strings.ToLower(req.Convention)),
		},
		MaskEnabled: req.MaskEnabled,
		Method:      refine.MethodNelderMead,
		Params:      req.Params,
		Products:    req.Products,
		OutputDir:   req.OutputDir,
	}
	if task.Params == (refine.MethodParams{}) {
		task.Params = refine.DefaultMethodParams()
	}
	if err := task.Validate(); err != nil {
		return jobs.Snapshot{}, err
	}

	title := fmt.Sprintf("Refining orientations %s", filepath.Base(req.CrystalMapPath))
	outPath, _ := xmap.RefinedPaths(req.CrystalMapPath)

	return a.Jobs.Submit(jobs.Job{
		Title:      title,
		OutputPath: outPath,
		Run: func(ctx context.Context, sink *jobs.OutputSink) error {
			run := *task
			run.Logf = sink.Printf
			run.OnStage = func(stage string) {
				sink.Printf("Stage: %s", stage)
			}
			_, err := a.Engine.Run(ctx, &run)
			return err
		},
		Cleanup: func() {
			task.Dataset = nil
			task.PriorMap = nil
		},
	})
}

// ProcessingRequest selects signal-to-noise improvements for a dataset.
type ProcessingRequest struct {
	DatasetPath string                   `json:"datasetPath"`
	Options     refine.ProcessingOptions `json:"options"`
}

// StartPatternProcessing loads a dataset and submits a processing job
// writing the improved dataset under a step-tagged filename.
func (a *App) StartPatternProcessing(req ProcessingRequest) (jobs.Snapshot, error) {
	if !req.Options.Any() {
		return jobs.Snapshot{}, fmt.Errorf("no processing steps selected")
	}
	ds, err := ebsd.ReadJSON(req.DatasetPath)
	if err != nil {
		return jobs.Snapshot{}, fmt.Errorf("load dataset: %w", err)
	}

	outPath := refine.ProcessedPath(req.DatasetPath, req.Options)
	title := fmt.Sprintf("SN Improvement %s", filepath.Base(req.DatasetPath))

	return a.Jobs.Submit(jobs.Job{
		Title:      title,
		OutputPath: outPath,
		Run: func(ctx context.Context, sink *jobs.OutputSink) error {
			processed, err := refine.ApplyProcessing(ds, req.DatasetPath, req.Options, sink.Printf)
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := ebsd.WriteJSON(outPath, processed); err != nil {
				return err
			}
			sink.Printf("Processed dataset saved as %s", filepath.Base(outPath))
			return nil
		},
		Cleanup: func() {
			ds = nil
		},
	})
}

// CancelJob requests cooperative cancellation of a queued or running job.
func (a *App) CancelJob(id string) error {
	return a.Jobs.Cancel(id)
}

// ListJobs returns snapshots of all jobs in submission order.
func (a *App) ListJobs() []jobs.Snapshot {
	return a.Jobs.Jobs()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// JobStarted implements jobs.Observer.
func (a *App) JobStarted(job jobs.Snapshot) {
	a.publishEvent(jobs.Event{
		JobID:      job.ID,
		Title:      job.Title,
		Type:       jobs.EventTypeState,
		State:      job.State,
		OutputPath: job.OutputPath,
		Message:    "Job started",
	})
}

// JobFinished implements jobs.Observer.
func (a *App) JobFinished(job jobs.Snapshot) {
	event := jobs.Event{
		JobID:      job.ID,
		Title:      job.Title,
		Type:       jobs.EventTypeState,
		State:      job.State,
		OutputPath: job.OutputPath,
		Message:    "Job finished",
	}
	if job.State == domain.JobStateFailed {
		event.Type = jobs.EventTypeError
		event.Message = job.Err
		event.IsError = true
	}
	a.publishEvent(event)

	if job.State == domain.JobStateSucceeded && job.OutputPath != "" {
		a.publishEvent(jobs.Event{
			JobID:      job.ID,
			Title:      job.Title,
			Type:       jobs.EventTypeResult,
			State:      job.State,
			OutputPath: job.OutputPath,
			Message:    "Result written",
		})
	}
}

// JobOutput implements jobs.Observer.
func (a *App) JobOutput(line jobs.Line) {
	a.publishEvent(jobs.Event{
		JobID:   line.JobID,
		Title:   line.Title,
		Type:    jobs.EventTypeLog,
		Message: line.Text,
		IsError: line.IsError,
	})
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", published)
	}
}

// pickFile opens a native file dialog with the given title and filters.
func (a *App) pickFile(title string, filters []wailsruntime.FileFilter) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   title,
		Filters: filters,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// pickDirectory opens a native directory picker with the given title.
func (a *App) pickDirectory(title string) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: title,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims user inputs and fills missing fields with
// application defaults.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.WorkingDir = strings.TrimSpace(settings.WorkingDir)
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.Convention = strings.ToLower(strings.TrimSpace(settings.Convention))
	if settings.Convention == "" {
		settings.Convention = "bruker"
	}
	if len(settings.Palette) == 0 {
		settings.Palette = append([]string(nil), xmap.DefaultPalette...)
	}
	return settings
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
