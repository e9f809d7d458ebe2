package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	colorful "github.com/lucasb-eyer/go-colorful"

	"orientation-refiner/internal/domain"
	"orientation-refiner/internal/ebsd"
)

// Checker validates configured paths and settings at startup.
type Checker struct {
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkWorkingDir(settings.WorkingDir),
		c.checkOutputDir(settings.OutputDir),
		c.checkConvention(settings.Convention),
		c.checkPalette(settings.Palette),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkWorkingDir validates the configured scan directory exists.
func (c *Checker) checkWorkingDir(workingDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "working_dir",
		Name: "Working directory",
	}

	if strings.TrimSpace(workingDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Working directory is empty."
		item.Hint = "Set the directory containing your scan projects."
		return item
	}

	info, err := c.stat(workingDir)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("Working directory does not exist: %s", workingDir)
		} else {
			item.Message = fmt.Sprintf("Cannot access working directory: %s", workingDir)
		}
		item.Hint = "Create the directory or point settings at an existing one."
		return item
	}
	if !info.IsDir() {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Working directory is a file: %s", workingDir)
		item.Hint = "Point settings at a directory, not a file."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Directory found: %s", workingDir)
	return item
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "output_dir",
		Name: "Output directory",
	}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Output directory is empty."
		item.Hint = "Set an output directory where refined maps can be written."
		return item
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory for result export."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// checkConvention validates the configured pattern center convention.
func (c *Checker) checkConvention(convention string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "convention",
		Name: "Pattern center convention",
	}

	parsed, err := ebsd.ParseConvention(convention)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Unknown convention: %q", convention)
		item.Hint = "Use one of bruker, tsl or oxford."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Convention: %s", parsed)
	return item
}

// checkPalette validates every configured phase color parses as hex.
func (c *Checker) checkPalette(palette []string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "palette",
		Name: "Phase color palette",
	}

	if len(palette) == 0 {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Phase color palette is empty."
		item.Hint = "Add at least one hex color, e.g. #0000ff."
		return item
	}

	for _, hex := range palette {
		if _, err := colorful.Hex(hex); err != nil {
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Invalid palette color: %q", hex)
			item.Hint = "Palette colors must be hex strings like #ffa500."
			return item
		}
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("%d colors configured", len(palette))
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
