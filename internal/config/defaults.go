package config

import (
	"os"
	"path/filepath"

	"orientation-refiner/internal/domain"
	"orientation-refiner/internal/xmap"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		WorkingDir: filepath.Join(homeDir, "EBSD"),
		OutputDir:  filepath.Join(homeDir, "EBSD", "Refined"),
		Convention: "bruker",
		Palette:    append([]string(nil), xmap.DefaultPalette...),
	}
}
