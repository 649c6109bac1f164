package config

import (
	"os"
	"path/filepath"

	"audiomate/internal/domain"
)

const (
	DefaultModel         = "large-v2"
	DefaultFallbackModel = "small"
	DefaultLanguage      = "es"
	DefaultEngine        = "faster-whisper"
	DefaultMaxUploadMB   = 1000
	DefaultBeamSize      = 5
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		Model:     DefaultModel,
		OutputDir: filepath.Join(homeDir, "Documents", "Transcripciones"),
		Language:  DefaultLanguage,
		Engine:    DefaultEngine,
	}
}

// DefaultSettingsPath is where the JSON settings file lives.
func DefaultSettingsPath() string {
	return filepath.Join(appDir(), "settings.json")
}

// appDir is the per-user state directory.
func appDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".audiomate")
}
