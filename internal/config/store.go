package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/lo"

	"audiomate/internal/domain"
)

// Store defines persistence operations for user settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// JSONStore keeps settings in one JSON file.
type JSONStore struct {
	path string
}

// NewJSONStore creates a JSON-backed settings store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path returns the settings file location.
func (s *JSONStore) Path() string {
	return s.path
}

// Load reads settings, falling back to defaults for a missing file and for
// fields that are absent or blank.
func (s *JSONStore) Load() (domain.Settings, error) {
	defaults := DefaultSettings()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return defaults, nil
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("read %s: %w", s.path, err)
	}

	var loaded domain.Settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		return domain.Settings{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return domain.Settings{
		Model:     lo.CoalesceOrEmpty(loaded.Model, defaults.Model),
		OutputDir: lo.CoalesceOrEmpty(loaded.OutputDir, defaults.OutputDir),
		Language:  lo.CoalesceOrEmpty(loaded.Language, defaults.Language),
		Engine:    lo.CoalesceOrEmpty(loaded.Engine, defaults.Engine),
	}, nil
}

// Save replaces the settings file through a temporary file in the same
// directory, so readers never see a partial write.
func (s *JSONStore) Save(settings domain.Settings) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	_, writeErr := tmp.Write(append(data, '\n'))
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
