// Package diagnostics checks that the host can run transcriptions.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"audiomate/internal/domain"
	"audiomate/internal/engine"
	"audiomate/internal/media"
)

// Target describes the configured toolchain to check.
type Target struct {
	FFmpeg     string
	FFprobe    string
	Backend    string
	Python     string
	WhisperCpp string
	Model      string
	CacheDir   string
	OutputDir  string
}

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	runner     media.Runner
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		readDir:    os.ReadDir,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		runner:     media.ExecRunner{},
	}
}

// Run executes all checks and returns a combined report. Warnings never
// count as failures.
func (c *Checker) Run(ctx context.Context, t Target) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool(lo.CoalesceOrEmpty(t.FFmpeg, "ffmpeg")),
		c.checkTool(lo.CoalesceOrEmpty(t.FFprobe, "ffprobe")),
	}

	if t.Backend == "whisper.cpp" {
		items = append(items,
			c.checkTool(lo.CoalesceOrEmpty(t.WhisperCpp, "whisper.cpp")),
			c.checkModelPath(t.CacheDir, t.Model),
		)
	} else {
		python := lo.CoalesceOrEmpty(t.Python, "python3")
		tool := c.checkTool(python)
		items = append(items, tool)
		if tool.Status == domain.DiagnosticStatusPass {
			items = append(items, c.checkPythonModule(ctx, python))
		}
	}

	items = append(items,
		c.checkAccelerator(),
		c.checkWritableDir("cache_dir", "Model cache directory", t.CacheDir),
		c.checkWritableDir("output_dir", "Output directory", t.OutputDir),
	)

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: lo.SomeBy(items, func(item domain.DiagnosticItem) bool {
			return item.Status == domain.DiagnosticStatusFail
		}),
		Items: items,
	}
}

// checkTool verifies a required CLI executable is on PATH.
func (c *Checker) checkTool(name string) domain.DiagnosticItem {
	id := "tool_" + filepath.Base(name)
	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      id,
			Name:    filepath.Base(name),
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found in PATH: %s", name),
			Hint:    "Install it and ensure the binary is available on PATH before starting a transcription.",
		}
	}

	return domain.DiagnosticItem{
		ID:      id,
		Name:    filepath.Base(name),
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkPythonModule verifies faster-whisper can be imported.
func (c *Checker) checkPythonModule(ctx context.Context, python string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "python_faster_whisper", Name: "faster-whisper"}
	res, err := c.runner.Run(ctx, python, "-c", "import faster_whisper; print(faster_whisper.__version__)")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Python module faster_whisper is not importable."
		item.Hint = fmt.Sprintf("Run `%s -m pip install faster-whisper`.", python)
		return item
	}
	item.Status = domain.DiagnosticStatusPass
	item.Message = "Version " + strings.TrimSpace(res.Stdout)
	return item
}

// checkAccelerator reports whether CUDA can be used. Its absence is a warning.
func (c *Checker) checkAccelerator() domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "accelerator", Name: "CUDA accelerator"}
	path, err := c.lookPath("nvidia-smi")
	if err != nil {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = "nvidia-smi not found; transcription will run on CPU with int8 precision."
		return item
	}
	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("nvidia-smi found at %s", path)
	return item
}

// checkModelPath validates the whisper.cpp model id, file or directory.
func (c *Checker) checkModelPath(cacheDir, modelRef string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "model_path",
		Name: "Model",
	}

	if strings.TrimSpace(modelRef) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Model is empty."
		item.Hint = "Set a model id or a path to a whisper.cpp model file."
		return item
	}

	modelPath := modelRef
	if model, ok := engine.Lookup(modelRef); ok {
		modelPath = filepath.Join(cacheDir, model.FileName)
	}

	info, err := c.stat(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("Model path does not exist: %s", modelPath)
		} else {
			item.Message = fmt.Sprintf("Cannot access model path: %s", modelPath)
		}
		item.Hint = fmt.Sprintf("Run `audiomate models pull %s` or point to a downloaded model.", modelRef)
		return item
	}

	if !info.IsDir() {
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Model file found: %s", modelPath)
		return item
	}

	entries, err := c.readDir(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read model directory: %s", modelPath)
		item.Hint = "Check permissions for the model directory."
		return item
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Model directory is valid: %s", modelPath)
			return item
		}
	}

	item.Status = domain.DiagnosticStatusFail
	item.Message = fmt.Sprintf("No model files found in directory: %s", modelPath)
	item.Hint = "Place a .bin or .gguf model file in this directory or point to a model file directly."
	return item
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id, name, dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: name,
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = name + " is empty."
		item.Hint = "Set a directory where files can be written."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = "Choose a writable directory."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	readDir func(string) ([]os.DirEntry, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
	runner media.Runner,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		readDir:    readDir,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
		runner:     runner,
	}
}
