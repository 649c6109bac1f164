package diagnostics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"audiomate/internal/domain"
	"audiomate/internal/media"
)

type runnerFunc func(ctx context.Context, name string, args ...string) (media.CommandResult, error)

func (f runnerFunc) Run(ctx context.Context, name string, args ...string) (media.CommandResult, error) {
	return f(ctx, name, args...)
}

func okRunner(stdout string) media.Runner {
	return runnerFunc(func(context.Context, string, ...string) (media.CommandResult, error) {
		return media.CommandResult{Stdout: stdout}, nil
	})
}

func foundEverywhere(name string) (string, error) { return "/usr/local/bin/" + name, nil }

func newTestChecker(lookPath func(string) (string, error), runner media.Runner) *Checker {
	return NewCheckerForTests(lookPath, os.Stat, os.ReadDir, os.MkdirAll, os.CreateTemp, os.Remove, runner)
}

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	checker := newTestChecker(foundEverywhere, okRunner("1.1.0\n"))

	report := checker.Run(context.Background(), Target{
		Backend:   "faster-whisper",
		CacheDir:  filepath.Join(root, "cache"),
		OutputDir: filepath.Join(root, "output"),
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	assertStatusByID(t, report, "python_faster_whisper", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "accelerator", domain.DiagnosticStatusPass)
}

// TestCheckerRunMissingToolsAndPaths validates failure reporting.
func TestCheckerRunMissingToolsAndPaths(t *testing.T) {
	checker := newTestChecker(func(string) (string, error) { return "", errors.New("not found") }, okRunner(""))

	report := checker.Run(context.Background(), Target{Backend: "faster-whisper", CacheDir: "", OutputDir: ""})

	if !report.HasFailures {
		t.Fatal("expected failures")
	}
	assertStatusByID(t, report, "tool_ffmpeg", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "tool_ffprobe", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "tool_python3", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "accelerator", domain.DiagnosticStatusWarn)
	assertStatusByID(t, report, "cache_dir", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "output_dir", domain.DiagnosticStatusFail)
	for _, item := range report.Items {
		if item.ID == "python_faster_whisper" {
			t.Fatal("module check must be skipped without an interpreter")
		}
	}
}

// TestCheckerMissingAcceleratorIsOnlyWarning verifies CPU-only hosts pass.
func TestCheckerMissingAcceleratorIsOnlyWarning(t *testing.T) {
	root := t.TempDir()
	lookPath := func(name string) (string, error) {
		if name == "nvidia-smi" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + name, nil
	}
	report := newTestChecker(lookPath, okRunner("1.0.3")).Run(context.Background(), Target{
		CacheDir:  filepath.Join(root, "cache"),
		OutputDir: filepath.Join(root, "out"),
	})
	if report.HasFailures {
		t.Fatalf("expected warnings only, got %+v", report.Items)
	}
	assertStatusByID(t, report, "accelerator", domain.DiagnosticStatusWarn)
}

func TestCheckerPythonModuleMissing(t *testing.T) {
	root := t.TempDir()
	failing := runnerFunc(func(context.Context, string, ...string) (media.CommandResult, error) {
		return media.CommandResult{ExitCode: 1, Stderr: "ModuleNotFoundError"}, errors.New("exit status 1")
	})
	report := newTestChecker(foundEverywhere, failing).Run(context.Background(), Target{
		Python:    "/opt/venv/bin/python",
		CacheDir:  filepath.Join(root, "cache"),
		OutputDir: filepath.Join(root, "out"),
	})
	assertStatusByID(t, report, "tool_python", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "python_faster_whisper", domain.DiagnosticStatusFail)
}

// TestCheckerWhisperCppModel validates model resolution for the CLI backend.
func TestCheckerWhisperCppModel(t *testing.T) {
	root := t.TempDir()
	cache := filepath.Join(root, "cache")
	if err := os.MkdirAll(cache, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	checker := newTestChecker(foundEverywhere, okRunner(""))
	target := Target{Backend: "whisper.cpp", Model: "small", CacheDir: cache, OutputDir: filepath.Join(root, "out")}

	report := checker.Run(context.Background(), target)
	assertStatusByID(t, report, "tool_whisper.cpp", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "model_path", domain.DiagnosticStatusFail)

	if err := os.WriteFile(filepath.Join(cache, "ggml-small.bin"), []byte("stub"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	report = checker.Run(context.Background(), target)
	assertStatusByID(t, report, "model_path", domain.DiagnosticStatusPass)
}

// TestCheckerModelDirectoryWithoutModelFilesFails validates model check.
func TestCheckerModelDirectoryWithoutModelFilesFails(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "models")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		t.Fatalf("mkdir models: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modelDir, "README.txt"), []byte("no model"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}

	report := newTestChecker(foundEverywhere, okRunner("")).Run(context.Background(), Target{
		Backend:   "whisper.cpp",
		Model:     modelDir,
		CacheDir:  filepath.Join(root, "cache"),
		OutputDir: filepath.Join(root, "output"),
	})

	assertStatusByID(t, report, "model_path", domain.DiagnosticStatusFail)
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}
