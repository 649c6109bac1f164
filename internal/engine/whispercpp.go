package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"audiomate/internal/domain"
	"audiomate/internal/media"
)

// WhisperCppConfig configures the whisper.cpp CLI backend.
type WhisperCppConfig struct {
	Binary       string
	VADModelPath string
	Catalog      *Catalog
}

// WhisperCpp runs the whisper.cpp CLI once per transcription and streams the
// parsed JSON result.
type WhisperCpp struct {
	binary    string
	modelPath string
	vadModel  string
	profile   Profile
	runner    media.Runner
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	readFile  func(name string) ([]byte, error)
}

// NewWhisperCppLoader returns a Loader resolving profile models through the catalog.
func NewWhisperCppLoader(cfg WhisperCppConfig) Loader {
	return func(ctx context.Context, p Profile) (Engine, error) {
		modelPath, err := cfg.Catalog.ResolveModelPath(p.Model)
		if err != nil {
			return nil, err
		}
		return NewWhisperCpp(cfg.Binary, modelPath, cfg.VADModelPath, p), nil
	}
}

// NewWhisperCpp constructs the backend with OS dependencies.
func NewWhisperCpp(binary, modelPath, vadModel string, p Profile) *WhisperCpp {
	if strings.TrimSpace(binary) == "" {
		binary = "whisper.cpp"
	}
	return &WhisperCpp{
		binary:    binary,
		modelPath: modelPath,
		vadModel:  vadModel,
		profile:   p,
		runner:    media.ExecRunner{},
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		readFile:  os.ReadFile,
	}
}

// NewWhisperCppForTests constructs the backend with an injectable runner.
func NewWhisperCppForTests(binary, modelPath string, p Profile, runner media.Runner) *WhisperCpp {
	w := NewWhisperCpp(binary, modelPath, "", p)
	w.runner = runner
	return w
}

// Profile returns the loaded configuration.
func (w *WhisperCpp) Profile() Profile {
	return w.profile
}

// Close is a no-op; nothing stays resident between runs.
func (w *WhisperCpp) Close() error {
	return nil
}

type cppOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// Transcribe runs whisper.cpp to completion and returns its segments.
func (w *WhisperCpp) Transcribe(ctx context.Context, audioPath string, opts Options) (Stream, LanguageInfo, error) {
	tempDir, err := w.mkdirTemp("", "audiomate-whispercpp-*")
	if err != nil {
		return nil, LanguageInfo{}, fmt.Errorf("create temporary workspace: %w", err)
	}
	defer func() { _ = w.removeAll(tempDir) }()

	base := filepath.Join(tempDir, "transcript")
	args := w.buildArgs(audioPath, base, opts)
	res, runErr := w.runner.Run(ctx, w.binary, args...)
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, LanguageInfo{}, ctx.Err()
		}
		return nil, LanguageInfo{}, classifyFailure(w.profile.Device, res.Stderr, runErr)
	}

	data, err := w.readFile(base + ".json")
	if err != nil {
		return nil, LanguageInfo{}, fmt.Errorf("whisper.cpp completed but JSON output is missing: %w", err)
	}
	segments, lang, err := parseCppOutput(data)
	if err != nil {
		return nil, LanguageInfo{}, err
	}
	return NewSliceStream(segments, nil), LanguageInfo{Language: lang}, nil
}

func (w *WhisperCpp) buildArgs(audioPath, outBase string, opts Options) []string {
	args := []string{
		"-m", w.modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
	}
	if opts.BeamSize > 0 {
		args = append(args, "-bs", fmt.Sprint(opts.BeamSize))
	}
	if lang := normalizeLanguage(opts.Language); lang != "" {
		args = append(args, "-l", lang)
	}
	if opts.VADFilter && w.vadModel != "" {
		args = append(args, "--vad", "-vm", w.vadModel)
	}
	if w.profile.Device == "cpu" {
		args = append(args, "-ng")
	}
	return args
}

func parseCppOutput(data []byte) ([]domain.Segment, string, error) {
	var out cppOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, "", fmt.Errorf("decode whisper.cpp output: %w", err)
	}

	segments := make([]domain.Segment, 0, len(out.Transcription))
	for _, item := range out.Transcription {
		if strings.TrimSpace(item.Text) == "" {
			continue
		}
		segments = append(segments, domain.Segment{
			Start: float64(item.Offsets.From) / 1000,
			End:   float64(item.Offsets.To) / 1000,
			Text:  item.Text,
		})
	}
	return segments, out.Result.Language, nil
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}
