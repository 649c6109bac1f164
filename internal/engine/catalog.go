package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"audiomate/internal/domain"
)

var whisperModelCatalog = []domain.WhisperModelOption{
	{
		ID:          "tiny",
		Name:        "Tiny",
		FileName:    "ggml-tiny.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin",
		SizeLabel:   "~75 MB",
		Description: "Fastest multilingual model.",
	},
	{
		ID:          "base",
		Name:        "Base",
		FileName:    "ggml-base.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin",
		SizeLabel:   "~142 MB",
		Description: "Balanced speed/quality, multilingual.",
	},
	{
		ID:          "small",
		Name:        "Small",
		FileName:    "ggml-small.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.bin",
		SizeLabel:   "~466 MB",
		Description: "Fallback model for CPU retries.",
	},
	{
		ID:          "medium",
		Name:        "Medium",
		FileName:    "ggml-medium.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium.bin",
		SizeLabel:   "~1.5 GB",
		Description: "High quality multilingual model.",
	},
	{
		ID:          "large-v2",
		Name:        "Large v2",
		FileName:    "ggml-large-v2.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v2.bin",
		SizeLabel:   "~2.9 GB",
		Description: "Default model, very high quality.",
	},
	{
		ID:          "large-v3",
		Name:        "Large v3",
		FileName:    "ggml-large-v3.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3.bin",
		SizeLabel:   "~2.9 GB",
		Description: "Latest large multilingual model.",
	},
}

// Catalog lists known models and locates their weights in the cache directory.
type Catalog struct {
	dir    string
	client *http.Client
}

// NewCatalog creates a catalog rooted at the weight cache directory.
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir, client: http.DefaultClient}
}

// Dir returns the weight cache directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Models returns the catalog with download state filled in.
func (c *Catalog) Models() []domain.WhisperModelOption {
	models := make([]domain.WhisperModelOption, len(whisperModelCatalog))
	copy(models, whisperModelCatalog)
	for i := range models {
		path := filepath.Join(c.dir, models[i].FileName)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			models[i].Downloaded = true
			models[i].LocalPath = path
		}
	}
	return models
}

// Lookup returns the catalog entry for id.
func Lookup(id string) (domain.WhisperModelOption, bool) {
	for _, model := range whisperModelCatalog {
		if model.ID == id {
			return model, true
		}
	}
	return domain.WhisperModelOption{}, false
}

// ResolveModelPath turns a model id, model file or model directory into a
// ggml weight file path.
func (c *Catalog) ResolveModelPath(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("model is required")
	}

	if model, ok := Lookup(ref); ok {
		path := filepath.Join(c.dir, model.FileName)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("model %s is not downloaded (run `audiomate models pull %s`)", ref, ref)
		}
		return path, nil
	}

	info, err := os.Stat(ref)
	if err != nil {
		return "", fmt.Errorf("unknown model or missing path: %s", ref)
	}
	if !info.IsDir() {
		return ref, nil
	}

	entries, err := os.ReadDir(ref)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", ref)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", ref)
	}
	sort.Strings(names)
	return filepath.Join(ref, names[0]), nil
}

// Download fetches the ggml weights for id into the cache directory.
func (c *Catalog) Download(ctx context.Context, id string) (string, error) {
	model, ok := Lookup(strings.TrimSpace(id))
	if !ok {
		return "", fmt.Errorf("unknown model id: %s", id)
	}
	target := filepath.Join(c.dir, model.FileName)
	if err := c.downloadURLToFile(ctx, target, model.URL); err != nil {
		return "", fmt.Errorf("download model %s: %w", model.Name, err)
	}
	return target, nil
}

func (c *Catalog) downloadURLToFile(ctx context.Context, destinationPath string, sourceURL string) error {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "audiomate")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}
	return nil
}
