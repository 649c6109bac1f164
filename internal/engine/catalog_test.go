package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// TestLookup verifies known model lookup.
func TestLookup(t *testing.T) {
	model, found := Lookup("large-v2")
	if !found {
		t.Fatal("expected large-v2 model to exist")
	}
	if model.FileName != "ggml-large-v2.bin" {
		t.Fatalf("filename = %s, want ggml-large-v2.bin", model.FileName)
	}
	if _, found := Lookup("huge"); found {
		t.Fatal("expected unknown id to be missing")
	}
}

// TestCatalogModelsMarksDownloaded marks models whose weights are cached.
func TestCatalogModelsMarksDownloaded(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ggml-base.bin"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, m := range NewCatalog(dir).Models() {
		want := m.ID == "base"
		if m.Downloaded != want {
			t.Fatalf("%s downloaded = %v, want %v", m.ID, m.Downloaded, want)
		}
	}
}

// TestResolveModelPathDirectory picks the first model file in a directory.
func TestResolveModelPathDirectory(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"notes.txt", "b.gguf", "a.bin"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got, err := NewCatalog(t.TempDir()).ResolveModelPath(dir)
	if err != nil {
		t.Fatalf("ResolveModelPath() error = %v", err)
	}
	if got != filepath.Join(dir, "a.bin") {
		t.Fatalf("path = %s, want a.bin", got)
	}
}

// TestDownloadURLToFile writes through a temp file and renames into place.
func TestDownloadURLToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "audiomate" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("weights"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := NewCatalog(dir)
	dest := filepath.Join(dir, "ggml-tiny.bin")
	if err := c.downloadURLToFile(context.Background(), dest, srv.URL); err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "weights" {
		t.Fatalf("content = %q, %v", data, err)
	}
	if _, err := os.Stat(dest + ".download"); !os.IsNotExist(err) {
		t.Fatal("temp file should be gone")
	}
}

// TestDownloadURLToFileHTTPError keeps no partial file on failure.
func TestDownloadURLToFileHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "m.bin")
	if err := NewCatalog(filepath.Dir(dest)).downloadURLToFile(context.Background(), dest, srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatal("destination should not exist")
	}
}
