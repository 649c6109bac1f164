package bootstrap

import (
	"context"
	"errors"
	"testing"

	"audiomate/internal/domain"
)

// fakeDownloader records requested model ids.
type fakeDownloader struct {
	requested []string
	err       error
}

func (d *fakeDownloader) Models() []domain.WhisperModelOption {
	return nil
}

func (d *fakeDownloader) Download(_ context.Context, id string) (string, error) {
	d.requested = append(d.requested, id)
	if d.err != nil {
		return "", d.err
	}
	return "/cache/ggml-" + id + ".bin", nil
}

// TestPullModelRejectsUnknownID verifies catalog lookup happens before download.
func TestPullModelRejectsUnknownID(t *testing.T) {
	dl := &fakeDownloader{}
	app := newTestApp(&fakeStore{}, nil)

	if _, err := pullModel(context.Background(), dl, app, "enormous", false); err == nil {
		t.Fatal("expected error for unknown model id")
	}
	if _, err := pullModel(context.Background(), dl, app, " ", false); err == nil {
		t.Fatal("expected error for empty model id")
	}
	if len(dl.requested) != 0 {
		t.Fatalf("requested = %v, want none", dl.requested)
	}
}

// TestPullModelLeavesSettingsAlone keeps the configured model without makeDefault.
func TestPullModelLeavesSettingsAlone(t *testing.T) {
	dl := &fakeDownloader{}
	store := &fakeStore{settings: domain.Settings{Model: "large-v2"}}
	app := newTestApp(store, nil)

	path, err := pullModel(context.Background(), dl, app, "small", false)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if path != "/cache/ggml-small.bin" {
		t.Fatalf("path = %q", path)
	}
	if len(store.saved) != 0 {
		t.Fatalf("saved = %+v, want none", store.saved)
	}
}

// TestPullModelMakesDefault persists the pulled model as the primary model.
func TestPullModelMakesDefault(t *testing.T) {
	dl := &fakeDownloader{}
	store := &fakeStore{settings: domain.Settings{Model: "large-v2", OutputDir: "/out", Language: "es", Engine: "whisper.cpp"}}
	app := newTestApp(store, nil)

	if _, err := pullModel(context.Background(), dl, app, " medium ", true); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(dl.requested) != 1 || dl.requested[0] != "medium" {
		t.Fatalf("requested = %v", dl.requested)
	}
	if len(store.saved) != 1 || store.saved[0].Model != "medium" || store.saved[0].Engine != "whisper.cpp" {
		t.Fatalf("saved = %+v", store.saved)
	}
}

// TestPullModelDownloadFailure surfaces the download error.
func TestPullModelDownloadFailure(t *testing.T) {
	boom := errors.New("network down")
	dl := &fakeDownloader{err: boom}
	store := &fakeStore{}
	app := newTestApp(store, nil)

	if _, err := pullModel(context.Background(), dl, app, "tiny", true); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if len(store.saved) != 0 {
		t.Fatalf("saved = %+v, want none", store.saved)
	}
}
