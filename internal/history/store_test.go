package history

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

	entries := []Entry{
		{ID: "a", BatchID: "b1", Asset: "uno.mp3", Status: "done", Target: "accelerated", Model: "large-v2", Segments: 4, StartedAt: base, FinishedAt: base.Add(time.Minute)},
		{ID: "b", BatchID: "b1", Asset: "dos.wav", Status: "failed", ErrorKind: "probe_failure", Error: "no audio stream", StartedAt: base, FinishedAt: base.Add(2 * time.Minute)},
		{ID: "c", BatchID: "b1", Asset: "tres.m4a", Status: "done", Target: "fallback", Model: "small", Degraded: true, StartedAt: base, FinishedAt: base.Add(3 * time.Minute)},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record(%s) error = %v", e.ID, err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("Recent() ids = %v, want [c b]", ids(got))
	}
	if !got[0].Degraded || got[0].Model != "small" {
		t.Fatalf("entry c = %+v", got[0])
	}
	if got[1].ErrorKind != "probe_failure" || got[1].Target != "" {
		t.Fatalf("entry b = %+v", got[1])
	}
	if !got[0].FinishedAt.Equal(base.Add(3 * time.Minute)) {
		t.Fatalf("finishedAt = %v", got[0].FinishedAt)
	}
}

// TestRecordReplacesSameID verifies a re-recorded asset keeps one row.
func TestRecordReplacesSameID(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.Record(ctx, Entry{ID: "x", BatchID: "b", Asset: "a.wav", Status: "transcribing", StartedAt: now, FinishedAt: now}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := s.Record(ctx, Entry{ID: "x", BatchID: "b", Asset: "a.wav", Status: "done", StartedAt: now, FinishedAt: now}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 || got[0].Status != "done" {
		t.Fatalf("Recent() = %+v", got)
	}
}

func TestOpenFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.sqlite")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	now := time.Now()
	if err := s.Record(context.Background(), Entry{ID: "p", BatchID: "b", Asset: "a.mp3", Status: "no_speech", StartedAt: now, FinishedAt: now}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 || got[0].Status != "no_speech" {
		t.Fatalf("Recent() = %+v", got)
	}
}

// TestRecordKeepsStderr verifies the command stderr of a failure is stored,
// including in databases created before the column existed.
func TestRecordKeepsStderr(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.sqlite")
	old, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open old database: %v", err)
	}
	if _, err := old.Exec(`CREATE TABLE runs (
		id TEXT PRIMARY KEY, batchId TEXT NOT NULL, asset TEXT NOT NULL, status TEXT NOT NULL,
		target TEXT, model TEXT, degraded INTEGER NOT NULL DEFAULT 0, duration REAL NOT NULL DEFAULT 0,
		language TEXT, segments INTEGER NOT NULL DEFAULT 0, textPath TEXT, errorKind TEXT, error TEXT,
		startedAt REAL NOT NULL, finishedAt REAL NOT NULL)`); err != nil {
		t.Fatalf("create old table: %v", err)
	}
	old.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	now := time.Now()
	entry := Entry{ID: "f", BatchID: "b", Asset: "broken.wav", Status: "failed", ErrorKind: "normalization_failure",
		Error: "broken.wav: normalizing: ffmpeg audio normalization failed (cmd=ffmpeg exit=1)",
		Stderr: "Invalid data found when processing input", StartedAt: now, FinishedAt: now}
	if err := s.Record(context.Background(), entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	got, err := s.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 || got[0].Stderr != entry.Stderr {
		t.Fatalf("Recent() = %+v, want stderr %q", got, entry.Stderr)
	}
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
