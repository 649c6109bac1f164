// Package export renders finished transcripts to the files handed back to
// the user.
package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"audiomate/internal/domain"
	"audiomate/internal/media"
)

// ArchiveName is the bundle holding every exported transcript of a batch.
const ArchiveName = "transcripciones.zip"

// DateLayout formats the export date.
const DateLayout = "2006-01-02"

// Document is one transcript ready for rendering.
type Document struct {
	FileName string
	Date     string
	Text     string
	Segments []domain.Segment
}

// Files lists the paths written for one asset.
type Files struct {
	TextPath     string `json:"textPath"`
	DocxPath     string `json:"docxPath"`
	SegmentsPath string `json:"segmentsPath"`
}

// Paths returns the transcript files in archive order.
func (f Files) Paths() []string {
	return lo.Compact([]string{f.TextPath, f.DocxPath})
}

// RenderTXT renders the plain text transcript with its header.
func RenderTXT(doc Document) []byte {
	return []byte(fmt.Sprintf("Archivo original: %s\nFecha: %s\n\n%s", doc.FileName, doc.Date, doc.Text))
}

// RenderSegments renders one timed line per segment.
func RenderSegments(segments []domain.Segment) string {
	lines := lo.Map(segments, func(seg domain.Segment, _ int) string {
		return fmt.Sprintf("[%.2fs – %.2fs] %s", seg.Start, seg.End, strings.TrimSpace(seg.Text))
	})
	return strings.Join(lines, "\n")
}

// Assembler writes transcript files into an output directory.
type Assembler struct {
	dir       string
	now       func() time.Time
	mkdirAll  func(path string, perm os.FileMode) error
	writeFile func(name string, data []byte, perm os.FileMode) error

	mu      sync.Mutex
	claimed map[string]struct{}
}

// NewAssembler creates an assembler writing into dir.
func NewAssembler(dir string) *Assembler {
	return &Assembler{
		dir:       dir,
		now:       time.Now,
		mkdirAll:  os.MkdirAll,
		writeFile: os.WriteFile,
	}
}

// Dir returns the output directory.
func (a *Assembler) Dir() string {
	return a.dir
}

// BeginBatch forgets the stems claimed by the previous batch. Files from an
// earlier batch with the same name are overwritten.
func (a *Assembler) BeginBatch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.claimed = nil
}

// claimStem returns stem, or stem-2, stem-3 and so on when an earlier asset
// of the batch already wrote that stem. Comparison ignores case so the
// result is stable on case-insensitive filesystems.
func (a *Assembler) claimStem(stem string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.claimed == nil {
		a.claimed = make(map[string]struct{})
	}
	candidate := stem
	for n := 2; ; n++ {
		key := strings.ToLower(candidate)
		if _, taken := a.claimed[key]; !taken {
			a.claimed[key] = struct{}{}
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d", stem, n)
	}
}

// Export writes <stem>.txt, <stem>.docx and <stem>.segments.txt for one asset.
func (a *Assembler) Export(fileName, text string, segments []domain.Segment) (Files, error) {
	if strings.TrimSpace(a.dir) == "" {
		return Files{}, exportError(fileName, "output directory is required", nil)
	}
	if err := a.mkdirAll(a.dir, 0o755); err != nil {
		return Files{}, exportError(fileName, fmt.Sprintf("cannot create output directory: %s", a.dir), err)
	}

	doc := Document{
		FileName: fileName,
		Date:     a.now().Format(DateLayout),
		Text:     text,
		Segments: segments,
	}
	stem := a.claimStem(media.Stem(fileName))
	files := Files{
		TextPath:     filepath.Join(a.dir, stem+".txt"),
		DocxPath:     filepath.Join(a.dir, stem+".docx"),
		SegmentsPath: filepath.Join(a.dir, stem+".segments.txt"),
	}

	if err := a.writeFile(files.TextPath, RenderTXT(doc), 0o644); err != nil {
		return Files{}, exportError(fileName, "failed to write transcript text", err)
	}
	docx, err := RenderDOCX(doc)
	if err != nil {
		return Files{}, exportError(fileName, "failed to render docx", err)
	}
	if err := a.writeFile(files.DocxPath, docx, 0o644); err != nil {
		return Files{}, exportError(fileName, "failed to write docx", err)
	}
	if err := a.writeFile(files.SegmentsPath, []byte(RenderSegments(segments)), 0o644); err != nil {
		return Files{}, exportError(fileName, "failed to write segment detail", err)
	}
	return files, nil
}

// WriteArchive bundles paths into ArchiveName inside the output directory.
// Entries are stored under their base names.
func (a *Assembler) WriteArchive(paths []string) (string, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, path := range lo.Uniq(paths) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		w, err := zw.Create(filepath.Base(path))
		if err != nil {
			return "", fmt.Errorf("add %s: %w", path, err)
		}
		if _, err := w.Write(data); err != nil {
			return "", fmt.Errorf("add %s: %w", path, err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finish archive: %w", err)
	}

	target := filepath.Join(a.dir, ArchiveName)
	if err := a.writeFile(target, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}
	return target, nil
}

func exportError(asset, msg string, err error) error {
	return &domain.StageError{Asset: asset, Stage: "exporting", Message: msg, Err: err}
}
