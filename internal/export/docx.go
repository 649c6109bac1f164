package export

import (
	"bytes"
	"fmt"

	"github.com/fumiama/go-docx"
)

// Run sizes are in half points.
const (
	titleSize   = "52"
	headingSize = "32"
)

// RenderDOCX builds the Word document: a title, the file and date
// paragraphs, a blank line, the "Texto completo" heading and the transcript.
func RenderDOCX(doc Document) ([]byte, error) {
	w := docx.New().WithDefaultTheme()

	w.AddParagraph().Justification("center").
		AddText("Transcripción de audio").Bold().Size(titleSize)
	w.AddParagraph().AddText("Archivo original: " + doc.FileName)
	w.AddParagraph().AddText("Fecha: " + doc.Date)
	w.AddParagraph()
	w.AddParagraph().AddText("Texto completo").Bold().Size(headingSize)
	w.AddParagraph().AddText(doc.Text)

	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write docx: %w", err)
	}
	return buf.Bytes(), nil
}
