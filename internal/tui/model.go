// Package tui renders live batch progress in the terminal.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"audiomate/internal/domain"
	"audiomate/internal/jobs"
)

const barWidth = 24

// assetRow is the displayed state of one asset.
type assetRow struct {
	name     string
	size     int64
	status   domain.AssetStatus
	progress float64
	detail   string
	degraded bool
}

// Model is the bubbletea model for a running batch.
type Model struct {
	events <-chan jobs.Event
	cancel func()

	rows      []assetRow
	resources string
	notice    string
	summary   string
	archive   string

	finished   bool
	cancelling bool
	width      int
}

// New creates a model listing assets as queued.
func New(assets []domain.AudioAsset, events <-chan jobs.Event, cancel func()) Model {
	rows := make([]assetRow, len(assets))
	for i, a := range assets {
		rows[i] = assetRow{name: a.Name, size: a.Size, status: domain.AssetStatusQueued}
	}
	return Model{events: events, cancel: cancel, rows: rows, width: 80}
}

// Init starts listening for batch events.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

// Finished reports whether the batch has ended.
func (m Model) Finished() bool {
	return m.finished
}

// Update handles keys and batch events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.finished {
				return m, tea.Quit
			}
			if !m.cancelling && m.cancel != nil {
				m.cancel()
			}
			m.cancelling = true
			m.notice = "Cancelling, stopping the current file..."
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case EventMsg:
		m = m.apply(msg.Event)
		if m.finished {
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

// apply folds one event into the view state.
func (m Model) apply(ev jobs.Event) Model {
	if ev.Index < 0 {
		switch ev.Type {
		case jobs.EventTypeBatch:
			m.finished = true
			m.summary = ev.Message
			m.archive = ev.ArchivePath
		case jobs.EventTypeError:
			m.finished = true
			m.summary = ev.Message
		}
		return m
	}

	for len(m.rows) <= ev.Index {
		m.rows = append(m.rows, assetRow{status: domain.AssetStatusQueued})
	}
	// Rows are copied so earlier Model values stay unchanged.
	m.rows = append([]assetRow(nil), m.rows...)
	row := &m.rows[ev.Index]
	if ev.Asset != "" {
		row.name = ev.Asset
	}

	switch ev.Type {
	case jobs.EventTypeStatus:
		row.status = ev.Status
	case jobs.EventTypeProgress:
		row.status = domain.AssetStatusTranscribing
		if ev.Progress > row.progress {
			row.progress = ev.Progress
		}
	case jobs.EventTypeResource:
		if ev.Resources != nil {
			m.resources = ev.Resources.String()
		} else {
			m.resources = ev.Message
		}
	case jobs.EventTypeFault:
		row.degraded = true
		row.progress = 0
		m.notice = ev.Message
	case jobs.EventTypeResult:
		row.status = ev.Status
		if ev.Status == domain.AssetStatusDone {
			row.progress = 1
			row.detail = ev.TextPath
		} else {
			row.detail = ev.Message
		}
	case jobs.EventTypeError:
		if ev.Status != "" {
			row.status = ev.Status
		}
		row.detail = ev.Message
	}
	return m
}

// View renders the batch.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("AudioMate"))
	b.WriteString("\n")
	b.WriteString(dividerStyle.Render(strings.Repeat("─", max(m.width, 20))))
	b.WriteString("\n")

	for _, row := range m.rows {
		b.WriteString(renderRow(row))
		b.WriteString("\n")
	}

	if m.resources != "" {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(m.resources))
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice))
		b.WriteString("\n")
	}
	if m.summary != "" {
		b.WriteString("\n")
		b.WriteString(nameStyle.Render(m.summary))
		b.WriteString("\n")
	}
	if m.archive != "" {
		b.WriteString(dimStyle.Render("Archive: " + m.archive))
		b.WriteString("\n")
	}
	if !m.finished {
		b.WriteString(dimStyle.Render("q: cancel"))
		b.WriteString("\n")
	}
	return b.String()
}

func renderRow(row assetRow) string {
	line := fmt.Sprintf("%s %s %s",
		statusStyle(row.status).Render(fmt.Sprintf("%-12s", row.status)),
		nameStyle.Render(row.name),
		dimStyle.Render("("+humanize.Bytes(uint64(max(row.size, 0)))+")"),
	)
	switch row.status {
	case domain.AssetStatusTranscribing:
		line += " " + progressBar(row.progress)
		if row.degraded {
			line += noticeStyle.Render(" cpu")
		}
	case domain.AssetStatusDone, domain.AssetStatusNoSpeech, domain.AssetStatusRejected, domain.AssetStatusFailed, domain.AssetStatusCancelled:
		if row.detail != "" {
			line += "\n    " + statusStyle(row.status).Render(firstLine(row.detail))
		}
	}
	return line
}

// progressBar draws a fixed width bar with a percentage.
func progressBar(fraction float64) string {
	fraction = min(max(fraction, 0), 1)
	filled := int(fraction * barWidth)
	bar := barFullStyle.Render(strings.Repeat("█", filled)) + dimStyle.Render(strings.Repeat("░", barWidth-filled))
	return fmt.Sprintf("%s %3.0f%%", bar, fraction*100)
}

func statusStyle(status domain.AssetStatus) lipgloss.Style {
	switch status {
	case domain.AssetStatusDone:
		return doneStyle
	case domain.AssetStatusFailed, domain.AssetStatusRejected, domain.AssetStatusCancelled:
		return errorStyle
	case domain.AssetStatusQueued, domain.AssetStatusNoSpeech:
		return dimStyle
	default:
		return activeStyle
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
