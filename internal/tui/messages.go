package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"audiomate/internal/jobs"
)

// EventMsg wraps one batch event from the bus.
type EventMsg struct {
	Event jobs.Event
}

// eventsClosedMsg is sent once the subscription channel is closed.
type eventsClosedMsg struct{}

// waitForEvent reads the next event from the subscription.
func waitForEvent(ch <-chan jobs.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}
