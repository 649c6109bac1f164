package jobs

import (
	"sync"
	"time"

	"audiomate/internal/domain"
)

// EventType classifies messages emitted during batch execution.
type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeProgress EventType = "progress"
	EventTypeResource EventType = "resource"
	EventTypeFault    EventType = "fault"
	EventTypeLog      EventType = "log"
	EventTypeResult   EventType = "result"
	EventTypeError    EventType = "error"
	EventTypeBatch    EventType = "batch"
)

// Event is a sequenced payload consumed by subscribers.
type Event struct {
	Seq         int64                  `json:"seq"`
	Timestamp   time.Time              `json:"timestamp"`
	BatchID     string                 `json:"batchId"`
	Index       int                    `json:"index"`
	Asset       string                 `json:"asset,omitempty"`
	Type        EventType              `json:"type"`
	Status      domain.AssetStatus     `json:"status,omitempty"`
	Progress    float64                `json:"progress,omitempty"`
	Resources   *domain.ResourceSample `json:"resources,omitempty"`
	Message     string                 `json:"message,omitempty"`
	ErrorKind   string                 `json:"errorKind,omitempty"`
	Command     string                 `json:"command,omitempty"`
	Args        []string               `json:"args,omitempty"`
	ExitCode    int                    `json:"exitCode,omitempty"`
	Stderr      string                 `json:"stderr,omitempty"`
	TextPath    string                 `json:"textPath,omitempty"`
	DocxPath    string                 `json:"docxPath,omitempty"`
	ArchivePath string                 `json:"archivePath,omitempty"`
}

// EventBus stores recent events, provides incremental reads and fans out
// to live subscribers.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	subs      map[int]chan Event
	nextSub   int
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      make(map[int]chan Event),
	}
}

// Publish appends one event and assigns sequence and timestamp. Subscribers
// that are not keeping up miss the event rather than block the pipeline.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Subscribe returns a channel receiving new events and a function that
// closes it.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
