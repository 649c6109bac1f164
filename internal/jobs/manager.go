package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"audiomate/internal/domain"
)

// ErrBatchAlreadyRunning is returned when starting a second active batch.
var ErrBatchAlreadyRunning = errors.New("batch already running")

// ErrNoRunningBatch is returned when cancel is requested for idle state.
var ErrNoRunningBatch = errors.New("no running batch")

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchStatusIdle      BatchStatus = "idle"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusDone      BatchStatus = "done"
	BatchStatusCancelled BatchStatus = "cancelled"
)

// AssetState is the tracked progress of one asset in the batch.
type AssetState struct {
	Name   string             `json:"name"`
	Status domain.AssetStatus `json:"status"`
	Error  string             `json:"error,omitempty"`
}

// Batch is a snapshot of the current batch.
type Batch struct {
	ID        string       `json:"id"`
	Status    BatchStatus  `json:"status"`
	Assets    []AssetState `json:"assets"`
	StartedAt time.Time    `json:"startedAt"`
}

// Counts tallies assets by terminal outcome.
func (b Batch) Counts() (done, noSpeech, failed int) {
	for _, a := range b.Assets {
		switch a.Status {
		case domain.AssetStatusDone:
			done++
		case domain.AssetStatusNoSpeech:
			noSpeech++
		case domain.AssetStatusRejected, domain.AssetStatusFailed:
			failed++
		}
	}
	return done, noSpeech, failed
}

// Manager tracks the single allowed active batch and its asset transitions.
type Manager struct {
	mu      sync.RWMutex
	current Batch
	now     func() time.Time
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: Batch{Status: BatchStatusIdle},
		now:     time.Now,
	}
}

// Start creates a new batch with every asset queued.
func (m *Manager) Start(batchID string, assets []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Status == BatchStatusRunning {
		return ErrBatchAlreadyRunning
	}

	states := make([]AssetState, len(assets))
	for i, name := range assets {
		states[i] = AssetState{Name: name, Status: domain.AssetStatusQueued}
	}
	m.current = Batch{
		ID:        batchID,
		Status:    BatchStatusRunning,
		Assets:    states,
		StartedAt: m.now(),
	}
	return nil
}

// Transition validates and applies a stage change for asset index i.
func (m *Manager) Transition(i int, status domain.AssetStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Status != BatchStatusRunning {
		return fmt.Errorf("cannot transition without an active batch")
	}
	if i < 0 || i >= len(m.current.Assets) {
		return fmt.Errorf("asset index %d out of range", i)
	}
	asset := &m.current.Assets[i]
	if asset.Status == status {
		return nil
	}
	if !isValidTransition(asset.Status, status) {
		return fmt.Errorf("invalid transition for %s: %s -> %s", asset.Name, asset.Status, status)
	}
	asset.Status = status
	return nil
}

// Fail moves asset i to a terminal failure status and records the reason.
func (m *Manager) Fail(i int, status domain.AssetStatus, reason string) error {
	if err := m.Transition(i, status); err != nil {
		return err
	}
	m.mu.Lock()
	m.current.Assets[i].Error = reason
	m.mu.Unlock()
	return nil
}

// Finish marks the batch as done.
func (m *Manager) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.Status == BatchStatusRunning {
		m.current.Status = BatchStatusDone
	}
}

// Current returns a snapshot of the current batch.
func (m *Manager) Current() Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.current
	out.Assets = append([]AssetState(nil), m.current.Assets...)
	return out
}

// Reset clears batch metadata and returns manager to idle.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Batch{Status: BatchStatusIdle}
}

// IsRunning reports whether a batch is active.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Status == BatchStatusRunning
}

// Cancel marks the active batch as abandoned.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Status != BatchStatusRunning {
		return ErrNoRunningBatch
	}
	m.current.Status = BatchStatusCancelled
	return nil
}

// isValidTransition enforces the allowed asset stage edges.
func isValidTransition(from, to domain.AssetStatus) bool {
	if to == domain.AssetStatusFailed || to == domain.AssetStatusCancelled {
		return !from.IsTerminal()
	}
	switch from {
	case domain.AssetStatusQueued:
		return to == domain.AssetStatusNormalizing || to == domain.AssetStatusRejected
	case domain.AssetStatusNormalizing:
		return to == domain.AssetStatusProbing
	case domain.AssetStatusProbing:
		return to == domain.AssetStatusTranscribing
	case domain.AssetStatusTranscribing:
		return to == domain.AssetStatusExporting || to == domain.AssetStatusNoSpeech
	case domain.AssetStatusExporting:
		return to == domain.AssetStatusDone
	default:
		return false
	}
}
