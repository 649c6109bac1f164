package transcribe

import (
	"fmt"
	"sync"

	"audiomate/internal/domain"
	"audiomate/internal/engine"
)

// RunStatus is the lifecycle state of one transcription run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunDegraded  RunStatus = "degraded"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Run is a snapshot of one transcription run.
type Run struct {
	ID       string               `json:"id"`
	Target   domain.ComputeTarget `json:"target"`
	Model    string               `json:"model"`
	Status   RunStatus            `json:"status"`
	Degraded bool                 `json:"degraded"`
}

// runState guards transitions of a single run.
type runState struct {
	mu  sync.RWMutex
	run Run
}

func newRunState(id string, p engine.Profile) *runState {
	return &runState{run: Run{ID: id, Target: p.Target, Model: p.Model, Status: RunPending}}
}

// transition validates and applies a state change.
func (s *runState) transition(to RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run.Status == to {
		return nil
	}
	if !isValidTransition(s.run.Status, to) {
		return fmt.Errorf("invalid run transition: %s -> %s", s.run.Status, to)
	}
	s.run.Status = to
	if to == RunDegraded {
		s.run.Degraded = true
	}
	return nil
}

// switchProfile records the compute target used after a downgrade.
func (s *runState) switchProfile(p engine.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run.Target = p.Target
	s.run.Model = p.Model
}

func (s *runState) snapshot() Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run
}

// isValidTransition enforces the allowed run state machine edges. Degraded
// is reachable once and only from running.
func isValidTransition(from, to RunStatus) bool {
	switch from {
	case RunPending:
		return to == RunRunning || to == RunFailed
	case RunRunning:
		return to == RunDegraded || to == RunCompleted || to == RunFailed
	case RunDegraded:
		return to == RunCompleted || to == RunFailed
	default:
		return false
	}
}
