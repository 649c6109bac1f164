package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds raised while processing a single asset.
var (
	ErrOversizeInput     = errors.New("input exceeds size limit")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrNormalization     = errors.New("audio normalization failed")
	ErrProbe             = errors.New("metadata probe failed")
	ErrAcceleratedFault  = errors.New("accelerated compute fault")
	ErrFallbackFault     = errors.New("fallback compute fault")
)

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// StageError is a stage-aware asset error with optional command context.
type StageError struct {
	Asset      string     `json:"asset"`
	Stage      string     `json:"stage"`
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats asset failures for logs and the terminal.
func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	prefix := e.Stage
	if e.Asset != "" {
		prefix = e.Asset + ": " + e.Stage
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}

	return fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		prefix,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Kind returns the short name of the taxonomy entry err belongs to.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrOversizeInput):
		return "oversize_input"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrNormalization):
		return "normalization_failure"
	case errors.Is(err, ErrProbe):
		return "probe_failure"
	case errors.Is(err, ErrFallbackFault):
		return "fallback_compute_fault"
	case errors.Is(err, ErrAcceleratedFault):
		return "accelerated_compute_fault"
	default:
		return "internal"
	}
}
