// Package engine adapts Whisper speech recognition backends to a pull-based
// segment stream.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"audiomate/internal/domain"
)

// ErrDeviceFault marks a device-level execution fault on the compute device.
var ErrDeviceFault = errors.New("compute device fault")

// ErrEngineClosed is returned when a closed or crashed engine is used.
var ErrEngineClosed = errors.New("engine closed")

// ErrEngineBusy is returned when a second stream is opened on one engine.
var ErrEngineBusy = errors.New("engine busy")

// DeviceFaultError is raised by a backend when the device itself failed
// mid-inference. It matches ErrDeviceFault with errors.Is.
type DeviceFaultError struct {
	Device string
	Detail string
}

func (e *DeviceFaultError) Error() string {
	return fmt.Sprintf("device fault on %s: %s", e.Device, e.Detail)
}

// Is reports whether target is ErrDeviceFault.
func (e *DeviceFaultError) Is(target error) bool {
	return target == ErrDeviceFault
}

// faultMarkers are failure texts emitted by CUDA runtimes when the device is
// no longer usable by the process.
var faultMarkers = []string{
	"device-side assert triggered",
	"CUDA error",
	"CUDA failed",
	"cudaError",
	"CUBLAS_STATUS",
}

// classifyFailure turns backend failure text into a typed error.
func classifyFailure(device, text string, cause error) error {
	if device != "cpu" {
		for _, marker := range faultMarkers {
			if strings.Contains(text, marker) {
				return &DeviceFaultError{Device: device, Detail: summaryLine(text)}
			}
		}
	}
	if cause != nil {
		return fmt.Errorf("%s: %w", summaryLine(text), cause)
	}
	return errors.New(summaryLine(text))
}

func summaryLine(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.LastIndex(text, "\n"); i >= 0 {
		// The last line of a traceback carries the message.
		return strings.TrimSpace(text[i+1:])
	}
	return text
}

// Options are the inference parameters for one transcription.
type Options struct {
	Language  string
	BeamSize  int
	VADFilter bool
}

// LanguageInfo summarizes language detection.
type LanguageInfo struct {
	Language    string  `json:"language"`
	Probability float64 `json:"probability"`
}

// Profile identifies one loaded model configuration.
type Profile struct {
	Model       string               `json:"model"`
	Device      string               `json:"device"`
	ComputeType string               `json:"computeType"`
	Target      domain.ComputeTarget `json:"target"`
}

func (p Profile) String() string {
	return fmt.Sprintf("%s@%s/%s", p.Model, p.Device, p.ComputeType)
}

// Stream is a finite, single-pass sequence of segments in time order.
// Next returns io.EOF once exhausted. Close abandons whatever remains.
type Stream interface {
	Next(ctx context.Context) (domain.Segment, error)
	Close() error
}

// Engine is one loaded speech model.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (Stream, LanguageInfo, error)
	Profile() Profile
	Close() error
}

// SliceStream yields a fixed list of segments, then Tail (or io.EOF).
type SliceStream struct {
	segments []domain.Segment
	tail     error
	pos      int
	closed   bool
}

// NewSliceStream builds a stream over segments. A non-nil tail is returned
// after the last segment instead of io.EOF.
func NewSliceStream(segments []domain.Segment, tail error) *SliceStream {
	return &SliceStream{segments: segments, tail: tail}
}

// Next returns the next segment.
func (s *SliceStream) Next(ctx context.Context) (domain.Segment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Segment{}, err
	}
	if s.closed {
		return domain.Segment{}, io.EOF
	}
	if s.pos < len(s.segments) {
		seg := s.segments[s.pos]
		s.pos++
		return seg, nil
	}
	if s.tail != nil {
		err := s.tail
		s.tail = nil
		s.closed = true
		return domain.Segment{}, err
	}
	return domain.Segment{}, io.EOF
}

// Close drops the remaining segments.
func (s *SliceStream) Close() error {
	s.closed = true
	s.segments = nil
	return nil
}
