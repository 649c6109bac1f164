package domain

import "fmt"

// AssetStatus tracks each pipeline stage for a single audio asset.
type AssetStatus string

const (
	AssetStatusQueued       AssetStatus = "queued"
	AssetStatusNormalizing  AssetStatus = "normalizing"
	AssetStatusProbing      AssetStatus = "probing"
	AssetStatusTranscribing AssetStatus = "transcribing"
	AssetStatusExporting    AssetStatus = "exporting"
	AssetStatusDone         AssetStatus = "done"
	AssetStatusNoSpeech     AssetStatus = "no_speech"
	AssetStatusRejected     AssetStatus = "rejected"
	AssetStatusFailed       AssetStatus = "failed"
	AssetStatusCancelled    AssetStatus = "cancelled"
)

// IsTerminal reports whether no further stage follows the status.
func (s AssetStatus) IsTerminal() bool {
	switch s {
	case AssetStatusDone, AssetStatusNoSpeech, AssetStatusRejected, AssetStatusFailed, AssetStatusCancelled:
		return true
	default:
		return false
	}
}

// ComputeTarget is the device class a transcription run executes on.
type ComputeTarget string

const (
	ComputeAccelerated ComputeTarget = "accelerated"
	ComputeFallback    ComputeTarget = "fallback"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	Model     string `json:"model"`
	OutputDir string `json:"outputDir"`
	Language  string `json:"language"`
	Engine    string `json:"engine"`
}

// AudioAsset is one submitted audio file and its normalized counterpart.
type AudioAsset struct {
	Name           string `json:"name"`
	Size           int64  `json:"size"`
	RawPath        string `json:"rawPath"`
	NormalizedPath string `json:"normalizedPath,omitempty"`
}

// MediaMetadata is read from the normalized waveform.
type MediaMetadata struct {
	Duration   float64 `json:"duration"`
	Channels   int     `json:"channels"`
	SampleRate int     `json:"sampleRate"`
}

// Segment is one timed piece of transcript text.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// AcceleratorState qualifies the accelerator part of a resource sample.
type AcceleratorState string

const (
	AcceleratorInactive    AcceleratorState = "inactive"
	AcceleratorUnavailable AcceleratorState = "unavailable"
	AcceleratorOK          AcceleratorState = "ok"
)

// AcceleratorReading is the utilization of the active accelerator, if any.
type AcceleratorReading struct {
	State   AcceleratorState `json:"state"`
	Percent float64          `json:"percent,omitempty"`
}

// String renders the reading for status lines.
func (r AcceleratorReading) String() string {
	switch r.State {
	case AcceleratorOK:
		return fmt.Sprintf("%.0f%%", r.Percent)
	case AcceleratorUnavailable:
		return "unavailable"
	default:
		return "n/a"
	}
}

// ResourceSample is an ephemeral view of host utilization.
type ResourceSample struct {
	CPUPercent    float64            `json:"cpuPercent"`
	MemoryPercent float64            `json:"memoryPercent"`
	Accelerator   AcceleratorReading `json:"accelerator"`
}

// String renders the sample the way the status line shows it.
func (s ResourceSample) String() string {
	line := fmt.Sprintf("CPU: %.0f%% | RAM: %.0f%%", s.CPUPercent, s.MemoryPercent)
	if s.Accelerator.State != AcceleratorInactive && s.Accelerator.State != "" {
		line += " | GPU: " + s.Accelerator.String()
	}
	return line
}
