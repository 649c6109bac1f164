// Package device decides where transcription runs and at what precision.
package device

import (
	"context"
	"os"
	"strings"

	"audiomate/internal/domain"
	"audiomate/internal/media"
)

const (
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"

	PrecisionAccelerated = "float16"
	PrecisionFallback    = "int8"
)

// Options are the configuration inputs to Select.
type Options struct {
	ForceFallback bool
	ComputeType   string
}

// Selection is a compute target together with its precision profile.
type Selection struct {
	Target      domain.ComputeTarget `json:"target"`
	Device      string               `json:"device"`
	ComputeType string               `json:"computeType"`
}

// Probe reports whether an accelerator can be used.
type Probe interface {
	AcceleratorAvailable(ctx context.Context) bool
}

// Select returns the compute target for this process. The probe is only
// consulted when no override forces the fallback path.
func Select(ctx context.Context, opts Options, probe Probe) Selection {
	sel := FallbackSelection()
	if !opts.ForceFallback && probe != nil && probe.AcceleratorAvailable(ctx) {
		sel = Selection{
			Target:      domain.ComputeAccelerated,
			Device:      DeviceCUDA,
			ComputeType: PrecisionAccelerated,
		}
	}
	if ct := strings.TrimSpace(opts.ComputeType); ct != "" {
		sel.ComputeType = ct
	}
	return sel
}

// FallbackSelection is the reduced precision CPU profile.
func FallbackSelection() Selection {
	return Selection{
		Target:      domain.ComputeFallback,
		Device:      DeviceCPU,
		ComputeType: PrecisionFallback,
	}
}

// NvidiaProbe detects CUDA devices through nvidia-smi.
type NvidiaProbe struct {
	path   string
	runner media.Runner
	getenv func(string) (string, bool)
}

// NewNvidiaProbe constructs the production probe.
func NewNvidiaProbe() *NvidiaProbe {
	return &NvidiaProbe{path: "nvidia-smi", runner: media.ExecRunner{}, getenv: os.LookupEnv}
}

// NewNvidiaProbeForTests constructs a probe with injectable dependencies.
func NewNvidiaProbeForTests(runner media.Runner, getenv func(string) (string, bool)) *NvidiaProbe {
	return &NvidiaProbe{path: "nvidia-smi", runner: runner, getenv: getenv}
}

// AcceleratorAvailable lists GPUs and reports whether any is visible.
func (p *NvidiaProbe) AcceleratorAvailable(ctx context.Context) bool {
	if v, ok := p.getenv("CUDA_VISIBLE_DEVICES"); ok {
		v = strings.TrimSpace(v)
		if v == "" || v == "-1" {
			return false
		}
	}

	res, err := p.runner.Run(ctx, p.path, "-L")
	if err != nil {
		return false
	}
	return strings.Contains(res.Stdout, "GPU ")
}
