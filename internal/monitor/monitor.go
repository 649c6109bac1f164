// Package monitor samples host utilization while a transcription runs.
package monitor

import (
	"context"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"audiomate/internal/domain"
	"audiomate/internal/media"
)

// Monitor reads CPU, memory and accelerator utilization. It keeps no state
// between samples.
type Monitor struct {
	nvidiaSMI string
	runner    media.Runner
	cpuFn     func(ctx context.Context) (float64, error)
	memFn     func(ctx context.Context) (float64, error)
}

// New constructs the production monitor.
func New() *Monitor {
	return &Monitor{
		nvidiaSMI: "nvidia-smi",
		runner:    media.ExecRunner{},
		cpuFn:     hostCPU,
		memFn:     hostMemory,
	}
}

// NewForTests constructs a monitor with injectable readers.
func NewForTests(runner media.Runner, cpuFn, memFn func(ctx context.Context) (float64, error)) *Monitor {
	return &Monitor{nvidiaSMI: "nvidia-smi", runner: runner, cpuFn: cpuFn, memFn: memFn}
}

// Sample takes one reading. The accelerator is only queried when the active
// target is accelerated; a failed query reports it as unavailable. Host
// reader failures report zero.
func (m *Monitor) Sample(ctx context.Context, target domain.ComputeTarget) domain.ResourceSample {
	sample := domain.ResourceSample{
		Accelerator: domain.AcceleratorReading{State: domain.AcceleratorInactive},
	}
	if v, err := m.cpuFn(ctx); err == nil {
		sample.CPUPercent = v
	}
	if v, err := m.memFn(ctx); err == nil {
		sample.MemoryPercent = v
	}
	if target == domain.ComputeAccelerated {
		sample.Accelerator = m.accelerator(ctx)
	}
	return sample
}

func (m *Monitor) accelerator(ctx context.Context) domain.AcceleratorReading {
	unavailable := domain.AcceleratorReading{State: domain.AcceleratorUnavailable}
	if m.runner == nil {
		return unavailable
	}
	res, err := m.runner.Run(ctx, m.nvidiaSMI, "--query-gpu=utilization.gpu", "--format=csv,noheader,nounits")
	if err != nil {
		return unavailable
	}
	pct, ok := ParseUtilization(res.Stdout)
	if !ok {
		return unavailable
	}
	return domain.AcceleratorReading{State: domain.AcceleratorOK, Percent: pct}
}

// ParseUtilization reads the first device line of nvidia-smi CSV output.
func ParseUtilization(out string) (float64, bool) {
	line := strings.TrimSpace(out)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(line, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func hostCPU(ctx context.Context) (float64, error) {
	values, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}
	return values[0], nil
}

func hostMemory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}
