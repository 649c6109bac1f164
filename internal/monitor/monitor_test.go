package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"audiomate/internal/domain"
	"audiomate/internal/media"
)

type fakeRunner struct {
	stdout string
	err    error
	calls  int
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (media.CommandResult, error) {
	f.calls++
	return media.CommandResult{Stdout: f.stdout}, f.err
}

func fixed(v float64) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) { return v, nil }
}

// TestSampleFallbackSkipsAccelerator verifies nvidia-smi is not queried on the fallback target.
func TestSampleFallbackSkipsAccelerator(t *testing.T) {
	runner := &fakeRunner{stdout: "50\n"}
	m := NewForTests(runner, fixed(12.4), fixed(48.6))

	s := m.Sample(context.Background(), domain.ComputeFallback)
	if runner.calls != 0 {
		t.Fatalf("runner calls = %d, want 0", runner.calls)
	}
	if s.Accelerator.State != domain.AcceleratorInactive {
		t.Fatalf("accelerator = %v, want inactive", s.Accelerator.State)
	}
	if got, want := s.String(), "CPU: 12% | RAM: 49%"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestSampleAccelerated(t *testing.T) {
	m := NewForTests(&fakeRunner{stdout: "73\n"}, fixed(30), fixed(60))

	s := m.Sample(context.Background(), domain.ComputeAccelerated)
	if s.Accelerator.State != domain.AcceleratorOK || s.Accelerator.Percent != 73 {
		t.Fatalf("accelerator = %+v, want ok 73", s.Accelerator)
	}
	if got, want := s.String(), "CPU: 30% | RAM: 60% | GPU: 73%"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

// TestSampleAcceleratorQueryFailure verifies failures are reported, not hidden.
func TestSampleAcceleratorQueryFailure(t *testing.T) {
	m := NewForTests(&fakeRunner{err: errors.New("not found")}, fixed(1), fixed(2))

	s := m.Sample(context.Background(), domain.ComputeAccelerated)
	if s.Accelerator.State != domain.AcceleratorUnavailable {
		t.Fatalf("accelerator = %+v, want unavailable", s.Accelerator)
	}
	if got, want := s.String(), "CPU: 1% | RAM: 2% | GPU: unavailable"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestSampleHostReaderError(t *testing.T) {
	failing := func(context.Context) (float64, error) { return 99, errors.New("boom") }
	m := NewForTests(nil, failing, fixed(20))

	s := m.Sample(context.Background(), domain.ComputeFallback)
	if s.CPUPercent != 0 || s.MemoryPercent != 20 {
		t.Fatalf("sample = %+v, want cpu 0 mem 20", s)
	}
}

func TestParseUtilization(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{in: "42\n", want: 42, ok: true},
		{in: " 7 \n13\n", want: 7, ok: true},
		{in: "", ok: false},
		{in: "[N/A]", ok: false},
		{in: "-1", ok: false},
	}
	for _, tt := range tests {
		got, ok := ParseUtilization(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ParseUtilization(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

// TestThrottleAllow verifies strict spacing between allowed calls.
func TestThrottleAllow(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	th := NewThrottle(time.Second)
	th.now = func() time.Time { return now }

	if !th.Allow() {
		t.Fatal("first call must be allowed")
	}
	now = base.Add(500 * time.Millisecond)
	if th.Allow() {
		t.Fatal("call within the interval must be throttled")
	}
	now = base.Add(time.Second)
	if th.Allow() {
		t.Fatal("call exactly at the interval must be throttled")
	}
	now = base.Add(time.Second + time.Millisecond)
	if !th.Allow() {
		t.Fatal("call past the interval must be allowed")
	}
	now = now.Add(time.Second)
	if th.Allow() {
		t.Fatal("spacing is measured from the last allowed call")
	}
}

func TestNewThrottleDefaultInterval(t *testing.T) {
	if th := NewThrottle(0); th.interval != DefaultInterval {
		t.Fatalf("interval = %v, want %v", th.interval, DefaultInterval)
	}
}
