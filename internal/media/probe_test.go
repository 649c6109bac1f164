package media

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"audiomate/internal/domain"
)

const stereoProbe = `{
  "streams": [
    {"index": 0, "codec_type": "video", "width": 10},
    {"index": 1, "codec_type": "audio", "channels": 2, "sample_rate": "44100"}
  ],
  "format": {"duration": "12.500000"}
}`

// TestParseProbeOutput picks the first audio stream.
func TestParseProbeOutput(t *testing.T) {
	meta, err := ParseProbeOutput([]byte(stereoProbe))
	if err != nil {
		t.Fatalf("ParseProbeOutput() error = %v", err)
	}
	want := domain.MediaMetadata{Duration: 12.5, Channels: 2, SampleRate: 44100}
	if meta != want {
		t.Fatalf("meta = %+v, want %+v", meta, want)
	}
}

// TestParseProbeOutputMalformed covers every skip-this-asset shape.
func TestParseProbeOutputMalformed(t *testing.T) {
	tests := map[string]string{
		"not json":         "{",
		"empty object":     "{}",
		"no duration":      `{"format":{},"streams":[{"codec_type":"audio","channels":1,"sample_rate":"16000"}]}`,
		"bad duration":     `{"format":{"duration":"N/A"},"streams":[{"codec_type":"audio","channels":1,"sample_rate":"16000"}]}`,
		"negative":         `{"format":{"duration":"-1"},"streams":[{"codec_type":"audio","channels":1,"sample_rate":"16000"}]}`,
		"no audio":         `{"format":{"duration":"1.0"},"streams":[{"codec_type":"video"}]}`,
		"bad sample rate":  `{"format":{"duration":"1.0"},"streams":[{"codec_type":"audio","channels":1,"sample_rate":"x"}]}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseProbeOutput([]byte(raw)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

// TestProbeWrapsFailures verifies runner and parse errors become ErrProbe.
func TestProbeWrapsFailures(t *testing.T) {
	failing := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (CommandResult, error) {
			return CommandResult{Stderr: "moov atom not found", ExitCode: 1}, errors.New("exit status 1")
		},
	}
	garbage := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (CommandResult, error) {
			return CommandResult{Stdout: "garbage"}, nil
		},
	}

	for _, runner := range []*fakeRunner{failing, garbage} {
		_, err := NewProberForTests("ffprobe", runner).Probe(context.Background(), "x.wav")
		if !errors.Is(err, domain.ErrProbe) {
			t.Fatalf("error = %v, want ErrProbe", err)
		}
	}
}

// TestProbeArgs verifies the structured output request.
func TestProbeArgs(t *testing.T) {
	var got []string
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (CommandResult, error) {
			got = args
			return CommandResult{Stdout: stereoProbe}, nil
		},
	}
	if _, err := NewProberForTests("ffprobe", runner).Probe(context.Background(), "in.wav"); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if argValue(got, "-show_entries") != "format=duration" || argValue(got, "-print_format") != "json" {
		t.Fatalf("args = %v", got)
	}
	if !hasArg(got, "-show_streams") || got[len(got)-1] != "in.wav" {
		t.Fatalf("args = %v", got)
	}
}

// TestProbeSilentWaveform runs the real ffprobe on one second of 16 kHz silence.
func TestProbeSilentWaveform(t *testing.T) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}

	path := filepath.Join(t.TempDir(), "silence.wav")
	writeSilentWAV(t, path, 16000, 1)

	meta, err := NewProber("ffprobe").Probe(context.Background(), path)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if meta.Duration <= 0 {
		t.Fatalf("duration = %v, want > 0", meta.Duration)
	}
	if meta.Channels != 1 {
		t.Fatalf("channels = %d, want 1", meta.Channels)
	}
	if meta.SampleRate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", meta.SampleRate)
	}
}

// writeSilentWAV writes a 16-bit PCM mono WAV of the given length.
func writeSilentWAV(t *testing.T, path string, sampleRate int, seconds int) {
	t.Helper()
	dataSize := uint32(sampleRate * seconds * 2)

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	header := []any{
		[4]byte{'R', 'I', 'F', 'F'}, 36 + dataSize, [4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '}, uint32(16), uint16(1), uint16(1),
		uint32(sampleRate), uint32(sampleRate * 2), uint16(2), uint16(16),
		[4]byte{'d', 'a', 't', 'a'}, dataSize,
	}
	for _, field := range header {
		if err := binary.Write(f, binary.LittleEndian, field); err != nil {
			t.Fatalf("write header: %v", err)
		}
	}
	if _, err := f.Write(make([]byte, dataSize)); err != nil {
		t.Fatalf("write samples: %v", err)
	}
}
