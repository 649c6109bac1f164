package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"audiomate/internal/domain"
)

// Prober extracts duration and stream layout with ffprobe.
type Prober struct {
	ffprobePath string
	runner      Runner
}

// NewProber constructs the production prober.
func NewProber(ffprobePath string) *Prober {
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath, runner: ExecRunner{}}
}

// NewProberForTests constructs a prober with an injectable runner.
func NewProberForTests(ffprobePath string, runner Runner) *Prober {
	p := NewProber(ffprobePath)
	p.runner = runner
	return p
}

type probeOutput struct {
	Format *struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	Channels   int    `json:"channels"`
	SampleRate string `json:"sample_rate"`
}

// Probe reads metadata for the waveform at path.
func (p *Prober) Probe(ctx context.Context, path string) (domain.MediaMetadata, error) {
	args := BuildFFprobeArgs(path)
	res, runErr := p.runner.Run(ctx, p.ffprobePath, args...)
	cmdLog := NewCommandLog(p.ffprobePath, args, res)
	if runErr != nil {
		return domain.MediaMetadata{}, probeError("ffprobe failed", cmdLog, runErr)
	}

	meta, err := ParseProbeOutput([]byte(res.Stdout))
	if err != nil {
		return domain.MediaMetadata{}, probeError(err.Error(), cmdLog, err)
	}
	return meta, nil
}

// ParseProbeOutput decodes ffprobe JSON into MediaMetadata.
func ParseProbeOutput(data []byte) (domain.MediaMetadata, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return domain.MediaMetadata{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if out.Format == nil || strings.TrimSpace(out.Format.Duration) == "" {
		return domain.MediaMetadata{}, fmt.Errorf("ffprobe output has no format duration")
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil || duration < 0 {
		return domain.MediaMetadata{}, fmt.Errorf("invalid duration %q", out.Format.Duration)
	}

	for _, stream := range out.Streams {
		if stream.CodecType != "audio" {
			continue
		}
		rate, err := strconv.Atoi(stream.SampleRate)
		if err != nil {
			return domain.MediaMetadata{}, fmt.Errorf("invalid sample rate %q", stream.SampleRate)
		}
		return domain.MediaMetadata{
			Duration:   duration,
			Channels:   stream.Channels,
			SampleRate: rate,
		}, nil
	}

	return domain.MediaMetadata{}, fmt.Errorf("ffprobe output has no audio stream")
}

func probeError(msg string, cmdLog domain.CommandLog, cause error) error {
	return &domain.StageError{
		Stage:      "probing",
		Message:    msg,
		CommandLog: cmdLog,
		Err:        fmt.Errorf("%w: %w", domain.ErrProbe, cause),
	}
}

// BuildFFprobeArgs requests format duration and the stream list as JSON.
func BuildFFprobeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-show_streams",
		"-print_format", "json",
		path,
	}
}
