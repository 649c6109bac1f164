package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"audiomate/internal/domain"
)

const (
	TargetSampleRate = 16000
	TargetChannels   = 1
	TargetCodec      = "pcm_s16le"

	// DefaultMaxBytes is the largest accepted upload.
	DefaultMaxBytes int64 = 1000 * 1024 * 1024
)

// SupportedExtensions lists accepted input formats without the dot.
var SupportedExtensions = []string{"mp3", "wav", "m4a"}

// Equalizer is one peaking band of the parametric equalizer.
type Equalizer struct {
	Frequency int
	Width     float64
	Gain      float64
}

// FilterChain describes the ordered speech cleanup applied before transcription.
type FilterChain struct {
	NoiseReduction float64
	NoiseFloor     float64
	HighpassHz     int
	LowpassHz      int
	Bands          [3]Equalizer
	Compressor     Compressor
	Loudness       Loudness
}

// Compressor holds the dynamic range compression parameters.
type Compressor struct {
	ThresholdDB float64
	Ratio       float64
	AttackMs    int
	ReleaseMs   int
	Makeup      float64
}

// Loudness holds the EBU R128 loudness normalization targets.
type Loudness struct {
	Integrated float64
	TruePeak   float64
	Range      float64
}

// DefaultFilterChain is tuned for voice recorded in rooms and classrooms.
func DefaultFilterChain() FilterChain {
	return FilterChain{
		NoiseReduction: 12,
		NoiseFloor:     -25,
		HighpassHz:     120,
		LowpassHz:      7000,
		Bands: [3]Equalizer{
			{Frequency: 250, Width: 1, Gain: -3},
			{Frequency: 3500, Width: 1, Gain: 3},
			{Frequency: 6500, Width: 2, Gain: -4},
		},
		Compressor: Compressor{ThresholdDB: -18, Ratio: 2.5, AttackMs: 20, ReleaseMs: 250, Makeup: 2},
		Loudness:   Loudness{Integrated: -16, TruePeak: -1.5, Range: 11},
	}
}

// String renders the chain as an ffmpeg -af argument. Order is significant.
func (c FilterChain) String() string {
	filters := []string{
		fmt.Sprintf("afftdn=nr=%s:nf=%s", num(c.NoiseReduction), num(c.NoiseFloor)),
		fmt.Sprintf("highpass=f=%d", c.HighpassHz),
		fmt.Sprintf("lowpass=f=%d", c.LowpassHz),
	}
	for _, band := range c.Bands {
		filters = append(filters, fmt.Sprintf(
			"equalizer=f=%d:width_type=q:width=%s:g=%s",
			band.Frequency, num(band.Width), num(band.Gain),
		))
	}
	filters = append(filters,
		fmt.Sprintf(
			"acompressor=threshold=%sdB:ratio=%s:attack=%d:release=%d:makeup=%s",
			num(c.Compressor.ThresholdDB), num(c.Compressor.Ratio),
			c.Compressor.AttackMs, c.Compressor.ReleaseMs, num(c.Compressor.Makeup),
		),
		fmt.Sprintf(
			"loudnorm=I=%s:TP=%s:LRA=%s",
			num(c.Loudness.Integrated), num(c.Loudness.TruePeak), num(c.Loudness.Range),
		),
	)
	return strings.Join(filters, ",")
}

func num(v float64) string {
	return fmt.Sprintf("%g", v)
}

// Normalizer converts arbitrary input audio into 16 kHz mono PCM.
type Normalizer struct {
	ffmpegPath string
	maxBytes   int64
	chain      FilterChain
	runner     Runner
	stat       func(name string) (os.FileInfo, error)
	logger     zerolog.Logger
}

// NewNormalizer constructs the production normalizer.
func NewNormalizer(ffmpegPath string, maxBytes int64) *Normalizer {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Normalizer{
		ffmpegPath: ffmpegPath,
		maxBytes:   maxBytes,
		chain:      DefaultFilterChain(),
		runner:     ExecRunner{},
		stat:       os.Stat,
		logger:     log.With().Str("component", "normalizer").Logger(),
	}
}

// NewNormalizerForTests constructs a normalizer with injectable dependencies.
func NewNormalizerForTests(ffmpegPath string, maxBytes int64, runner Runner, stat func(string) (os.FileInfo, error)) *Normalizer {
	n := NewNormalizer(ffmpegPath, maxBytes)
	n.runner = runner
	if stat != nil {
		n.stat = stat
	}
	return n
}

// MaxBytes returns the configured size bound.
func (n *Normalizer) MaxBytes() int64 {
	return n.maxBytes
}

// Check rejects assets that must not reach ffmpeg.
func (n *Normalizer) Check(asset domain.AudioAsset) error {
	if asset.Size > n.maxBytes {
		return &domain.StageError{
			Asset: asset.Name,
			Stage: "validating",
			Message: fmt.Sprintf("file is %s, limit is %s",
				humanize.IBytes(uint64(asset.Size)), humanize.IBytes(uint64(n.maxBytes))),
			Err: domain.ErrOversizeInput,
		}
	}
	if !IsSupported(asset.Name) {
		return &domain.StageError{
			Asset:   asset.Name,
			Stage:   "validating",
			Message: fmt.Sprintf("extension %q is not one of %s", filepath.Ext(asset.Name), strings.Join(SupportedExtensions, ", ")),
			Err:     domain.ErrUnsupportedFormat,
		}
	}
	return nil
}

// Normalize writes the canonical waveform for asset at outPath, overwriting it.
func (n *Normalizer) Normalize(ctx context.Context, asset domain.AudioAsset, outPath string) (domain.CommandLog, error) {
	if err := n.Check(asset); err != nil {
		return domain.CommandLog{}, err
	}

	args := BuildFFmpegArgs(asset.RawPath, outPath, n.chain)
	n.logger.Debug().Str("asset", asset.Name).Strs("args", args).Msg("running ffmpeg")

	res, runErr := n.runner.Run(ctx, n.ffmpegPath, args...)
	cmdLog := NewCommandLog(n.ffmpegPath, args, res)
	if runErr != nil {
		return cmdLog, &domain.StageError{
			Asset:      asset.Name,
			Stage:      "normalizing",
			Message:    "ffmpeg audio normalization failed",
			CommandLog: cmdLog,
			Err:        fmt.Errorf("%w: %w", domain.ErrNormalization, runErr),
		}
	}

	if _, err := n.stat(outPath); err != nil {
		return cmdLog, &domain.StageError{
			Asset:      asset.Name,
			Stage:      "normalizing",
			Message:    "ffmpeg completed but output file is missing",
			CommandLog: cmdLog,
			Err:        fmt.Errorf("%w: %w", domain.ErrNormalization, err),
		}
	}

	return cmdLog, nil
}

// IsSupported reports whether name carries an accepted audio extension.
func IsSupported(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	for _, allowed := range SupportedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// BuildFFmpegArgs builds normalization args for mono 16 kHz PCM WAV output.
func BuildFFmpegArgs(inputPath, outPath string, chain FilterChain) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-af", chain.String(),
		"-ar", fmt.Sprint(TargetSampleRate),
		"-ac", fmt.Sprint(TargetChannels),
		"-c:a", TargetCodec,
		outPath,
	}
}

// NormalizedFileName builds the waveform filename from the input name.
func NormalizedFileName(inputName string) string {
	return Stem(inputName) + ".16k.wav"
}

// Stem returns the base name without extension, never empty.
func Stem(inputPath string) string {
	base := filepath.Base(inputPath)
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "transcript"
	}
	return name
}
