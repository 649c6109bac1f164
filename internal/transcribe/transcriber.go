// Package transcribe drives one transcription run over an engine stream,
// including the single accelerated to fallback downgrade.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"audiomate/internal/domain"
	"audiomate/internal/engine"
)

// ModelSource hands out long-lived engines per profile.
type ModelSource interface {
	Get(ctx context.Context, p engine.Profile) (engine.Engine, error)
	Evict(p engine.Profile) error
}

// Config fixes the profiles and inference parameters for every run.
type Config struct {
	Primary  engine.Profile
	Fallback engine.Profile
	Options  engine.Options
}

// Hooks receive run progress. Every field is optional.
type Hooks struct {
	OnStatus  func(run Run)
	OnSegment func(seg domain.Segment, fraction float64)
	OnFault   func(run Run, err error)
}

// Result is the outcome of a completed run. Segments is empty when the
// engine found no speech.
type Result struct {
	Run      Run
	Segments []domain.Segment
	Language engine.LanguageInfo
}

// Transcriber runs transcriptions against engines from a ModelSource.
type Transcriber struct {
	models ModelSource
	cfg    Config
	newID  func() string
	logger zerolog.Logger
}

// NewTranscriber creates a transcriber.
func NewTranscriber(models ModelSource, cfg Config) *Transcriber {
	return &Transcriber{
		models: models,
		cfg:    cfg,
		newID:  uuid.NewString,
		logger: log.With().Str("component", "transcriber").Logger(),
	}
}

// Config returns the profiles in use.
func (t *Transcriber) Config() Config {
	return t.cfg
}

// Transcribe runs the engine over audioPath. duration sizes the progress
// fraction reported through hooks.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string, duration float64, hooks Hooks) (Result, error) {
	state := newRunState(t.newID(), t.cfg.Primary)
	logger := t.logger.With().Str("runId", state.snapshot().ID).Logger()
	emitStatus(hooks, state)

	if err := state.transition(RunRunning); err != nil {
		return Result{Run: state.snapshot()}, err
	}
	emitStatus(hooks, state)

	profile := t.cfg.Primary
	segments, lang, err := t.attempt(ctx, profile, audioPath, duration, hooks)

	if err != nil && errors.Is(err, engine.ErrDeviceFault) && profile.Target == domain.ComputeAccelerated {
		faultErr := fmt.Errorf("%w: %w", domain.ErrAcceleratedFault, err)
		logger.Warn().Err(err).Str("profile", profile.String()).Str("fallback", t.cfg.Fallback.String()).
			Msg("accelerated compute fault, restarting on fallback")

		if evictErr := t.models.Evict(profile); evictErr != nil {
			logger.Debug().Err(evictErr).Msg("closing faulted engine")
		}
		if tErr := state.transition(RunDegraded); tErr != nil {
			return Result{Run: state.snapshot()}, tErr
		}
		state.switchProfile(t.cfg.Fallback)
		if hooks.OnFault != nil {
			hooks.OnFault(state.snapshot(), faultErr)
		}
		emitStatus(hooks, state)

		profile = t.cfg.Fallback
		segments, lang, err = t.attempt(ctx, profile, audioPath, duration, hooks)
		if err != nil && errors.Is(err, engine.ErrDeviceFault) {
			err = fmt.Errorf("%w: %w", domain.ErrFallbackFault, err)
		}
	}

	if err != nil {
		_ = state.transition(RunFailed)
		emitStatus(hooks, state)
		logger.Error().Err(err).Str("profile", profile.String()).Msg("transcription failed")
		return Result{Run: state.snapshot()}, err
	}

	if tErr := state.transition(RunCompleted); tErr != nil {
		return Result{Run: state.snapshot()}, tErr
	}
	emitStatus(hooks, state)
	logger.Info().
		Int("segments", len(segments)).
		Str("language", lang.Language).
		Float64("languageProbability", lang.Probability).
		Bool("degraded", state.snapshot().Degraded).
		Msg("transcription completed")

	return Result{Run: state.snapshot(), Segments: segments, Language: lang}, nil
}

// attempt consumes one engine stream to the end. Segments already seen are
// dropped when the stream fails.
func (t *Transcriber) attempt(ctx context.Context, p engine.Profile, audioPath string, duration float64, hooks Hooks) ([]domain.Segment, engine.LanguageInfo, error) {
	eng, err := t.models.Get(ctx, p)
	if err != nil {
		return nil, engine.LanguageInfo{}, err
	}

	stream, lang, err := eng.Transcribe(ctx, audioPath, t.cfg.Options)
	if err != nil {
		return nil, engine.LanguageInfo{}, err
	}
	defer stream.Close()

	var segments []domain.Segment
	progress := 0.0
	for {
		seg, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return segments, lang, nil
		}
		if err != nil {
			return nil, lang, err
		}
		segments = append(segments, seg)

		if f := Fraction(seg.End, duration); f > progress {
			progress = f
		}
		if hooks.OnSegment != nil {
			hooks.OnSegment(seg, progress)
		}
	}
}

func emitStatus(hooks Hooks, state *runState) {
	if hooks.OnStatus != nil {
		hooks.OnStatus(state.snapshot())
	}
}
