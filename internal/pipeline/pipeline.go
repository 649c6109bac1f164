// Package pipeline processes audio assets one at a time from upload to
// exported transcript.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"audiomate/internal/domain"
	"audiomate/internal/events"
	"audiomate/internal/export"
	"audiomate/internal/history"
	"audiomate/internal/jobs"
	"audiomate/internal/media"
	"audiomate/internal/monitor"
	"audiomate/internal/observability/logging"
	"audiomate/internal/observability/metrics"
	"audiomate/internal/postprocess"
	"audiomate/internal/transcribe"
)

// Normalizer converts a raw asset to the canonical waveform.
type Normalizer interface {
	Check(asset domain.AudioAsset) error
	Normalize(ctx context.Context, asset domain.AudioAsset, outPath string) (domain.CommandLog, error)
}

// Prober reads waveform metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (domain.MediaMetadata, error)
}

// Transcriber runs one transcription with the downgrade policy.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, duration float64, hooks transcribe.Hooks) (transcribe.Result, error)
}

// Sampler reads host utilization.
type Sampler interface {
	Sample(ctx context.Context, target domain.ComputeTarget) domain.ResourceSample
}

// Exporter writes transcript files.
type Exporter interface {
	BeginBatch()
	Export(fileName, text string, segments []domain.Segment) (export.Files, error)
	WriteArchive(paths []string) (string, error)
}

// Recorder persists asset outcomes.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Publisher announces asset outcomes.
type Publisher interface {
	PublishCompleted(ctx context.Context, ev events.TranscriptCompleted) error
	PublishFailed(ctx context.Context, ev events.AssetFailed) error
}

// Deps are the collaborators of a Pipeline. History, Events, Metrics, Bus
// and Manager are optional.
type Deps struct {
	Normalizer  Normalizer
	Prober      Prober
	Transcriber Transcriber
	Monitor     Sampler
	Exporter    Exporter
	History     Recorder
	Events      Publisher
	Metrics     *metrics.Metrics
	Bus         *jobs.EventBus
	Manager     *jobs.Manager

	MaxRepeat       int
	MonitorInterval time.Duration
	// WorkDir holds the per-asset work directories, the OS temp dir when empty.
	WorkDir string
}

// AssetResult is the outcome of one asset.
type AssetResult struct {
	Asset    domain.AudioAsset    `json:"asset"`
	Status   domain.AssetStatus   `json:"status"`
	Run      transcribe.Run       `json:"run"`
	Metadata domain.MediaMetadata `json:"metadata"`
	Language string               `json:"language,omitempty"`
	Text     string               `json:"text,omitempty"`
	Segments []domain.Segment     `json:"segments,omitempty"`
	Files    export.Files         `json:"files"`
	Err      error                `json:"-"`
}

// BatchResult is the outcome of a batch.
type BatchResult struct {
	ID          string        `json:"id"`
	Assets      []AssetResult `json:"assets"`
	ArchivePath string        `json:"archivePath,omitempty"`
	Removed     int           `json:"removed"`
}

// Pipeline orchestrates normalization, probing, transcription and export.
type Pipeline struct {
	deps      Deps
	newID     func() string
	now       func() time.Time
	mkdirAll  func(path string, perm os.FileMode) error
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	stat      func(name string) (os.FileInfo, error)
}

// New constructs a pipeline with OS dependencies.
func New(deps Deps) *Pipeline {
	if deps.MaxRepeat <= 0 {
		deps.MaxRepeat = postprocess.DefaultMaxRepeat
	}
	return &Pipeline{
		deps:      deps,
		newID:     uuid.NewString,
		now:       time.Now,
		mkdirAll:  os.MkdirAll,
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		stat:      os.Stat,
	}
}

// RunBatch processes assets strictly in order. A failing asset never stops
// the batch. Cancellation interrupts the asset in progress, leaves the
// remaining assets queued and skips the archive.
func (p *Pipeline) RunBatch(ctx context.Context, assets []domain.AudioAsset) (BatchResult, error) {
	batch := BatchResult{ID: p.newID()}
	logger := logging.WithComponent("pipeline").With().Str("batchId", batch.ID).Logger()

	if p.deps.Manager != nil {
		names := lo.Map(assets, func(a domain.AudioAsset, _ int) string { return a.Name })
		if err := p.deps.Manager.Start(batch.ID, names); err != nil {
			return batch, err
		}
	}
	logger.Info().Int("assets", len(assets)).Msg("batch started")
	p.deps.Exporter.BeginBatch()

	abandon := func(remaining int) (BatchResult, error) {
		if p.deps.Manager != nil {
			_ = p.deps.Manager.Cancel()
		}
		logger.Warn().Int("remaining", remaining).Int("removed", batch.Removed).Msg("batch abandoned")
		return batch, ctx.Err()
	}

	var exported []string
	for i, asset := range assets {
		if ctx.Err() != nil {
			return abandon(len(assets) - i)
		}

		res, removed := p.processAsset(ctx, batch.ID, i, asset)
		batch.Assets = append(batch.Assets, res)
		batch.Removed += removed
		exported = append(exported, res.Files.Paths()...)

		if ctx.Err() != nil {
			return abandon(len(assets) - i - 1)
		}
	}

	if len(exported) > 0 {
		path, err := p.deps.Exporter.WriteArchive(exported)
		if err != nil {
			logger.Error().Err(err).Msg("failed to write transcript archive")
		} else {
			batch.ArchivePath = path
		}
	}

	if p.deps.Manager != nil {
		p.deps.Manager.Finish()
	}
	done := lo.CountBy(batch.Assets, func(r AssetResult) bool { return r.Status == domain.AssetStatusDone })
	logger.Info().
		Int("done", done).
		Int("total", len(assets)).
		Str("archive", batch.ArchivePath).
		Msg("batch finished")
	logger.Info().Int("removed", batch.Removed).Msg("temporary audio files removed")
	p.emit(jobs.Event{
		BatchID:     batch.ID,
		Index:       -1,
		Type:        jobs.EventTypeBatch,
		Message:     fmt.Sprintf("%d/%d transcribed", done, len(assets)),
		ArchivePath: batch.ArchivePath,
	})
	return batch, nil
}

// assetRun carries per-asset state through the stages.
type assetRun struct {
	batchID string
	index   int
	asset   domain.AudioAsset
	started time.Time
	logger  zerolog.Logger
	result  AssetResult
}

// processAsset runs every stage for one asset and returns how many temporary
// audio files were removed afterwards.
func (p *Pipeline) processAsset(ctx context.Context, batchID string, index int, asset domain.AudioAsset) (AssetResult, int) {
	a := &assetRun{
		batchID: batchID,
		index:   index,
		asset:   asset,
		started: p.now(),
		logger:  logging.WithAsset(batchID, asset.Name),
		result:  AssetResult{Asset: asset, Status: domain.AssetStatusQueued},
	}

	if err := p.deps.Normalizer.Check(asset); err != nil {
		p.fail(ctx, a, domain.AssetStatusRejected, "validating", err)
		return a.result, p.cleanup(a, "")
	}

	p.advance(a, domain.AssetStatusNormalizing)
	workDir, err := p.newWorkDir()
	if err != nil {
		p.fail(ctx, a, domain.AssetStatusFailed, "normalizing", fmt.Errorf("create work directory: %w", err))
		return a.result, p.cleanup(a, "")
	}

	p.runStages(ctx, a, workDir)
	return a.result, p.cleanup(a, workDir)
}

func (p *Pipeline) newWorkDir() (string, error) {
	if p.deps.WorkDir != "" {
		if err := p.mkdirAll(p.deps.WorkDir, 0o755); err != nil {
			return "", err
		}
	}
	return p.mkdirTemp(p.deps.WorkDir, "audiomate-asset-*")
}

func (p *Pipeline) runStages(ctx context.Context, a *assetRun, workDir string) {
	stageStart := p.now()
	outPath := filepath.Join(workDir, media.NormalizedFileName(a.asset.Name))
	cmdLog, err := p.deps.Normalizer.Normalize(ctx, a.asset, outPath)
	p.emitCommand(a, cmdLog)
	p.deps.Metrics.RecordStage("normalizing", p.now().Sub(stageStart).Seconds())
	if err != nil {
		p.fail(ctx, a, domain.AssetStatusFailed, "normalizing", err)
		return
	}
	a.asset.NormalizedPath = outPath
	a.result.Asset = a.asset

	p.advance(a, domain.AssetStatusProbing)
	stageStart = p.now()
	meta, err := p.deps.Prober.Probe(ctx, outPath)
	p.deps.Metrics.RecordStage("probing", p.now().Sub(stageStart).Seconds())
	if err != nil {
		p.fail(ctx, a, domain.AssetStatusFailed, "probing", err)
		return
	}
	a.result.Metadata = meta
	a.logger.Info().Float64("duration", meta.Duration).Int("sampleRate", meta.SampleRate).Msg("audio probed")

	p.advance(a, domain.AssetStatusTranscribing)
	stageStart = p.now()
	res, err := p.deps.Transcriber.Transcribe(ctx, outPath, meta.Duration, p.hooks(ctx, a))
	p.deps.Metrics.RecordStage("transcribing", p.now().Sub(stageStart).Seconds())
	a.result.Run = res.Run
	if res.Run.Status.IsTerminal() {
		p.deps.Metrics.RecordRun(string(res.Run.Target), string(res.Run.Status), res.Run.Degraded)
	}
	if err != nil {
		p.fail(ctx, a, domain.AssetStatusFailed, "transcribing", err)
		return
	}
	p.deps.Metrics.RecordAudio(meta.Duration)
	a.result.Language = res.Language.Language
	a.result.Segments = res.Segments

	text := postprocess.Dedupe(postprocess.Join(res.Segments), p.deps.MaxRepeat)
	if text == "" {
		p.advance(a, domain.AssetStatusNoSpeech)
		a.logger.Warn().Msg("no speech detected")
		p.emit(jobs.Event{BatchID: a.batchID, Index: a.index, Asset: a.asset.Name, Type: jobs.EventTypeResult,
			Status: domain.AssetStatusNoSpeech, Message: "no speech detected"})
		p.record(ctx, a, "")
		return
	}
	a.result.Text = text

	p.advance(a, domain.AssetStatusExporting)
	stageStart = p.now()
	files, err := p.deps.Exporter.Export(a.asset.Name, text, res.Segments)
	p.deps.Metrics.RecordStage("exporting", p.now().Sub(stageStart).Seconds())
	if err != nil {
		p.fail(ctx, a, domain.AssetStatusFailed, "exporting", err)
		return
	}
	a.result.Files = files

	p.advance(a, domain.AssetStatusDone)
	a.logger.Info().
		Str("text", files.TextPath).
		Str("docx", files.DocxPath).
		Int("segments", len(res.Segments)).
		Bool("degraded", res.Run.Degraded).
		Msg("transcript exported")
	p.emit(jobs.Event{
		BatchID:  a.batchID,
		Index:    a.index,
		Asset:    a.asset.Name,
		Type:     jobs.EventTypeResult,
		Status:   domain.AssetStatusDone,
		Message:  text,
		TextPath: files.TextPath,
		DocxPath: files.DocxPath,
	})
	p.record(ctx, a, "")

	if p.deps.Events != nil {
		ev := events.TranscriptCompleted{
			EventID:    p.newID(),
			BatchID:    a.batchID,
			RunID:      res.Run.ID,
			Asset:      a.asset.Name,
			Target:     string(res.Run.Target),
			Model:      res.Run.Model,
			Degraded:   res.Run.Degraded,
			Language:   res.Language.Language,
			Duration:   meta.Duration,
			Segments:   len(res.Segments),
			Text:       text,
			TextPath:   files.TextPath,
			DocxPath:   files.DocxPath,
			OccurredAt: p.now().UTC(),
		}
		if err := p.deps.Events.PublishCompleted(ctx, ev); err != nil {
			a.logger.Warn().Err(err).Msg("failed to publish completion event")
		}
	}
}

// hooks forwards run progress to the bus, metrics and a throttled monitor.
func (p *Pipeline) hooks(ctx context.Context, a *assetRun) transcribe.Hooks {
	throttle := monitor.NewThrottle(p.deps.MonitorInterval)
	var target domain.ComputeTarget

	return transcribe.Hooks{
		OnStatus: func(run transcribe.Run) {
			target = run.Target
			a.logger.Debug().Str("runId", run.ID).Str("run", string(run.Status)).Str("target", string(run.Target)).Msg("run status")
		},
		OnSegment: func(seg domain.Segment, fraction float64) {
			p.deps.Metrics.RecordSegment()
			p.emit(jobs.Event{BatchID: a.batchID, Index: a.index, Asset: a.asset.Name, Type: jobs.EventTypeProgress,
				Status: domain.AssetStatusTranscribing, Progress: fraction, Message: seg.Text})

			if p.deps.Monitor == nil || !throttle.Allow() {
				return
			}
			sample := p.deps.Monitor.Sample(ctx, target)
			gpu := sample.Accelerator.Percent
			if sample.Accelerator.State != domain.AcceleratorOK {
				gpu = -1
			}
			p.deps.Metrics.RecordResources(sample.CPUPercent, sample.MemoryPercent, gpu)
			p.emit(jobs.Event{BatchID: a.batchID, Index: a.index, Asset: a.asset.Name, Type: jobs.EventTypeResource,
				Resources: &sample, Message: sample.String()})
		},
		OnFault: func(run transcribe.Run, err error) {
			target = run.Target
			a.logger.Warn().Err(err).Str("model", run.Model).Msg("accelerated compute failed, retrying on fallback")
			p.emit(jobs.Event{BatchID: a.batchID, Index: a.index, Asset: a.asset.Name, Type: jobs.EventTypeFault,
				Message: "accelerated compute failed, retrying on fallback with model " + run.Model, ErrorKind: domain.Kind(err)})
		},
	}
}

// advance moves the asset to status and announces it.
func (p *Pipeline) advance(a *assetRun, status domain.AssetStatus) {
	a.result.Status = status
	if p.deps.Manager != nil {
		if err := p.deps.Manager.Transition(a.index, status); err != nil {
			a.logger.Debug().Err(err).Msg("batch manager transition")
		}
	}
	p.emit(jobs.Event{BatchID: a.batchID, Index: a.index, Asset: a.asset.Name, Type: jobs.EventTypeStatus, Status: status})
}

// fail ends the asset with a terminal failure status. A stage error caused by
// cancellation ends it as cancelled instead.
func (p *Pipeline) fail(ctx context.Context, a *assetRun, status domain.AssetStatus, stage string, err error) {
	if ctx.Err() != nil {
		p.abandon(ctx, a, stage, err)
		return
	}
	err = withAsset(a.asset.Name, stage, err)
	a.result.Status = status
	a.result.Err = err

	if p.deps.Manager != nil {
		if mErr := p.deps.Manager.Fail(a.index, status, err.Error()); mErr != nil {
			a.logger.Debug().Err(mErr).Msg("batch manager transition")
		}
	}

	var stageErr *domain.StageError
	hasCommand := errors.As(err, &stageErr) && stageErr.CommandLog.Command != ""
	logEvent := a.logger.Error().Err(err).Str("stage", stage).Str("kind", domain.Kind(err))
	if hasCommand {
		logEvent = logEvent.
			Str("command", stageErr.CommandLog.Command).
			Strs("args", stageErr.CommandLog.Args).
			Int("exitCode", stageErr.CommandLog.ExitCode).
			Str("stderr", stageErr.CommandLog.Stderr)
	}
	logEvent.Msg("asset failed")

	ev := jobs.Event{
		BatchID:   a.batchID,
		Index:     a.index,
		Asset:     a.asset.Name,
		Type:      jobs.EventTypeError,
		Status:    status,
		Message:   err.Error(),
		ErrorKind: domain.Kind(err),
	}
	if hasCommand {
		ev.Command = stageErr.CommandLog.Command
		ev.Args = stageErr.CommandLog.Args
		ev.ExitCode = stageErr.CommandLog.ExitCode
		ev.Stderr = stageErr.CommandLog.Stderr
	}
	p.emit(ev)
	p.record(ctx, a, stage)

	if p.deps.Events != nil {
		failed := events.AssetFailed{
			EventID:    p.newID(),
			BatchID:    a.batchID,
			Asset:      a.asset.Name,
			Status:     string(status),
			Stage:      stage,
			Kind:       domain.Kind(err),
			Message:    err.Error(),
			Stderr:     commandStderr(err),
			OccurredAt: p.now().UTC(),
		}
		if pErr := p.deps.Events.PublishFailed(ctx, failed); pErr != nil {
			a.logger.Warn().Err(pErr).Msg("failed to publish failure event")
		}
	}
}

// abandon ends an asset interrupted by cancellation. It is recorded in the
// history but not announced as a failure.
func (p *Pipeline) abandon(ctx context.Context, a *assetRun, stage string, cause error) {
	err := &domain.StageError{Asset: a.asset.Name, Stage: stage, Message: "cancelled", Err: context.Cause(ctx)}
	a.result.Status = domain.AssetStatusCancelled
	a.result.Err = err

	if p.deps.Manager != nil {
		if mErr := p.deps.Manager.Fail(a.index, domain.AssetStatusCancelled, err.Error()); mErr != nil {
			a.logger.Debug().Err(mErr).Msg("batch manager transition")
		}
	}
	a.logger.Warn().AnErr("cause", cause).Str("stage", stage).Msg("asset cancelled")
	p.emit(jobs.Event{
		BatchID:   a.batchID,
		Index:     a.index,
		Asset:     a.asset.Name,
		Type:      jobs.EventTypeError,
		Status:    domain.AssetStatusCancelled,
		Message:   err.Error(),
		ErrorKind: domain.Kind(err),
	})
	p.record(ctx, a, stage)
}

func (p *Pipeline) record(ctx context.Context, a *assetRun, stage string) {
	p.deps.Metrics.RecordAsset(string(a.result.Status))
	if p.deps.History == nil {
		return
	}
	id := a.result.Run.ID
	if id == "" {
		id = p.newID()
	}
	entry := history.Entry{
		ID:         id,
		BatchID:    a.batchID,
		Asset:      a.asset.Name,
		Status:     string(a.result.Status),
		Target:     string(a.result.Run.Target),
		Model:      a.result.Run.Model,
		Degraded:   a.result.Run.Degraded,
		Duration:   a.result.Metadata.Duration,
		Language:   a.result.Language,
		Segments:   len(a.result.Segments),
		TextPath:   a.result.Files.TextPath,
		StartedAt:  a.started,
		FinishedAt: p.now(),
	}
	if a.result.Err != nil {
		entry.ErrorKind = domain.Kind(a.result.Err)
		entry.Error = a.result.Err.Error()
		entry.Stderr = commandStderr(a.result.Err)
	}
	// History is best effort; the local log already has the outcome.
	if err := p.deps.History.Record(context.WithoutCancel(ctx), entry); err != nil {
		a.logger.Warn().Err(err).Str("stage", stage).Msg("failed to record history")
	}
}

// cleanup removes the work directory holding the normalized audio. The raw
// input belongs to the user and is never removed. It returns the number of
// audio files removed.
func (p *Pipeline) cleanup(a *assetRun, workDir string) int {
	if workDir == "" {
		return 0
	}
	removed := 0
	if a.asset.NormalizedPath != "" {
		if _, err := p.stat(a.asset.NormalizedPath); err == nil {
			removed++
		}
	}
	if err := p.removeAll(workDir); err != nil {
		a.logger.Warn().Err(err).Str("dir", workDir).Msg("failed to remove work directory")
		return 0
	}
	return removed
}

func (p *Pipeline) emitCommand(a *assetRun, cmdLog domain.CommandLog) {
	if cmdLog.Command == "" {
		return
	}
	p.emit(jobs.Event{
		BatchID:  a.batchID,
		Index:    a.index,
		Asset:    a.asset.Name,
		Type:     jobs.EventTypeLog,
		Command:  cmdLog.Command,
		Args:     cmdLog.Args,
		ExitCode: cmdLog.ExitCode,
		Stderr:   cmdLog.Stderr,
	})
}

func (p *Pipeline) emit(ev jobs.Event) {
	if p.deps.Bus != nil {
		p.deps.Bus.Publish(ev)
	}
}

// commandStderr returns the stderr tail of the external command behind err.
func commandStderr(err error) string {
	var stageErr *domain.StageError
	if errors.As(err, &stageErr) {
		return stageErr.CommandLog.Stderr
	}
	return ""
}

// withAsset attaches the asset name and stage to err.
func withAsset(asset, stage string, err error) error {
	var stageErr *domain.StageError
	if errors.As(err, &stageErr) {
		if stageErr.Asset == "" {
			stageErr.Asset = asset
		}
		return err
	}
	return &domain.StageError{Asset: asset, Stage: stage, Message: err.Error(), Err: err}
}
