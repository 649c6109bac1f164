// Package bootstrap wires configuration, engines and the batch pipeline
// into the application used by the command line.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"audiomate/internal/config"
	"audiomate/internal/device"
	"audiomate/internal/diagnostics"
	"audiomate/internal/domain"
	"audiomate/internal/engine"
	"audiomate/internal/events"
	"audiomate/internal/export"
	"audiomate/internal/history"
	"audiomate/internal/jobs"
	"audiomate/internal/media"
	"audiomate/internal/monitor"
	"audiomate/internal/observability"
	"audiomate/internal/observability/logging"
	"audiomate/internal/observability/metrics"
	"audiomate/internal/pipeline"
	"audiomate/internal/transcribe"
)

// App wires configuration, jobs, pipeline and observability.
type App struct {
	Config    config.Config
	Store     config.Store
	Jobs      *jobs.Manager
	Pipeline  batchRunner
	Models    *engine.Cache
	Catalog   *engine.Catalog
	History   *history.Store
	Publisher *events.Publisher
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry
	Selection device.Selection

	checker *diagnostics.Checker
	events  *jobs.EventBus
	logger  zerolog.Logger
	closers []io.Closer

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	last        pipeline.BatchResult
	lastErr     error
	historyOpen bool
}

// batchRunner isolates the batch pipeline behind an interface.
type batchRunner interface {
	RunBatch(ctx context.Context, assets []domain.AudioAsset) (pipeline.BatchResult, error)
}

// Options tweak New without touching persisted settings.
type Options struct {
	SettingsPath string
	// LogOut receives interactive log output, stderr when nil.
	LogOut io.Writer
}

// New loads settings, selects the compute target and builds every component.
func New(ctx context.Context, opts Options) (*App, error) {
	path := lo.CoalesceOrEmpty(opts.SettingsPath, config.DefaultSettingsPath())
	store := config.NewJSONStore(path)
	cfg, err := config.Load(store)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(ctx, cfg, store, opts.LogOut)
}

// NewFromConfig builds the application around an already loaded config.
func NewFromConfig(ctx context.Context, cfg config.Config, store config.Store, logOut io.Writer) (*App, error) {
	logCloser, err := logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
		File:   cfg.Observability.LogFile,
		Out:    logOut,
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	a := &App{
		Config:  cfg,
		Store:   store,
		Jobs:    jobs.NewManager(),
		Catalog: engine.NewCatalog(cfg.Engine.CacheDir),
		checker: diagnostics.NewChecker(),
		events:  jobs.NewEventBus(1000),
		logger:  logging.WithComponent("app"),
		closers: []io.Closer{logCloser},
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	a.Selection = device.Select(ctx, device.Options{
		ForceFallback: cfg.Device.ForceCPU,
		ComputeType:   cfg.Device.ComputeType,
	}, device.NewNvidiaProbe())
	a.logger.Info().
		Str("target", string(a.Selection.Target)).
		Str("device", a.Selection.Device).
		Str("computeType", a.Selection.ComputeType).
		Msg("compute target selected")

	a.Models = engine.NewCache(a.loader())
	a.closers = append(a.closers, a.Models)

	if store, err := history.Open(cfg.HistoryPath); err != nil {
		a.logger.Warn().Err(err).Str("path", cfg.HistoryPath).Msg("run history disabled")
	} else {
		a.History = store
		a.historyOpen = true
		a.closers = append(a.closers, store)
	}

	a.Publisher = events.New(&events.Config{
		Brokers:        cfg.Kafka.Brokers,
		TopicCompleted: cfg.Kafka.TopicCompleted,
		TopicFailed:    cfg.Kafka.TopicFailed,
		Principal:      cfg.Kafka.Principal,
		Enabled:        cfg.Kafka.Enabled,
	}, a.Metrics)
	a.closers = append(a.closers, a.Publisher)

	deps := pipeline.Deps{
		Normalizer:      media.NewNormalizer(cfg.Media.FFmpegBin, cfg.Media.MaxUploadBytes),
		Prober:          media.NewProber(cfg.Media.FFprobeBin),
		Transcriber:     transcribe.NewTranscriber(a.Models, a.transcribeConfig()),
		Monitor:         monitor.New(),
		Exporter:        export.NewAssembler(cfg.Settings.OutputDir),
		Events:          a.Publisher,
		Metrics:         a.Metrics,
		Bus:             a.events,
		Manager:         a.Jobs,
		MonitorInterval: cfg.Monitor.Interval,
		WorkDir:         cfg.Media.WorkDir,
	}
	if a.History != nil {
		deps.History = a.History
	}
	a.Pipeline = pipeline.New(deps)

	return a, nil
}

// Profiles returns the primary and fallback engine profiles.
func (a *App) Profiles() (primary, fallback engine.Profile) {
	fb := device.FallbackSelection()
	primary = engine.Profile{
		Model:       a.Config.Engine.Model,
		Device:      a.Selection.Device,
		ComputeType: a.Selection.ComputeType,
		Target:      a.Selection.Target,
	}
	fallback = engine.Profile{
		Model:       lo.CoalesceOrEmpty(a.Config.Engine.FallbackModel, config.DefaultFallbackModel),
		Device:      fb.Device,
		ComputeType: fb.ComputeType,
		Target:      fb.Target,
	}
	return primary, fallback
}

func (a *App) transcribeConfig() transcribe.Config {
	primary, fallback := a.Profiles()
	return transcribe.Config{
		Primary:  primary,
		Fallback: fallback,
		Options: engine.Options{
			Language:  a.Config.Engine.Language,
			BeamSize:  a.Config.Engine.BeamSize,
			VADFilter: a.Config.Engine.VADFilter,
		},
	}
}

// loader picks the engine backend named in the settings.
func (a *App) loader() engine.Loader {
	if isWhisperCpp(a.Config.Engine.Backend) {
		return engine.NewWhisperCppLoader(engine.WhisperCppConfig{
			Binary:  a.Config.Engine.WhisperCppBin,
			Catalog: a.Catalog,
		})
	}
	return engine.NewFasterWhisperLoader(engine.WorkerConfig{
		Python:      a.Config.Engine.PythonBin,
		CacheDir:    a.Config.Engine.CacheDir,
		LoadTimeout: a.Config.Engine.LoadTimeout,
	})
}

func isWhisperCpp(backend string) bool {
	b := strings.ToLower(strings.TrimSpace(backend))
	return b == "whisper.cpp" || b == "whispercpp"
}

// Close releases engines, the history database, publishers and the log file.
func (a *App) Close() error {
	_ = a.CancelBatch()
	a.Wait()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Events exposes the batch event bus.
func (a *App) Events() *jobs.EventBus {
	return a.events
}

// EventsSince returns all events with sequence greater than seq.
func (a *App) EventsSince(seq int64) []jobs.Event {
	return a.events.Since(seq)
}

// CurrentBatch returns the tracked state of the latest batch.
func (a *App) CurrentBatch() jobs.Batch {
	return a.Jobs.Current()
}

// Diagnostics checks the configured toolchain.
func (a *App) Diagnostics(ctx context.Context) domain.DiagnosticReport {
	return a.checker.Run(ctx, diagnostics.Target{
		FFmpeg:     a.Config.Media.FFmpegBin,
		FFprobe:    a.Config.Media.FFprobeBin,
		Backend:    a.Config.Engine.Backend,
		Python:     a.Config.Engine.PythonBin,
		WhisperCpp: a.Config.Engine.WhisperCppBin,
		Model:      a.Config.Engine.Model,
		CacheDir:   a.Config.Engine.CacheDir,
		OutputDir:  a.Config.Settings.OutputDir,
	})
}

// SaveSettings normalizes and persists settings. They apply on next start.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	if a.Store == nil {
		return domain.Settings{}, fmt.Errorf("settings store is not configured")
	}
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	return normalized, nil
}

// RecentHistory lists the newest recorded asset outcomes.
func (a *App) RecentHistory(ctx context.Context, limit int) ([]history.Entry, error) {
	if a.History == nil {
		return nil, fmt.Errorf("run history is not available")
	}
	return a.History.Recent(ctx, limit)
}

// ObservabilityServer builds the metrics and history HTTP server.
func (a *App) ObservabilityServer(addr string) *observability.Server {
	var hist observability.HistorySource
	if a.History != nil {
		hist = a.History
	}
	ready := func() bool { return a.historyOpen }
	return observability.NewServer(addr, observability.NewRouter(a.Registry, hist, ready))
}

// AssetsFromPaths stats every input file. Missing inputs fail the whole call
// since nothing has been queued yet.
func AssetsFromPaths(paths []string) ([]domain.AudioAsset, error) {
	assets := make([]domain.AudioAsset, 0, len(paths))
	var errs []error
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("input %s: %w", p, err))
			continue
		}
		if info.IsDir() {
			errs = append(errs, fmt.Errorf("input %s is a directory", p))
			continue
		}
		assets = append(assets, domain.AudioAsset{
			Name:    filepath.Base(p),
			Size:    info.Size(),
			RawPath: p,
		})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("no input files")
	}
	return assets, nil
}

// Transcribe runs one batch to completion on the calling goroutine.
func (a *App) Transcribe(ctx context.Context, paths []string) (pipeline.BatchResult, error) {
	if err := a.StartBatch(ctx, paths); err != nil {
		return pipeline.BatchResult{}, err
	}
	return a.Wait()
}

// StartBatch queues the given files and processes them asynchronously. Only
// one batch may run at a time.
func (a *App) StartBatch(ctx context.Context, paths []string) error {
	assets, err := AssetsFromPaths(paths)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return jobs.ErrBatchAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.cancel = cancel
	a.done = done
	a.last = pipeline.BatchResult{}
	a.lastErr = nil
	a.mu.Unlock()

	go a.runBatch(runCtx, assets, done)
	return nil
}

// runBatch executes the pipeline and stores the outcome for Wait.
func (a *App) runBatch(ctx context.Context, assets []domain.AudioAsset, done chan struct{}) {
	defer close(done)

	result, err := a.Pipeline.RunBatch(ctx, assets)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Warn().Str("batchId", result.ID).Msg("batch cancelled")
		} else {
			a.logger.Error().Err(err).Msg("batch failed")
		}
		a.events.Publish(jobs.Event{
			BatchID: result.ID,
			Index:   -1,
			Type:    jobs.EventTypeError,
			Message: err.Error(),
		})
	}

	a.mu.Lock()
	a.last = result
	a.lastErr = err
	if a.cancel != nil {
		a.cancel()
	}
	a.cancel = nil
	a.mu.Unlock()
}

// Wait blocks until the running batch, if any, has finished and returns its
// outcome.
func (a *App) Wait() (pipeline.BatchResult, error) {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done != nil {
		<-done
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.lastErr
}

// CancelBatch stops the running batch. The asset in progress is interrupted
// and marked cancelled; the remaining assets stay queued.
func (a *App) CancelBatch() error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel == nil {
		return jobs.ErrNoRunningBatch
	}
	cancel()
	return nil
}

// normalizeSettings trims user inputs and applies defaults when empty.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.Model = lo.CoalesceOrEmpty(strings.TrimSpace(settings.Model), config.DefaultModel)
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.Language = lo.CoalesceOrEmpty(strings.TrimSpace(settings.Language), config.DefaultLanguage)
	settings.Engine = lo.CoalesceOrEmpty(strings.ToLower(strings.TrimSpace(settings.Engine)), config.DefaultEngine)
	return settings
}
