package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"audiomate/internal/domain"
)

// Config is the single configuration structure handed to every component.
type Config struct {
	Settings      domain.Settings
	Device        DeviceConfig
	Engine        EngineConfig
	Media         MediaConfig
	Monitor       MonitorConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
	HistoryPath   string
}

// DeviceConfig drives the device selector.
type DeviceConfig struct {
	ForceCPU    bool
	ComputeType string
}

// EngineConfig drives the transcription engine adapter.
type EngineConfig struct {
	Backend       string
	Model         string
	FallbackModel string
	CacheDir      string
	PythonBin     string
	WhisperCppBin string
	Language      string
	BeamSize      int
	VADFilter     bool
	LoadTimeout   time.Duration
}

// MediaConfig holds the external media tools and the upload bound.
type MediaConfig struct {
	FFmpegBin      string
	FFprobeBin     string
	MaxUploadBytes int64
	WorkDir        string
}

// MonitorConfig holds the resource sampling interval.
type MonitorConfig struct {
	Interval time.Duration
}

// KafkaConfig holds transcript event publishing settings.
type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	TopicCompleted string
	TopicFailed    string
	Principal      string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	LogFile     string
	MetricsAddr string
}

// Load builds Config from persisted settings overlaid with the environment.
func Load(store Store) (Config, error) {
	settings := DefaultSettings()
	if store != nil {
		loaded, err := store.Load()
		if err != nil {
			return Config{}, fmt.Errorf("load settings: %w", err)
		}
		settings = loaded
	}
	return FromEnv(settings), nil
}

// FromEnv applies environment overrides to settings and fills process config.
func FromEnv(settings domain.Settings) Config {
	settings.Model = envOrDefault("WHISPER_MODEL", orDefault(settings.Model, DefaultModel))
	settings.Language = envOrDefault("AUDIOMATE_LANGUAGE", orDefault(settings.Language, DefaultLanguage))
	settings.OutputDir = envOrDefault("AUDIOMATE_OUTPUT_DIR", settings.OutputDir)
	settings.Engine = envOrDefault("AUDIOMATE_ENGINE", orDefault(settings.Engine, DefaultEngine))

	return Config{
		Settings: settings,
		Device: DeviceConfig{
			ForceCPU:    envOrDefaultBool("WHISPER_FORCE_CPU", false),
			ComputeType: strings.TrimSpace(os.Getenv("WHISPER_COMPUTE_TYPE")),
		},
		Engine: EngineConfig{
			Backend:       settings.Engine,
			Model:         settings.Model,
			FallbackModel: envOrDefault("WHISPER_FALLBACK_MODEL", DefaultFallbackModel),
			CacheDir:      envOrDefault("WHISPER_CACHE", filepath.Join(".cache", "whisper")),
			PythonBin:     envOrDefault("AUDIOMATE_PYTHON", "python3"),
			WhisperCppBin: envOrDefault("AUDIOMATE_WHISPER_CPP", "whisper.cpp"),
			Language:      settings.Language,
			BeamSize:      envOrDefaultInt("AUDIOMATE_BEAM_SIZE", DefaultBeamSize),
			VADFilter:     envOrDefaultBool("AUDIOMATE_VAD", true),
			LoadTimeout:   envOrDefaultDuration("AUDIOMATE_MODEL_LOAD_TIMEOUT", 30*time.Minute),
		},
		Media: MediaConfig{
			FFmpegBin:      envOrDefault("AUDIOMATE_FFMPEG", "ffmpeg"),
			FFprobeBin:     envOrDefault("AUDIOMATE_FFPROBE", "ffprobe"),
			MaxUploadBytes: int64(envOrDefaultInt("AUDIOMATE_MAX_UPLOAD_MB", DefaultMaxUploadMB)) * 1024 * 1024,
			WorkDir:        envOrDefault("AUDIOMATE_WORK_DIR", ""),
		},
		Monitor: MonitorConfig{
			Interval: envOrDefaultDuration("AUDIOMATE_MONITOR_INTERVAL", time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:        envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:        splitList(os.Getenv("KAFKA_BROKERS")),
			TopicCompleted: envOrDefault("KAFKA_TOPIC_COMPLETED", "audiomate.transcript.completed"),
			TopicFailed:    envOrDefault("KAFKA_TOPIC_FAILED", "audiomate.asset.failed"),
			Principal:      envOrDefault("KAFKA_PRINCIPAL", "audiomate"),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "console"),
			LogFile:     envOrDefault("LOG_FILE", "audiomate.log"),
			MetricsAddr: envOrDefault("AUDIOMATE_METRICS_ADDR", ""),
		},
		HistoryPath: envOrDefault("AUDIOMATE_HISTORY_DB", filepath.Join(appDir(), "history.sqlite")),
	}
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
