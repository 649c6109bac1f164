package config

import (
	"errors"
	"testing"
	"time"

	"audiomate/internal/domain"
)

type stubStore struct {
	settings domain.Settings
	err      error
}

func (s stubStore) Load() (domain.Settings, error) { return s.settings, s.err }
func (s stubStore) Save(domain.Settings) error     { return nil }

// TestFromEnvDefaults verifies the reference defaults with a clean environment.
func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"WHISPER_FORCE_CPU", "WHISPER_COMPUTE_TYPE", "WHISPER_MODEL", "WHISPER_CACHE", "AUDIOMATE_MAX_UPLOAD_MB"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv(DefaultSettings())
	if cfg.Device.ForceCPU {
		t.Fatal("ForceCPU = true, want false")
	}
	if cfg.Engine.Model != "large-v2" {
		t.Fatalf("model = %q, want large-v2", cfg.Engine.Model)
	}
	if cfg.Engine.FallbackModel != "small" {
		t.Fatalf("fallback model = %q, want small", cfg.Engine.FallbackModel)
	}
	if cfg.Engine.CacheDir != ".cache/whisper" {
		t.Fatalf("cache dir = %q, want .cache/whisper", cfg.Engine.CacheDir)
	}
	if cfg.Media.MaxUploadBytes != 1000*1024*1024 {
		t.Fatalf("max upload = %d, want %d", cfg.Media.MaxUploadBytes, 1000*1024*1024)
	}
	if cfg.Engine.BeamSize != 5 || !cfg.Engine.VADFilter || cfg.Engine.Language != "es" {
		t.Fatalf("inference = %+v, want beam 5, vad on, es", cfg.Engine)
	}
	if cfg.Monitor.Interval != time.Second {
		t.Fatalf("monitor interval = %v, want 1s", cfg.Monitor.Interval)
	}
}

// TestFromEnvOverrides verifies environment variables win over settings.
func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("WHISPER_FORCE_CPU", "1")
	t.Setenv("WHISPER_COMPUTE_TYPE", "int8_float16")
	t.Setenv("WHISPER_MODEL", "medium")
	t.Setenv("WHISPER_CACHE", "/var/cache/whisper")
	t.Setenv("AUDIOMATE_MAX_UPLOAD_MB", "10")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")

	cfg := FromEnv(domain.Settings{Model: "tiny"})
	if !cfg.Device.ForceCPU {
		t.Fatal("ForceCPU = false, want true")
	}
	if cfg.Device.ComputeType != "int8_float16" {
		t.Fatalf("compute type = %q, want int8_float16", cfg.Device.ComputeType)
	}
	if cfg.Engine.Model != "medium" || cfg.Settings.Model != "medium" {
		t.Fatalf("model = %q/%q, want medium", cfg.Engine.Model, cfg.Settings.Model)
	}
	if cfg.Engine.CacheDir != "/var/cache/whisper" {
		t.Fatalf("cache dir = %q", cfg.Engine.CacheDir)
	}
	if cfg.Media.MaxUploadBytes != 10*1024*1024 {
		t.Fatalf("max upload = %d", cfg.Media.MaxUploadBytes)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Fatalf("brokers = %v, want [a:9092 b:9092]", cfg.Kafka.Brokers)
	}
}

// TestEnvHelpersFallBackOnInvalid verifies invalid values keep defaults.
func TestEnvHelpersFallBackOnInvalid(t *testing.T) {
	tests := []struct {
		name  string
		value string
		check func(t *testing.T)
	}{
		{"bool", "maybe", func(t *testing.T) {
			if got := envOrDefaultBool("AUDIOMATE_TEST_VALUE", true); !got {
				t.Fatal("envOrDefaultBool = false, want true")
			}
		}},
		{"int", "-3", func(t *testing.T) {
			if got := envOrDefaultInt("AUDIOMATE_TEST_VALUE", 7); got != 7 {
				t.Fatalf("envOrDefaultInt = %d, want 7", got)
			}
		}},
		{"duration", "soon", func(t *testing.T) {
			if got := envOrDefaultDuration("AUDIOMATE_TEST_VALUE", time.Second); got != time.Second {
				t.Fatalf("envOrDefaultDuration = %v, want 1s", got)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AUDIOMATE_TEST_VALUE", tt.value)
			tt.check(t)
		})
	}
}

// TestLoadPropagatesStoreError checks settings read failures surface.
func TestLoadPropagatesStoreError(t *testing.T) {
	want := errors.New("disk gone")
	if _, err := Load(stubStore{err: want}); !errors.Is(err, want) {
		t.Fatalf("Load() error = %v, want %v", err, want)
	}
}
