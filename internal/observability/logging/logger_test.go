package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TestInitWritesJSONToFile verifies the log file receives structured entries.
func TestInitWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audiomate.log")
	var console bytes.Buffer

	closer, err := Init(Config{Level: "debug", Format: "json", File: path, Out: &console})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	assetLog := WithAsset("b1", "clase.mp3")
	assetLog.Info().Msg("asset done")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", data)
	}
	if entry["asset"] != "clase.mp3" || entry["batchId"] != "b1" || entry["message"] != "asset done" {
		t.Fatalf("entry = %v", entry)
	}
	if !strings.Contains(console.String(), "asset done") {
		t.Fatalf("console output = %q", console.String())
	}
}

func TestInitInvalidLevelDefaultsToInfo(t *testing.T) {
	var out bytes.Buffer
	if _, err := Init(Config{Level: "loud", Format: "json", Out: &out}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("level = %v, want info", zerolog.GlobalLevel())
	}
	log.Debug().Msg("hidden")
	componentLog := WithComponent("test")
	componentLog.Info().Msg("shown")
	if strings.Contains(out.String(), "hidden") || !strings.Contains(out.String(), `"component":"test"`) {
		t.Fatalf("output = %q", out.String())
	}
}
