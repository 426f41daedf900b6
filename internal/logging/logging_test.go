package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestApplySwitchesToFileHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{Level: "info", Console: false})
	defer svc.Close()

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("reloaded", "bot", "bot-a")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"reloaded"`) || !strings.Contains(string(b), `"bot":"bot-a"`) {
		t.Fatalf("file handler output missing fields: %s", b)
	}
}

func TestApplyLevelFiltersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.Info("quiet")
	log.Warn("loud")

	b, _ := os.ReadFile(path)
	if strings.Contains(string(b), "quiet") {
		t.Fatalf("info record leaked through warn level")
	}
	if !strings.Contains(string(b), "loud") {
		t.Fatalf("warn record missing")
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("warning", 0) != parseLevel("WARN", 0) {
		t.Fatalf("warning alias broken")
	}
	if got := parseLevel("bogus", parseLevel("error", 0)); got != parseLevel("ERROR", 0) {
		t.Fatalf("default not used: %v", got)
	}
}
