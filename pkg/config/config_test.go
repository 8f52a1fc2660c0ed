package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Health.FailureThreshold != 2 {
		t.Fatalf("failure threshold = %d, want 2", cfg.Health.FailureThreshold)
	}
	if cfg.Pipeline.StatisticsDelay != 10*time.Second {
		t.Fatalf("statistics delay = %s", cfg.Pipeline.StatisticsDelay)
	}
	if cfg.Backend.BaseURL != "http://127.0.0.1:8000" {
		t.Fatalf("base url = %q", cfg.Backend.BaseURL)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "classroom.toml")
	body := `
storage_path = "/var/lib/classroom"
log_level = "DEBUG"

[backend]
base_url = "backend.local:9000/"

[health]
interval = "3s"
failure_threshold = 4

[pipeline]
statistics_delay = "250ms"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CLASSROOM_RETRY_MAX", "9s")
	t.Setenv("CLASSROOM_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://backend.local:9000" {
		t.Errorf("base url = %q", cfg.Backend.BaseURL)
	}
	if cfg.Health.Interval != 3*time.Second || cfg.Health.FailureThreshold != 4 {
		t.Errorf("health = %+v", cfg.Health)
	}
	if cfg.Health.RetryMax != 9*time.Second {
		t.Errorf("retry max = %s, want env override", cfg.Health.RetryMax)
	}
	if cfg.Pipeline.StatisticsDelay != 250*time.Millisecond {
		t.Errorf("statistics delay = %s", cfg.Pipeline.StatisticsDelay)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("log = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.StoragePath != "/var/lib/classroom" {
		t.Errorf("storage path = %q", cfg.StoragePath)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoadBadDuration(t *testing.T) {
	t.Setenv("CLASSROOM_HEALTH_INTERVAL", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold below two", func(c *Config) { c.Health.FailureThreshold = 1 }, "failure_threshold"},
		{"retry max below initial", func(c *Config) { c.Health.RetryMax = time.Millisecond }, "retry_initial"},
		{"empty backend", func(c *Config) { c.Backend.BaseURL = "" }, "base_url"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
