package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected default address %s", cfg.Server.Address)
	}
	if cfg.Pipeline.Interval != 30*time.Second {
		t.Fatalf("unexpected default interval %s", cfg.Pipeline.Interval)
	}
	if cfg.Anomaly.Contamination != 0.10 {
		t.Fatalf("unexpected default contamination %v", cfg.Anomaly.Contamination)
	}
	if !cfg.Correlation.OpenSingleton {
		t.Fatal("expected singleton incidents enabled by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  address: ":9999"
anomaly:
  contamination: 0.2
correlation:
  similarityThreshold: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Fatalf("expected file override, got %s", cfg.Server.Address)
	}
	if cfg.Anomaly.Contamination != 0.2 {
		t.Fatalf("expected contamination 0.2, got %v", cfg.Anomaly.Contamination)
	}
	// Untouched values keep defaults.
	if cfg.Incidents.QuietPeriod != 30*time.Minute {
		t.Fatalf("expected default quiet period, got %s", cfg.Incidents.QuietPeriod)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for explicit missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_HEAL_SERVER_ADDRESS", ":7070")
	t.Setenv("SENTINEL_HEAL_LOG_FORMAT", "json")
	t.Setenv("SENTINEL_HEAL_MIN_SAMPLES", "50")
	t.Setenv("SENTINEL_HEAL_QUIET_PERIOD", "45m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Fatalf("expected env address, got %s", cfg.Server.Address)
	}
	if !cfg.Logging.JSON {
		t.Fatal("expected json logging enabled")
	}
	if cfg.Anomaly.MinSamples != 50 {
		t.Fatalf("expected min samples 50, got %d", cfg.Anomaly.MinSamples)
	}
	if cfg.Incidents.QuietPeriod != 45*time.Minute {
		t.Fatalf("expected quiet period 45m, got %s", cfg.Incidents.QuietPeriod)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	write := func(content string) string {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		return path
	}

	if _, err := Load(write("anomaly:\n  contamination: 0.9\n")); err == nil {
		t.Fatal("expected contamination validation error")
	}
	if _, err := Load(write("anomaly:\n  forecastConfidence: 1.5\n")); err == nil {
		t.Fatal("expected confidence validation error")
	}
	if _, err := Load(write("correlation:\n  similarityThreshold: 1.5\n")); err == nil {
		t.Fatal("expected similarity validation error")
	}
	if _, err := Load(write("pipeline:\n  interval: -5s\n")); err == nil {
		t.Fatal("expected interval validation error")
	}
}
