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
		t.Fatalf("Load: %v", err)
	}
	if cfg.Correlator.Window != 5*time.Minute {
		t.Fatalf("window = %v, want 5m", cfg.Correlator.Window)
	}
	if cfg.Correlator.MaxAnalysis != 3 {
		t.Fatalf("maxAnalysisRetries = %d, want 3", cfg.Correlator.MaxAnalysis)
	}
	if cfg.Correlator.MinConfidence != 0.3 {
		t.Fatalf("minConfidence = %v, want 0.3", cfg.Correlator.MinConfidence)
	}
	if cfg.Engines.Weights.Platform != 0.8 {
		t.Fatalf("platform weight = %v, want 0.8", cfg.Engines.Weights.Platform)
	}
	if cfg.Dispatch.MaxAttempts != 4 {
		t.Fatalf("dispatch maxAttempts = %d, want 4", cfg.Dispatch.MaxAttempts)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "responder.yaml")
	content := `
server:
  address: ":9999"
correlator:
  window: 2m
  minConfidence: 0.5
engines:
  weights:
    platform: 0.9
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
	if cfg.Correlator.Window != 2*time.Minute {
		t.Fatalf("window = %v, want 2m", cfg.Correlator.Window)
	}
	if cfg.Correlator.MinConfidence != 0.5 {
		t.Fatalf("minConfidence = %v", cfg.Correlator.MinConfidence)
	}
	if cfg.Engines.Weights.Platform != 0.9 {
		t.Fatalf("platform weight = %v", cfg.Engines.Weights.Platform)
	}
	// Untouched sections keep their defaults.
	if cfg.Correlator.Shards != 16 {
		t.Fatalf("shards = %d, want default 16", cfg.Correlator.Shards)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing explicit config file must fail")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RESPONDER_CORRELATION_WINDOW", "90s")
	t.Setenv("RESPONDER_MIN_CONFIDENCE", "0.6")
	t.Setenv("RESPONDER_ENGINE_WEIGHTS", "rule=0.4,platform=0.95")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Correlator.Window != 90*time.Second {
		t.Fatalf("window = %v, want 90s", cfg.Correlator.Window)
	}
	if cfg.Correlator.MinConfidence != 0.6 {
		t.Fatalf("minConfidence = %v, want 0.6", cfg.Correlator.MinConfidence)
	}
	if cfg.Engines.Weights.RuleBased != 0.4 || cfg.Engines.Weights.Platform != 0.95 {
		t.Fatalf("weights = %+v", cfg.Engines.Weights)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "responder.yaml")
	if err := os.WriteFile(path, []byte("correlator:\n  minConfidence: 1.5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("out-of-range minConfidence must be rejected")
	}
}
