package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWritesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	loader := NewFileLoader(path)

	cfg, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.MaxConcurrent != 3 {
		t.Fatalf("max_concurrent = %d, want 3", cfg.Engine.MaxConcurrent)
	}
	if cfg.Approval.Timeout.Std() != time.Hour {
		t.Fatalf("approval_timeout = %v, want 1h", cfg.Approval.Timeout)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file should exist: %v", err)
	}
}

func TestLoadHydratesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	partial := `engine:
  max_concurrent: 8
cost_limits:
  providers:
    anthropic:
      daily_limit: 25.0
`
	if err := os.WriteFile(path, []byte(partial), 0o600); err != nil {
		t.Fatalf("write partial config: %v", err)
	}

	cfg, err := NewFileLoader(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.MaxConcurrent != 8 {
		t.Fatalf("explicit max_concurrent = %d, want 8", cfg.Engine.MaxConcurrent)
	}
	if cfg.Engine.MaxRetries != 3 {
		t.Fatalf("hydrated max_retries = %d, want 3", cfg.Engine.MaxRetries)
	}
	cl, ok := cfg.CostLimits.Providers["anthropic"]
	if !ok {
		t.Fatalf("anthropic provider should survive hydration")
	}
	if cl.DailyLimit != 25.0 {
		t.Fatalf("daily_limit = %v, want 25.0", cl.DailyLimit)
	}
	if cl.WarningThreshold != 0.9 {
		t.Fatalf("hydrated warning_threshold = %v, want 0.9", cl.WarningThreshold)
	}
	if cfg.Risk.Medium != 3 || cfg.Risk.High != 7 {
		t.Fatalf("hydrated risk thresholds = %+v, want {3 7}", cfg.Risk)
	}
}

func TestDurationsRoundTripAsStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	loader := NewFileLoader(path)
	if _, err := loader.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read written default: %v", err)
	}
	if !strings.Contains(string(raw), "approval_timeout: 1h0m0s") {
		t.Fatalf("default file should carry a readable duration, got:\n%s", raw)
	}
}

func TestDurationsAcceptStringsAndSeconds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `approval:
  approval_timeout: 2h
rollback:
  retention_window: 86400
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := NewFileLoader(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Approval.Timeout.Std() != 2*time.Hour {
		t.Fatalf("approval_timeout = %v, want 2h", cfg.Approval.Timeout)
	}
	if cfg.Rollback.RetentionWindow.Std() != 24*time.Hour {
		t.Fatalf("bare-integer retention_window = %v, want 24h", cfg.Rollback.RetentionWindow)
	}
}

func TestLoadRejectsUnparsableDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("approval:\n  approval_timeout: soon\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := NewFileLoader(path).Load(context.Background()); err == nil {
		t.Fatalf("Load() should fail on an unparsable duration")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("engine: [not a map"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := NewFileLoader(path).Load(context.Background()); err == nil {
		t.Fatalf("Load() should fail on malformed yaml")
	}
}

func TestEnvOverrideResolvesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "elsewhere.yaml")
	t.Setenv("OVERSEER_CONFIG", path)

	loader := NewFileLoader("")
	if got := loader.Path(); got != path {
		t.Fatalf("Path() = %s, want %s", got, path)
	}
}
