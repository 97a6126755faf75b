package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"sermonflow/internal/config"
)

func TestLoadDefaultConfigUsesEnvAPIKeyAndExpandsPaths(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "test-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "sermonflow")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "sermonflow.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.LLM.APIKey != "test-key" {
		t.Fatalf("expected API key from env, got %q", cfg.LLM.APIKey)
	}
	if !cfg.AIEnabled() {
		t.Fatal("expected AI matching enabled when key is present")
	}
	if cfg.Assignment.DefaultStrategy != "ai" {
		t.Fatalf("unexpected default strategy: %q", cfg.Assignment.DefaultStrategy)
	}
	if cfg.Assignment.MaxReserveAttempts != 3 {
		t.Fatalf("unexpected reserve attempts: %d", cfg.Assignment.MaxReserveAttempts)
	}
	if got := cfg.StaleTaskThreshold().Minutes(); got != 120 {
		t.Fatalf("unexpected stale threshold: %v", got)
	}
}

func TestLoadCustomConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("OPENROUTER_API_KEY", "")

	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[paths]
data_dir = "~/flow"
api_bind = "0.0.0.0:9000"

[logging]
format = "JSON"
level = "Debug"

[assignment]
default_strategy = "Skill_Match"
default_max_retries = 5

[dispatch]
endpoint = " http://queue.local/jobs "
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected custom path to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "flow") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("logging not normalized: %+v", cfg.Logging)
	}
	if cfg.Assignment.DefaultStrategy != "skill_match" {
		t.Fatalf("strategy not normalized: %q", cfg.Assignment.DefaultStrategy)
	}
	if cfg.Assignment.DefaultMaxRetries != 5 {
		t.Fatalf("unexpected max retries: %d", cfg.Assignment.DefaultMaxRetries)
	}
	if cfg.Dispatch.Endpoint != "http://queue.local/jobs" {
		t.Fatalf("dispatch endpoint not trimmed: %q", cfg.Dispatch.Endpoint)
	}
	if cfg.AIEnabled() {
		t.Fatal("expected AI matching disabled without key")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"manual default": func(c *config.Config) { c.Assignment.DefaultStrategy = "manual" },
		"weights sum":    func(c *config.Config) { c.Scoring.SkillWeight = 0.9 },
		"negative retry": func(c *config.Config) { c.Assignment.DefaultMaxRetries = -1 },
		"log format":     func(c *config.Config) { c.Logging.Format = "xml" },
		"discount":       func(c *config.Config) { c.Scoring.VeteranDiscount = 0 },
		"stale minutes":  func(c *config.Config) { c.Reconciliation.StaleTaskMinutes = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestCreateSampleProducesParsableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[assignment]") {
		t.Fatal("sample missing assignment section")
	}
	var parsed config.Config
	if err := toml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if parsed.Scoring.SkillWeight != 0.6 {
		t.Fatalf("unexpected sample skill weight: %v", parsed.Scoring.SkillWeight)
	}
}
