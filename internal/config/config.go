package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token on every API request.
	APIToken string `toml:"api_token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Assignment contains defaults for the assignment engine.
type Assignment struct {
	DefaultStrategy    string `toml:"default_strategy"`
	MaxReserveAttempts int    `toml:"max_reserve_attempts"`
	AITimeoutSeconds   int    `toml:"ai_timeout_seconds"`
	DefaultMaxRetries  int    `toml:"default_max_retries"`
}

// Scoring contains the worker scoring weights. The veteran discount is applied
// to the availability component once a worker has completed more than
// VeteranThreshold tasks; set VeteranDiscount to 1 to disable it.
type Scoring struct {
	SkillWeight        float64 `toml:"skill_weight"`
	WorkloadWeight     float64 `toml:"workload_weight"`
	AvailabilityWeight float64 `toml:"availability_weight"`
	VeteranThreshold   int     `toml:"veteran_threshold"`
	VeteranDiscount    float64 `toml:"veteran_discount"`
}

// Reconciliation contains timing for the stale-task and retry sweeps.
type Reconciliation struct {
	Enabled          bool `toml:"enabled"`
	IntervalSeconds  int  `toml:"interval_seconds"`
	StaleTaskMinutes int  `toml:"stale_task_minutes"`
}

// LLM contains connection settings for the AI-matching service.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Dispatch contains the external task-queue endpoint. When Endpoint is empty
// jobs are only logged.
type Dispatch struct {
	Endpoint       string `toml:"endpoint"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Skills points at an optional YAML skill catalog overriding the built-in table.
type Skills struct {
	CatalogPath string `toml:"catalog_path"`
	Watch       bool   `toml:"watch"`
}

// Config encapsulates all configuration values for sermonflow.
//
// Configuration sections by subsystem:
//   - Paths: database/log directories and API bind address
//   - Logging: log format and level
//   - Assignment: default strategy, reservation retries, AI timeout, task retries
//   - Scoring: weights used by the skill-match scorer
//   - Reconciliation: stale-task and retry sweep timing
//   - LLM: AI-matching service connection
//   - Dispatch: external task-queue endpoint
//   - Skills: skill catalog override
type Config struct {
	Paths          Paths          `toml:"paths"`
	Logging        Logging        `toml:"logging"`
	Assignment     Assignment     `toml:"assignment"`
	Scoring        Scoring        `toml:"scoring"`
	Reconciliation Reconciliation `toml:"reconciliation"`
	LLM            LLM            `toml:"llm"`
	Dispatch       Dispatch       `toml:"dispatch"`
	Skills         Skills         `toml:"skills"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("sermonflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "sermonflow.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "sermonflow.lock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "sermonflow.pid")
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "sermonflow.log")
}

// AITimeout returns the bound applied to one AI-matching call.
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.Assignment.AITimeoutSeconds) * time.Second
}

// StaleTaskThreshold returns how long a task may stay in progress without a
// heartbeat before the stale sweep reclaims it.
func (c *Config) StaleTaskThreshold() time.Duration {
	return time.Duration(c.Reconciliation.StaleTaskMinutes) * time.Minute
}

// SweepInterval returns the reconciliation loop period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Reconciliation.IntervalSeconds) * time.Second
}

// DispatchTimeout returns the HTTP timeout for the dispatch bridge.
func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Dispatch.TimeoutSeconds) * time.Second
}

// AIEnabled reports whether the AI-matching strategy has credentials.
func (c *Config) AIEnabled() bool {
	return strings.TrimSpace(c.LLM.APIKey) != "" && strings.TrimSpace(c.LLM.Model) != ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
