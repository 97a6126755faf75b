package testsupport

import (
	"path/filepath"
	"testing"

	"sermonflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// AI matching is disabled unless WithLLMKey is supplied.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.LLM.APIKey = ""
	cfgVal.Assignment.DefaultStrategy = "skill_match"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithLLMKey enables the AI-matching client configuration.
func WithLLMKey(key, baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.APIKey = key
		if baseURL != "" {
			b.cfg.LLM.BaseURL = baseURL
		}
	}
}

// WithDefaultStrategy overrides the engine's default assignment strategy.
func WithDefaultStrategy(strategy string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Assignment.DefaultStrategy = strategy
	}
}

// WithMaxRetries overrides the per-task retry budget for new workflows.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Assignment.DefaultMaxRetries = n
	}
}

// WithDispatchEndpoint points the dispatch bridge at an HTTP endpoint.
func WithDispatchEndpoint(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Dispatch.Endpoint = url
	}
}

// WithSkillCatalog writes catalog YAML into the temp dir and configures it.
func WithSkillCatalog(yaml string) ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, "skills.yaml")
		WriteFile(b.t, path, yaml)
		b.cfg.Skills.CatalogPath = path
	}
}
