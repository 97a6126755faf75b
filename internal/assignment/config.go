package assignment

import (
	"sermonflow/internal/config"
	"sermonflow/internal/services/llm"
)

// OptionsFromConfig translates the [assignment] and [llm] sections into
// engine options. The AI strategy gets a suggester only when an API key is
// configured.
func OptionsFromConfig(cfg *config.Config) []Option {
	opts := []Option{
		WithMaxAttempts(cfg.Assignment.MaxReserveAttempts),
		WithAITimeout(cfg.AITimeout()),
	}
	if kind, err := ParseKind(cfg.Assignment.DefaultStrategy); err == nil {
		opts = append(opts, WithDefaultStrategy(kind))
	}
	if cfg.AIEnabled() {
		client := llm.NewClient(llm.Config{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			Referer:        cfg.LLM.Referer,
			Title:          cfg.LLM.Title,
			TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		})
		opts = append(opts, WithSuggester(NewLLMSuggester(client)))
	}
	return opts
}
