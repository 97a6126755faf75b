package preflight

import (
	"context"

	"sermonflow/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	if cfg.Skills.CatalogPath != "" {
		results = append(results, CheckSkillCatalog(cfg.Skills.CatalogPath))
	}

	if cfg.Dispatch.Endpoint != "" {
		results = append(results, CheckDispatch(ctx, cfg.Dispatch.Endpoint, cfg.Dispatch.Token))
	}

	if cfg.AIEnabled() {
		results = append(results, CheckLLM(ctx, "AI matching LLM", cfg.LLM))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
