package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeAssignment()
	c.normalizeLLM()
	c.Dispatch.Endpoint = strings.TrimSpace(c.Dispatch.Endpoint)
	c.Dispatch.Token = strings.TrimSpace(c.Dispatch.Token)
	if c.Dispatch.TimeoutSeconds <= 0 {
		c.Dispatch.TimeoutSeconds = defaultDispatchTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("SERMONFLOW_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	if c.Skills.CatalogPath = strings.TrimSpace(c.Skills.CatalogPath); c.Skills.CatalogPath != "" {
		if c.Skills.CatalogPath, err = expandPath(c.Skills.CatalogPath); err != nil {
			return fmt.Errorf("skills.catalog_path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeAssignment() {
	c.Assignment.DefaultStrategy = strings.ToLower(strings.TrimSpace(c.Assignment.DefaultStrategy))
	if c.Assignment.DefaultStrategy == "" {
		c.Assignment.DefaultStrategy = defaultStrategy
	}
	if c.Assignment.MaxReserveAttempts <= 0 {
		c.Assignment.MaxReserveAttempts = defaultMaxReserveAttempts
	}
	if c.Assignment.AITimeoutSeconds <= 0 {
		c.Assignment.AITimeoutSeconds = defaultAITimeoutSeconds
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}
