package config

const (
	defaultConfigPath              = "~/.config/sermonflow/config.toml"
	defaultDataDir                 = "~/.local/share/sermonflow"
	defaultLogDir                  = "~/.local/share/sermonflow/logs"
	defaultAPIBind                 = "127.0.0.1:7490"
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultStrategy                = "ai"
	defaultMaxReserveAttempts      = 3
	defaultAITimeoutSeconds        = 20
	defaultMaxRetries              = 3
	defaultSkillWeight             = 0.6
	defaultWorkloadWeight          = 0.25
	defaultAvailabilityWeight      = 0.15
	defaultVeteranThreshold        = 100
	defaultVeteranDiscount         = 0.9
	defaultReconcileIntervalSecond = 60
	defaultStaleTaskMinutes        = 120
	defaultLLMBaseURL              = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel                = "google/gemini-3-flash-preview"
	defaultLLMReferer              = "https://github.com/sermonflow/sermonflow"
	defaultLLMTitle                = "sermonflow task matcher"
	defaultLLMTimeoutSeconds       = 15
	defaultDispatchTimeoutSeconds  = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Assignment: Assignment{
			DefaultStrategy:    defaultStrategy,
			MaxReserveAttempts: defaultMaxReserveAttempts,
			AITimeoutSeconds:   defaultAITimeoutSeconds,
			DefaultMaxRetries:  defaultMaxRetries,
		},
		Scoring: Scoring{
			SkillWeight:        defaultSkillWeight,
			WorkloadWeight:     defaultWorkloadWeight,
			AvailabilityWeight: defaultAvailabilityWeight,
			VeteranThreshold:   defaultVeteranThreshold,
			VeteranDiscount:    defaultVeteranDiscount,
		},
		Reconciliation: Reconciliation{
			Enabled:          true,
			IntervalSeconds:  defaultReconcileIntervalSecond,
			StaleTaskMinutes: defaultStaleTaskMinutes,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Dispatch: Dispatch{
			TimeoutSeconds: defaultDispatchTimeoutSeconds,
		},
	}
}
