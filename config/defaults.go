package config

import (
	"fmt"

	"github.com/BaSui01/memeflow/internal/database"
	"github.com/BaSui01/memeflow/internal/server"
	"github.com/BaSui01/memeflow/llm/generation"
	"github.com/BaSui01/memeflow/llm/moderation"
	"github.com/BaSui01/memeflow/llm/retry"
	"github.com/BaSui01/memeflow/policy"
)

// DefaultConfig returns a configuration with every section defaulted.
func DefaultConfig() *Config {
	return &Config{
		Server:     server.DefaultConfig(),
		Database:   database.DefaultConfig(),
		Generation: generation.DefaultOpenAIConfig(),
		Moderation: moderation.DefaultContentSafetyConfig(),
		Policy:     policy.DefaultConfig(),
		Retry:      DefaultRetryConfig(),
		Log:        DefaultLogConfig(),
	}
}

// DefaultRetryConfig mirrors retry.DefaultPolicy.
func DefaultRetryConfig() RetryConfig {
	p := retry.DefaultPolicy()
	return RetryConfig{
		MaxRetries:   p.MaxRetries,
		InitialDelay: p.InitialDelay,
		MaxDelay:     p.MaxDelay,
		Multiplier:   p.Multiplier,
		Jitter:       p.Jitter,
	}
}

// DefaultLogConfig returns default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "json",
	}
}

// ValidateRanges checks that numeric settings are sane. Use it as a
// loader validator.
func ValidateRanges(cfg *Config) error {
	// The engine treats thresholds <= 0 as unset, so a configured 0
	// would silently run at the default. Refuse it here instead.
	if cfg.Policy.SeverityThreshold < moderation.SeverityMin+1 || cfg.Policy.SeverityThreshold > moderation.SeverityMax {
		return fmt.Errorf("policy.severity_threshold must be between %d and %d, got %d",
			moderation.SeverityMin+1, moderation.SeverityMax, cfg.Policy.SeverityThreshold)
	}
	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1, got %g", cfg.Retry.Multiplier)
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", cfg.Log.Format)
	}
	return nil
}

// RequireCredentials checks that upstream credentials are present. The
// server entrypoint uses it; offline evaluation does not.
func RequireCredentials(cfg *Config) error {
	if cfg.Generation.APIKey == "" {
		return fmt.Errorf("generation.api_key is required")
	}
	if cfg.Moderation.APIKey == "" {
		return fmt.Errorf("moderation.api_key is required")
	}
	if cfg.Moderation.Endpoint == "" {
		return fmt.Errorf("moderation.endpoint is required")
	}
	return nil
}
