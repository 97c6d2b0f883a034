package moderation

import "time"

// ContentSafetyConfig configures the content safety moderation provider.
type ContentSafetyConfig struct {
	APIKey     string        `json:"api_key" yaml:"api_key"`
	Endpoint   string        `json:"endpoint" yaml:"endpoint"`
	APIVersion string        `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultContentSafetyConfig returns default content safety config.
func DefaultContentSafetyConfig() ContentSafetyConfig {
	return ContentSafetyConfig{
		APIVersion: "2024-09-01",
		Timeout:    30 * time.Second,
	}
}
