package generation

import "time"

// OpenAIConfig configures the OpenAI-compatible generation provider.
type OpenAIConfig struct {
	APIKey     string        `json:"api_key" yaml:"api_key"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	TextModel  string        `json:"text_model,omitempty" yaml:"text_model,omitempty"`
	ImageModel string        `json:"image_model,omitempty" yaml:"image_model,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultOpenAIConfig returns default OpenAI generation config.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:    "https://api.openai.com/v1",
		TextModel:  "gpt-4o-mini",
		ImageModel: "gpt-image-1",
		Timeout:    120 * time.Second,
	}
}
