// Package generation provides typed clients for the remote generative
// services that produce meme text and images.
package generation

import (
	"context"
	"time"
)

// Kind identifies the artifact type a request produces.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Request represents a single generation attempt.
type Request struct {
	Kind         Kind   `json:"kind"`
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"system_prompt,omitempty"` // text generation only
	Model        string `json:"model,omitempty"`

	// Text generation parameters
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`

	// Image generation parameters
	Size    string `json:"size,omitempty"`    // 1024x1024 etc.
	Quality string `json:"quality,omitempty"` // high, medium, low
}

// Artifact is one generated output. Exactly one of Text or
// ImageURL/ImageB64 is populated depending on Kind.
type Artifact struct {
	Kind         Kind      `json:"kind"`
	Text         string    `json:"text,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	ImageB64     string    `json:"image_b64,omitempty"`
	SourcePrompt string    `json:"source_prompt"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
}

// Payload returns the content that downstream moderation analyzes:
// the text body for text artifacts, the image handle for images.
func (a *Artifact) Payload() string {
	if a.Kind == KindText {
		return a.Text
	}
	if a.ImageB64 != "" {
		return a.ImageB64
	}
	return a.ImageURL
}

// Provider defines the interface for a remote generation service.
// Implementations perform a single attempt; retries belong to the
// pipeline, not to the client.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *Request) (*Artifact, error)
}
