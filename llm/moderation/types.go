// Package moderation provides content moderation for generated
// artifacts via a remote content safety service.
package moderation

import (
	"context"
	"time"

	"github.com/BaSui01/memeflow/llm/generation"
)

// Severity bounds of the remote classifier. Higher is more severe.
const (
	SeverityMin = 0
	SeverityMax = 6
)

// Well-known category names. The remote service may add categories at
// any time; Verdict keeps them as an open string-keyed map and the
// policy layer iterates it generically.
const (
	CategoryHate     = "hate"
	CategorySelfHarm = "self_harm"
	CategorySexual   = "sexual"
	CategoryViolence = "violence"
)

// Verdict is the normalized moderation result for one artifact.
type Verdict struct {
	Categories map[string]int `json:"categories"` // category name -> severity 0-6
	Provider   string         `json:"provider"`
	AnalyzedAt time.Time      `json:"analyzed_at"`
}

// MaxSeverity returns the highest severity across all categories.
func (v *Verdict) MaxSeverity() int {
	max := 0
	for _, s := range v.Categories {
		if s > max {
			max = s
		}
	}
	return max
}

// Merge folds another verdict into this one, keeping the maximum
// severity per category. Used when an image artifact and its source
// prompt are analyzed separately.
func (v *Verdict) Merge(other *Verdict) {
	if other == nil {
		return
	}
	for cat, s := range other.Categories {
		if s > v.Categories[cat] {
			v.Categories[cat] = s
		}
	}
}

// Provider defines the interface for a remote moderation service.
// Implementations perform a single attempt; retries are the pipeline's
// responsibility.
type Provider interface {
	Name() string

	// Analyze moderates a generated artifact. For image artifacts the
	// source prompt is analyzed in addition to the image payload, so an
	// unsafe prompt surfaces even when the rendered image looks benign.
	Analyze(ctx context.Context, artifact *generation.Artifact) (*Verdict, error)
}
