// Package policy expresses the safety policy as data: a severity
// threshold applied uniformly over whatever categories the moderation
// service returns. It performs no I/O and holds no mutable state.
package policy

import (
	"sort"
	"time"

	"github.com/BaSui01/memeflow/llm/moderation"
)

// Outcome is the result of a policy decision.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// ReasonUpstreamPolicy marks decisions where the remote generator
// refused the prompt before any artifact existed.
const ReasonUpstreamPolicy = "upstream_policy"

// Config is the calibration surface of the policy engine.
type Config struct {
	// SeverityThreshold rejects any artifact with a category severity
	// at or above this value. Severity scale is 0-6; the usable range
	// is 1-6, since a threshold of 0 would reject every artifact
	// including fully clean ones. A zero or negative value means unset
	// and falls back to the default.
	SeverityThreshold int `json:"severity_threshold" yaml:"severity_threshold"`
}

// DefaultConfig returns the default policy configuration.
func DefaultConfig() Config {
	return Config{SeverityThreshold: 2}
}

// Decision is the immutable outcome of applying the policy to one
// moderation verdict.
type Decision struct {
	Outcome          Outcome   `json:"outcome"`
	ReasonCategories []string  `json:"reason_categories,omitempty"`
	Threshold        int       `json:"threshold"`
	Timestamp        time.Time `json:"timestamp"`
}

// Approved reports whether the decision allows the artifact.
func (d Decision) Approved() bool { return d.Outcome == OutcomeApproved }

// Engine applies the configured threshold to moderation verdicts.
// It is stateless and safe for concurrent use.
type Engine struct {
	cfg Config
	now func() time.Time
}

// NewEngine creates a policy engine with the given configuration.
func NewEngine(cfg Config) *Engine {
	if cfg.SeverityThreshold <= 0 {
		cfg.SeverityThreshold = DefaultConfig().SeverityThreshold
	}
	return &Engine{cfg: cfg, now: time.Now}
}

// WithClock overrides the decision timestamp source. Tests use this to
// pin timestamps; production code never calls it.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Threshold returns the active severity threshold.
func (e *Engine) Threshold() int { return e.cfg.SeverityThreshold }

// Decide derives a Decision from a moderation verdict. Every category
// at or above the threshold is listed in ReasonCategories (sorted); an
// empty list means approval. The verdict is iterated generically so
// categories added by the remote service are enforced without code
// changes.
func (e *Engine) Decide(verdict *moderation.Verdict) Decision {
	var breaching []string
	for cat, severity := range verdict.Categories {
		if severity >= e.cfg.SeverityThreshold {
			breaching = append(breaching, cat)
		}
	}
	sort.Strings(breaching)

	outcome := OutcomeApproved
	if len(breaching) > 0 {
		outcome = OutcomeRejected
	}

	return Decision{
		Outcome:          outcome,
		ReasonCategories: breaching,
		Threshold:        e.cfg.SeverityThreshold,
		Timestamp:        e.now(),
	}
}

// RejectUpstream produces the rejected Decision used when the remote
// generator refuses a prompt outright. No moderation verdict exists in
// that case; the refusal itself is the reason.
func (e *Engine) RejectUpstream() Decision {
	return Decision{
		Outcome:          OutcomeRejected,
		ReasonCategories: []string{ReasonUpstreamPolicy},
		Threshold:        e.cfg.SeverityThreshold,
		Timestamp:        e.now(),
	}
}
