// Package pipeline orchestrates the generation-and-moderation flow:
// validation, prompt construction, generation with retry, moderation
// with retry, policy decision, audit record, result. Rejection is a
// normal result here, not an error; errors mean the pipeline itself
// could not complete.
package pipeline

import (
	"strings"

	"github.com/BaSui01/memeflow/policy"
	"github.com/BaSui01/memeflow/types"
)

// Mood is the requested tone of the meme.
type Mood string

const (
	MoodFunny        Mood = "funny"
	MoodSarcastic    Mood = "sarcastic"
	MoodWholesome    Mood = "wholesome"
	MoodMotivational Mood = "motivational"
	MoodRelatable    Mood = "relatable"
	MoodAngry        Mood = "angry"
)

// Valid reports whether the mood is one of the enumerated set.
func (m Mood) Valid() bool {
	switch m {
	case MoodFunny, MoodSarcastic, MoodWholesome, MoodMotivational, MoodRelatable, MoodAngry:
		return true
	}
	return false
}

// MaxTopicLength bounds the user-supplied topic.
const MaxTopicLength = 200

// Request is one immutable generation request.
type Request struct {
	Topic     string `json:"topic"`
	Mood      Mood   `json:"mood"`
	WantImage bool   `json:"want_image"`
	WantText  bool   `json:"want_text"`
}

// Validate enforces the request invariants. No network call happens
// before this passes.
func (r *Request) Validate() error {
	topic := strings.TrimSpace(r.Topic)
	if topic == "" {
		return types.NewError(types.ErrInvalidRequest, "topic must not be empty")
	}
	if len(topic) > MaxTopicLength {
		return types.NewError(types.ErrInvalidRequest, "topic exceeds maximum length")
	}
	if !r.Mood.Valid() {
		return types.NewError(types.ErrInvalidRequest, "unknown mood")
	}
	if !r.WantImage && !r.WantText {
		return types.NewError(types.ErrInvalidRequest, "at least one of text or image must be requested")
	}
	return nil
}

// Artifacts is the approved content returned to the caller.
type Artifacts struct {
	Text     string `json:"text,omitempty"`
	ImageRef string `json:"image_ref,omitempty"`
}

// RejectionNotice is the generic user-facing safety message. It never
// names the triggering category, so the filter cannot be probed through
// its own responses.
const RejectionNotice = "The generated content did not pass our safety checks. Please try a different topic."

// Result is the terminal outcome of one pipeline run. Artifacts is nil
// unless the decision approved the content.
type Result struct {
	RequestID string          `json:"request_id"`
	Approved  bool            `json:"approved"`
	Artifacts *Artifacts      `json:"artifacts,omitempty"`
	Rejection string          `json:"rejection_reason,omitempty"`
	Decision  policy.Decision `json:"-"`
}
