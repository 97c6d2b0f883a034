// Package feedback ingests user-submitted flags on approved artifacts.
// Entries are append-only and feed the offline evaluator; they never
// influence a live pipeline decision.
package feedback

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/memeflow/types"
)

// ReasonCode classifies why a user flagged an artifact.
type ReasonCode string

const (
	ReasonInappropriate ReasonCode = "inappropriate"
	ReasonOffensive     ReasonCode = "offensive"
	ReasonInaccurate    ReasonCode = "inaccurate"
	ReasonLowQuality    ReasonCode = "low_quality"
	ReasonOther         ReasonCode = "other"
)

// Valid reports whether the reason code is one of the enumerated set.
func (r ReasonCode) Valid() bool {
	switch r {
	case ReasonInappropriate, ReasonOffensive, ReasonInaccurate, ReasonLowQuality, ReasonOther:
		return true
	}
	return false
}

// MaxCommentLength bounds the optional free-text comment.
const MaxCommentLength = 500

// Entry is one user flag, immutable once stored.
type Entry struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	ArtifactRef string     `json:"artifact_ref" gorm:"index"`
	ReasonCode  ReasonCode `json:"reason_code"`
	Comment     string     `json:"comment,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
}

// TableName sets the table used by the GORM-backed store.
func (Entry) TableName() string { return "feedback_entries" }

// ApprovalChecker reports whether a prior approved decision exists for
// an artifact reference. The audit log satisfies this interface.
type ApprovalChecker interface {
	HasApproval(ctx context.Context, requestID string) (bool, error)
}

// Store is the append-only feedback sink.
type Store interface {
	// Record validates and appends an entry. Entries referencing an
	// artifact with no prior approved decision fail with
	// UNKNOWN_ARTIFACT: rejected content is never shown, so it cannot
	// be flagged.
	Record(ctx context.Context, entry *Entry) error

	// List returns all entries, oldest first, for offline evaluation.
	List(ctx context.Context) ([]Entry, error)
}

// validate applies the structural entry rules shared by all stores.
func validate(entry *Entry) error {
	if entry == nil {
		return types.NewError(types.ErrInvalidRequest, "nil feedback entry")
	}
	if strings.TrimSpace(entry.ArtifactRef) == "" {
		return types.NewError(types.ErrInvalidRequest, "artifact reference is required")
	}
	if !entry.ReasonCode.Valid() {
		return types.NewError(types.ErrInvalidRequest, "unknown reason code")
	}
	if len(entry.Comment) > MaxCommentLength {
		return types.NewError(types.ErrInvalidRequest, "comment exceeds maximum length")
	}
	return nil
}

// checkApproval enforces the prior-approval rule through the checker.
func checkApproval(ctx context.Context, checker ApprovalChecker, ref string) error {
	ok, err := checker.HasApproval(ctx, ref)
	if err != nil {
		return types.NewError(types.ErrInternalError, "approval lookup failed").WithCause(err)
	}
	if !ok {
		return types.NewError(types.ErrUnknownArtifact, "no approved artifact for reference")
	}
	return nil
}
