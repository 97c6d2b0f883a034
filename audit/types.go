// Package audit provides the append-only record of every pipeline
// decision. Records are written once and never updated; the log is the
// compliance trail, independent of user feedback.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Outcome values stored on records. Mirrors the policy outcomes but
// kept as plain strings so the storage layer stays decoupled.
const (
	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
)

// Record captures one pipeline decision. For rejected artifacts the
// summary carries no raw content, only the kind; raw user input is not
// retained either, the fingerprint correlates records instead.
type Record struct {
	RequestID   string `json:"request_id" gorm:"primaryKey"`
	Fingerprint string `json:"fingerprint" gorm:"index"`

	Outcome          string   `json:"outcome" gorm:"index"`
	ReasonCategories []string `json:"reason_categories,omitempty" gorm:"serializer:json"`
	Threshold        int      `json:"threshold"`

	ArtifactKind    string `json:"artifact_kind,omitempty"`
	ArtifactSummary string `json:"artifact_summary,omitempty"`

	GenerateMs int64 `json:"generate_ms"`
	ModerateMs int64 `json:"moderate_ms"`
	TotalMs    int64 `json:"total_ms"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName sets the table used by the GORM-backed log.
func (Record) TableName() string { return "audit_records" }

// Log is the append-only audit sink. Append must tolerate concurrent
// writers; each record is one atomic unit with no cross-record
// invariants.
type Log interface {
	Append(ctx context.Context, rec *Record) error

	// HasApproval reports whether an approved decision exists for the
	// given request ID. The feedback path uses this to refuse flags on
	// content that was never shown.
	HasApproval(ctx context.Context, requestID string) (bool, error)
}

// Fingerprint derives the request correlation identifier from topic,
// mood and the request timestamp, so audit and feedback records can be
// joined without storing raw user input long-term.
func Fingerprint(topic, mood string, at time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", topic, mood, at.UnixNano())))
	return hex.EncodeToString(sum[:])
}
