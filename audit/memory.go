package audit

import (
	"context"
	"sync"

	"github.com/BaSui01/memeflow/types"
)

// MemoryLog is an in-memory audit log. Used by tests and the offline
// evaluator; production deployments use the sqlite-backed log.
type MemoryLog struct {
	mu      sync.RWMutex
	records []Record
	byID    map[string]int
}

// NewMemoryLog creates an empty in-memory audit log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{byID: make(map[string]int)}
}

// Append stores a copy of the record.
func (l *MemoryLog) Append(_ context.Context, rec *Record) error {
	if rec == nil {
		return types.NewError(types.ErrInternalError, "nil audit record")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byID[rec.RequestID] = len(l.records)
	l.records = append(l.records, *rec)
	return nil
}

// HasApproval implements Log.
func (l *MemoryLog) HasApproval(_ context.Context, requestID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.byID[requestID]
	if !ok {
		return false, nil
	}
	return l.records[idx].Outcome == OutcomeApproved, nil
}

// Records returns a snapshot of all appended records in order.
func (l *MemoryLog) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}
