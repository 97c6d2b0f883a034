package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/BaSui01/memeflow/types"
)

// MemoryStore is an in-memory feedback store for tests and evaluation.
type MemoryStore struct {
	approvals ApprovalChecker
	mu        sync.RWMutex
	entries   []Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(approvals ApprovalChecker) *MemoryStore {
	return &MemoryStore{approvals: approvals}
}

// Record implements Store.
func (s *MemoryStore) Record(ctx context.Context, entry *Entry) error {
	if err := validate(entry); err != nil {
		return err
	}
	if err := checkApproval(ctx, s.approvals, entry.ArtifactRef); err != nil {
		return err
	}
	fill(entry)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// SQLiteStore persists feedback entries through GORM.
type SQLiteStore struct {
	db        *gorm.DB
	approvals ApprovalChecker
}

// NewSQLiteStore creates a sqlite-backed store and migrates its table.
func NewSQLiteStore(db *gorm.DB, approvals ApprovalChecker) (*SQLiteStore, error) {
	if db == nil {
		return nil, types.NewError(types.ErrInternalError, "db cannot be nil")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, types.NewError(types.ErrInternalError, "feedback migration failed").WithCause(err)
	}
	return &SQLiteStore{db: db, approvals: approvals}, nil
}

// Record implements Store.
func (s *SQLiteStore) Record(ctx context.Context, entry *Entry) error {
	if err := validate(entry); err != nil {
		return err
	}
	if err := checkApproval(ctx, s.approvals, entry.ArtifactRef); err != nil {
		return err
	}
	fill(entry)

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return types.NewError(types.ErrInternalError, "feedback append failed").WithCause(err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := s.db.WithContext(ctx).Order("submitted_at asc").Find(&entries).Error; err != nil {
		return nil, types.NewError(types.ErrInternalError, "feedback list failed").WithCause(err)
	}
	return entries, nil
}

func fill(entry *Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.SubmittedAt.IsZero() {
		entry.SubmittedAt = time.Now().UTC()
	}
}
