package audit

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/BaSui01/memeflow/types"
)

// SQLiteLog persists audit records through GORM. Appends are single-row
// inserts, so concurrent writers need no coordination beyond the
// database itself.
type SQLiteLog struct {
	db *gorm.DB
}

// NewSQLiteLog creates a sqlite-backed audit log and migrates its table.
func NewSQLiteLog(db *gorm.DB) (*SQLiteLog, error) {
	if db == nil {
		return nil, types.NewError(types.ErrInternalError, "db cannot be nil")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, types.NewError(types.ErrInternalError, "audit migration failed").WithCause(err)
	}
	return &SQLiteLog{db: db}, nil
}

// Append inserts the record. Inserts only: the table carries no update
// or delete path.
func (l *SQLiteLog) Append(ctx context.Context, rec *Record) error {
	if rec == nil {
		return types.NewError(types.ErrInternalError, "nil audit record")
	}
	if err := l.db.WithContext(ctx).Create(rec).Error; err != nil {
		return types.NewError(types.ErrInternalError, "audit append failed").WithCause(err)
	}
	return nil
}

// HasApproval implements Log.
func (l *SQLiteLog) HasApproval(ctx context.Context, requestID string) (bool, error) {
	var rec Record
	err := l.db.WithContext(ctx).
		Select("request_id", "outcome").
		Where("request_id = ?", requestID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, types.NewError(types.ErrInternalError, "audit lookup failed").WithCause(err)
	}
	return rec.Outcome == OutcomeApproved, nil
}
