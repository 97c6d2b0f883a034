package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func sampleRecord(id, outcome string) *Record {
	return &Record{
		RequestID:   id,
		Fingerprint: Fingerprint("coffee breaks", "funny", time.Now()),
		Outcome:     outcome,
		Threshold:   2,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestMemoryLog_AppendAndLookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log := NewMemoryLog()

	require.NoError(t, log.Append(ctx, sampleRecord("req-1", OutcomeApproved)))
	require.NoError(t, log.Append(ctx, sampleRecord("req-2", OutcomeRejected)))

	ok, err := log.HasApproval(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = log.HasApproval(ctx, "req-2")
	require.NoError(t, err)
	assert.False(t, ok, "rejected decisions are not approvals")

	ok, err = log.HasApproval(ctx, "req-missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Len(t, log.Records(), 2)
}

func TestMemoryLog_ConcurrentAppend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log := NewMemoryLog()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = log.Append(ctx, sampleRecord(fmt.Sprintf("req-%d", i), OutcomeApproved))
		}(i)
	}
	wg.Wait()

	assert.Len(t, log.Records(), 50)
}

func TestSQLiteLog_AppendAndLookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	log, err := NewSQLiteLog(testDB(t))
	require.NoError(t, err)

	rec := sampleRecord("req-1", OutcomeApproved)
	rec.ReasonCategories = nil
	rec.ArtifactKind = "text"
	rec.ArtifactSummary = "When the build passes first try"
	require.NoError(t, log.Append(ctx, rec))

	rejected := sampleRecord("req-2", OutcomeRejected)
	rejected.ReasonCategories = []string{"violence"}
	require.NoError(t, log.Append(ctx, rejected))

	ok, err := log.HasApproval(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = log.HasApproval(ctx, "req-2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = log.HasApproval(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFingerprint_Deterministic(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := Fingerprint("coffee breaks", "funny", at)
	b := Fingerprint("coffee breaks", "funny", at)
	c := Fingerprint("coffee breaks", "angry", at)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
