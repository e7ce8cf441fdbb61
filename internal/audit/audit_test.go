package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
	"github.com/Veraticus/the-books-must-balance/internal/testutil"
)

func newStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	return testutil.SetupTestDB(t).Storage
}

func TestLogger_RecordAndList(t *testing.T) {
	l := NewLogger(newStore(t), nil)
	fixed := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, model.AuditEntry{
		EntityType: model.AuditEntityTransaction,
		EntityID:   "tx-1",
		Action:     "status_change",
		OldValue:   "INIT",
		NewValue:   "LOCKED",
	}))

	entries, err := l.List(ctx, model.AuditFilter{EntityID: "tx-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "system", entries[0].Actor)
	assert.True(t, fixed.Equal(entries[0].Timestamp))
	assert.Equal(t, "LOCKED", entries[0].NewValue)
}

type failingStore struct{}

func (failingStore) AppendAudit(context.Context, *model.AuditEntry) error {
	return errors.New("disk full")
}

func (failingStore) ListAudit(context.Context, model.AuditFilter) ([]model.AuditEntry, error) {
	return nil, errors.New("disk full")
}

func TestLogger_PropagatesStoreErrors(t *testing.T) {
	l := NewLogger(failingStore{}, nil)

	err := l.Record(context.Background(), model.AuditEntry{EntityType: "x", EntityID: "y", Action: "z"})
	assert.ErrorContains(t, err, "disk full")

	_, err = l.List(context.Background(), model.AuditFilter{})
	assert.Error(t, err)
}

func TestSnapshot(t *testing.T) {
	assert.Equal(t, `{"a":1}`, Snapshot(map[string]int{"a": 1}))
	assert.Equal(t, "<unencodable chan int>", Snapshot(make(chan int)))
}
