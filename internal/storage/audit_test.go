package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func TestAudit_AppendAndList(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	for i, action := range []string{"created", "locked", "committed"} {
		entry := &model.AuditEntry{
			EntityType: model.AuditEntityTransaction,
			EntityID:   "tx-1",
			Actor:      "alice",
			Action:     action,
			NewValue:   action,
		}
		require.NoError(t, store.AppendAudit(ctx, entry))
		assert.Equal(t, int64(i+1), entry.ID)
	}
	require.NoError(t, store.AppendAudit(ctx, &model.AuditEntry{
		EntityType: model.AuditEntityEntity, EntityID: "Acme", Actor: "bob", Action: "created",
	}))

	all, err := store.ListAudit(ctx, model.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	txn, err := store.ListAudit(ctx, model.AuditFilter{EntityType: model.AuditEntityTransaction, EntityID: "tx-1"})
	require.NoError(t, err)
	require.Len(t, txn, 3)
	assert.Equal(t, "created", txn[0].Action)
	assert.Equal(t, "committed", txn[2].Action)

	limited, err := store.ListAudit(ctx, model.AuditFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	future := time.Now().Add(time.Hour)
	none, err := store.ListAudit(ctx, model.AuditFilter{Since: &future})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAudit_IsAppendOnly(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	require.NoError(t, store.AppendAudit(ctx, &model.AuditEntry{
		EntityType: model.AuditEntityTransaction, EntityID: "tx-1", Actor: "alice", Action: "created",
	}))

	_, err := store.db.ExecContext(ctx, `UPDATE audit_log SET actor = 'mallory'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = store.db.ExecContext(ctx, `DELETE FROM audit_log`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	entries, err := store.ListAudit(ctx, model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Actor)
}

func TestAudit_Validation(t *testing.T) {
	store := createTestStorage(t)
	err := store.AppendAudit(context.Background(), &model.AuditEntry{EntityType: "transaction"})
	assert.ErrorIs(t, err, ErrInvalidAuditEntry)
}
