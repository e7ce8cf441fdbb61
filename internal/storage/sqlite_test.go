package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// createTestStorage opens a migrated in-memory database.
func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testDocument(ref string, voucherType model.VoucherType, amount int64, date time.Time) model.Document {
	amt := decimal.NewFromInt(amount)
	return model.Document{
		Reference:    ref,
		VoucherType:  voucherType,
		Date:         date,
		Counterparty: "HDFC Bank",
		Amount:       amt,
		Narration:    "test",
		Entries:      []model.Entry{{Ledger: "Bank", Debit: amt}, {Ledger: "HDFC Bank", Credit: amt}},
	}
}

func TestNewSQLiteStorage_File(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "books.db")

	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, store.Migrate(context.Background()), "migrate must be idempotent")

	version, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)
	assert.Equal(t, dbPath, store.Path())
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewSQLiteStorage_EmptyPath(t *testing.T) {
	_, err := NewSQLiteStorage("  ")
	assert.ErrorIs(t, err, ErrEmptyString)
}
