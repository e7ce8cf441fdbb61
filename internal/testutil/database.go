// Package testutil builds migrated in-memory databases seeded with ledger
// entities and amount history.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
)

// TestDB is a migrated in-memory database closed when the test ends.
type TestDB struct {
	Storage  *storage.SQLiteStorage
	t        *testing.T
	Entities []model.Entity
}

// Option seeds a TestDB.
type Option func(*seed)

type seed struct {
	entities []model.Entity
	history  []model.HistoryRecord
}

// WithEntities seeds entities, in order.
func WithEntities(entities ...model.Entity) Option {
	return func(s *seed) { s.entities = append(s.entities, entities...) }
}

// WithHistory seeds amount history.
func WithHistory(records ...model.HistoryRecord) Option {
	return func(s *seed) { s.history = append(s.history, records...) }
}

// SetupTestDB creates the database and applies opts.
//
// Example:
//
//	db := testutil.SetupTestDB(t,
//		testutil.WithEntities(testutil.AcmeCorp, testutil.AcmeTraders),
//	)
func SetupTestDB(t *testing.T, opts ...Option) *TestDB {
	t.Helper()

	var s seed
	for _, opt := range opts {
		opt(&s)
	}

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	for i := range s.entities {
		if err := store.SaveEntity(ctx, &s.entities[i]); err != nil {
			t.Fatalf("failed to seed entity %q: %v", s.entities[i].Name, err)
		}
	}
	if len(s.history) > 0 {
		if _, err := store.SaveHistory(ctx, s.history); err != nil {
			t.Fatalf("failed to seed history: %v", err)
		}
	}

	return &TestDB{Storage: store, Entities: s.entities, t: t}
}

// MustGetEntity returns the stored entity called name or fails the test.
func (db *TestDB) MustGetEntity(name string) *model.Entity {
	db.t.Helper()
	entity, err := db.Storage.GetEntity(context.Background(), name)
	if err != nil {
		db.t.Fatalf("entity %q not found: %v", name, err)
	}
	return entity
}
