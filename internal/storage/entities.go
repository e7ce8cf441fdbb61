package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// SaveEntity inserts or updates an entity. Names compare case-insensitively.
func (s *SQLiteStorage) SaveEntity(ctx context.Context, entity *model.Entity) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEntity(entity); err != nil {
		return err
	}
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now().UTC()
	}
	if entity.Type == "" {
		entity.Type = model.EntityOther
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (name, type, gstin, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			type = excluded.type,
			gstin = CASE WHEN excluded.gstin != '' THEN excluded.gstin ELSE entities.gstin END
	`, strings.TrimSpace(entity.Name), string(entity.Type), entity.GSTIN, entity.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save entity: %w", err)
	}
	return nil
}

// GetEntity returns the entity named name, or common.ErrNotFound.
func (s *SQLiteStorage) GetEntity(ctx context.Context, name string) (*model.Entity, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	var (
		entity     model.Entity
		entityType string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, type, gstin, created_at FROM entities WHERE name = ?
	`, strings.TrimSpace(name)).Scan(&entity.Name, &entityType, &entity.GSTIN, &entity.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s: %w", name, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	entity.Type = model.ParseEntityType(entityType)
	return &entity, nil
}

// ListEntities returns all entities ordered by name.
func (s *SQLiteStorage) ListEntities(ctx context.Context) ([]model.Entity, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, type, gstin, created_at FROM entities ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entities []model.Entity
	for rows.Next() {
		var (
			entity     model.Entity
			entityType string
		)
		if err := rows.Scan(&entity.Name, &entityType, &entity.GSTIN, &entity.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entity.Type = model.ParseEntityType(entityType)
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// SaveHistory stores amount observations, skipping exact duplicates.
// It returns how many records were new.
func (s *SQLiteStorage) SaveHistory(ctx context.Context, records []model.HistoryRecord) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO entity_history (entity, date, amount, source)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare history insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for i, record := range records {
		if strings.TrimSpace(record.Entity) == "" {
			return 0, fmt.Errorf("history record %d: %w", i, ErrInvalidEntity)
		}
		result, err := stmt.ExecContext(ctx, strings.TrimSpace(record.Entity), record.Date.UTC(),
			record.Amount.Abs().String(), record.Source)
		if err != nil {
			return 0, fmt.Errorf("failed to insert history record %d: %w", i, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit history: %w", err)
	}
	return inserted, nil
}

// AverageAmount returns the mean historical amount for entity and the sample size.
func (s *SQLiteStorage) AverageAmount(ctx context.Context, entity string) (decimal.Decimal, int, error) {
	if err := validateContext(ctx); err != nil {
		return decimal.Zero, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT amount FROM entity_history WHERE entity = ?`, strings.TrimSpace(entity))
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	total := decimal.Zero
	count := 0
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, 0, fmt.Errorf("failed to scan amount: %w", err)
		}
		total = total.Add(amount)
		count++
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, 0, err
	}
	if count == 0 {
		return decimal.Zero, 0, nil
	}
	return total.Div(decimal.NewFromInt(int64(count))), count, nil
}
