package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// AppendAudit inserts entry and sets its ID. Rows are never updated or deleted;
// triggers abort any attempt.
func (s *SQLiteStorage) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAuditEntry(entry); err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (timestamp, entity_type, entity_id, actor, action, old_value, new_value, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.Timestamp.UTC(), entry.EntityType, entry.EntityID, entry.Actor, entry.Action,
		entry.OldValue, entry.NewValue, entry.Reason)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read audit id: %w", err)
	}
	entry.ID = id
	return nil
}

// ListAudit returns matching entries in insertion order.
func (s *SQLiteStorage) ListAudit(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT id, timestamp, entity_type, entity_id, actor, action, old_value, new_value, reason FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EntityType, &e.EntityID, &e.Actor,
			&e.Action, &e.OldValue, &e.NewValue, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
