package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// SavePreview stores a new preview.
func (s *SQLiteStorage) SavePreview(ctx context.Context, preview *model.Preview) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePreview(preview); err != nil {
		return err
	}

	document, err := json.Marshal(preview.Document)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	issues, err := json.Marshal(preview.Issues)
	if err != nil {
		return fmt.Errorf("failed to encode issues: %w", err)
	}

	status := preview.Status
	if status == "" {
		status = model.PreviewPending
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO previews (id, caller_id, intent, status, risk, confirmation, document, issues, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, preview.ID, preview.CallerID, preview.Intent.String(), string(status), string(preview.Risk),
		string(preview.Confirmation), string(document), string(issues),
		preview.CreatedAt.UTC(), preview.ExpiresAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("preview %s: %w", preview.ID, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert preview: %w", err)
	}
	return nil
}

// GetPreview returns the preview with id, or common.ErrNotFound.
func (s *SQLiteStorage) GetPreview(ctx context.Context, id string) (*model.Preview, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	var (
		preview      model.Preview
		intent       string
		status       string
		risk         string
		confirmation string
		document     string
		issues       string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, caller_id, intent, status, risk, confirmation, document, issues, created_at, expires_at
		FROM previews WHERE id = ?
	`, id).Scan(&preview.ID, &preview.CallerID, &intent, &status, &risk, &confirmation,
		&document, &issues, &preview.CreatedAt, &preview.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("preview %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preview: %w", err)
	}

	if preview.Intent, err = model.ParseIntent(intent); err != nil {
		return nil, fmt.Errorf("preview %s: %w", id, err)
	}
	preview.Status = model.PreviewStatus(status)
	preview.Risk = model.RiskLevel(risk)
	preview.Confirmation = model.Confirmation(confirmation)
	if err := json.Unmarshal([]byte(document), &preview.Document); err != nil {
		return nil, fmt.Errorf("failed to decode preview document: %w", err)
	}
	if err := json.Unmarshal([]byte(issues), &preview.Issues); err != nil {
		return nil, fmt.Errorf("failed to decode preview issues: %w", err)
	}
	return &preview, nil
}

// UpdatePreviewStatus changes status only if the preview is still in from.
func (s *SQLiteStorage) UpdatePreviewStatus(ctx context.Context, id string, from, to model.PreviewStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE previews SET status = ? WHERE id = ? AND status = ?`, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update preview: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check preview update: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM previews WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("preview %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read preview: %w", err)
	}
	return fmt.Errorf("preview %s is no longer %s: %w", id, from, common.ErrStaleState)
}
