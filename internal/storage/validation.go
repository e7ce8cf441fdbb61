// Package storage provides the SQLite persistence layer for transactions, previews,
// the audit log and known entities.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidPreview     = errors.New("invalid preview")
	ErrInvalidEntity      = errors.New("invalid entity")
	ErrInvalidAuditEntry  = errors.New("invalid audit entry")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if !txn.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransaction, txn.Status)
	}
	if txn.LockKey == "" {
		return fmt.Errorf("%w: missing lock key", ErrInvalidTransaction)
	}
	return nil
}

func validatePreview(preview *model.Preview) error {
	if preview == nil {
		return fmt.Errorf("%w: preview", ErrNilParameter)
	}
	if preview.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidPreview)
	}
	if preview.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: missing expiry", ErrInvalidPreview)
	}
	return nil
}

func validateEntity(entity *model.Entity) error {
	if entity == nil {
		return fmt.Errorf("%w: entity", ErrNilParameter)
	}
	if strings.TrimSpace(entity.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidEntity)
	}
	return nil
}

func validateAuditEntry(entry *model.AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: audit entry", ErrNilParameter)
	}
	if entry.EntityType == "" || entry.EntityID == "" || entry.Action == "" {
		return fmt.Errorf("%w: entity type, entity id and action are required", ErrInvalidAuditEntry)
	}
	return nil
}
