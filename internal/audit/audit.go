// Package audit is the only writer of the append-only audit trail.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

// Logger records who changed what, when, and why.
type Logger struct {
	store  service.AuditStore
	now    func() time.Time
	logger *slog.Logger
}

// NewLogger creates an audit logger over store.
func NewLogger(store service.AuditStore, logger *slog.Logger) *Logger {
	return &Logger{store: store, now: time.Now, logger: common.OrDefault(logger)}
}

// Record appends entry, stamping the time when unset.
func (l *Logger) Record(ctx context.Context, entry model.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	if entry.Actor == "" {
		entry.Actor = "system"
	}
	if err := l.store.AppendAudit(ctx, &entry); err != nil {
		l.logger.Error("failed to write audit entry",
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"action", entry.Action,
			"error", err)
		return fmt.Errorf("append audit entry: %w", err)
	}
	l.logger.Debug("audit",
		"id", entry.ID,
		"entity_type", entry.EntityType,
		"entity_id", entry.EntityID,
		"action", entry.Action,
		"actor", entry.Actor)
	return nil
}

// List returns entries matching filter in the order they were written.
func (l *Logger) List(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	entries, err := l.store.ListAudit(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// Snapshot renders v as compact JSON for OldValue/NewValue. Encoding failures
// produce a placeholder rather than losing the entry.
func Snapshot(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<unencodable %T>", v)
	}
	return string(data)
}
