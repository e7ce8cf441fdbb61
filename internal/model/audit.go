package model

import "time"

// Audit entity types.
const (
	AuditEntityTransaction = "transaction"
	AuditEntityPreview     = "preview"
	AuditEntityEntity      = "entity"
	AuditEntitySecurity    = "security_event"
)

// AuditEntry is an append-only record of who changed what, when, and why.
// Once written it is never mutated or deleted.
type AuditEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	OldValue   string    `json:"old_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ID         int64     `json:"id"`
}

// AuditFilter narrows an audit listing. Zero values match everything.
type AuditFilter struct {
	Since      *time.Time
	EntityType string
	EntityID   string
	Limit      int
}
