package model

import (
	"time"
)

// TransactionStatus is a state of the guarded write pipeline.
type TransactionStatus string

// Transaction states. COMMITTED, ROLLED_BACK and FAILED are terminal.
const (
	StatusInit       TransactionStatus = "INIT"
	StatusLocked     TransactionStatus = "LOCKED"
	StatusBackedUp   TransactionStatus = "BACKED_UP"
	StatusWritten    TransactionStatus = "WRITTEN"
	StatusVerified   TransactionStatus = "VERIFIED"
	StatusCommitted  TransactionStatus = "COMMITTED"
	StatusRolledBack TransactionStatus = "ROLLED_BACK"
	StatusFailed     TransactionStatus = "FAILED"
)

var forwardTransitions = map[TransactionStatus]TransactionStatus{
	StatusInit:     StatusLocked,
	StatusLocked:   StatusBackedUp,
	StatusBackedUp: StatusWritten,
	StatusWritten:  StatusVerified,
	StatusVerified: StatusCommitted,
}

// IsTerminal reports whether no further transitions are allowed.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCommitted || s == StatusRolledBack || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusInit, StatusLocked, StatusBackedUp, StatusWritten, StatusVerified,
		StatusCommitted, StatusRolledBack, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is a legal step of the state machine.
// ROLLED_BACK and FAILED are reachable from any non-terminal state.
func CanTransition(from, to TransactionStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusRolledBack || to == StatusFailed {
		return true
	}
	return forwardTransitions[from] == to
}

// Transaction is one guarded write attempt against the external ledger.
// Its ID is the caller-visible idempotency key.
type Transaction struct {
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Backup      *Snapshot         `json:"backup,omitempty"`
	ID          string            `json:"id"`
	Status      TransactionStatus `json:"status"`
	LockKey     string            `json:"lock_key"`
	ExternalRef string            `json:"external_ref,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	Actor       string            `json:"actor"`
	Payload     Document          `json:"payload"`
	RetryCount  int               `json:"retry_count"`
}
