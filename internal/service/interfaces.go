// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Ledger is the external, authoritative record of vouchers.
type Ledger interface {
	Write(ctx context.Context, doc model.Document) (model.WriteAck, error)
	Read(ctx context.Context, query model.LedgerQuery) (*model.LedgerState, error)
	// Delete removes the voucher with the given document reference.
	Delete(ctx context.Context, reference string) error
	Ping(ctx context.Context) error
}

// TransactionUpdate carries the fields that change alongside a status transition.
// Nil fields are left untouched.
type TransactionUpdate struct {
	Backup      *model.Snapshot
	ExternalRef *string
	LastError   *string
	// AddRetries is added to the stored retry count.
	AddRetries int
}

// TransactionStore persists transactions. Status only changes through
// TransitionTransaction, which is a compare-and-swap on the current status.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, txn *model.Transaction) error
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	TransitionTransaction(ctx context.Context, id string, from, to model.TransactionStatus, update TransactionUpdate) error
	ListStaleTransactions(ctx context.Context, updatedBefore time.Time) ([]model.Transaction, error)
	SalesTurnover(ctx context.Context, since time.Time) (decimal.Decimal, error)
}

// PreviewStore persists previews awaiting approval.
type PreviewStore interface {
	SavePreview(ctx context.Context, preview *model.Preview) error
	GetPreview(ctx context.Context, id string) (*model.Preview, error)
	UpdatePreviewStatus(ctx context.Context, id string, from, to model.PreviewStatus) error
}

// AuditStore is append-only.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *model.AuditEntry) error
	ListAudit(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error)
}

// EntityStore holds known counterparties and their amount history.
type EntityStore interface {
	SaveEntity(ctx context.Context, entity *model.Entity) error
	GetEntity(ctx context.Context, name string) (*model.Entity, error)
	ListEntities(ctx context.Context) ([]model.Entity, error)
	SaveHistory(ctx context.Context, records []model.HistoryRecord) (int, error)
	AverageAmount(ctx context.Context, entity string) (decimal.Decimal, int, error)
}

// Storage is everything the application persists locally.
type Storage interface {
	TransactionStore
	PreviewStore
	AuditStore
	EntityStore
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
