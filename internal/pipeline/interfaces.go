package pipeline

import (
	"context"

	"github.com/Veraticus/the-books-must-balance/internal/compliance"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// SafetyChecker screens raw text.
type SafetyChecker interface {
	Check(ctx context.Context, text string) error
}

// Classifier maps text to an intent. It never fails.
type Classifier interface {
	Classify(ctx context.Context, text string) model.Classification
}

// Extractor pulls typed parameters out of text. It never fails.
type Extractor interface {
	Extract(ctx context.Context, text string, intent model.Intent) *model.ParameterSet
}

// FactSource gathers the context the rule table needs.
type FactSource interface {
	Load(ctx context.Context, params *model.ParameterSet, intent model.Intent) (compliance.Facts, error)
}

// RuleValidator runs the compliance rule table.
type RuleValidator interface {
	Validate(params *model.ParameterSet, intent model.Intent, facts compliance.Facts) model.ValidationResult
}

// DocumentGenerator drafts a voucher.
type DocumentGenerator interface {
	Generate(ctx context.Context, params *model.ParameterSet, intent model.Intent) (*model.Document, error)
}

// TransactionExecutor runs approved documents through the guarded write.
type TransactionExecutor interface {
	Begin(ctx context.Context, id, actor string, doc model.Document) (*model.Transaction, error)
	Execute(ctx context.Context, id, actor string) (*model.Transaction, error)
}

// EntityWriter adds known counterparties.
type EntityWriter interface {
	SaveEntity(ctx context.Context, entity *model.Entity) error
}

// LedgerReader reads the external ledger.
type LedgerReader interface {
	Read(ctx context.Context, query model.LedgerQuery) (*model.LedgerState, error)
}

// AuditRecorder appends audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry model.AuditEntry) error
}

// Invalidator drops a cache so the next lookup reloads it.
type Invalidator interface {
	Invalidate()
}
