package testutil

import (
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/shopspring/decimal"
)

// Entities shared across tests. The two Acme names are close enough to be
// ambiguous for the resolver.
var (
	AcmeCorp         = model.Entity{Name: "Acme Corp", Type: model.EntityCustomer, GSTIN: "27AAPFU0939F1ZV"}
	AcmeTraders      = model.Entity{Name: "Acme Traders", Type: model.EntityCustomer}
	SharmaStationers = model.Entity{Name: "Sharma Stationers", Type: model.EntitySupplier}
	GuptaTraders     = model.Entity{Name: "Gupta Traders", Type: model.EntitySupplier}
	KumarConsultants = model.Entity{Name: "Kumar Consultants", Type: model.EntityProfessional}
)

// Named returns entities of type other with the given names.
func Named(names ...string) []model.Entity {
	out := make([]model.Entity, len(names))
	for i, n := range names {
		out[i] = model.Entity{Name: n, Type: model.EntityOther}
	}
	return out
}

// History returns one record per amount for entity, a day apart, ending today.
func History(entity string, amounts ...int64) []model.HistoryRecord {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	out := make([]model.HistoryRecord, len(amounts))
	for i, a := range amounts {
		out[i] = model.HistoryRecord{
			Entity: entity,
			Date:   today.AddDate(0, 0, i-len(amounts)+1),
			Amount: decimal.NewFromInt(a),
			Source: "fixture",
		}
	}
	return out
}
