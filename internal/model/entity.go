package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityType classifies a counterparty; some types carry withholding obligations.
type EntityType string

// Entity types.
const (
	EntityCustomer     EntityType = "customer"
	EntitySupplier     EntityType = "supplier"
	EntityBank         EntityType = "bank"
	EntityContractor   EntityType = "contractor"
	EntityProfessional EntityType = "professional"
	EntityOther        EntityType = "other"
)

// ParseEntityType maps free text to an entity type, defaulting to other.
func ParseEntityType(s string) EntityType {
	switch EntityType(s) {
	case EntityCustomer, EntitySupplier, EntityBank, EntityContractor, EntityProfessional:
		return EntityType(s)
	default:
		return EntityOther
	}
}

// Entity is a known counterparty or account name.
type Entity struct {
	CreatedAt time.Time  `json:"created_at"`
	Name      string     `json:"name"`
	Type      EntityType `json:"type"`
	GSTIN     string     `json:"gstin,omitempty"`
}

// HistoryRecord is one historical amount observed for an entity.
type HistoryRecord struct {
	Date   time.Time       `json:"date"`
	Entity string          `json:"entity"`
	Source string          `json:"source"`
	Amount decimal.Decimal `json:"amount"`
}
