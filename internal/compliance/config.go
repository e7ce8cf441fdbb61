package compliance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds statutory thresholds. Amounts are in rupees.
type Config struct {
	BooksLockDate        *time.Time
	AllowedGSTRates      []decimal.Decimal
	CashReceiptLimit     decimal.Decimal
	CashPaymentLimit     decimal.Decimal
	TDSThreshold         decimal.Decimal
	GSTRegistrationLimit decimal.Decimal
	HighValueThreshold   decimal.Decimal
	GSTRegistered        bool
	FiscalYearStartMonth time.Month
}

// DefaultConfig returns the thresholds in force for a small Indian business.
func DefaultConfig() Config {
	return Config{
		AllowedGSTRates:      []decimal.Decimal{decimal.NewFromInt(0), decimal.NewFromInt(5), decimal.NewFromInt(12), decimal.NewFromInt(18), decimal.NewFromInt(28)},
		CashReceiptLimit:     decimal.NewFromInt(2_00_000),
		CashPaymentLimit:     decimal.NewFromInt(10_000),
		TDSThreshold:         decimal.NewFromInt(30_000),
		GSTRegistrationLimit: decimal.NewFromInt(40_00_000),
		HighValueThreshold:   decimal.NewFromInt(10_00_000),
		FiscalYearStartMonth: time.April,
	}
}

// FiscalYearStart returns the first day of the fiscal year containing t.
func (c Config) FiscalYearStart(t time.Time) time.Time {
	month := c.FiscalYearStartMonth
	if month < time.January || month > time.December {
		month = time.April
	}
	year := t.Year()
	if t.Month() < month {
		year--
	}
	return time.Date(year, month, 1, 0, 0, 0, 0, t.Location())
}
