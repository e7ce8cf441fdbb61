// Package ledger implements the external ledger the transaction manager writes to.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

// Ledger errors.
var (
	// ErrRejected means the ledger refused the write. Retrying the same payload will not help.
	ErrRejected = errors.New("ledger rejected write")
	// ErrUncertain means the request reached the ledger but its outcome is unknown.
	ErrUncertain = errors.New("ledger write outcome unknown")
)

// RejectedError carries the ledger's reason for a rejection.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrRejected, e.Reason)
}

// Is makes errors.Is(err, ErrRejected) true for any rejection.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

func reject(format string, args ...any) error {
	return &RejectedError{Reason: fmt.Sprintf(format, args...)}
}

var (
	_ service.Ledger = (*MemoryLedger)(nil)
	_ service.Ledger = (*SheetsLedger)(nil)
)

// Balance is inflows minus outflows across the vouchers in state.
func Balance(state *model.LedgerState) decimal.Decimal {
	total := decimal.Zero
	if state == nil {
		return total
	}
	for _, v := range state.Vouchers {
		if v.Document.VoucherType.Inflow() {
			total = total.Add(v.Document.Amount)
		} else {
			total = total.Sub(v.Document.Amount)
		}
	}
	return total
}

func matches(query model.LedgerQuery, doc *model.Document) bool {
	if query.Reference != "" && doc.Reference != query.Reference {
		return false
	}
	if query.Counterparty != "" && !equalFold(doc.Counterparty, query.Counterparty) {
		return false
	}
	return true
}
