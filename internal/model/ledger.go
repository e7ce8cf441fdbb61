package model

// Voucher is a document as stored by the external ledger.
type Voucher struct {
	ExternalRef string   `json:"external_ref"`
	Document    Document `json:"document"`
}

// LedgerState is what the ledger holds for a query at a point in time.
type LedgerState struct {
	Vouchers []Voucher `json:"vouchers"`
}

// Find returns the voucher carrying the given document reference.
func (s *LedgerState) Find(reference string) (*Voucher, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Vouchers {
		if s.Vouchers[i].Document.Reference == reference {
			return &s.Vouchers[i], true
		}
	}
	return nil, false
}

// Snapshot is the pre-write backup the transaction manager restores on rollback.
// Empty is true when there was no prior state for the scope.
type Snapshot struct {
	State        LedgerState `json:"state"`
	Counterparty string      `json:"counterparty"`
	Empty        bool        `json:"empty"`
}

// LedgerQuery selects vouchers. Empty fields match everything.
type LedgerQuery struct {
	Reference    string `json:"reference,omitempty"`
	Counterparty string `json:"counterparty,omitempty"`
}

// WriteAck is the ledger's immediate acknowledgment of a write.
type WriteAck struct {
	ExternalRef string `json:"external_ref"`
	Accepted    bool   `json:"accepted"`
}
