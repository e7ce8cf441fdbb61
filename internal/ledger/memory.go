package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// MemoryLedger keeps vouchers in process. It backs development mode and tests.
type MemoryLedger struct {
	vouchers []model.Voucher
	mu       sync.RWMutex
	seq      int
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Write appends doc. A second write with the same reference is rejected.
func (m *MemoryLedger) Write(ctx context.Context, doc model.Document) (model.WriteAck, error) {
	if err := ctx.Err(); err != nil {
		return model.WriteAck{}, err
	}
	if problems := doc.Validate(); len(problems) > 0 {
		return model.WriteAck{}, reject("%s", strings.Join(problems, "; "))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.vouchers {
		if v.Document.Reference == doc.Reference {
			return model.WriteAck{}, reject("duplicate reference %s", doc.Reference)
		}
	}

	m.seq++
	ref := fmt.Sprintf("mem-%d", m.seq)
	m.vouchers = append(m.vouchers, model.Voucher{ExternalRef: ref, Document: doc})
	return model.WriteAck{ExternalRef: ref, Accepted: true}, nil
}

// Read returns a copy of the matching vouchers.
func (m *MemoryLedger) Read(ctx context.Context, query model.LedgerQuery) (*model.LedgerState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	state := &model.LedgerState{}
	for _, v := range m.vouchers {
		if matches(query, &v.Document) {
			state.Vouchers = append(state.Vouchers, v)
		}
	}
	return state, nil
}

// Delete removes the voucher with reference. Deleting a missing voucher is a no-op.
func (m *MemoryLedger) Delete(ctx context.Context, reference string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.vouchers[:0]
	for _, v := range m.vouchers {
		if v.Document.Reference != reference {
			kept = append(kept, v)
		}
	}
	m.vouchers = kept
	return nil
}

// Ping always succeeds.
func (m *MemoryLedger) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of stored vouchers.
func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vouchers)
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
