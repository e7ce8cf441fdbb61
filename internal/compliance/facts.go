package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// EntityStore looks up a known counterparty by exact name.
type EntityStore interface {
	GetEntity(ctx context.Context, name string) (*model.Entity, error)
}

// TurnoverStore sums committed sales since a date.
type TurnoverStore interface {
	SalesTurnover(ctx context.Context, since time.Time) (decimal.Decimal, error)
}

// VoucherReader reads vouchers from the ledger.
type VoucherReader interface {
	Read(ctx context.Context, query model.LedgerQuery) (*model.LedgerState, error)
}

// FactLoader gathers the Facts for one validation. Any source may be nil.
type FactLoader struct {
	entities EntityStore
	turnover TurnoverStore
	vouchers VoucherReader
	now      func() time.Time
	logger   *slog.Logger
	cfg      Config
}

// NewFactLoader creates a loader.
func NewFactLoader(cfg Config, entities EntityStore, turnover TurnoverStore, vouchers VoucherReader, logger *slog.Logger) *FactLoader {
	return &FactLoader{
		entities: entities,
		turnover: turnover,
		vouchers: vouchers,
		now:      time.Now,
		logger:   common.OrDefault(logger),
		cfg:      cfg,
	}
}

// Load returns the facts needed for params. Lookup failures degrade to missing
// facts rather than failing the command; only context cancellation is returned.
func (l *FactLoader) Load(ctx context.Context, params *model.ParameterSet, intent model.Intent) (Facts, error) {
	now := l.now()
	facts := Facts{Today: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)}

	counterparty, _ := params.String(model.FieldCounterparty)

	if l.entities != nil && counterparty != "" {
		entity, err := l.entities.GetEntity(ctx, counterparty)
		switch {
		case err == nil:
			facts.Entity = entity
		case errors.Is(err, common.ErrNotFound):
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return facts, ctxErr
			}
			l.logger.Warn("entity lookup failed", "counterparty", counterparty, "error", err)
		}
	}

	if l.turnover != nil && intent == model.IntentCreateSalesInvoice {
		since := l.cfg.FiscalYearStart(now)
		total, err := l.turnover.SalesTurnover(ctx, since)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return facts, ctxErr
			}
			l.logger.Warn("turnover lookup failed", "since", since.Format(time.DateOnly), "error", err)
		} else {
			facts.TurnoverToDate = total
		}
	}

	if l.vouchers != nil && counterparty != "" && intent.CreatesVoucher() {
		state, err := l.vouchers.Read(ctx, model.LedgerQuery{Counterparty: counterparty})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return facts, fmt.Errorf("load vouchers: %w", ctxErr)
			}
			l.logger.Warn("ledger read for compliance failed", "counterparty", counterparty, "error", err)
		} else if state != nil {
			facts.CounterpartyVouchers = state.Vouchers
		}
	}

	return facts, nil
}
