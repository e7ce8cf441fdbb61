package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/audit"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/ledger"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/response"
)

const helpText = `I can record vouchers and answer simple questions. Try:
  received 50000 from HDFC Bank
  paid 12,000 to Sharma Contractors by cheque
  sales invoice for Acme Traders 1.5L @18%
  purchase bill from Metro Wholesale 45000 on 3 March
  add customer Acme Traders GSTIN 27AAPFU0939F1ZV
  what is the balance with HDFC Bank
  show the profit and loss report
Every voucher is shown to you for approval before anything is written.`

func (p *Pipeline) handleClarify(context.Context, *request) (response.Response, error) {
	return response.ClarifyIntent(), nil
}

func (p *Pipeline) handleHelp(context.Context, *request) (response.Response, error) {
	return response.Text("%s", helpText), nil
}

func (p *Pipeline) handleReport(ctx context.Context, req *request) (response.Response, error) {
	params := p.extract(ctx, req)

	report, ok := params.String(model.FieldReport)
	if !ok {
		report = "summary"
	}
	query := map[string]string{"report": report}
	if date, ok := params.Date(); ok {
		query["as_of"] = date.Format(time.DateOnly)
	}

	title := strings.ReplaceAll(report, "_", " ")
	return response.Navigate("reports/"+report, query, fmt.Sprintf("Opening the %s report.", title)), nil
}

func (p *Pipeline) handleBalance(ctx context.Context, req *request) (response.Response, error) {
	params := p.extract(ctx, req)

	counterparty, ok := params.String(model.FieldCounterparty)
	if !ok {
		params.Required = append(params.Required, model.FieldCounterparty)
		p.rememberAmbiguity(ctx, req, params)
		return response.Clarify(params), nil
	}

	readCtx, cancel := context.WithTimeout(ctx, p.cfg.LedgerTimeout)
	defer cancel()

	state, err := p.deps.Ledger.Read(readCtx, model.LedgerQuery{Counterparty: counterparty})
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return response.Text("No vouchers recorded with %s yet.", counterparty), nil
		}
		return response.Response{}, common.NewSystemError("LEDGER_UNAVAILABLE", "could not read the ledger", err)
	}

	if state == nil {
		state = &model.LedgerState{}
	}
	balance := ledger.Balance(state)
	switch {
	case len(state.Vouchers) == 0:
		return response.Text("No vouchers recorded with %s yet.", counterparty), nil
	case balance.IsPositive():
		return response.Text("Net with %s: ₹%s received more than paid, across %d vouchers.",
			counterparty, balance.StringFixed(2), len(state.Vouchers)), nil
	case balance.IsNegative():
		return response.Text("Net with %s: ₹%s paid more than received, across %d vouchers.",
			counterparty, balance.Abs().StringFixed(2), len(state.Vouchers)), nil
	default:
		return response.Text("Net with %s is nil across %d vouchers.", counterparty, len(state.Vouchers)), nil
	}
}

func (p *Pipeline) handleCreateEntity(ctx context.Context, req *request) (response.Response, error) {
	params := p.extract(ctx, req)
	if !params.IsValid() {
		return response.Clarify(params), nil
	}

	name, _ := params.String(model.FieldEntityName)
	kind, _ := params.String(model.FieldEntityType)
	gstin, _ := params.String(model.FieldGSTIN)

	entity := &model.Entity{
		Name:      name,
		Type:      model.ParseEntityType(kind),
		GSTIN:     gstin,
		CreatedAt: p.now().UTC(),
	}
	if err := p.deps.Entities.SaveEntity(ctx, entity); err != nil {
		return response.Response{}, common.NewSystemError("ENTITY_SAVE_FAILED", "could not save the entity", err)
	}
	if p.deps.Resolver != nil {
		p.deps.Resolver.Invalidate()
	}

	p.record(ctx, model.AuditEntry{
		EntityType: model.AuditEntityEntity,
		EntityID:   entity.Name,
		Actor:      req.actor,
		Action:     "entity_created",
		NewValue:   audit.Snapshot(entity),
	})

	text := fmt.Sprintf("Added %s %s.", entity.Type, entity.Name)
	if entity.GSTIN != "" {
		text = fmt.Sprintf("Added %s %s (GSTIN %s).", entity.Type, entity.Name, entity.GSTIN)
	}
	return response.Text("%s", text), nil
}
