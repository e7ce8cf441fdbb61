package compliance

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Rule IDs.
const (
	RuleAmountPositive   = "amount_positive"
	RuleGSTRateAllowed   = "gst_rate_allowed"
	RuleGSTRegistration  = "gst_registration"
	RuleTDSWithholding   = "tds_withholding"
	RuleCashReceiptLimit = "cash_receipt_limit"
	RuleCashPaymentLimit = "cash_payment_limit"
	RuleRoundTripping    = "round_tripping"
	RuleFutureDate       = "future_date"
	RuleBackdatedEntry   = "backdated_entry"
	RuleHighValue        = "high_value"
)

// Rule is one independent business check. Check must be pure.
type Rule struct {
	Applies func(intent model.Intent) bool
	Check   func(params *model.ParameterSet, intent model.Intent, facts Facts, cfg Config) []model.ValidationIssue
	ID      string
}

func voucherIntents(intent model.Intent) bool { return intent.CreatesVoucher() }

func only(intents ...model.Intent) func(model.Intent) bool {
	return func(intent model.Intent) bool {
		for _, i := range intents {
			if i == intent {
				return true
			}
		}
		return false
	}
}

func issue(rule string, severity model.IssueSeverity, field, message, action string) []model.ValidationIssue {
	return []model.ValidationIssue{{
		RuleID:          rule,
		Severity:        severity,
		Field:           field,
		Message:         message,
		SuggestedAction: action,
	}}
}

// rateChoices lists rates as "5%, 12% or 18%".
func rateChoices(rates []decimal.Decimal) string {
	parts := make([]string, len(rates))
	for i, r := range rates {
		parts[i] = r.String() + "%"
	}
	if len(parts) < 2 {
		return strings.Join(parts, "")
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " or " + parts[len(parts)-1]
}

func rupees(d decimal.Decimal) string {
	return "₹" + formatIndian(d)
}

// formatIndian groups digits the Indian way: 12,34,567.
func formatIndian(d decimal.Decimal) string {
	s := d.StringFixed(0)
	if !d.Truncate(0).Equal(d) {
		s = d.StringFixed(2)
	}
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i:]
	}
	if len(whole) <= 3 {
		return sign + whole + frac
	}
	head, tail := whole[:len(whole)-3], whole[len(whole)-3:]
	var groups []string
	for len(head) > 2 {
		groups = append([]string{head[len(head)-2:]}, groups...)
		head = head[:len(head)-2]
	}
	if head != "" {
		groups = append([]string{head}, groups...)
	}
	return sign + strings.Join(groups, ",") + "," + tail + frac
}

func modeIs(params *model.ParameterSet, mode string) bool {
	m, ok := params.String(model.FieldMode)
	return ok && m == mode
}

// DefaultRules returns the rule table in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:      RuleAmountPositive,
			Applies: voucherIntents,
			Check: func(p *model.ParameterSet, _ model.Intent, _ Facts, _ Config) []model.ValidationIssue {
				amount, ok := p.Amount()
				if !ok || amount.IsPositive() {
					return nil
				}
				return issue(RuleAmountPositive, model.SeverityBlock, model.FieldAmount,
					"amount must be greater than zero", "enter a positive amount")
			},
		},
		{
			ID:      RuleGSTRateAllowed,
			Applies: voucherIntents,
			Check: func(p *model.ParameterSet, _ model.Intent, _ Facts, cfg Config) []model.ValidationIssue {
				rate, ok := p.Decimal(model.FieldGSTRate)
				if !ok {
					return nil
				}
				// Already reported on the field by extraction.
				if f := p.Get(model.FieldGSTRate); f != nil && f.HasBlocking() {
					return nil
				}
				for _, allowed := range cfg.AllowedGSTRates {
					if allowed.Equal(rate) {
						return nil
					}
				}
				return issue(RuleGSTRateAllowed, model.SeverityBlock, model.FieldGSTRate,
					fmt.Sprintf("GST rate %s%% is not a notified rate", rate.String()),
					"use "+rateChoices(cfg.AllowedGSTRates))
			},
		},
		{
			ID:      RuleGSTRegistration,
			Applies: only(model.IntentCreateSalesInvoice),
			Check: func(p *model.ParameterSet, _ model.Intent, facts Facts, cfg Config) []model.ValidationIssue {
				amount, ok := p.Amount()
				if !ok || cfg.GSTRegistered {
					return nil
				}
				projected := facts.TurnoverToDate.Add(amount)
				if !projected.GreaterThan(cfg.GSTRegistrationLimit) {
					return nil
				}
				return issue(RuleGSTRegistration, model.SeverityBlock, model.FieldAmount,
					fmt.Sprintf("this invoice takes turnover to %s, over the %s registration threshold",
						rupees(projected), rupees(cfg.GSTRegistrationLimit)),
					"register for GST before raising this invoice")
			},
		},
		{
			ID:      RuleTDSWithholding,
			Applies: only(model.IntentCreatePayment, model.IntentCreatePurchaseInvoice),
			Check: func(p *model.ParameterSet, _ model.Intent, facts Facts, cfg Config) []model.ValidationIssue {
				amount, ok := p.Amount()
				if !ok || facts.Entity == nil || p.Has(model.FieldTDSRate) {
					return nil
				}
				if facts.Entity.Type != model.EntityContractor && facts.Entity.Type != model.EntityProfessional {
					return nil
				}
				if amount.LessThan(cfg.TDSThreshold) {
					return nil
				}
				return issue(RuleTDSWithholding, model.SeverityBlock, model.FieldTDSRate,
					fmt.Sprintf("payments of %s or more to a %s require TDS", rupees(cfg.TDSThreshold), facts.Entity.Type),
					"add the TDS rate, for example 'tds 2%' or 'tds 10%'")
			},
		},
		{
			ID:      RuleCashReceiptLimit,
			Applies: only(model.IntentCreateReceipt),
			Check: func(p *model.ParameterSet, _ model.Intent, _ Facts, cfg Config) []model.ValidationIssue {
				amount, ok := p.Amount()
				if !ok || !modeIs(p, "cash") || amount.LessThan(cfg.CashReceiptLimit) {
					return nil
				}
				return issue(RuleCashReceiptLimit, model.SeverityBlock, model.FieldAmount,
					fmt.Sprintf("cash receipts of %s or more are not permitted", rupees(cfg.CashReceiptLimit)),
					"receive the amount through a bank channel")
			},
		},
		{
			ID:      RuleCashPaymentLimit,
			Applies: only(model.IntentCreatePayment),
			Check: func(p *model.ParameterSet, _ model.Intent, _ Facts, cfg Config) []model.ValidationIssue {
				amount, ok := p.Amount()
				if !ok || !modeIs(p, "cash") || !amount.GreaterThan(cfg.CashPaymentLimit) {
					return nil
				}
				return issue(RuleCashPaymentLimit, model.SeverityWarn, model.FieldMode,
					fmt.Sprintf("cash payments above %s are not deductible as expenses", rupees(cfg.CashPaymentLimit)),
					"pay through a bank channel")
			},
		},
		{
			ID:      RuleRoundTripping,
			Applies: voucherIntents,
			Check: func(p *model.ParameterSet, intent model.Intent, facts Facts, _ Config) []model.ValidationIssue {
				date, ok := p.Date()
				if !ok {
					return nil
				}
				inflow := intent.VoucherType().Inflow()
				for _, v := range facts.CounterpartyVouchers {
					if v.Document.VoucherType.Inflow() == inflow || !sameDay(v.Document.Date, date) {
						continue
					}
					return issue(RuleRoundTripping, model.SeverityWarn, model.FieldCounterparty,
						fmt.Sprintf("a %s voucher with %s already exists for the same day",
							strings.ToLower(string(v.Document.VoucherType)), v.Document.Counterparty),
						"confirm this is not a round trip of the same funds")
				}
				return nil
			},
		},
		{
			ID:      RuleFutureDate,
			Applies: voucherIntents,
			Check: func(p *model.ParameterSet, _ model.Intent, facts Facts, _ Config) []model.ValidationIssue {
				date, ok := p.Date()
				if !ok || !date.After(facts.Today) || sameDay(date, facts.Today) {
					return nil
				}
				return issue(RuleFutureDate, model.SeverityWarn, model.FieldDate,
					fmt.Sprintf("%s is in the future", date.Format("02 Jan 2006")),
					"check the date")
			},
		},
		{
			ID:      RuleBackdatedEntry,
			Applies: voucherIntents,
			Check: func(p *model.ParameterSet, _ model.Intent, _ Facts, cfg Config) []model.ValidationIssue {
				date, ok := p.Date()
				if !ok || cfg.BooksLockDate == nil || !date.Before(*cfg.BooksLockDate) {
					return nil
				}
				return issue(RuleBackdatedEntry, model.SeverityWarn, model.FieldDate,
					fmt.Sprintf("%s is before the books were closed on %s",
						date.Format("02 Jan 2006"), cfg.BooksLockDate.Format("02 Jan 2006")),
					"confirm with your accountant before posting into a closed period")
			},
		},
		{
			ID:      RuleHighValue,
			Applies: voucherIntents,
			Check: func(p *model.ParameterSet, _ model.Intent, _ Facts, cfg Config) []model.ValidationIssue {
				amount, ok := p.Amount()
				if !ok || amount.LessThan(cfg.HighValueThreshold) {
					return nil
				}
				return issue(RuleHighValue, model.SeverityInfo, model.FieldAmount,
					fmt.Sprintf("high-value entry of %s", rupees(amount)),
					"")
			},
		},
	}
}
