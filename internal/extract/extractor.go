// Package extract pulls typed parameters out of command text and resolves
// counterparty names against the known-entity list.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// HistoryStore reports what an entity usually transacts.
type HistoryStore interface {
	AverageAmount(ctx context.Context, entity string) (avg decimal.Decimal, count int, err error)
}

// Config tunes extraction.
type Config struct {
	AllowedGSTRates []decimal.Decimal `mapstructure:"allowed_gst_rates"`
	AllowedTDSRates []decimal.Decimal `mapstructure:"allowed_tds_rates"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	// UnusualFactor flags amounts above this multiple of the entity's average.
	UnusualFactor float64 `mapstructure:"unusual_factor"`
	// MinHistory is the number of past records needed before averages are trusted.
	MinHistory int `mapstructure:"min_history"`
}

// DefaultConfig returns the production extraction settings.
func DefaultConfig() Config {
	return Config{
		AllowedGSTRates: decimals(0, 5, 12, 18, 28),
		AllowedTDSRates: decimals(1, 2, 5, 10, 20),
		Timeout:         5 * time.Second,
		UnusualFactor:   3,
		MinHistory:      3,
	}
}

func decimals(values ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

// RequiredFields returns the fields a command of intent cannot proceed without.
func RequiredFields(intent model.Intent) []string {
	switch {
	case intent.CreatesVoucher():
		return []string{model.FieldAmount, model.FieldCounterparty}
	case intent == model.IntentCreateEntity:
		return []string{model.FieldEntityName}
	default:
		return nil
	}
}

// Extractor turns text plus an intent into a ParameterSet.
type Extractor struct {
	resolver *Resolver
	history  HistoryStore
	now      func() time.Time
	logger   *slog.Logger
	cfg      Config
}

// NewExtractor creates an extractor. history may be nil.
func NewExtractor(resolver *Resolver, history HistoryStore, cfg Config, logger *slog.Logger) *Extractor {
	def := DefaultConfig()
	if len(cfg.AllowedGSTRates) == 0 {
		cfg.AllowedGSTRates = def.AllowedGSTRates
	}
	if len(cfg.AllowedTDSRates) == 0 {
		cfg.AllowedTDSRates = def.AllowedTDSRates
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UnusualFactor <= 0 {
		cfg.UnusualFactor = def.UnusualFactor
	}
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = def.MinHistory
	}

	return &Extractor{
		resolver: resolver,
		history:  history,
		now:      time.Now,
		logger:   common.OrDefault(logger),
		cfg:      cfg,
	}
}

// Extract never fails. Lookups that run out of time leave a timeout BLOCK
// issue on every required field still missing.
func (e *Extractor) Extract(ctx context.Context, text string, intent model.Intent) *model.ParameterSet {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	params := model.NewParameterSet(intent, RequiredFields(intent)...)
	text = strings.Join(strings.Fields(text), " ")
	working := text

	working = e.extractDate(params, working)
	working = e.extractRates(params, working)

	var lookupErr error
	switch intent {
	case model.IntentCreateEntity:
		working = extractEntity(params, working)
	case model.IntentQueryReport:
		if loc := reportRe.FindStringSubmatchIndex(working); loc != nil {
			word := working[loc[2]:loc[3]]
			params.Set(&model.ExtractedField{Name: model.FieldReport, Raw: word, Value: normalizeReport(word), Confidence: 0.9})
		}
	default:
		if p, ok := findCounterparty(working, intent); ok {
			working = mask(working, p.span)
			lookupErr = e.resolveCounterparty(ctx, params, p.text)
		}
	}

	if intent != model.IntentCreateEntity {
		e.extractAmount(params, working)
	}
	extractMode(params, working)
	extractNarration(params, working)

	if lookupErr == nil {
		lookupErr = e.checkReasonableness(ctx, params)
	}

	if lookupErr != nil && (errors.Is(lookupErr, context.DeadlineExceeded) || ctx.Err() != nil) {
		e.logger.Warn("parameter extraction timed out", "intent", intent, "error", lookupErr)
		markTimedOut(params)
	} else if lookupErr != nil {
		e.logger.Warn("parameter lookup failed", "intent", intent, "error", lookupErr)
	}

	return params
}

func (e *Extractor) extractDate(params *model.ParameterSet, working string) string {
	now := e.now()
	m, ok := findDate(working, now)
	if !ok {
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		params.Set(&model.ExtractedField{
			Name:       model.FieldDate,
			Value:      today,
			Confidence: 0.6,
			Issues: []model.ValidationIssue{{
				RuleID:          "date_defaulted",
				Severity:        model.SeverityInfo,
				Field:           model.FieldDate,
				Message:         "no date given, using today",
				SuggestedAction: "add a date such as 'yesterday' or '12/03/2025' if this happened earlier",
			}},
		})
		return working
	}

	field := &model.ExtractedField{Name: model.FieldDate, Raw: m.raw, Confidence: 0.95}
	if m.err != nil {
		field.Confidence = 0
		field.Issues = append(field.Issues, model.ValidationIssue{
			RuleID:          "invalid_date",
			Severity:        model.SeverityBlock,
			Field:           model.FieldDate,
			Message:         fmt.Sprintf("%q is not a valid calendar date", m.raw),
			SuggestedAction: "use DD/MM/YYYY",
		})
	} else {
		field.Value = m.value
	}
	params.Set(field)
	return mask(working, span{m.start, m.end})
}

func (e *Extractor) extractRates(params *model.ParameterSet, working string) string {
	for _, r := range []struct {
		re      *regexp.Regexp
		field   string
		allowed []decimal.Decimal
		label   string
	}{
		{tdsRe, model.FieldTDSRate, e.cfg.AllowedTDSRates, "TDS"},
		{gstRe, model.FieldGSTRate, e.cfg.AllowedGSTRates, "GST"},
	} {
		m, ok := findRate(r.re, working)
		if !ok {
			continue
		}
		working = mask(working, m.span)

		field := &model.ExtractedField{Name: r.field, Raw: m.raw, Value: m.value, Confidence: 0.95}
		if !containsRate(r.allowed, m.value) {
			field.Issues = append(field.Issues, model.ValidationIssue{
				RuleID:          strings.ToLower(r.label) + "_rate_invalid",
				Severity:        model.SeverityBlock,
				Field:           r.field,
				Message:         fmt.Sprintf("%s rate %s%% is not an allowed rate", r.label, m.value.String()),
				SuggestedAction: "use one of " + formatRates(r.allowed),
			})
		}
		params.Set(field)
	}
	return working
}

func containsRate(allowed []decimal.Decimal, rate decimal.Decimal) bool {
	for _, a := range allowed {
		if a.Equal(rate) {
			return true
		}
	}
	return false
}

func formatRates(rates []decimal.Decimal) string {
	parts := make([]string, len(rates))
	for i, r := range rates {
		parts[i] = r.String() + "%"
	}
	return strings.Join(parts, ", ")
}

func (e *Extractor) extractAmount(params *model.ParameterSet, working string) {
	m, ok := pickAmount(findAmounts(working))
	if !ok {
		return
	}
	confidence := 0.9
	if m.currency || m.suffix {
		confidence = 0.98
	}
	params.Set(&model.ExtractedField{Name: model.FieldAmount, Raw: m.raw, Value: m.value, Confidence: confidence})
}

func extractMode(params *model.ParameterSet, working string) {
	loc := modeRe.FindStringSubmatchIndex(working)
	if loc == nil {
		return
	}
	word := working[loc[2]:loc[3]]
	params.Set(&model.ExtractedField{Name: model.FieldMode, Raw: word, Value: normalizeMode(word), Confidence: 0.9})
}

func extractNarration(params *model.ParameterSet, working string) {
	loc := narrationRe.FindStringSubmatchIndex(working)
	if loc == nil {
		return
	}
	text := strings.TrimSpace(working[loc[2]:loc[3]])
	if text == "" {
		return
	}
	params.Set(&model.ExtractedField{Name: model.FieldNarration, Raw: text, Value: text, Confidence: 0.8})
}

func extractEntity(params *model.ParameterSet, working string) string {
	if loc := gstinRe.FindStringSubmatchIndex(working); loc != nil {
		gstin := strings.ToUpper(working[loc[2]:loc[3]])
		params.Set(&model.ExtractedField{Name: model.FieldGSTIN, Raw: working[loc[0]:loc[1]], Value: gstin, Confidence: 0.95})
		working = mask(working, span{loc[0], loc[1]})
	}

	loc := entityRe.FindStringSubmatchIndex(working)
	if loc == nil {
		return working
	}
	keyword := working[loc[2]:loc[3]]
	name := strings.Join(strings.Fields(working[loc[4]:loc[5]]), " ")
	name = strings.TrimRight(name, ".")
	if name == "" {
		return working
	}

	params.Set(&model.ExtractedField{Name: model.FieldEntityName, Raw: name, Value: name, Confidence: 0.9})
	params.Set(&model.ExtractedField{
		Name:       model.FieldEntityType,
		Raw:        keyword,
		Value:      string(entityTypeFromKeyword(keyword)),
		Confidence: 0.9,
	})
	return mask(working, span{loc[0], loc[1]})
}

func (e *Extractor) resolveCounterparty(ctx context.Context, params *model.ParameterSet, raw string) error {
	field := &model.ExtractedField{Name: model.FieldCounterparty, Raw: raw}
	params.Set(field)

	if e.resolver == nil {
		field.Value = raw
		field.Confidence = 0.5
		return nil
	}

	res, err := e.resolver.Resolve(ctx, raw)
	if err != nil {
		return err
	}

	params.Candidates[model.FieldCounterparty] = res.Candidates
	if res.Resolved() {
		field.Value = res.Match
		field.Confidence = res.Score
		if res.Approximate {
			field.Issues = append(field.Issues, model.ValidationIssue{
				RuleID:          "entity_fuzzy_match",
				Severity:        model.SeverityWarn,
				Field:           model.FieldCounterparty,
				Message:         fmt.Sprintf("matched %q to %q by similarity", raw, res.Match),
				SuggestedAction: "confirm the counterparty or use its exact name",
			})
		}
		return nil
	}

	issue := model.ValidationIssue{
		RuleID:   "entity_unresolved",
		Severity: model.SeverityWarn,
		Field:    model.FieldCounterparty,
	}
	if len(res.Candidates) == 0 {
		issue.Message = fmt.Sprintf("no known entity matches %q", raw)
		issue.SuggestedAction = "confirm the name or create the entity first"
	} else {
		issue.Message = fmt.Sprintf("%q matches more than one known entity", raw)
		issue.SuggestedAction = "pick one of the candidates"
	}
	field.Issues = append(field.Issues, issue)
	return nil
}

func (e *Extractor) checkReasonableness(ctx context.Context, params *model.ParameterSet) error {
	if e.history == nil {
		return nil
	}
	amount, ok := params.Amount()
	counterparty, hasCounterparty := params.String(model.FieldCounterparty)
	if !ok || !hasCounterparty {
		return nil
	}

	avg, count, err := e.history.AverageAmount(ctx, counterparty)
	if err != nil {
		return fmt.Errorf("history lookup: %w", err)
	}
	if count < e.cfg.MinHistory || !avg.IsPositive() {
		return nil
	}

	limit := avg.Mul(decimal.NewFromFloat(e.cfg.UnusualFactor))
	if amount.GreaterThan(limit) {
		field := params.Get(model.FieldAmount)
		field.Issues = append(field.Issues, model.ValidationIssue{
			RuleID:   "amount_unusual",
			Severity: model.SeverityWarn,
			Field:    model.FieldAmount,
			Message: fmt.Sprintf("%s is more than %.0fx the usual %s for %s",
				amount.StringFixed(2), e.cfg.UnusualFactor, avg.StringFixed(2), counterparty),
			SuggestedAction: "double-check the amount",
		})
	}
	return nil
}

func markTimedOut(params *model.ParameterSet) {
	for _, name := range params.Missing() {
		field := params.Get(name)
		if field == nil {
			field = &model.ExtractedField{Name: name}
			params.Set(field)
		}
		field.Issues = append(field.Issues, model.ValidationIssue{
			RuleID:          "timeout",
			Severity:        model.SeverityBlock,
			Field:           name,
			Message:         "lookup timed out before this field could be resolved",
			SuggestedAction: "retry the command",
		})
	}
}
