// Package ofx reads bank statements into counterparty amount history.
//
// The extractor compares new amounts against this history to flag unusual
// vouchers, so only the counterparty, date and absolute amount are kept.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
)

// HistoryStore persists amount observations and reports how many were new.
type HistoryStore interface {
	SaveHistory(ctx context.Context, records []model.HistoryRecord) (int, error)
}

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	tagFixRegex   = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	// NEFT/IMPS/UPI narrations carry the counterparty between separators,
	// e.g. "NEFT-HDFC0001234-ACME CORP-INV42" or "UPI/4012345/ACME CORP/pay".
	transferRegex = regexp.MustCompile(`^(?i)(NEFT|RTGS|IMPS|UPI)[-/][^-/]*[-/]([^-/]+)`)
	refSuffix     = regexp.MustCompile(`[*#]\S*$`)
)

// Parser reads OFX and QFX statements.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser. logger may be nil.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: common.OrDefault(logger)}
}

// preprocess fixes formatting that banks commonly get wrong.
func (p *Parser) preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

// ParseHistory returns one record per statement line whose counterparty can
// be named. source labels where the records came from.
func (p *Parser) ParseHistory(ctx context.Context, reader io.Reader, source string) ([]model.HistoryRecord, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocess(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var lists []*ofxgo.TransactionList
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok && stmt.BankTranList != nil {
			lists = append(lists, stmt.BankTranList)
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok && stmt.BankTranList != nil {
			lists = append(lists, stmt.BankTranList)
		}
	}

	var records []model.HistoryRecord
	skipped := 0
	for _, list := range lists {
		for _, tx := range list.Transactions {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			record, ok := p.convert(tx, source)
			if !ok {
				skipped++
				continue
			}
			records = append(records, record)
		}
	}

	p.logger.Info("parsed OFX statement",
		"statements", len(lists),
		"records", len(records),
		"skipped", skipped)
	return records, nil
}

func (p *Parser) convert(tx ofxgo.Transaction, source string) (model.HistoryRecord, bool) {
	name := counterpartyName(tx)
	amount, err := decimal.NewFromString(tx.TrnAmt.Rat.FloatString(2))
	if err != nil || name == "" || amount.IsZero() {
		return model.HistoryRecord{}, false
	}
	return model.HistoryRecord{
		Entity: name,
		Date:   tx.DtPosted.Time,
		Amount: amount.Abs(),
		Source: source,
	}, true
}

// counterpartyName prefers PAYEE, then a name parsed out of a transfer
// narration, then NAME or MEMO with card prefixes stripped.
func counterpartyName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}

	name := strings.TrimSpace(string(tx.Name))
	if isGenericDescription(name) && tx.Memo != "" {
		name = strings.TrimSpace(string(tx.Memo))
	}

	if m := transferRegex.FindStringSubmatch(name); m != nil {
		return strings.TrimSpace(m[2])
	}

	upper := strings.ToUpper(name)
	for _, prefix := range []string{"POS PURCHASE ", "DEBIT CARD PURCHASE ", "POS ", "ACH DEBIT ", "ACH CREDIT ", "CHQ DEP ", "BY TRANSFER "} {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}
	name = strings.TrimSpace(refSuffix.ReplaceAllString(name, ""))

	if isGenericDescription(name) {
		return ""
	}
	return name
}

func isGenericDescription(name string) bool {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "TRANSFER", "CASH", "ATM WDL", "INTEREST", "CHARGES":
		return true
	default:
		return false
	}
}

// Import parses reader and saves the records, returning parsed and new counts.
func Import(ctx context.Context, p *Parser, reader io.Reader, source string, store HistoryStore) (parsed, inserted int, err error) {
	records, err := p.ParseHistory(ctx, reader, source)
	if err != nil {
		return 0, 0, err
	}
	inserted, err = store.SaveHistory(ctx, records)
	if err != nil {
		return len(records), 0, fmt.Errorf("failed to save history: %w", err)
	}
	return len(records), inserted, nil
}
