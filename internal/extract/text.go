package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

var (
	tdsRe       = regexp.MustCompile(`(?i)\btds\s*(?:@|at|of)?\s*(\d+(?:\.\d+)?)\s*%`)
	gstRe       = regexp.MustCompile(`(?i)(?:\b(?:gst|igst)\s*(?:@|at|of)?\s*|@\s*)(\d+(?:\.\d+)?)\s*%(?:\s*gst\b)?`)
	modeRe      = regexp.MustCompile(`(?i)\b(cash|cheque|check|bank\s+transfer|upi|neft|rtgs|imps|card|bank)\b`)
	narrationRe = regexp.MustCompile(`(?i)\b(?:for|towards|being)\s+(.+?)\s*(?:\b(?:on|via|through|by|dated|vide)\b|[.,;]|$)`)
	gstinRe     = regexp.MustCompile(`(?i)\bgstin\s*:?\s*([0-9]{2}[a-z]{5}[0-9]{4}[a-z][0-9a-z]z[0-9a-z])\b`)
	entityRe    = regexp.MustCompile(`(?i)\b(customer|supplier|vendor|party|entity|contractor|professional|bank\s+account)\s+(?:named\s+|called\s+)?(.+)`)
	reportRe    = regexp.MustCompile(`(?i)\b(p\s*&\s*l|profit\s+(?:and|&)\s+loss|balance\s+sheet|trial\s+balance|gst\s*r?\s*returns?|day\s*book|cash\s+flow|ledger|statement)\b`)
)

// stopRe ends a counterparty phrase.
var stopRe = regexp.MustCompile(`(?i)\s+(?:for|towards|being|on|via|through|by\s+(?:cash|cheque|check|upi|neft|rtgs|imps|card)|in\s+cash|as|vide|dated|against|under|with\s+(?:gst|tds)|gst|tds|igst)\b|\s*[@,;]|\s*\.\s*$`)

var counterpartyPrepositions = map[model.Intent][]string{
	model.IntentCreateReceipt:         {"from"},
	model.IntentCreatePayment:         {"to"},
	model.IntentCreateSalesInvoice:    {"to", "for"},
	model.IntentCreatePurchaseInvoice: {"from"},
	model.IntentQueryBalance:          {"with", "of", "for", "from", "to"},
}

var prepositionRes = func() map[model.Intent]*regexp.Regexp {
	res := make(map[model.Intent]*regexp.Regexp, len(counterpartyPrepositions))
	for intent, preps := range counterpartyPrepositions {
		res[intent] = regexp.MustCompile(`(?i)\b(?:` + strings.Join(preps, "|") + `)\s+`)
	}
	return res
}()

type span struct {
	start int
	end   int
}

// mask blanks the spans so later scans cannot see them. Byte length is preserved.
func mask(text string, spans ...span) string {
	b := []byte(text)
	for _, s := range spans {
		for i := s.start; i < s.end && i < len(b); i++ {
			b[i] = ' '
		}
	}
	return string(b)
}

type rateMatch struct {
	value decimal.Decimal
	raw   string
	span  span
}

func findRate(re *regexp.Regexp, text string) (rateMatch, bool) {
	loc := re.FindStringSubmatchIndex(text)
	if loc == nil {
		return rateMatch{}, false
	}
	value, err := decimal.NewFromString(text[loc[2]:loc[3]])
	if err != nil {
		return rateMatch{}, false
	}
	return rateMatch{
		value: value,
		raw:   strings.TrimSpace(text[loc[0]:loc[1]]),
		span:  span{loc[0], loc[1]},
	}, true
}

type phrase struct {
	text string
	// span covers the preposition and the name.
	span span
}

// findCounterparty returns the phrase introduced by the first preposition
// allowed for intent, trimmed at the first stop word.
func findCounterparty(text string, intent model.Intent) (phrase, bool) {
	re, ok := prepositionRes[intent]
	if !ok {
		return phrase{}, false
	}

	loc := re.FindStringIndex(text)
	if loc == nil {
		return phrase{}, false
	}

	start := loc[1]
	end := len(text)
	if stop := stopRe.FindStringIndex(text[start:]); stop != nil {
		end = start + stop[0]
	}

	candidate := text[start:end]
	candidate = trimTrailingAmount(candidate)
	candidate = strings.TrimRight(candidate, " ")
	if strings.TrimSpace(candidate) == "" {
		return phrase{}, false
	}

	return phrase{
		text: strings.Join(strings.Fields(candidate), " "),
		span: span{loc[0], start + len(candidate)},
	}, true
}

// trimTrailingAmount drops an amount written after the name ("from Acme 5000")
// while keeping account numbers ("HDFC Bank A/c 123").
func trimTrailingAmount(s string) string {
	found := findAmounts(s)
	if len(found) == 0 {
		return s
	}
	last := found[len(found)-1]
	if strings.TrimSpace(s[last.end:]) != "" {
		return s
	}
	if !last.currency && !last.suffix && followsAccountMarker(s[:last.start]) {
		return s
	}
	return s[:last.start]
}

func followsAccountMarker(before string) bool {
	words := strings.Fields(strings.ToLower(before))
	if len(words) == 0 {
		return false
	}
	switch strings.TrimRight(words[len(words)-1], ".:#") {
	case "a/c", "ac", "acct", "account", "no", "number":
		return true
	}
	return false
}

// normalizeMode maps the matched word to a canonical payment mode.
func normalizeMode(word string) string {
	word = strings.Join(strings.Fields(strings.ToLower(word)), " ")
	switch word {
	case "check":
		return "cheque"
	case "bank transfer":
		return "bank"
	default:
		return word
	}
}

// normalizeReport maps the matched words to a report identifier.
func normalizeReport(word string) string {
	word = strings.Join(strings.Fields(strings.ToLower(word)), " ")
	switch {
	case strings.HasPrefix(word, "p"):
		return "profit_and_loss"
	case word == "balance sheet":
		return "balance_sheet"
	case word == "trial balance":
		return "trial_balance"
	case strings.HasPrefix(word, "gst"):
		return "gst_return"
	case strings.HasPrefix(word, "day"):
		return "day_book"
	case word == "cash flow":
		return "cash_flow"
	default:
		return "ledger_statement"
	}
}

func entityTypeFromKeyword(word string) model.EntityType {
	switch strings.ToLower(strings.Fields(word)[0]) {
	case "customer", "party":
		return model.EntityCustomer
	case "supplier", "vendor":
		return model.EntitySupplier
	case "contractor":
		return model.EntityContractor
	case "professional":
		return model.EntityProfessional
	case "bank":
		return model.EntityBank
	default:
		return model.EntityOther
	}
}
