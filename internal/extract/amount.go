package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var amountRe = regexp.MustCompile(`(?i)(₹|\brs\.?|\binr)?\s*(-\s*)?(\d{1,3}(?:,\d{2,3})+(?:\.\d+)?|\d+(?:\.\d+)?)(?:\s*(crores?|cr|lakhs?|lacs?|lac|l|thousand|k))?\b`)

var multipliers = map[string]decimal.Decimal{
	"k":        decimal.NewFromInt(1_000),
	"thousand": decimal.NewFromInt(1_000),
	"l":        decimal.NewFromInt(1_00_000),
	"lac":      decimal.NewFromInt(1_00_000),
	"lacs":     decimal.NewFromInt(1_00_000),
	"lakh":     decimal.NewFromInt(1_00_000),
	"lakhs":    decimal.NewFromInt(1_00_000),
	"cr":       decimal.NewFromInt(1_00_00_000),
	"crore":    decimal.NewFromInt(1_00_00_000),
	"crores":   decimal.NewFromInt(1_00_00_000),
}

type amountMatch struct {
	value    decimal.Decimal
	raw      string
	start    int
	end      int
	currency bool
	suffix   bool
}

// findAmounts returns every amount-looking token in text, skipping percentages.
// A minus sign before the number or its currency marker yields a negative value.
func findAmounts(text string) []amountMatch {
	var found []amountMatch
	for _, loc := range amountRe.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		if end < len(text) && text[end] == '%' {
			continue
		}
		if rest := strings.TrimLeft(text[end:], " "); strings.HasPrefix(rest, "%") {
			continue
		}

		negative := loc[4] >= 0
		if loc[2] < 0 {
			lead := loc[6]
			if negative {
				lead = loc[4]
			}
			// Part of an identifier such as INV-2041 or #12, or a range or date.
			if lead > 0 && (isIdentifierByte(text[lead-1]) || negative && isDigit(text[lead-1])) {
				continue
			}
			start = lead
		} else if at, ok := minusBefore(text, loc[2]); ok {
			negative = true
			start = at
		}

		digits := strings.ReplaceAll(text[loc[6]:loc[7]], ",", "")
		value, err := decimal.NewFromString(digits)
		if err != nil {
			continue
		}

		m := amountMatch{
			raw:      strings.TrimSpace(text[start:end]),
			start:    start,
			end:      end,
			currency: loc[2] >= 0,
		}
		if loc[8] >= 0 {
			m.suffix = true
			value = value.Mul(multipliers[strings.ToLower(text[loc[8]:loc[9]])])
		}
		if negative {
			value = value.Neg()
		}
		m.value = value
		found = append(found, m)
	}
	return found
}

// minusBefore finds a sign written ahead of a currency marker ("-₹500").
func minusBefore(text string, i int) (int, bool) {
	for i > 0 && text[i-1] == ' ' {
		i--
	}
	if i == 0 || text[i-1] != '-' {
		return 0, false
	}
	at := i - 1
	if at > 0 && (isIdentifierByte(text[at-1]) || isDigit(text[at-1])) {
		return 0, false
	}
	return at, true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isIdentifierByte(b byte) bool {
	return b == '/' || b == '-' || b == '#' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// ParseAmount returns the most likely amount in text. A currency-marked amount
// beats a bare number; otherwise the first bare number wins.
func ParseAmount(text string) (decimal.Decimal, string, bool) {
	m, ok := pickAmount(findAmounts(text))
	if !ok {
		return decimal.Zero, "", false
	}
	return m.value, m.raw, true
}

func pickAmount(found []amountMatch) (amountMatch, bool) {
	if len(found) == 0 {
		return amountMatch{}, false
	}
	for _, m := range found {
		if m.currency {
			return m, true
		}
	}
	return found[0], true
}
