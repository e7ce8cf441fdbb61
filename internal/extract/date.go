package extract

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var errInvalidDate = errors.New("invalid calendar date")

var (
	relativeDateRe = regexp.MustCompile(`(?i)\b(day\s+before\s+yesterday|yesterday|today)\b`)
	isoDateRe      = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	numericDateRe  = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{4})\b`)
	namedDateRe    = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?(?:,?\s+(\d{4}))?\b`)
)

var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "sept": time.September, "oct": time.October,
	"nov": time.November, "dec": time.December,
}

type dateMatch struct {
	value time.Time
	err   error
	raw   string
	start int
	end   int
}

// findDate returns the first date expression in text, resolved against now.
// A match with err set names a date that does not exist (31/02/2025).
func findDate(text string, now time.Time) (dateMatch, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var best dateMatch
	found := false
	consider := func(m dateMatch) {
		if !found || m.start < best.start {
			best, found = m, true
		}
	}

	if loc := relativeDateRe.FindStringSubmatchIndex(text); loc != nil {
		word := strings.Join(strings.Fields(strings.ToLower(text[loc[2]:loc[3]])), " ")
		offset := 0
		switch word {
		case "yesterday":
			offset = -1
		case "day before yesterday":
			offset = -2
		}
		consider(dateMatch{value: today.AddDate(0, 0, offset), raw: text[loc[0]:loc[1]], start: loc[0], end: loc[1]})
	}

	if loc := isoDateRe.FindStringSubmatchIndex(text); loc != nil {
		y, m, d := atoi(text[loc[2]:loc[3]]), atoi(text[loc[4]:loc[5]]), atoi(text[loc[6]:loc[7]])
		consider(calendarDate(y, m, d, now.Location(), text, loc))
	}

	if loc := numericDateRe.FindStringSubmatchIndex(text); loc != nil {
		d, m, y := atoi(text[loc[2]:loc[3]]), atoi(text[loc[4]:loc[5]]), atoi(text[loc[6]:loc[7]])
		consider(calendarDate(y, m, d, now.Location(), text, loc))
	}

	if loc := namedDateRe.FindStringSubmatchIndex(text); loc != nil {
		d := atoi(text[loc[2]:loc[3]])
		month := monthNames[strings.ToLower(text[loc[4]:loc[5]])]
		y := today.Year()
		if loc[6] >= 0 {
			y = atoi(text[loc[6]:loc[7]])
		}
		consider(calendarDate(y, int(month), d, now.Location(), text, loc))
	}

	return best, found
}

func calendarDate(y, m, d int, loc *time.Location, text string, idx []int) dateMatch {
	match := dateMatch{raw: text[idx[0]:idx[1]], start: idx[0], end: idx[1]}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
	if m < 1 || m > 12 || t.Day() != d || int(t.Month()) != m {
		match.err = errInvalidDate
		return match
	}
	match.value = t
	return match
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// ParseDate resolves the first date expression in text against now.
func ParseDate(text string, now time.Time) (time.Time, string, error) {
	m, ok := findDate(text, now)
	if !ok {
		return time.Time{}, "", errors.New("no date found")
	}
	return m.value, m.raw, m.err
}
