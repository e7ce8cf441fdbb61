package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/response"
	"github.com/charmbracelet/lipgloss"
)

// Render writes r for a terminal.
func Render(w io.Writer, r response.Response) error {
	var out string
	switch r.Type {
	case response.TypePreview:
		out = renderPreview(r)
	case response.TypeClarification:
		out = renderClarification(r)
	case response.TypeNavigation:
		out = renderNavigation(r)
	case response.TypeError:
		out = renderError(r)
	default:
		out = renderText(r)
	}
	_, err := fmt.Fprintln(w, out)
	return err
}

func renderText(r response.Response) string {
	if r.Transaction == nil {
		return r.Text
	}
	switch r.Transaction.Status {
	case model.StatusCommitted:
		line := FormatSuccess(r.Text)
		if r.Transaction.ExternalRef != "" {
			line += "\n" + SubtleStyle.Render("ledger ref "+r.Transaction.ExternalRef)
		}
		return line
	case model.StatusRolledBack, model.StatusFailed:
		return FormatError(r.Text)
	default:
		return r.Text
	}
}

func renderPreview(r response.Response) string {
	p := r.Preview
	if p == nil {
		return r.Text
	}
	doc := p.Document

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", BoldStyle.Render(string(doc.VoucherType)), doc.Date.Format("02 Jan 2006"))
	fmt.Fprintf(&b, "Counterparty: %s\n", doc.Counterparty)
	fmt.Fprintf(&b, "Amount:       ₹%s\n", doc.Amount.StringFixed(2))
	if doc.Mode != "" {
		fmt.Fprintf(&b, "Mode:         %s\n", doc.Mode)
	}
	if doc.GSTRate != nil {
		fmt.Fprintf(&b, "GST:          %s%%\n", doc.GSTRate.String())
	}
	if doc.TDSRate != nil {
		fmt.Fprintf(&b, "TDS:          %s%%\n", doc.TDSRate.String())
	}
	fmt.Fprintf(&b, "Narration:    %s\n\n", doc.Narration)
	b.WriteString(renderEntries(doc.Entries))

	var notes []string
	for _, w := range p.Warnings {
		notes = append(notes, FormatWarning(issueLine(w)))
	}
	for _, n := range p.Notices {
		notes = append(notes, FormatInfo(issueLine(n)))
	}

	footer := SubtleStyle.Render(fmt.Sprintf("risk %s · confirmation %s · expires %s · id %s",
		p.RiskLevel, p.RequiredConfirmation, p.ExpiresAt.Format("15:04"), p.TransactionID))

	parts := []string{RenderBox(LedgerIcon+" Preview", strings.TrimRight(b.String(), "\n"))}
	if len(notes) > 0 {
		parts = append(parts, strings.Join(notes, "\n"))
	}
	parts = append(parts, footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderEntries(entries []model.Entry) string {
	width := len("Ledger")
	for _, e := range entries {
		if len(e.Ledger) > width {
			width = len(e.Ledger)
		}
	}
	row := func(ledger, debit, credit string) string {
		return fmt.Sprintf("%-*s  %12s  %12s", width, ledger, debit, credit)
	}

	lines := []string{TableHeaderStyle.Render(row("Ledger", "Debit", "Credit"))}
	for _, e := range entries {
		debit, credit := "", ""
		if e.Debit.IsPositive() {
			debit = e.Debit.StringFixed(2)
		}
		if e.Credit.IsPositive() {
			credit = e.Credit.StringFixed(2)
		}
		lines = append(lines, row(e.Ledger, debit, credit))
	}
	return strings.Join(lines, "\n")
}

func renderClarification(r response.Response) string {
	c := r.Clarification
	if c == nil {
		return FormatPrompt(r.Text)
	}

	lines := []string{FormatPrompt(c.Question)}
	for _, issue := range c.Issues {
		lines = append(lines, FormatError(issueLine(issue)))
	}

	fields := make([]string, 0, len(c.Candidates))
	for field := range c.Candidates {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		for i, candidate := range c.Candidates[field] {
			lines = append(lines, fmt.Sprintf("  [%d] %s %s", i+1, candidate.Name,
				SubtleStyle.Render(fmt.Sprintf("(%.0f%%)", candidate.Score*100))))
		}
	}
	return strings.Join(lines, "\n")
}

func renderNavigation(r response.Response) string {
	if r.Navigation == nil {
		return r.Text
	}
	keys := make([]string, 0, len(r.Navigation.Params))
	for k := range r.Navigation.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	params := make([]string, len(keys))
	for i, k := range keys {
		params[i] = k + "=" + r.Navigation.Params[k]
	}

	line := FormatInfo(fmt.Sprintf("%s → %s", r.Text, r.Navigation.Target))
	if len(params) > 0 {
		line += " " + SubtleStyle.Render(strings.Join(params, " "))
	}
	return line
}

func renderError(r response.Response) string {
	e := r.Error
	if e == nil {
		return FormatError(r.Text)
	}

	lines := []string{FormatError(fmt.Sprintf("%s (%s)", e.Message, e.Code))}
	for _, issue := range e.Issues {
		lines = append(lines, "  "+ErrorStyle.Render(issueLine(issue)))
	}
	for _, s := range e.Suggestions {
		lines = append(lines, "  "+SubtleStyle.Render("→ "+s))
	}
	return strings.Join(lines, "\n")
}

func issueLine(i response.Issue) string {
	line := fmt.Sprintf("[%s] %s", i.RuleID, i.Message)
	if i.SuggestedAction != "" {
		line += " " + SubtleStyle.Render("("+i.SuggestedAction+")")
	}
	return line
}
