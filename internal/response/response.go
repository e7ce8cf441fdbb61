// Package response shapes pipeline outcomes into the closed set of replies callers receive.
package response

import (
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Type names a response shape.
type Type string

// Response shapes.
const (
	TypeText          Type = "text"
	TypePreview       Type = "preview"
	TypeNavigation    Type = "navigation"
	TypeClarification Type = "clarification"
	TypeError         Type = "error"
)

// Response is what a command or approval returns. Exactly one body matching
// Type is set.
type Response struct {
	Preview       *Preview       `json:"preview,omitempty"`
	Navigation    *Navigation    `json:"navigation,omitempty"`
	Clarification *Clarification `json:"clarification,omitempty"`
	Error         *ErrorBody     `json:"error,omitempty"`
	Transaction   *Transaction   `json:"transaction,omitempty"`
	Type          Type           `json:"type"`
	Text          string         `json:"text,omitempty"`
}

// Issue is a validation finding as shown to the operator.
type Issue struct {
	RuleID          string `json:"rule_id"`
	Field           string `json:"field,omitempty"`
	Message         string `json:"message"`
	SuggestedAction string `json:"suggested_action,omitempty"`
}

// Preview is a generated document awaiting approval.
type Preview struct {
	ExpiresAt            time.Time          `json:"expires_at"`
	Document             model.Document     `json:"document"`
	TransactionID        string             `json:"transaction_id"`
	RiskLevel            model.RiskLevel    `json:"risk_level"`
	RequiredConfirmation model.Confirmation `json:"required_confirmation"`
	Warnings             []Issue            `json:"warnings,omitempty"`
	Notices              []Issue            `json:"notices,omitempty"`
}

// Navigation points the caller at a view this pipeline does not render.
type Navigation struct {
	Params map[string]string `json:"params,omitempty"`
	Target string            `json:"target"`
}

// Clarification asks the operator for what is missing or ambiguous.
type Clarification struct {
	Candidates    map[string][]model.Candidate `json:"candidates"`
	Question      string                       `json:"question"`
	MissingFields []string                     `json:"missing_fields"`
	Issues        []Issue                      `json:"issues,omitempty"`
}

// ErrorBody is the error shape. Code is stable; Message is safe to display.
type ErrorBody struct {
	Code              string   `json:"code"`
	Kind              string   `json:"kind"`
	Message           string   `json:"message"`
	Severity          string   `json:"severity,omitempty"`
	Suggestions       []string `json:"suggestions,omitempty"`
	Issues            []Issue  `json:"issues,omitempty"`
	RetryAvailable    bool     `json:"retry_available"`
	RetryAfterSeconds int      `json:"retry_after_seconds,omitempty"`
}

// Transaction summarizes the outcome of an approval.
type Transaction struct {
	ID          string                  `json:"id"`
	Status      model.TransactionStatus `json:"status"`
	ExternalRef string                  `json:"external_ref,omitempty"`
}

func issues(in []model.ValidationIssue) []Issue {
	if len(in) == 0 {
		return nil
	}
	out := make([]Issue, len(in))
	for i, issue := range in {
		out[i] = Issue{
			RuleID:          issue.RuleID,
			Field:           issue.Field,
			Message:         issue.Message,
			SuggestedAction: issue.SuggestedAction,
		}
	}
	return out
}
