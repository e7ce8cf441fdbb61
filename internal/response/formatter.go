package response

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Codes produced here rather than by a component.
const (
	CodeComplianceBlocked = "COMPLIANCE_BLOCKED"
	CodeInternal          = "INTERNAL_ERROR"
	CodeTimeout           = "TIMEOUT"
	CodeCanceled          = "CANCELED"
)

// Text wraps a plain message.
func Text(format string, args ...any) Response {
	return Response{Type: TypeText, Text: fmt.Sprintf(format, args...)}
}

// Navigate sends the caller to a view by name.
func Navigate(target string, params map[string]string, text string) Response {
	return Response{
		Type:       TypeNavigation,
		Text:       text,
		Navigation: &Navigation{Target: target, Params: params},
	}
}

// FromPreview renders a stored preview. Warnings must be acknowledged before approval.
func FromPreview(p *model.Preview) Response {
	result := model.ValidationResult{Issues: p.Issues}
	return Response{
		Type: TypePreview,
		Text: summarize(&p.Document),
		Preview: &Preview{
			TransactionID:        p.ID,
			Document:             p.Document,
			RiskLevel:            p.Risk,
			RequiredConfirmation: p.Confirmation,
			Warnings:             issues(result.Warnings()),
			Notices:              issues(result.Notices()),
			ExpiresAt:            p.ExpiresAt,
		},
	}
}

// ConfirmAgain asks for the second approval of a double-confirmation preview.
func ConfirmAgain(p *model.Preview) Response {
	resp := FromPreview(p)
	resp.Text = "Confirmed once. Approve again to record it: " + resp.Text
	return resp
}

// FromTransaction reports a finished approval.
func FromTransaction(tx *model.Transaction) Response {
	body := &Transaction{ID: tx.ID, Status: tx.Status, ExternalRef: tx.ExternalRef}

	switch tx.Status {
	case model.StatusCommitted:
		return Response{Type: TypeText, Text: "Recorded: " + summarize(&tx.Payload), Transaction: body}
	case model.StatusRolledBack:
		return Response{Type: TypeText, Text: "The write could not be confirmed and was rolled back. Nothing was recorded.", Transaction: body}
	default:
		return Response{Type: TypeText, Text: fmt.Sprintf("Transaction %s is %s.", tx.ID, tx.Status), Transaction: body}
	}
}

// Rejected confirms that a preview was discarded.
func Rejected(id string) Response {
	return Response{
		Type:        TypeText,
		Text:        "Discarded. Nothing was recorded.",
		Transaction: &Transaction{ID: id},
	}
}

// Blocked reports every BLOCK issue with its remedy.
func Blocked(result model.ValidationResult) Response {
	blocking := result.Blocking()
	messages := make([]string, 0, len(blocking))
	var suggestions []string
	for _, issue := range blocking {
		messages = append(messages, issue.Message)
		if issue.SuggestedAction != "" {
			suggestions = append(suggestions, issue.SuggestedAction)
		}
	}

	return Response{
		Type: TypeError,
		Error: &ErrorBody{
			Code:        CodeComplianceBlocked,
			Kind:        string(common.KindCompliance),
			Message:     strings.Join(messages, "; "),
			Severity:    string(common.SeverityMedium),
			Suggestions: suggestions,
			Issues:      issues(blocking),
		},
	}
}

// FromError maps err onto the error shape. Only the structured error's
// Message reaches the caller; wrapped causes stay in the logs.
func FromError(err error) Response {
	body := &ErrorBody{
		Code:     CodeInternal,
		Kind:     string(common.KindSystem),
		Message:  "something went wrong while handling the command",
		Severity: string(common.SeverityHigh),
	}

	appErr, ok := common.AsError(err)
	switch {
	case ok:
		body.Code = appErr.Code
		body.Kind = string(appErr.Kind)
		body.Message = appErr.Message
		body.Severity = string(appErr.Severity)
		body.Suggestions = append([]string(nil), appErr.Suggestions...)
		body.RetryAvailable = appErr.Retryable && appErr.Kind != common.KindSecurity
		if appErr.RetryAfter > 0 {
			body.RetryAfterSeconds = int(math.Ceil(appErr.RetryAfter.Seconds()))
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, common.ErrTimeout):
		body.Code = CodeTimeout
		body.Message = "the request took too long"
		body.RetryAvailable = true
	case errors.Is(err, context.Canceled):
		body.Code = CodeCanceled
		body.Message = "the request was canceled"
	case common.IsRetryable(err):
		body.RetryAvailable = true
	}

	if body.RetryAvailable && body.RetryAfterSeconds > 0 && !mentionsRetry(body.Suggestions) {
		body.Suggestions = append(body.Suggestions, fmt.Sprintf("retry in %d seconds", body.RetryAfterSeconds))
	} else if body.RetryAvailable && len(body.Suggestions) == 0 {
		body.Suggestions = []string{"retry the request"}
	}

	return Response{Type: TypeError, Error: body}
}

func mentionsRetry(suggestions []string) bool {
	for _, s := range suggestions {
		if strings.Contains(strings.ToLower(s), "retry") {
			return true
		}
	}
	return false
}

// ClarifyIntent is returned when the command could not be classified.
func ClarifyIntent() Response {
	return Response{
		Type: TypeClarification,
		Clarification: &Clarification{
			Question:      `I couldn't tell what you want to do. Try something like "received 50000 from HDFC Bank", or type "help".`,
			MissingFields: []string{},
			Candidates:    map[string][]model.Candidate{},
		},
	}
}

// Clarify asks for each missing or ambiguous field of params.
func Clarify(params *model.ParameterSet) Response {
	missing := params.Missing()
	if missing == nil {
		missing = []string{}
	}
	candidates := make(map[string][]model.Candidate, len(params.Candidates))
	for name, c := range params.Candidates {
		candidates[name] = append([]model.Candidate{}, c...)
	}

	var questions []string
	for _, name := range missing {
		if _, ok := candidates[name]; !ok {
			candidates[name] = []model.Candidate{}
		}
		questions = append(questions, question(params, name, candidates[name]))
	}
	for _, issue := range blockingFieldIssues(params) {
		questions = append(questions, issue.Message+".")
	}
	if len(questions) == 0 {
		questions = append(questions, "Could you rephrase the command with more detail?")
	}

	return Response{
		Type: TypeClarification,
		Clarification: &Clarification{
			Question:      strings.Join(questions, " "),
			MissingFields: missing,
			Candidates:    candidates,
			Issues:        issues(params.Issues()),
		},
	}
}

func question(params *model.ParameterSet, field string, candidates []model.Candidate) string {
	raw := ""
	if f := params.Get(field); f != nil {
		raw = f.Raw
	}

	switch field {
	case model.FieldCounterparty:
		switch {
		case len(candidates) > 1:
			names := make([]string, len(candidates))
			for i, c := range candidates {
				names[i] = c.Name
			}
			return fmt.Sprintf("Which one did you mean: %s?", strings.Join(names, ", "))
		case len(candidates) == 1:
			return fmt.Sprintf("Did you mean %s?", candidates[0].Name)
		case raw != "":
			return fmt.Sprintf("I don't know %q. Please confirm the name, or create it first (for example \"add customer %s\").", raw, raw)
		default:
			return "Who is the other party?"
		}
	case model.FieldAmount:
		return "What is the amount?"
	case model.FieldEntityName:
		return "What is the name of the new entity?"
	default:
		return fmt.Sprintf("Please provide the %s.", strings.ReplaceAll(field, "_", " "))
	}
}

func blockingFieldIssues(params *model.ParameterSet) []model.ValidationIssue {
	var out []model.ValidationIssue
	for _, issue := range params.Issues() {
		if issue.Severity == model.SeverityBlock && params.Has(issue.Field) {
			out = append(out, issue)
		}
	}
	return out
}

func summarize(doc *model.Document) string {
	direction := "to"
	if doc.VoucherType.Inflow() {
		direction = "from"
	}
	return fmt.Sprintf("%s of ₹%s %s %s on %s", doc.VoucherType, doc.Amount.StringFixed(2),
		direction, doc.Counterparty, doc.Date.Format("02 Jan 2006"))
}

// HTTPStatus picks the status code a response is served with.
func HTTPStatus(r Response) int {
	if r.Type != TypeError || r.Error == nil {
		return http.StatusOK
	}
	switch r.Error.Code {
	case "TRANSACTION_NOT_FOUND", "PREVIEW_NOT_FOUND":
		return http.StatusNotFound
	case "RATE_LIMITED":
		return http.StatusTooManyRequests
	}
	switch common.Kind(r.Error.Kind) {
	case common.KindValidation:
		return http.StatusBadRequest
	case common.KindCompliance:
		return http.StatusUnprocessableEntity
	case common.KindSecurity:
		return http.StatusBadRequest
	case common.KindTransaction:
		if r.Error.RetryAvailable {
			return http.StatusConflict
		}
		return http.StatusBadGateway
	}
	if r.Error.RetryAvailable {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
