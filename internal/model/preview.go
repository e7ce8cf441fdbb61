package model

import "time"

// RiskLevel summarizes how carefully a preview must be reviewed.
type RiskLevel string

// Risk levels.
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Confirmation is the approval gesture the operator must make.
type Confirmation string

// Confirmation kinds, from lightest to heaviest.
const (
	ConfirmSingle      Confirmation = "single"
	ConfirmAcknowledge Confirmation = "acknowledge_warnings"
	ConfirmDouble      Confirmation = "double"
)

// PreviewStatus tracks a preview awaiting approval.
type PreviewStatus string

// Preview statuses.
const (
	PreviewPending   PreviewStatus = "pending"
	PreviewConfirmed PreviewStatus = "confirmed" // first of two approvals seen
	PreviewApproved  PreviewStatus = "approved"
	PreviewRejected  PreviewStatus = "rejected"
)

// Preview is a generated document waiting for a human decision.
// Its ID becomes the transaction ID once approved.
type Preview struct {
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
	ID           string            `json:"id"`
	CallerID     string            `json:"caller_id"`
	Status       PreviewStatus     `json:"status"`
	Risk         RiskLevel         `json:"risk"`
	Confirmation Confirmation      `json:"confirmation"`
	Issues       []ValidationIssue `json:"issues,omitempty"`
	Document     Document          `json:"document"`
	Intent       Intent            `json:"intent"`
}

// Expired reports whether the preview can no longer be approved.
func (p *Preview) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}
