package model

import (
	"sort"
)

// IssueSeverity tells the pipeline what to do with a validation issue.
type IssueSeverity string

// Issue severities, from least to most severe.
const (
	SeverityInfo  IssueSeverity = "INFO"
	SeverityWarn  IssueSeverity = "WARN"
	SeverityBlock IssueSeverity = "BLOCK"
)

// Rank orders severities so BLOCK > WARN > INFO.
func (s IssueSeverity) Rank() int {
	switch s {
	case SeverityBlock:
		return 2
	case SeverityWarn:
		return 1
	default:
		return 0
	}
}

// ValidationIssue is one finding from a field check or a compliance rule.
type ValidationIssue struct {
	RuleID          string        `json:"rule_id"`
	Severity        IssueSeverity `json:"severity"`
	Field           string        `json:"field,omitempty"`
	Message         string        `json:"message"`
	SuggestedAction string        `json:"suggested_action,omitempty"`
}

// ValidationResult aggregates the issues produced by the rule table.
type ValidationResult struct {
	Issues []ValidationIssue `json:"issues"`
}

// HasBlockingErrors is true iff any issue has severity BLOCK.
func (r ValidationResult) HasBlockingErrors() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Blocking returns the BLOCK issues.
func (r ValidationResult) Blocking() []ValidationIssue {
	return r.bySeverity(SeverityBlock)
}

// Warnings returns the WARN issues.
func (r ValidationResult) Warnings() []ValidationIssue {
	return r.bySeverity(SeverityWarn)
}

// Notices returns the INFO issues.
func (r ValidationResult) Notices() []ValidationIssue {
	return r.bySeverity(SeverityInfo)
}

func (r ValidationResult) bySeverity(severity IssueSeverity) []ValidationIssue {
	var out []ValidationIssue
	for _, issue := range r.Issues {
		if issue.Severity == severity {
			out = append(out, issue)
		}
	}
	return out
}

// SortIssues orders issues by severity (most severe first), then rule, field and message.
func SortIssues(issues []ValidationIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.Message < b.Message
	})
}
