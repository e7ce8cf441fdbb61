package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Veraticus/the-books-must-balance/internal/audit"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/compliance"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/response"
)

func newID() string { return uuid.NewString() }

func (p *Pipeline) handleVoucher(ctx context.Context, req *request) (response.Response, error) {
	intent := req.class.Intent

	params := p.extract(ctx, req)
	if !params.IsValid() {
		p.rememberAmbiguity(ctx, req, params)
		return response.Clarify(params), nil
	}

	facts, err := p.deps.Facts.Load(ctx, params, intent)
	if err != nil {
		return response.Response{}, err
	}
	result := p.deps.Validator.Validate(params, intent, facts)
	if result.HasBlockingErrors() {
		p.logger.Info("command blocked by compliance rules",
			"actor", req.actor,
			"intent", intent.String(),
			"rules", ruleIDs(result.Blocking()))
		return response.Blocked(result), nil
	}

	doc, err := p.deps.Generator.Generate(ctx, params, intent)
	if err != nil {
		return response.Response{}, err
	}

	preview, err := p.savePreview(ctx, req, params, result, doc)
	if err != nil {
		return response.Response{}, err
	}

	if req.cmd.AutoApprove && autoApprovable(preview) {
		return p.approve(ctx, ApproveRequest{
			Caller:        req.cmd.Caller,
			TransactionID: preview.ID,
			Approved:      true,
			Confirmation:  preview.Confirmation,
		}), nil
	}
	return response.FromPreview(preview), nil
}

// extract runs the extractor and applies a counterparty picked in a follow-up.
func (p *Pipeline) extract(ctx context.Context, req *request) *model.ParameterSet {
	params := p.deps.Extractor.Extract(ctx, req.text, req.class.Intent)
	if req.override != nil {
		params.Set(req.override)
	}
	req.params = params
	return params
}

func (p *Pipeline) savePreview(ctx context.Context, req *request, params *model.ParameterSet,
	result model.ValidationResult, doc *model.Document) (*model.Preview, error) {
	issues := append(append([]model.ValidationIssue(nil), result.Issues...), params.Issues()...)
	model.SortIssues(issues)

	now := p.now().UTC()
	preview := &model.Preview{
		ID:        p.newID(),
		CallerID:  req.actor,
		Intent:    req.class.Intent,
		Issues:    issues,
		Status:    model.PreviewPending,
		CreatedAt: now,
		ExpiresAt: now.Add(p.cfg.PreviewTTL),
	}
	preview.Risk = assessRisk(doc, issues, p.cfg)
	preview.Confirmation = confirmationFor(preview.Risk)

	preview.Document = *doc
	preview.Document.Reference = preview.ID

	if err := p.deps.Previews.SavePreview(ctx, preview); err != nil {
		return nil, common.NewSystemError("PREVIEW_SAVE_FAILED", "could not store the preview", err)
	}

	p.record(ctx, model.AuditEntry{
		EntityType: model.AuditEntityPreview,
		EntityID:   preview.ID,
		Actor:      req.actor,
		Action:     "preview_created",
		NewValue:   audit.Snapshot(preview.Document),
		Reason:     fmt.Sprintf("%s via %s (%.2f)", req.class.Intent, req.class.Method, req.class.Confidence),
	})
	return preview, nil
}

// assessRisk: any warning raises risk to medium; high value, a round-trip
// pattern or several warnings raise it to high.
func assessRisk(doc *model.Document, issues []model.ValidationIssue, cfg Config) model.RiskLevel {
	warnings := 0
	suspicious := false
	for _, issue := range issues {
		if issue.Severity != model.SeverityWarn {
			continue
		}
		warnings++
		if issue.RuleID == compliance.RuleRoundTripping {
			suspicious = true
		}
	}

	switch {
	case suspicious, warnings >= 2, doc.Amount.GreaterThanOrEqual(cfg.HighValue):
		return model.RiskHigh
	case warnings == 1:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

func confirmationFor(risk model.RiskLevel) model.Confirmation {
	switch risk {
	case model.RiskHigh:
		return model.ConfirmDouble
	case model.RiskMedium:
		return model.ConfirmAcknowledge
	default:
		return model.ConfirmSingle
	}
}

func autoApprovable(preview *model.Preview) bool {
	if preview.Risk != model.RiskLow {
		return false
	}
	for _, issue := range preview.Issues {
		if issue.Severity == model.SeverityWarn || issue.Severity == model.SeverityBlock {
			return false
		}
	}
	return true
}

func ruleIDs(issues []model.ValidationIssue) []string {
	ids := make([]string, len(issues))
	for i, issue := range issues {
		ids[i] = issue.RuleID
	}
	return ids
}

// rememberAmbiguity stores a pending counterparty choice so the caller can
// answer with just the name.
func (p *Pipeline) rememberAmbiguity(ctx context.Context, req *request, params *model.ParameterSet) {
	candidates := params.Candidates[model.FieldCounterparty]
	if len(candidates) == 0 || params.Has(model.FieldCounterparty) {
		return
	}

	session := Session{
		CreatedAt:      p.now().UTC(),
		Message:        req.text,
		Field:          model.FieldCounterparty,
		Candidates:     candidates,
		Classification: req.class,
	}
	if err := p.deps.Sessions.Put(ctx, req.actor, session, p.cfg.SessionTTL); err != nil {
		p.logger.Warn("could not remember pending choice", "actor", req.actor, "error", err)
	}
}

// resumeSession turns a reply naming one pending candidate back into the
// original command with that counterparty.
func (p *Pipeline) resumeSession(ctx context.Context, req *request) error {
	session, err := p.deps.Sessions.Take(ctx, req.actor)
	if err != nil || session == nil {
		return err
	}

	choice, ok := pickCandidate(req.text, session.Candidates)
	if !ok {
		return nil
	}

	p.logger.Debug("resuming command with chosen candidate", "actor", req.actor, "choice", choice)
	req.text = session.Message
	req.class = session.Classification
	req.override = &model.ExtractedField{
		Name:       session.Field,
		Raw:        choice,
		Value:      choice,
		Confidence: 1,
	}
	return nil
}

// pickCandidate accepts a 1-based index, an exact name, or a fragment naming
// exactly one candidate.
func pickCandidate(reply string, candidates []model.Candidate) (string, bool) {
	reply = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(reply), "."))
	if reply == "" {
		return "", false
	}

	if n, err := strconv.Atoi(reply); err == nil {
		if n >= 1 && n <= len(candidates) {
			return candidates[n-1].Name, true
		}
		return "", false
	}

	var partial []string
	for _, c := range candidates {
		if strings.EqualFold(c.Name, reply) {
			return c.Name, true
		}
		if strings.Contains(strings.ToLower(c.Name), strings.ToLower(reply)) {
			partial = append(partial, c.Name)
		}
	}
	if len(partial) == 1 {
		return partial[0], true
	}
	return "", false
}
