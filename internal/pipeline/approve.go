package pipeline

import (
	"context"
	"errors"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/response"
	"github.com/Veraticus/the-books-must-balance/internal/safety"
)

// Approval error codes.
const (
	CodePreviewNotFound      = "PREVIEW_NOT_FOUND"
	CodePreviewExpired       = "PREVIEW_EXPIRED"
	CodePreviewRejected      = "PREVIEW_REJECTED"
	CodeConfirmationRequired = "CONFIRMATION_REQUIRED"
)

// Approve applies the operator's decision on a preview. Approving an id that
// already committed returns the stored result without writing again.
func (p *Pipeline) Approve(ctx context.Context, req ApproveRequest) response.Response {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ApproveTimeout)
	defer cancel()
	ctx = safety.WithActor(ctx, actorOf(req.Caller))

	return p.approve(ctx, req)
}

func (p *Pipeline) approve(ctx context.Context, req ApproveRequest) response.Response {
	actor := actorOf(req.Caller)

	tx, awaiting, err := p.decide(ctx, req, actor)
	if err != nil {
		p.logger.Warn("approval failed",
			"actor", actor,
			"transaction_id", req.TransactionID,
			"code", common.CodeOf(err),
			"error", err)
		return response.FromError(err)
	}
	if awaiting != nil {
		return response.ConfirmAgain(awaiting)
	}
	if tx == nil {
		return response.Rejected(req.TransactionID)
	}
	return response.FromTransaction(tx)
}

// decide returns a nil transaction when the preview was discarded, and the
// preview itself when a double confirmation still waits for its second approval.
//
// An approval that names no confirmation level accepts the level the preview
// asked for: the caller was shown its warnings. Naming a lower level is denied.
func (p *Pipeline) decide(ctx context.Context, req ApproveRequest, actor string) (*model.Transaction, *model.Preview, error) {
	if req.TransactionID == "" {
		return nil, nil, common.NewValidationError("MISSING_TRANSACTION_ID", "transaction_id is required", nil)
	}

	preview, err := p.deps.Previews.GetPreview(ctx, req.TransactionID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil, notFound()
	}
	if err != nil {
		return nil, nil, common.NewSystemError("PREVIEW_LOAD_FAILED", "could not load the preview", err)
	}
	if preview.CallerID != "" && preview.CallerID != actor {
		return nil, nil, notFound()
	}

	switch preview.Status {
	case model.PreviewApproved:
		if !req.Approved {
			return nil, nil, common.NewValidationError(CodePreviewRejected, "this preview was already approved and cannot be discarded", nil)
		}
		tx, err := p.execute(ctx, preview, actor)
		return tx, nil, err
	case model.PreviewRejected:
		return nil, nil, common.NewValidationError(CodePreviewRejected, "this preview was discarded", nil).
			WithSuggestions("submit the command again")
	}

	if preview.Expired(p.now()) {
		return nil, nil, common.NewValidationError(CodePreviewExpired, "this preview has expired", nil).
			WithSuggestions("submit the command again to get a fresh preview")
	}

	if !req.Approved {
		if err := p.setStatus(ctx, preview, preview.Status, model.PreviewRejected, actor); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}

	confirmation := req.Confirmation
	if confirmation == "" {
		confirmation = preview.Confirmation
		if preview.Confirmation == model.ConfirmDouble && preview.Status == model.PreviewPending {
			if err := p.setStatus(ctx, preview, model.PreviewPending, model.PreviewConfirmed, actor); err != nil {
				return nil, nil, err
			}
			preview.Status = model.PreviewConfirmed
			return nil, preview, nil
		}
	}

	if rank(confirmation) < rank(preview.Confirmation) {
		return nil, nil, common.NewValidationError(CodeConfirmationRequired,
			"this document needs "+string(preview.Confirmation)+" confirmation", nil).
			WithSuggestions("review the warnings and approve again with confirmation " + string(preview.Confirmation))
	}

	if err := p.setStatus(ctx, preview, preview.Status, model.PreviewApproved, actor); err != nil {
		return nil, nil, err
	}
	tx, err := p.execute(ctx, preview, actor)
	return tx, nil, err
}

func (p *Pipeline) execute(ctx context.Context, preview *model.Preview, actor string) (*model.Transaction, error) {
	if _, err := p.deps.Executor.Begin(ctx, preview.ID, actor, preview.Document); err != nil {
		return nil, err
	}
	return p.deps.Executor.Execute(ctx, preview.ID, actor)
}

// setStatus moves an undecided preview. Losing the race to an identical decision is fine.
func (p *Pipeline) setStatus(ctx context.Context, preview *model.Preview, from, to model.PreviewStatus, actor string) error {
	err := p.deps.Previews.UpdatePreviewStatus(ctx, preview.ID, from, to)
	if errors.Is(err, common.ErrStaleState) {
		current, getErr := p.deps.Previews.GetPreview(ctx, preview.ID)
		if getErr == nil && current.Status == to {
			return nil
		}
		return common.NewValidationError(CodePreviewRejected, "this preview was already decided", err)
	}
	if err != nil {
		return common.NewSystemError("PREVIEW_UPDATE_FAILED", "could not record the decision", err)
	}

	action := "preview_approved"
	switch to {
	case model.PreviewRejected:
		action = "preview_rejected"
	case model.PreviewConfirmed:
		action = "preview_confirmed"
	}
	p.record(ctx, model.AuditEntry{
		EntityType: model.AuditEntityPreview,
		EntityID:   preview.ID,
		Actor:      actor,
		Action:     action,
		OldValue:   string(from),
		NewValue:   string(to),
	})
	return nil
}

func notFound() error {
	return common.NewValidationError(CodePreviewNotFound, "no preview with that transaction id", nil)
}

func rank(c model.Confirmation) int {
	switch c {
	case model.ConfirmDouble:
		return 3
	case model.ConfirmAcknowledge:
		return 2
	case model.ConfirmSingle, "":
		return 1
	default:
		return 0
	}
}
