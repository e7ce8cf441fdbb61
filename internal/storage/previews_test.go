package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func TestPreviews_Lifecycle(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	preview := &model.Preview{
		ID:           "p-1",
		CallerID:     "alice",
		Intent:       model.IntentCreateReceipt,
		Risk:         model.RiskMedium,
		Confirmation: model.ConfirmAcknowledge,
		Document:     testDocument("p-1", model.VoucherReceipt, 5000, now),
		Issues: []model.ValidationIssue{
			{RuleID: "future_date", Severity: model.SeverityWarn, Field: model.FieldDate, Message: "future"},
		},
		CreatedAt: now,
		ExpiresAt: now.Add(15 * time.Minute),
	}
	require.NoError(t, store.SavePreview(ctx, preview))
	assert.ErrorIs(t, store.SavePreview(ctx, preview), common.ErrDuplicateEntry)

	got, err := store.GetPreview(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, model.PreviewPending, got.Status)
	assert.Equal(t, model.IntentCreateReceipt, got.Intent)
	assert.Equal(t, model.RiskMedium, got.Risk)
	require.Len(t, got.Issues, 1)
	assert.Equal(t, "future_date", got.Issues[0].RuleID)
	assert.True(t, preview.Document.Matches(&got.Document))

	require.NoError(t, store.UpdatePreviewStatus(ctx, "p-1", model.PreviewPending, model.PreviewApproved))
	err = store.UpdatePreviewStatus(ctx, "p-1", model.PreviewPending, model.PreviewRejected)
	assert.ErrorIs(t, err, common.ErrStaleState)

	err = store.UpdatePreviewStatus(ctx, "p-2", model.PreviewPending, model.PreviewApproved)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = store.GetPreview(ctx, "p-2")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
