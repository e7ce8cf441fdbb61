package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentNames(t *testing.T) {
	for _, intent := range AllIntents() {
		parsed, err := ParseIntent(intent.String())
		require.NoError(t, err)
		assert.Equal(t, intent, parsed)
	}

	_, err := ParseIntent("TRANSFER_FUNDS")
	assert.Error(t, err)

	parsed, err := ParseIntent(" create_receipt ")
	require.NoError(t, err)
	assert.Equal(t, IntentCreateReceipt, parsed)
}

func TestIntentJSON(t *testing.T) {
	data, err := json.Marshal(Classification{Intent: IntentCreatePayment, Confidence: 0.9, Method: MethodPattern})
	require.NoError(t, err)
	assert.JSONEq(t, `{"intent":"CREATE_PAYMENT","confidence":0.9,"method":"pattern"}`, string(data))

	var decoded Classification
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, IntentCreatePayment, decoded.Intent)
}

func TestIntentVoucherType(t *testing.T) {
	assert.Equal(t, VoucherReceipt, IntentCreateReceipt.VoucherType())
	assert.Equal(t, VoucherPurchase, IntentCreatePurchaseInvoice.VoucherType())
	assert.True(t, IntentCreateSalesInvoice.CreatesVoucher())
	assert.False(t, IntentQueryBalance.CreatesVoucher())
	assert.Empty(t, IntentHelp.VoucherType())
}
