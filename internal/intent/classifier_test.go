package intent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/llm"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

type fakeGenerator struct {
	err      error
	delay    time.Duration
	reply    string
	requests []llm.GenerateRequest
	mu       sync.Mutex
}

func (f *fakeGenerator) Generate(ctx context.Context, req llm.GenerateRequest) (json.RawMessage, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.reply), nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func TestClassifierPatterns(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("must not be called")}
	c, err := NewClassifier(gen, Config{}, nil)
	require.NoError(t, err)

	tests := []struct {
		text   string
		intent model.Intent
	}{
		{"received 50000 from HDFC Bank", model.IntentCreateReceipt},
		{"Got ₹2,000 from Ramesh in cash", model.IntentCreateReceipt},
		{"paid 12000 to Sharma Contractors", model.IntentCreatePayment},
		{"transferred 5L to Acme Corp via NEFT", model.IntentCreatePayment},
		{"create sales invoice for Acme Traders 1.5L @18%", model.IntentCreateSalesInvoice},
		{"purchase bill from Metro Wholesale 45000", model.IntentCreatePurchaseInvoice},
		{"add customer Acme Traders", model.IntentCreateEntity},
		{"create a new supplier Metro Wholesale", model.IntentCreateEntity},
		{"what is the balance with HDFC Bank", model.IntentQueryBalance},
		{"show me the balance sheet", model.IntentQueryReport},
		{"P&L for March", model.IntentQueryReport},
		{"help", model.IntentHelp},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := c.Classify(context.Background(), tt.text)
			assert.Equal(t, tt.intent, got.Intent)
			assert.Equal(t, model.MethodPattern, got.Method)
			assert.GreaterOrEqual(t, got.Confidence, DefaultThreshold)
		})
	}
	assert.Zero(t, gen.calls())
}

func TestClassifierLLMFallback(t *testing.T) {
	tests := []struct {
		name   string
		gen    *fakeGenerator
		intent model.Intent
		method model.ClassificationMethod
	}{
		{
			name:   "valid reply",
			gen:    &fakeGenerator{reply: `{"intent":"CREATE_PAYMENT","confidence":0.82}`},
			intent: model.IntentCreatePayment,
			method: model.MethodLLM,
		},
		{
			name:   "lowercase intent",
			gen:    &fakeGenerator{reply: `{"intent":"query_balance","confidence":0.9}`},
			intent: model.IntentQueryBalance,
			method: model.MethodLLM,
		},
		{
			name:   "unknown intent",
			gen:    &fakeGenerator{reply: `{"intent":"ORDER_PIZZA","confidence":0.99}`},
			intent: model.IntentClarify,
			method: model.MethodLLM,
		},
		{
			name:   "low confidence",
			gen:    &fakeGenerator{reply: `{"intent":"CREATE_PAYMENT","confidence":0.3}`},
			intent: model.IntentClarify,
			method: model.MethodLLM,
		},
		{
			name:   "unparseable",
			gen:    &fakeGenerator{reply: `["CREATE_PAYMENT"]`},
			intent: model.IntentClarify,
			method: model.MethodLLM,
		},
		{
			name:   "service error",
			gen:    &fakeGenerator{err: errors.New("boom")},
			intent: model.IntentClarify,
			method: model.MethodLLM,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClassifier(tt.gen, Config{}, nil)
			require.NoError(t, err)

			got := c.Classify(context.Background(), "settle the thing with mehta")
			assert.Equal(t, tt.intent, got.Intent)
			assert.Equal(t, tt.method, got.Method)
			if tt.intent == model.IntentClarify {
				assert.Zero(t, got.Confidence)
			}
			require.Equal(t, 1, tt.gen.calls())
			assert.Equal(t, "intent:settle the thing with mehta", tt.gen.requests[0].CacheKey)
		})
	}
}

func TestClassifierLLMTimeout(t *testing.T) {
	gen := &fakeGenerator{delay: time.Second, reply: `{"intent":"HELP","confidence":1}`}
	c, err := NewClassifier(gen, Config{Timeout: 30 * time.Millisecond}, nil)
	require.NoError(t, err)

	start := time.Now()
	got := c.Classify(context.Background(), "hmm")
	assert.Equal(t, model.IntentClarify, got.Intent)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestClassifierWithoutGenerator(t *testing.T) {
	c, err := NewClassifier(nil, Config{}, nil)
	require.NoError(t, err)

	assert.Equal(t, model.IntentClarify, c.Classify(context.Background(), "something vague").Intent)
	// Weak patterns alone never settle the intent.
	assert.Equal(t, model.IntentClarify, c.Classify(context.Background(), "payment").Intent)
}

func TestSystemPromptListsEveryIntent(t *testing.T) {
	prompt := systemPrompt()
	for _, intent := range model.AllIntents() {
		assert.Contains(t, prompt, intent.String())
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "received 500 from x", Normalize("  Received\t500  FROM x\n"))
}
