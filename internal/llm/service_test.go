package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/common"
)

type scriptedClient struct {
	replies  []string
	errs     []error
	requests []Request
	mu       sync.Mutex
}

func (c *scriptedClient) Complete(_ context.Context, req Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.requests)
	c.requests = append(c.requests, req)

	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	reply := ""
	if i < len(c.replies) {
		reply = c.replies[i]
	}
	return reply, err
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func testService(client Client) *Service {
	return NewService(client, Config{RetryDelay: time.Millisecond, RateLimit: 600}, nil, nil)
}

func TestServiceGenerate(t *testing.T) {
	client := &scriptedClient{replies: []string{"```json\n{\"intent\":\"HELP\",\"confidence\":0.9}\n```"}}
	svc := testService(client)
	defer svc.Close()

	schema := json.RawMessage(`{"type":"object"}`)
	out, err := svc.Generate(context.Background(), GenerateRequest{System: "classify", Prompt: "help me", Schema: schema})
	require.NoError(t, err)
	assert.JSONEq(t, `{"intent":"HELP","confidence":0.9}`, string(out))

	require.Equal(t, 1, client.calls())
	assert.Contains(t, client.requests[0].System, "classify")
	assert.Contains(t, client.requests[0].System, `{"type":"object"}`)
	assert.True(t, client.requests[0].JSON)
}

func TestServiceRetriesTransientFailures(t *testing.T) {
	client := &scriptedClient{
		errs:    []error{common.ErrUnavailable, nil},
		replies: []string{"", `{"ok":true}`},
	}
	svc := testService(client)
	defer svc.Close()

	out, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
	assert.Equal(t, 2, client.calls())
}

func TestServiceRetriesMalformedReplies(t *testing.T) {
	client := &scriptedClient{replies: []string{"sorry, I cannot", `{"ok":true}`}}
	svc := testService(client)
	defer svc.Close()

	_, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls())
}

func TestServiceGivesUpAfterMaxAttempts(t *testing.T) {
	client := &scriptedClient{errs: []error{common.ErrTimeout, common.ErrTimeout, common.ErrTimeout, common.ErrTimeout}}
	svc := testService(client)
	defer svc.Close()

	_, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "x", MaxAttempts: 3})
	require.Error(t, err)
	assert.Equal(t, 3, client.calls())

	appErr, ok := common.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "LLM_UNAVAILABLE", appErr.Code)
	assert.Equal(t, common.KindSystem, appErr.Kind)
	assert.True(t, appErr.Retryable)
}

func TestServiceDoesNotRetryPermanentErrors(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("API error (status 400)")}}
	svc := testService(client)
	defer svc.Close()

	_, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, 1, client.calls())
}

func TestServiceCache(t *testing.T) {
	client := &scriptedClient{replies: []string{`{"n":1}`, `{"n":2}`}}
	svc := testService(client)
	defer svc.Close()

	for i := 0; i < 3; i++ {
		out, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "x", CacheKey: "k"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":1}`, string(out))
	}
	assert.Equal(t, 1, client.calls())
	assert.Equal(t, 1, svc.cache.size())
}

func TestServiceHonorsContext(t *testing.T) {
	client := &scriptedClient{errs: []error{common.ErrUnavailable, common.ErrUnavailable, common.ErrUnavailable}}
	svc := NewService(client, Config{RetryDelay: time.Second}, nil, nil)
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := svc.Generate(ctx, GenerateRequest{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
