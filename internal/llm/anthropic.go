package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const anthropicURL = "https://api.anthropic.com/v1/messages"

// anthropicClient implements Client for the Anthropic messages API.
type anthropicClient struct {
	httpClient *http.Client
	url        string
	cfg        Config
}

func newAnthropicClient(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	url := anthropicURL
	if cfg.BaseURL != "" {
		url = strings.TrimRight(cfg.BaseURL, "/") + "/v1/messages"
	}

	return &anthropicClient{
		cfg:        withDefaults(cfg, "claude-3-5-sonnet-latest"),
		url:        url,
		httpClient: newHTTPClient(),
	}, nil
}

// anthropicResponse represents the Anthropic API response structure.
type anthropicResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends a messages request to Anthropic.
func (c *anthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	temperature, maxTokens := requestParams(c.cfg, req)

	body := map[string]any{
		"model":       c.cfg.Model,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if req.System != "" {
		body["system"] = req.System
	}

	headers := map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": "2023-06-01",
	}

	var response anthropicResponse
	if err := postJSON(ctx, c.httpClient, c.url, headers, body, &response); err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	for _, block := range response.Content {
		if block.Type == "text" || block.Type == "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic: no content in response")
}
