package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const openAIURL = "https://api.openai.com/v1/chat/completions"

// openAIClient implements Client for the OpenAI chat completions API.
type openAIClient struct {
	httpClient *http.Client
	url        string
	cfg        Config
}

func newOpenAIClient(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	url := openAIURL
	if cfg.BaseURL != "" {
		url = strings.TrimRight(cfg.BaseURL, "/") + "/v1/chat/completions"
	}

	return &openAIClient{
		cfg:        withDefaults(cfg, "gpt-4o-mini"),
		url:        url,
		httpClient: newHTTPClient(),
	}, nil
}

// openAIResponse represents the OpenAI API response structure.
type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		Index int `json:"index"`
	} `json:"choices"`
}

// Complete sends a chat completion request to OpenAI.
func (c *openAIClient) Complete(ctx context.Context, req Request) (string, error) {
	temperature, maxTokens := requestParams(c.cfg, req)

	messages := make([]map[string]string, 0, 2)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	body := map[string]any{
		"model":       c.cfg.Model,
		"messages":    messages,
		"temperature": temperature,
		"max_tokens":  maxTokens,
	}
	if req.JSON {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	var response openAIResponse
	if err := postJSON(ctx, c.httpClient, c.url, headers, body, &response); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("openai: no completion choices returned")
	}
	return response.Choices[0].Message.Content, nil
}
