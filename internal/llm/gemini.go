package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/Veraticus/the-books-must-balance/internal/common"
)

// geminiClient implements Client with the Google GenAI SDK.
type geminiClient struct {
	client *genai.Client
	cfg    Config
}

func newGeminiClient(ctx context.Context, cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &geminiClient{
		client: client,
		cfg:    withDefaults(cfg, "gemini-2.0-flash"),
	}, nil
}

// Complete generates content with Gemini.
func (c *geminiClient) Complete(ctx context.Context, req Request) (string, error) {
	temperature, maxTokens := requestParams(c.cfg, req)

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: int32(maxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	result, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, genai.Text(req.Prompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", classifyGeminiError(ctx, err))
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("gemini: no content in response")
	}
	return text, nil
}

func classifyGeminiError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		return fmt.Errorf("%w: %w", common.ErrUnavailable, err)
	}

	if code == http.StatusTooManyRequests || code >= 500 {
		return fmt.Errorf("%w: %w", common.ErrUnavailable, err)
	}
	return err
}
