package llm

import (
	"context"
	"time"
)

// Client is a single language-model provider.
type Client interface {
	// Complete returns the raw text of the model's reply.
	Complete(ctx context.Context, req Request) (string, error)
}

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSON asks the provider for a JSON-only reply where supported.
	JSON bool
}

// Config selects and tunes a provider.
type Config struct {
	Provider       string        `mapstructure:"provider"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	BaseURL        string        `mapstructure:"base_url"`
	RateLimit      int           `mapstructure:"rate_limit"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	Temperature    float64       `mapstructure:"temperature"`
}
