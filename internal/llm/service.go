package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/health"
)

// GenerateRequest is one structured-output call.
type GenerateRequest struct {
	Prompt string
	System string
	// Schema is a JSON schema the reply must follow. It is shown to the model.
	Schema      json.RawMessage
	Temperature float64
	// MaxAttempts overrides the service default when positive.
	MaxAttempts int
	// CacheKey enables reply caching when non-empty.
	CacheKey string
	// Timeout bounds each attempt when positive.
	Timeout time.Duration
}

// Service is the only way business logic reaches a language model.
type Service struct {
	client   Client
	limiter  *rateLimiter
	breakers *health.Breakers
	cache    *responseCache
	logger   *slog.Logger
	retry    common.RetryPolicy
}

// NewService wraps client. breakers may be shared with the health checker.
func NewService(client Client, cfg Config, breakers *health.Breakers, logger *slog.Logger) *Service {
	logger = common.OrDefault(logger)
	if breakers == nil {
		breakers = health.NewBreakers(health.DefaultBreakerConfig(), logger, health.DependencyLLM)
	}

	retry := common.DefaultRetryPolicy("llm.generate")
	retry.Logger = logger
	retry.IsRetryable = func(err error) bool {
		return errors.Is(err, ErrMalformedReply) || common.IsRetryable(err)
	}
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryDelay > 0 {
		retry.Backoff = common.ExponentialBackoff(cfg.RetryDelay, 10*cfg.RetryDelay)
	}
	retry.AttemptTimeout = cfg.AttemptTimeout
	if retry.AttemptTimeout <= 0 {
		retry.AttemptTimeout = 20 * time.Second
	}

	return &Service{
		client:   client,
		limiter:  newRateLimiter(cfg.RateLimit),
		breakers: breakers,
		cache:    newResponseCache(cfg.CacheTTL),
		logger:   logger,
		retry:    retry,
	}
}

// Generate asks the model for a JSON object and returns it.
// Failures after every attempt surface as a retryable LLM_UNAVAILABLE system error.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (json.RawMessage, error) {
	if req.CacheKey != "" {
		if cached, ok := s.cache.get(req.CacheKey); ok {
			s.logger.Debug("llm cache hit", "key", req.CacheKey)
			return cached, nil
		}
	}

	policy := s.retry
	if req.MaxAttempts > 0 {
		policy.MaxAttempts = req.MaxAttempts
	}
	if req.Timeout > 0 {
		policy.AttemptTimeout = req.Timeout
	}

	completion := Request{
		System:      buildSystemPrompt(req.System, req.Schema),
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		JSON:        true,
	}

	var result json.RawMessage
	err := policy.Do(ctx, func(ctx context.Context) error {
		if err := s.limiter.wait(ctx); err != nil {
			return err
		}

		var text string
		err := s.breakers.Execute(health.DependencyLLM, func() error {
			var callErr error
			text, callErr = s.client.Complete(ctx, completion)
			return callErr
		})
		if err != nil {
			return err
		}

		result, err = extractJSON(text)
		if err != nil {
			s.logger.Debug("model reply was not JSON", "reply_len", len(text))
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("llm generate: %w", ctx.Err())
		}
		return nil, common.NewSystemError("LLM_UNAVAILABLE", "the language model did not return a usable reply", err).
			WithSuggestions("retry in a few seconds")
	}

	if req.CacheKey != "" {
		s.cache.set(req.CacheKey, result)
	}
	return result, nil
}

// Close releases background resources.
func (s *Service) Close() {
	s.cache.Close()
}

func buildSystemPrompt(system string, schema json.RawMessage) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(system))
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString("Respond with ONLY a valid JSON object. No markdown, no commentary.")
	if len(schema) > 0 {
		b.WriteString("\nThe object must match this JSON schema:\n")
		b.Write(schema)
	}
	return b.String()
}
