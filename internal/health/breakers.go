// Package health tracks dependency circuit breakers and reports dependency status.
package health

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Veraticus/the-books-must-balance/internal/common"
)

// Dependency names.
const (
	DependencyLedger = "ledger"
	DependencyLLM    = "llm"
	DependencyCache  = "cache"
)

// State is a circuit breaker state.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// BreakerConfig tunes every breaker created by Breakers.
type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

// DefaultBreakerConfig opens after 5 consecutive failures and probes again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Breakers owns one circuit breaker per named dependency.
type Breakers struct {
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *slog.Logger
	cfg      BreakerConfig
	mu       sync.RWMutex
}

// NewBreakers creates breakers for the given dependency names.
func NewBreakers(cfg BreakerConfig, logger *slog.Logger, names ...string) *Breakers {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}
	b := &Breakers{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   common.OrDefault(logger),
		cfg:      cfg,
	}
	for _, name := range names {
		b.get(name)
	}
	return b
}

func (b *Breakers) get(name string) *gobreaker.CircuitBreaker {
	b.mu.RLock()
	breaker, ok := b.breakers[name]
	b.mu.RUnlock()
	if ok {
		return breaker
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if breaker, ok = b.breakers[name]; ok {
		return breaker
	}

	cfg := b.cfg
	breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		// Rejections and bad input say nothing about the dependency's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !common.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state changed",
				"dependency", name,
				"from", from.String(),
				"to", to.String())
		},
	})
	b.breakers[name] = breaker
	return breaker
}

// Execute runs fn through the named breaker. An open breaker fails fast with a
// retryable error wrapping common.ErrUnavailable.
func (b *Breakers) Execute(name string, fn func() error) error {
	if b == nil {
		return fn()
	}
	_, err := b.get(name).Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s circuit %s: %w", name, err.Error(), common.ErrUnavailable)
	}
	return err
}

// State returns the named breaker's state.
func (b *Breakers) State(name string) State {
	b.mu.RLock()
	breaker, ok := b.breakers[name]
	b.mu.RUnlock()
	if !ok {
		return StateUnknown
	}

	switch breaker.State() {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}

// Names returns the registered dependency names in sorted order.
func (b *Breakers) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.breakers))
	for name := range b.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
