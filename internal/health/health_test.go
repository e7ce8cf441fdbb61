package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/common"
)

func testBreakers(names ...string) *Breakers {
	return NewBreakers(BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             50 * time.Millisecond,
		ConsecutiveFailures: 2,
	}, nil, names...)
}

func TestBreakersTripOnRetryableFailures(t *testing.T) {
	b := testBreakers(DependencyLedger)
	unavailable := func() error { return common.ErrUnavailable }

	assert.Equal(t, StateClosed, b.State(DependencyLedger))
	require.ErrorIs(t, b.Execute(DependencyLedger, unavailable), common.ErrUnavailable)
	require.ErrorIs(t, b.Execute(DependencyLedger, unavailable), common.ErrUnavailable)
	assert.Equal(t, StateOpen, b.State(DependencyLedger))

	called := false
	err := b.Execute(DependencyLedger, func() error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called, "open breaker must not call through")
	assert.True(t, common.IsRetryable(err))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State(DependencyLedger))
	require.NoError(t, b.Execute(DependencyLedger, func() error { return nil }))
	assert.Equal(t, StateClosed, b.State(DependencyLedger))
}

func TestBreakersIgnoreNonRetryableFailures(t *testing.T) {
	b := testBreakers(DependencyLLM)
	rejected := errors.New("rejected: bad voucher")

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Execute(DependencyLLM, func() error { return rejected }), rejected)
	}
	assert.Equal(t, StateClosed, b.State(DependencyLLM))
}

func TestBreakersUnknownAndNames(t *testing.T) {
	b := testBreakers(DependencyLLM, DependencyCache)
	assert.Equal(t, StateUnknown, b.State("nope"))
	assert.Equal(t, []string{DependencyCache, DependencyLLM}, b.Names())

	require.NoError(t, b.Execute("late", func() error { return nil }))
	assert.Contains(t, b.Names(), "late")
}

func TestCheckerReport(t *testing.T) {
	b := testBreakers(DependencyLedger, DependencyLLM, DependencyCache)
	for i := 0; i < 2; i++ {
		_ = b.Execute(DependencyLLM, func() error { return common.ErrTimeout })
	}

	checker := NewChecker(b, map[string]Pinger{
		DependencyLedger: PingFunc(func(context.Context) error { return nil }),
		DependencyCache:  PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}, time.Second)

	report := checker.Report(context.Background())
	assert.Equal(t, StatusUnavailable, report.Status)
	assert.Equal(t, StatusHealthy, report.Dependencies[DependencyLedger].Status)
	assert.Equal(t, StatusUnavailable, report.Dependencies[DependencyLLM].Status)
	assert.Equal(t, StateOpen, report.Dependencies[DependencyLLM].Breaker)
	assert.Equal(t, StatusDegraded, report.Dependencies[DependencyCache].Status)
	assert.Equal(t, "connection refused", report.Dependencies[DependencyCache].Error)
}

func TestCheckerAllHealthy(t *testing.T) {
	checker := NewChecker(testBreakers(DependencyLedger, DependencyLLM), nil, 0)
	report := checker.Report(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Len(t, report.Dependencies, 2)
}

func TestCheckerPingTimeout(t *testing.T) {
	checker := NewChecker(testBreakers(), map[string]Pinger{
		DependencyLedger: PingFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	}, 20*time.Millisecond)

	report := checker.Report(context.Background())
	assert.Equal(t, StatusDegraded, report.Dependencies[DependencyLedger].Status)
	assert.Equal(t, StateUnknown, report.Dependencies[DependencyLedger].Breaker)
}
