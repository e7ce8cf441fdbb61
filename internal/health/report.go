package health

import (
	"context"
	"sync"
	"time"
)

// Status is a dependency's reported health.
type Status string

// Health statuses, from best to worst.
const (
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnavailable Status = "unavailable"
)

func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Pinger is a dependency that can be probed directly.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// DependencyStatus describes one dependency.
type DependencyStatus struct {
	Status  Status `json:"status"`
	Breaker State  `json:"breaker"`
	Error   string `json:"error,omitempty"`
}

// Report is the overall health snapshot.
type Report struct {
	Dependencies map[string]DependencyStatus `json:"dependencies"`
	CheckedAt    time.Time                   `json:"checked_at"`
	Status       Status                      `json:"status"`
}

// Checker combines breaker state with optional live probes.
type Checker struct {
	breakers *Breakers
	pingers  map[string]Pinger
	timeout  time.Duration
}

// NewChecker creates a checker. pingers may be nil or omit dependencies.
func NewChecker(breakers *Breakers, pingers map[string]Pinger, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{breakers: breakers, pingers: pingers, timeout: timeout}
}

// Report probes every dependency concurrently.
// Open breaker is unavailable; half-open or a failing probe is degraded.
func (c *Checker) Report(ctx context.Context) Report {
	names := c.breakers.Names()
	for name := range c.pingers {
		if c.breakers.State(name) == StateUnknown {
			names = append(names, name)
		}
	}

	report := Report{
		Status:       StatusHealthy,
		Dependencies: make(map[string]DependencyStatus, len(names)),
		CheckedAt:    time.Now().UTC(),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			status := c.check(ctx, name)

			mu.Lock()
			defer mu.Unlock()
			report.Dependencies[name] = status
			if status.Status.rank() > report.Status.rank() {
				report.Status = status.Status
			}
		}(name)
	}
	wg.Wait()

	return report
}

func (c *Checker) check(ctx context.Context, name string) DependencyStatus {
	state := c.breakers.State(name)
	result := DependencyStatus{Status: StatusHealthy, Breaker: state}

	switch state {
	case StateOpen:
		result.Status = StatusUnavailable
		return result
	case StateHalfOpen:
		result.Status = StatusDegraded
	}

	pinger, ok := c.pingers[name]
	if !ok || pinger == nil {
		return result
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := pinger.Ping(pingCtx); err != nil {
		result.Status = StatusDegraded
		result.Error = err.Error()
	}
	return result
}
