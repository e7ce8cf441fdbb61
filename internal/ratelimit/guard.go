package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/common"
)

// Tier is a subscription level with its own daily quota.
type Tier string

// Subscription tiers.
const (
	TierFree      Tier = "free"
	TierPaid      Tier = "paid"
	TierUnlimited Tier = "unlimited"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPaid || t == TierUnlimited
}

// Layer names reported in rejections.
const (
	LayerBurst  = "burst"
	LayerGlobal = "global"
	LayerIP     = "ip"
	LayerUser   = "user"
	LayerDaily  = "daily_quota"
)

// Limit allows Requests per Window. A zero Requests disables the layer.
type Limit struct {
	Requests int64         `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// Config holds every layer's limits. Tiers assigns user IDs to a
// subscription tier; unlisted users are on the free tier.
type Config struct {
	DailyQuota map[Tier]int64  `mapstructure:"daily_quota"`
	Tiers      map[string]Tier `mapstructure:"tiers"`
	Burst      Limit           `mapstructure:"burst"`
	Global     Limit           `mapstructure:"global"`
	PerIP      Limit           `mapstructure:"per_ip"`
	PerUser    Limit           `mapstructure:"per_user"`
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		Burst:   Limit{Requests: 5, Window: time.Second},
		Global:  Limit{Requests: 100, Window: time.Minute},
		PerIP:   Limit{Requests: 30, Window: time.Minute},
		PerUser: Limit{Requests: 60, Window: time.Minute},
		DailyQuota: map[Tier]int64{
			TierFree:      50,
			TierPaid:      1000,
			TierUnlimited: 0,
		},
	}
}

// TierFor returns the configured tier for userID. Lookups ignore case since
// config keys are case-insensitive.
func (c Config) TierFor(userID string) Tier {
	if userID == "" {
		return TierFree
	}
	for id, tier := range c.Tiers {
		if strings.EqualFold(id, userID) && tier.Valid() {
			return tier
		}
	}
	return TierFree
}

// Caller identifies who is making a request. Its tier is never taken from
// the caller; the guard looks it up by UserID.
type Caller struct {
	ID     string
	IP     string
	UserID string
}

func (c Caller) burstKey() string {
	if c.ID != "" {
		return c.ID
	}
	if c.UserID != "" {
		return c.UserID
	}
	return c.IP
}

// Decision is the guard's verdict on one request.
type Decision struct {
	Layer      string
	Reason     string
	RetryAfter time.Duration
	Allowed    bool
}

// Err converts a rejection into the structured error returned to callers.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	seconds := int(math.Ceil(d.RetryAfter.Seconds()))
	return &common.Error{
		Kind:        common.KindSystem,
		Code:        "RATE_LIMITED",
		Message:     d.Reason,
		Severity:    common.SeverityLow,
		Retryable:   true,
		RetryAfter:  d.RetryAfter,
		Suggestions: []string{fmt.Sprintf("retry in %d seconds", seconds)},
	}
}

// Guard admits or rejects requests by checking each layer in order.
type Guard struct {
	store  CounterStore
	now    func() time.Time
	logger *slog.Logger
	cfg    Config
}

// NewGuard creates a guard over store.
func NewGuard(store CounterStore, cfg Config, logger *slog.Logger) *Guard {
	return &Guard{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: common.OrDefault(logger),
	}
}

type layerCheck struct {
	name   string
	key    string
	reason string
	limit  int64
	window time.Duration
}

// Admit checks every layer and fails fast on the first one exceeded.
// Counters are read first and only incremented once every layer has room,
// so a rejected request spends no budget. Two requests racing past the read
// may still overshoot by one; the increment catches that.
// Store errors admit the request: throttling is not a correctness boundary.
func (g *Guard) Admit(ctx context.Context, caller Caller) Decision {
	checks := g.layers(caller)

	for _, check := range checks {
		count, ttl, err := g.store.Get(ctx, check.key)
		if err != nil {
			g.storeFailed(check, err)
			continue
		}
		if count >= check.limit {
			return g.reject(caller, check, ttl)
		}
	}

	for _, check := range checks {
		count, ttl, err := g.store.Increment(ctx, check.key, check.window)
		if err != nil {
			g.storeFailed(check, err)
			continue
		}
		if count > check.limit {
			return g.reject(caller, check, ttl)
		}
	}

	return Decision{Allowed: true}
}

func (g *Guard) storeFailed(check layerCheck, err error) {
	g.logger.Warn("rate limit store unavailable, admitting request",
		"layer", check.name,
		"error", err)
}

func (g *Guard) reject(caller Caller, check layerCheck, ttl time.Duration) Decision {
	if ttl <= 0 {
		ttl = check.window
	}
	g.logger.Info("request rejected by rate limit",
		"layer", check.name,
		"caller", caller.burstKey(),
		"retry_after", ttl)
	return Decision{
		Allowed:    false,
		Layer:      check.name,
		Reason:     check.reason,
		RetryAfter: ttl,
	}
}

func (g *Guard) layers(caller Caller) []layerCheck {
	now := g.now().UTC()
	checks := []layerCheck{
		{
			name:   LayerBurst,
			key:    prefixed("burst", caller.burstKey()),
			limit:  g.cfg.Burst.Requests,
			window: g.cfg.Burst.Window,
			reason: "too many requests in a short burst",
		},
		{
			name:   LayerGlobal,
			key:    "global",
			limit:  g.cfg.Global.Requests,
			window: g.cfg.Global.Window,
			reason: "the service is handling too many requests",
		},
		{
			name:   LayerIP,
			key:    prefixed("ip", caller.IP),
			limit:  g.cfg.PerIP.Requests,
			window: g.cfg.PerIP.Window,
			reason: "too many requests from this address",
		},
		{
			name:   LayerUser,
			key:    prefixed("user", caller.UserID),
			limit:  g.cfg.PerUser.Requests,
			window: g.cfg.PerUser.Window,
			reason: "too many requests for this user",
		},
	}

	tier := g.cfg.TierFor(caller.UserID)
	quotaOwner := caller.UserID
	if quotaOwner == "" {
		quotaOwner = caller.burstKey()
	}
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	checks = append(checks, layerCheck{
		name:   LayerDaily,
		key:    prefixed("daily:"+now.Format("20060102"), quotaOwner),
		limit:  g.cfg.DailyQuota[tier],
		window: nextMidnight.Sub(now),
		reason: fmt.Sprintf("daily quota for the %s tier is used up", tier),
	})

	active := checks[:0]
	for _, check := range checks {
		if check.limit > 0 && check.key != "" {
			active = append(active, check)
		}
	}
	return active
}

func prefixed(prefix, id string) string {
	if id == "" {
		return ""
	}
	return prefix + ":" + id
}
