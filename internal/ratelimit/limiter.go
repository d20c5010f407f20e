package ratelimit

import (
	"context"
	"fmt"
	"time"

	"energy-trading-api/internal/config"
	apperrors "energy-trading-api/pkg/errors"
)

// Endpoint keys of the auth policies
const (
	EndpointLogin  = "login"
	EndpointSignup = "signup"
)

// Policy caps attempts per client within a fixed window
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// Decision describes the outcome of one attempt
type Decision struct {
	Allowed    bool
	Limit      int
	Count      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type Limiter struct {
	store    CounterStore
	policies map[string]Policy
	now      func() time.Time
}

func NewLimiter(store CounterStore, policies map[string]Policy) *Limiter {
	return &Limiter{
		store:    store,
		policies: policies,
		now:      time.Now,
	}
}

// AuthPolicies builds the login and signup policies from configuration
func AuthPolicies(cfg config.RateLimitConfig) map[string]Policy {
	return map[string]Policy{
		EndpointLogin:  {MaxAttempts: cfg.LoginMaxAttempts, Window: cfg.LoginWindow},
		EndpointSignup: {MaxAttempts: cfg.SignupMaxAttempts, Window: cfg.SignupWindow},
	}
}

// Check records an attempt by clientKey against endpointKey. A throttled
// attempt returns the decision together with a Throttled error carrying the
// time left in the window. Counter store failures are returned as Unavailable.
func (l *Limiter) Check(ctx context.Context, endpointKey, clientKey string) (*Decision, error) {
	policy, ok := l.policies[endpointKey]
	if !ok {
		return nil, apperrors.NewInvalidArgumentError("no rate limit policy for endpoint %q", endpointKey)
	}

	now := l.now()
	counter, err := l.store.Hit(ctx, key(endpointKey, clientKey), policy.Window, now)
	if err != nil {
		return nil, apperrors.NewUnavailableError("rate limit store unavailable", err)
	}

	d := &Decision{
		Allowed:   counter.Count <= policy.MaxAttempts,
		Limit:     policy.MaxAttempts,
		Count:     counter.Count,
		Remaining: policy.MaxAttempts - counter.Count,
		ResetAt:   counter.ResetAt,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if d.Allowed {
		return d, nil
	}

	d.RetryAfter = counter.ResetAt.Sub(now)
	if d.RetryAfter < time.Second {
		d.RetryAfter = time.Second
	}
	return d, apperrors.NewThrottledError(
		fmt.Sprintf("too many %s attempts, try again later", endpointKey), d.RetryAfter)
}

// Sweep drops expired windows from the counter store
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	return l.store.Sweep(ctx, l.now())
}

func key(endpointKey, clientKey string) string {
	return endpointKey + ":" + clientKey
}
