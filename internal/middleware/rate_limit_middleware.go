package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"energy-trading-api/internal/config"
	"energy-trading-api/internal/monitoring"
	"energy-trading-api/internal/ratelimit"
	apperrors "energy-trading-api/pkg/errors"
)

// ipLimiterThreshold bounds the per-IP token bucket map before idle buckets are dropped
const ipLimiterThreshold = 10000

// AttemptLimiter is satisfied by *ratelimit.Limiter
type AttemptLimiter interface {
	Check(ctx context.Context, endpointKey, clientKey string) (*ratelimit.Decision, error)
}

type RateLimitMiddleware struct {
	limiter AttemptLimiter
	metrics monitoring.MetricsService
	ips     *ipRateLimiter
}

func NewRateLimitMiddleware(limiter AttemptLimiter, metrics monitoring.MetricsService, cfg config.RateLimitConfig) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		metrics: metrics,
		ips:     newIPRateLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst),
	}
}

// AuthRateLimit applies the fixed window attempt limit of endpoint, keyed by client IP.
// When the counter store is unreachable the request is let through.
func (r *RateLimitMiddleware) AuthRateLimit(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		decision, err := r.limiter.Check(c.Request.Context(), endpoint, clientIP)
		switch {
		case err == nil:
			r.metrics.RecordRateLimitDecision(endpoint, true)
			r.setRateLimitHeaders(c, decision)
			c.Next()

		case apperrors.IsKind(err, apperrors.KindThrottled):
			r.metrics.RecordRateLimitDecision(endpoint, false)
			r.setRateLimitHeaders(c, decision)
			logrus.WithFields(logrus.Fields{
				"endpoint":    endpoint,
				"client_ip":   clientIP,
				"attempts":    decision.Count,
				"retry_after": int(decision.RetryAfter.Seconds()),
			}).Warn("Rate limit exceeded")
			abortWithError(c, err)

		case apperrors.IsKind(err, apperrors.KindUnavailable):
			logrus.WithError(err).WithField("endpoint", endpoint).Error("Rate limiter unavailable, allowing request")
			c.Header("X-RateLimit-Error", "limiter unavailable")
			c.Next()

		default:
			logrus.WithError(err).WithField("endpoint", endpoint).Error("Rate limit check failed")
			abortWithError(c, err)
		}
	}
}

// IPRateLimit applies a token bucket per client IP to every route it wraps
func (r *RateLimitMiddleware) IPRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.ips.disabled() {
			c.Next()
			return
		}

		if !r.ips.allow(c.ClientIP(), time.Now()) {
			r.metrics.RecordRateLimitDecision("global", false)
			abortWithError(c, apperrors.NewThrottledError("too many requests from this address", time.Second))
			return
		}

		c.Next()
	}
}

func (r *RateLimitMiddleware) setRateLimitHeaders(c *gin.Context, d *ratelimit.Decision) {
	if d == nil {
		return
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type ipRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*ipBucket
	rate    rate.Limit
	burst   int
}

func newIPRateLimiter(r rate.Limit, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		buckets: make(map[string]*ipBucket),
		rate:    r,
		burst:   burst,
	}
}

func (l *ipRateLimiter) disabled() bool {
	return l.rate <= 0
}

func (l *ipRateLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		if len(l.buckets) >= ipLimiterThreshold {
			l.dropIdle(now)
		}
		b = &ipBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// dropIdle removes buckets that have refilled completely, which behave like new ones
func (l *ipRateLimiter) dropIdle(now time.Time) {
	refill := time.Duration(float64(l.burst) / float64(l.rate) * float64(time.Second))
	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) >= refill {
			delete(l.buckets, ip)
		}
	}
}

func (l *ipRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func abortWithError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.NewInternalError("internal error", err)
	}

	if appErr.Kind == apperrors.KindThrottled {
		c.Header("Retry-After", strconv.Itoa(appErr.RetryAfterSeconds()))
	}

	body := gin.H{
		"error":   string(appErr.Kind),
		"message": appErr.Message,
	}
	if appErr.Kind == apperrors.KindThrottled {
		body["retry_after"] = appErr.RetryAfterSeconds()
	}
	if requestID := c.GetString(RequestIDKey); requestID != "" {
		body["request_id"] = requestID
	}

	c.AbortWithStatusJSON(appErr.HTTPStatus(), body)
}
