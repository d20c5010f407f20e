package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"energy-trading-api/internal/config"
	"energy-trading-api/internal/models"
	"energy-trading-api/internal/monitoring"
	"energy-trading-api/internal/ratelimit"
	"energy-trading-api/internal/service"
	apperrors "energy-trading-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockAttemptLimiter struct {
	mock.Mock
}

func (m *MockAttemptLimiter) Check(ctx context.Context, endpointKey, clientKey string) (*ratelimit.Decision, error) {
	args := m.Called(ctx, endpointKey, clientKey)
	decision, _ := args.Get(0).(*ratelimit.Decision)
	return decision, args.Error(1)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.Any("/*path", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"factory_id": c.GetString(FactoryIDKey)})
	})
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAuthRateLimit_Decisions(t *testing.T) {
	resetAt := time.Now().Add(time.Minute)

	tests := []struct {
		name       string
		decision   *ratelimit.Decision
		err        error
		wantStatus int
		wantHeader map[string]string
	}{
		{
			name:       "allowed",
			decision:   &ratelimit.Decision{Allowed: true, Limit: 5, Count: 1, Remaining: 4, ResetAt: resetAt},
			wantStatus: http.StatusOK,
			wantHeader: map[string]string{"X-RateLimit-Limit": "5", "X-RateLimit-Remaining": "4"},
		},
		{
			name:       "throttled",
			decision:   &ratelimit.Decision{Limit: 5, Count: 6, ResetAt: resetAt, RetryAfter: 42 * time.Second},
			err:        apperrors.NewThrottledError("too many login attempts, try again later", 42*time.Second),
			wantStatus: http.StatusTooManyRequests,
			wantHeader: map[string]string{"Retry-After": "42", "X-RateLimit-Remaining": "0"},
		},
		{
			name:       "store unavailable fails open",
			err:        apperrors.NewUnavailableError("rate limit store unavailable", assert.AnError),
			wantStatus: http.StatusOK,
			wantHeader: map[string]string{"X-RateLimit-Error": "limiter unavailable"},
		},
		{
			name:       "unknown policy",
			err:        apperrors.NewInvalidArgumentError("no rate limit policy for endpoint %q", "login"),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := new(MockAttemptLimiter)
			limiter.On("Check", mock.Anything, ratelimit.EndpointLogin, "192.0.2.10").Return(tt.decision, tt.err)
			mw := NewRateLimitMiddleware(limiter, monitoring.NewPrometheusMetrics(), config.RateLimitConfig{})

			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
			req.RemoteAddr = "192.0.2.10:5555"
			w := serve(newRouter(mw.AuthRateLimit(ratelimit.EndpointLogin)), req)

			assert.Equal(t, tt.wantStatus, w.Code)
			for header, value := range tt.wantHeader {
				assert.Equal(t, value, w.Header().Get(header), header)
			}
			limiter.AssertExpectations(t)
		})
	}
}

func TestAuthRateLimit_ThrottledBody(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(100), ratelimit.AuthPolicies(config.RateLimitConfig{
		LoginMaxAttempts: 2,
		LoginWindow:      time.Minute,
	}))
	mw := NewRateLimitMiddleware(limiter, monitoring.NewPrometheusMetrics(), config.RateLimitConfig{})
	r := newRouter(mw.AuthRateLimit(ratelimit.EndpointLogin))

	for i := 0; i < 2; i++ {
		w := serve(r, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := serve(r, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "throttled", body["error"])
	assert.Contains(t, body["message"], "too many login attempts")
	assert.InDelta(t, 60, body["retry_after"], 1)
}

func TestIPRateLimit(t *testing.T) {
	t.Run("burst then throttle", func(t *testing.T) {
		mw := NewRateLimitMiddleware(new(MockAttemptLimiter), monitoring.NewPrometheusMetrics(), config.RateLimitConfig{
			GlobalRPS:   0.001,
			GlobalBurst: 2,
		})
		r := newRouter(mw.IPRateLimit())

		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/api/trades", nil)).Code)
		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/api/trades", nil)).Code)
		w := serve(r, httptest.NewRequest(http.MethodGet, "/api/trades", nil))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "1", w.Header().Get("Retry-After"))

		other := httptest.NewRequest(http.MethodGet, "/api/trades", nil)
		other.RemoteAddr = "198.51.100.7:1234"
		assert.Equal(t, http.StatusOK, serve(r, other).Code)
	})

	t.Run("disabled", func(t *testing.T) {
		mw := NewRateLimitMiddleware(new(MockAttemptLimiter), monitoring.NewPrometheusMetrics(), config.RateLimitConfig{})
		r := newRouter(mw.IPRateLimit())
		for i := 0; i < 10; i++ {
			assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
		}
	})
}

func TestIPRateLimiter_DropsIdleBuckets(t *testing.T) {
	l := newIPRateLimiter(10, 1)
	start := time.Now()
	for i := 0; i < ipLimiterThreshold; i++ {
		l.allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256), start)
	}
	require.Equal(t, ipLimiterThreshold, l.size())

	l.allow("203.0.113.1", start.Add(time.Second))
	assert.Equal(t, 1, l.size())
}

func newTokens(t *testing.T) service.TokenService {
	t.Helper()
	return service.NewTokenService(config.AuthConfig{
		JWTSecret: "middleware-secret",
		JWTExpiry: time.Hour,
		JWTIssuer: "energy-trading-api",
	})
}

func TestJWTAuth(t *testing.T) {
	tokens := newTokens(t)
	token, _, err := tokens.GenerateAccessToken(&models.Factory{ID: "Factory_7"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		required   bool
		header     string
		wantStatus int
		wantID     string
	}{
		{name: "valid token", required: true, header: "Bearer " + token, wantStatus: http.StatusOK, wantID: "Factory_7"},
		{name: "lowercase scheme", required: true, header: "bearer " + token, wantStatus: http.StatusOK, wantID: "Factory_7"},
		{name: "missing header required", required: true, wantStatus: http.StatusUnauthorized},
		{name: "missing header optional", required: false, wantStatus: http.StatusOK},
		{name: "bad format", required: false, header: "Token " + token, wantStatus: http.StatusUnauthorized},
		{name: "invalid token", required: false, header: "Bearer abc.def.ghi", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(NewAuthMiddleware(tokens, tt.required).JWTAuth())
			req := httptest.NewRequest(http.MethodGet, "/api/trades", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			w := serve(r, req)
			require.Equal(t, tt.wantStatus, w.Code)
			body := decodeBody(t, w)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantID, body["factory_id"])
			} else {
				assert.Equal(t, "unauthorized", body["error"])
			}
		})
	}
}

func TestJWTAuth_SetsActorOnRequestContext(t *testing.T) {
	tokens := newTokens(t)
	token, _, err := tokens.GenerateAccessToken(&models.Factory{ID: "Factory_7"})
	require.NoError(t, err)

	var meta service.RequestMeta
	r := gin.New()
	logging := NewLoggingMiddleware(logrus.New(), monitoring.NewPrometheusMetrics(), nil)
	r.Use(logging.RequestID(), logging.RequestContext(), NewAuthMiddleware(tokens, true).JWTAuth())
	r.GET("/me", func(c *gin.Context) {
		meta = service.RequestMetaFrom(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", "req-42")
	req.Header.Set("User-Agent", "plant-controller/1.0")
	w := serve(r, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "Factory_7", meta.Actor)
	assert.Equal(t, "req-42", meta.RequestID)
	assert.Equal(t, "plant-controller/1.0", meta.UserAgent)
	assert.Equal(t, "192.0.2.1", meta.ClientIP)
}

func TestRequireSelf(t *testing.T) {
	tokens := newTokens(t)
	token, _, err := tokens.GenerateAccessToken(&models.Factory{ID: "Factory_7"})
	require.NoError(t, err)

	auth := NewAuthMiddleware(tokens, false)
	r := gin.New()
	r.PUT("/factories/:id", auth.JWTAuth(), auth.RequireSelf("id"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
	}{
		{name: "own factory", path: "/factories/Factory_7", header: "Bearer " + token, wantStatus: http.StatusNoContent},
		{name: "other factory", path: "/factories/Factory_8", header: "Bearer " + token, wantStatus: http.StatusUnauthorized},
		{name: "anonymous", path: "/factories/Factory_8", wantStatus: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.wantStatus, serve(r, req).Code)
		})
	}
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	logging := NewLoggingMiddleware(logrus.New(), monitoring.NewPrometheusMetrics(), nil)
	r := newRouter(logging.RequestID())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	w = serve(r, req)
	assert.Equal(t, "upstream-id", w.Header().Get("X-Request-ID"))
}

func TestLoggingMiddleware_RequestLogger(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logging := NewLoggingMiddleware(logger, monitoring.NewPrometheusMetrics(), nil)

	r := gin.New()
	r.Use(logging.RequestID(), logging.RequestLogger())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/trades/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	tests := []struct {
		path      string
		wantLevel logrus.Level
		logged    bool
	}{
		{path: "/health", logged: false},
		{path: "/api/trades/T1", wantLevel: logrus.WarnLevel, logged: true},
		{path: "/boom", wantLevel: logrus.ErrorLevel, logged: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			hook.Reset()
			serve(r, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if !tt.logged {
				assert.Empty(t, hook.AllEntries())
				return
			}
			require.Len(t, hook.AllEntries(), 1)
			entry := hook.LastEntry()
			assert.Equal(t, tt.wantLevel, entry.Level)
			assert.Equal(t, tt.path, entry.Data["path"])
			assert.NotEmpty(t, entry.Data["request_id"])
		})
	}
}

func TestLoggingMiddleware_Recovery(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logging := NewLoggingMiddleware(logger, monitoring.NewPrometheusMetrics(), nil)

	r := gin.New()
	r.Use(logging.RequestID(), logging.Recovery())
	r.GET("/panic", func(c *gin.Context) { panic("ledger exploded") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal", decodeBody(t, w)["error"])
	assert.Equal(t, "Recovered from panic", hook.LastEntry().Message)
}

func TestSecurityMiddleware(t *testing.T) {
	mw := NewSecurityMiddleware(64)
	r := newRouter(mw.SecurityHeaders(), mw.InputSanitization())

	t.Run("headers", func(t *testing.T) {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/api/factories/A/balance", nil))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

		w = serve(r, httptest.NewRequest(http.MethodGet, "/version", nil))
		assert.Empty(t, w.Header().Get("Cache-Control"))
	})

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
	}{
		{name: "small body", req: httptest.NewRequest(http.MethodPost, "/api/trades", strings.NewReader(`{"seller_id":"A"}`)), wantStatus: http.StatusOK},
		{name: "oversized body", req: httptest.NewRequest(http.MethodPost, "/api/trades", strings.NewReader(strings.Repeat("x", 65))), wantStatus: http.StatusRequestEntityTooLarge},
		{name: "valid paging", req: httptest.NewRequest(http.MethodGet, "/api/trades?limit=10&offset=20", nil), wantStatus: http.StatusOK},
		{name: "negative offset", req: httptest.NewRequest(http.MethodGet, "/api/trades?offset=-1", nil), wantStatus: http.StatusBadRequest},
		{name: "non numeric limit", req: httptest.NewRequest(http.MethodGet, "/api/trades?limit=ten", nil), wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, serve(r, tt.req).Code)
		})
	}
}
