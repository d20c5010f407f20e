package middleware

import (
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"energy-trading-api/internal/monitoring"
	"energy-trading-api/internal/service"
)

// Keys stored on the gin context
const (
	RequestIDKey = "request_id"
	FactoryIDKey = "factory_id"
	ClaimsKey    = "jwt_claims"
)

type LoggingMiddleware struct {
	logger  *logrus.Logger
	metrics monitoring.MetricsService
	config  *LoggingConfig
}

type LoggingConfig struct {
	ExcludePaths         []string
	SlowRequestThreshold time.Duration
}

func NewLoggingMiddleware(logger *logrus.Logger, metrics monitoring.MetricsService, config *LoggingConfig) *LoggingMiddleware {
	if config == nil {
		config = &LoggingConfig{
			ExcludePaths:         []string{"/health", "/ready", "/metrics"},
			SlowRequestThreshold: 2 * time.Second,
		}
	}

	return &LoggingMiddleware{
		logger:  logger,
		metrics: metrics,
		config:  config,
	}
}

// RequestID reuses an incoming X-Request-ID or generates one, and echoes it on the response
func (l *LoggingMiddleware) RequestID() gin.HandlerFunc {
	return requestid.New(
		requestid.WithGenerator(func() string {
			return uuid.New().String()
		}),
		requestid.WithHandler(func(c *gin.Context, requestID string) {
			c.Set(RequestIDKey, requestID)
		}),
	)
}

// RequestContext copies caller metadata into the request context so services can audit it
func (l *LoggingMiddleware) RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		meta := service.RequestMeta{
			RequestID: c.GetString(RequestIDKey),
			ClientIP:  c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
		c.Request = c.Request.WithContext(service.WithRequestMeta(c.Request.Context(), meta))
		c.Next()
	}
}

// RequestLogger logs each completed request and records its latency
func (l *LoggingMiddleware) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := c.Writer.Status()
		l.metrics.RecordHTTPRequest(c.Request.Method, endpoint, status, duration)

		if l.shouldExcludePath(c.Request.URL.Path) {
			return
		}

		entry := l.logger.WithFields(logrus.Fields{
			"request_id":    c.GetString(RequestIDKey),
			"method":        c.Request.Method,
			"path":          c.Request.URL.Path,
			"status_code":   status,
			"latency":       duration.Milliseconds(),
			"client_ip":     c.ClientIP(),
			"user_agent":    c.Request.UserAgent(),
			"response_size": c.Writer.Size(),
		})
		if factoryID := c.GetString(FactoryIDKey); factoryID != "" {
			entry = entry.WithField("factory_id", factoryID)
		}
		if len(c.Errors) > 0 {
			entry = entry.WithField("error", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("Server error")
		case status >= 400:
			entry.Warn("Client error")
		case duration > l.config.SlowRequestThreshold:
			entry.WithField("slow_request", true).Warn("Slow request detected")
		default:
			entry.Info("Request completed")
		}
	}
}

// Recovery turns panics into a logged 500 response
func (l *LoggingMiddleware) Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		l.logger.WithFields(logrus.Fields{
			"request_id": c.GetString(RequestIDKey),
			"path":       c.Request.URL.Path,
			"panic":      recovered,
		}).Error("Recovered from panic")
		abortWithError(c, nil)
	})
}

func (l *LoggingMiddleware) shouldExcludePath(path string) bool {
	for _, excluded := range l.config.ExcludePaths {
		if path == excluded {
			return true
		}
	}
	return false
}
