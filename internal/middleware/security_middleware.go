package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "energy-trading-api/pkg/errors"
)

const defaultMaxRequestSize = 1 << 20

type SecurityMiddleware struct {
	maxRequestSize int64
}

func NewSecurityMiddleware(maxRequestSize int64) *SecurityMiddleware {
	if maxRequestSize <= 0 {
		maxRequestSize = defaultMaxRequestSize
	}
	return &SecurityMiddleware{maxRequestSize: maxRequestSize}
}

// SecurityHeaders adds security headers to responses
func (s *SecurityMiddleware) SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		// Balances and tokens must never be cached by intermediaries
		if s.isSensitiveEndpoint(c.Request.URL.Path) {
			c.Header("Cache-Control", "no-store")
			c.Header("Pragma", "no-cache")
		}

		c.Next()
	}
}

// InputSanitization bounds request bodies and rejects malformed paging parameters
func (s *SecurityMiddleware) InputSanitization() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > s.maxRequestSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "request_too_large",
				"message": "request body exceeds maximum size",
			})
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxRequestSize)
		}

		if err := s.sanitizeQueryParams(c); err != nil {
			abortWithError(c, err)
			return
		}

		c.Next()
	}
}

func (s *SecurityMiddleware) isSensitiveEndpoint(path string) bool {
	for _, pattern := range []string{"/api/auth/", "/api/factories", "/api/energy/"} {
		if strings.HasPrefix(path, pattern) {
			return true
		}
	}
	return false
}

func (s *SecurityMiddleware) sanitizeQueryParams(c *gin.Context) error {
	for key, values := range c.Request.URL.Query() {
		for _, value := range values {
			if len(value) > 256 {
				return apperrors.NewInvalidArgumentError("query parameter %s exceeds maximum length", key)
			}
			if strings.Contains(value, "\x00") {
				return apperrors.NewInvalidArgumentError("query parameter %s contains null bytes", key)
			}
			if err := s.validateSpecificParam(key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SecurityMiddleware) validateSpecificParam(key, value string) error {
	switch key {
	case "limit":
		if limit, err := strconv.Atoi(value); err != nil || limit < 0 {
			return apperrors.NewInvalidArgumentError("invalid limit value (must be >= 0)")
		}
	case "offset":
		if offset, err := strconv.Atoi(value); err != nil || offset < 0 {
			return apperrors.NewInvalidArgumentError("invalid offset value (must be >= 0)")
		}
	}
	return nil
}
