package controller

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"energy-trading-api/internal/middleware"
	apperrors "energy-trading-api/pkg/errors"
)

type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// respondError writes err as an ErrorResponse with the status of its kind.
// Internal failures are logged and their cause is not exposed.
func respondError(ctx *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.NewInternalError("internal server error", err)
	}

	resp := ErrorResponse{
		Error:     string(appErr.Kind),
		Message:   appErr.Message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: ctx.GetString(middleware.RequestIDKey),
	}

	switch appErr.Kind {
	case apperrors.KindInternal:
		logrus.WithError(err).WithFields(logrus.Fields{
			"request_id": resp.RequestID,
			"path":       ctx.Request.URL.Path,
		}).Error("Request failed")
		resp.Message = "internal server error"
	case apperrors.KindUnavailable:
		logrus.WithError(err).WithField("request_id", resp.RequestID).Warn("Dependency unavailable")
	case apperrors.KindThrottled:
		resp.RetryAfter = appErr.RetryAfterSeconds()
		ctx.Header("Retry-After", strconv.Itoa(resp.RetryAfter))
	}

	ctx.JSON(appErr.HTTPStatus(), resp)
}

// respondBindingError reports a malformed or invalid request body as invalid_argument
func respondBindingError(ctx *gin.Context, err error) {
	respondError(ctx, apperrors.NewInvalidArgumentError("%s", describeBindingError(err)))
}

func describeBindingError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body: " + err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "decimal_gt0":
			msgs = append(msgs, field+" must be a positive number")
		case "decimal_gte0":
			msgs = append(msgs, field+" cannot be negative")
		case "email":
			msgs = append(msgs, field+" must be a valid email address")
		case "oneof":
			msgs = append(msgs, field+" must be one of: "+fe.Param())
		case "min", "max":
			msgs = append(msgs, field+" must have "+fe.Tag()+" length "+fe.Param())
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

func getQueryInt(ctx *gin.Context, key string, defaultValue int) int {
	if valueStr := ctx.Query(key); valueStr != "" {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
