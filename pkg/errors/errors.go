package errors

import (
	stderrors "errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Kind classifies a failure independently of any wire format
type Kind string

const (
	KindInvalidArgument   Kind = "invalid_argument"
	KindNotFound          Kind = "not_found"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindConflict          Kind = "conflict"
	KindUnavailable       Kind = "unavailable"
	KindThrottled         Kind = "throttled"
	KindUnauthorized      Kind = "unauthorized"
	KindInternal          Kind = "internal"
)

type AppError struct {
	Kind       Kind          `json:"kind"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"-"`
	Err        error         `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError of the same kind, so sentinels below work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// RetryAfterSeconds rounds the retry hint up to whole seconds, never below one
func (e *AppError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// HTTPStatus maps the kind to a response code for the HTTP boundary
func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindThrottled:
		return http.StatusTooManyRequests
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

func NewInvalidArgumentError(format string, args ...interface{}) *AppError {
	return New(KindInvalidArgument, fmt.Sprintf(format, args...))
}

func NewNotFoundError(resource, id string) *AppError {
	return New(KindNotFound, fmt.Sprintf("%s %s not found", resource, id))
}

func NewInsufficientFundsError(format string, args ...interface{}) *AppError {
	return New(KindInsufficientFunds, fmt.Sprintf(format, args...))
}

func NewConflictError(format string, args ...interface{}) *AppError {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func NewUnavailableError(message string, err error) *AppError {
	return Wrap(KindUnavailable, message, err)
}

func NewThrottledError(message string, retryAfter time.Duration) *AppError {
	return &AppError{Kind: KindThrottled, Message: message, RetryAfter: retryAfter}
}

func NewUnauthorizedError(message string) *AppError {
	return New(KindUnauthorized, message)
}

func NewInternalError(message string, err error) *AppError {
	return Wrap(KindInternal, message, err)
}

var (
	ErrInvalidArgument    = New(KindInvalidArgument, "invalid argument")
	ErrNotFound           = New(KindNotFound, "not found")
	ErrInsufficientFunds  = New(KindInsufficientFunds, "insufficient funds")
	ErrConflict           = New(KindConflict, "conflict")
	ErrUnavailable        = New(KindUnavailable, "unavailable")
	ErrThrottled          = New(KindThrottled, "too many attempts")
	ErrUnauthorized       = New(KindUnauthorized, "unauthorized")
	ErrInvalidCredentials = NewUnauthorizedError("invalid email or password")
)

// KindOf returns the kind of the first AppError in the chain, or KindInternal
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether a caller may retry the same input
func IsRetryable(err error) bool {
	return IsKind(err, KindUnavailable)
}

// As exposes the AppError in err's chain, if any
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
