package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// AppError carries a code, a message and optional structured details.
// Retryable is derived from the code unless a constructor sets it.
type AppError struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return string(e.Code) + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithCause attaches cause and returns e.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail records key=value on e and returns e.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// New builds an AppError whose Retryable flag follows IsRetryableCode.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Retryable: IsRetryableCode(code)}
}

// newf is New with a format string and an optional single detail pair.
func newf(code ErrorCode, key, val, format string, args ...any) *AppError {
	e := New(code, fmt.Sprintf(format, args...))
	if key != "" {
		e.WithDetail(key, val)
	}
	return e
}

func SourceUnavailable(source string) *AppError {
	return newf(ErrCodeSourceUnavailable, "source", source, "discovery source %s is unavailable", source)
}

func Timeout(operation string) *AppError {
	return newf(ErrCodeTimeout, "operation", operation, "%s timed out", operation)
}

// MalformedResponse reports that source answered with data that could not be decoded.
func MalformedResponse(source string, cause error) *AppError {
	return newf(ErrCodeMalformedResponse, "source", source, "discovery source %s returned malformed data", source).
		WithCause(cause)
}

// NotFound reports an untracked resource. id is recorded only when set.
func NotFound(resource, id string) *AppError {
	e := newf(ErrCodeNotFound, "resource", resource, "%s not found", resource)
	if id != "" {
		e.WithDetail("id", id)
	}
	return e
}

func InvalidInput(field, reason string) *AppError {
	e := newf(ErrCodeInvalidInput, "", "", "invalid input: %s", reason)
	e.Details = map[string]any{}
	if field != "" {
		e.Details["field"] = field
	}
	return e
}

// Validation wraps an already formatted validation summary.
func Validation(message string) *AppError {
	return New(ErrCodeInvalidInput, message)
}

func InvalidConfig(key, reason string) *AppError {
	return newf(ErrCodeInvalidConfig, "key", key, "invalid config %s: %s", key, reason)
}

func Internal(cause error) *AppError {
	return New(ErrCodeInternal, "an unexpected error occurred").WithCause(cause)
}

// FromContext returns a Timeout for operation when ctx is done, nil otherwise.
func FromContext(ctx context.Context, operation string) *AppError {
	if err := ctx.Err(); err != nil {
		return Timeout(operation).WithCause(err)
	}
	return nil
}

func IsAppError(err error) bool {
	_, ok := AsAppError(err)
	return ok
}

// AsAppError finds the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := stderrors.As(err, &appErr)
	return appErr, ok
}

func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// IsRetryable trusts the AppError flag when there is one. Any other non-nil
// error counts as a transport failure, except context cancellation and expiry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr.Retryable
	}
	return !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
}
