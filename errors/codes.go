package errors

// ErrorCode is the machine-readable kind of an AppError.
type ErrorCode string

const (
	// Retryable: the source may answer on the next attempt.
	ErrCodeSourceUnavailable ErrorCode = "SOURCE_UNAVAILABLE"
	ErrCodeTimeout           ErrorCode = "TIMEOUT"

	// The source answered with data that cannot be decoded.
	ErrCodeMalformedResponse ErrorCode = "MALFORMED_RESPONSE"

	// The key or instance id is not tracked by the manager.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
)

// IsRetryableCode reports whether errors with code are worth retrying.
func IsRetryableCode(code ErrorCode) bool {
	return code == ErrCodeSourceUnavailable || code == ErrCodeTimeout
}
