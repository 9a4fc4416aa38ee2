package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

// Error codes used by the email identity subsystem
const (
	// Generic errors
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Credential errors
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCode2FARequired        ErrorCode = "TWO_FA_REQUIRED"
	ErrCode2FAInvalid         ErrorCode = "TWO_FA_INVALID"

	// Token and code errors
	ErrCodeInvalidOrExpiredToken ErrorCode = "INVALID_OR_EXPIRED_TOKEN"
	ErrCodeTokenExpired          ErrorCode = "TOKEN_EXPIRED"

	// Email state conflicts
	ErrCodeEmailUnavailable           ErrorCode = "EMAIL_UNAVAILABLE"
	ErrCodeEmailAlreadyVerified       ErrorCode = "EMAIL_ALREADY_VERIFIED"
	ErrCodeVerificationAlreadyPending ErrorCode = "VERIFICATION_ALREADY_PENDING"
	ErrCodeTooManyAttempts            ErrorCode = "TOO_MANY_ATTEMPTS"
	ErrCodeAccountNotFound            ErrorCode = "ACCOUNT_NOT_FOUND"
	ErrCodeSuspectedFraud             ErrorCode = "SUSPECTED_FRAUD"

	// Delivery errors
	ErrCodeMailDeliveryFailed ErrorCode = "MAIL_DELIVERY_FAILED"
)

// Error represents a structured error with code, message, and optional details
type Error struct {
	Code    ErrorCode              // Unique error code
	Message string                 // Human-readable error message
	Details map[string]interface{} // Optional additional details
	Err     error                  // Wrapped underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
// Enriched instances still match the sentinel they were derived from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of the error with the detail added.
// Sentinels are shared, so they are never mutated in place.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	cp := e.clone()
	cp.Details[key] = value
	return cp
}

// WithDetails returns a copy of the error with all details added
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := e.clone()
	for k, v := range details {
		cp.Details[k] = v
	}
	return cp
}

// WithMessage returns a copy of the error with a more specific message
func (e *Error) WithMessage(message string) *Error {
	cp := e.clone()
	cp.Message = message
	return cp
}

func (e *Error) clone() *Error {
	cp := &Error{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: make(map[string]interface{}, len(e.Details)+1),
	}
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	return cp
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	return MapErrorCodeToHTTPStatus(e.Code)
}

// New creates a new Error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Wrapf wraps an existing error with code and formatted message
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
// Returns ErrCodeInternal if the error is not a structured Error
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// GetDetails extracts the details from an error
// Returns nil if the error is not a structured Error
func GetDetails(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// GetMessage returns the user-facing message of a structured error.
// Unstructured errors never leak their text.
func GetMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != ErrCodeInternal {
		return e.Message
	}
	return "an internal error occurred"
}

// MapErrorCodeToHTTPStatus maps error codes to HTTP status codes
func MapErrorCodeToHTTPStatus(code ErrorCode) int {
	switch code {
	// 400 Bad Request
	case ErrCodeInvalidInput, ErrCodeInvalidOrExpiredToken:
		return http.StatusBadRequest

	// 401 Unauthorized
	case ErrCodeUnauthorized, ErrCodeInvalidCredentials,
		ErrCode2FARequired, ErrCode2FAInvalid:
		return http.StatusUnauthorized

	// 403 Forbidden
	case ErrCodeForbidden, ErrCodeSuspectedFraud:
		return http.StatusForbidden

	// 404 Not Found
	case ErrCodeNotFound, ErrCodeAccountNotFound:
		return http.StatusNotFound

	// 409 Conflict
	case ErrCodeEmailUnavailable, ErrCodeEmailAlreadyVerified,
		ErrCodeVerificationAlreadyPending:
		return http.StatusConflict

	// 410 Gone
	case ErrCodeTokenExpired:
		return http.StatusGone

	// 429 Too Many Requests
	case ErrCodeRateLimitExceeded, ErrCodeTooManyAttempts:
		return http.StatusTooManyRequests

	// 502 Bad Gateway
	case ErrCodeMailDeliveryFailed:
		return http.StatusBadGateway

	// 500 Internal Server Error (default)
	case ErrCodeInternal:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// InvalidInput creates an "invalid input" error
func InvalidInput(field, reason string) *Error {
	return New(ErrCodeInvalidInput, fmt.Sprintf("invalid %s: %s", field, reason)).WithDetail("field", field)
}

// Internal creates an "internal error"
func Internal(message string) *Error {
	return New(ErrCodeInternal, message)
}

// InternalWrap wraps an internal error
func InternalWrap(err error, message string) *Error {
	return Wrap(err, ErrCodeInternal, message)
}

// RateLimitExceeded creates a "rate limit exceeded" error
func RateLimitExceeded(retryAfter string) *Error {
	err := New(ErrCodeRateLimitExceeded, "rate limit exceeded")
	if retryAfter != "" {
		err = err.WithDetail("retry_after", retryAfter)
	}
	return err
}
