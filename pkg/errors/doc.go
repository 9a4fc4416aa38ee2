// Package errors provides structured errors with codes for the email identity subsystem.
//
// Every recoverable failure surfaced by the orchestrator is an *Error carrying an
// ErrorCode. Sentinels are declared once per package and enriched copies are produced
// with WithDetail/WithMessage; errors.Is matches on the code, so an enriched copy still
// matches its sentinel:
//
//	err := ErrEmailUnavailable.WithDetail("reason", "grace_period")
//	errors.Is(err, ErrEmailUnavailable) // true
//
// HTTP handlers translate codes with MapErrorCodeToHTTPStatus and use GetMessage for
// the user-facing text; internal errors never leak their message.
package errors
