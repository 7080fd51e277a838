package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the command pipeline.
var (
	// Validation.
	ErrCommandRejected   = fmt.Errorf("command rejected by safety policy")
	ErrCommandNotAllowed = fmt.Errorf("command verb not in allowlist")
	ErrInvalidCommand    = fmt.Errorf("command does not match grammar")

	// Transport.
	ErrNotConnected     = fmt.Errorf("audacity pipes not found")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrCommunication    = fmt.Errorf("pipe communication failed")
	ErrResponseTooLarge = fmt.Errorf("response exceeds size limit: %w", ErrCommunication)

	// Resilience.
	ErrCircuitOpen = fmt.Errorf("transport circuit open")
	ErrRateLimit   = fmt.Errorf("rate limit exceeded")

	// Workspace.
	ErrPathOutsideSandbox = fmt.Errorf("path is outside sandbox boundary")
	ErrExportDisabled     = fmt.Errorf("export is disabled")

	ErrConfigLoad = fmt.Errorf("failed to load configuration")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Transport.Exchange")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsTransportFailure reports whether err came from the channel pair rather
// than from validation or a resilience hook.
func IsTransportFailure(err error) bool {
	return errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrCommunication)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeCommandRejected    ErrorCode = "COMMAND_REJECTED"
	CodeCommandNotAllowed  ErrorCode = "COMMAND_NOT_ALLOWED"
	CodeInvalidCommand     ErrorCode = "INVALID_COMMAND"
	CodeNotConnected       ErrorCode = "NOT_CONNECTED"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeCommunication      ErrorCode = "COMMUNICATION"
	CodeResponseTooLarge   ErrorCode = "RESPONSE_TOO_LARGE"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodePathOutsideSandbox ErrorCode = "PATH_OUTSIDE_SANDBOX"
	CodeExportDisabled     ErrorCode = "EXPORT_DISABLED"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
)

// errorCodes maps sentinels to codes. Order matters: more specific sentinels
// come before the ones they wrap, and a rejection resolves to its reason.
var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrCommandNotAllowed, CodeCommandNotAllowed},
	{ErrInvalidCommand, CodeInvalidCommand},
	{ErrPathOutsideSandbox, CodePathOutsideSandbox},
	{ErrExportDisabled, CodeExportDisabled},
	{ErrCommandRejected, CodeCommandRejected},
	{ErrNotConnected, CodeNotConnected},
	{ErrTimeout, CodeTimeout},
	{ErrResponseTooLarge, CodeResponseTooLarge},
	{ErrCommunication, CodeCommunication},
	{ErrCircuitOpen, CodeCircuitOpen},
	{ErrRateLimit, CodeRateLimit},
	{ErrConfigLoad, CodeConfigLoad},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
