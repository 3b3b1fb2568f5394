package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a client-side error with a structured error code.
// Codes follow the format TBM-<AREA>-<NNNN>.
type DomainError struct {
	Code    string // Error code (e.g., "TBM-TBL-4001")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support; two DomainErrors match on code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Naming errors (TBL)
// ============================================================================

var (
	// ErrInvalidTableName indicates a table name violating the naming rule.
	// Rejected synchronously at subscribe time, before any network activity.
	ErrInvalidTableName = NewDomainError("TBM-TBL-4001", "invalid table name")

	// ErrTableNotSubscribed indicates an operation on an unknown table handle.
	ErrTableNotSubscribed = NewDomainError("TBM-TBL-4040", "table not subscribed")

	// ErrAlreadySubscribed indicates a duplicate subscription for a table.
	ErrAlreadySubscribed = NewDomainError("TBM-TBL-4090", "table already subscribed")

	// ErrNotReady indicates a read attempted before the first complete
	// snapshot round. Surfaced as an explicit result, never a crash.
	ErrNotReady = NewDomainError("TBM-TBL-4250", "table mirror not ready")

	// ErrClosed indicates the table subscription has been torn down.
	ErrClosed = NewDomainError("TBM-TBL-4100", "table mirror closed")
)

// ============================================================================
// Codec errors (CDC)
// ============================================================================

var (
	// ErrCodec indicates a malformed payload or schema mismatch. The
	// offending event is skipped and logged; the mirror stays consistent.
	ErrCodec = NewDomainError("TBM-CDC-4220", "payload codec failure")
)

// ============================================================================
// Transport errors (NET)
// ============================================================================

var (
	// ErrTransport indicates a lost or corrupt connection. Triggers a
	// reconnect-with-resync transition, never fatal.
	ErrTransport = NewDomainError("TBM-NET-5030", "transport failure")

	// ErrConnectionStale indicates the server went silent past the
	// heartbeat deadline.
	ErrConnectionStale = NewDomainError("TBM-NET-5031", "connection heartbeat stale")
)

// ============================================================================
// Invariant errors (INV)
// ============================================================================

var (
	// ErrInvariant indicates a reconciliation invariant violation.
	// Not recoverable locally; indicates a bug, not a runtime condition.
	ErrInvariant = NewDomainError("TBM-INV-5000", "mirror invariant violated")
)
