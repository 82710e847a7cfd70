package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDocument   ErrorType = "document"  // source PDF unreadable, fatal
	ErrorTypeWorkspace  ErrorType = "workspace" // staging/output lifecycle, fatal
	ErrorTypeFinalize   ErrorType = "finalize"  // artifact assembly, fatal to the finalize stage
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeIO         ErrorType = "io"
)

// DomainError represents a fatal pipeline error with stage context. Page-local
// extraction failures use ExtractionError instead and never abort the run.
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func DocumentError(message string, err error) *DomainError {
	return NewError(ErrorTypeDocument, message, err)
}

func WorkspaceError(message string, err error) *DomainError {
	return NewError(ErrorTypeWorkspace, message, err)
}

func FinalizeError(message string, err error) *DomainError {
	return NewError(ErrorTypeFinalize, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

// IsFatal reports whether err carries one of the run-aborting types.
func IsFatal(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// ExtractionErrorKind classifies page-local extraction failures. These are
// recorded in the run ledger and never abort the run.
type ExtractionErrorKind string

const (
	TransportFailure  ExtractionErrorKind = "transport_failure"
	AuthFailure       ExtractionErrorKind = "auth_failure"
	RateLimited       ExtractionErrorKind = "rate_limited"
	MalformedResponse ExtractionErrorKind = "malformed_response"
)

// ExtractionError is the typed failure returned by an Extractor for a single
// page. Raw carries the unparseable response body for MalformedResponse so it
// can be persisted for inspection.
type ExtractionError struct {
	Kind   ExtractionErrorKind
	Detail string
	Raw    string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed (%s): %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("extraction failed (%s): %s", e.Kind, e.Detail)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a retry decorator may re-attempt the call.
// Auth failures and malformed payloads will not improve on retry.
func (e *ExtractionError) Retryable() bool {
	return e.Kind == TransportFailure || e.Kind == RateLimited
}

// NewExtractionError creates a typed page-local extraction failure.
func NewExtractionError(kind ExtractionErrorKind, detail string, err error) *ExtractionError {
	return &ExtractionError{Kind: kind, Detail: detail, Err: err}
}

// MalformedResponseError captures an unparseable model reply along with its
// raw body.
func MalformedResponseError(detail, raw string, err error) *ExtractionError {
	return &ExtractionError{Kind: MalformedResponse, Detail: detail, Raw: raw, Err: err}
}

// AsExtractionError unwraps err to an ExtractionError if one is present.
func AsExtractionError(err error) (*ExtractionError, bool) {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
