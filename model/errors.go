package model

import (
	"errors"
	"fmt"
)

// Ingestion error codes.
const (
	ErrCodeParseDegraded   = "PARSE_DEGRADED"
	ErrCodeRecoverable     = "RECOVERABLE"
	ErrCodeWrongDeployment = "WRONG_DEPLOYMENT"
	ErrCodeNotFound        = "NOT_FOUND"
)

// Sentinels for errors.Is. An IngestError matches the sentinel with the same
// code.
var (
	ErrParseDegraded   = &IngestError{Code: ErrCodeParseDegraded, Message: "definition could not be fully parsed"}
	ErrRecoverable     = &IngestError{Code: ErrCodeRecoverable, Message: "archive processing failed"}
	ErrWrongDeployment = &IngestError{Code: ErrCodeWrongDeployment, Message: "archive targets a different deployment"}
	ErrNotFound        = &IngestError{Code: ErrCodeNotFound, Message: "not found"}
)

// IngestError is the typed error returned by the ingestion pipeline.
// It implements the error interface.
type IngestError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *IngestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *IngestError) Unwrap() error { return e.Err }

// Is matches any IngestError carrying the same code.
func (e *IngestError) Is(target error) bool {
	var t *IngestError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewParseDegradedError wraps a syntax or I/O failure of a definition parse.
func NewParseDegradedError(err error) *IngestError {
	return &IngestError{Code: ErrCodeParseDegraded, Message: "definition could not be fully parsed", Err: err}
}

// NewRecoverableError wraps a failure that aborts the current archive.
func NewRecoverableError(msg string, err error) *IngestError {
	return &IngestError{Code: ErrCodeRecoverable, Message: msg, Err: err}
}

// NewWrongDeploymentError reports a definition built for another deployment.
func NewWrongDeploymentError(expected, declared string) *IngestError {
	return &IngestError{
		Code:    ErrCodeWrongDeployment,
		Message: fmt.Sprintf("form belongs to a different instance (expected %q, got %q)", expected, declared),
	}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *IngestError {
	return &IngestError{Code: ErrCodeNotFound, Message: msg}
}
