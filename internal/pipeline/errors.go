// Package pipeline defines the error taxonomy shared by the e-Invoice
// synchronization components.
package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError identifies a single invalid or missing field on a raw invoice row.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidationError carries every field-level problem found on a document.
// It is produced locally and never retried automatically.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasField reports whether the error mentions the given field path.
func (e *ValidationError) HasField(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// TransientError wraps a network or 5xx failure that may succeed on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AuthError indicates the authority rejected our credentials. Fatal for the
// current pass; requires operator intervention.
type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string {
	return "authority authentication failed: " + e.Detail
}

// AuthorityRejection is a business-level rejection returned by the authority.
// The raw code, field path and message are stored verbatim alongside any
// human translation.
type AuthorityRejection struct {
	Code    string
	Path    string
	Message string
}

func (e *AuthorityRejection) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("authority rejection %s at %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("authority rejection %s: %s", e.Code, e.Message)
}

// ReconciliationError records a per-document failure during inbound sync.
// Collected, never aborts the batch.
type ReconciliationError struct {
	UUID string
	Err  error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile %s: %v", e.UUID, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsAuthFailure reports whether err is a credential failure.
func IsAuthFailure(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
