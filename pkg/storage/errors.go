package storage

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrEntityNotFound      = errors.New("entity not found")
	ErrRelationNotFound    = errors.New("relation not found")
	ErrEventNotFound       = errors.New("event not found")
	ErrRequestNotFound     = errors.New("request not found")
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrConflict            = errors.New("natural key conflict")
	ErrTerminalStatus      = errors.New("request already in terminal status")
	ErrStoreClosed         = errors.New("store is closed")
)

// StoreError provides structured error information for store operations.
type StoreError struct {
	Op     string // Operation that failed (e.g., "CreateEntity", "TransitionRequest")
	Record string // Record kind (e.g., "entity", "event", "request")
	Key    string // Natural key or ID (if applicable)
	Cause  error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s %q: %v", e.Op, e.Record, e.Key, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Record, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches this error or its cause.
func (e *StoreError) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}

// NewError creates a structured store error.
func NewError(op, record, key string, cause error) error {
	return &StoreError{Op: op, Record: record, Key: key, Cause: cause}
}

// IsNotFound returns true if the error is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound) ||
		errors.Is(err, ErrRelationNotFound) ||
		errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrCredentialsNotFound)
}

// IsConflict returns true if the error indicates a natural-key collision.
// Collisions are expected under concurrent upserts and handled as
// retry-as-lookup by callers.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
