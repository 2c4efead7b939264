package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// IntegrityError signals that derived state and the event log disagree:
// an entity that must exist is missing, an entity that must not exist is
// present, an immutable field changed, or a cardinality bound is exceeded.
// It is fatal: the offending event must not be applied and ingestion must
// halt at its position. It is never repaired in code.
type IntegrityError struct {
	Entity string // entity kind, e.g. "VirtualFloor"
	ID     string
	Reason string
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("integrity: %s(%s): %s: %v", e.Entity, e.ID, e.Reason, e.Err)
	}
	return fmt.Sprintf("integrity: %s(%s): %s", e.Entity, e.ID, e.Reason)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// Integrityf builds an IntegrityError for the given entity kind and id.
func Integrityf(entity, id, format string, args ...any) *IntegrityError {
	return &IntegrityError{Entity: entity, ID: id, Reason: fmt.Sprintf(format, args...)}
}

// IsIntegrity reports whether err is (or wraps) an IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// TransientError marks a failure of an external dependency (e.g. an ERC-20
// metadata read) that may succeed on retry. Ingestion blocks and retries the
// same event; it never skips past it.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// UnsupportedMetadataVersionError is fatal and non-retryable: the metadata
// blob was written with a codec this build does not understand.
type UnsupportedMetadataVersionError struct {
	Version string
}

func (e *UnsupportedMetadataVersionError) Error() string {
	return fmt.Sprintf("metadata version %s not supported", e.Version)
}
