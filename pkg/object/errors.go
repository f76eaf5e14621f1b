package object

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedConstruct reports a tree the encoder cannot canonicalize.
	ErrUnsupportedConstruct = errors.New("unsupported construct")
	// ErrHashMismatch reports stored or received content whose recomputed
	// hash disagrees with its key.
	ErrHashMismatch = errors.New("hash mismatch")
	// ErrDependencyNotFound reports a reference to a hash that is not stored
	// or not referenced where it was expected.
	ErrDependencyNotFound = errors.New("dependency not found")
	// ErrPoolTimeout reports an exhausted connection pool. It is the only
	// retryable error.
	ErrPoolTimeout = errors.New("connection pool timeout")
	// ErrBackendUnavailable reports a storage medium that is unreachable or
	// corrupt.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrMigrationPartialFailure reports a migration batch where some
	// objects failed.
	ErrMigrationPartialFailure = errors.New("migration partially failed")
	// ErrNotFound reports a missing object or mapping.
	ErrNotFound = errors.New("not found")
	// ErrReadOnly reports a write against a read-only backend.
	ErrReadOnly = errors.New("backend is read-only")
)

// HashMismatchError carries both sides of a failed integrity check.
type HashMismatchError struct {
	Expected Hash
	Actual   Hash
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch: expected %s, computed %s", e.Expected, e.Actual)
}

func (e *HashMismatchError) Is(target error) bool {
	return target == ErrHashMismatch
}

// ObjectFailure is one object that could not be migrated.
type ObjectFailure struct {
	Hash Hash
	Err  error
}

// MigrationError lists every per-object failure of a migration batch.
type MigrationError struct {
	Failures []ObjectFailure
}

func (e *MigrationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Hash.Short(), f.Err))
	}
	return fmt.Sprintf("migration partially failed (%d objects): %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *MigrationError) Is(target error) bool {
	return target == ErrMigrationPartialFailure
}

func (e *MigrationError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}
