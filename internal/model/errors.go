package model

import (
	"errors"
	"fmt"
)

var (
	// ErrEmbeddingUnavailable means the embedding provider failed after retries.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrStoreUnavailable means the backing store could not be reached. Retryable.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidQuery     = errors.New("invalid query")
	ErrInvalidInput     = errors.New("invalid input")
	ErrPersonaNotFound  = errors.New("persona not found")
	ErrNotFound         = errors.New("fragment not found")
	// ErrVersionConflict is returned by a versioned write whose expected
	// version no longer matches the stored one.
	ErrVersionConflict   = errors.New("version conflict")
	ErrTierRegression    = errors.New("tier regression")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrRunInProgress     = errors.New("consolidation already running")
)

// ConsolidationFragmentError records a per-fragment failure during a
// consolidation run. The run logs it and moves on.
type ConsolidationFragmentError struct {
	PersonaID  string
	FragmentID string
	Err        error
}

func (e *ConsolidationFragmentError) Error() string {
	return fmt.Sprintf("consolidate %s/%s: %v", e.PersonaID, e.FragmentID, e.Err)
}

func (e *ConsolidationFragmentError) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller may retry the operation as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrVersionConflict)
}
