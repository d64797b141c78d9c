package optimizer

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidObservation marks malformed ledger input. The cycle is skipped
	// and the posterior left untouched.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrSimulatedObservation is returned for data not tagged as real. It is an
	// ErrInvalidObservation so callers treat both the same way.
	ErrSimulatedObservation = fmt.Errorf("%w: only real ledger data may update the posterior", ErrInvalidObservation)

	// ErrInsufficientData is a "not ready yet" result, not a failure.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrFitFailure means no curve optimum; posterior-based selection still runs.
	ErrFitFailure = errors.New("curve fit failure")

	ErrLeaseHeld       = errors.New("entity lease held by another worker")
	ErrVersionConflict = errors.New("bid state version conflict")
	ErrDuplicateCycle  = errors.New("observation cycle already folded")
	ErrStateNotFound   = errors.New("bid state not found")
)

// RateLimitedError is returned by the real-time trigger inside the cool-down window.
type RateLimitedError struct {
	Remaining time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry in %s", e.Remaining.Round(time.Second))
}

func invalidObservation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidObservation, fmt.Sprintf(format, args...))
}
