package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts for a bounded
	// error class are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during
	// a request or a backoff sleep.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrRateLimitBudget is returned when the optional wall-clock budget
	// for rate-limit retries runs out. With no budget configured,
	// rate-limited calls are retried indefinitely.
	ErrRateLimitBudget = errors.New("rate limit wall-clock budget exhausted")
)

// APIError represents an API-level error with its classification.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("api %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}
