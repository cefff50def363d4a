package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is matched by every RetriesExhaustedError.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a fetch.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrQuotaBlocked is returned when the vendor quota gate refuses a request.
	ErrQuotaBlocked = errors.New("request blocked: vendor quota critical")
)

// maxErrorBody bounds how much of a response body ends up in error messages.
const maxErrorBody = 512

// RetriesExhaustedError reports a page whose transient failures outlasted
// the retry budget, or whose queued report never became ready.
type RetriesExhaustedError struct {
	// LastStatus is the last HTTP status seen; 0 means the last attempt timed out.
	LastStatus int
	Attempts   int
	ErrorClass ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *RetriesExhaustedError) Error() string {
	last := "timeout"
	if e.LastStatus != 0 {
		last = fmt.Sprintf("status %d", e.LastStatus)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s after %d attempts (%s, last %s): %v",
			ErrRetryExhausted, e.Attempts, e.ErrorClass, last, e.Err)
	}
	return fmt.Sprintf("%s after %d attempts (%s, last %s)",
		ErrRetryExhausted, e.Attempts, e.ErrorClass, last)
}

// Is makes errors.Is(err, ErrRetryExhausted) succeed.
func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}

// FatalError reports a page that failed without being retried.
type FatalError struct {
	StatusCode int
	ErrorClass ErrorClass
	Body       []byte
	Err        error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal %s error (status %d): %v", e.ErrorClass, e.StatusCode, e.Err)
	}
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return fmt.Sprintf("fatal %s error (status %d): %s", e.ErrorClass, e.StatusCode, body)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error class is retried against MaxRetries.
func shouldRetry(errorClass ErrorClass, policy Policy) bool {
	switch errorClass {
	case ErrorClassTimeout, ErrorClassRateLimit:
		return true
	case ErrorClassServer:
		return policy.RetryServerErrors
	default:
		// client, network, cancelled: retrying cannot help
		return false
	}
}
