package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// OutcomeKind tags the result of fetching one page.
type OutcomeKind int

const (
	// OutcomeSuccess carries the response payload.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeRetriesExhausted means transient failures outlasted the budget.
	OutcomeRetriesExhausted

	// OutcomeFatal means the page failed without retry.
	OutcomeFatal
)

// String implements fmt.Stringer.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetriesExhausted:
		return "retries_exhausted"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Outcome is the typed result of one request spec after all retries.
type Outcome struct {
	PageID int
	Kind   OutcomeKind

	// Status is the last HTTP status received (0 if none).
	Status   int
	Attempts int

	// Payload is the raw response body for successful pages.
	Payload []byte
	Header  http.Header

	// FromCache is set when the payload came from the page cache.
	FromCache bool

	// Err is a *RetriesExhaustedError or *FatalError for failed pages.
	Err error
}

// OK reports whether the page was fetched successfully.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

// DecodeJSON unmarshals a successful payload into v.
func (o Outcome) DecodeJSON(v any) error {
	if !o.OK() {
		return fmt.Errorf("page %d has no payload: %w", o.PageID, o.Err)
	}
	if err := json.Unmarshal(o.Payload, v); err != nil {
		return fmt.Errorf("decode page %d: %w", o.PageID, err)
	}
	return nil
}

// AsFatal returns the fatal error of the outcome, if any.
func (o Outcome) AsFatal() (*FatalError, bool) {
	var fatalErr *FatalError
	if errors.As(o.Err, &fatalErr) {
		return fatalErr, true
	}
	return nil, false
}

// AsExhausted returns the retries-exhausted error of the outcome, if any.
func (o Outcome) AsExhausted() (*RetriesExhaustedError, bool) {
	var exhaustedErr *RetriesExhaustedError
	if errors.As(o.Err, &exhaustedErr) {
		return exhaustedErr, true
	}
	return nil, false
}

func success(status, attempts int, payload []byte, header http.Header) Outcome {
	return Outcome{Kind: OutcomeSuccess, Status: status, Attempts: attempts, Payload: payload, Header: header}
}

func exhausted(status, attempts int, class ErrorClass, cause error) Outcome {
	return Outcome{
		Kind:     OutcomeRetriesExhausted,
		Status:   status,
		Attempts: attempts,
		Err: &RetriesExhaustedError{
			LastStatus: status,
			Attempts:   attempts,
			ErrorClass: class,
			Err:        cause,
		},
	}
}

func fatal(status, attempts int, class ErrorClass, body []byte, cause error) Outcome {
	return Outcome{
		Kind:     OutcomeFatal,
		Status:   status,
		Attempts: attempts,
		Err: &FatalError{
			StatusCode: status,
			ErrorClass: class,
			Body:       body,
			Err:        cause,
		},
	}
}
