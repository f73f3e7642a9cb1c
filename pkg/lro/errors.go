package lro

import (
	"fmt"
	"net/http"
)

// DecodeError indicates a response body that was present but not valid
// JSON where JSON was required.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("error occurred in deserializing the response body: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// BadStatusError indicates an HTTP status code incompatible with the
// request's verb under the ARM long-running-operation rules.
type BadStatusError struct {
	Code   int
	Method string
}

func (e *BadStatusError) Error() string {
	return fmt.Sprintf("invalid return status %d for %s operation", e.Code, e.Method)
}

// BadResponseError indicates a response missing a required body or a
// required field within the body.
type BadResponseError struct {
	Message string
}

func (e *BadResponseError) Error() string { return e.Message }

// OperationFailedError is raised when the service reports a terminal
// Failed/Canceled status, or as the generic wrapper for a state the
// engine cannot recover from.
type OperationFailedError struct {
	Status  Status
	Message string
}

func (e *OperationFailedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("long running operation finished with status %q", e.Status)
}

// Phases at which a CloudError can be produced.
const (
	PhaseInitialization = "initialization"
	PhasePolling        = "polling"
)

// CloudError wraps a tracker-level failure for the caller, retaining
// the response that triggered it so diagnostic payloads are not lost.
// Phase distinguishes setup-time failures from poll-time failures.
type CloudError struct {
	Phase    string
	Response *http.Response
	Err      error
}

func (e *CloudError) Error() string {
	return fmt.Sprintf("long running operation failed during %s: %v", e.Phase, e.Err)
}

func (e *CloudError) Unwrap() error { return e.Err }
