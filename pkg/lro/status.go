package lro

import "strings"

// Status is the lifecycle state of a long-running operation as reported
// by the service. The four canonical values below cover the ARM
// contract; resource providers may report additional intermediate
// states, which are preserved verbatim and treated as non-terminal.
type Status string

const (
	StatusInProgress Status = "InProgress"
	StatusSucceeded  Status = "Succeeded"
	StatusFailed     Status = "Failed"
	StatusCanceled   Status = "Canceled"
)

// ParseStatus canonicalizes a status string from a response body.
// Comparison is case-insensitive and happens only here; everywhere
// else statuses compare as values.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inprogress":
		return StatusInProgress
	case "succeeded":
		return StatusSucceeded
	case "failed":
		return StatusFailed
	case "canceled", "cancelled":
		return StatusCanceled
	default:
		return Status(s)
	}
}

// Terminal reports whether polling stops at this status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// DidFail reports whether the operation ended without succeeding.
func (s Status) DidFail() bool {
	return s == StatusFailed || s == StatusCanceled
}
