package docservice

import (
	"context"
	"errors"
	"fmt"
)

// ErrSignableDataExpired is returned when the signing window has closed
// before submission was attempted.
var ErrSignableDataExpired = errors.New("signable data has expired")

// NetworkError wraps transport failures, timeouts, and non-2xx replies from
// the document service.
type NetworkError struct {
	// Op names the call that failed, e.g. "fetch signable data".
	Op string

	// StatusCode is zero for transport-level failures.
	StatusCode int

	// Message carries the service's error message when one was decodable.
	Message string

	Err error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: document service returned status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: document service returned status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the call may succeed: transport
// failures, timeouts, and 5xx replies qualify; 4xx replies and caller
// cancellation do not.
func (e *NetworkError) Retryable() bool {
	if errors.Is(e.Err, context.Canceled) {
		return false
	}

	return e.StatusCode == 0 || e.StatusCode >= 500
}

// SubmissionRejectedError reports that the service processed the submission
// and refused it. Definitive: retrying the same submission will not help.
type SubmissionRejectedError struct {
	Message  string
	Response *SubmissionResponse
}

func (e *SubmissionRejectedError) Error() string {
	if e.Message == "" {
		return "submission rejected by document service"
	}

	return "submission rejected by document service: " + e.Message
}
