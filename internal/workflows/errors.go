package workflows

import (
	"errors"

	"go.temporal.io/sdk/temporal"
)

// Application error types attached to terminal run failures. Callers
// match on these to distinguish failure classes without parsing
// messages.
const (
	// ErrTypeRunFailed marks a terminal step failure after rollback.
	ErrTypeRunFailed = "RunFailed"
	// ErrTypePlanningFailed marks plan acquisition exhausting its
	// retry budget or producing an unusable plan.
	ErrTypePlanningFailed = "PlanningFailed"
	// ErrTypePlanRejected marks a plan the guard refused to execute.
	ErrTypePlanRejected = "PlanRejected"
	// ErrTypeInvalidInput marks a malformed run request.
	ErrTypeInvalidInput = "InvalidRunInput"
)

// newRunFailure builds the non-retryable terminal error for a failed
// run, carrying FailureDetails as structured detail rather than only a
// message string.
func newRunFailure(errType string, details FailureDetails) error {
	return temporal.NewNonRetryableApplicationError(details.ErrorMessage, errType, nil, details)
}

// FailureDetailsFromError extracts the structured failure payload from
// a run's terminal error. The second return is false when the error
// does not carry one (for example a cancellation).
func FailureDetailsFromError(err error) (FailureDetails, bool) {
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		return FailureDetails{}, false
	}
	if !appErr.HasDetails() {
		return FailureDetails{}, false
	}
	var details FailureDetails
	if derr := appErr.Details(&details); derr != nil {
		return FailureDetails{}, false
	}
	return details, true
}
