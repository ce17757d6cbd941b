package apify

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an actor run produced no usable data.
type ErrorKind string

const (
	ErrTimeout     ErrorKind = "timeout"      // attempt budget exhausted before a terminal status
	ErrFailed      ErrorKind = "failed"       // run reached FAILED
	ErrAborted     ErrorKind = "aborted"      // run reached ABORTED
	ErrEmptyResult ErrorKind = "empty_result" // run succeeded but the dataset was empty or unresolvable
)

// JobError reports a run that existed but did not yield data. It is never
// retried by the client itself.
type JobError struct {
	Kind   ErrorKind
	RunID  string
	Status RunStatus
}

func (e *JobError) Error() string {
	switch e.Kind {
	case ErrTimeout:
		return fmt.Sprintf("run %s did not complete in time (last status %s)", e.RunID, e.Status)
	case ErrEmptyResult:
		return fmt.Sprintf("run %s succeeded but returned no results", e.RunID)
	default:
		return fmt.Sprintf("run %s ended with status %s", e.RunID, e.Status)
	}
}

// IsJobError extracts a *JobError from an error chain, if present.
func IsJobError(err error) (*JobError, bool) {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr, true
	}
	return nil, false
}
