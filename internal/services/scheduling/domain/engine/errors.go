package engine

import "errors"

var (
	// ErrAggregateBusy reports that the aggregate lock could not be acquired in time.
	ErrAggregateBusy = errors.New("aggregate is busy")
	// ErrAggregateIDRequired reports a missing aggregate id.
	ErrAggregateIDRequired = errors.New("aggregate id is required")
	// ErrJournalRequired reports a missing journal.
	ErrJournalRequired = errors.New("journal is required")
	// ErrRegistryRequired reports a missing event registry.
	ErrRegistryRequired = errors.New("event registry is required")
	// ErrDefinitionIncomplete reports a definition without init, fold or decide.
	ErrDefinitionIncomplete = errors.New("aggregate definition is incomplete")
	// ErrForeignEvent reports a decided event addressed to another aggregate.
	ErrForeignEvent = errors.New("decided event targets another aggregate")
)

// nonRetryableError wraps an error to signal that retrying the command would
// append its events a second time, e.g. after a fold failure that followed a
// durable append.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable returns true from IsNonRetryable checks.
func (e *nonRetryableError) NonRetryable() bool { return true }

func wrapNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable returns true when the error (or any error in its chain)
// signals that the command must not be retried.
func IsNonRetryable(err error) bool {
	var target interface{ NonRetryable() bool }
	if errors.As(err, &target) {
		return target.NonRetryable()
	}
	return false
}
