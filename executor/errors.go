package executor

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout marks a phase whose process was killed at its deadline.
	ErrTimeout = errors.New("execution timed out")
	// ErrEnvironment marks failures of the host rather than of the program.
	ErrEnvironment = errors.New("execution environment failure")
	// ErrQueueFull is returned when the worker pool cannot accept a job.
	ErrQueueFull = errors.New("job queue full")
)

// Error carries the operation that failed alongside its classification.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func environmentError(op string, err error) error {
	return &Error{Kind: ErrEnvironment, Op: op, Err: err}
}
