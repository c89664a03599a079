// Package errdefs defines the error kinds shared by the evaluation engine.
//
// Callers classify errors with the Is* helpers rather than by message, so
// wrapping with fmt.Errorf("...: %w", err) is always safe.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an evaluation or task id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrDeadlineExceeded marks an evaluation forced to failed by its wall-clock deadline.
	ErrDeadlineExceeded = errors.New("evaluation deadline exceeded")
	// ErrCancelled marks an evaluation forced to failed by an explicit cancel request.
	ErrCancelled = errors.New("evaluation cancelled")
)

// ValidationError is a synchronous rejection of a request. The evaluation
// state is never changed when one is returned.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// Validationf builds a ValidationError for field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// TransientJudgeError wraps a judge failure that may succeed on retry
// (timeouts, rate limits, 5xx).
type TransientJudgeError struct {
	StatusCode int
	Err        error
}

func (e *TransientJudgeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient judge error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient judge error: %v", e.Err)
}

func (e *TransientJudgeError) Unwrap() error { return e.Err }

// FatalScoringError aborts a whole evaluation. Agent is empty when the
// failure is not attributable to one submission.
type FatalScoringError struct {
	Agent string
	Err   error
}

func (e *FatalScoringError) Error() string {
	if e.Agent == "" {
		return fmt.Sprintf("fatal scoring error: %v", e.Err)
	}
	return fmt.Sprintf("fatal scoring error for agent %q: %v", e.Agent, e.Err)
}

func (e *FatalScoringError) Unwrap() error { return e.Err }

// Fatal wraps err as a FatalScoringError for agent.
func Fatal(agent string, err error) error {
	return &FatalScoringError{Agent: agent, Err: err}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsTransient(err error) bool {
	var t *TransientJudgeError
	return errors.As(err, &t)
}

func IsFatal(err error) bool {
	var f *FatalScoringError
	return errors.As(err, &f)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// FatalAgent returns the agent recorded on a FatalScoringError in err's chain.
func FatalAgent(err error) string {
	var f *FatalScoringError
	if errors.As(err, &f) {
		return f.Agent
	}
	return ""
}
