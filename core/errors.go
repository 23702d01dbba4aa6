package core

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowRunning is returned when Start is called on a workflow
	// run that is already in progress.
	ErrWorkflowRunning = errors.New("workflow run already in progress")

	// ErrGuardrailExhausted marks a task whose guardrail rejected every
	// attempt within the retry budget. Wrapped inside StepExecutionError.
	ErrGuardrailExhausted = errors.New("guardrail retries exhausted")
)

// ConfigError reports a malformed workflow definition: an unknown step
// shape, a loop with both or neither of step/steps, an unresolvable agent
// or callback name. It is raised at parse or construction time, before any
// execution happens.
type ConfigError struct {
	Field  string // offending field or step name
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid workflow config: %s", e.Reason)
	}
	return fmt.Sprintf("invalid workflow config: %s: %s", e.Field, e.Reason)
}

// NewConfigError constructs a ConfigError for the given field.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StepExecutionError reports a step that failed at run time: the agent
// invocation returned an error, or a guardrail rejected every retry. On the
// sequential path it aborts the run; inside a parallel unit it is recorded
// in that unit's result slot instead.
type StepExecutionError struct {
	Step string
	Err  error
}

// Error implements the error interface.
func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *StepExecutionError) Unwrap() error { return e.Err }

// NewStepExecutionError wraps err with the failing step's name.
func NewStepExecutionError(step string, err error) *StepExecutionError {
	return &StepExecutionError{Step: step, Err: err}
}
