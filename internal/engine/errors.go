package engine

import (
	"errors"
	"fmt"
)

// ErrRunFinished is returned when Execute is called on a run that already
// reached a terminal status. A new run must be created to retry.
var ErrRunFinished = errors.New("run already finished")

// CompletionError reports a failed or uninterpretable completion call.
type CompletionError struct {
	Step string
	Err  error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion failed in step %q: %v", e.Step, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// FunctionNotFoundError reports a tool call naming a function with no
// registered implementation. This includes calls against a step that
// advertised no functions at all.
type FunctionNotFoundError struct {
	Function string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("function %q is not registered", e.Function)
}

// FunctionExecutionError reports a registered implementation returning
// failure.
type FunctionExecutionError struct {
	Function string
	Err      error
}

func (e *FunctionExecutionError) Error() string {
	return fmt.Sprintf("function %q failed: %v", e.Function, e.Err)
}

func (e *FunctionExecutionError) Unwrap() error { return e.Err }

func errUnknownStep(id string) error {
	return fmt.Errorf("step %q not found in workspace", id)
}
