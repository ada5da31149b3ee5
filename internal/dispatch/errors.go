package dispatch

import "fmt"

// ValidationError means the request payload failed its schema contract.
// The tool never executes.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dispatch: invalid input for %s: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ExecutionError means the tool body failed after authorization. It is
// caught at the dispatch boundary and converted into a failure envelope;
// it never crashes the dispatcher.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("dispatch: %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// InstrumentationError means per-workspace observability could not be
// attached. Best-effort: it is logged and the request proceeds without
// instrumentation (fail-open).
type InstrumentationError struct {
	Workspace string
	Err       error
}

func (e *InstrumentationError) Error() string {
	return fmt.Sprintf("dispatch: instrument %s: %v", e.Workspace, e.Err)
}

func (e *InstrumentationError) Unwrap() error { return e.Err }
