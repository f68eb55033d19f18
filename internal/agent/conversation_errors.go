package agent

import "fmt"

// ValidationError reports that a buffered tag's payload failed JSON Schema
// validation or could not be unmarshaled into its Go type. Per the
// conversation agent's error classification, this is fatal: the iteration
// stops and the error propagates to the caller rather than being retried.
type ValidationError struct {
	Raw   string
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid tag payload: %v", e.Cause)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// MissingStatusError reports that an iteration's response stream closed
// without ever emitting a [STATUS] section, leaving the agent unable to
// decide whether to continue, clarify, or complete.
type MissingStatusError struct {
	Iteration int
}

func (e *MissingStatusError) Error() string {
	return "No STATUS set after processing LLM response."
}

// IterationOverrun reports that the conversation exhausted its iteration
// budget (including any growth from extra_iterations) without reaching a
// terminal status.
type IterationOverrun struct {
	MaxIterations int
}

func (e *IterationOverrun) Error() string {
	return fmt.Sprintf("did not complete within the maximum number of iterations (%d).", e.MaxIterations)
}

// TransportError wraps a failure from the underlying LLM streaming
// transport (connection drop, malformed SSE frame, provider-side error).
type TransportError struct {
	Provider string
	Cause    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error: %v", e.Provider, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}
