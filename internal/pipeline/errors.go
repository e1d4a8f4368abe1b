package pipeline

import "fmt"

// FatalError marks a run that cannot proceed at all because the
// pipeline itself is misconfigured. Document-level problems degrade
// into report warnings instead.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline: %s: %v", e.Reason, e.Err)
	}
	return "pipeline: " + e.Reason
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
