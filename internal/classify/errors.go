package classify

import "fmt"

// ClassificationError reports that relevance could not be established
// for a chunk. Unavailable distinguishes service failure (retried, then
// surfaced as a report warning) from a response the contract rejected.
// Either way the chunk contributes nothing; the pipeline continues.
type ClassificationError struct {
	Unavailable bool
	Reason      string
}

func (e *ClassificationError) Error() string {
	if e.Unavailable {
		return fmt.Sprintf("classify: service unavailable: %s", e.Reason)
	}
	return fmt.Sprintf("classify: rejected response: %s", e.Reason)
}
