package orchestrator

import "fmt"

// ValidationMismatchError reports a table whose target contents do not
// match the source after transfer.
type ValidationMismatchError struct {
	Table       string
	SourceCount int64
	TargetCount int64
	Detail      string
}

func (e *ValidationMismatchError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Table, e.Detail)
	}
	return fmt.Sprintf("validation failed for %s: source has %d rows, target has %d",
		e.Table, e.SourceCount, e.TargetCount)
}
