package engine

import (
	"fmt"
	"strings"
)

// RunStatus is the outcome of a run as recorded in run history.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"

	// RunStatusExhausted means the verdict still asked for a retry when the
	// retry bound was reached.
	RunStatusExhausted RunStatus = "retry_exhausted"
)

var runStatuses = []RunStatus{
	RunStatusRunning,
	RunStatusSucceeded,
	RunStatusFailed,
	RunStatusCancelled,
	RunStatusExhausted,
}

// ParseRunStatus parses a status name, case-insensitively.
func ParseRunStatus(s string) (RunStatus, error) {
	for _, status := range runStatuses {
		if strings.EqualFold(s, string(status)) {
			return status, nil
		}
	}
	return "", fmt.Errorf("invalid run status %q: want one of %v", s, runStatuses)
}

// IsTerminal reports whether the run has ended.
func (s RunStatus) IsTerminal() bool {
	return s != RunStatusRunning
}

// StatusFor maps a run error to its final status.
func StatusFor(err error) RunStatus {
	switch {
	case err == nil:
		return RunStatusSucceeded
	case IsRetryLimit(err):
		return RunStatusExhausted
	case IsCancelled(err):
		return RunStatusCancelled
	default:
		return RunStatusFailed
	}
}
