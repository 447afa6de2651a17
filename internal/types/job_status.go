// SPDX-License-Identifier: MIT

// Package types provides type-safe enumerations shared across riskobot.
//
// This package centralizes typed constants and state types to prevent
// string-based bugs and enable exhaustive switch statements.
package types

import (
	"encoding/json"
	"fmt"
)

// JobStatus represents the current state of a background audit run.
type JobStatus string

// Job status constants define all possible states of a background run.
const (
	// JobStatusPending indicates the run is queued but not yet started.
	JobStatusPending JobStatus = "pending"

	// JobStatusRunning indicates the run is currently executing.
	JobStatusRunning JobStatus = "running"

	// JobStatusCompleted indicates the run finished successfully.
	JobStatusCompleted JobStatus = "completed"

	// JobStatusFailed indicates the run encountered an error and terminated.
	JobStatusFailed JobStatus = "failed"

	// JobStatusCancelled indicates the run was cancelled before completion.
	JobStatusCancelled JobStatus = "cancelled"
)

// String returns the string representation of the job status.
func (s JobStatus) String() string {
	return string(s)
}

// IsValid checks whether the job status is one of the defined constants.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal checks whether the job status represents a final state.
// A run in a terminal state will not transition to another state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether this status can transition to the target status.
//
// Valid transitions:
//   - Pending → Running, Cancelled
//   - Running → Completed, Failed, Cancelled
//   - Terminal states cannot transition
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case JobStatusPending:
		return target == JobStatusRunning || target == JobStatusCancelled
	case JobStatusRunning:
		return target == JobStatusCompleted || target == JobStatusFailed || target == JobStatusCancelled
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler for JobStatus.
func (s JobStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler for JobStatus.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := JobStatus(str)
	if !status.IsValid() {
		return fmt.Errorf("invalid job status: %q", str)
	}
	*s = status
	return nil
}

// ParseJobStatus parses a string into a JobStatus, returning an error if invalid.
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid job status: %q (valid: pending, running, completed, failed, cancelled)", s)
	}
	return status, nil
}
