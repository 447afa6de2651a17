// SPDX-License-Identifier: MIT

package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusValidity(t *testing.T) {
	for _, s := range []JobStatus{JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, JobStatus("bogus").IsValid())
	assert.False(t, JobStatus("").IsValid())
}

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusPending, JobStatusRunning, true},
		{JobStatusPending, JobStatusCancelled, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusRunning, JobStatusCompleted, true},
		{JobStatusRunning, JobStatusFailed, true},
		{JobStatusRunning, JobStatusCancelled, true},
		{JobStatusRunning, JobStatusPending, false},
		{JobStatusCompleted, JobStatusRunning, false},
		{JobStatusFailed, JobStatusRunning, false},
		{JobStatusCancelled, JobStatusPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
}

func TestJobStatusJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(JobStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, `"running"`, string(data))

	var s JobStatus
	require.NoError(t, json.Unmarshal([]byte(`"completed"`), &s))
	assert.Equal(t, JobStatusCompleted, s)

	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &s))
}

func TestParseJobStatus(t *testing.T) {
	s, err := ParseJobStatus("pending")
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, s)

	_, err = ParseJobStatus("unknown")
	assert.Error(t, err)
}
