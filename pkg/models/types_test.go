package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusSuccess, true},
		{StatusFailed, true},
		{StatusCanceled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestRunResult_Step(t *testing.T) {
	r := &RunResult{Steps: []StepResult{
		{Sequence: 1, Step: StepAcquire, Status: StatusSuccess},
		{Sequence: 2, Step: StepNavigate, Status: StatusFailed, ErrorMessage: "net::ERR_CONNECTION_REFUSED"},
	}}

	s, ok := r.Step(StepNavigate)
	assert.True(t, ok)
	assert.Equal(t, StatusFailed, s.Status)

	_, ok = r.Step(StepVerifyHeader)
	assert.False(t, ok)
}
