package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ActivityState
		want     bool
	}{
		{StatePending, StateInProgress, true},
		{StateInProgress, StateCompleted, true},
		{StateCompleted, StatePending, true},
		{StateInProgress, StatePending, false},
		{StatePending, StateCompleted, false},
		{StateCompleted, StateInProgress, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestActivity_ExecutionRecordKey(t *testing.T) {
	a := Activity{UUID: "u1", Details: ActivityDetails{ExecutionDate: "2024-01-02"}}
	assert.Equal(t, "execution:2024-01-02:u1", a.ExecutionRecordKey())

	a.Details.ExecutionRecordID = "execution:custom"
	assert.Equal(t, "execution:custom", a.ExecutionRecordKey())

	assert.Empty(t, Activity{UUID: "u1"}.ExecutionRecordKey())
}
