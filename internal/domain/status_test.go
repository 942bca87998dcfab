package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtocolStatusTerminal(t *testing.T) {
	tests := []struct {
		status   ProtocolStatus
		terminal bool
	}{
		{ProtocolPending, false},
		{ProtocolPlanning, false},
		{ProtocolRunning, false},
		{ProtocolPaused, false},
		{ProtocolBlocked, false},
		{ProtocolCompleted, true},
		{ProtocolFailed, true},
		{ProtocolCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}

func TestProtocolTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    ProtocolStatus
		to      ProtocolStatus
		allowed bool
	}{
		{"start planning", ProtocolPending, ProtocolPlanning, true},
		{"resume from pause", ProtocolPaused, ProtocolRunning, true},
		{"pause while running", ProtocolRunning, ProtocolPaused, true},
		{"block while running", ProtocolRunning, ProtocolBlocked, true},
		{"unblock", ProtocolBlocked, ProtocolRunning, true},
		{"complete", ProtocolRunning, ProtocolCompleted, true},
		{"fail by aggregation", ProtocolRunning, ProtocolFailed, true},
		{"no pending to running", ProtocolPending, ProtocolRunning, false},
		{"no resurrect completed", ProtocolCompleted, ProtocolRunning, false},
		{"no resurrect cancelled", ProtocolCancelled, ProtocolPending, false},
		{"no direct fail from pending", ProtocolPending, ProtocolFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStepTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    StepStatus
		to      StepStatus
		allowed bool
	}{
		{"dispatch", StepPending, StepRunning, true},
		{"needs qa", StepRunning, StepNeedsQA, true},
		{"qa pass", StepNeedsQA, StepCompleted, true},
		{"qa fail", StepNeedsQA, StepFailed, true},
		{"retry failed", StepFailed, StepPending, true},
		{"retry blocked", StepBlocked, StepPending, true},
		{"retry timeout", StepTimeout, StepPending, true},
		{"cancel pending", StepPending, StepCancelled, true},
		{"cancel running", StepRunning, StepCancelled, true},
		{"no completed to pending", StepCompleted, StepPending, false},
		{"no skip to completed", StepPending, StepCompleted, false},
		{"no cancelled retry", StepCancelled, StepPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStepStatusClassifiers(t *testing.T) {
	assert.True(t, StepRunning.InFlight())
	assert.True(t, StepNeedsQA.InFlight())
	assert.False(t, StepPending.InFlight())

	assert.True(t, StepFailed.Retryable())
	assert.True(t, StepBlocked.Retryable())
	assert.True(t, StepTimeout.Retryable())
	assert.False(t, StepCompleted.Retryable())
	assert.False(t, StepCancelled.Retryable())

	assert.True(t, StepFailed.Terminal())
	assert.True(t, StepTimeout.Terminal())
	assert.False(t, StepNeedsQA.Terminal())
}
