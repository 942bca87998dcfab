package domain

// ProtocolStatus is the lifecycle state of a protocol run.
type ProtocolStatus string

const (
	ProtocolPending   ProtocolStatus = "pending"
	ProtocolPlanning  ProtocolStatus = "planning"
	ProtocolPlanned   ProtocolStatus = "planned"
	ProtocolRunning   ProtocolStatus = "running"
	ProtocolPaused    ProtocolStatus = "paused"
	ProtocolBlocked   ProtocolStatus = "blocked"
	ProtocolCompleted ProtocolStatus = "completed"
	ProtocolFailed    ProtocolStatus = "failed"
	ProtocolCancelled ProtocolStatus = "cancelled"
)

// Terminal reports whether the protocol can never leave this status.
func (s ProtocolStatus) Terminal() bool {
	switch s {
	case ProtocolCompleted, ProtocolFailed, ProtocolCancelled:
		return true
	}
	return false
}

// protocolTransitions enumerates the allowed protocol status moves.
// ProtocolFailed is deliberately absent as a commanded target: it is only
// reachable through step aggregation in CheckAndCompleteProtocol.
var protocolTransitions = map[ProtocolStatus][]ProtocolStatus{
	ProtocolPending:  {ProtocolPlanning, ProtocolCancelled},
	ProtocolPlanning: {ProtocolPlanned, ProtocolRunning, ProtocolBlocked, ProtocolCancelled},
	ProtocolPlanned:  {ProtocolRunning, ProtocolPaused, ProtocolCancelled},
	ProtocolRunning:  {ProtocolPaused, ProtocolBlocked, ProtocolCompleted, ProtocolFailed, ProtocolCancelled},
	ProtocolPaused:   {ProtocolPlanning, ProtocolRunning, ProtocolCancelled},
	ProtocolBlocked:  {ProtocolRunning, ProtocolPaused, ProtocolCancelled},
}

// CanTransitionTo reports whether moving from s to next is a legal protocol
// transition.
func (s ProtocolStatus) CanTransitionTo(next ProtocolStatus) bool {
	for _, allowed := range protocolTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StepStatus is the lifecycle state of a step run.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepNeedsQA   StepStatus = "needs_qa"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepBlocked   StepStatus = "blocked"
	StepTimeout   StepStatus = "timeout"
	StepCancelled StepStatus = "cancelled"
)

// Terminal reports whether the step is finished. A failed step still counts
// as terminal here; it only returns to pending through an explicit retry.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepCancelled, StepFailed, StepTimeout:
		return true
	}
	return false
}

// InFlight reports whether the step currently occupies the execution or QA
// backend.
func (s StepStatus) InFlight() bool {
	return s == StepRunning || s == StepNeedsQA
}

// Retryable reports whether an explicit retry may move the step back to
// pending.
func (s StepStatus) Retryable() bool {
	switch s {
	case StepFailed, StepBlocked, StepTimeout:
		return true
	}
	return false
}

var stepTransitions = map[StepStatus][]StepStatus{
	StepPending: {StepRunning, StepCancelled},
	StepRunning: {StepNeedsQA, StepCompleted, StepFailed, StepTimeout, StepBlocked, StepCancelled},
	StepNeedsQA: {StepCompleted, StepFailed, StepBlocked, StepCancelled},
	// Explicit retry path. The retry counter must be incremented by the
	// same write that performs the transition.
	StepFailed:  {StepPending},
	StepBlocked: {StepPending, StepCancelled},
	StepTimeout: {StepPending},
}

// CanTransitionTo reports whether moving from s to next is a legal step
// transition.
func (s StepStatus) CanTransitionTo(next StepStatus) bool {
	for _, allowed := range stepTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
