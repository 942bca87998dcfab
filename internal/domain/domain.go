package domain

import "time"

// Project is a codebase managed by protocold.
type Project struct {
	ID         int64
	Name       string
	GitURL     string
	BaseBranch string
	LocalPath  string

	// Policy configuration.
	PolicyPackKey          string
	PolicyPackVersion      string
	PolicyOverrides        map[string]any
	PolicyRepoLocalEnabled bool
	PolicyEnforcementMode  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProtocolRun is one execution of a protocol for a project. Rows are never
// deleted; a run only moves to a terminal status.
type ProtocolRun struct {
	ID           int64
	ProjectID    int64
	ProtocolName string
	Status       ProtocolStatus
	BaseBranch   string
	WorktreePath string
	ProtocolRoot string
	Description  string

	// TemplateConfig is the opaque template blob consumed at planning
	// time.
	TemplateConfig map[string]any

	// Policy audit trail, recorded when the run is planned.
	PolicyPackKey       string
	PolicyPackVersion   string
	PolicyEffectiveHash string

	// FlowID links the run to the external workflow engine.
	FlowID string

	// PRURL records the pull request opened when the run completes.
	PRURL string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepRun is one node of a protocol's task graph.
type StepRun struct {
	ID            int64
	ProtocolRunID int64
	StepIndex     int
	StepName      string
	StepType      string
	Status        StepStatus
	Retries       int
	Summary       string

	EngineID string
	Model    string

	// DependsOn references step run IDs within the same protocol run.
	DependsOn     []int64
	ParallelGroup string

	// RuntimeState is an opaque blob owned by dispatch and QA.
	RuntimeState map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepSpec is the ephemeral descriptor consumed once to materialize StepRuns
// during planning.
type StepSpec struct {
	ID        string
	Name      string
	Type      string
	DependsOn []string
	Parallel  bool
	Agent     string
	Model     string
}

// PolicyPack is a named, versioned governance document.
type PolicyPack struct {
	ID      int64
	Key     string
	Version string
	Name    string
	Pack    map[string]any
}

// FeedbackRecord captures a QA escalation for operator follow-up.
type FeedbackRecord struct {
	ID            int64
	ProtocolRunID int64
	StepRunID     int64
	ErrorCategory string
	Action        string
	Attempt       int
	CreatedAt     time.Time
}

// Escalation actions recorded on a FeedbackRecord.
const (
	ActionClarify = "clarify"
	ActionRePlan  = "re_plan"
	ActionRetry   = "retry"
)
