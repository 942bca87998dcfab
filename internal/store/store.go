package store

import (
	"context"

	"github.com/fyrsmithlabs/protocold/internal/domain"
)

// Store is the persistence boundary for the orchestration engine.
//
// Implementations return domain.ErrNotFound for missing rows and
// *domain.ConflictError when a guarded status write finds the row in an
// unexpected status.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *domain.Project) error
	GetProject(ctx context.Context, id int64) (*domain.Project, error)
	GetProjectByName(ctx context.Context, name string) (*domain.Project, error)

	// Protocol runs
	CreateProtocolRun(ctx context.Context, run *domain.ProtocolRun) error
	GetProtocolRun(ctx context.Context, id int64) (*domain.ProtocolRun, error)
	UpdateProtocolRun(ctx context.Context, run *domain.ProtocolRun) error
	// SetProtocolStatus moves a run to status to. With expected statuses the
	// write only lands if the row currently holds one of them.
	SetProtocolStatus(ctx context.Context, id int64, to domain.ProtocolStatus, expected ...domain.ProtocolStatus) error
	// ListProtocolRuns returns runs in the given statuses, oldest first.
	// An empty status filter matches all runs. limit <= 0 means no limit.
	ListProtocolRuns(ctx context.Context, statuses []domain.ProtocolStatus, limit int) ([]*domain.ProtocolRun, error)

	// Step runs
	CreateStepRun(ctx context.Context, step *domain.StepRun) error
	GetStepRun(ctx context.Context, id int64) (*domain.StepRun, error)
	// UpdateStepRun writes the step's mutable fields. Status and the retry
	// counter are excluded: status moves only through SetStepStatus and
	// retries only through ResetStepForRetry, so a stale in-memory copy
	// can never undo a concurrent transition.
	UpdateStepRun(ctx context.Context, step *domain.StepRun) error
	SetStepStatus(ctx context.Context, id int64, to domain.StepStatus, expected ...domain.StepStatus) error
	// ResetStepForRetry moves a step back to pending for another attempt,
	// incrementing the retry counter in the same guarded write.
	ResetStepForRetry(ctx context.Context, id int64, expected ...domain.StepStatus) error
	// ListStepRuns returns all steps of a run ordered by step index.
	ListStepRuns(ctx context.Context, runID int64) ([]*domain.StepRun, error)

	// Feedback records
	CreateFeedbackRecord(ctx context.Context, rec *domain.FeedbackRecord) error
	ListFeedbackRecords(ctx context.Context, runID int64) ([]*domain.FeedbackRecord, error)

	// Policy packs
	UpsertPolicyPack(ctx context.Context, pack *domain.PolicyPack) error
	GetPolicyPack(ctx context.Context, key, version string) (*domain.PolicyPack, error)

	Close() error
}
