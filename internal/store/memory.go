package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/protocold/internal/domain"
)

// MemoryStore is an in-memory Store used by tests and the local backend.
type MemoryStore struct {
	mu sync.Mutex

	projects  map[int64]*domain.Project
	runs      map[int64]*domain.ProtocolRun
	steps     map[int64]*domain.StepRun
	feedback  map[int64]*domain.FeedbackRecord
	packs     map[string]*domain.PolicyPack
	nextID    int64
	nextRecID int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		projects: make(map[int64]*domain.Project),
		runs:     make(map[int64]*domain.ProtocolRun),
		steps:    make(map[int64]*domain.StepRun),
		feedback: make(map[int64]*domain.FeedbackRecord),
		packs:    make(map[string]*domain.PolicyPack),
	}
}

func (m *MemoryStore) allocID() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) Close() error { return nil }

// Projects

func (m *MemoryStore) CreateProject(ctx context.Context, p *domain.Project) error {
	if p.Name == "" {
		return domain.Validationf("project name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.BaseBranch == "" {
		p.BaseBranch = "main"
	}
	p.ID = m.allocID()
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetProject(ctx context.Context, id int64) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetProjectByName(ctx context.Context, name string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.projects {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

// Protocol runs

func (m *MemoryStore) CreateProtocolRun(ctx context.Context, run *domain.ProtocolRun) error {
	if run.ProjectID == 0 {
		return domain.Validationf("protocol run requires a project id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.Status == "" {
		run.Status = domain.ProtocolPending
	}
	run.ID = m.allocID()
	now := time.Now()
	run.CreatedAt, run.UpdatedAt = now, now
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemoryStore) GetProtocolRun(ctx context.Context, id int64) (*domain.ProtocolRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *MemoryStore) UpdateProtocolRun(ctx context.Context, run *domain.ProtocolRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return domain.ErrNotFound
	}
	run.UpdatedAt = time.Now()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemoryStore) SetProtocolStatus(ctx context.Context, id int64, to domain.ProtocolStatus, expected ...domain.ProtocolStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if len(expected) > 0 && !containsProtocolStatus(expected, run.Status) {
		return &domain.ConflictError{
			Entity:   "protocol run",
			ID:       id,
			Expected: joinProtocolStatuses(expected),
			Actual:   string(run.Status),
		}
	}
	run.Status = to
	run.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListProtocolRuns(ctx context.Context, statuses []domain.ProtocolStatus, limit int) ([]*domain.ProtocolRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var runs []*domain.ProtocolRun
	for _, run := range m.runs {
		if len(statuses) > 0 && !containsProtocolStatus(statuses, run.Status) {
			continue
		}
		cp := *run
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID < runs[j].ID })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Step runs

func (m *MemoryStore) CreateStepRun(ctx context.Context, step *domain.StepRun) error {
	if step.ProtocolRunID == 0 {
		return domain.Validationf("step run requires a protocol run id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if step.Status == "" {
		step.Status = domain.StepPending
	}
	step.ID = m.allocID()
	now := time.Now()
	step.CreatedAt, step.UpdatedAt = now, now
	cp := *step
	m.steps[step.ID] = &cp
	return nil
}

func (m *MemoryStore) GetStepRun(ctx context.Context, id int64) (*domain.StepRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	step, ok := m.steps[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *step
	return &cp, nil
}

func (m *MemoryStore) UpdateStepRun(ctx context.Context, step *domain.StepRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.steps[step.ID]
	if !ok {
		return domain.ErrNotFound
	}
	step.UpdatedAt = time.Now()
	cp := *step
	// Status and retries only move through their guarded writes.
	cp.Status = cur.Status
	cp.Retries = cur.Retries
	m.steps[step.ID] = &cp
	return nil
}

func (m *MemoryStore) SetStepStatus(ctx context.Context, id int64, to domain.StepStatus, expected ...domain.StepStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	step, ok := m.steps[id]
	if !ok {
		return domain.ErrNotFound
	}
	if len(expected) > 0 && !containsStepStatus(expected, step.Status) {
		return &domain.ConflictError{
			Entity:   "step run",
			ID:       id,
			Expected: joinStepStatuses(expected),
			Actual:   string(step.Status),
		}
	}
	step.Status = to
	step.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ResetStepForRetry(ctx context.Context, id int64, expected ...domain.StepStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	step, ok := m.steps[id]
	if !ok {
		return domain.ErrNotFound
	}
	if len(expected) > 0 && !containsStepStatus(expected, step.Status) {
		return &domain.ConflictError{
			Entity:   "step run",
			ID:       id,
			Expected: joinStepStatuses(expected),
			Actual:   string(step.Status),
		}
	}
	step.Status = domain.StepPending
	step.Retries++
	step.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListStepRuns(ctx context.Context, runID int64) ([]*domain.StepRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var steps []*domain.StepRun
	for _, step := range m.steps {
		if step.ProtocolRunID != runID {
			continue
		}
		cp := *step
		steps = append(steps, &cp)
	}
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].StepIndex != steps[j].StepIndex {
			return steps[i].StepIndex < steps[j].StepIndex
		}
		return steps[i].ID < steps[j].ID
	})
	return steps, nil
}

// Feedback records

func (m *MemoryStore) CreateFeedbackRecord(ctx context.Context, rec *domain.FeedbackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRecID++
	rec.ID = m.nextRecID
	rec.CreatedAt = time.Now()
	cp := *rec
	m.feedback[rec.ID] = &cp
	return nil
}

func (m *MemoryStore) ListFeedbackRecords(ctx context.Context, runID int64) ([]*domain.FeedbackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var recs []*domain.FeedbackRecord
	for _, rec := range m.feedback {
		if rec.ProtocolRunID != runID {
			continue
		}
		cp := *rec
		recs = append(recs, &cp)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

// Policy packs

func (m *MemoryStore) UpsertPolicyPack(ctx context.Context, pack *domain.PolicyPack) error {
	if pack.Key == "" || pack.Version == "" {
		return domain.Validationf("policy pack requires key and version")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pack.Key + "@" + pack.Version
	if existing, ok := m.packs[key]; ok {
		pack.ID = existing.ID
	} else {
		pack.ID = m.allocID()
	}
	cp := *pack
	m.packs[key] = &cp
	return nil
}

func (m *MemoryStore) GetPolicyPack(ctx context.Context, key, version string) (*domain.PolicyPack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pack, ok := m.packs[key+"@"+version]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *pack
	return &cp, nil
}

func containsProtocolStatus(set []domain.ProtocolStatus, st domain.ProtocolStatus) bool {
	for _, s := range set {
		if s == st {
			return true
		}
	}
	return false
}

func containsStepStatus(set []domain.StepStatus, st domain.StepStatus) bool {
	for _, s := range set {
		if s == st {
			return true
		}
	}
	return false
}

func joinProtocolStatuses(set []domain.ProtocolStatus) string {
	parts := make([]string, len(set))
	for i, s := range set {
		parts[i] = string(s)
	}
	return strings.Join(parts, "|")
}

func joinStepStatuses(set []domain.StepStatus) string {
	parts := make([]string, len(set))
	for i, s := range set {
		parts[i] = string(s)
	}
	return strings.Join(parts, "|")
}
