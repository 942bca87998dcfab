package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/protocold/internal/domain"
)

// SQLiteStore implements Store on a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (and creates if needed) the database at path and
// ensures the schema exists. Pass ":memory:" for an ephemeral database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY between pooled writers and
	// keeps ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
  id                        INTEGER PRIMARY KEY AUTOINCREMENT,
  name                      TEXT NOT NULL UNIQUE,
  git_url                   TEXT NOT NULL DEFAULT '',
  base_branch               TEXT NOT NULL DEFAULT 'main',
  local_path                TEXT NOT NULL DEFAULT '',
  policy_pack_key           TEXT NOT NULL DEFAULT '',
  policy_pack_version       TEXT NOT NULL DEFAULT '',
  policy_overrides          JSON,
  policy_repo_local_enabled INTEGER NOT NULL DEFAULT 0,
  policy_enforcement_mode   TEXT NOT NULL DEFAULT '',
  created_at                TEXT NOT NULL,
  updated_at                TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS protocol_runs (
  id                    INTEGER PRIMARY KEY AUTOINCREMENT,
  project_id            INTEGER NOT NULL REFERENCES projects(id),
  protocol_name         TEXT NOT NULL,
  status                TEXT NOT NULL,
  base_branch           TEXT NOT NULL DEFAULT '',
  worktree_path         TEXT NOT NULL DEFAULT '',
  protocol_root         TEXT NOT NULL DEFAULT '',
  description           TEXT NOT NULL DEFAULT '',
  template_config       JSON,
  policy_pack_key       TEXT NOT NULL DEFAULT '',
  policy_pack_version   TEXT NOT NULL DEFAULT '',
  policy_effective_hash TEXT NOT NULL DEFAULT '',
  flow_id               TEXT NOT NULL DEFAULT '',
  pr_url                TEXT NOT NULL DEFAULT '',
  created_at            TEXT NOT NULL,
  updated_at            TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS step_runs (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  protocol_run_id INTEGER NOT NULL REFERENCES protocol_runs(id),
  step_index      INTEGER NOT NULL,
  step_name       TEXT NOT NULL,
  step_type       TEXT NOT NULL DEFAULT '',
  status          TEXT NOT NULL,
  retries         INTEGER NOT NULL DEFAULT 0,
  summary         TEXT NOT NULL DEFAULT '',
  engine_id       TEXT NOT NULL DEFAULT '',
  model           TEXT NOT NULL DEFAULT '',
  depends_on      JSON,
  parallel_group  TEXT NOT NULL DEFAULT '',
  runtime_state   JSON,
  created_at      TEXT NOT NULL,
  updated_at      TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS feedback_records (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  protocol_run_id INTEGER NOT NULL REFERENCES protocol_runs(id),
  step_run_id     INTEGER NOT NULL REFERENCES step_runs(id),
  error_category  TEXT NOT NULL,
  action          TEXT NOT NULL,
  attempt         INTEGER NOT NULL,
  created_at      TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS policy_packs (
  id      INTEGER PRIMARY KEY AUTOINCREMENT,
  key     TEXT NOT NULL,
  version TEXT NOT NULL,
  name    TEXT NOT NULL DEFAULT '',
  pack    JSON NOT NULL,
  UNIQUE(key, version)
);`,
		`CREATE INDEX IF NOT EXISTS protocol_runs_status_idx ON protocol_runs(status, created_at);`,
		`CREATE INDEX IF NOT EXISTS step_runs_run_idx ON step_runs(protocol_run_id, step_index);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// JSON column helpers. NULL and empty text both decode to nil.

func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return string(b), nil
}

func unmarshalJSON(raw sql.NullString, dst any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), dst); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Projects

func (s *SQLiteStore) CreateProject(ctx context.Context, p *domain.Project) error {
	if p.Name == "" {
		return domain.Validationf("project name is required")
	}
	if p.BaseBranch == "" {
		p.BaseBranch = "main"
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now

	overrides, err := marshalJSON(p.PolicyOverrides)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO projects
  (name, git_url, base_branch, local_path, policy_pack_key, policy_pack_version,
   policy_overrides, policy_repo_local_enabled, policy_enforcement_mode,
   created_at, updated_at)
  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.GitURL, p.BaseBranch, p.LocalPath,
		p.PolicyPackKey, p.PolicyPackVersion, overrides,
		boolToInt(p.PolicyRepoLocalEnabled), p.PolicyEnforcementMode,
		fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

const projectColumns = `id, name, git_url, base_branch, local_path,
  policy_pack_key, policy_pack_version, policy_overrides,
  policy_repo_local_enabled, policy_enforcement_mode, created_at, updated_at`

func (s *SQLiteStore) scanProject(row *sql.Row) (*domain.Project, error) {
	var p domain.Project
	var overrides sql.NullString
	var repoLocal int
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &p.GitURL, &p.BaseBranch, &p.LocalPath,
		&p.PolicyPackKey, &p.PolicyPackVersion, &overrides,
		&repoLocal, &p.PolicyEnforcementMode, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	if err := unmarshalJSON(overrides, &p.PolicyOverrides); err != nil {
		return nil, err
	}
	p.PolicyRepoLocalEnabled = repoLocal != 0
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id int64) (*domain.Project, error) {
	return s.scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
}

func (s *SQLiteStore) GetProjectByName(ctx context.Context, name string) (*domain.Project, error) {
	return s.scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE name = ?`, name))
}

// Protocol runs

func (s *SQLiteStore) CreateProtocolRun(ctx context.Context, run *domain.ProtocolRun) error {
	if run.ProjectID == 0 {
		return domain.Validationf("protocol run requires a project id")
	}
	if run.Status == "" {
		run.Status = domain.ProtocolPending
	}
	now := time.Now()
	run.CreatedAt, run.UpdatedAt = now, now

	tmpl, err := marshalJSON(run.TemplateConfig)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO protocol_runs
  (project_id, protocol_name, status, base_branch, worktree_path, protocol_root,
   description, template_config, policy_pack_key, policy_pack_version,
   policy_effective_hash, flow_id, pr_url, created_at, updated_at)
  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ProjectID, run.ProtocolName, string(run.Status), run.BaseBranch,
		run.WorktreePath, run.ProtocolRoot, run.Description, tmpl,
		run.PolicyPackKey, run.PolicyPackVersion, run.PolicyEffectiveHash,
		run.FlowID, run.PRURL, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert protocol run: %w", err)
	}
	run.ID, err = res.LastInsertId()
	return err
}

const runColumns = `id, project_id, protocol_name, status, base_branch,
  worktree_path, protocol_root, description, template_config,
  policy_pack_key, policy_pack_version, policy_effective_hash, flow_id,
  pr_url, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProtocolRun(row rowScanner) (*domain.ProtocolRun, error) {
	var run domain.ProtocolRun
	var status string
	var tmpl sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&run.ID, &run.ProjectID, &run.ProtocolName, &status,
		&run.BaseBranch, &run.WorktreePath, &run.ProtocolRoot, &run.Description,
		&tmpl, &run.PolicyPackKey, &run.PolicyPackVersion,
		&run.PolicyEffectiveHash, &run.FlowID, &run.PRURL, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan protocol run: %w", err)
	}
	if err := unmarshalJSON(tmpl, &run.TemplateConfig); err != nil {
		return nil, err
	}
	run.Status = domain.ProtocolStatus(status)
	run.CreatedAt = parseTime(createdAt)
	run.UpdatedAt = parseTime(updatedAt)
	return &run, nil
}

func (s *SQLiteStore) GetProtocolRun(ctx context.Context, id int64) (*domain.ProtocolRun, error) {
	return scanProtocolRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM protocol_runs WHERE id = ?`, id))
}

func (s *SQLiteStore) UpdateProtocolRun(ctx context.Context, run *domain.ProtocolRun) error {
	run.UpdatedAt = time.Now()
	tmpl, err := marshalJSON(run.TemplateConfig)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE protocol_runs SET
  protocol_name = ?, status = ?, base_branch = ?, worktree_path = ?,
  protocol_root = ?, description = ?, template_config = ?,
  policy_pack_key = ?, policy_pack_version = ?, policy_effective_hash = ?,
  flow_id = ?, pr_url = ?, updated_at = ?
  WHERE id = ?`,
		run.ProtocolName, string(run.Status), run.BaseBranch, run.WorktreePath,
		run.ProtocolRoot, run.Description, tmpl, run.PolicyPackKey,
		run.PolicyPackVersion, run.PolicyEffectiveHash, run.FlowID, run.PRURL,
		fmtTime(run.UpdatedAt), run.ID)
	if err != nil {
		return fmt.Errorf("update protocol run: %w", err)
	}
	return requireRow(res, "protocol run")
}

func (s *SQLiteStore) SetProtocolStatus(ctx context.Context, id int64, to domain.ProtocolStatus, expected ...domain.ProtocolStatus) error {
	exp := make([]string, len(expected))
	for i, e := range expected {
		exp[i] = string(e)
	}
	return s.guardedStatusUpdate(ctx, "protocol_runs", "protocol run", id, string(to), exp)
}

func (s *SQLiteStore) ListProtocolRuns(ctx context.Context, statuses []domain.ProtocolStatus, limit int) ([]*domain.ProtocolRun, error) {
	query := `SELECT ` + runColumns + ` FROM protocol_runs`
	var args []any
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list protocol runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.ProtocolRun
	for rows.Next() {
		run, err := scanProtocolRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Step runs

func (s *SQLiteStore) CreateStepRun(ctx context.Context, step *domain.StepRun) error {
	if step.ProtocolRunID == 0 {
		return domain.Validationf("step run requires a protocol run id")
	}
	if step.Status == "" {
		step.Status = domain.StepPending
	}
	now := time.Now()
	step.CreatedAt, step.UpdatedAt = now, now

	deps, err := marshalJSON(step.DependsOn)
	if err != nil {
		return err
	}
	state, err := marshalJSON(step.RuntimeState)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO step_runs
  (protocol_run_id, step_index, step_name, step_type, status, retries, summary,
   engine_id, model, depends_on, parallel_group, runtime_state,
   created_at, updated_at)
  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ProtocolRunID, step.StepIndex, step.StepName, step.StepType,
		string(step.Status), step.Retries, step.Summary, step.EngineID,
		step.Model, deps, step.ParallelGroup, state, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert step run: %w", err)
	}
	step.ID, err = res.LastInsertId()
	return err
}

const stepColumns = `id, protocol_run_id, step_index, step_name, step_type,
  status, retries, summary, engine_id, model, depends_on, parallel_group,
  runtime_state, created_at, updated_at`

func scanStepRun(row rowScanner) (*domain.StepRun, error) {
	var step domain.StepRun
	var status string
	var deps, state sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&step.ID, &step.ProtocolRunID, &step.StepIndex,
		&step.StepName, &step.StepType, &status, &step.Retries, &step.Summary,
		&step.EngineID, &step.Model, &deps, &step.ParallelGroup, &state,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan step run: %w", err)
	}
	if err := unmarshalJSON(deps, &step.DependsOn); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(state, &step.RuntimeState); err != nil {
		return nil, err
	}
	step.Status = domain.StepStatus(status)
	step.CreatedAt = parseTime(createdAt)
	step.UpdatedAt = parseTime(updatedAt)
	return &step, nil
}

func (s *SQLiteStore) GetStepRun(ctx context.Context, id int64) (*domain.StepRun, error) {
	return scanStepRun(s.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM step_runs WHERE id = ?`, id))
}

func (s *SQLiteStore) UpdateStepRun(ctx context.Context, step *domain.StepRun) error {
	step.UpdatedAt = time.Now()
	deps, err := marshalJSON(step.DependsOn)
	if err != nil {
		return err
	}
	state, err := marshalJSON(step.RuntimeState)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE step_runs SET
  step_index = ?, step_name = ?, step_type = ?,
  summary = ?, engine_id = ?, model = ?, depends_on = ?, parallel_group = ?,
  runtime_state = ?, updated_at = ?
  WHERE id = ?`,
		step.StepIndex, step.StepName, step.StepType,
		step.Summary, step.EngineID, step.Model, deps,
		step.ParallelGroup, state, fmtTime(step.UpdatedAt), step.ID)
	if err != nil {
		return fmt.Errorf("update step run: %w", err)
	}
	return requireRow(res, "step run")
}

func (s *SQLiteStore) ResetStepForRetry(ctx context.Context, id int64, expected ...domain.StepStatus) error {
	placeholders := make([]string, len(expected))
	args := []any{string(domain.StepPending), fmtTime(time.Now()), id}
	for i, e := range expected {
		placeholders[i] = "?"
		args = append(args, string(e))
	}
	q := `UPDATE step_runs SET status = ?, retries = retries + 1, updated_at = ? WHERE id = ?`
	if len(expected) > 0 {
		q += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("reset step run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	exp := make([]string, len(expected))
	for i, e := range expected {
		exp[i] = string(e)
	}
	return s.statusConflict(ctx, "step_runs", "step run", id, exp)
}

func (s *SQLiteStore) SetStepStatus(ctx context.Context, id int64, to domain.StepStatus, expected ...domain.StepStatus) error {
	exp := make([]string, len(expected))
	for i, e := range expected {
		exp[i] = string(e)
	}
	return s.guardedStatusUpdate(ctx, "step_runs", "step run", id, string(to), exp)
}

func (s *SQLiteStore) ListStepRuns(ctx context.Context, runID int64) ([]*domain.StepRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM step_runs WHERE protocol_run_id = ? ORDER BY step_index ASC, id ASC`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("list step runs: %w", err)
	}
	defer rows.Close()

	var steps []*domain.StepRun
	for rows.Next() {
		step, err := scanStepRun(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// guardedStatusUpdate performs the compare-and-set status write. With an
// expected set, a zero-row update against an existing row means another
// actor won the race.
func (s *SQLiteStore) guardedStatusUpdate(ctx context.Context, table, entity string, id int64, to string, expected []string) error {
	now := fmtTime(time.Now())
	var res sql.Result
	var err error
	if len(expected) == 0 {
		res, err = s.db.ExecContext(ctx,
			`UPDATE `+table+` SET status = ?, updated_at = ? WHERE id = ?`,
			to, now, id)
	} else {
		placeholders := make([]string, len(expected))
		args := []any{to, now, id}
		for i, e := range expected {
			placeholders[i] = "?"
			args = append(args, e)
		}
		res, err = s.db.ExecContext(ctx,
			`UPDATE `+table+` SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+
				strings.Join(placeholders, ", ")+`)`, args...)
	}
	if err != nil {
		return fmt.Errorf("update %s status: %w", entity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return s.statusConflict(ctx, table, entity, id, expected)
}

// statusConflict explains a zero-row guarded update: a missing row or a
// status another actor already moved.
func (s *SQLiteStore) statusConflict(ctx context.Context, table, entity string, id int64, expected []string) error {
	var current string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM `+table+` WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s status: %w", entity, err)
	}
	return &domain.ConflictError{
		Entity:   entity,
		ID:       id,
		Expected: strings.Join(expected, "|"),
		Actual:   current,
	}
}

// Feedback records

func (s *SQLiteStore) CreateFeedbackRecord(ctx context.Context, rec *domain.FeedbackRecord) error {
	rec.CreatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO feedback_records
  (protocol_run_id, step_run_id, error_category, action, attempt, created_at)
  VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ProtocolRunID, rec.StepRunID, rec.ErrorCategory, rec.Action,
		rec.Attempt, fmtTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert feedback record: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) ListFeedbackRecords(ctx context.Context, runID int64) ([]*domain.FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
  id, protocol_run_id, step_run_id, error_category, action, attempt, created_at
  FROM feedback_records WHERE protocol_run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list feedback records: %w", err)
	}
	defer rows.Close()

	var recs []*domain.FeedbackRecord
	for rows.Next() {
		var rec domain.FeedbackRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.ProtocolRunID, &rec.StepRunID,
			&rec.ErrorCategory, &rec.Action, &rec.Attempt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan feedback record: %w", err)
		}
		rec.CreatedAt = parseTime(createdAt)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// Policy packs

func (s *SQLiteStore) UpsertPolicyPack(ctx context.Context, pack *domain.PolicyPack) error {
	if pack.Key == "" || pack.Version == "" {
		return domain.Validationf("policy pack requires key and version")
	}
	body, err := marshalJSON(pack.Pack)
	if err != nil {
		return err
	}
	if body == nil {
		body = "{}"
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO policy_packs (key, version, name, pack)
  VALUES (?, ?, ?, ?)
  ON CONFLICT(key, version) DO UPDATE SET name = excluded.name, pack = excluded.pack`,
		pack.Key, pack.Version, pack.Name, body)
	if err != nil {
		return fmt.Errorf("upsert policy pack: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		pack.ID = id
	}
	return nil
}

func (s *SQLiteStore) GetPolicyPack(ctx context.Context, key, version string) (*domain.PolicyPack, error) {
	var pack domain.PolicyPack
	var body sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, key, version, name, pack FROM policy_packs WHERE key = ? AND version = ?`,
		key, version).Scan(&pack.ID, &pack.Key, &pack.Version, &pack.Name, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan policy pack: %w", err)
	}
	if err := unmarshalJSON(body, &pack.Pack); err != nil {
		return nil, err
	}
	return &pack, nil
}

func requireRow(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
