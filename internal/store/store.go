// Package store implements the Task Store (C6), Machine Registry (C5), and
// Topic Registry (spec §4.5–§4.6) as three tables of one transactional
// SQLite database. Grounded on the teacher's internal/repository/sqlite
// connection/schema/migration style (WAL journal, busy timeout, additive
// ALTER-TABLE migrations applied and ignored-on-conflict), generalized from
// the teacher's whole-state load/save pattern into per-row SQL so
// ClaimNextTask can be a genuine atomic transaction — the teacher's
// StateRepository has no analogue for this because its collaboration board
// never needed an at-most-one-claim guarantee.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
	"github.com/jaakkos/stringwork-orchestrator/internal/errkind"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	project TEXT NOT NULL DEFAULT '',
	repo_url TEXT NOT NULL DEFAULT '',
	source_branch TEXT NOT NULL DEFAULT '',
	target_branch TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	engine_hint TEXT NOT NULL DEFAULT '',
	budget_ceiling REAL NOT NULL DEFAULT 0,
	claim_id TEXT NOT NULL DEFAULT '',
	assigned_machine TEXT NOT NULL DEFAULT '',
	workspace_path TEXT NOT NULL DEFAULT '',
	chat_thread_id TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	started_at TEXT NOT NULL DEFAULT '',
	completed_at TEXT NOT NULL DEFAULT '',
	notified_at TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	result_summary TEXT NOT NULL DEFAULT '',
	changed_files TEXT NOT NULL DEFAULT '[]',
	pull_request_url TEXT NOT NULL DEFAULT '',
	result_json TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_priority ON tasks(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_assigned_machine ON tasks(assigned_machine);

CREATE TABLE IF NOT EXISTS machines (
	id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	projects TEXT NOT NULL DEFAULT '[]',
	max_concurrent INTEGER NOT NULL DEFAULT 1,
	active_tasks INTEGER NOT NULL DEFAULT 0,
	os TEXT NOT NULL DEFAULT '',
	engine_priority TEXT NOT NULL DEFAULT '[]',
	health_url TEXT NOT NULL DEFAULT '',
	last_heartbeat TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'offline'
);

CREATE TABLE IF NOT EXISTS topics (
	thread_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	task_id TEXT NOT NULL DEFAULT ''
);
`

// Store is the durable row store backing C5/C6/Topic Registry.
type Store struct {
	db *sql.DB
}

// Open creates parent directories, opens (or creates) the SQLite database
// at path in WAL mode, applies the schema, and returns a ready Store.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers across conns
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error { return s.db.Close() }

const timeFmt = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeFmt)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFmt, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ---- Task Store (C6) ----

// CreateTask inserts a new task in the queued state, assigning it a uuid if
// Id is empty, per spec §4.6's `create_task` transition (driven by C9/C10).
func (s *Store) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = domain.TaskQueued
	t.CreatedAt = time.Now()

	changedFiles, _ := json.Marshal(t.ChangedFiles)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, description, project, repo_url, source_branch, target_branch,
			status, priority, engine_hint, budget_ceiling, claim_id,
			assigned_machine, workspace_path, chat_thread_id, session_id,
			created_at, started_at, completed_at, notified_at, error_message,
			result_summary, changed_files, pull_request_url, result_json
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Description, t.Project, t.RepoURL, t.SourceBranch, t.TargetBranch,
		t.Status, t.Priority, t.EngineHint, t.BudgetCeiling, t.ClaimID,
		t.AssignedMachine, t.WorkspacePath, t.ChatThreadID, t.SessionID,
		formatTime(t.CreatedAt), formatTime(t.StartedAt), formatTime(t.CompletedAt),
		formatTime(t.NotifiedAt), t.ErrorMessage, t.ResultSummary,
		string(changedFiles), t.PullRequestURL, t.ResultJSON,
	)
	if err != nil {
		return domain.Task{}, fmt.Errorf("store: create task: %w", err)
	}
	return t, nil
}

// ClaimNextTask is the atomic claim primitive from spec §4.6: in one
// transaction it selects the oldest, highest-priority queued task whose
// assigned_machine equals machineID or is unassigned, marks it claimed,
// stamps claim_id and started_at, and returns the row. At most one caller
// across concurrent goroutines/processes observes success for any row:
// within one process every transaction serializes through the single
// connection (SetMaxOpenConns(1) above), and the UPDATE only matches a row
// still in the queued state, so a second claimer of the same row never
// gets a success.
func (s *Store) ClaimNextTask(ctx context.Context, workerID, machineID string) (domain.Task, bool, error) {
	// SetMaxOpenConns(1) means every transaction on this *sql.DB serializes
	// through the single underlying connection, so the SELECT-then-UPDATE
	// below can never interleave with another caller's claim attempt —
	// database/sql queues the second BeginTx until this one commits.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, false, fmt.Errorf("store: claim begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id FROM tasks
		WHERE status = ? AND (assigned_machine = '' OR assigned_machine = ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`, domain.TaskQueued, machineID)

	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return domain.Task{}, false, nil
		}
		return domain.Task{}, false, fmt.Errorf("store: claim select: %w", err)
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, claim_id = ?, assigned_machine = ?, started_at = ?
		WHERE id = ? AND status = ?`,
		domain.TaskClaimed, workerID, machineID, formatTime(now), id, domain.TaskQueued)
	if err != nil {
		return domain.Task{}, false, fmt.Errorf("store: claim update: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Lost the race between SELECT and UPDATE to another worker.
		return domain.Task{}, false, nil
	}

	task, err := scanTaskByID(ctx, tx, id)
	if err != nil {
		return domain.Task{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, false, fmt.Errorf("store: claim commit: %w", err)
	}
	return task, true, nil
}

func scanTaskByID(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id string) (domain.Task, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, description, project, repo_url, source_branch, target_branch,
			status, priority, engine_hint, budget_ceiling, claim_id,
			assigned_machine, workspace_path, chat_thread_id, session_id,
			created_at, started_at, completed_at, notified_at, error_message,
			result_summary, changed_files, pull_request_url, result_json
		FROM tasks WHERE id = ?`, id)
	return scanTaskRow(row)
}

func scanTaskRow(row *sql.Row) (domain.Task, error) {
	var t domain.Task
	var created, started, completed, notified, changedFiles string
	err := row.Scan(
		&t.ID, &t.Description, &t.Project, &t.RepoURL, &t.SourceBranch, &t.TargetBranch,
		&t.Status, &t.Priority, &t.EngineHint, &t.BudgetCeiling, &t.ClaimID,
		&t.AssignedMachine, &t.WorkspacePath, &t.ChatThreadID, &t.SessionID,
		&created, &started, &completed, &notified, &t.ErrorMessage,
		&t.ResultSummary, &changedFiles, &t.PullRequestURL, &t.ResultJSON,
	)
	if err != nil {
		return domain.Task{}, err
	}
	t.CreatedAt = parseTime(created)
	t.StartedAt = parseTime(started)
	t.CompletedAt = parseTime(completed)
	t.NotifiedAt = parseTime(notified)
	_ = json.Unmarshal([]byte(changedFiles), &t.ChangedFiles)
	return t, nil
}

// GetTask fetches a task by its exact id.
func (s *Store) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTaskByID(ctx, s.db, id)
}

// FindByPrefix resolves a task by the first 4+ characters of its id per
// spec §4.6's prefix-lookup rule. SQL wildcard characters are rejected
// outright; ambiguity among matches resolves to the most recently created.
func (s *Store) FindByPrefix(ctx context.Context, prefix string) (domain.Task, error) {
	if len(prefix) < 4 {
		return domain.Task{}, errkind.New(errkind.Fatal, "task id prefix must be at least 4 characters")
	}
	if strings.ContainsAny(prefix, "%_") {
		return domain.Task{}, errkind.New(errkind.Fatal, "task id prefix must not contain SQL wildcard characters")
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, description, project, repo_url, source_branch, target_branch,
			status, priority, engine_hint, budget_ceiling, claim_id,
			assigned_machine, workspace_path, chat_thread_id, session_id,
			created_at, started_at, completed_at, notified_at, error_message,
			result_summary, changed_files, pull_request_url, result_json
		FROM tasks WHERE id LIKE ? || '%' ESCAPE '\'
		ORDER BY created_at DESC LIMIT 1`, prefix)
	t, err := scanTaskRow(row)
	if err == sql.ErrNoRows {
		return domain.Task{}, errkind.New(errkind.NoRepo, "no task matches prefix "+prefix)
	}
	return t, err
}

// ListActive returns every task not yet in a terminal status, ordered
// oldest-first, for the status dashboard's activeTasks snapshot (spec §5).
func (s *Store) ListActive(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, project, repo_url, source_branch, target_branch,
			status, priority, engine_hint, budget_ceiling, claim_id,
			assigned_machine, workspace_path, chat_thread_id, session_id,
			created_at, started_at, completed_at, notified_at, error_message,
			result_summary, changed_files, pull_request_url, result_json
		FROM tasks
		WHERE status IN (?, ?, ?, ?)
		ORDER BY created_at ASC`,
		domain.TaskQueued, domain.TaskClaimed, domain.TaskRunning, domain.TaskWaitingInput)
	if err != nil {
		return nil, fmt.Errorf("store: list active: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		var t domain.Task
		var created, started, completed, notified, changedFiles string
		if err := rows.Scan(
			&t.ID, &t.Description, &t.Project, &t.RepoURL, &t.SourceBranch, &t.TargetBranch,
			&t.Status, &t.Priority, &t.EngineHint, &t.BudgetCeiling, &t.ClaimID,
			&t.AssignedMachine, &t.WorkspacePath, &t.ChatThreadID, &t.SessionID,
			&created, &started, &completed, &notified, &t.ErrorMessage,
			&t.ResultSummary, &changedFiles, &t.PullRequestURL, &t.ResultJSON,
		); err != nil {
			return nil, fmt.Errorf("store: scan active task: %w", err)
		}
		t.CreatedAt = parseTime(created)
		t.StartedAt = parseTime(started)
		t.CompletedAt = parseTime(completed)
		t.NotifiedAt = parseTime(notified)
		_ = json.Unmarshal([]byte(changedFiles), &t.ChangedFiles)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateStatus transitions a task's status and, for terminal statuses,
// stamps completed_at and the supplied message per spec §4.6's invariant
// (status is terminal iff completed_at is set).
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, message string) error {
	now := time.Now()
	var completedAt string
	if status.Terminal() {
		completedAt = formatTime(now)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error_message = ?, completed_at = COALESCE(NULLIF(?, ''), completed_at)
		WHERE id = ?`, status, message, completedAt, id)
	return err
}

// TouchHeartbeat refreshes started_at on a running claim, implementing the
// application-level 60 s heartbeat spec §4.6 requires to keep the stale
// sweeper from reaping a live session.
func (s *Store) TouchHeartbeat(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET started_at = ? WHERE id = ?`, formatTime(time.Now()), id)
	return err
}

// SetWaitingInput and SetRunning implement the running <-> waiting_input
// auxiliary transition during multi-turn resumes.
func (s *Store) SetWaitingInput(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ? AND status = ?`,
		domain.TaskWaitingInput, id, domain.TaskRunning)
	return err
}

func (s *Store) SetRunning(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, domain.TaskRunning, id)
	return err
}

// Complete records a successful completion with its result artifacts.
func (s *Store) Complete(ctx context.Context, id, resultSummary, pullRequestURL string, changedFiles []string, resultJSON string) error {
	cf, _ := json.Marshal(changedFiles)
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, completed_at = ?, result_summary = ?,
			pull_request_url = ?, changed_files = ?, result_json = ?
		WHERE id = ?`,
		domain.TaskCompleted, formatTime(time.Now()), resultSummary, pullRequestURL,
		string(cf), resultJSON, id)
	return err
}

// SweepStaleTasks fails any task in claimed|running whose started_at is
// older than staleAfter, per spec §4.6's stale sweeper, and returns the ids
// it reaped.
func (s *Store) SweepStaleTasks(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	cutoff := formatTime(time.Now().Add(-staleAfter))
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM tasks
		WHERE status IN (?, ?) AND started_at != '' AND started_at < ?`,
		domain.TaskClaimed, domain.TaskRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: sweep select: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if err := s.UpdateStatus(ctx, id, domain.TaskFailed, "Executor crashed/restarted during execution"); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

// ---- Machine Registry (C5) ----

// UpsertMachine is the durable upsert on machine_id per spec §4.5:
// last-writer wins for mutable fields.
func (s *Store) UpsertMachine(ctx context.Context, m domain.Machine) error {
	projects, _ := json.Marshal(m.Projects)
	enginePriority, _ := json.Marshal(m.EnginePriority)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO machines (id, display_name, projects, max_concurrent, active_tasks, os, engine_priority, health_url, last_heartbeat, status)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			projects = excluded.projects,
			max_concurrent = excluded.max_concurrent,
			os = excluded.os,
			engine_priority = excluded.engine_priority,
			health_url = excluded.health_url`,
		m.ID, m.DisplayName, string(projects), m.MaxConcurrent, m.ActiveTasks,
		m.OS, string(enginePriority), m.HealthURL, formatTime(time.Now()), domain.MachineOffline)
	return err
}

// Heartbeat updates last_heartbeat and active_tasks, setting status to busy
// if active_tasks > 0 else online, per spec §4.5.
func (s *Store) Heartbeat(ctx context.Context, machineID string, activeTasks int) error {
	status := domain.MachineOnline
	if activeTasks > 0 {
		status = domain.MachineBusy
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE machines SET last_heartbeat = ?, active_tasks = ?, status = ?
		WHERE id = ?`, formatTime(time.Now()), activeTasks, status, machineID)
	return err
}

// Available returns machines fresh within hbFresh and with spare capacity.
func (s *Store) Available(ctx context.Context, hbFresh time.Duration) ([]domain.Machine, error) {
	cutoff := formatTime(time.Now().Add(-hbFresh))
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, projects, max_concurrent, active_tasks, os, engine_priority, health_url, last_heartbeat, status
		FROM machines WHERE last_heartbeat >= ? AND active_tasks < max_concurrent`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMachines(rows)
}

// GetMachine fetches a single machine row by id, used by the executor to
// read a claimed task's engine-priority list and OS before spawning.
func (s *Store) GetMachine(ctx context.Context, id string) (domain.Machine, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, projects, max_concurrent, active_tasks, os, engine_priority, health_url, last_heartbeat, status
		FROM machines WHERE id = ?`, id)
	var m domain.Machine
	var projects, enginePriority, lastHeartbeat string
	err := row.Scan(&m.ID, &m.DisplayName, &projects, &m.MaxConcurrent, &m.ActiveTasks,
		&m.OS, &enginePriority, &m.HealthURL, &lastHeartbeat, &m.Status)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Machine{}, false, nil
		}
		return domain.Machine{}, false, err
	}
	_ = json.Unmarshal([]byte(projects), &m.Projects)
	_ = json.Unmarshal([]byte(enginePriority), &m.EnginePriority)
	m.LastHeartbeat = parseTime(lastHeartbeat)
	return m, true, nil
}

// BestForProject prefers a machine whose projects list contains p;
// otherwise the machine with the largest free slack, per spec §4.5.
func (s *Store) BestForProject(ctx context.Context, hbFresh time.Duration, project, engine string) (domain.Machine, bool, error) {
	candidates, err := s.Available(ctx, hbFresh)
	if err != nil {
		return domain.Machine{}, false, err
	}
	var capable []domain.Machine
	for _, m := range candidates {
		if m.SupportsEngine(engine) {
			capable = append(capable, m)
		}
	}
	if len(capable) == 0 {
		return domain.Machine{}, false, nil
	}
	for _, m := range capable {
		if m.SupportsProject(project) {
			return m, true, nil
		}
	}
	best := capable[0]
	for _, m := range capable[1:] {
		if m.FreeSlack() > best.FreeSlack() {
			best = m
		}
	}
	return best, true, nil
}

// SweepStaleMachines marks any fresh-recorded machine offline when its
// last_heartbeat is older than hbStale, per spec §4.5.
func (s *Store) SweepStaleMachines(ctx context.Context, hbStale time.Duration) error {
	cutoff := formatTime(time.Now().Add(-hbStale))
	_, err := s.db.ExecContext(ctx, `
		UPDATE machines SET status = ? WHERE last_heartbeat < ? AND status != ?`,
		domain.MachineOffline, cutoff, domain.MachineOffline)
	return err
}

// ResolveAlias resolves a case-insensitive alias to a machine id, matching
// in priority order per spec §4.5: exact machine id, exact display name,
// display-name substring, machine-id substring.
func (s *Store) ResolveAlias(ctx context.Context, alias string) (domain.Machine, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, projects, max_concurrent, active_tasks, os, engine_priority, health_url, last_heartbeat, status
		FROM machines`)
	if err != nil {
		return domain.Machine{}, false, err
	}
	defer rows.Close()
	machines, err := scanMachines(rows)
	if err != nil {
		return domain.Machine{}, false, err
	}

	lower := strings.ToLower(alias)
	var byExactID, byExactName, byNameSubstr, byIDSubstr *domain.Machine
	for i := range machines {
		m := &machines[i]
		if strings.EqualFold(m.ID, alias) {
			byExactID = m
			break
		}
		if strings.EqualFold(m.DisplayName, alias) && byExactName == nil {
			byExactName = m
		}
		if byNameSubstr == nil && strings.Contains(strings.ToLower(m.DisplayName), lower) {
			byNameSubstr = m
		}
		if byIDSubstr == nil && strings.Contains(strings.ToLower(m.ID), lower) {
			byIDSubstr = m
		}
	}
	for _, candidate := range []*domain.Machine{byExactID, byExactName, byNameSubstr, byIDSubstr} {
		if candidate != nil {
			return *candidate, true, nil
		}
	}
	return domain.Machine{}, false, nil
}

func scanMachines(rows *sql.Rows) ([]domain.Machine, error) {
	var out []domain.Machine
	for rows.Next() {
		var m domain.Machine
		var projects, enginePriority, lastHeartbeat string
		if err := rows.Scan(&m.ID, &m.DisplayName, &projects, &m.MaxConcurrent, &m.ActiveTasks,
			&m.OS, &enginePriority, &m.HealthURL, &lastHeartbeat, &m.Status); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(projects), &m.Projects)
		_ = json.Unmarshal([]byte(enginePriority), &m.EnginePriority)
		m.LastHeartbeat = parseTime(lastHeartbeat)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- Topic Registry ----

// UpsertTopic records or updates a chat thread's lifecycle row so a crash
// never orphans it (spec §4.4 topic lifecycle rules, §4.8 recovery).
func (s *Store) UpsertTopic(ctx context.Context, threadID string, status domain.TopicStatus, taskID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topics (thread_id, status, task_id) VALUES (?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET status = excluded.status, task_id = excluded.task_id`,
		threadID, status, taskID)
	return err
}

// Topic fetches one topic row by thread id.
func (s *Store) Topic(ctx context.Context, threadID string) (domain.Topic, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT thread_id, status, task_id FROM topics WHERE thread_id = ?`, threadID)
	var t domain.Topic
	if err := row.Scan(&t.ThreadID, &t.Status, &t.TaskID); err != nil {
		if err == sql.ErrNoRows {
			return domain.Topic{}, false, nil
		}
		return domain.Topic{}, false, err
	}
	return t, true, nil
}
