// Package sqlite provides a SQLite persistence backend for single-node
// deployments, using the pure-Go modernc.org/sqlite driver (no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	conductorerrors "github.com/gleitzeit/gleitzeit/pkg/errors"
	"github.com/gleitzeit/gleitzeit/pkg/persistence"
	"github.com/gleitzeit/gleitzeit/pkg/task"
	"github.com/gleitzeit/gleitzeit/pkg/workflow"

	_ "modernc.org/sqlite"
)

// Compile-time interface assertions.
var (
	_ persistence.TaskStore      = (*Store)(nil)
	_ persistence.WorkflowStore  = (*Store)(nil)
	_ persistence.MetricsStore   = (*Store)(nil)
	_ persistence.LockStore      = (*Store)(nil)
	_ persistence.WorkflowLister = (*Store)(nil)
	_ persistence.TaskLister     = (*Store)(nil)
	_ persistence.Store          = (*Store)(nil)
)

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path (":memory:" for a throwaway instance).
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent readers.
	WAL bool
}

// Store is a SQLite-backed persistence.Store.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) a SQLite-backed store.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writes; a single connection avoids SQLITE_BUSY churn
	// under the engine's bounded worker pool.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("exec %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func timePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func timeStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

// UpsertTask creates or replaces a task record.
func (s *Store) UpsertTask(ctx context.Context, t *task.Task) error {
	params, err := marshalJSON(t.Params)
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "upsert_task", Cause: err}
	}
	deps, err := marshalJSON(t.Dependencies)
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "upsert_task", Cause: err}
	}
	retry, err := marshalJSON(t.Retry)
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "upsert_task", Cause: err}
	}
	result, err := marshalJSON(t.Result)
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "upsert_task", Cause: err}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task (id, workflow_id, name, protocol, method, params, dependencies, priority, retry,
			status, result, error, error_kind, attempt, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_id=excluded.workflow_id, name=excluded.name, protocol=excluded.protocol,
			method=excluded.method, params=excluded.params, dependencies=excluded.dependencies,
			priority=excluded.priority, retry=excluded.retry, status=excluded.status,
			result=excluded.result, error=excluded.error, error_kind=excluded.error_kind,
			attempt=excluded.attempt, started_at=excluded.started_at, completed_at=excluded.completed_at`,
		t.ID, t.WorkflowID, t.Name, t.Protocol, t.Method, params, deps, int(t.Priority), retry,
		string(t.Status), result, t.Error, t.Kind, t.Attempt,
		t.CreatedAt.Format(time.RFC3339Nano), timeStr(t.StartedAt), timeStr(t.CompletedAt))
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "upsert_task", Cause: err}
	}
	return nil
}

func scanTask(row interface {
	Scan(dest ...any) error
}) (*task.Task, error) {
	var (
		t                                 task.Task
		params, deps, retry, result       sql.NullString
		priority, attempt                 int
		createdAt                         string
		startedAt, completedAt            sql.NullString
	)
	if err := row.Scan(&t.ID, &t.WorkflowID, &t.Name, &t.Protocol, &t.Method, &params, &deps,
		&priority, &retry, &t.Status, &result, &t.Error, &t.Kind, &attempt,
		&createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	t.Priority = task.Priority(priority)
	t.Attempt = attempt
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &t.Params); err != nil {
			return nil, err
		}
	}
	if deps.Valid && deps.String != "" {
		if err := json.Unmarshal([]byte(deps.String), &t.Dependencies); err != nil {
			return nil, err
		}
	}
	if retry.Valid && retry.String != "" {
		if err := json.Unmarshal([]byte(retry.String), &t.Retry); err != nil {
			return nil, err
		}
	}
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &t.Result); err != nil {
			return nil, err
		}
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = ts
	if t.StartedAt, err = timePtr(startedAt); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = timePtr(completedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

const taskColumns = `id, workflow_id, name, protocol, method, params, dependencies, priority, retry,
	status, result, error, error_kind, attempt, created_at, started_at, completed_at`

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM task WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, &conductorerrors.NotFoundError{Resource: "task", ID: id}
	}
	if err != nil {
		return nil, &conductorerrors.PersistenceError{Op: "get_task", Cause: err}
	}
	return t, nil
}

// SetTaskStatus transitions a task's status and timestamps.
func (s *Store) SetTaskStatus(ctx context.Context, id string, status task.Status, startedAt, completedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task SET status = ?,
			started_at = COALESCE(?, started_at),
			completed_at = COALESCE(?, completed_at)
		WHERE id = ?`,
		string(status), timeStr(startedAt), timeStr(completedAt), id)
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "set_task_status", Cause: err}
	}
	return checkAffected(res, "task", id)
}

// SetTaskResult writes status and result/error atomically within a single
// transaction, honoring the durability contract that a crash-and-recover
// observes COMPLETED and its result together or neither.
func (s *Store) SetTaskResult(ctx context.Context, id string, status task.Status, result any, errMsg, kind string, completedAt time.Time) error {
	resultJSON, err := marshalJSON(result)
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "set_task_result", Cause: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "set_task_result", Cause: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE task SET status = ?, result = ?, error = ?, error_kind = ?, completed_at = ?
		WHERE id = ?`,
		string(status), resultJSON, errMsg, kind, timeStr(&completedAt), id)
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "set_task_result", Cause: err}
	}
	if err := checkAffected(res, "task", id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &conductorerrors.PersistenceError{Op: "set_task_result", Cause: err}
	}
	return nil
}

// ListByWorkflow returns every task belonging to a workflow.
func (s *Store) ListByWorkflow(ctx context.Context, workflowID string) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM task WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return nil, &conductorerrors.PersistenceError{Op: "list_by_workflow", Cause: err}
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, &conductorerrors.PersistenceError{Op: "list_by_workflow", Cause: err}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountByStatus tallies tasks in each status for a workflow.
func (s *Store) CountByStatus(ctx context.Context, workflowID string) (map[task.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM task WHERE workflow_id = ? GROUP BY status`, workflowID)
	if err != nil {
		return nil, &conductorerrors.PersistenceError{Op: "count_by_status", Cause: err}
	}
	defer rows.Close()

	counts := make(map[task.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, &conductorerrors.PersistenceError{Op: "count_by_status", Cause: err}
		}
		counts[task.Status(status)] = n
	}
	return counts, rows.Err()
}

// UpsertWorkflow creates or replaces a workflow record.
func (s *Store) UpsertWorkflow(ctx context.Context, w *workflow.Workflow) error {
	completed, err := marshalJSON(w.CompletedIDs)
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "upsert_workflow", Cause: err}
	}
	failed, err := marshalJSON(w.FailedIDs)
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "upsert_workflow", Cause: err}
	}
	results, err := marshalJSON(w.TaskResults)
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "upsert_workflow", Cause: err}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow (id, name, description, error_strategy, state, completed_ids, failed_ids,
			task_results, total_tasks, error, created_at, updated_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, description=excluded.description, error_strategy=excluded.error_strategy,
			state=excluded.state, completed_ids=excluded.completed_ids, failed_ids=excluded.failed_ids,
			task_results=excluded.task_results, total_tasks=excluded.total_tasks, error=excluded.error,
			updated_at=excluded.updated_at, started_at=excluded.started_at, completed_at=excluded.completed_at`,
		w.ID, w.Name, w.Description, string(w.ErrorStrategy), string(w.State), completed, failed,
		results, w.TotalTasks, w.Error,
		w.CreatedAt.Format(time.RFC3339Nano), w.UpdatedAt.Format(time.RFC3339Nano),
		timeStr(w.StartedAt), timeStr(w.CompletedAt))
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "upsert_workflow", Cause: err}
	}
	return nil
}

// GetWorkflow retrieves a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, error_strategy, state, completed_ids, failed_ids,
			task_results, total_tasks, error, created_at, updated_at, started_at, completed_at
		FROM workflow WHERE id = ?`, id)

	var (
		w                                         workflow.Workflow
		completed, failed, results                sql.NullString
		createdAt, updatedAt                      string
		startedAt, completedAt                    sql.NullString
	)
	err := row.Scan(&w.ID, &w.Name, &w.Description, &w.ErrorStrategy, &w.State, &completed, &failed,
		&results, &w.TotalTasks, &w.Error, &createdAt, &updatedAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, &conductorerrors.NotFoundError{Resource: "workflow", ID: id}
	}
	if err != nil {
		return nil, &conductorerrors.PersistenceError{Op: "get_workflow", Cause: err}
	}

	if completed.Valid && completed.String != "" {
		json.Unmarshal([]byte(completed.String), &w.CompletedIDs)
	}
	if failed.Valid && failed.String != "" {
		json.Unmarshal([]byte(failed.String), &w.FailedIDs)
	}
	if results.Valid && results.String != "" {
		json.Unmarshal([]byte(results.String), &w.TaskResults)
	}
	w.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, &conductorerrors.PersistenceError{Op: "get_workflow", Cause: err}
	}
	w.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, &conductorerrors.PersistenceError{Op: "get_workflow", Cause: err}
	}
	if w.StartedAt, err = timePtr(startedAt); err != nil {
		return nil, &conductorerrors.PersistenceError{Op: "get_workflow", Cause: err}
	}
	if w.CompletedAt, err = timePtr(completedAt); err != nil {
		return nil, &conductorerrors.PersistenceError{Op: "get_workflow", Cause: err}
	}
	return &w, nil
}

// SetWorkflowStatus transitions a workflow's state.
func (s *Store) SetWorkflowStatus(ctx context.Context, id string, state workflow.State, errMsg string) error {
	now := time.Now()
	var completedAt sql.NullString
	if state.IsTerminal() {
		completedAt = timeStr(&now)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow SET state = ?, error = ?, updated_at = ?,
			completed_at = COALESCE(completed_at, ?)
		WHERE id = ?`,
		string(state), errMsg, now.Format(time.RFC3339Nano), completedAt, id)
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "set_workflow_status", Cause: err}
	}
	return checkAffected(res, "workflow", id)
}

// UpdateProgress merges newly settled task ids and results into the
// workflow's running tallies inside one transaction.
func (s *Store) UpdateProgress(ctx context.Context, id string, completedIDs, failedIDs []string, results map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "update_progress", Cause: err}
	}
	defer tx.Rollback()

	var completedJSON, failedJSON, resultsJSON sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT completed_ids, failed_ids, task_results FROM workflow WHERE id = ?`, id).
		Scan(&completedJSON, &failedJSON, &resultsJSON)
	if err == sql.ErrNoRows {
		return &conductorerrors.NotFoundError{Resource: "workflow", ID: id}
	}
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "update_progress", Cause: err}
	}

	completed := map[string]bool{}
	failed := map[string]bool{}
	taskResults := map[string]any{}
	if completedJSON.Valid && completedJSON.String != "" {
		json.Unmarshal([]byte(completedJSON.String), &completed)
	}
	if failedJSON.Valid && failedJSON.String != "" {
		json.Unmarshal([]byte(failedJSON.String), &failed)
	}
	if resultsJSON.Valid && resultsJSON.String != "" {
		json.Unmarshal([]byte(resultsJSON.String), &taskResults)
	}
	for _, tid := range completedIDs {
		completed[tid] = true
	}
	for _, tid := range failedIDs {
		failed[tid] = true
	}
	for k, v := range results {
		taskResults[k] = v
	}

	completedOut, _ := marshalJSON(completed)
	failedOut, _ := marshalJSON(failed)
	resultsOut, _ := marshalJSON(taskResults)

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow SET completed_ids = ?, failed_ids = ?, task_results = ?, updated_at = ?
		WHERE id = ?`,
		completedOut, failedOut, resultsOut, time.Now().Format(time.RFC3339Nano), id)
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "update_progress", Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return &conductorerrors.PersistenceError{Op: "update_progress", Cause: err}
	}
	return nil
}

// AppendMetrics records a point-in-time provider metrics snapshot.
func (s *Store) AppendMetrics(ctx context.Context, snap persistence.MetricsSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metrics (provider_id, protocol_id, status, request_count, error_count,
			active_requests, avg_response_time_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ProviderID, snap.ProtocolID, snap.Status, snap.RequestCount, snap.ErrorCount,
		snap.ActiveRequests, snap.AvgResponseTimeMs, snap.RecordedAt.Format(time.RFC3339Nano))
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "append_metrics", Cause: err}
	}
	return nil
}

// ListMetrics returns snapshots for a provider recorded at or after since.
func (s *Store) ListMetrics(ctx context.Context, providerID string, since time.Time) ([]persistence.MetricsSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id, protocol_id, status, request_count, error_count, active_requests,
			avg_response_time_ms, recorded_at
		FROM metrics WHERE provider_id = ? AND recorded_at >= ? ORDER BY recorded_at ASC`,
		providerID, since.Format(time.RFC3339Nano))
	if err != nil {
		return nil, &conductorerrors.PersistenceError{Op: "list_metrics", Cause: err}
	}
	defer rows.Close()

	var out []persistence.MetricsSnapshot
	for rows.Next() {
		var snap persistence.MetricsSnapshot
		var recordedAt string
		if err := rows.Scan(&snap.ProviderID, &snap.ProtocolID, &snap.Status, &snap.RequestCount,
			&snap.ErrorCount, &snap.ActiveRequests, &snap.AvgResponseTimeMs, &recordedAt); err != nil {
			return nil, &conductorerrors.PersistenceError{Op: "list_metrics", Cause: err}
		}
		snap.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, &conductorerrors.PersistenceError{Op: "list_metrics", Cause: err}
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Acquire takes resourceID for owner if unheld or expired.
func (s *Store) Acquire(ctx context.Context, resourceID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO locks (resource_id, owner, expire_at) VALUES (?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET owner = excluded.owner, expire_at = excluded.expire_at
		WHERE locks.owner = excluded.owner OR locks.expire_at <= ?`,
		resourceID, owner, now.Add(ttl).Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return false, &conductorerrors.PersistenceError{Op: "acquire_lock", Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &conductorerrors.PersistenceError{Op: "acquire_lock", Cause: err}
	}
	if n > 0 {
		return true, nil
	}
	// No row changed: either we already own it with this exact state, or
	// it's genuinely held by someone else. Disambiguate with a read.
	current, err := s.OwnerOf(ctx, resourceID)
	if err != nil {
		return false, err
	}
	return current == owner, nil
}

// Extend renews ttl on a lock owner currently holds.
func (s *Store) Extend(ctx context.Context, resourceID, owner string, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE locks SET expire_at = ? WHERE resource_id = ? AND owner = ? AND expire_at > ?`,
		time.Now().Add(ttl).Format(time.RFC3339Nano), resourceID, owner, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return false, &conductorerrors.PersistenceError{Op: "extend_lock", Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &conductorerrors.PersistenceError{Op: "extend_lock", Cause: err}
	}
	return n > 0, nil
}

// Release drops the lock if owner currently holds it.
func (s *Store) Release(ctx context.Context, resourceID, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM locks WHERE resource_id = ? AND owner = ?`, resourceID, owner)
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "release_lock", Cause: err}
	}
	return nil
}

// OwnerOf returns the current lock holder, or "" if unlocked/expired.
func (s *Store) OwnerOf(ctx context.Context, resourceID string) (string, error) {
	var owner, expireAt string
	err := s.db.QueryRowContext(ctx, `SELECT owner, expire_at FROM locks WHERE resource_id = ?`, resourceID).
		Scan(&owner, &expireAt)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", &conductorerrors.PersistenceError{Op: "owner_of", Cause: err}
	}
	exp, err := time.Parse(time.RFC3339Nano, expireAt)
	if err != nil {
		return "", &conductorerrors.PersistenceError{Op: "owner_of", Cause: err}
	}
	if !exp.After(time.Now()) {
		return "", nil
	}
	return owner, nil
}

// ListByState returns every workflow currently in state, for the engine's
// startup recovery scan.
func (s *Store) ListByState(ctx context.Context, state workflow.State) ([]*workflow.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, error_strategy, state, completed_ids, failed_ids,
			task_results, total_tasks, error, created_at, updated_at, started_at, completed_at
		FROM workflow WHERE state = ?`, string(state))
	if err != nil {
		return nil, &conductorerrors.PersistenceError{Op: "list_by_state", Cause: err}
	}
	defer rows.Close()

	var out []*workflow.Workflow
	for rows.Next() {
		var (
			w                           workflow.Workflow
			completed, failed, results  sql.NullString
			createdAt, updatedAt       string
			startedAt, completedAt     sql.NullString
		)
		if err := rows.Scan(&w.ID, &w.Name, &w.Description, &w.ErrorStrategy, &w.State, &completed, &failed,
			&results, &w.TotalTasks, &w.Error, &createdAt, &updatedAt, &startedAt, &completedAt); err != nil {
			return nil, &conductorerrors.PersistenceError{Op: "list_by_state", Cause: err}
		}
		if completed.Valid && completed.String != "" {
			json.Unmarshal([]byte(completed.String), &w.CompletedIDs)
		}
		if failed.Valid && failed.String != "" {
			json.Unmarshal([]byte(failed.String), &w.FailedIDs)
		}
		if results.Valid && results.String != "" {
			json.Unmarshal([]byte(results.String), &w.TaskResults)
		}
		if w.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, &conductorerrors.PersistenceError{Op: "list_by_state", Cause: err}
		}
		if w.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, &conductorerrors.PersistenceError{Op: "list_by_state", Cause: err}
		}
		if w.StartedAt, err = timePtr(startedAt); err != nil {
			return nil, &conductorerrors.PersistenceError{Op: "list_by_state", Cause: err}
		}
		if w.CompletedAt, err = timePtr(completedAt); err != nil {
			return nil, &conductorerrors.PersistenceError{Op: "list_by_state", Cause: err}
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

// ListByStatus returns every task currently in status, for the engine's
// startup recovery scan.
func (s *Store) ListByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM task WHERE status = ?`, string(status))
	if err != nil {
		return nil, &conductorerrors.PersistenceError{Op: "list_by_status", Cause: err}
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, &conductorerrors.PersistenceError{Op: "list_by_status", Cause: err}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func checkAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return &conductorerrors.PersistenceError{Op: "check_affected", Cause: err}
	}
	if n == 0 {
		return &conductorerrors.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}
