package sqlite

// Table layout per spec.md §6: task, workflow, metrics, locks. JSON blobs
// carry nested structures (params, result, progress maps); timestamps are
// stored as RFC3339 TEXT, matched against the teacher's sqlite backend
// convention of TEXT-encoded time.Time rather than SQLite's native
// (limited) datetime type.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS task (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		name TEXT NOT NULL,
		protocol TEXT NOT NULL,
		method TEXT NOT NULL,
		params TEXT,
		dependencies TEXT,
		priority INTEGER NOT NULL DEFAULT 1,
		retry TEXT,
		status TEXT NOT NULL,
		result TEXT,
		error TEXT,
		error_kind TEXT,
		attempt INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_workflow_id ON task(workflow_id)`,
	`CREATE INDEX IF NOT EXISTS idx_task_workflow_status ON task(workflow_id, status)`,
	`CREATE TABLE IF NOT EXISTS workflow (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		error_strategy TEXT NOT NULL,
		state TEXT NOT NULL,
		completed_ids TEXT,
		failed_ids TEXT,
		task_results TEXT,
		total_tasks INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS metrics (
		provider_id TEXT NOT NULL,
		protocol_id TEXT,
		status TEXT,
		request_count INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		active_requests INTEGER NOT NULL DEFAULT 0,
		avg_response_time_ms REAL NOT NULL DEFAULT 0,
		recorded_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_provider_recorded ON metrics(provider_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS locks (
		resource_id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		expire_at TEXT NOT NULL
	)`,
}
