// Package checkpoint persists migration job and per-table progress state in
// a local SQLite database. The committed offset for each table is the resume
// point: it only ever moves forward, and it is written after the target
// transaction for a chunk commits, so a crash can repeat at most the chunk
// in flight, never skip one.
package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// JobStatus is the lifecycle state of a migration job.
type JobStatus string

const (
	JobInitializing    JobStatus = "initializing"
	JobSchemaMigrating JobStatus = "schema-migrating"
	JobDataMigrating   JobStatus = "data-migrating"
	JobValidating      JobStatus = "validating"
	JobCompleted       JobStatus = "completed"
	JobFailed          JobStatus = "failed"
	JobCancelled       JobStatus = "cancelled"
)

// Terminal reports whether UpdateJobStatus accepts no further transitions.
// ReopenJob is the explicit escape hatch for failed and cancelled jobs.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// TableStatus is the per-table migration state.
type TableStatus string

const (
	TableNotStarted TableStatus = "not-started"
	TableInProgress TableStatus = "in-progress"
	TableCompleted  TableStatus = "completed"
	TableFailed     TableStatus = "failed"
	TableSkipped    TableStatus = "skipped"
)

// ErrNotFound is returned when a job or table record does not exist.
var ErrNotFound = errors.New("checkpoint: not found")

// Job is one migration job record.
type Job struct {
	ID           string
	SourceType   string
	SourceSchema string
	TargetSchema string
	Status       JobStatus
	Phase        string
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableState is the durable per-table progress record.
type TableState struct {
	JobID           string
	Table           string
	Status          TableStatus
	TotalRows       int64
	CommittedOffset int64
	ChunkSize       int
	Error           string
	UpdatedAt       time.Time
}

// State is the SQLite-backed store for jobs, table progress and the audit
// log. Safe for concurrent use; SQLite serializes writers and the busy
// timeout absorbs contention between table workers.
type State struct {
	db *sql.DB
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	source_type   TEXT NOT NULL,
	source_schema TEXT NOT NULL,
	target_schema TEXT NOT NULL,
	status        TEXT NOT NULL,
	phase         TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS table_state (
	job_id           TEXT NOT NULL REFERENCES jobs(id),
	table_name       TEXT NOT NULL,
	status           TEXT NOT NULL,
	total_rows       INTEGER NOT NULL DEFAULT 0,
	committed_offset INTEGER NOT NULL DEFAULT 0,
	chunk_size       INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	updated_at       TIMESTAMP NOT NULL,
	PRIMARY KEY (job_id, table_name)
);

CREATE INDEX IF NOT EXISTS idx_table_state_status ON table_state(job_id, status);
`

// Open opens (creating if needed) the state database at path.
func Open(path string) (*State, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY between in-process writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state schema: %w", err)
	}
	return &State{db: db}, nil
}

func (s *State) Close() error { return s.db.Close() }

// DB exposes the underlying handle so the audit log can live in the same
// database file.
func (s *State) DB() *sql.DB { return s.db }

// CreateJob inserts a new job record in status initializing.
func (s *State) CreateJob(id, sourceType, sourceSchema, targetSchema string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`INSERT INTO jobs (id, source_type, source_schema, target_schema, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, sourceType, sourceSchema, targetSchema, string(JobInitializing), now, now)
	if err != nil {
		return fmt.Errorf("creating job %s: %w", id, err)
	}
	return nil
}

// UpdateJobStatus transitions a job. Transitions out of a terminal status
// are rejected.
func (s *State) UpdateJobStatus(id string, status JobStatus, errMsg string) error {
	cur, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if cur.Status.Terminal() {
		return fmt.Errorf("job %s is %s; cannot transition to %s", id, cur.Status, status)
	}
	_, err = s.db.Exec(`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", id, err)
	}
	return nil
}

// UpdateJobPhase records the current engine phase for status display.
func (s *State) UpdateJobPhase(id, phase string) error {
	_, err := s.db.Exec(`UPDATE jobs SET phase = ?, updated_at = ? WHERE id = ?`,
		phase, time.Now().UTC(), id)
	return err
}

// GetJob returns one job or ErrNotFound.
func (s *State) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT id, source_type, source_schema, target_schema, status, phase, error, created_at, updated_at
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobs returns all jobs, most recent first.
func (s *State) ListJobs() ([]Job, error) {
	rows, err := s.db.Query(`SELECT id, source_type, source_schema, target_schema, status, phase, error, created_at, updated_at
		FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// GetLastResumableJob returns the most recent job that can still be
// restarted: anything except a completed one. Failed and cancelled jobs
// qualify; their per-table offsets are the resume points.
func (s *State) GetLastResumableJob() (*Job, error) {
	row := s.db.QueryRow(`SELECT id, source_type, source_schema, target_schema, status, phase, error, created_at, updated_at
		FROM jobs WHERE status != ? ORDER BY created_at DESC LIMIT 1`,
		string(JobCompleted))
	return scanJob(row)
}

// ReopenJob returns a failed or cancelled job to a runnable status so an
// explicit restart can pick it up from its persisted offsets. Completed
// jobs stay terminal; reopening one is an error.
func (s *State) ReopenJob(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, error = '', updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(JobInitializing), time.Now().UTC(), id, string(JobFailed), string(JobCancelled))
	if err != nil {
		return fmt.Errorf("reopening job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		cur, err := s.GetJob(id)
		if err != nil {
			return err
		}
		return fmt.Errorf("job %s is %s; only failed or cancelled jobs can be reopened", id, cur.Status)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*Job, error) {
	var j Job
	var status string
	err := r.Scan(&j.ID, &j.SourceType, &j.SourceSchema, &j.TargetSchema, &status, &j.Phase, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	return &j, nil
}

// InitTable registers a table with the job, preserving any existing record
// so resumed jobs keep their committed offsets.
func (s *State) InitTable(jobID, table string, totalRows int64, chunkSize int) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`INSERT INTO table_state (job_id, table_name, status, total_rows, chunk_size, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, table_name) DO UPDATE SET total_rows = excluded.total_rows, updated_at = excluded.updated_at`,
		jobID, table, string(TableNotStarted), totalRows, chunkSize, now)
	if err != nil {
		return fmt.Errorf("registering table %s: %w", table, err)
	}
	return nil
}

// MarkTableStatus sets the per-table status.
func (s *State) MarkTableStatus(jobID, table string, status TableStatus, errMsg string) error {
	res, err := s.db.Exec(`UPDATE table_state SET status = ?, error = ?, updated_at = ? WHERE job_id = ? AND table_name = ?`,
		string(status), errMsg, time.Now().UTC(), jobID, table)
	if err != nil {
		return fmt.Errorf("updating table %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("table %s in job %s: %w", table, jobID, ErrNotFound)
	}
	return nil
}

// RecordChunkCommitted advances the committed offset after a chunk's target
// transaction has committed. The offset is monotonic: a stale write (smaller
// or equal offset) is ignored rather than rewinding progress.
func (s *State) RecordChunkCommitted(jobID, table string, newOffset int64) error {
	_, err := s.db.Exec(`UPDATE table_state SET committed_offset = ?, updated_at = ?
		WHERE job_id = ? AND table_name = ? AND committed_offset < ?`,
		newOffset, time.Now().UTC(), jobID, table, newOffset)
	if err != nil {
		return fmt.Errorf("recording chunk for %s: %w", table, err)
	}
	return nil
}

// GetResumeOffset returns the row offset transfer should resume from.
func (s *State) GetResumeOffset(jobID, table string) (int64, error) {
	var off int64
	err := s.db.QueryRow(`SELECT committed_offset FROM table_state WHERE job_id = ? AND table_name = ?`,
		jobID, table).Scan(&off)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return off, err
}

// GetTableState returns one table record or ErrNotFound.
func (s *State) GetTableState(jobID, table string) (*TableState, error) {
	row := s.db.QueryRow(`SELECT job_id, table_name, status, total_rows, committed_offset, chunk_size, error, updated_at
		FROM table_state WHERE job_id = ? AND table_name = ?`, jobID, table)
	var ts TableState
	var status string
	err := row.Scan(&ts.JobID, &ts.Table, &status, &ts.TotalRows, &ts.CommittedOffset, &ts.ChunkSize, &ts.Error, &ts.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ts.Status = TableStatus(status)
	return &ts, nil
}

// GetTableStates returns all table records for a job, ordered by name.
func (s *State) GetTableStates(jobID string) ([]TableState, error) {
	rows, err := s.db.Query(`SELECT job_id, table_name, status, total_rows, committed_offset, chunk_size, error, updated_at
		FROM table_state WHERE job_id = ? ORDER BY table_name`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []TableState
	for rows.Next() {
		var ts TableState
		var status string
		if err := rows.Scan(&ts.JobID, &ts.Table, &status, &ts.TotalRows, &ts.CommittedOffset, &ts.ChunkSize, &ts.Error, &ts.UpdatedAt); err != nil {
			return nil, err
		}
		ts.Status = TableStatus(status)
		states = append(states, ts)
	}
	return states, rows.Err()
}

// JobStats summarizes per-table progress for one job.
type JobStats struct {
	Tables          int
	Completed       int
	Failed          int
	InProgress      int
	RowsTransferred int64
	RowsTotal       int64
}

// GetJobStats aggregates table state for status display.
func (s *State) GetJobStats(jobID string) (*JobStats, error) {
	states, err := s.GetTableStates(jobID)
	if err != nil {
		return nil, err
	}
	stats := &JobStats{Tables: len(states)}
	for _, ts := range states {
		switch ts.Status {
		case TableCompleted:
			stats.Completed++
		case TableFailed:
			stats.Failed++
		case TableInProgress:
			stats.InProgress++
		}
		stats.RowsTransferred += ts.CommittedOffset
		stats.RowsTotal += ts.TotalRows
	}
	return stats, nil
}
