// Package audit keeps an append-only record of every migration action.
// Entries carry a per-job sequence number assigned inside the insert
// transaction, so the sequence is gapless and totally ordered even with
// concurrent table workers. There is no update or delete path.
package audit

import (
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Action classifies an audit entry.
type Action string

const (
	ActionJobStart      Action = "job-start"
	ActionJobComplete   Action = "job-complete"
	ActionJobFailed     Action = "job-failed"
	ActionJobCancelled  Action = "job-cancelled"
	ActionSchemaApply   Action = "schema-apply"
	ActionManualReview  Action = "manual-review"
	ActionTableStart    Action = "table-start"
	ActionTableComplete Action = "table-complete"
	ActionChunkTransfer Action = "chunk-transfer"
	ActionRetry         Action = "retry"
	ActionError         Action = "error"
	ActionValidation    Action = "validation"
)

// Entry is one audit record. Seq is assigned by Append.
type Entry struct {
	JobID   string
	Seq     int64
	Time    time.Time
	Action  Action
	Table   string
	Detail  string
	Outcome string
	Rows    int64
}

const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Log is the audit store. It shares the checkpoint database file.
type Log struct {
	db *sql.DB
	mu sync.Mutex
}

const auditSchemaSQL = `
CREATE TABLE IF NOT EXISTS audit_log (
	job_id  TEXT NOT NULL,
	seq     INTEGER NOT NULL,
	ts      TIMESTAMP NOT NULL,
	action  TEXT NOT NULL,
	table_name TEXT NOT NULL DEFAULT '',
	detail  TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL DEFAULT '',
	rows    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (job_id, seq)
);
`

// New prepares the audit table on an already-open state database.
func New(db *sql.DB) (*Log, error) {
	if _, err := db.Exec(auditSchemaSQL); err != nil {
		return nil, fmt.Errorf("initializing audit schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Append writes one entry, assigning the next sequence number for the job.
// The number is read and the row inserted in one transaction; the mutex
// keeps in-process writers from racing the read.
func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_log WHERE job_id = ?`, e.JobID).Scan(&seq); err != nil {
		return fmt.Errorf("audit append: %w", err)
	}

	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	_, err = tx.Exec(`INSERT INTO audit_log (job_id, seq, ts, action, table_name, detail, outcome, rows)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.JobID, seq, e.Time, string(e.Action), e.Table, e.Detail, e.Outcome, e.Rows)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	return tx.Commit()
}

// Filter narrows Query results. Zero values match everything.
type Filter struct {
	Table  string
	Action Action
	Limit  int
}

// Query returns a job's entries in sequence order.
func (l *Log) Query(jobID string, f Filter) ([]Entry, error) {
	q := `SELECT job_id, seq, ts, action, table_name, detail, outcome, rows FROM audit_log WHERE job_id = ?`
	args := []any{jobID}
	if f.Table != "" {
		q += ` AND table_name = ?`
		args = append(args, f.Table)
	}
	if f.Action != "" {
		q += ` AND action = ?`
		args = append(args, string(f.Action))
	}
	q += ` ORDER BY seq`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var action string
		if err := rows.Scan(&e.JobID, &e.Seq, &e.Time, &action, &e.Table, &e.Detail, &e.Outcome, &e.Rows); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of entries recorded for a job.
func (l *Log) Count(jobID string) (int64, error) {
	var n int64
	err := l.db.QueryRow(`SELECT COUNT(*) FROM audit_log WHERE job_id = ?`, jobID).Scan(&n)
	return n, err
}
