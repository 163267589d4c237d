// Package transfer moves table data from source to target in fixed-size
// chunks. Each chunk is read in stable primary-key order, converted value
// by value, and written inside one target transaction. The committed
// offset is persisted only after that transaction commits, so a crash or
// retry can repeat the in-flight chunk but never skip or double-apply one.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oradrift/oradrift/internal/audit"
	"github.com/oradrift/oradrift/internal/checkpoint"
	"github.com/oradrift/oradrift/internal/driver"
	"github.com/oradrift/oradrift/internal/logging"
	"github.com/oradrift/oradrift/internal/typemap"
)

// Options tunes chunking and retry behavior.
type Options struct {
	ChunkSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	ChunkTimeout time.Duration
}

// ProgressSink receives transferred row counts for live display.
type ProgressSink interface {
	Add(n int64)
}

// Mover streams rows for one job.
type Mover struct {
	src      driver.Source
	tgt      driver.Target
	state    *checkpoint.State
	auditLog *audit.Log
	opts     Options
	sink     ProgressSink
}

// New builds a Mover. sink may be nil.
func New(src driver.Source, tgt driver.Target, state *checkpoint.State, auditLog *audit.Log, opts Options, sink ProgressSink) *Mover {
	if opts.ChunkSize < 1 {
		opts.ChunkSize = 1
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	return &Mover{src: src, tgt: tgt, state: state, auditLog: auditLog, opts: opts, sink: sink}
}

// record appends one audit entry. An audit write failure never aborts the
// transfer; it is surfaced in the log instead.
func (m *Mover) record(e audit.Entry) {
	if err := m.auditLog.Append(e); err != nil {
		logging.Error("Audit append failed (job %s, table %s, action %s): %v", e.JobID, e.Table, e.Action, err)
	}
}

// columnPlan is the per-column conversion plan, computed once per table.
type columnPlan struct {
	name       string
	sourceType string
	targetType string
	isLOB      bool
}

// TransferTable moves all remaining rows of one table, resuming from the
// last committed offset. Cancellation is honored between chunks only; the
// chunk in flight runs to completion or rollback.
func (m *Mover) TransferTable(ctx context.Context, jobID string, t *driver.Table) error {
	plan, err := m.buildPlan(t)
	if err != nil {
		return err
	}

	offset, err := m.state.GetResumeOffset(jobID, t.Name)
	if errors.Is(err, checkpoint.ErrNotFound) {
		offset = 0
	} else if err != nil {
		return err
	}

	if err := m.state.MarkTableStatus(jobID, t.Name, checkpoint.TableInProgress, ""); err != nil {
		return err
	}
	m.record(audit.Entry{
		JobID: jobID, Action: audit.ActionTableStart, Table: t.Name,
		Detail: fmt.Sprintf("resuming at offset %d", offset), Outcome: audit.OutcomeOK,
	})
	logging.Info("Transferring %s from offset %d (chunk size %d)", t.FullName(), offset, m.opts.ChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			m.state.MarkTableStatus(jobID, t.Name, checkpoint.TableFailed, "cancelled")
			return err
		}

		n, err := m.transferChunk(ctx, jobID, t, plan, offset)
		if err != nil {
			m.state.MarkTableStatus(jobID, t.Name, checkpoint.TableFailed, err.Error())
			m.record(audit.Entry{
				JobID: jobID, Action: audit.ActionError, Table: t.Name,
				Detail: err.Error(), Outcome: audit.OutcomeFailed,
			})
			return err
		}
		offset += n
		if n < int64(m.opts.ChunkSize) {
			break
		}
	}

	if err := m.state.MarkTableStatus(jobID, t.Name, checkpoint.TableCompleted, ""); err != nil {
		return err
	}
	m.record(audit.Entry{
		JobID: jobID, Action: audit.ActionTableComplete, Table: t.Name,
		Detail: fmt.Sprintf("%d rows", offset), Outcome: audit.OutcomeOK, Rows: offset,
	})
	logging.Info("Completed %s: %d rows", t.FullName(), offset)
	return nil
}

func (m *Mover) buildPlan(t *driver.Table) ([]columnPlan, error) {
	plan := make([]columnPlan, len(t.Columns))
	for i, c := range t.Columns {
		mapping, err := typemap.MapType(typemap.TypeInfo{
			SourceDBType: m.src.DBType(),
			DataType:     c.DataType,
			Length:       c.Length,
			Precision:    c.Precision,
			Scale:        c.Scale,
		})
		if err != nil {
			return nil, fmt.Errorf("planning %s.%s: %w", t.Name, c.Name, err)
		}
		plan[i] = columnPlan{
			name:       c.Name,
			sourceType: c.DataType,
			targetType: mapping.TargetType,
			isLOB:      c.IsLOB(),
		}
	}
	return plan, nil
}

// transferChunk reads, converts and writes one chunk, retrying transient
// failures with exponential backoff. Returns the number of rows moved.
func (m *Mover) transferChunk(ctx context.Context, jobID string, t *driver.Table, plan []columnPlan, offset int64) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxRetries+1; attempt++ {
		n, err := m.attemptChunk(ctx, jobID, t, plan, offset)
		if err == nil {
			return n, nil
		}
		lastErr = err

		if !isRetryable(err) || attempt > m.opts.MaxRetries {
			return 0, &ChunkTransferError{Table: t.Name, Offset: offset, Attempts: attempt, Err: err}
		}

		backoff := m.opts.RetryBackoff * time.Duration(1<<(attempt-1))
		logging.Warn("Chunk at offset %d of %s failed (attempt %d/%d), retrying in %s: %v",
			offset, t.Name, attempt, m.opts.MaxRetries+1, backoff, err)
		m.record(audit.Entry{
			JobID: jobID, Action: audit.ActionRetry, Table: t.Name,
			Detail: fmt.Sprintf("offset %d attempt %d: %v", offset, attempt, err), Outcome: audit.OutcomeFailed,
		})

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return 0, &ChunkTransferError{Table: t.Name, Offset: offset, Attempts: m.opts.MaxRetries + 1, Err: lastErr}
}

// attemptChunk is one read-convert-write attempt under the chunk timeout.
// Nothing is persisted unless the target transaction commits.
func (m *Mover) attemptChunk(ctx context.Context, jobID string, t *driver.Table, plan []columnPlan, offset int64) (int64, error) {
	if m.opts.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.ChunkTimeout)
		defer cancel()
	}

	readCols, lobLazy := m.splitLOBColumns(t, plan)
	rows, err := m.src.ReadRows(ctx, driver.ReadRequest{
		Schema:  t.Schema,
		Table:   t.Name,
		Columns: readCols,
		OrderBy: t.OrderKey(),
		Offset:  offset,
		Limit:   m.opts.ChunkSize,
	})
	if err != nil {
		return 0, &ConnectivityError{Op: "reading source chunk", Err: err}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	converted, err := m.convertRows(t, plan, rows, lobLazy)
	if err != nil {
		return 0, err
	}

	tx, err := m.tgt.Begin(ctx)
	if err != nil {
		return 0, &ConnectivityError{Op: "beginning target transaction", Err: err}
	}

	n, err := tx.CopyRows(ctx, t.Schema, t.Name, t.ColumnNames(), converted)
	if err != nil {
		tx.Rollback(ctx)
		return 0, fmt.Errorf("writing chunk at offset %d: %w", offset, err)
	}
	if len(lobLazy) > 0 {
		if err := m.streamLOBs(ctx, tx, t, plan, rows, converted, lobLazy); err != nil {
			tx.Rollback(ctx)
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, &ConnectivityError{Op: "committing chunk", Err: err}
	}

	// The offset moves only after the commit above: at-least-once on the
	// chunk, never a skip.
	newOffset := offset + int64(len(rows))
	if err := m.state.RecordChunkCommitted(jobID, t.Name, newOffset); err != nil {
		return 0, err
	}
	m.record(audit.Entry{
		JobID: jobID, Action: audit.ActionChunkTransfer, Table: t.Name,
		Detail: fmt.Sprintf("offset %d..%d", offset, newOffset), Outcome: audit.OutcomeOK, Rows: n,
	})
	if m.sink != nil {
		m.sink.Add(int64(len(rows)))
	}
	return int64(len(rows)), nil
}

// splitLOBColumns decides which columns are read inline and which are
// streamed per row. LOBs stream lazily only when a single-column primary
// key can address the row; otherwise they are read inline with the chunk.
func (m *Mover) splitLOBColumns(t *driver.Table, plan []columnPlan) (readCols []string, lobLazy map[int]bool) {
	lobLazy = make(map[int]bool)
	if len(t.PrimaryKey) != 1 {
		if lobs := t.LOBColumns(); len(lobs) > 0 {
			logging.Debug("Reading %d LOB columns of %s inline: no single-column key to stream by", len(lobs), t.FullName())
		}
		return t.ColumnNames(), lobLazy
	}
	for i, p := range plan {
		if p.isLOB && p.name != t.PrimaryKey[0] {
			lobLazy[i] = true
		}
	}
	if len(lobLazy) == 0 {
		return t.ColumnNames(), lobLazy
	}
	for i, p := range plan {
		if !lobLazy[i] {
			readCols = append(readCols, p.name)
		}
	}
	return readCols, lobLazy
}

// convertRows maps raw source values onto target representations. Lazily
// streamed LOB columns stay nil here; streamLOBs fills them in after the
// chunk's rows exist on the target. Conversion failures are permanent:
// retrying cannot fix a value.
func (m *Mover) convertRows(t *driver.Table, plan []columnPlan, rows [][]any, lobLazy map[int]bool) ([][]any, error) {
	out := make([][]any, len(rows))
	for r, raw := range rows {
		full := make([]any, len(plan))
		ri := 0
		for i := range plan {
			if lobLazy[i] {
				continue
			}
			full[i] = raw[ri]
			ri++
		}

		for i, p := range plan {
			if lobLazy[i] {
				continue
			}
			v, err := typemap.ConvertValue(full[i], p.sourceType, p.targetType)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", r, p.name, err)
			}
			full[i] = v
		}
		out[r] = full
	}
	return out, nil
}

// streamLOBs pipes each lazily-read LOB from the source reader straight
// into the open chunk transaction, one row and column at a time, so no
// value is ever held whole in memory.
func (m *Mover) streamLOBs(ctx context.Context, tx driver.ChunkTx, t *driver.Table, plan []columnPlan, raw, converted [][]any, lobLazy map[int]bool) error {
	keyCol := t.PrimaryKey[0]
	rawKey, tgtKey := -1, -1
	ri := 0
	for i, p := range plan {
		if lobLazy[i] {
			continue
		}
		if p.name == keyCol {
			rawKey, tgtKey = ri, i
		}
		ri++
	}
	if rawKey < 0 {
		return fmt.Errorf("streaming LOBs of %s: key column %s not read", t.Name, keyCol)
	}

	for r := range raw {
		for i, p := range plan {
			if !lobLazy[i] {
				continue
			}
			rc, err := m.src.OpenLOB(ctx, driver.LOBRef{
				Schema: t.Schema, Table: t.Name, Column: p.name,
				KeyCol: keyCol, KeyValue: raw[r][rawKey],
			})
			if err != nil {
				return &ConnectivityError{Op: "streaming LOB", Err: err}
			}
			err = tx.StreamLOB(ctx, driver.LOBRef{
				Schema: t.Schema, Table: t.Name, Column: p.name,
				KeyCol: keyCol, KeyValue: converted[r][tgtKey],
			}, rc, p.targetType == "bytea")
			rc.Close()
			if err != nil {
				return fmt.Errorf("writing LOB %s.%s: %w", t.Name, p.name, err)
			}
		}
	}
	return nil
}
