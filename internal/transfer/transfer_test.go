package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/oradrift/oradrift/internal/audit"
	"github.com/oradrift/oradrift/internal/checkpoint"
	"github.com/oradrift/oradrift/internal/driver"
)

// fakeSource serves rows from memory in stable id order.
type fakeSource struct {
	rows     [][]any
	lobs     map[int64]string
	readCols [][]string
}

func (f *fakeSource) DBType() string { return "oracle" }

func (f *fakeSource) IntrospectSchema(ctx context.Context, schema string) (*driver.Catalog, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSource) ReadRows(ctx context.Context, req driver.ReadRequest) ([][]any, error) {
	f.readCols = append(f.readCols, req.Columns)

	start := req.Offset
	if start > int64(len(f.rows)) {
		start = int64(len(f.rows))
	}
	end := start + int64(req.Limit)
	if end > int64(len(f.rows)) {
		end = int64(len(f.rows))
	}

	var out [][]any
	for _, row := range f.rows[start:end] {
		proj := make([]any, len(req.Columns))
		for i, col := range req.Columns {
			switch col {
			case "ID":
				proj[i] = row[0]
			case "NAME":
				proj[i] = row[1]
			case "NOTES":
				proj[i] = row[2]
			}
		}
		out = append(out, proj)
	}
	return out, nil
}

func (f *fakeSource) OpenLOB(ctx context.Context, ref driver.LOBRef) (io.ReadCloser, error) {
	key, ok := ref.KeyValue.(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected key type %T", ref.KeyValue)
	}
	return io.NopCloser(bytes.NewReader([]byte(f.lobs[key]))), nil
}

func (f *fakeSource) RowCount(ctx context.Context, schema, table string) (int64, error) {
	return int64(len(f.rows)), nil
}

func (f *fakeSource) Ping(ctx context.Context) error { return nil }
func (f *fakeSource) Close()                         {}

// fakeTarget records committed chunks.
type fakeTarget struct {
	committed  [][][]any
	copied     [][][]any
	streamed   int
	commits    int
	failWrites int
}

func (f *fakeTarget) DBType() string { return "postgres" }

func (f *fakeTarget) ExecuteDDL(ctx context.Context, ddl string) error { return nil }

func (f *fakeTarget) Begin(ctx context.Context) (driver.ChunkTx, error) {
	return &fakeTx{t: f}, nil
}

func (f *fakeTarget) ReadRows(ctx context.Context, req driver.ReadRequest) ([][]any, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTarget) RowCount(ctx context.Context, schema, table string) (int64, error) {
	n := int64(0)
	for _, c := range f.committed {
		n += int64(len(c))
	}
	return n, nil
}

func (f *fakeTarget) Ping(ctx context.Context) error { return nil }
func (f *fakeTarget) Close()                         {}

type fakeTx struct {
	t       *fakeTarget
	columns []string
	rows    [][]any
}

func (tx *fakeTx) CopyRows(ctx context.Context, schema, table string, columns []string, rows [][]any) (int64, error) {
	if tx.t.failWrites > 0 {
		tx.t.failWrites--
		return 0, errors.New("write tcp: connection reset by peer")
	}
	tx.columns = columns
	tx.rows = rows

	// Snapshot the values as they arrive, before any StreamLOB mutation.
	snap := make([][]any, len(rows))
	for i, row := range rows {
		snap[i] = append([]any(nil), row...)
	}
	tx.t.copied = append(tx.t.copied, snap)
	return int64(len(rows)), nil
}

func (tx *fakeTx) StreamLOB(ctx context.Context, ref driver.LOBRef, r io.Reader, binary bool) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	ci, ki := -1, -1
	for i, c := range tx.columns {
		switch c {
		case ref.Column:
			ci = i
		case ref.KeyCol:
			ki = i
		}
	}
	if ci < 0 || ki < 0 {
		return fmt.Errorf("unknown column %s or key %s", ref.Column, ref.KeyCol)
	}
	for _, row := range tx.rows {
		if row[ki] == ref.KeyValue {
			if binary {
				row[ci] = data
			} else {
				row[ci] = string(data)
			}
			tx.t.streamed++
			return nil
		}
	}
	return fmt.Errorf("no row with %s = %v", ref.KeyCol, ref.KeyValue)
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	tx.t.committed = append(tx.t.committed, tx.rows)
	tx.t.commits++
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error { return nil }

type countingSink struct {
	total  int64
	onAdd  func(total int64)
}

func (c *countingSink) Add(n int64) {
	c.total += n
	if c.onAdd != nil {
		c.onAdd(c.total)
	}
}

func testTable() *driver.Table {
	return &driver.Table{
		Schema: "HOSPITAL", Name: "VISITS",
		Columns: []driver.Column{
			{Name: "ID", DataType: "NUMBER", Precision: 18, Scale: 0},
			{Name: "NAME", DataType: "VARCHAR2", Length: 100, Nullable: true},
		},
		PrimaryKey: []string{"ID"},
	}
}

func makeRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i + 1), fmt.Sprintf("name-%d", i+1), ""}
	}
	return rows
}

func newHarness(t *testing.T, src *fakeSource, tgt *fakeTarget, opts Options, sink ProgressSink) (*Mover, *checkpoint.State, *audit.Log) {
	t.Helper()
	st, err := checkpoint.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	al, err := audit.New(st.DB())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.CreateJob("job-1", "oracle", "HOSPITAL", "public"); err != nil {
		t.Fatal(err)
	}
	if err := st.InitTable("job-1", "VISITS", 0, opts.ChunkSize); err != nil {
		t.Fatal(err)
	}
	return New(src, tgt, st, al, opts, sink), st, al
}

func TestTransferChunkedCommits(t *testing.T) {
	src := &fakeSource{rows: makeRows(250)}
	tgt := &fakeTarget{}
	sink := &countingSink{}
	m, st, al := newHarness(t, src, tgt, Options{ChunkSize: 10, MaxRetries: 2, RetryBackoff: time.Millisecond}, sink)

	if err := m.TransferTable(context.Background(), "job-1", testTable()); err != nil {
		t.Fatalf("TransferTable: %v", err)
	}

	// 250 rows at chunk size 10: exactly 25 commits, one per chunk.
	if tgt.commits != 25 {
		t.Errorf("commits = %d, want 25", tgt.commits)
	}
	if sink.total != 250 {
		t.Errorf("progress total = %d, want 250", sink.total)
	}

	off, err := st.GetResumeOffset("job-1", "VISITS")
	if err != nil {
		t.Fatal(err)
	}
	if off != 250 {
		t.Errorf("final offset = %d, want 250", off)
	}

	ts, err := st.GetTableState("job-1", "VISITS")
	if err != nil {
		t.Fatal(err)
	}
	if ts.Status != checkpoint.TableCompleted {
		t.Errorf("table status = %s, want completed", ts.Status)
	}

	// Audit: one chunk-transfer entry per commit plus start and complete.
	chunks, err := al.Query("job-1", audit.Filter{Action: audit.ActionChunkTransfer})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 25 {
		t.Errorf("chunk-transfer audit entries = %d, want 25", len(chunks))
	}
	n, _ := al.Count("job-1")
	if n != 27 {
		t.Errorf("total audit entries = %d, want 27", n)
	}
}

func TestTransferResumesFromOffset(t *testing.T) {
	src := &fakeSource{rows: makeRows(100)}
	tgt := &fakeTarget{}
	m, st, _ := newHarness(t, src, tgt, Options{ChunkSize: 10, MaxRetries: 0, RetryBackoff: time.Millisecond}, nil)

	if err := st.RecordChunkCommitted("job-1", "VISITS", 70); err != nil {
		t.Fatal(err)
	}
	if err := m.TransferTable(context.Background(), "job-1", testTable()); err != nil {
		t.Fatalf("TransferTable: %v", err)
	}

	// Only the remaining 30 rows move, and the first row is row 71.
	var moved int
	for _, c := range tgt.committed {
		moved += len(c)
	}
	if moved != 30 {
		t.Errorf("rows moved = %d, want 30", moved)
	}
	if first := tgt.committed[0][0][0].(int64); first != 71 {
		t.Errorf("first resumed row id = %d, want 71", first)
	}
}

func TestTransferRetriesTransientWriteFailure(t *testing.T) {
	src := &fakeSource{rows: makeRows(10)}
	tgt := &fakeTarget{failWrites: 1}
	m, _, al := newHarness(t, src, tgt, Options{ChunkSize: 10, MaxRetries: 2, RetryBackoff: time.Millisecond}, nil)

	if err := m.TransferTable(context.Background(), "job-1", testTable()); err != nil {
		t.Fatalf("TransferTable: %v", err)
	}
	if tgt.commits != 1 {
		t.Errorf("commits = %d, want 1", tgt.commits)
	}

	retries, err := al.Query("job-1", audit.Filter{Action: audit.ActionRetry})
	if err != nil {
		t.Fatal(err)
	}
	if len(retries) != 1 {
		t.Errorf("retry audit entries = %d, want 1", len(retries))
	}
}

func TestTransferFailsAfterRetryBudget(t *testing.T) {
	src := &fakeSource{rows: makeRows(10)}
	tgt := &fakeTarget{failWrites: 10}
	m, st, _ := newHarness(t, src, tgt, Options{ChunkSize: 10, MaxRetries: 2, RetryBackoff: time.Millisecond}, nil)

	err := m.TransferTable(context.Background(), "job-1", testTable())
	var cte *ChunkTransferError
	if !errors.As(err, &cte) {
		t.Fatalf("expected *ChunkTransferError, got %v", err)
	}
	if cte.Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (1 + 2 retries)", cte.Attempts)
	}
	if cte.Offset != 0 {
		t.Errorf("failed offset = %d, want 0", cte.Offset)
	}

	ts, _ := st.GetTableState("job-1", "VISITS")
	if ts.Status != checkpoint.TableFailed {
		t.Errorf("table status = %s, want failed", ts.Status)
	}
	if off, _ := st.GetResumeOffset("job-1", "VISITS"); off != 0 {
		t.Errorf("offset advanced despite failure: %d", off)
	}
}

func TestTransferConversionErrorIsPermanent(t *testing.T) {
	rows := makeRows(5)
	rows[2][0] = "not-a-number"
	src := &fakeSource{rows: rows}
	tgt := &fakeTarget{}
	m, _, al := newHarness(t, src, tgt, Options{ChunkSize: 10, MaxRetries: 3, RetryBackoff: time.Millisecond}, nil)

	err := m.TransferTable(context.Background(), "job-1", testTable())
	var cte *ChunkTransferError
	if !errors.As(err, &cte) {
		t.Fatalf("expected *ChunkTransferError, got %v", err)
	}
	if cte.Attempts != 1 {
		t.Errorf("conversion errors must not be retried; attempts = %d", cte.Attempts)
	}

	retries, _ := al.Query("job-1", audit.Filter{Action: audit.ActionRetry})
	if len(retries) != 0 {
		t.Errorf("unexpected retry entries: %d", len(retries))
	}
}

func TestTransferHonorsCancelBetweenChunks(t *testing.T) {
	src := &fakeSource{rows: makeRows(100)}
	tgt := &fakeTarget{}

	ctx, cancel := context.WithCancel(context.Background())
	sink := &countingSink{onAdd: func(total int64) {
		if total >= 20 {
			cancel()
		}
	}}
	m, st, _ := newHarness(t, src, tgt, Options{ChunkSize: 10, MaxRetries: 0, RetryBackoff: time.Millisecond}, sink)

	err := m.TransferTable(ctx, "job-1", testTable())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// Committed chunks stay committed; the offset reflects them.
	off, _ := st.GetResumeOffset("job-1", "VISITS")
	if off < 20 || off == 100 {
		t.Errorf("offset after cancel = %d", off)
	}
}

func TestTransferStreamsLOBColumns(t *testing.T) {
	rows := makeRows(3)
	src := &fakeSource{
		rows: rows,
		lobs: map[int64]string{1: "note one", 2: "note two", 3: "note three"},
	}
	tgt := &fakeTarget{}
	m, _, _ := newHarness(t, src, tgt, Options{ChunkSize: 10, MaxRetries: 0, RetryBackoff: time.Millisecond}, nil)

	table := testTable()
	table.Columns = append(table.Columns, driver.Column{Name: "NOTES", DataType: "CLOB", Nullable: true})

	if err := m.TransferTable(context.Background(), "job-1", table); err != nil {
		t.Fatalf("TransferTable: %v", err)
	}

	// The chunk read must exclude the LOB column.
	for _, cols := range src.readCols {
		for _, c := range cols {
			if c == "NOTES" {
				t.Fatal("LOB column was read inline instead of streamed")
			}
		}
	}

	// The bulk copy carries no LOB data; the values arrive via streaming
	// writes inside the same transaction.
	if tgt.copied[0][1][2] != nil {
		t.Errorf("LOB column at copy time = %v, want nil", tgt.copied[0][1][2])
	}
	if tgt.streamed != 3 {
		t.Errorf("streamed writes = %d, want 3", tgt.streamed)
	}

	got := tgt.committed[0]
	if len(got) != 3 {
		t.Fatalf("committed %d rows, want 3", len(got))
	}
	if got[1][2] != "note two" {
		t.Errorf("LOB value = %v, want note two", got[1][2])
	}
}

func TestTransferSurvivesAuditFailure(t *testing.T) {
	src := &fakeSource{rows: makeRows(10)}
	tgt := &fakeTarget{}
	m, st, _ := newHarness(t, src, tgt, Options{ChunkSize: 10, MaxRetries: 0, RetryBackoff: time.Millisecond}, nil)

	// Swap in an audit log whose store is gone: every Append fails, but the
	// transfer itself must still run to completion.
	broken, err := checkpoint.Open(filepath.Join(t.TempDir(), "broken.db"))
	if err != nil {
		t.Fatal(err)
	}
	al, err := audit.New(broken.DB())
	if err != nil {
		t.Fatal(err)
	}
	broken.Close()
	m.auditLog = al

	if err := m.TransferTable(context.Background(), "job-1", testTable()); err != nil {
		t.Fatalf("TransferTable: %v", err)
	}
	if tgt.commits != 1 {
		t.Errorf("commits = %d, want 1", tgt.commits)
	}
	off, err := st.GetResumeOffset("job-1", "VISITS")
	if err != nil {
		t.Fatal(err)
	}
	if off != 10 {
		t.Errorf("offset = %d, want 10", off)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{context.DeadlineExceeded, true},
		{context.Canceled, false},
		{&ConnectivityError{Op: "x", Err: errors.New("boom")}, true},
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("deadlock detected"), true},
		{errors.New("syntax error at or near"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
