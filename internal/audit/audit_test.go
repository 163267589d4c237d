package audit

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/oradrift/oradrift/internal/checkpoint"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	st, err := checkpoint.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("checkpoint.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	l, err := New(st.DB())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestAppendAssignsGaplessSequence(t *testing.T) {
	l := openTestLog(t)

	for i := 0; i < 5; i++ {
		if err := l.Append(Entry{JobID: "j1", Action: ActionChunkTransfer, Table: "VISITS", Outcome: OutcomeOK, Rows: 100}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, err := l.Query("j1", Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			t.Errorf("entry %d has seq %d, want %d", i, e.Seq, i+1)
		}
	}
}

func TestAppendConcurrent(t *testing.T) {
	l := openTestLog(t)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Append(Entry{JobID: "j1", Action: ActionChunkTransfer, Outcome: OutcomeOK}); err != nil {
				t.Errorf("Append: %v", err)
			}
		}()
	}
	wg.Wait()

	entries, err := l.Query("j1", Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != n {
		t.Fatalf("got %d entries, want %d", len(entries), n)
	}
	seen := make(map[int64]bool)
	for _, e := range entries {
		if seen[e.Seq] {
			t.Errorf("duplicate seq %d", e.Seq)
		}
		seen[e.Seq] = true
		if e.Seq < 1 || e.Seq > n {
			t.Errorf("seq %d outside 1..%d", e.Seq, n)
		}
	}
}

func TestSequencesIndependentPerJob(t *testing.T) {
	l := openTestLog(t)

	if err := l.Append(Entry{JobID: "a", Action: ActionJobStart}); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(Entry{JobID: "b", Action: ActionJobStart}); err != nil {
		t.Fatal(err)
	}

	for _, job := range []string{"a", "b"} {
		entries, err := l.Query(job, Filter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 || entries[0].Seq != 1 {
			t.Errorf("job %s entries = %+v", job, entries)
		}
	}
}

func TestQueryFilters(t *testing.T) {
	l := openTestLog(t)

	seed := []Entry{
		{JobID: "j1", Action: ActionSchemaApply, Table: "VISITS", Outcome: OutcomeOK},
		{JobID: "j1", Action: ActionChunkTransfer, Table: "VISITS", Outcome: OutcomeOK, Rows: 100},
		{JobID: "j1", Action: ActionChunkTransfer, Table: "PATIENTS", Outcome: OutcomeOK, Rows: 50},
		{JobID: "j1", Action: ActionRetry, Table: "PATIENTS", Detail: "attempt 2", Outcome: OutcomeFailed},
	}
	for _, e := range seed {
		if err := l.Append(e); err != nil {
			t.Fatal(err)
		}
	}

	byTable, err := l.Query("j1", Filter{Table: "PATIENTS"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byTable) != 2 {
		t.Errorf("table filter: got %d, want 2", len(byTable))
	}

	byAction, err := l.Query("j1", Filter{Action: ActionChunkTransfer})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAction) != 2 {
		t.Errorf("action filter: got %d, want 2", len(byAction))
	}

	limited, err := l.Query("j1", Filter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].Seq != 1 {
		t.Errorf("limit filter: %+v", limited)
	}

	n, err := l.Count("j1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("count = %d, want 4", n)
	}
}
