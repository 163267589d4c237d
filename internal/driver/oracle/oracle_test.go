package oracle

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/oradrift/oradrift/internal/dbconfig"
)

func TestDriverName(t *testing.T) {
	d := &Driver{}
	if d.Name() != "oracle" {
		t.Errorf("Name = %q", d.Name())
	}
	found := false
	for _, a := range d.Aliases() {
		if a == "ora" {
			found = true
		}
	}
	if !found {
		t.Error("expected ora alias")
	}
}

func TestDriverRejectsTargetRole(t *testing.T) {
	d := &Driver{}
	if _, err := d.NewTarget(&dbconfig.TargetConfig{}, 1); err == nil {
		t.Error("oracle must not open as a target")
	}
}

// The paging arithmetic in lobReader is database-agnostic; SQLite's substr
// stands in for DBMS_LOB.SUBSTR here, with the same amount/offset argument
// order as the production query.
func openLOBFixture(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "lob.db"))
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`CREATE TABLE docs (id INTEGER PRIMARY KEY, body TEXT, payload BLOB)`); err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	return db
}

func TestLOBReaderPagesTextInSegments(t *testing.T) {
	db := openLOBFixture(t)
	body := strings.Repeat("chart note line\n", 400) // well past one segment
	if _, err := db.Exec(`INSERT INTO docs (id, body) VALUES (1, ?), (2, '')`, body); err != nil {
		t.Fatal(err)
	}

	r := &lobReader{
		ctx: context.Background(), db: db,
		query: `SELECT substr(body, ?2, ?1) FROM docs WHERE id = ?3`,
		key:   1, text: true, pos: 1,
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != body {
		t.Errorf("reassembled %d bytes, want %d; segments misaligned", len(got), len(body))
	}

	empty := &lobReader{
		ctx: context.Background(), db: db,
		query: `SELECT substr(body, ?2, ?1) FROM docs WHERE id = ?3`,
		key:   2, text: true, pos: 1,
	}
	if got, err := io.ReadAll(empty); err != nil || len(got) != 0 {
		t.Errorf("empty value: got %d bytes, err %v", len(got), err)
	}
}

func TestLOBReaderPagesBinaryInSegments(t *testing.T) {
	db := openLOBFixture(t)
	payload := make([]byte, 3*lobSegmentSize+17)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if _, err := db.Exec(`INSERT INTO docs (id, payload) VALUES (1, ?)`, payload); err != nil {
		t.Fatal(err)
	}

	r := &lobReader{
		ctx: context.Background(), db: db,
		query: `SELECT substr(payload, ?2, ?1) FROM docs WHERE id = ?3`,
		key:   1, pos: 1,
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("reassembled %d bytes, want %d", len(got), len(payload))
	}
}

func TestNewSourceDefaults(t *testing.T) {
	src, err := NewSource(&dbconfig.SourceConfig{
		Host: "db.example.com", User: "scott", Password: "tiger", Database: "ORCL",
	}, 4)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	defer src.Close()

	if src.DBType() != "oracle" {
		t.Errorf("DBType = %q", src.DBType())
	}
	// Schema falls back to the uppercased user.
	if src.schema != "SCOTT" {
		t.Errorf("schema = %q, want SCOTT", src.schema)
	}
}
