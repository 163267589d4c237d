// Package driver defines the capability interfaces the engine needs from a
// database: schema introspection and paged reads on the source side, DDL
// execution and transactional bulk writes on the target side. Concrete
// drivers live in subpackages and register themselves on import.
package driver

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/oradrift/oradrift/internal/dbconfig"
)

// Source is a read-only connection to the database being migrated from.
type Source interface {
	// DBType returns the driver name (e.g. "oracle", "mssql").
	DBType() string

	// IntrospectSchema loads the full catalog for a schema: tables with
	// columns, keys, indexes and row-count estimates, plus sequences and
	// procedural objects.
	IntrospectSchema(ctx context.Context, schema string) (*Catalog, error)

	// ReadRows returns up to req.Limit rows starting at req.Offset, ordered
	// by req.OrderBy. The ordering must be stable so that chunk boundaries
	// are reproducible across retries.
	ReadRows(ctx context.Context, req ReadRequest) ([][]any, error)

	// OpenLOB opens a streaming reader over a single large-object value so
	// it never has to be buffered wholesale.
	OpenLOB(ctx context.Context, ref LOBRef) (io.ReadCloser, error)

	// RowCount returns the exact row count, used by validation.
	RowCount(ctx context.Context, schema, table string) (int64, error)

	Ping(ctx context.Context) error
	Close()
}

// Target is a writable connection to the database being migrated into.
type Target interface {
	DBType() string

	// ExecuteDDL runs a single DDL statement.
	ExecuteDDL(ctx context.Context, ddl string) error

	// Begin starts the transaction that will hold exactly one chunk.
	Begin(ctx context.Context) (ChunkTx, error)

	// ReadRows mirrors Source.ReadRows, used by checksum validation.
	ReadRows(ctx context.Context, req ReadRequest) ([][]any, error)

	// RowCount returns the exact row count, used by validation.
	RowCount(ctx context.Context, schema, table string) (int64, error)

	Ping(ctx context.Context) error
	Close()
}

// ChunkTx is a target-side transaction holding one chunk. Either every row
// of the chunk commits or none does.
type ChunkTx interface {
	// CopyRows bulk-inserts rows into schema.table and returns the number
	// of rows written.
	CopyRows(ctx context.Context, schema, table string, columns []string, rows [][]any) (int64, error)

	// StreamLOB writes one large value into a column of a row already
	// inserted by CopyRows in this transaction, consuming r in bounded
	// segments. binary selects the wire representation of the segments.
	StreamLOB(ctx context.Context, ref LOBRef, r io.Reader, binary bool) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ReadRequest describes one paged read.
type ReadRequest struct {
	Schema  string
	Table   string
	Columns []string
	OrderBy []string
	Offset  int64
	Limit   int
}

// LOBRef identifies a single large-object value by table, column, and the
// primary-key value of its row.
type LOBRef struct {
	Schema   string
	Table    string
	Column   string
	KeyCol   string
	KeyValue any
}

// Driver constructs sources and targets for one database type.
type Driver interface {
	// Name returns the primary driver name (e.g. "oracle", "postgres").
	Name() string

	// Aliases returns alternative names for this driver.
	Aliases() []string

	// NewSource opens a source connection, or errors if this database
	// cannot act as a migration source.
	NewSource(cfg *dbconfig.SourceConfig, maxConns int) (Source, error)

	// NewTarget opens a target connection, or errors if this database
	// cannot act as a migration target.
	NewTarget(cfg *dbconfig.TargetConfig, maxConns int) (Target, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Driver)
)

// Register adds a driver to the registry under its name and aliases.
// Drivers call this from init(); duplicate registration panics.
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()

	names := append([]string{d.Name()}, d.Aliases()...)
	for _, name := range names {
		key := strings.ToLower(name)
		if _, dup := registry[key]; dup {
			panic(fmt.Sprintf("driver: duplicate registration for %q", key))
		}
		registry[key] = d
	}
}

// Get returns the driver registered under name.
func Get(name string) (Driver, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	d, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("driver: unknown database type %q (registered: %s)", name, strings.Join(registeredNames(), ", "))
	}
	return d, nil
}

// OpenSource opens a source connection via the registry.
func OpenSource(cfg *dbconfig.SourceConfig, maxConns int) (Source, error) {
	d, err := Get(cfg.Type)
	if err != nil {
		return nil, err
	}
	return d.NewSource(cfg, maxConns)
}

// OpenTarget opens a target connection via the registry.
func OpenTarget(cfg *dbconfig.TargetConfig, maxConns int) (Target, error) {
	d, err := Get(cfg.Type)
	if err != nil {
		return nil, err
	}
	return d.NewTarget(cfg, maxConns)
}

// registeredNames returns the sorted primary names. Caller holds registryMu.
func registeredNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, d := range registry {
		if !seen[d.Name()] {
			seen[d.Name()] = true
			names = append(names, d.Name())
		}
	}
	sort.Strings(names)
	return names
}
