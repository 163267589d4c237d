// Package postgres implements the target driver for PostgreSQL using
// pgx. Chunk loads run as CopyFrom inside an explicit transaction, so a
// chunk either lands whole or not at all.
package postgres

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oradrift/oradrift/internal/dbconfig"
	"github.com/oradrift/oradrift/internal/driver"
	"github.com/oradrift/oradrift/internal/logging"
	"github.com/oradrift/oradrift/internal/util"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for PostgreSQL.
type Driver struct{}

func (d *Driver) Name() string { return "postgres" }

func (d *Driver) Aliases() []string { return []string{"postgresql", "pg"} }

func (d *Driver) NewSource(cfg *dbconfig.SourceConfig, maxConns int) (driver.Source, error) {
	return nil, fmt.Errorf("postgres is not supported as a migration source")
}

// NewTarget connects to PostgreSQL as the migration target.
func (d *Driver) NewTarget(cfg *dbconfig.TargetConfig, maxConns int) (driver.Target, error) {
	return NewTarget(cfg, maxConns)
}

// Target writes schema objects and rows into PostgreSQL.
type Target struct {
	pool   *pgxpool.Pool
	schema string
}

// NewTarget opens a pgx pool against the configured database.
func NewTarget(cfg *dbconfig.TargetConfig, maxConns int) (*Target, error) {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, port),
		Path:     "/" + cfg.Database,
		RawQuery: q.Encode(),
	}

	poolCfg, err := pgxpool.ParseConfig(u.String())
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	poolCfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}

	logging.Debug("Connected to PostgreSQL target: %s:%d/%s schema=%s", cfg.Host, port, cfg.Database, schema)
	return &Target{pool: pool, schema: strings.ToLower(schema)}, nil
}

func (t *Target) DBType() string { return "postgres" }

func (t *Target) Ping(ctx context.Context) error { return t.pool.Ping(ctx) }

func (t *Target) Close() { t.pool.Close() }

// ExecuteDDL runs one DDL statement.
func (t *Target) ExecuteDDL(ctx context.Context, ddl string) error {
	if _, err := t.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("executing ddl: %w", err)
	}
	return nil
}

// Begin starts a transaction for one chunk.
func (t *Target) Begin(ctx context.Context) (driver.ChunkTx, error) {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning chunk transaction: %w", err)
	}
	return &chunkTx{tx: tx}, nil
}

type chunkTx struct {
	tx pgx.Tx
}

// CopyRows bulk-loads rows with the COPY protocol. Identifiers are folded
// to lowercase to match the translated DDL.
func (c *chunkTx) CopyRows(ctx context.Context, schema, table string, columns []string, rows [][]any) (int64, error) {
	cols := util.FoldLower(columns)
	ident := pgx.Identifier{strings.ToLower(schema), strings.ToLower(table)}

	n, err := c.tx.CopyFrom(ctx, ident, cols, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copying into %s.%s: %w", schema, table, err)
	}
	return n, nil
}

// lobWriteSegment is how many bytes of a streamed value travel per UPDATE.
const lobWriteSegment = 256 * 1024

// StreamLOB appends a large value into its column segment by segment, so
// the full value never sits in memory. The row must already exist in this
// transaction.
func (c *chunkTx) StreamLOB(ctx context.Context, ref driver.LOBRef, r io.Reader, binary bool) error {
	col := quoteLower(ref.Column)
	target := quoteQualified(ref.Schema, ref.Table)
	key := quoteLower(ref.KeyCol)

	set := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE %s = $2`, target, col, key)
	appendSeg := fmt.Sprintf(`UPDATE %s SET %s = %s || $1 WHERE %s = $2`, target, col, col, key)

	buf := make([]byte, lobWriteSegment)
	query := set
	for {
		n, err := r.Read(buf)
		if n > 0 {
			var seg any = buf[:n]
			if !binary {
				seg = string(buf[:n])
			}
			if _, execErr := c.tx.Exec(ctx, query, seg, ref.KeyValue); execErr != nil {
				return fmt.Errorf("streaming into %s.%s: %w", ref.Table, ref.Column, execErr)
			}
			query = appendSeg
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading LOB for %s.%s: %w", ref.Table, ref.Column, err)
		}
	}

	if query == set {
		// Empty value: still overwrite whatever CopyRows left in the column.
		var seg any = []byte{}
		if !binary {
			seg = ""
		}
		if _, err := c.tx.Exec(ctx, set, seg, ref.KeyValue); err != nil {
			return fmt.Errorf("streaming into %s.%s: %w", ref.Table, ref.Column, err)
		}
	}
	return nil
}

func (c *chunkTx) Commit(ctx context.Context) error { return c.tx.Commit(ctx) }

func (c *chunkTx) Rollback(ctx context.Context) error { return c.tx.Rollback(ctx) }

// RowCount returns the exact row count for a target table.
func (t *Target) RowCount(ctx context.Context, schema, table string) (int64, error) {
	if err := driver.ValidateIdentifier(schema); err != nil {
		return 0, err
	}
	if err := driver.ValidateIdentifier(table); err != nil {
		return 0, err
	}
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteQualified(schema, table))
	err := t.pool.QueryRow(ctx, query).Scan(&n)
	return n, err
}

// ReadRows fetches one chunk of rows in stable order for validation.
func (t *Target) ReadRows(ctx context.Context, req driver.ReadRequest) ([][]any, error) {
	if err := driver.ValidateIdentifier(req.Schema); err != nil {
		return nil, err
	}
	if err := driver.ValidateIdentifier(req.Table); err != nil {
		return nil, err
	}
	for _, c := range append(append([]string{}, req.Columns...), req.OrderBy...) {
		if err := driver.ValidateIdentifier(c); err != nil {
			return nil, err
		}
	}

	cols := make([]string, len(req.Columns))
	for i, c := range req.Columns {
		cols[i] = quoteLower(c)
	}
	order := make([]string, len(req.OrderBy))
	for i, c := range req.OrderBy {
		order[i] = quoteLower(c)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s OFFSET $1 LIMIT $2`,
		strings.Join(cols, ", "), quoteQualified(req.Schema, req.Table), strings.Join(order, ", "))

	rows, err := t.pool.Query(ctx, query, req.Offset, req.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func quoteLower(ident string) string {
	return pgx.Identifier{strings.ToLower(ident)}.Sanitize()
}

func quoteQualified(schema, table string) string {
	return pgx.Identifier{strings.ToLower(schema), strings.ToLower(table)}.Sanitize()
}
