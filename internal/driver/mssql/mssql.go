// Package mssql implements the source driver for Microsoft SQL Server.
package mssql

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode/utf16"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/oradrift/oradrift/internal/dbconfig"
	"github.com/oradrift/oradrift/internal/driver"
	"github.com/oradrift/oradrift/internal/logging"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for Microsoft SQL Server.
type Driver struct{}

func (d *Driver) Name() string { return "mssql" }

func (d *Driver) Aliases() []string { return []string{"sqlserver", "sql-server"} }

// NewSource connects to SQL Server as a migration source.
func (d *Driver) NewSource(cfg *dbconfig.SourceConfig, maxConns int) (driver.Source, error) {
	return NewSource(cfg, maxConns)
}

func (d *Driver) NewTarget(cfg *dbconfig.TargetConfig, maxConns int) (driver.Target, error) {
	return nil, fmt.Errorf("mssql is not supported as a migration target")
}

// Source reads schema metadata and rows from SQL Server.
type Source struct {
	db     *sql.DB
	schema string
}

// NewSource opens a connection pool against the configured SQL Server.
func NewSource(cfg *dbconfig.SourceConfig, maxConns int) (*Source, error) {
	port := cfg.Port
	if port == 0 {
		port = 1433
	}
	q := url.Values{}
	q.Set("database", cfg.Database)
	q.Set("app name", "oradrift")
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, port),
		RawQuery: q.Encode(),
	}

	db, err := sql.Open("sqlserver", u.String())
	if err != nil {
		return nil, fmt.Errorf("opening mssql connection: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	schema := cfg.Schema
	if schema == "" {
		schema = "dbo"
	}

	logging.Debug("Connected to SQL Server source: %s:%d/%s schema=%s", cfg.Host, port, cfg.Database, schema)
	return &Source{db: db, schema: schema}, nil
}

func (s *Source) DBType() string { return "mssql" }

func (s *Source) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Source) Close() { s.db.Close() }

// IntrospectSchema reads tables, columns, keys, indexes, sequences and
// stored code for one schema from the system catalogs.
func (s *Source) IntrospectSchema(ctx context.Context, schema string) (*driver.Catalog, error) {
	if schema == "" {
		schema = s.schema
	}

	cat := &driver.Catalog{Schema: schema}

	tables, err := s.listTables(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}

	for _, name := range tables {
		t := driver.Table{Schema: schema, Name: name}
		if err := s.loadColumns(ctx, &t); err != nil {
			return nil, fmt.Errorf("columns of %s: %w", name, err)
		}
		if err := s.loadPrimaryKey(ctx, &t); err != nil {
			return nil, fmt.Errorf("primary key of %s: %w", name, err)
		}
		if err := s.loadForeignKeys(ctx, &t); err != nil {
			return nil, fmt.Errorf("foreign keys of %s: %w", name, err)
		}
		if err := s.loadIndexes(ctx, &t); err != nil {
			return nil, fmt.Errorf("indexes of %s: %w", name, err)
		}
		cat.Tables = append(cat.Tables, t)
	}

	if err := s.loadSequences(ctx, cat); err != nil {
		return nil, fmt.Errorf("sequences: %w", err)
	}
	if err := s.loadProcedures(ctx, cat); err != nil {
		return nil, fmt.Errorf("stored code: %w", err)
	}

	logging.Info("Introspected schema %s: %d tables, %d sequences, %d procedures",
		schema, len(cat.Tables), len(cat.Sequences), len(cat.Procedures))
	return cat, nil
}

func (s *Source) listTables(ctx context.Context, schema string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name
		FROM sys.tables t
		JOIN sys.schemas sc ON sc.schema_id = t.schema_id
		WHERE sc.name = @p1 AND t.is_ms_shipped = 0
		ORDER BY t.name`, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (s *Source) loadColumns(ctx context.Context, t *driver.Table) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE, CHARACTER_MAXIMUM_LENGTH,
		       NUMERIC_PRECISION, NUMERIC_SCALE, IS_NULLABLE,
		       COLUMN_DEFAULT, ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
		ORDER BY ORDINAL_POSITION`, t.Schema, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c driver.Column
		var length, precision, scale sql.NullInt64
		var nullable string
		var def sql.NullString
		if err := rows.Scan(&c.Name, &c.DataType, &length, &precision, &scale, &nullable, &def, &c.OrdinalPos); err != nil {
			return err
		}
		c.Length = int(length.Int64)
		c.Precision = int(precision.Int64)
		c.Scale = -1
		if scale.Valid {
			c.Scale = int(scale.Int64)
		}
		c.Nullable = nullable == "YES"
		c.Default = strings.TrimSpace(def.String)
		t.Columns = append(t.Columns, c)
	}
	return rows.Err()
}

func (s *Source) loadPrimaryKey(ctx context.Context, t *driver.Table) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.name
		FROM sys.indexes i
		JOIN sys.index_columns ic
		  ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN sys.columns c
		  ON c.object_id = ic.object_id AND c.column_id = ic.column_id
		WHERE i.object_id = OBJECT_ID(@p1) AND i.is_primary_key = 1
		ORDER BY ic.key_ordinal`, fmt.Sprintf("[%s].[%s]", t.Schema, t.Name))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return err
		}
		t.PrimaryKey = append(t.PrimaryKey, col)
	}
	return rows.Err()
}

func (s *Source) loadForeignKeys(ctx context.Context, t *driver.Table) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fk.name, pc.name, rs.name, rt.name, rc.name,
		       fk.delete_referential_action_desc, fk.is_disabled
		FROM sys.foreign_keys fk
		JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
		JOIN sys.columns pc
		  ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
		JOIN sys.tables rt ON rt.object_id = fk.referenced_object_id
		JOIN sys.schemas rs ON rs.schema_id = rt.schema_id
		JOIN sys.columns rc
		  ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
		WHERE fk.parent_object_id = OBJECT_ID(@p1)
		ORDER BY fk.name, fkc.constraint_column_id`, fmt.Sprintf("[%s].[%s]", t.Schema, t.Name))
	if err != nil {
		return err
	}
	defer rows.Close()

	byName := make(map[string]*driver.ForeignKey)
	var order []string
	for rows.Next() {
		var name, col, refSchema, refTable, refCol, deleteAction string
		var disabled bool
		if err := rows.Scan(&name, &col, &refSchema, &refTable, &refCol, &deleteAction, &disabled); err != nil {
			return err
		}
		fk, ok := byName[name]
		if !ok {
			fk = &driver.ForeignKey{
				Name:      name,
				RefSchema: refSchema,
				RefTable:  refTable,
				OnDelete:  strings.ReplaceAll(deleteAction, "_", " "),
				Enabled:   !disabled,
			}
			byName[name] = fk
			order = append(order, name)
		}
		fk.Columns = append(fk.Columns, col)
		fk.RefColumns = append(fk.RefColumns, refCol)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, name := range order {
		t.ForeignKeys = append(t.ForeignKeys, *byName[name])
	}
	return nil
}

func (s *Source) loadIndexes(ctx context.Context, t *driver.Table) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.name, i.type_desc, i.is_unique, c.name, ic.key_ordinal
		FROM sys.indexes i
		JOIN sys.index_columns ic
		  ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN sys.columns c
		  ON c.object_id = ic.object_id AND c.column_id = ic.column_id
		WHERE i.object_id = OBJECT_ID(@p1)
		  AND i.is_primary_key = 0 AND i.is_unique_constraint = 0
		  AND i.type > 0 AND ic.is_included_column = 0
		ORDER BY i.name, ic.key_ordinal`, fmt.Sprintf("[%s].[%s]", t.Schema, t.Name))
	if err != nil {
		return err
	}
	defer rows.Close()

	byName := make(map[string]*driver.Index)
	var order []string
	for rows.Next() {
		var name, typeDesc, col string
		var unique bool
		var pos int
		if err := rows.Scan(&name, &typeDesc, &unique, &col, &pos); err != nil {
			return err
		}
		idx, ok := byName[name]
		if !ok {
			idx = &driver.Index{Name: name, Type: typeDesc, Unique: unique}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, name := range order {
		t.Indexes = append(t.Indexes, *byName[name])
	}
	return nil
}

func (s *Source) loadSequences(ctx context.Context, cat *driver.Catalog) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sq.name, CAST(sq.current_value AS BIGINT), CAST(sq.increment AS BIGINT), sq.is_cycling
		FROM sys.sequences sq
		JOIN sys.schemas sc ON sc.schema_id = sq.schema_id
		WHERE sc.name = @p1
		ORDER BY sq.name`, cat.Schema)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var seq driver.Sequence
		if err := rows.Scan(&seq.Name, &seq.StartWith, &seq.IncrementBy, &seq.Cycle); err != nil {
			return err
		}
		cat.Sequences = append(cat.Sequences, seq)
	}
	return rows.Err()
}

func (s *Source) loadProcedures(ctx context.Context, cat *driver.Catalog) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.name, o.type_desc, m.definition
		FROM sys.sql_modules m
		JOIN sys.objects o ON o.object_id = m.object_id
		JOIN sys.schemas sc ON sc.schema_id = o.schema_id
		WHERE sc.name = @p1 AND o.type IN ('P', 'FN', 'TF', 'IF', 'TR')
		ORDER BY o.name`, cat.Schema)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p driver.Procedure
		if err := rows.Scan(&p.Name, &p.Type, &p.Source); err != nil {
			return err
		}
		cat.Procedures = append(cat.Procedures, p)
	}
	return rows.Err()
}

// RowCount returns the exact row count for a table.
func (s *Source) RowCount(ctx context.Context, schema, table string) (int64, error) {
	if err := driver.ValidateIdentifier(schema); err != nil {
		return 0, err
	}
	if err := driver.ValidateIdentifier(table); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT_BIG(*) FROM [%s].[%s]`, schema, table)).Scan(&n)
	return n, err
}

// ReadRows fetches one chunk of rows in stable order using OFFSET/FETCH.
func (s *Source) ReadRows(ctx context.Context, req driver.ReadRequest) ([][]any, error) {
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
		cols[i] = "[" + c + "]"
	}
	order := make([]string, len(req.OrderBy))
	for i, c := range req.OrderBy {
		order[i] = "[" + c + "]"
	}

	query := fmt.Sprintf(`SELECT %s FROM [%s].[%s] ORDER BY %s OFFSET @p1 ROWS FETCH NEXT @p2 ROWS ONLY`,
		strings.Join(cols, ", "), req.Schema, req.Table, strings.Join(order, ", "))

	rows, err := s.db.QueryContext(ctx, query, req.Offset, req.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(req.Columns))
		ptrs := make([]any, len(req.Columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

// lobSegmentSize bounds how much of a large value sits in memory at once.
const lobSegmentSize = 4000

// OpenLOB streams one large value identified by its row key, fetching it in
// SUBSTRING segments so memory stays bounded.
func (s *Source) OpenLOB(ctx context.Context, ref driver.LOBRef) (io.ReadCloser, error) {
	for _, ident := range []string{ref.Schema, ref.Table, ref.Column, ref.KeyCol} {
		if err := driver.ValidateIdentifier(ident); err != nil {
			return nil, err
		}
	}

	var dataType string
	err := s.db.QueryRowContext(ctx, `
		SELECT DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 AND COLUMN_NAME = @p3`,
		ref.Schema, ref.Table, ref.Column).Scan(&dataType)
	if err != nil {
		return nil, fmt.Errorf("describing LOB %s.%s: %w", ref.Table, ref.Column, err)
	}

	colExpr := fmt.Sprintf("[%s]", ref.Column)
	text := false
	switch strings.ToLower(dataType) {
	case "varchar", "nvarchar", "char", "nchar", "text", "ntext":
		text = true
	case "xml":
		// SUBSTRING cannot address xml directly.
		colExpr = fmt.Sprintf("CAST([%s] AS NVARCHAR(MAX))", ref.Column)
		text = true
	case "varbinary", "binary", "image":
	default:
		// Unrecognized type; read it in one scan.
		query := fmt.Sprintf(`SELECT [%s] FROM [%s].[%s] WHERE [%s] = @p1`,
			ref.Column, ref.Schema, ref.Table, ref.KeyCol)
		var raw []byte
		if err := s.db.QueryRowContext(ctx, query, ref.KeyValue).Scan(&raw); err != nil {
			return nil, fmt.Errorf("reading LOB %s.%s: %w", ref.Table, ref.Column, err)
		}
		return io.NopCloser(bytes.NewReader(raw)), nil
	}

	query := fmt.Sprintf(`SELECT SUBSTRING(%s, @p1, @p2) FROM [%s].[%s] WHERE [%s] = @p3`,
		colExpr, ref.Schema, ref.Table, ref.KeyCol)
	return &lobReader{ctx: ctx, db: s.db, query: query, key: ref.KeyValue, text: text, pos: 1}, nil
}

// lobReader pages a large value through SUBSTRING. pos is 1-based, in
// characters for text columns and bytes for binary ones. SQL Server counts
// character positions in UTF-16 code units.
type lobReader struct {
	ctx   context.Context
	db    *sql.DB
	query string
	key   any
	text  bool
	pos   int64
	buf   []byte
	done  bool
}

func (r *lobReader) fill() error {
	if r.text {
		var seg sql.NullString
		if err := r.db.QueryRowContext(r.ctx, r.query, r.pos, lobSegmentSize, r.key).Scan(&seg); err != nil {
			return err
		}
		if !seg.Valid || seg.String == "" {
			r.done = true
			return nil
		}
		r.pos += int64(len(utf16.Encode([]rune(seg.String))))
		r.buf = []byte(seg.String)
		return nil
	}

	var seg []byte
	if err := r.db.QueryRowContext(r.ctx, r.query, r.pos, lobSegmentSize, r.key).Scan(&seg); err != nil {
		return err
	}
	if len(seg) == 0 {
		r.done = true
		return nil
	}
	r.pos += int64(len(seg))
	r.buf = seg
	return nil
}

func (r *lobReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.done {
			return 0, io.EOF
		}
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *lobReader) Close() error { return nil }
