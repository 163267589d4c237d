// Package oracle implements the source driver for Oracle databases using
// the pure-Go sijms/go-ora driver. Introspection reads the ALL_* dictionary
// views; row reads use ORDER BY over the table's primary key with
// OFFSET/FETCH so chunk boundaries stay deterministic across restarts.
package oracle

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	go_ora "github.com/sijms/go-ora/v2"

	"github.com/oradrift/oradrift/internal/dbconfig"
	"github.com/oradrift/oradrift/internal/driver"
	"github.com/oradrift/oradrift/internal/logging"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for Oracle.
type Driver struct{}

func (d *Driver) Name() string { return "oracle" }

func (d *Driver) Aliases() []string { return []string{"ora", "oracledb"} }

// NewSource connects to Oracle as a migration source.
func (d *Driver) NewSource(cfg *dbconfig.SourceConfig, maxConns int) (driver.Source, error) {
	return NewSource(cfg, maxConns)
}

// NewTarget is unsupported: this engine only writes to PostgreSQL-family
// targets.
func (d *Driver) NewTarget(cfg *dbconfig.TargetConfig, maxConns int) (driver.Target, error) {
	return nil, fmt.Errorf("oracle is not supported as a migration target")
}

// Source reads schema metadata and rows from an Oracle database.
type Source struct {
	db     *sql.DB
	schema string
}

// NewSource opens a connection pool against the configured Oracle instance.
func NewSource(cfg *dbconfig.SourceConfig, maxConns int) (*Source, error) {
	port := cfg.Port
	if port == 0 {
		port = 1521
	}
	urlOpts := map[string]string{}
	for k, v := range cfg.Options {
		urlOpts[k] = v
	}
	connStr := go_ora.BuildUrl(cfg.Host, port, cfg.Database, cfg.User, cfg.Password, urlOpts)

	db, err := sql.Open("oracle", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening oracle connection: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	schema := cfg.Schema
	if schema == "" {
		schema = strings.ToUpper(cfg.User)
	}

	logging.Debug("Connected to Oracle source: %s:%d/%s schema=%s", cfg.Host, port, cfg.Database, schema)
	return &Source{db: db, schema: strings.ToUpper(schema)}, nil
}

func (s *Source) DBType() string { return "oracle" }

func (s *Source) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Source) Close() { s.db.Close() }

// IntrospectSchema reads tables, columns, keys, indexes, sequences and
// stored code for one schema from the Oracle dictionary.
func (s *Source) IntrospectSchema(ctx context.Context, schema string) (*driver.Catalog, error) {
	if schema == "" {
		schema = s.schema
	}
	schema = strings.ToUpper(schema)

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
		if err := s.loadPartitioning(ctx, &t); err != nil {
			return nil, fmt.Errorf("partitioning of %s: %w", name, err)
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
		SELECT table_name FROM all_tables
		WHERE owner = :1 AND temporary = 'N' AND nested = 'NO'
		  AND (iot_type IS NULL OR iot_type = 'IOT')
		ORDER BY table_name`, schema)
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
		SELECT column_name, data_type, data_length, data_precision, data_scale,
		       nullable, data_default, column_id
		FROM all_tab_columns
		WHERE owner = :1 AND table_name = :2
		ORDER BY column_id`, t.Schema, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c driver.Column
		var precision, scale sql.NullInt64
		var nullable string
		var def sql.NullString
		if err := rows.Scan(&c.Name, &c.DataType, &c.Length, &precision, &scale, &nullable, &def, &c.OrdinalPos); err != nil {
			return err
		}
		if precision.Valid {
			c.Precision = int(precision.Int64)
		}
		// Oracle reports NULL scale for unconstrained NUMBER; keep that
		// distinct from an explicit scale of 0.
		c.Scale = -1
		if scale.Valid {
			c.Scale = int(scale.Int64)
		}
		c.Nullable = nullable == "Y"
		c.Default = strings.TrimSpace(def.String)
		t.Columns = append(t.Columns, c)
	}
	return rows.Err()
}

func (s *Source) loadPrimaryKey(ctx context.Context, t *driver.Table) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cc.column_name
		FROM all_constraints c
		JOIN all_cons_columns cc
		  ON cc.owner = c.owner AND cc.constraint_name = c.constraint_name
		WHERE c.owner = :1 AND c.table_name = :2 AND c.constraint_type = 'P'
		ORDER BY cc.position`, t.Schema, t.Name)
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
		SELECT c.constraint_name, cc.column_name, rc.owner, rc.table_name,
		       rcc.column_name, c.delete_rule, c.status, cc.position
		FROM all_constraints c
		JOIN all_cons_columns cc
		  ON cc.owner = c.owner AND cc.constraint_name = c.constraint_name
		JOIN all_constraints rc
		  ON rc.owner = c.r_owner AND rc.constraint_name = c.r_constraint_name
		JOIN all_cons_columns rcc
		  ON rcc.owner = rc.owner AND rcc.constraint_name = rc.constraint_name
		 AND rcc.position = cc.position
		WHERE c.owner = :1 AND c.table_name = :2 AND c.constraint_type = 'R'
		ORDER BY c.constraint_name, cc.position`, t.Schema, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	byName := make(map[string]*driver.ForeignKey)
	var order []string
	for rows.Next() {
		var name, col, refOwner, refTable, refCol, deleteRule, status string
		var pos int
		if err := rows.Scan(&name, &col, &refOwner, &refTable, &refCol, &deleteRule, &status, &pos); err != nil {
			return err
		}
		fk, ok := byName[name]
		if !ok {
			fk = &driver.ForeignKey{
				Name:      name,
				RefSchema: refOwner,
				RefTable:  refTable,
				OnDelete:  deleteRule,
				Enabled:   status == "ENABLED",
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
		SELECT i.index_name, i.index_type, i.uniqueness, ic.column_name, ic.column_position
		FROM all_indexes i
		JOIN all_ind_columns ic
		  ON ic.index_owner = i.owner AND ic.index_name = i.index_name
		WHERE i.table_owner = :1 AND i.table_name = :2
		  AND NOT EXISTS (
		    SELECT 1 FROM all_constraints c
		    WHERE c.owner = i.table_owner AND c.index_name = i.index_name
		      AND c.constraint_type IN ('P', 'U')
		  )
		ORDER BY i.index_name, ic.column_position`, t.Schema, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	byName := make(map[string]*driver.Index)
	var order []string
	for rows.Next() {
		var name, idxType, uniqueness, col string
		var pos int
		if err := rows.Scan(&name, &idxType, &uniqueness, &col, &pos); err != nil {
			return err
		}
		idx, ok := byName[name]
		if !ok {
			idx = &driver.Index{Name: name, Type: idxType, Unique: uniqueness == "UNIQUE"}
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

func (s *Source) loadPartitioning(ctx context.Context, t *driver.Table) error {
	var ptype string
	err := s.db.QueryRowContext(ctx, `
		SELECT partitioning_type FROM all_part_tables
		WHERE owner = :1 AND table_name = :2`, t.Schema, t.Name).Scan(&ptype)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	t.Partitioned = true
	t.PartitionType = ptype
	return nil
}

func (s *Source) loadSequences(ctx context.Context, cat *driver.Catalog) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence_name, last_number, increment_by, cycle_flag
		FROM all_sequences
		WHERE sequence_owner = :1
		ORDER BY sequence_name`, cat.Schema)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var seq driver.Sequence
		var cycle string
		if err := rows.Scan(&seq.Name, &seq.StartWith, &seq.IncrementBy, &cycle); err != nil {
			return err
		}
		seq.Cycle = cycle == "Y"
		cat.Sequences = append(cat.Sequences, seq)
	}
	return rows.Err()
}

func (s *Source) loadProcedures(ctx context.Context, cat *driver.Catalog) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, type, text
		FROM all_source
		WHERE owner = :1 AND type IN ('PROCEDURE', 'FUNCTION', 'TRIGGER')
		ORDER BY name, type, line`, cat.Schema)
	if err != nil {
		return err
	}
	defer rows.Close()

	var cur *driver.Procedure
	var buf strings.Builder
	flush := func() {
		if cur != nil {
			// ALL_SOURCE text starts at the object keyword; prepend the
			// CREATE the translator expects.
			cur.Source = "CREATE OR REPLACE " + buf.String()
			cat.Procedures = append(cat.Procedures, *cur)
			buf.Reset()
		}
	}
	for rows.Next() {
		var name, typ, text string
		if err := rows.Scan(&name, &typ, &text); err != nil {
			return err
		}
		if cur == nil || cur.Name != name || cur.Type != typ {
			flush()
			cur = &driver.Procedure{Name: name, Type: typ}
		}
		buf.WriteString(text)
	}
	flush()
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
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM "%s"."%s"`, schema, table)).Scan(&n)
	return n, err
}

// ReadRows fetches one chunk of rows in stable order. Offset semantics
// require Oracle 12c or later (OFFSET/FETCH).
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
		cols[i] = `"` + c + `"`
	}
	order := make([]string, len(req.OrderBy))
	for i, c := range req.OrderBy {
		order[i] = `"` + c + `"`
	}

	query := fmt.Sprintf(`SELECT %s FROM "%s"."%s" ORDER BY %s OFFSET :1 ROWS FETCH NEXT :2 ROWS ONLY`,
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

// lobSegmentSize bounds how much of a LOB sits in memory at once.
// DBMS_LOB.SUBSTR in a SQL context returns at most RAW(2000) for BLOBs.
const lobSegmentSize = 2000

// OpenLOB streams one LOB value identified by its row key, fetching it in
// DBMS_LOB.SUBSTR segments so memory stays bounded regardless of the
// object's size.
func (s *Source) OpenLOB(ctx context.Context, ref driver.LOBRef) (io.ReadCloser, error) {
	for _, ident := range []string{ref.Schema, ref.Table, ref.Column, ref.KeyCol} {
		if err := driver.ValidateIdentifier(ident); err != nil {
			return nil, err
		}
	}

	var dataType string
	err := s.db.QueryRowContext(ctx, `
		SELECT data_type FROM all_tab_columns
		WHERE owner = :1 AND table_name = :2 AND column_name = :3`,
		ref.Schema, ref.Table, ref.Column).Scan(&dataType)
	if err != nil {
		return nil, fmt.Errorf("describing LOB %s.%s: %w", ref.Table, ref.Column, err)
	}

	switch strings.ToUpper(dataType) {
	case "CLOB", "NCLOB":
		query := fmt.Sprintf(`SELECT DBMS_LOB.SUBSTR("%s", :1, :2) FROM "%s"."%s" WHERE "%s" = :3`,
			ref.Column, ref.Schema, ref.Table, ref.KeyCol)
		return &lobReader{ctx: ctx, db: s.db, query: query, key: ref.KeyValue, text: true, pos: 1}, nil
	case "BLOB":
		query := fmt.Sprintf(`SELECT DBMS_LOB.SUBSTR("%s", :1, :2) FROM "%s"."%s" WHERE "%s" = :3`,
			ref.Column, ref.Schema, ref.Table, ref.KeyCol)
		return &lobReader{ctx: ctx, db: s.db, query: query, key: ref.KeyValue, pos: 1}, nil
	}

	// LONG and LONG RAW cannot be addressed through DBMS_LOB; a single scan
	// is the only way to read them.
	query := fmt.Sprintf(`SELECT "%s" FROM "%s"."%s" WHERE "%s" = :1`,
		ref.Column, ref.Schema, ref.Table, ref.KeyCol)
	var raw []byte
	if err := s.db.QueryRowContext(ctx, query, ref.KeyValue).Scan(&raw); err != nil {
		return nil, fmt.Errorf("reading LOB %s.%s: %w", ref.Table, ref.Column, err)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

// lobReader pages a CLOB or BLOB through DBMS_LOB.SUBSTR. pos is 1-based,
// in characters for text LOBs and bytes for binary ones.
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
		if err := r.db.QueryRowContext(r.ctx, r.query, lobSegmentSize, r.pos, r.key).Scan(&seg); err != nil {
			return err
		}
		if !seg.Valid || seg.String == "" {
			r.done = true
			return nil
		}
		r.pos += int64(utf8.RuneCountInString(seg.String))
		r.buf = []byte(seg.String)
		return nil
	}

	var seg []byte
	if err := r.db.QueryRowContext(r.ctx, r.query, lobSegmentSize, r.pos, r.key).Scan(&seg); err != nil {
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
