package driver

import (
	"fmt"
	"strings"
)

// Catalog is the introspected contents of one source schema.
type Catalog struct {
	Schema     string      `json:"schema"`
	Tables     []Table     `json:"tables"`
	Sequences  []Sequence  `json:"sequences"`
	Procedures []Procedure `json:"procedures"`
}

// Table represents a database table with its metadata.
type Table struct {
	Schema      string       `json:"schema"`
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key"`
	RowCount    int64        `json:"row_count"` // estimate from source statistics
	Indexes     []Index      `json:"indexes"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`

	// Partitioned marks tables whose partitioning scheme cannot be carried
	// over automatically and needs manual review on the target.
	Partitioned   bool   `json:"partitioned"`
	PartitionType string `json:"partition_type,omitempty"`
}

// FullName returns the fully qualified table name (schema.table).
func (t *Table) FullName() string {
	return t.Schema + "." + t.Name
}

// HasPK returns true if the table has a primary key.
func (t *Table) HasPK() bool {
	return len(t.PrimaryKey) > 0
}

// OrderKey returns the stable ordering key for paged reads: the primary key
// when one exists, otherwise every column. Chunk boundaries are only
// reproducible when reads are ordered by this key.
func (t *Table) OrderKey() []string {
	if t.HasPK() {
		return t.PrimaryKey
	}
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnNames returns the column names in ordinal order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// LOBColumns returns the columns holding large objects.
func (t *Table) LOBColumns() []Column {
	var lobs []Column
	for _, c := range t.Columns {
		if c.IsLOB() {
			lobs = append(lobs, c)
		}
	}
	return lobs
}

// Column represents a table column.
type Column struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	Length     int    `json:"length"`
	Precision  int    `json:"precision"`
	Scale      int    `json:"scale"`
	Nullable   bool   `json:"nullable"`
	Default    string `json:"default,omitempty"`
	OrdinalPos int    `json:"ordinal_position"`
}

// IsLOB returns true for large-object column types that must be streamed
// rather than buffered.
func (c *Column) IsLOB() bool {
	switch strings.ToUpper(c.DataType) {
	case "CLOB", "NCLOB", "BLOB", "BFILE", "LONG", "LONG RAW",
		"TEXT", "NTEXT", "IMAGE", "VARBINARY(MAX)", "XML":
		return true
	}
	return false
}

// Index represents a table index.
type Index struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	Unique     bool     `json:"unique"`
	Type       string   `json:"type"`                 // NORMAL, BITMAP, FUNCTION-BASED, ...
	Expression string   `json:"expression,omitempty"` // for function-based indexes
}

// ForeignKey represents a foreign key constraint.
type ForeignKey struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	RefSchema  string   `json:"ref_schema"`
	RefTable   string   `json:"ref_table"`
	RefColumns []string `json:"ref_columns"`
	OnDelete   string   `json:"on_delete"` // CASCADE, SET NULL, NO ACTION
	Enabled    bool     `json:"enabled"`
}

// Sequence represents a source sequence.
type Sequence struct {
	Name        string `json:"name"`
	StartWith   int64  `json:"start_with"`
	IncrementBy int64  `json:"increment_by"`
	Cycle       bool   `json:"cycle"`
}

// Procedure is a stored procedure, function, or trigger with its source text.
type Procedure struct {
	Name   string `json:"name"`
	Type   string `json:"type"` // PROCEDURE, FUNCTION, TRIGGER, PACKAGE
	Source string `json:"source"`
}

// ValidateIdentifier checks if a database identifier (schema, table, column
// name) is safe to interpolate into SQL. Identifiers always come from
// catalog queries, but drivers validate them anyway before building
// statements.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 128 {
		return fmt.Errorf("identifier too long: %d characters (max 128)", len(name))
	}

	for i, r := range name {
		if i == 0 {
			if !isIdentStart(r) {
				return fmt.Errorf("identifier must start with letter or underscore: %q", name)
			}
			continue
		}
		if !isIdentChar(r) {
			return fmt.Errorf("identifier contains invalid character %q at position %d: %q", r, i, name)
		}
	}
	return nil
}

func isIdentStart(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func isIdentChar(r rune) bool {
	return isIdentStart(r) ||
		(r >= '0' && r <= '9') ||
		r == '$' || // Oracle and PostgreSQL allow $ in identifiers
		r == '#' // Oracle allows # in identifiers
}
