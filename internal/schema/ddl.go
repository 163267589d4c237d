package schema

import (
	"fmt"
	"strings"

	"github.com/oradrift/oradrift/internal/driver"
)

// pgReservedWords are PostgreSQL reserved words that must be quoted when
// used as identifiers. Only words that realistically show up as Oracle
// column names are listed.
var pgReservedWords = map[string]bool{
	"all": true, "and": true, "any": true, "array": true, "as": true,
	"asc": true, "between": true, "both": true, "case": true, "cast": true,
	"check": true, "column": true, "constraint": true, "create": true,
	"current_date": true, "current_time": true, "current_timestamp": true,
	"current_user": true, "default": true, "desc": true, "distinct": true,
	"do": true, "else": true, "end": true, "except": true, "for": true,
	"foreign": true, "from": true, "grant": true, "group": true,
	"having": true, "in": true, "initially": true, "intersect": true,
	"into": true, "leading": true, "limit": true, "localtime": true,
	"not": true, "null": true, "offset": true, "on": true, "only": true,
	"or": true, "order": true, "primary": true, "references": true,
	"select": true, "session_user": true, "some": true, "table": true,
	"then": true, "to": true, "trailing": true, "union": true,
	"unique": true, "user": true, "using": true, "when": true,
	"where": true, "window": true, "with": true,
}

// quoteIdent folds an identifier to PostgreSQL lowercase convention and
// quotes it when required. Oracle folds unquoted identifiers to uppercase;
// folding the other way keeps target queries unquoted in the common case.
func quoteIdent(name string) string {
	lower := strings.ToLower(name)

	needsQuote := pgReservedWords[lower]
	for i, r := range lower {
		if i == 0 && r >= '0' && r <= '9' {
			needsQuote = true
			break
		}
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_') {
			needsQuote = true
			break
		}
	}

	if needsQuote {
		return `"` + strings.ReplaceAll(lower, `"`, `""`) + `"`
	}
	return lower
}

// qualify returns schema.name with both parts quoted.
func qualify(schema, name string) string {
	if schema == "" {
		return quoteIdent(name)
	}
	return quoteIdent(schema) + "." + quoteIdent(name)
}

// createTableDDL renders the CREATE TABLE statement for a translated table.
// colTypes maps source column names to target type strings, in t.Columns
// order. The primary key is declared inline; secondary indexes and foreign
// keys are separate objects created later.
func createTableDDL(t *driver.Table, colTypes map[string]string, targetSchema string) string {
	var defs []string
	for _, c := range t.Columns {
		def := quoteIdent(c.Name) + " " + colTypes[c.Name]
		if !c.Nullable {
			def += " NOT NULL"
		}
		if d := translateDefault(c.Default); d != "" {
			def += " DEFAULT " + d
		}
		defs = append(defs, "    "+def)
	}

	if t.HasPK() {
		pks := make([]string, len(t.PrimaryKey))
		for i, pk := range t.PrimaryKey {
			pks[i] = quoteIdent(pk)
		}
		defs = append(defs, fmt.Sprintf("    CONSTRAINT %s PRIMARY KEY (%s)",
			quoteIdent(t.Name+"_pkey"), strings.Join(pks, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)",
		qualify(targetSchema, t.Name), strings.Join(defs, ",\n"))
}

// translateDefault rewrites common Oracle default expressions into their
// PostgreSQL form. Unrecognized expressions are dropped from the DDL (the
// caller notes them for manual review).
func translateDefault(def string) string {
	def = strings.TrimSpace(def)
	if def == "" || strings.EqualFold(def, "NULL") {
		return ""
	}
	upper := strings.ToUpper(def)
	switch {
	case upper == "SYSDATE" || upper == "SYSTIMESTAMP" || upper == "CURRENT_TIMESTAMP":
		return "CURRENT_TIMESTAMP"
	case upper == "SYS_GUID()":
		return "gen_random_uuid()"
	case strings.HasSuffix(upper, ".NEXTVAL"):
		seq := strings.ToLower(strings.TrimSuffix(upper, ".NEXTVAL"))
		return fmt.Sprintf("nextval('%s')", strings.ToLower(seq))
	case strings.HasPrefix(def, "'") || isNumericLiteral(def):
		return def
	default:
		return ""
	}
}

func isNumericLiteral(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || (i == 0 && (r == '-' || r == '+')) {
			continue
		}
		return false
	}
	return true
}

// createSequenceDDL renders a CREATE SEQUENCE statement.
func createSequenceDDL(s *driver.Sequence, targetSchema string) string {
	ddl := fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s START WITH %d INCREMENT BY %d",
		qualify(targetSchema, s.Name), s.StartWith, s.IncrementBy)
	if s.Cycle {
		ddl += " CYCLE"
	}
	return ddl
}

// createIndexDDL renders a CREATE INDEX statement for plain b-tree indexes.
func createIndexDDL(tableName string, idx *driver.Index, targetSchema string) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = quoteIdent(c)
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, quoteIdent(idx.Name), qualify(targetSchema, tableName), strings.Join(cols, ", "))
}

// addForeignKeyDDL renders an ALTER TABLE ... ADD CONSTRAINT statement.
func addForeignKeyDDL(tableName string, fk *driver.ForeignKey, targetSchema string) string {
	cols := make([]string, len(fk.Columns))
	for i, c := range fk.Columns {
		cols[i] = quoteIdent(c)
	}
	refCols := make([]string, len(fk.RefColumns))
	for i, c := range fk.RefColumns {
		refCols[i] = quoteIdent(c)
	}

	ddl := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		qualify(targetSchema, tableName), quoteIdent(fk.Name),
		strings.Join(cols, ", "),
		qualify(targetSchema, fk.RefTable), strings.Join(refCols, ", "))

	switch strings.ToUpper(fk.OnDelete) {
	case "CASCADE":
		ddl += " ON DELETE CASCADE"
	case "SET NULL":
		ddl += " ON DELETE SET NULL"
	}
	return ddl
}
