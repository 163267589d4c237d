// Package schema translates an introspected source catalog into an ordered
// sequence of target schema objects. Ordering follows the dependency graph
// induced by foreign keys and sequence-backed defaults; constructs that
// cannot be converted automatically are marked for manual review instead of
// being dropped.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/oradrift/oradrift/internal/driver"
	"github.com/oradrift/oradrift/internal/typemap"
)

// ObjectKind classifies a schema object.
type ObjectKind string

const (
	KindTable      ObjectKind = "table"
	KindIndex      ObjectKind = "index"
	KindConstraint ObjectKind = "constraint"
	KindSequence   ObjectKind = "sequence"
)

// Status is the translation outcome for one object.
type Status string

const (
	StatusPending      Status = "pending"
	StatusTranslated   Status = "translated"
	StatusFailed       Status = "failed"
	StatusManualReview Status = "manual-review"
)

// Object is one translated schema object, ordered so that anything it
// references appears earlier in the sequence.
type Object struct {
	Name      string
	Kind      ObjectKind
	Table     string // owning table for indexes and constraints
	SourceDef string
	TargetDDL string
	Status    Status
	Note      string

	// LossyColumns lists columns whose type mapping cannot represent
	// every source value.
	LossyColumns []string

	// Deferred objects (secondary indexes, foreign keys) are applied
	// after data transfer rather than before it.
	Deferred bool
}

// Result is the output of Translate.
type Result struct {
	// Objects in dependency order: sequences, then tables (parents before
	// FK children), then deferred constraints and indexes.
	Objects []*Object

	// TableLevels groups table names by foreign-key dependency depth.
	// All tables in level N must finish data transfer before any table in
	// level N+1 starts.
	TableLevels [][]string
}

// Translate converts a source catalog into ordered target schema objects.
// A true dependency cycle yields *CyclicDependencyError.
func Translate(cat *driver.Catalog, sourceDBType, targetSchema string) (*Result, error) {
	g := newDepGraph()
	tableByName := make(map[string]*driver.Table, len(cat.Tables))
	for i := range cat.Tables {
		t := &cat.Tables[i]
		tableByName[t.Name] = t
		g.addNode(t.Name)
	}

	// FK edges: the referenced table must exist (and load) first.
	// Self-references are fine and carry no edge.
	for i := range cat.Tables {
		t := &cat.Tables[i]
		for _, fk := range t.ForeignKeys {
			if fk.RefSchema != "" && !strings.EqualFold(fk.RefSchema, cat.Schema) {
				continue // cross-schema reference, outside this job
			}
			g.addEdge(fk.RefTable, t.Name)
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	levelIdx, err := g.levels()
	if err != nil {
		return nil, err
	}

	var objects []*Object

	// Sequences carry no dependencies among themselves; they precede every
	// table because column defaults may reference them.
	seqs := append([]driver.Sequence(nil), cat.Sequences...)
	sort.Slice(seqs, func(i, j int) bool { return seqs[i].Name < seqs[j].Name })
	for i := range seqs {
		s := &seqs[i]
		objects = append(objects, &Object{
			Name:      s.Name,
			Kind:      KindSequence,
			SourceDef: fmt.Sprintf("SEQUENCE %s START %d INCREMENT %d", s.Name, s.StartWith, s.IncrementBy),
			TargetDDL: createSequenceDDL(s, targetSchema),
			Status:    StatusTranslated,
		})
	}

	for _, idx := range order {
		t := tableByName[g.names[idx]]
		objects = append(objects, translateTable(t, sourceDBType, targetSchema))
	}

	// Deferred objects: secondary indexes and foreign keys, applied after
	// data transfer. FKs still honor table order because every referenced
	// table object precedes them.
	for _, idx := range order {
		t := tableByName[g.names[idx]]
		objects = append(objects, translateIndexes(t, targetSchema)...)
		objects = append(objects, translateForeignKeys(t, targetSchema)...)
	}

	levels := make([][]string, len(levelIdx))
	for d, nodes := range levelIdx {
		for _, n := range nodes {
			levels[d] = append(levels[d], g.names[n])
		}
	}

	return &Result{Objects: objects, TableLevels: levels}, nil
}

// translateTable maps every column and renders CREATE TABLE DDL. A column
// with no mapping rule marks the whole table manual-review: the table stays
// in the job but no DDL is generated, and the note names the offending
// columns.
func translateTable(t *driver.Table, sourceDBType, targetSchema string) *Object {
	obj := &Object{
		Name:      t.Name,
		Kind:      KindTable,
		SourceDef: describeTable(t),
		Status:    StatusPending,
	}

	colTypes := make(map[string]string, len(t.Columns))
	var unmapped []string
	for _, c := range t.Columns {
		m, err := typemap.MapType(typemap.TypeInfo{
			SourceDBType: sourceDBType,
			DataType:     c.DataType,
			Length:       c.Length,
			Precision:    c.Precision,
			Scale:        c.Scale,
		})
		if err != nil {
			unmapped = append(unmapped, fmt.Sprintf("%s (%s)", c.Name, c.DataType))
			continue
		}
		colTypes[c.Name] = m.TargetType
		if m.Lossy {
			obj.LossyColumns = append(obj.LossyColumns, fmt.Sprintf("%s: %s -> %s", c.Name, c.DataType, m.TargetType))
		}
	}

	if len(unmapped) > 0 {
		obj.Status = StatusManualReview
		obj.Note = fmt.Sprintf("columns with no automatic type mapping: %s", strings.Join(unmapped, ", "))
		return obj
	}

	obj.TargetDDL = createTableDDL(t, colTypes, targetSchema)
	obj.Status = StatusTranslated

	if t.Partitioned {
		// The base table is created unpartitioned; the partitioning scheme
		// itself needs a human decision on the target.
		obj.Status = StatusManualReview
		obj.Note = fmt.Sprintf("source table is %s-partitioned; created unpartitioned, partitioning scheme needs manual review", t.PartitionType)
	}
	return obj
}

func translateIndexes(t *driver.Table, targetSchema string) []*Object {
	var objects []*Object
	for i := range t.Indexes {
		idx := &t.Indexes[i]
		obj := &Object{
			Name:      idx.Name,
			Kind:      KindIndex,
			Table:     t.Name,
			SourceDef: fmt.Sprintf("%s INDEX %s ON %s (%s)", idx.Type, idx.Name, t.Name, strings.Join(idx.Columns, ", ")),
			Deferred:  true,
		}

		switch strings.ToUpper(idx.Type) {
		case "", "NORMAL", "B-TREE", "BTREE", "NONCLUSTERED", "CLUSTERED":
			obj.TargetDDL = createIndexDDL(t.Name, idx, targetSchema)
			obj.Status = StatusTranslated
		case "BITMAP", "FUNCTION-BASED NORMAL", "FUNCTION-BASED", "DOMAIN", "REVERSE":
			obj.Status = StatusManualReview
			obj.Note = fmt.Sprintf("%s index has no direct PostgreSQL equivalent", strings.ToLower(idx.Type))
		default:
			obj.Status = StatusManualReview
			obj.Note = fmt.Sprintf("unrecognized index type %q", idx.Type)
		}
		objects = append(objects, obj)
	}
	return objects
}

func translateForeignKeys(t *driver.Table, targetSchema string) []*Object {
	var objects []*Object
	for i := range t.ForeignKeys {
		fk := &t.ForeignKeys[i]
		obj := &Object{
			Name:      fk.Name,
			Kind:      KindConstraint,
			Table:     t.Name,
			SourceDef: fmt.Sprintf("FOREIGN KEY %s (%s) REFERENCES %s", fk.Name, strings.Join(fk.Columns, ", "), fk.RefTable),
			Deferred:  true,
		}
		if !fk.Enabled {
			obj.Status = StatusManualReview
			obj.Note = "constraint is disabled on the source; not recreated automatically"
		} else {
			obj.TargetDDL = addForeignKeyDDL(t.Name, fk, targetSchema)
			obj.Status = StatusTranslated
		}
		objects = append(objects, obj)
	}
	return objects
}

func describeTable(t *driver.Table) string {
	var cols []string
	for _, c := range t.Columns {
		sig := c.DataType
		switch {
		case c.Precision > 0:
			sig = fmt.Sprintf("%s(%d,%d)", c.DataType, c.Precision, c.Scale)
		case c.Length > 0:
			sig = fmt.Sprintf("%s(%d)", c.DataType, c.Length)
		}
		cols = append(cols, c.Name+" "+sig)
	}
	return fmt.Sprintf("TABLE %s (%s)", t.Name, strings.Join(cols, ", "))
}
