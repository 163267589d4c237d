package orchestrator

import (
	"context"
	"crypto/sha256"
	sqldriver "database/sql/driver"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/oradrift/oradrift/internal/audit"
	"github.com/oradrift/oradrift/internal/driver"
	"github.com/oradrift/oradrift/internal/logging"
	"github.com/oradrift/oradrift/internal/typemap"
)

// validate compares source and target after transfer: exact row counts for
// every migrated table, and a streaming content checksum when enabled.
func (o *Orchestrator) validate(ctx context.Context, jobID string, cat *driver.Catalog, migratable map[string]bool) error {
	for i := range cat.Tables {
		t := &cat.Tables[i]
		if !migratable[t.Name] {
			continue
		}

		srcCount, err := o.src.RowCount(ctx, t.Schema, t.Name)
		if err != nil {
			return fmt.Errorf("source count for %s: %w", t.Name, err)
		}
		tgtCount, err := o.tgt.RowCount(ctx, o.targetSchema(), t.Name)
		if err != nil {
			return fmt.Errorf("target count for %s: %w", t.Name, err)
		}

		if srcCount != tgtCount {
			o.record(audit.Entry{
				JobID: jobID, Action: audit.ActionValidation, Table: t.Name,
				Detail: fmt.Sprintf("row count mismatch: source=%d target=%d", srcCount, tgtCount),
				Outcome: audit.OutcomeFailed,
			})
			return &ValidationMismatchError{Table: t.Name, SourceCount: srcCount, TargetCount: tgtCount}
		}

		if o.cfg.Migration.ValidateChecksums {
			if err := o.validateChecksum(ctx, jobID, t, srcCount); err != nil {
				return err
			}
		}

		logging.Info("%-30s OK %d rows", t.Name, tgtCount)
		o.record(audit.Entry{
			JobID: jobID, Action: audit.ActionValidation, Table: t.Name,
			Detail: fmt.Sprintf("%d rows", tgtCount), Outcome: audit.OutcomeOK, Rows: tgtCount,
		})
	}
	return nil
}

// validateChecksum streams both sides in the same stable order and compares
// running digests. Source values pass through the same type conversion the
// transfer applied, target values are unwrapped from their driver types,
// and both collapse to one canonical rendering before hashing. Both sides
// page with the same chunk size so memory stays bounded.
func (o *Orchestrator) validateChecksum(ctx context.Context, jobID string, t *driver.Table, rows int64) error {
	cols, err := o.checksumPlan(t)
	if err != nil {
		return fmt.Errorf("checksum plan for %s: %w", t.Name, err)
	}

	srcSum, err := o.checksumSide(ctx, t, rows, cols, true, func(req driver.ReadRequest) ([][]any, error) {
		req.Schema = t.Schema
		return o.src.ReadRows(ctx, req)
	})
	if err != nil {
		return fmt.Errorf("source checksum for %s: %w", t.Name, err)
	}
	tgtSum, err := o.checksumSide(ctx, t, rows, cols, false, func(req driver.ReadRequest) ([][]any, error) {
		req.Schema = o.targetSchema()
		return o.tgt.ReadRows(ctx, req)
	})
	if err != nil {
		return fmt.Errorf("target checksum for %s: %w", t.Name, err)
	}

	if srcSum != tgtSum {
		o.record(audit.Entry{
			JobID: jobID, Action: audit.ActionValidation, Table: t.Name,
			Detail: fmt.Sprintf("checksum mismatch: source=%s target=%s", srcSum[:12], tgtSum[:12]),
			Outcome: audit.OutcomeFailed,
		})
		return &ValidationMismatchError{Table: t.Name, Detail: "content checksum mismatch"}
	}
	return nil
}

// checksumCol is the per-column hashing plan.
type checksumCol struct {
	name       string
	sourceType string
	targetType string
	numeric    bool
}

func (o *Orchestrator) checksumPlan(t *driver.Table) ([]checksumCol, error) {
	cols := make([]checksumCol, len(t.Columns))
	for i, c := range t.Columns {
		mapping, err := typemap.MapType(typemap.TypeInfo{
			SourceDBType: o.src.DBType(),
			DataType:     c.DataType,
			Length:       c.Length,
			Precision:    c.Precision,
			Scale:        c.Scale,
		})
		if err != nil {
			return nil, err
		}
		base := strings.ToLower(mapping.TargetType)
		if i := strings.IndexByte(base, '('); i >= 0 {
			base = base[:i]
		}
		numeric := false
		switch strings.TrimSpace(base) {
		case "smallint", "integer", "bigint", "numeric", "real", "double precision":
			numeric = true
		}
		cols[i] = checksumCol{name: c.Name, sourceType: c.DataType, targetType: mapping.TargetType, numeric: numeric}
	}
	return cols, nil
}

func (o *Orchestrator) checksumSide(ctx context.Context, t *driver.Table, rows int64, cols []checksumCol, convertSource bool, read func(driver.ReadRequest) ([][]any, error)) (string, error) {
	h := sha256.New()
	chunkSize := o.cfg.ChunkSizeFor(t.Name)

	for offset := int64(0); offset < rows; offset += int64(chunkSize) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page, err := read(driver.ReadRequest{
			Table:   t.Name,
			Columns: t.ColumnNames(),
			OrderBy: t.OrderKey(),
			Offset:  offset,
			Limit:   chunkSize,
		})
		if err != nil {
			return "", err
		}
		for _, row := range page {
			for i, v := range row {
				if convertSource {
					v, err = typemap.ConvertValue(v, cols[i].sourceType, cols[i].targetType)
					if err != nil {
						return "", fmt.Errorf("column %s: %w", cols[i].name, err)
					}
				}
				io.WriteString(h, canonicalValue(v, cols[i].numeric))
				h.Write([]byte{'|'})
			}
			h.Write([]byte{'\n'})
		}
		if len(page) < chunkSize {
			break
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalValue renders one value independently of the driver that
// produced it. pgx hands back its own wrapper types for numerics and
// timestamps; source drivers return Go natives. Both collapse to the same
// text here.
func canonicalValue(v any, numeric bool) string {
	if valuer, ok := v.(sqldriver.Valuer); ok {
		if inner, err := valuer.Value(); err == nil {
			v = inner
		}
	}
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return hex.EncodeToString(x)
	case [16]byte:
		return hex.EncodeToString(x[:])
	case float64:
		return normalizeDecimal(strconv.FormatFloat(x, 'g', -1, 64))
	case float32:
		return normalizeDecimal(strconv.FormatFloat(float64(x), 'g', -1, 32))
	case string:
		if numeric {
			return normalizeDecimal(x)
		}
		return x
	default:
		s := fmt.Sprintf("%v", x)
		if numeric {
			return normalizeDecimal(s)
		}
		return s
	}
}

// normalizeDecimal rewrites a decimal string without exponent, leading
// zeros or trailing fractional zeros, so "125e-2", "1.250" and "1.25" all
// hash identically. Non-numeric input comes back unchanged.
func normalizeDecimal(s string) string {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return orig
	}
	sign := ""
	if s[0] == '+' || s[0] == '-' {
		if s[0] == '-' {
			sign = "-"
		}
		s = s[1:]
	}
	mant, expPart := s, ""
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		mant, expPart = s[:i], s[i+1:]
	}
	exp := 0
	if expPart != "" {
		n, err := strconv.Atoi(expPart)
		if err != nil {
			return orig
		}
		exp = n
	}
	intPart, fracPart := mant, ""
	if i := strings.IndexByte(mant, '.'); i >= 0 {
		intPart, fracPart = mant[:i], mant[i+1:]
	}
	digits := intPart + fracPart
	if digits == "" {
		return orig
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return orig
		}
	}
	exp -= len(fracPart)

	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return "0"
	}
	for strings.HasSuffix(digits, "0") {
		digits = digits[:len(digits)-1]
		exp++
	}

	var b strings.Builder
	b.WriteString(sign)
	switch {
	case exp >= 0:
		b.WriteString(digits)
		b.WriteString(strings.Repeat("0", exp))
	case -exp >= len(digits):
		b.WriteString("0.")
		b.WriteString(strings.Repeat("0", -exp-len(digits)))
		b.WriteString(digits)
	default:
		b.WriteString(digits[:len(digits)+exp])
		b.WriteByte('.')
		b.WriteString(digits[len(digits)+exp:])
	}
	return b.String()
}
