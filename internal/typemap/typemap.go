// Package typemap maps source column types to PostgreSQL types and coerces
// row values between them. Mapping is table-driven and deterministic: the
// same input signature always produces the same output, and conversions
// that cannot represent every source value are flagged lossy instead of
// being rounded silently.
package typemap

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// TypeInfo is a source column type signature.
type TypeInfo struct {
	// SourceDBType is the source database type ("oracle", "mssql").
	SourceDBType string

	// DataType is the source column's declared type name.
	DataType string

	// Length is the declared length for string/raw types (-1 for MAX).
	Length int

	// Precision is the numeric precision (0 when undeclared).
	Precision int

	// Scale is the numeric scale (-1 when undeclared, Oracle reports NULL).
	Scale int
}

// Mapping is the result of mapping one type signature.
type Mapping struct {
	// TargetType is the PostgreSQL type string (e.g. "numeric(10,2)").
	TargetType string

	// Lossy is true when the target type cannot represent every value the
	// source type can hold. The orchestrator warns and audits these.
	Lossy bool
}

// UnsupportedTypeError reports a source type with no mapping rule.
type UnsupportedTypeError struct {
	SourceDBType string
	DataType     string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("no type mapping for %s type %q", e.SourceDBType, e.DataType)
}

// ConversionError reports a value that cannot be coerced to the target type.
type ConversionError struct {
	SourceType string
	TargetType string
	Reason     string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %s value to %s: %s", e.SourceType, e.TargetType, e.Reason)
}

// MapType maps a source column type signature to a PostgreSQL type.
// Returns *UnsupportedTypeError when no rule matches.
func MapType(info TypeInfo) (Mapping, error) {
	switch strings.ToLower(info.SourceDBType) {
	case "oracle":
		return oracleToPostgres(info)
	case "mssql", "sqlserver":
		return mssqlToPostgres(info)
	default:
		return Mapping{}, &UnsupportedTypeError{SourceDBType: info.SourceDBType, DataType: info.DataType}
	}
}

// ConvertValue coerces one raw source value into a form acceptable to the
// target column type. nil passes through. Returns *ConversionError on
// numeric overflow or invalid text encoding; never rounds silently.
func ConvertValue(raw any, sourceType, targetType string) (any, error) {
	if raw == nil {
		return nil, nil
	}

	base := baseType(targetType)
	switch base {
	case "smallint":
		return convertInteger(raw, sourceType, targetType, math.MinInt16, math.MaxInt16)
	case "integer":
		return convertInteger(raw, sourceType, targetType, math.MinInt32, math.MaxInt32)
	case "bigint":
		return convertInteger(raw, sourceType, targetType, math.MinInt64, math.MaxInt64)
	case "boolean":
		return convertBool(raw, sourceType, targetType)
	case "text", "varchar", "char", "xml":
		return convertText(raw, sourceType, targetType)
	case "bytea":
		return convertBytes(raw, sourceType, targetType)
	case "timestamp", "timestamptz", "date", "time":
		return convertTime(raw, sourceType, targetType)
	default:
		// numeric, double precision, real, uuid, interval: the pg driver
		// handles the native Go representations directly.
		return raw, nil
	}
}

// baseType strips length/precision qualifiers: "varchar(20)" -> "varchar".
func baseType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}

func convertInteger(raw any, srcType, tgtType string, min, max int64) (any, error) {
	var v int64
	switch x := raw.(type) {
	case int64:
		v = x
	case int32:
		v = int64(x)
	case int16:
		v = int64(x)
	case int8:
		v = int64(x)
	case int:
		v = int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return nil, &ConversionError{SourceType: srcType, TargetType: tgtType, Reason: fmt.Sprintf("value %d overflows int64", x)}
		}
		v = int64(x)
	case float64:
		if x != math.Trunc(x) {
			return nil, &ConversionError{SourceType: srcType, TargetType: tgtType, Reason: fmt.Sprintf("value %v has a fractional part", x)}
		}
		if x < float64(min) || x > float64(max) {
			return nil, &ConversionError{SourceType: srcType, TargetType: tgtType, Reason: fmt.Sprintf("value %v out of range", x)}
		}
		v = int64(x)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, &ConversionError{SourceType: srcType, TargetType: tgtType, Reason: fmt.Sprintf("not an integer: %q", x)}
		}
		v = parsed
	default:
		return nil, &ConversionError{SourceType: srcType, TargetType: tgtType, Reason: fmt.Sprintf("unexpected Go type %T", raw)}
	}

	if v < min || v > max {
		return nil, &ConversionError{SourceType: srcType, TargetType: tgtType, Reason: fmt.Sprintf("value %d out of range [%d, %d]", v, min, max)}
	}
	return v, nil
}

func convertBool(raw any, srcType, tgtType string) (any, error) {
	switch x := raw.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "t", "true", "y", "yes":
			return true, nil
		case "0", "f", "false", "n", "no":
			return false, nil
		}
		return nil, &ConversionError{SourceType: srcType, TargetType: tgtType, Reason: fmt.Sprintf("not a boolean: %q", x)}
	default:
		return nil, &ConversionError{SourceType: srcType, TargetType: tgtType, Reason: fmt.Sprintf("unexpected Go type %T", raw)}
	}
}

func convertText(raw any, srcType, tgtType string) (any, error) {
	switch x := raw.(type) {
	case string:
		if !utf8.ValidString(x) {
			return nil, &ConversionError{SourceType: srcType, TargetType: tgtType, Reason: "invalid UTF-8 encoding"}
		}
		// PostgreSQL text types reject NUL bytes.
		if strings.ContainsRune(x, 0) {
			return strings.ReplaceAll(x, "\x00", ""), nil
		}
		return x, nil
	case []byte:
		if !utf8.Valid(x) {
			return nil, &ConversionError{SourceType: srcType, TargetType: tgtType, Reason: "invalid UTF-8 encoding"}
		}
		return string(x), nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	default:
		return fmt.Sprintf("%v", x), nil
	}
}

func convertBytes(raw any, srcType, tgtType string) (any, error) {
	switch x := raw.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	default:
		return nil, &ConversionError{SourceType: srcType, TargetType: tgtType, Reason: fmt.Sprintf("unexpected Go type %T", raw)}
	}
}

func convertTime(raw any, srcType, tgtType string) (any, error) {
	switch x := raw.(type) {
	case time.Time:
		return x, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, x); err == nil {
				return ts, nil
			}
		}
		return nil, &ConversionError{SourceType: srcType, TargetType: tgtType, Reason: fmt.Sprintf("unparseable timestamp: %q", x)}
	default:
		return nil, &ConversionError{SourceType: srcType, TargetType: tgtType, Reason: fmt.Sprintf("unexpected Go type %T", raw)}
	}
}
