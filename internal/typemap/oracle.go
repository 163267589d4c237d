package typemap

import (
	"fmt"
	"strings"
)

// oracleToPostgres maps Oracle data types to PostgreSQL equivalents.
// Scale of -1 means the source reported NULL scale (Oracle NUMBER default).
func oracleToPostgres(info TypeInfo) (Mapping, error) {
	dataType := strings.ToUpper(strings.TrimSpace(info.DataType))

	// TIMESTAMP(n) [WITH [LOCAL] TIME ZONE] carries its precision in the
	// type name; normalize it before matching.
	if strings.HasPrefix(dataType, "TIMESTAMP") {
		return oracleTimestamp(dataType)
	}
	if strings.HasPrefix(dataType, "INTERVAL YEAR") {
		return Mapping{TargetType: "interval"}, nil
	}
	if strings.HasPrefix(dataType, "INTERVAL DAY") {
		return Mapping{TargetType: "interval"}, nil
	}

	switch dataType {
	case "NUMBER":
		return oracleNumber(info.Precision, info.Scale), nil
	case "FLOAT":
		// Oracle FLOAT(b) is binary precision up to 126; double precision
		// holds 53 bits.
		if info.Precision > 53 {
			return Mapping{TargetType: "double precision", Lossy: true}, nil
		}
		return Mapping{TargetType: "double precision"}, nil
	case "BINARY_FLOAT":
		return Mapping{TargetType: "real"}, nil
	case "BINARY_DOUBLE":
		return Mapping{TargetType: "double precision"}, nil

	case "VARCHAR2", "NVARCHAR2", "VARCHAR":
		if info.Length > 0 {
			return Mapping{TargetType: fmt.Sprintf("varchar(%d)", info.Length)}, nil
		}
		return Mapping{TargetType: "text"}, nil
	case "CHAR", "NCHAR":
		if info.Length > 0 {
			return Mapping{TargetType: fmt.Sprintf("char(%d)", info.Length)}, nil
		}
		return Mapping{TargetType: "char(1)"}, nil

	case "DATE":
		// Oracle DATE carries a time component.
		return Mapping{TargetType: "timestamp"}, nil

	case "CLOB", "NCLOB", "LONG":
		return Mapping{TargetType: "text"}, nil
	case "BLOB", "RAW", "LONG RAW", "BFILE":
		return Mapping{TargetType: "bytea"}, nil

	case "ROWID", "UROWID":
		return Mapping{TargetType: "varchar(40)"}, nil

	case "XMLTYPE":
		return Mapping{TargetType: "xml"}, nil

	case "JSON":
		return Mapping{TargetType: "jsonb"}, nil

	default:
		return Mapping{}, &UnsupportedTypeError{SourceDBType: "oracle", DataType: info.DataType}
	}
}

// oracleNumber maps NUMBER(p,s) signatures. Oracle reports NULL
// precision/scale for a bare NUMBER, surfaced here as 0 and -1.
func oracleNumber(precision, scale int) Mapping {
	if precision <= 0 {
		// Unconstrained NUMBER: pg numeric is arbitrary precision.
		return Mapping{TargetType: "numeric"}
	}
	if scale < -1 {
		// Negative scale rounds to the left of the decimal point:
		// NUMBER(4,-2) holds values up to 999900. Widen the precision so the
		// full magnitude fits.
		return Mapping{TargetType: fmt.Sprintf("numeric(%d,0)", precision-scale)}
	}
	if scale == 0 {
		// Integral NUMBER(p): fit into native integer types when possible.
		switch {
		case precision <= 4:
			return Mapping{TargetType: "smallint"}
		case precision <= 9:
			return Mapping{TargetType: "integer"}
		case precision <= 18:
			return Mapping{TargetType: "bigint"}
		default:
			return Mapping{TargetType: fmt.Sprintf("numeric(%d)", precision)}
		}
	}
	if scale == -1 {
		return Mapping{TargetType: fmt.Sprintf("numeric(%d)", precision)}
	}
	return Mapping{TargetType: fmt.Sprintf("numeric(%d,%d)", precision, scale)}
}

func oracleTimestamp(dataType string) (Mapping, error) {
	precision := 6
	if i := strings.IndexByte(dataType, '('); i >= 0 {
		j := strings.IndexByte(dataType, ')')
		if j > i {
			fmt.Sscanf(dataType[i+1:j], "%d", &precision)
		}
	}

	// PostgreSQL timestamps max out at microseconds.
	lossy := precision > 6
	if lossy {
		precision = 6
	}

	switch {
	case strings.Contains(dataType, "WITH TIME ZONE"),
		strings.Contains(dataType, "WITH LOCAL TIME ZONE"):
		return Mapping{TargetType: fmt.Sprintf("timestamptz(%d)", precision), Lossy: lossy}, nil
	default:
		return Mapping{TargetType: fmt.Sprintf("timestamp(%d)", precision), Lossy: lossy}, nil
	}
}
