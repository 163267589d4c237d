package typemap

import (
	"fmt"
	"strings"
)

// mssqlToPostgres maps SQL Server data types to PostgreSQL equivalents.
func mssqlToPostgres(info TypeInfo) (Mapping, error) {
	switch strings.ToLower(strings.TrimSpace(info.DataType)) {
	case "bit":
		return Mapping{TargetType: "boolean"}, nil
	case "tinyint":
		// tinyint is unsigned 0..255; smallint holds the full range.
		return Mapping{TargetType: "smallint"}, nil
	case "smallint":
		return Mapping{TargetType: "smallint"}, nil
	case "int":
		return Mapping{TargetType: "integer"}, nil
	case "bigint":
		return Mapping{TargetType: "bigint"}, nil

	case "decimal", "numeric":
		if info.Precision > 0 {
			return Mapping{TargetType: fmt.Sprintf("numeric(%d,%d)", info.Precision, info.Scale)}, nil
		}
		return Mapping{TargetType: "numeric"}, nil
	case "money":
		return Mapping{TargetType: "numeric(19,4)"}, nil
	case "smallmoney":
		return Mapping{TargetType: "numeric(10,4)"}, nil

	case "float":
		return Mapping{TargetType: "double precision"}, nil
	case "real":
		return Mapping{TargetType: "real"}, nil

	case "char", "nchar":
		if info.Length > 0 {
			return Mapping{TargetType: fmt.Sprintf("char(%d)", info.Length)}, nil
		}
		return Mapping{TargetType: "text"}, nil
	case "varchar", "nvarchar":
		if info.Length == -1 { // varchar(max)
			return Mapping{TargetType: "text"}, nil
		}
		if info.Length > 0 {
			return Mapping{TargetType: fmt.Sprintf("varchar(%d)", info.Length)}, nil
		}
		return Mapping{TargetType: "text"}, nil
	case "text", "ntext":
		return Mapping{TargetType: "text"}, nil

	case "binary", "varbinary", "image":
		return Mapping{TargetType: "bytea"}, nil

	case "date":
		return Mapping{TargetType: "date"}, nil
	case "time":
		return Mapping{TargetType: "time"}, nil
	case "datetime", "datetime2", "smalldatetime":
		return Mapping{TargetType: "timestamp"}, nil
	case "datetimeoffset":
		return Mapping{TargetType: "timestamptz"}, nil

	case "uniqueidentifier":
		return Mapping{TargetType: "uuid"}, nil
	case "xml":
		return Mapping{TargetType: "xml"}, nil

	// sql_variant can hold any scalar; text keeps the value but loses the
	// per-row type.
	case "sql_variant":
		return Mapping{TargetType: "text", Lossy: true}, nil
	case "hierarchyid":
		return Mapping{TargetType: "text", Lossy: true}, nil

	default:
		return Mapping{}, &UnsupportedTypeError{SourceDBType: "mssql", DataType: info.DataType}
	}
}
