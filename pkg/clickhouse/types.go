package clickhouse

import (
	"strings"

	"github.com/ethpandaops/chfs/pkg/frame"
)

// TimestampType is the column type used for frame timestamps
const TimestampType = "DateTime64(3, 'UTC')"

// TimestampLayout formats timestamps for JSONEachRow inserts
const TimestampLayout = "2006-01-02 15:04:05.000"

// ColumnType returns the ClickHouse type for a frame column
func ColumnType(col frame.Column) string {
	var base string

	switch col.Type {
	case frame.TypeFloat64:
		base = "Float64"
	case frame.TypeInt64:
		base = "Int64"
	case frame.TypeBool:
		base = "Bool"
	case frame.TypeTimestamp:
		base = TimestampType
	default:
		base = "String"
	}

	if col.Nullable {
		return "Nullable(" + base + ")"
	}

	return base
}

// FrameType maps a ClickHouse type to a frame type and reports whether the
// column is nullable
func FrameType(chType string) (frame.Type, bool) {
	t := strings.TrimSpace(chType)
	nullable := false

	for {
		switch {
		case strings.HasPrefix(t, "Nullable("):
			nullable = true
			t = strings.TrimSuffix(strings.TrimPrefix(t, "Nullable("), ")")
			continue
		case strings.HasPrefix(t, "LowCardinality("):
			t = strings.TrimSuffix(strings.TrimPrefix(t, "LowCardinality("), ")")
			continue
		}

		break
	}

	switch {
	case t == "Bool":
		return frame.TypeBool, nullable
	case strings.HasPrefix(t, "Float"), strings.HasPrefix(t, "Decimal"):
		return frame.TypeFloat64, nullable
	case strings.HasPrefix(t, "Int"), strings.HasPrefix(t, "UInt"):
		return frame.TypeInt64, nullable
	case strings.HasPrefix(t, "DateTime"), strings.HasPrefix(t, "Date"):
		return frame.TypeTimestamp, nullable
	default:
		return frame.TypeString, nullable
	}
}

// QuoteIdentifier quotes a table or column name
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteString quotes a string literal
func QuoteString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// TableName joins and quotes a database and table name
func TableName(database, table string) string {
	return QuoteIdentifier(database) + "." + QuoteIdentifier(table)
}

// SplitName splits "database.table" into its parts. A bare table name uses
// the given default database.
func SplitName(name, defaultDatabase string) (string, string) {
	if idx := strings.Index(name, "."); idx >= 0 {
		return name[:idx], name[idx+1:]
	}

	return defaultDatabase, name
}
