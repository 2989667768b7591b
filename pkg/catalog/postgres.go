package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethpandaops/chfs/pkg/frame"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// pqUndefinedTable is the SQLSTATE for a missing relation
const pqUndefinedTable = "42P01"

// OpenPostgres opens a lib/pq connection pool. Connections are established lazily.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	return db, nil
}

// PostgresReader reads tables from PostgreSQL
type PostgresReader struct {
	log   logrus.FieldLogger
	db    *sql.DB
	limit int
}

// NewPostgresReader creates a reader on an open connection pool
func NewPostgresReader(log logrus.FieldLogger, db *sql.DB, limit int) *PostgresReader {
	return &PostgresReader{
		log:   log.WithField("component", "catalog-postgres"),
		db:    db,
		limit: limit,
	}
}

// ReadTable loads every row of the named table. Names may be schema-qualified.
func (r *PostgresReader) ReadTable(ctx context.Context, name string) (*frame.Table, error) {
	query := "SELECT * FROM " + quoteQualified(name)
	if r.limit > 0 {
		query += " LIMIT " + strconv.Itoa(r.limit)
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUndefinedTable {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
		}

		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}

	columns := make([]frame.Column, len(colTypes))
	for i, ct := range colTypes {
		nullable, ok := ct.Nullable()
		columns[i] = frame.Column{
			Name:     ct.Name(),
			Type:     postgresFrameType(ct.DatabaseTypeName()),
			Nullable: nullable || !ok,
		}
	}

	var raw []frame.Record

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))

	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		raw = append(raw, scanRecord(columns, values))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	t := frame.Conform(frame.NewSchema(columns...), raw)

	r.log.WithFields(logrus.Fields{
		"table":   name,
		"rows":    t.Len(),
		"columns": len(columns),
	}).Info("Read source table")

	return t, nil
}

// scanRecord copies scanned values into a record. lib/pq returns text and
// numeric columns as []byte, which are converted to strings.
func scanRecord(columns []frame.Column, values []any) frame.Record {
	rec := make(frame.Record, len(columns))

	for i, col := range columns {
		if b, ok := values[i].([]byte); ok {
			rec[col.Name] = string(b)
			continue
		}

		rec[col.Name] = values[i]
	}

	return rec
}

// postgresFrameType maps a driver type name to a frame type
func postgresFrameType(dbType string) frame.Type {
	switch strings.ToUpper(dbType) {
	case "INT2", "INT4", "INT8":
		return frame.TypeInt64
	case "FLOAT4", "FLOAT8", "NUMERIC":
		return frame.TypeFloat64
	case "BOOL":
		return frame.TypeBool
	case "DATE", "TIMESTAMP", "TIMESTAMPTZ":
		return frame.TypeTimestamp
	default:
		return frame.TypeString
	}
}

func quoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}

	return strings.Join(parts, ".")
}
