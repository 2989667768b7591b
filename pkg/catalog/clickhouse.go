package catalog

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethpandaops/chfs/pkg/clickhouse"
	"github.com/ethpandaops/chfs/pkg/frame"
	"github.com/sirupsen/logrus"
)

// ClickHouseReader reads tables through the ClickHouse HTTP interface
type ClickHouseReader struct {
	log      logrus.FieldLogger
	client   clickhouse.ClientInterface
	database string
	limit    int
}

// NewClickHouseReader creates a reader. Bare table names resolve against database.
func NewClickHouseReader(log logrus.FieldLogger, client clickhouse.ClientInterface, database string, limit int) *ClickHouseReader {
	return &ClickHouseReader{
		log:      log.WithField("component", "catalog-clickhouse"),
		client:   client,
		database: database,
		limit:    limit,
	}
}

// ReadTable loads every row of the named table
func (r *ClickHouseReader) ReadTable(ctx context.Context, name string) (*frame.Table, error) {
	database, table := clickhouse.SplitName(name, r.database)

	exists, err := clickhouse.TableExists(ctx, r.client, database, table)
	if err != nil {
		return nil, fmt.Errorf("failed to check table %s.%s: %w", database, table, err)
	}

	if !exists {
		return nil, fmt.Errorf("%w: %s.%s", ErrTableNotFound, database, table)
	}

	query := "SELECT * FROM " + clickhouse.TableName(database, table)
	if r.limit > 0 {
		query += " LIMIT " + strconv.Itoa(r.limit)
	}

	result, err := r.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s.%s: %w", database, table, err)
	}

	columns := make([]frame.Column, 0, len(result.Meta))
	for _, m := range result.Meta {
		typ, nullable := clickhouse.FrameType(m.Type)
		columns = append(columns, frame.Column{Name: m.Name, Type: typ, Nullable: nullable})
	}

	raw := make([]frame.Record, len(result.Rows))
	for i, row := range result.Rows {
		raw[i] = frame.Record(row)
	}

	t := frame.Conform(frame.NewSchema(columns...), raw)

	r.log.WithFields(logrus.Fields{
		"table":   database + "." + table,
		"rows":    t.Len(),
		"columns": len(columns),
	}).Info("Read source table")

	return t, nil
}
