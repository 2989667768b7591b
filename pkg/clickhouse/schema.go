package clickhouse

import (
	"context"
	"fmt"
)

// TableInfo holds the system.tables entry of a table
type TableInfo struct {
	Database   string `json:"database"`
	Name       string `json:"name"`
	Engine     string `json:"engine"`
	SortingKey string `json:"sorting_key"` //nolint:tagliatelle // ClickHouse API uses snake_case
	Comment    string `json:"comment"`
}

// ColumnInfo holds the system.columns entry of a column
type ColumnInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Comment string `json:"comment"`
}

// TableExists checks if a table exists in the given database
func TableExists(ctx context.Context, client ClientInterface, database, table string) (bool, error) {
	query := fmt.Sprintf(`
		SELECT count() as count
		FROM system.tables
		WHERE database = %s AND name = %s
	`, QuoteString(database), QuoteString(table))

	var result struct {
		Count uint64 `json:"count,string"`
	}

	err := client.QueryOne(ctx, query, &result)
	if err != nil {
		return false, err
	}

	return result.Count > 0, nil
}

// GetTable returns the system.tables entry of a table, or nil when it does
// not exist
func GetTable(ctx context.Context, client ClientInterface, database, table string) (*TableInfo, error) {
	query := fmt.Sprintf(`
		SELECT database, name, engine, sorting_key, comment
		FROM system.tables
		WHERE database = %s AND name = %s
	`, QuoteString(database), QuoteString(table))

	var results []TableInfo
	if err := client.QueryMany(ctx, query, &results); err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, nil
	}

	return &results[0], nil
}

// GetColumns returns the columns of a table in declaration order
func GetColumns(ctx context.Context, client ClientInterface, database, table string) ([]ColumnInfo, error) {
	query := fmt.Sprintf(`
		SELECT name, type, comment
		FROM system.columns
		WHERE database = %s AND table = %s
		ORDER BY position
	`, QuoteString(database), QuoteString(table))

	var columns []ColumnInfo
	if err := client.QueryMany(ctx, query, &columns); err != nil {
		return nil, err
	}

	return columns, nil
}

// EnsureDatabase creates a database if it does not exist
func EnsureDatabase(ctx context.Context, client ClientInterface, database string) error {
	_, err := client.Execute(ctx, "CREATE DATABASE IF NOT EXISTS "+QuoteIdentifier(database))
	return err
}
