// Package featurestore publishes feature and label tables keyed by primary
// key and timestamp. Tables can be merged into (upsert on the key) or
// overwritten, and gain columns automatically when a write carries new ones.
package featurestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/chfs/pkg/frame"
)

// Static errors
var (
	ErrTableExists         = errors.New("table already exists")
	ErrTableNotFound       = errors.New("table not found")
	ErrInvalidWriteMode    = errors.New("invalid write mode")
	ErrNameRequired        = errors.New("table name is required")
	ErrNoPrimaryKeys       = errors.New("at least one primary key is required")
	ErrPrimaryKeyMissing   = errors.New("primary key column missing from data")
	ErrNullPrimaryKey      = errors.New("primary key value is null")
	ErrTimeseriesNotKey    = errors.New("timeseries column must be one of the primary keys")
	ErrTimeseriesNotTime   = errors.New("timeseries column must be a timestamp")
	ErrDuplicatePrimaryKey = errors.New("duplicate primary key column")
)

// WriteMode selects how WriteTable combines new rows with existing ones
type WriteMode string

const (
	// WriteModeMerge upserts rows on the primary keys
	WriteModeMerge WriteMode = "merge"
	// WriteModeOverwrite atomically replaces all rows
	WriteModeOverwrite WriteMode = "overwrite"
)

// Validate checks the write mode
func (m WriteMode) Validate() error {
	switch m {
	case WriteModeMerge, WriteModeOverwrite:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidWriteMode, string(m))
	}
}

// DropResult reports the outcome of DropTable
type DropResult int

const (
	// NotFound means there was no table to drop
	NotFound DropResult = iota
	// Dropped means the table existed and was removed
	Dropped
)

func (r DropResult) String() string {
	if r == Dropped {
		return "dropped"
	}

	return "not_found"
}

// TableSpec describes a table to create
type TableSpec struct {
	Name             string
	PrimaryKeys      []string
	Schema           frame.Schema
	TimeseriesColumn string
	Description      string
}

// Validate checks that the keys exist in the schema and that the timeseries
// column, when set, is a timestamp primary key
func (s *TableSpec) Validate() error {
	if s.Name == "" {
		return ErrNameRequired
	}

	if len(s.PrimaryKeys) == 0 {
		return ErrNoPrimaryKeys
	}

	seen := make(map[string]struct{}, len(s.PrimaryKeys))
	for _, pk := range s.PrimaryKeys {
		if _, ok := seen[pk]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicatePrimaryKey, pk)
		}
		seen[pk] = struct{}{}

		if !s.Schema.Has(pk) {
			return fmt.Errorf("%w: %s", frame.ErrColumnNotFound, pk)
		}
	}

	if s.TimeseriesColumn == "" {
		return nil
	}

	if _, ok := seen[s.TimeseriesColumn]; !ok {
		return fmt.Errorf("%w: %s", ErrTimeseriesNotKey, s.TimeseriesColumn)
	}

	col, err := s.Schema.Column(s.TimeseriesColumn)
	if err != nil {
		return err
	}

	if col.Type != frame.TypeTimestamp {
		return fmt.Errorf("%w: %s is %s", ErrTimeseriesNotTime, col.Name, col.Type)
	}

	return nil
}

// keyedSchema returns the schema with primary key columns marked non-nullable
func (s *TableSpec) keyedSchema() frame.Schema {
	out := s.Schema.Clone()
	for _, pk := range s.PrimaryKeys {
		if idx := out.Index(pk); idx >= 0 {
			out.Columns[idx].Nullable = false
		}
	}

	return out
}

// TableHandle describes an existing table
type TableHandle struct {
	Name             string
	PrimaryKeys      []string
	TimeseriesColumn string
	Description      string
	Schema           frame.Schema
}

// Client is a feature store backend
type Client interface {
	// CreateTable creates a table and fails with ErrTableExists when it is present
	CreateTable(ctx context.Context, spec TableSpec) (*TableHandle, error)
	// GetTable describes a table or fails with ErrTableNotFound
	GetTable(ctx context.Context, name string) (*TableHandle, error)
	// WriteTable writes rows in the given mode, adding columns the table lacks
	WriteTable(ctx context.Context, name string, t *frame.Table, mode WriteMode) error
	// ReplaceTable replaces both the schema and the rows of a table, creating
	// it when absent
	ReplaceTable(ctx context.Context, spec TableSpec, t *frame.Table) (*TableHandle, error)
	// ReadTable returns the current rows of a table, one per primary key
	ReadTable(ctx context.Context, name string) (*frame.Table, error)
	// CountRows returns the number of distinct primary keys
	CountRows(ctx context.Context, name string) (uint64, error)
	// DropTable removes a table. Absence is reported as NotFound, not an error.
	DropTable(ctx context.Context, name string) (DropResult, error)
}

// checkKeys verifies every row carries a value for every primary key
func checkKeys(t *frame.Table, keys []string) error {
	schema := t.Schema()
	for _, pk := range keys {
		if !schema.Has(pk) {
			return fmt.Errorf("%w: %s", ErrPrimaryKeyMissing, pk)
		}
	}

	for i, r := range t.Rows() {
		for _, pk := range keys {
			if r[pk] == nil {
				return fmt.Errorf("%w: %s at row %d", ErrNullPrimaryKey, pk, i)
			}
		}
	}

	return nil
}

// keyOf builds a comparable identity for a row from its primary key values
func keyOf(r frame.Record, keys []string) string {
	parts := make([]string, len(keys))

	for i, pk := range keys {
		switch v := r[pk].(type) {
		case time.Time:
			parts[i] = v.UTC().Format(time.RFC3339Nano)
		default:
			parts[i], _ = frame.ToString(v)
		}
	}

	return strings.Join(parts, "\x1f")
}

// evolve returns the columns of incoming that target lacks, made nullable
// because existing rows hold no value for them
func evolve(target, incoming frame.Schema) []frame.Column {
	added := incoming.Missing(target)
	for i := range added {
		added[i].Nullable = true
	}

	return added
}
