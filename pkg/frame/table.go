package frame

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minPartitionSize keeps tiny tables from being split across goroutines
const minPartitionSize = 1024

// Record is a single row keyed by column name. A missing key and a nil value
// both mean the value is absent.
type Record map[string]any

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}

	return out
}

// Table is an immutable collection of records sharing a schema. All
// transformations return a new table.
type Table struct {
	schema      Schema
	rows        []Record
	parallelism int
}

// New creates a table. Records are used as-is and must not be mutated by the
// caller afterwards.
func New(schema Schema, rows []Record) *Table {
	return &Table{
		schema:      schema.Clone(),
		rows:        rows,
		parallelism: runtime.GOMAXPROCS(0),
	}
}

// Conform creates a table after coercing every value to its declared column
// type. Values that cannot be coerced become nil. Records are modified in place.
func Conform(schema Schema, rows []Record) *Table {
	for _, r := range rows {
		for _, col := range schema.Columns {
			v, ok := Coerce(r[col.Name], col.Type)
			if !ok {
				r[col.Name] = nil
				continue
			}

			r[col.Name] = v
		}
	}

	return New(schema, rows)
}

// WithParallelism returns a copy of the table that transforms with at most n
// concurrent partitions
func (t *Table) WithParallelism(n int) *Table {
	if n < 1 {
		n = 1
	}

	out := t.derive(t.schema, t.rows)
	out.parallelism = n

	return out
}

// Schema returns a copy of the table schema
func (t *Table) Schema() Schema {
	return t.schema.Clone()
}

// Rows returns the records of the table
func (t *Table) Rows() []Record {
	return t.rows
}

// Len returns the number of records
func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) derive(schema Schema, rows []Record) *Table {
	return &Table{
		schema:      schema,
		rows:        rows,
		parallelism: t.parallelism,
	}
}

// Map applies fn to a copy of every record, partition by partition. fn must
// be pure: records in different partitions are processed concurrently and in
// no particular order.
func (t *Table) Map(ctx context.Context, schema Schema, fn func(Record) Record) (*Table, error) {
	out := make([]Record, len(t.rows))

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range t.partitions() {
		g.Go(func() error {
			for i := p.start; i < p.end; i++ {
				if i%minPartitionSize == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				out[i] = fn(t.rows[i].Clone())
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return t.derive(schema, out), nil
}

// WithColumn adds or replaces a column whose value is computed per record
func (t *Table) WithColumn(ctx context.Context, col Column, fn func(Record) any) (*Table, error) {
	return t.Map(ctx, t.schema.With(col), func(r Record) Record {
		r[col.Name] = fn(r)
		return r
	})
}

// WithLiteral adds or replaces a column holding the same value on every record
func (t *Table) WithLiteral(ctx context.Context, col Column, value any) (*Table, error) {
	return t.WithColumn(ctx, col, func(Record) any { return value })
}

// WithMetadata returns a table whose named column carries the given metadata,
// merged over any existing entries
func (t *Table) WithMetadata(name string, metadata map[string]string) (*Table, error) {
	col, err := t.schema.Column(name)
	if err != nil {
		return nil, err
	}

	col = col.Clone()
	if col.Metadata == nil {
		col.Metadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		col.Metadata[k] = v
	}

	return t.derive(t.schema.With(col), t.rows), nil
}

// Cast converts the named column to typ. Values that cannot be converted
// become absent and the column is marked nullable.
func (t *Table) Cast(ctx context.Context, name string, typ Type) (*Table, error) {
	col, err := t.schema.Column(name)
	if err != nil {
		return nil, err
	}

	col = col.Clone()
	col.Type = typ
	col.Nullable = true

	return t.WithColumn(ctx, col, func(r Record) any {
		v, ok := Coerce(r[name], typ)
		if !ok {
			return nil
		}

		return v
	})
}

// Remap replaces the values of the named column through mapping, keyed by the
// value's text form. Unmapped values become absent.
func (t *Table) Remap(ctx context.Context, name string, typ Type, mapping map[string]any) (*Table, error) {
	col, err := t.schema.Column(name)
	if err != nil {
		return nil, err
	}

	col = col.Clone()
	col.Type = typ
	col.Nullable = true

	return t.WithColumn(ctx, col, func(r Record) any {
		key, ok := ToString(r[name])
		if !ok {
			return nil
		}

		return mapping[key]
	})
}

// FillNA replaces absent or NaN values of the given columns with the provided
// defaults. Filled columns are no longer nullable. Columns that are not in the
// schema are ignored.
func (t *Table) FillNA(ctx context.Context, defaults map[string]any) (*Table, error) {
	schema := t.schema.Clone()
	for i := range schema.Columns {
		if _, ok := defaults[schema.Columns[i].Name]; ok {
			schema.Columns[i].Nullable = false
		}
	}

	return t.Map(ctx, schema, func(r Record) Record {
		for name, def := range defaults {
			if !schema.Has(name) {
				continue
			}
			if v, ok := r[name]; !ok || IsMissing(v) {
				r[name] = def
			}
		}

		return r
	})
}

// Select returns a table holding only the named columns
func (t *Table) Select(ctx context.Context, names ...string) (*Table, error) {
	schema, err := t.schema.Select(names...)
	if err != nil {
		return nil, err
	}

	return t.Map(ctx, schema, func(r Record) Record {
		out := make(Record, len(names))
		for _, n := range names {
			out[n] = r[n]
		}

		return out
	})
}

// Drop returns a table without the named columns
func (t *Table) Drop(ctx context.Context, names ...string) (*Table, error) {
	return t.Map(ctx, t.schema.Without(names...), func(r Record) Record {
		for _, n := range names {
			delete(r, n)
		}

		return r
	})
}

type partition struct {
	start, end int
}

func (t *Table) partitions() []partition {
	n := len(t.rows)
	if n == 0 {
		return nil
	}

	count := t.parallelism
	if count < 1 {
		count = 1
	}
	if maxCount := (n + minPartitionSize - 1) / minPartitionSize; count > maxCount {
		count = maxCount
	}

	size := (n + count - 1) / count
	parts := make([]partition, 0, count)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		parts = append(parts, partition{start: start, end: end})
	}

	return parts
}
