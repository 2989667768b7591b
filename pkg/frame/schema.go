// Package frame provides a small columnar table abstraction used by the
// feature pipeline: an ordered schema with per-column metadata and a set of
// records that can be transformed partition by partition.
package frame

import (
	"errors"
	"fmt"
)

var (
	// ErrColumnNotFound is returned when a referenced column is not in the schema
	ErrColumnNotFound = errors.New("column not found")
)

// Type is the logical type of a column
type Type string

const (
	// TypeString holds text values
	TypeString Type = "string"
	// TypeFloat64 holds real numbers
	TypeFloat64 Type = "float64"
	// TypeInt64 holds integers
	TypeInt64 Type = "int64"
	// TypeBool holds booleans
	TypeBool Type = "bool"
	// TypeTimestamp holds time.Time values
	TypeTimestamp Type = "timestamp"
)

// MetadataSemanticType is the metadata key describing how downstream
// consumers (model search, schema browsers) should interpret a column.
const MetadataSemanticType = "semanticType"

// Column describes a single column of a table
type Column struct {
	Name     string
	Type     Type
	Nullable bool
	Metadata map[string]string
}

// Clone returns a copy of the column with its own metadata map
func (c Column) Clone() Column {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}

	return out
}

// Schema is an ordered list of columns
type Schema struct {
	Columns []Column
}

// NewSchema creates a schema from the given columns
func NewSchema(columns ...Column) Schema {
	s := Schema{Columns: make([]Column, 0, len(columns))}
	for _, c := range columns {
		s.Columns = append(s.Columns, c.Clone())
	}

	return s
}

// Index returns the position of the named column, or -1
func (s Schema) Index(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}

	return -1
}

// Has reports whether the schema contains the named column
func (s Schema) Has(name string) bool {
	return s.Index(name) >= 0
}

// Column returns the named column
func (s Schema) Column(name string) (Column, error) {
	idx := s.Index(name)
	if idx < 0 {
		return Column{}, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}

	return s.Columns[idx], nil
}

// Names returns the column names in order
func (s Schema) Names() []string {
	names := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		names = append(names, c.Name)
	}

	return names
}

// Clone returns a deep copy of the schema
func (s Schema) Clone() Schema {
	return NewSchema(s.Columns...)
}

// With returns a schema where the column replaces an existing column of the
// same name, or is appended when absent
func (s Schema) With(col Column) Schema {
	out := s.Clone()
	if idx := out.Index(col.Name); idx >= 0 {
		out.Columns[idx] = col.Clone()
		return out
	}

	out.Columns = append(out.Columns, col.Clone())

	return out
}

// Without returns a schema with the named columns removed
func (s Schema) Without(names ...string) Schema {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}

	out := Schema{Columns: make([]Column, 0, len(s.Columns))}
	for _, c := range s.Columns {
		if _, ok := drop[c.Name]; ok {
			continue
		}
		out.Columns = append(out.Columns, c.Clone())
	}

	return out
}

// Select returns a schema containing only the named columns, in the given order
func (s Schema) Select(names ...string) (Schema, error) {
	out := Schema{Columns: make([]Column, 0, len(names))}
	for _, n := range names {
		c, err := s.Column(n)
		if err != nil {
			return Schema{}, err
		}
		out.Columns = append(out.Columns, c.Clone())
	}

	return out, nil
}

// Missing returns the columns of s that are not present in other
func (s Schema) Missing(other Schema) []Column {
	var missing []Column
	for _, c := range s.Columns {
		if !other.Has(c.Name) {
			missing = append(missing, c.Clone())
		}
	}

	return missing
}
