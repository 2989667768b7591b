package featurestore

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethpandaops/chfs/pkg/frame"
	"github.com/sirupsen/logrus"
)

// memoryTable holds one table's rows in insertion order with a key index
type memoryTable struct {
	handle TableHandle
	rows   []frame.Record
	index  map[string]int
}

func newMemoryTable(handle TableHandle) *memoryTable {
	return &memoryTable{
		handle: handle,
		index:  make(map[string]int),
	}
}

func (m *memoryTable) upsert(r frame.Record) {
	row := make(frame.Record, len(m.handle.Schema.Columns))
	for _, col := range m.handle.Schema.Columns {
		row[col.Name] = r[col.Name]
	}

	key := keyOf(row, m.handle.PrimaryKeys)
	if idx, ok := m.index[key]; ok {
		m.rows[idx] = row
		return
	}

	m.index[key] = len(m.rows)
	m.rows = append(m.rows, row)
}

// MemoryStore is an in-memory Client used by tests and dry runs
type MemoryStore struct {
	log    logrus.FieldLogger
	mu     sync.RWMutex
	tables map[string]*memoryTable
}

var _ Client = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(log logrus.FieldLogger) *MemoryStore {
	return &MemoryStore{
		log:    log.WithField("component", "featurestore-memory"),
		tables: make(map[string]*memoryTable),
	}
}

// CreateTable creates a table and fails with ErrTableExists when it is present
func (s *MemoryStore) CreateTable(ctx context.Context, spec TableSpec) (*TableHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[spec.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, spec.Name)
	}

	handle := handleFromSpec(spec)
	s.tables[spec.Name] = newMemoryTable(handle)

	s.log.WithField("table", spec.Name).Info("Created feature table")

	return cloneHandle(handle), nil
}

// GetTable describes a table
func (s *MemoryStore) GetTable(ctx context.Context, name string) (*TableHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tbl, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	return cloneHandle(tbl.handle), nil
}

// WriteTable merges or overwrites rows
func (s *MemoryStore) WriteTable(ctx context.Context, name string, t *frame.Table, mode WriteMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := mode.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tbl, ok := s.tables[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	if err := checkKeys(t, tbl.handle.PrimaryKeys); err != nil {
		return err
	}

	added := evolve(tbl.handle.Schema, t.Schema())
	for _, col := range added {
		tbl.handle.Schema = tbl.handle.Schema.With(col)
	}

	if len(added) > 0 {
		s.log.WithFields(logrus.Fields{"table": name, "added": len(added)}).Info("Evolved table schema")
	}

	if mode == WriteModeOverwrite {
		tbl.rows = nil
		tbl.index = make(map[string]int)
	}

	for _, r := range t.Rows() {
		tbl.upsert(r)
	}

	return nil
}

// ReplaceTable replaces the schema and rows of a table
func (s *MemoryStore) ReplaceTable(ctx context.Context, spec TableSpec, t *frame.Table) (*TableHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	if err := checkKeys(t, spec.PrimaryKeys); err != nil {
		return nil, err
	}

	tbl := newMemoryTable(handleFromSpec(spec))
	for _, r := range t.Rows() {
		tbl.upsert(r)
	}

	s.mu.Lock()
	s.tables[spec.Name] = tbl
	s.mu.Unlock()

	return cloneHandle(tbl.handle), nil
}

// ReadTable returns a snapshot of the table rows
func (s *MemoryStore) ReadTable(ctx context.Context, name string) (*frame.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tbl, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	rows := make([]frame.Record, len(tbl.rows))
	for i, r := range tbl.rows {
		rows[i] = r.Clone()
	}

	return frame.New(tbl.handle.Schema, rows), nil
}

// CountRows returns the number of rows
func (s *MemoryStore) CountRows(ctx context.Context, name string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tbl, ok := s.tables[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	return uint64(len(tbl.rows)), nil
}

// DropTable removes a table
func (s *MemoryStore) DropTable(ctx context.Context, name string) (DropResult, error) {
	if err := ctx.Err(); err != nil {
		return NotFound, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[name]; !ok {
		s.log.WithField("table", name).Info("Feature table does not exist, nothing to drop")
		return NotFound, nil
	}

	delete(s.tables, name)

	s.log.WithField("table", name).Info("Dropped feature table")

	return Dropped, nil
}

func handleFromSpec(spec TableSpec) TableHandle {
	return TableHandle{
		Name:             spec.Name,
		PrimaryKeys:      append([]string(nil), spec.PrimaryKeys...),
		TimeseriesColumn: spec.TimeseriesColumn,
		Description:      spec.Description,
		Schema:           spec.keyedSchema(),
	}
}

func cloneHandle(h TableHandle) *TableHandle {
	out := h
	out.PrimaryKeys = append([]string(nil), h.PrimaryKeys...)
	out.Schema = h.Schema.Clone()

	return &out
}
