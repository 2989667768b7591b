package featurestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/chfs/pkg/clickhouse"
	"github.com/ethpandaops/chfs/pkg/frame"
	"github.com/ethpandaops/chfs/pkg/rendering"
	"github.com/sirupsen/logrus"
)

// VersionColumn orders row versions for ReplacingMergeTree deduplication
const VersionColumn = "_version"

const createTableTemplate = `CREATE TABLE {{ table .Database .Table }}
(
{{- range .Columns }}
    {{ ident .Name }} {{ .Type }}{{ with .Comment }} COMMENT {{ literal . }}{{ end }},
{{- end }}
    {{ ident .VersionColumn }} UInt64
)
ENGINE = ReplacingMergeTree({{ ident .VersionColumn }})
PRIMARY KEY ({{ .Keys | join ", " }})
ORDER BY ({{ .Keys | join ", " }})
{{- with .Comment }}
COMMENT {{ literal . }}
{{- end }}`

const addColumnTemplate = `ALTER TABLE {{ table .Database .Table }}
{{- range $i, $c := .Columns }}{{ if $i }},{{ end }}
    ADD COLUMN IF NOT EXISTS {{ ident $c.Name }} {{ $c.Type }}{{ with $c.Comment }} COMMENT {{ literal . }}{{ end }}
{{- end }}`

// tableComment is stored as JSON in the ClickHouse table comment
type tableComment struct {
	Description      string   `json:"description,omitempty"`
	PrimaryKeys      []string `json:"primaryKeys"`
	TimeseriesColumn string   `json:"timeseriesColumn,omitempty"`
}

type ddlColumn struct {
	Name    string
	Type    string
	Comment string
}

type ddlData struct {
	Database      string
	Table         string
	Columns       []ddlColumn
	Keys          []string
	VersionColumn string
	Comment       string
}

// ClickHouseStore keeps feature tables in ClickHouse ReplacingMergeTree
// tables ordered by the primary keys. Reads use FINAL so each key appears once.
type ClickHouseStore struct {
	log      logrus.FieldLogger
	client   clickhouse.ClientInterface
	engine   *rendering.TemplateEngine
	database string
	now      func() time.Time
}

var _ Client = (*ClickHouseStore)(nil)

// NewClickHouseStore creates a store. Bare table names resolve against database.
func NewClickHouseStore(log logrus.FieldLogger, client clickhouse.ClientInterface, database string) *ClickHouseStore {
	return &ClickHouseStore{
		log:      log.WithField("component", "featurestore-clickhouse"),
		client:   client,
		engine:   rendering.NewTemplateEngine(),
		database: database,
		now:      time.Now,
	}
}

func (s *ClickHouseStore) split(name string) (string, string) {
	return clickhouse.SplitName(name, s.database)
}

// CreateTable creates a table and fails with ErrTableExists when it is present
func (s *ClickHouseStore) CreateTable(ctx context.Context, spec TableSpec) (*TableHandle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	database, table := s.split(spec.Name)

	exists, err := clickhouse.TableExists(ctx, s.client, database, table)
	if err != nil {
		return nil, fmt.Errorf("failed to check table %s.%s: %w", database, table, err)
	}

	if exists {
		return nil, fmt.Errorf("%w: %s.%s", ErrTableExists, database, table)
	}

	if err := clickhouse.EnsureDatabase(ctx, s.client, database); err != nil {
		return nil, fmt.Errorf("failed to create database %s: %w", database, err)
	}

	if err := s.createTable(ctx, database, table, spec); err != nil {
		return nil, err
	}

	s.log.WithField("table", database+"."+table).Info("Created feature table")

	handle := handleFromSpec(spec)
	handle.Name = database + "." + table

	return &handle, nil
}

func (s *ClickHouseStore) createTable(ctx context.Context, database, table string, spec TableSpec) error {
	schema := spec.keyedSchema()

	comment, err := json.Marshal(tableComment{
		Description:      spec.Description,
		PrimaryKeys:      spec.PrimaryKeys,
		TimeseriesColumn: spec.TimeseriesColumn,
	})
	if err != nil {
		return fmt.Errorf("failed to encode table comment: %w", err)
	}

	columns, err := ddlColumns(schema.Columns)
	if err != nil {
		return err
	}

	keys := make([]string, len(spec.PrimaryKeys))
	for i, pk := range spec.PrimaryKeys {
		keys[i] = clickhouse.QuoteIdentifier(pk)
	}

	query, err := s.engine.Render(createTableTemplate, ddlData{
		Database:      database,
		Table:         table,
		Columns:       columns,
		Keys:          keys,
		VersionColumn: VersionColumn,
		Comment:       string(comment),
	})
	if err != nil {
		return err
	}

	if _, err := s.client.Execute(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s.%s: %w", database, table, err)
	}

	return nil
}

// GetTable describes a table from its ClickHouse comments
func (s *ClickHouseStore) GetTable(ctx context.Context, name string) (*TableHandle, error) {
	database, table := s.split(name)

	info, err := clickhouse.GetTable(ctx, s.client, database, table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s.%s: %w", database, table, err)
	}

	if info == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrTableNotFound, database, table)
	}

	columns, err := clickhouse.GetColumns(ctx, s.client, database, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s.%s: %w", database, table, err)
	}

	handle := &TableHandle{Name: database + "." + table}

	var tc tableComment
	if err := json.Unmarshal([]byte(info.Comment), &tc); err == nil {
		handle.Description = tc.Description
		handle.PrimaryKeys = tc.PrimaryKeys
		handle.TimeseriesColumn = tc.TimeseriesColumn
	} else {
		handle.Description = info.Comment
		handle.PrimaryKeys = splitSortingKey(info.SortingKey)
	}

	cols := make([]frame.Column, 0, len(columns))
	for _, c := range columns {
		if c.Name == VersionColumn {
			continue
		}

		typ, nullable := clickhouse.FrameType(c.Type)
		col := frame.Column{Name: c.Name, Type: typ, Nullable: nullable}

		if c.Comment != "" {
			md := make(map[string]string)
			if err := json.Unmarshal([]byte(c.Comment), &md); err == nil {
				col.Metadata = md
			}
		}

		cols = append(cols, col)
	}

	handle.Schema = frame.NewSchema(cols...)

	return handle, nil
}

// WriteTable merges or overwrites rows. New columns are added before writing.
func (s *ClickHouseStore) WriteTable(ctx context.Context, name string, t *frame.Table, mode WriteMode) error {
	if err := mode.Validate(); err != nil {
		return err
	}

	handle, err := s.GetTable(ctx, name)
	if err != nil {
		return err
	}

	if err := checkKeys(t, handle.PrimaryKeys); err != nil {
		return err
	}

	database, table := s.split(handle.Name)

	if added := evolve(handle.Schema, t.Schema()); len(added) > 0 {
		if err := s.addColumns(ctx, database, table, added); err != nil {
			return err
		}

		for _, col := range added {
			handle.Schema = handle.Schema.With(col)
		}
	}

	rows := insertRows(handle.Schema, t.Rows(), uint64(s.now().UnixNano()))

	log := s.log.WithFields(logrus.Fields{
		"table": handle.Name,
		"mode":  string(mode),
		"rows":  len(rows),
	})

	if mode == WriteModeMerge {
		if err := s.client.BulkInsert(ctx, clickhouse.TableName(database, table), rows); err != nil {
			return fmt.Errorf("failed to merge into %s: %w", handle.Name, err)
		}

		log.Info("Merged rows into feature table")

		return nil
	}

	staging := s.stagingName(table)

	if err := s.createTable(ctx, database, staging, TableSpec{
		Name:             staging,
		PrimaryKeys:      handle.PrimaryKeys,
		Schema:           handle.Schema,
		TimeseriesColumn: handle.TimeseriesColumn,
		Description:      handle.Description,
	}); err != nil {
		return fmt.Errorf("failed to create staging table for %s: %w", handle.Name, err)
	}

	if err := s.swapIn(ctx, database, staging, table, rows, true); err != nil {
		return err
	}

	log.Info("Overwrote feature table")

	return nil
}

// ReplaceTable replaces the schema and rows of a table in one exchange
func (s *ClickHouseStore) ReplaceTable(ctx context.Context, spec TableSpec, t *frame.Table) (*TableHandle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	if err := checkKeys(t, spec.PrimaryKeys); err != nil {
		return nil, err
	}

	database, table := s.split(spec.Name)

	if err := clickhouse.EnsureDatabase(ctx, s.client, database); err != nil {
		return nil, fmt.Errorf("failed to create database %s: %w", database, err)
	}

	exists, err := clickhouse.TableExists(ctx, s.client, database, table)
	if err != nil {
		return nil, fmt.Errorf("failed to check table %s.%s: %w", database, table, err)
	}

	staging := s.stagingName(table)
	if err := s.createTable(ctx, database, staging, spec); err != nil {
		return nil, err
	}

	handle := handleFromSpec(spec)
	handle.Name = database + "." + table

	rows := insertRows(handle.Schema, t.Rows(), uint64(s.now().UnixNano()))

	if err := s.swapIn(ctx, database, staging, table, rows, exists); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"table": handle.Name,
		"rows":  len(rows),
	}).Info("Replaced table")

	return &handle, nil
}

// swapIn fills the staging table and moves it into place. With exchange set
// the tables are swapped atomically and the old data dropped, otherwise the
// staging table is renamed.
func (s *ClickHouseStore) swapIn(ctx context.Context, database, staging, table string, rows []map[string]any, exchange bool) error {
	stagingName := clickhouse.TableName(database, staging)
	targetName := clickhouse.TableName(database, table)

	if err := s.client.BulkInsert(ctx, stagingName, rows); err != nil {
		s.dropQuietly(ctx, stagingName)
		return fmt.Errorf("failed to write staging table %s: %w", stagingName, err)
	}

	if !exchange {
		if _, err := s.client.Execute(ctx, fmt.Sprintf("RENAME TABLE %s TO %s", stagingName, targetName)); err != nil {
			s.dropQuietly(ctx, stagingName)
			return fmt.Errorf("failed to rename %s: %w", stagingName, err)
		}

		return nil
	}

	if _, err := s.client.Execute(ctx, fmt.Sprintf("EXCHANGE TABLES %s AND %s", targetName, stagingName)); err != nil {
		s.dropQuietly(ctx, stagingName)
		return fmt.Errorf("failed to exchange %s: %w", targetName, err)
	}

	s.dropQuietly(ctx, stagingName)

	return nil
}

func (s *ClickHouseStore) dropQuietly(ctx context.Context, name string) {
	if _, err := s.client.Execute(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		s.log.WithError(err).WithField("table", name).Warn("Failed to drop staging table")
	}
}

func (s *ClickHouseStore) stagingName(table string) string {
	return table + "__staging_" + strconv.FormatInt(s.now().UnixNano(), 10)
}

func (s *ClickHouseStore) addColumns(ctx context.Context, database, table string, cols []frame.Column) error {
	columns, err := ddlColumns(cols)
	if err != nil {
		return err
	}

	query, err := s.engine.Render(addColumnTemplate, ddlData{
		Database: database,
		Table:    table,
		Columns:  columns,
	})
	if err != nil {
		return err
	}

	if _, err := s.client.Execute(ctx, query); err != nil {
		return fmt.Errorf("failed to add columns to %s.%s: %w", database, table, err)
	}

	s.log.WithFields(logrus.Fields{
		"table": database + "." + table,
		"added": len(cols),
	}).Info("Evolved table schema")

	return nil
}

// ReadTable returns the deduplicated rows of a table ordered by primary key
func (s *ClickHouseStore) ReadTable(ctx context.Context, name string) (*frame.Table, error) {
	handle, err := s.GetTable(ctx, name)
	if err != nil {
		return nil, err
	}

	database, table := s.split(handle.Name)

	keys := make([]string, len(handle.PrimaryKeys))
	for i, pk := range handle.PrimaryKeys {
		keys[i] = clickhouse.QuoteIdentifier(pk)
	}

	query := fmt.Sprintf("SELECT * EXCEPT (%s) FROM %s FINAL ORDER BY %s",
		clickhouse.QuoteIdentifier(VersionColumn), clickhouse.TableName(database, table), strings.Join(keys, ", "))

	result, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", handle.Name, err)
	}

	rows := make([]frame.Record, len(result.Rows))
	for i, r := range result.Rows {
		rows[i] = frame.Record(r)
	}

	return frame.Conform(handle.Schema, rows), nil
}

// CountRows counts deduplicated rows
func (s *ClickHouseStore) CountRows(ctx context.Context, name string) (uint64, error) {
	database, table := s.split(name)

	var result struct {
		Count uint64 `json:"count,string"`
	}

	query := fmt.Sprintf("SELECT count() AS count FROM %s FINAL", clickhouse.TableName(database, table))
	if err := s.client.QueryOne(ctx, query, &result); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s.%s: %w", database, table, err)
	}

	return result.Count, nil
}

// DropTable drops a table when it exists
func (s *ClickHouseStore) DropTable(ctx context.Context, name string) (DropResult, error) {
	database, table := s.split(name)
	log := s.log.WithField("table", database+"."+table)

	exists, err := clickhouse.TableExists(ctx, s.client, database, table)
	if err != nil {
		return NotFound, fmt.Errorf("failed to check table %s.%s: %w", database, table, err)
	}

	if !exists {
		log.Info("Feature table does not exist, nothing to drop")
		return NotFound, nil
	}

	if _, err := s.client.Execute(ctx, "DROP TABLE IF EXISTS "+clickhouse.TableName(database, table)+" SYNC"); err != nil {
		return NotFound, fmt.Errorf("failed to drop %s.%s: %w", database, table, err)
	}

	log.Info("Dropped feature table")

	return Dropped, nil
}

func ddlColumns(cols []frame.Column) ([]ddlColumn, error) {
	out := make([]ddlColumn, 0, len(cols))

	for _, c := range cols {
		dc := ddlColumn{Name: c.Name, Type: clickhouse.ColumnType(c)}

		if len(c.Metadata) > 0 {
			md, err := json.Marshal(c.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to encode metadata of %s: %w", c.Name, err)
			}

			dc.Comment = string(md)
		}

		out = append(out, dc)
	}

	return out, nil
}

// insertRows projects records onto the table columns in JSONEachRow form
func insertRows(schema frame.Schema, records []frame.Record, version uint64) []map[string]any {
	rows := make([]map[string]any, len(records))

	for i, r := range records {
		row := make(map[string]any, len(schema.Columns)+1)

		for _, col := range schema.Columns {
			v, ok := r[col.Name]
			if !ok {
				continue
			}

			if ts, isTime := v.(time.Time); isTime {
				v = ts.UTC().Format(clickhouse.TimestampLayout)
			}

			row[col.Name] = v
		}

		row[VersionColumn] = version
		rows[i] = row
	}

	return rows
}

func splitSortingKey(key string) []string {
	if key == "" {
		return nil
	}

	parts := strings.Split(key, ",")
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), "`")
	}

	return parts
}
