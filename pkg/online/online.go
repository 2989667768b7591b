// Package online serves the latest feature snapshot per entity from Redis
package online

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/chfs/pkg/featurestore"
	"github.com/ethpandaops/chfs/pkg/frame"
	"github.com/ethpandaops/chfs/pkg/observability"
	chfsredis "github.com/ethpandaops/chfs/pkg/redis"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Define static errors
var (
	ErrTableNotFound    = errors.New("online table not found")
	ErrEntityNotFound   = errors.New("entity not found in online table")
	ErrNameRequired     = errors.New("online table name is required")
	ErrPrimaryKeyColumn = errors.New("primary key column missing from table")
)

const (
	keySegment    = "online"
	scanBatchSize = 100
	writeBatch    = 500

	metaSchema     = "schema"
	metaPrimaryKey = "primary_key"
	metaTimeseries = "timeseries_column"
	metaUpdatedAt  = "updated_at"
	metaEntities   = "entities"
)

// Store keeps one Redis hash per entity holding its latest snapshot:
//
//	{prefix}:online:{table}          table metadata
//	{prefix}:online:{table}:{key}    entity snapshot
type Store struct {
	log    logrus.FieldLogger
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

// NewStore creates an online store namespaced under prefix
func NewStore(log logrus.FieldLogger, client *redis.Client, prefix string) *Store {
	return &Store{
		log:    log.WithField("component", "online_store"),
		redis:  client,
		prefix: prefix,
		now:    time.Now,
	}
}

type columnDoc struct {
	Name     string            `json:"name"`
	Type     frame.Type        `json:"type"`
	Nullable bool              `json:"nullable"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Table describes a published online table
type Table struct {
	Name             string       `json:"name"`
	PrimaryKey       string       `json:"primaryKey"`
	TimeseriesColumn string       `json:"timeseriesColumn,omitempty"`
	Schema           frame.Schema `json:"-"`
	Entities         int64        `json:"entities"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

func (s *Store) tableKey(table string) string {
	return chfsredis.PrefixKey(s.prefix, keySegment+":"+table)
}

func (s *Store) entityKey(table, key string) string {
	return s.tableKey(table) + ":" + key
}

// Publish stores the latest snapshot of every entity in t. When timestampColumn
// is set and an entity has several snapshots, the newest one wins. Existing
// entity hashes are replaced field for field.
func (s *Store) Publish(ctx context.Context, table string, t *frame.Table, primaryKey, timestampColumn string) (int, error) {
	if table == "" {
		return 0, ErrNameRequired
	}

	if !t.Schema().Has(primaryKey) {
		return 0, fmt.Errorf("%w: %s", ErrPrimaryKeyColumn, primaryKey)
	}

	latest := latestSnapshots(t.Rows(), primaryKey, timestampColumn)

	schemaJSON, err := encodeSchema(t.Schema())
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}

	for start := 0; start < len(keys); start += writeBatch {
		end := min(start+writeBatch, len(keys))

		_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, k := range keys[start:end] {
				fields, err := encodeRecord(latest[k])
				if err != nil {
					return err
				}

				key := s.entityKey(table, k)
				pipe.Del(ctx, key)
				pipe.HSet(ctx, key, fields)
			}

			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("failed to publish online snapshots to %s: %w", table, err)
		}
	}

	err = s.redis.HSet(ctx, s.tableKey(table), map[string]any{
		metaSchema:     schemaJSON,
		metaPrimaryKey: primaryKey,
		metaTimeseries: timestampColumn,
		metaUpdatedAt:  s.now().UTC().Format(time.RFC3339Nano),
		metaEntities:   len(keys),
	}).Err()
	if err != nil {
		return 0, fmt.Errorf("failed to write online table metadata for %s: %w", table, err)
	}

	s.log.WithFields(logrus.Fields{
		"table":    table,
		"entities": len(keys),
		"rows":     t.Len(),
	}).Info("Published online snapshots")

	return len(keys), nil
}

// Describe returns the metadata of a published online table
func (s *Store) Describe(ctx context.Context, table string) (*Table, error) {
	meta, err := s.redis.HGetAll(ctx, s.tableKey(table)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read online table %s: %w", table, err)
	}

	if len(meta) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	schema, err := decodeSchema(meta[metaSchema])
	if err != nil {
		return nil, fmt.Errorf("invalid schema for online table %s: %w", table, err)
	}

	out := &Table{
		Name:             table,
		PrimaryKey:       meta[metaPrimaryKey],
		TimeseriesColumn: meta[metaTimeseries],
		Schema:           schema,
	}

	if n, ok := frame.ToInt64(meta[metaEntities]); ok {
		out.Entities = n
	}

	if ts, ok := frame.ToTimestamp(meta[metaUpdatedAt]); ok {
		out.UpdatedAt = ts
	}

	return out, nil
}

// Lookup returns the latest snapshot of one entity, typed by the table schema
func (s *Store) Lookup(ctx context.Context, table, key string) (rec frame.Record, err error) {
	defer func() {
		result := "hit"

		switch {
		case errors.Is(err, ErrEntityNotFound), errors.Is(err, ErrTableNotFound):
			result = "miss"
		case err != nil:
			result = "error"
		}

		observability.RecordOnlineLookup(table, result)
	}()

	desc, err := s.Describe(ctx, table)
	if err != nil {
		return nil, err
	}

	fields, err := s.redis.HGetAll(ctx, s.entityKey(table, key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from online table %s: %w", key, table, err)
	}

	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, key)
	}

	return decodeRecord(desc.Schema, fields)
}

// Drop removes the online table and every entity snapshot. Absence is
// reported as NotFound, not as an error.
func (s *Store) Drop(ctx context.Context, table string) (featurestore.DropResult, error) {
	pattern := escapePattern(s.tableKey(table)) + ":*"

	var deleted int64

	iter := s.redis.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	batch := make([]string, 0, scanBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		n, err := s.redis.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}

		deleted += n
		batch = batch[:0]

		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())

		if len(batch) == scanBatchSize {
			if err := flush(); err != nil {
				return featurestore.NotFound, fmt.Errorf("failed to drop online table %s: %w", table, err)
			}
		}
	}

	if err := iter.Err(); err != nil {
		return featurestore.NotFound, fmt.Errorf("failed to scan online table %s: %w", table, err)
	}

	if err := flush(); err != nil {
		return featurestore.NotFound, fmt.Errorf("failed to drop online table %s: %w", table, err)
	}

	n, err := s.redis.Del(ctx, s.tableKey(table)).Result()
	if err != nil {
		return featurestore.NotFound, fmt.Errorf("failed to drop online table %s: %w", table, err)
	}

	deleted += n

	if deleted == 0 {
		s.log.WithField("table", table).Info("Online table does not exist, nothing to drop")

		return featurestore.NotFound, nil
	}

	s.log.WithFields(logrus.Fields{
		"table": table,
		"keys":  deleted,
	}).Info("Dropped online table")

	return featurestore.Dropped, nil
}

func latestSnapshots(rows []frame.Record, primaryKey, timestampColumn string) map[string]frame.Record {
	latest := make(map[string]frame.Record, len(rows))

	for _, r := range rows {
		key, ok := frame.ToString(r[primaryKey])
		if !ok {
			continue
		}

		if prev, seen := latest[key]; seen && timestampColumn != "" {
			prevTS, _ := frame.ToTimestamp(prev[timestampColumn])
			ts, _ := frame.ToTimestamp(r[timestampColumn])

			if ts.Before(prevTS) {
				continue
			}
		}

		latest[key] = r
	}

	return latest
}

func encodeSchema(schema frame.Schema) (string, error) {
	docs := make([]columnDoc, len(schema.Columns))
	for i, c := range schema.Columns {
		docs[i] = columnDoc{Name: c.Name, Type: c.Type, Nullable: c.Nullable, Metadata: c.Metadata}
	}

	b, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("failed to encode online schema: %w", err)
	}

	return string(b), nil
}

func decodeSchema(raw string) (frame.Schema, error) {
	var docs []columnDoc
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		return frame.Schema{}, err
	}

	cols := make([]frame.Column, len(docs))
	for i, d := range docs {
		cols[i] = frame.Column{Name: d.Name, Type: d.Type, Nullable: d.Nullable, Metadata: d.Metadata}
	}

	return frame.NewSchema(cols...), nil
}

// encodeRecord JSON-encodes each value. Missing values are omitted from the
// hash, so they read back as nil.
func encodeRecord(r frame.Record) (map[string]any, error) {
	fields := make(map[string]any, len(r))

	for name, v := range r {
		if v == nil {
			continue
		}

		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode column %s: %w", name, err)
		}

		fields[name] = string(b)
	}

	return fields, nil
}

func decodeRecord(schema frame.Schema, fields map[string]string) (frame.Record, error) {
	rec := make(frame.Record, len(schema.Columns))

	for _, col := range schema.Columns {
		raw, ok := fields[col.Name]
		if !ok {
			rec[col.Name] = nil

			continue
		}

		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()

		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("failed to decode column %s: %w", col.Name, err)
		}

		if coerced, ok := frame.Coerce(v, col.Type); ok {
			rec[col.Name] = coerced
		} else {
			rec[col.Name] = nil
		}
	}

	return rec, nil
}

// escapePattern escapes glob metacharacters for SCAN MATCH
func escapePattern(s string) string {
	return strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`).Replace(s)
}
