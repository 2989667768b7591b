package featurestore

import (
	"context"
	"testing"
	"time"

	"github.com/ethpandaops/chfs/pkg/frame"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var snapshotTS = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func featureSchema() frame.Schema {
	return frame.NewSchema(
		frame.Column{Name: "customer_id", Type: frame.TypeString, Nullable: true,
			Metadata: map[string]string{frame.MetadataSemanticType: "native"}},
		frame.Column{Name: "transaction_ts", Type: frame.TypeTimestamp},
		frame.Column{Name: "num_optional_services", Type: frame.TypeFloat64,
			Metadata: map[string]string{frame.MetadataSemanticType: "numeric"}},
	)
}

func featureSpec(name string) TableSpec {
	return TableSpec{
		Name:             name,
		PrimaryKeys:      []string{"customer_id", "transaction_ts"},
		Schema:           featureSchema(),
		TimeseriesColumn: "transaction_ts",
		Description:      "churn features",
	}
}

func featureRows(services ...float64) *frame.Table {
	rows := make([]frame.Record, len(services))
	for i, n := range services {
		rows[i] = frame.Record{
			"customer_id":           string(rune('a' + i)),
			"transaction_ts":        snapshotTS,
			"num_optional_services": n,
		}
	}

	return frame.New(featureSchema(), rows)
}

func newMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()

	store := NewMemoryStore(logrus.New())
	_, err := store.CreateTable(context.Background(), featureSpec("features"))
	require.NoError(t, err)

	return store
}

func TestTableSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TableSpec)
		wantErr error
	}{
		{name: "valid", mutate: func(*TableSpec) {}},
		{name: "no timeseries", mutate: func(s *TableSpec) { s.TimeseriesColumn = "" }},
		{name: "missing name", mutate: func(s *TableSpec) { s.Name = "" }, wantErr: ErrNameRequired},
		{name: "no keys", mutate: func(s *TableSpec) { s.PrimaryKeys = nil }, wantErr: ErrNoPrimaryKeys},
		{name: "unknown key", mutate: func(s *TableSpec) { s.PrimaryKeys = []string{"id"} }, wantErr: frame.ErrColumnNotFound},
		{name: "duplicate key", mutate: func(s *TableSpec) { s.PrimaryKeys = []string{"customer_id", "customer_id"} }, wantErr: ErrDuplicatePrimaryKey},
		{name: "timeseries not a key", mutate: func(s *TableSpec) { s.PrimaryKeys = []string{"customer_id"} }, wantErr: ErrTimeseriesNotKey},
		{
			name: "timeseries not a timestamp",
			mutate: func(s *TableSpec) {
				s.PrimaryKeys = []string{"customer_id", "num_optional_services"}
				s.TimeseriesColumn = "num_optional_services"
			},
			wantErr: ErrTimeseriesNotTime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := featureSpec("features")
			tt.mutate(&spec)

			err := spec.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMemoryStore_CreateTable(t *testing.T) {
	store := newMemoryStore(t)

	handle, err := store.GetTable(context.Background(), "features")
	require.NoError(t, err)
	assert.Equal(t, []string{"customer_id", "transaction_ts"}, handle.PrimaryKeys)
	assert.Equal(t, "transaction_ts", handle.TimeseriesColumn)
	assert.Equal(t, "churn features", handle.Description)

	pk, err := handle.Schema.Column("customer_id")
	require.NoError(t, err)
	assert.False(t, pk.Nullable)
	assert.Equal(t, "native", pk.Metadata[frame.MetadataSemanticType])

	_, err = store.CreateTable(context.Background(), featureSpec("features"))
	assert.ErrorIs(t, err, ErrTableExists)

	_, err = store.GetTable(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestMemoryStore_MergeTwiceKeepsRowCount(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteTable(ctx, "features", featureRows(1, 2, 3), WriteModeMerge))

	count, err := store.CountRows(ctx, "features")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	require.NoError(t, store.WriteTable(ctx, "features", featureRows(1, 2, 3), WriteModeMerge))

	count, err = store.CountRows(ctx, "features")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}

func TestMemoryStore_MergeUpserts(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteTable(ctx, "features", featureRows(1, 2), WriteModeMerge))
	require.NoError(t, store.WriteTable(ctx, "features", featureRows(5), WriteModeMerge))

	out, err := store.ReadTable(ctx, "features")
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, 5.0, out.Rows()[0]["num_optional_services"])
	assert.Equal(t, 2.0, out.Rows()[1]["num_optional_services"])

	// A later snapshot of the same customer is a new key.
	later := featureRows(6).Rows()
	later[0]["transaction_ts"] = snapshotTS.Add(time.Hour)
	require.NoError(t, store.WriteTable(ctx, "features", frame.New(featureSchema(), later), WriteModeMerge))

	count, err := store.CountRows(ctx, "features")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}

func TestMemoryStore_Overwrite(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteTable(ctx, "features", featureRows(1, 2, 3), WriteModeMerge))
	require.NoError(t, store.WriteTable(ctx, "features", featureRows(4), WriteModeOverwrite))

	out, err := store.ReadTable(ctx, "features")
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, 4.0, out.Rows()[0]["num_optional_services"])
}

func TestMemoryStore_SchemaEvolution(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteTable(ctx, "features", featureRows(1), WriteModeMerge))

	wider, err := featureRows(2).WithLiteral(ctx, frame.Column{Name: "tenure", Type: frame.TypeFloat64}, 12.0)
	require.NoError(t, err)
	require.NoError(t, store.WriteTable(ctx, "features", wider, WriteModeMerge))

	handle, err := store.GetTable(ctx, "features")
	require.NoError(t, err)

	tenure, err := handle.Schema.Column("tenure")
	require.NoError(t, err)
	assert.True(t, tenure.Nullable)

	out, err := store.ReadTable(ctx, "features")
	require.NoError(t, err)
	assert.Equal(t, 12.0, out.Rows()[0]["tenure"])
}

func TestMemoryStore_WriteErrors(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.WriteTable(ctx, "missing", featureRows(1), WriteModeMerge), ErrTableNotFound)
	assert.ErrorIs(t, store.WriteTable(ctx, "features", featureRows(1), WriteMode("append")), ErrInvalidWriteMode)

	noKey, err := featureRows(1).Drop(ctx, "transaction_ts")
	require.NoError(t, err)
	assert.ErrorIs(t, store.WriteTable(ctx, "features", noKey, WriteModeMerge), ErrPrimaryKeyMissing)

	nullKey := featureRows(1).Rows()
	nullKey[0]["customer_id"] = nil
	assert.ErrorIs(t, store.WriteTable(ctx, "features", frame.New(featureSchema(), nullKey), WriteModeMerge), ErrNullPrimaryKey)
}

func TestMemoryStore_DropTable(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	result, err := store.DropTable(ctx, "features")
	require.NoError(t, err)
	assert.Equal(t, Dropped, result)
	assert.Equal(t, "dropped", result.String())

	result, err = store.DropTable(ctx, "features")
	require.NoError(t, err)
	assert.Equal(t, NotFound, result)
	assert.Equal(t, "not_found", result.String())
}

func TestPublishLabels(t *testing.T) {
	store := NewMemoryStore(logrus.New())
	ctx := context.Background()

	schema := frame.NewSchema(
		frame.Column{Name: "customer_id", Type: frame.TypeString, Nullable: true},
		frame.Column{Name: "transaction_ts", Type: frame.TypeTimestamp, Nullable: true},
		frame.Column{Name: "churn", Type: frame.TypeBool, Nullable: true},
		frame.Column{Name: "split", Type: frame.TypeString},
	)
	labels := frame.New(schema, []frame.Record{
		{"customer_id": "a", "transaction_ts": snapshotTS, "churn": true, "split": "train"},
		{"customer_id": "b", "transaction_ts": snapshotTS, "churn": false, "split": "test"},
	})

	handle, err := PublishLabels(ctx, store, "labels", labels, "customer_id", "transaction_ts")
	require.NoError(t, err)
	assert.Equal(t, []string{"customer_id", "transaction_ts"}, handle.PrimaryKeys)

	for _, pk := range handle.PrimaryKeys {
		col, err := handle.Schema.Column(pk)
		require.NoError(t, err)
		assert.False(t, col.Nullable, pk)
	}

	// Publishing again replaces schema and rows.
	narrow, err := labels.Drop(ctx, "churn")
	require.NoError(t, err)

	_, err = PublishLabels(ctx, store, "labels", frame.New(narrow.Schema(), narrow.Rows()[:1]), "customer_id", "transaction_ts")
	require.NoError(t, err)

	out, err := store.ReadTable(ctx, "labels")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())
	assert.False(t, out.Schema().Has("churn"))

	nullKey := labels.Rows()
	nullKey[0]["transaction_ts"] = nil
	_, err = PublishLabels(ctx, store, "labels", frame.New(schema, nullKey), "customer_id", "transaction_ts")
	assert.ErrorIs(t, err, ErrNullPrimaryKey)
}
