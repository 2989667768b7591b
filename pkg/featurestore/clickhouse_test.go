package featurestore

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/chfs/internal/testutil"
	"github.com/ethpandaops/chfs/pkg/clickhouse"
	"github.com/ethpandaops/chfs/pkg/frame"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tableExistsQuery  = "count() as count"
	tableInfoQuery    = "sorting_key, comment"
	tableColumnsQuery = "FROM system.columns"

	existsResponse    = `{"meta":[],"data":[{"count":"1"}],"rows":1}`
	notExistsResponse = `{"meta":[],"data":[{"count":"0"}],"rows":1}`

	featuresInfoResponse = `{"meta":[],"data":[{
		"database": "churn", "name": "features", "engine": "ReplacingMergeTree",
		"sorting_key": "customer_id, transaction_ts",
		"comment": "{\"description\":\"churn features\",\"primaryKeys\":[\"customer_id\",\"transaction_ts\"],\"timeseriesColumn\":\"transaction_ts\"}"
	}],"rows":1}`

	featuresColumnsResponse = `{"meta":[],"data":[
		{"name": "customer_id", "type": "String", "comment": "{\"semanticType\":\"native\"}"},
		{"name": "transaction_ts", "type": "DateTime64(3, 'UTC')", "comment": ""},
		{"name": "num_optional_services", "type": "Float64", "comment": "{\"semanticType\":\"numeric\"}"},
		{"name": "_version", "type": "UInt64", "comment": ""}
	],"rows":4}`
)

var fixedNow = time.Unix(0, 1700000000000000000)

func newClickHouseStore(t *testing.T) (*ClickHouseStore, *testutil.ClickHouseStub) {
	t.Helper()

	stub := testutil.NewClickHouseStub(t)

	client, err := clickhouse.NewClient(logrus.New(), &clickhouse.Config{URL: stub.URL()})
	require.NoError(t, err)

	store := NewClickHouseStore(logrus.New(), client, "churn")
	store.now = func() time.Time { return fixedNow }

	return store, stub
}

func withExistingFeatures(stub *testutil.ClickHouseStub) {
	stub.On(tableExistsQuery, http.StatusOK, existsResponse)
	stub.On(tableInfoQuery, http.StatusOK, featuresInfoResponse)
	stub.On(tableColumnsQuery, http.StatusOK, featuresColumnsResponse)
}

func TestClickHouseStore_CreateTable(t *testing.T) {
	store, stub := newClickHouseStore(t)
	stub.On(tableExistsQuery, http.StatusOK, notExistsResponse)

	handle, err := store.CreateTable(context.Background(), featureSpec("features"))
	require.NoError(t, err)
	assert.Equal(t, "churn.features", handle.Name)

	assert.Len(t, stub.QueriesContaining("CREATE DATABASE IF NOT EXISTS `churn`"), 1)

	ddl := stub.QueriesContaining("CREATE TABLE `churn`.`features`")
	require.Len(t, ddl, 1)

	expected := "CREATE TABLE `churn`.`features`\n" +
		"(\n" +
		"    `customer_id` String COMMENT '{\"semanticType\":\"native\"}',\n" +
		"    `transaction_ts` DateTime64(3, 'UTC'),\n" +
		"    `num_optional_services` Float64 COMMENT '{\"semanticType\":\"numeric\"}',\n" +
		"    `_version` UInt64\n" +
		")\n" +
		"ENGINE = ReplacingMergeTree(`_version`)\n" +
		"PRIMARY KEY (`customer_id`, `transaction_ts`)\n" +
		"ORDER BY (`customer_id`, `transaction_ts`)\n" +
		"COMMENT '{\"description\":\"churn features\",\"primaryKeys\":[\"customer_id\",\"transaction_ts\"],\"timeseriesColumn\":\"transaction_ts\"}'"
	assert.Equal(t, expected, ddl[0])
}

func TestClickHouseStore_CreateTableExists(t *testing.T) {
	store, stub := newClickHouseStore(t)
	stub.On(tableExistsQuery, http.StatusOK, existsResponse)

	_, err := store.CreateTable(context.Background(), featureSpec("features"))
	assert.ErrorIs(t, err, ErrTableExists)
	assert.Empty(t, stub.QueriesContaining("CREATE TABLE"))
}

func TestClickHouseStore_GetTable(t *testing.T) {
	store, stub := newClickHouseStore(t)
	withExistingFeatures(stub)

	handle, err := store.GetTable(context.Background(), "features")
	require.NoError(t, err)

	assert.Equal(t, "churn.features", handle.Name)
	assert.Equal(t, "churn features", handle.Description)
	assert.Equal(t, []string{"customer_id", "transaction_ts"}, handle.PrimaryKeys)
	assert.Equal(t, "transaction_ts", handle.TimeseriesColumn)
	assert.Equal(t, []string{"customer_id", "transaction_ts", "num_optional_services"}, handle.Schema.Names())

	col, err := handle.Schema.Column("num_optional_services")
	require.NoError(t, err)
	assert.Equal(t, "numeric", col.Metadata[frame.MetadataSemanticType])
}

func TestClickHouseStore_GetTableNotFound(t *testing.T) {
	store, _ := newClickHouseStore(t)

	_, err := store.GetTable(context.Background(), "features")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestClickHouseStore_Merge(t *testing.T) {
	store, stub := newClickHouseStore(t)
	withExistingFeatures(stub)

	require.NoError(t, store.WriteTable(context.Background(), "features", featureRows(2), WriteModeMerge))

	inserts := stub.QueriesContaining("INSERT INTO `churn`.`features` FORMAT JSONEachRow")
	require.Len(t, inserts, 1)

	lines := strings.Split(strings.TrimSpace(inserts[0]), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{
		"customer_id": "a",
		"transaction_ts": "2024-01-02 03:04:05.000",
		"num_optional_services": 2,
		"_version": 1700000000000000000
	}`, lines[1])

	assert.Empty(t, stub.QueriesContaining("ALTER TABLE"))
	assert.Empty(t, stub.QueriesContaining("EXCHANGE TABLES"))
}

func TestClickHouseStore_MergeEvolvesSchema(t *testing.T) {
	store, stub := newClickHouseStore(t)
	withExistingFeatures(stub)

	wider, err := featureRows(1).WithLiteral(context.Background(), frame.Column{Name: "tenure", Type: frame.TypeFloat64}, 3.0)
	require.NoError(t, err)

	require.NoError(t, store.WriteTable(context.Background(), "features", wider, WriteModeMerge))

	assert.Equal(t, []string{
		"ALTER TABLE `churn`.`features`\n    ADD COLUMN IF NOT EXISTS `tenure` Nullable(Float64)",
	}, stub.QueriesContaining("ALTER TABLE"))

	inserts := stub.QueriesContaining("INSERT INTO")
	require.Len(t, inserts, 1)
	assert.Contains(t, inserts[0], `"tenure":3`)
}

func TestClickHouseStore_Overwrite(t *testing.T) {
	store, stub := newClickHouseStore(t)
	withExistingFeatures(stub)

	require.NoError(t, store.WriteTable(context.Background(), "features", featureRows(1, 2), WriteModeOverwrite))

	staging := "`churn`.`features__staging_1700000000000000000`"

	var sequence []string
	for _, q := range stub.Queries() {
		if !strings.Contains(q, "system.") {
			sequence = append(sequence, strings.SplitN(q, "\n", 2)[0])
		}
	}

	assert.Equal(t, []string{
		"CREATE TABLE " + staging,
		"INSERT INTO " + staging + " FORMAT JSONEachRow",
		"EXCHANGE TABLES `churn`.`features` AND " + staging,
		"DROP TABLE IF EXISTS " + staging,
	}, sequence)
}

func TestClickHouseStore_OverwriteCleansUpOnFailure(t *testing.T) {
	store, stub := newClickHouseStore(t)
	stub.On("INSERT INTO", http.StatusInternalServerError, `{"exception": "Code: 241. Memory limit exceeded"}`)
	withExistingFeatures(stub)

	err := store.WriteTable(context.Background(), "features", featureRows(1), WriteModeOverwrite)
	require.ErrorIs(t, err, clickhouse.ErrClickHouseResponse)

	assert.Empty(t, stub.QueriesContaining("EXCHANGE TABLES"))
	assert.Len(t, stub.QueriesContaining("DROP TABLE IF EXISTS `churn`.`features__staging_"), 1)
}

func TestClickHouseStore_ReplaceTableCreatesWhenAbsent(t *testing.T) {
	store, stub := newClickHouseStore(t)
	stub.On(tableExistsQuery, http.StatusOK, notExistsResponse)

	handle, err := store.ReplaceTable(context.Background(), featureSpec("labels"), featureRows(1))
	require.NoError(t, err)
	assert.Equal(t, "churn.labels", handle.Name)

	assert.Len(t, stub.QueriesContaining("CREATE TABLE `churn`.`labels__staging_"), 1)
	assert.Equal(t, []string{
		"RENAME TABLE `churn`.`labels__staging_1700000000000000000` TO `churn`.`labels`",
	}, stub.QueriesContaining("RENAME TABLE"))
	assert.Empty(t, stub.QueriesContaining("EXCHANGE TABLES"))
}

func TestClickHouseStore_ReplaceTableExchangesWhenPresent(t *testing.T) {
	store, stub := newClickHouseStore(t)
	stub.On(tableExistsQuery, http.StatusOK, existsResponse)

	_, err := store.ReplaceTable(context.Background(), featureSpec("labels"), featureRows(1))
	require.NoError(t, err)

	assert.Len(t, stub.QueriesContaining("EXCHANGE TABLES `churn`.`labels` AND `churn`.`labels__staging_1700000000000000000`"), 1)
	assert.Empty(t, stub.QueriesContaining("RENAME TABLE"))
}

func TestClickHouseStore_ReadTable(t *testing.T) {
	store, stub := newClickHouseStore(t)
	withExistingFeatures(stub)
	stub.On("FINAL ORDER BY", http.StatusOK, `{"meta":[],"data":[
		{"customer_id": "a", "transaction_ts": "2024-01-02 03:04:05.000", "num_optional_services": 2}
	],"rows":1}`)

	out, err := store.ReadTable(context.Background(), "features")
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())

	row := out.Rows()[0]
	assert.Equal(t, "a", row["customer_id"])
	assert.Equal(t, snapshotTS, row["transaction_ts"])
	assert.Equal(t, 2.0, row["num_optional_services"])

	assert.Len(t, stub.QueriesContaining(
		"SELECT * EXCEPT (`_version`) FROM `churn`.`features` FINAL ORDER BY `customer_id`, `transaction_ts`"), 1)
}

func TestClickHouseStore_CountRows(t *testing.T) {
	store, stub := newClickHouseStore(t)
	stub.On("count() AS count", http.StatusOK, `{"meta":[],"data":[{"count":"42"}],"rows":1}`)

	count, err := store.CountRows(context.Background(), "churn.features")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), count)
}

func TestClickHouseStore_DropTable(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		store, stub := newClickHouseStore(t)
		stub.On(tableExistsQuery, http.StatusOK, notExistsResponse)

		result, err := store.DropTable(context.Background(), "features")
		require.NoError(t, err)
		assert.Equal(t, NotFound, result)
		assert.Empty(t, stub.QueriesContaining("DROP TABLE"))
	})

	t.Run("dropped", func(t *testing.T) {
		store, stub := newClickHouseStore(t)
		stub.On(tableExistsQuery, http.StatusOK, existsResponse)

		result, err := store.DropTable(context.Background(), "features")
		require.NoError(t, err)
		assert.Equal(t, Dropped, result)
		assert.Equal(t, []string{"DROP TABLE IF EXISTS `churn`.`features` SYNC"}, stub.QueriesContaining("DROP TABLE"))
	})
}

func TestSplitSortingKey(t *testing.T) {
	assert.Equal(t, []string{"customer_id", "transaction_ts"}, splitSortingKey("customer_id, transaction_ts"))
	assert.Nil(t, splitSortingKey(""))
}
