package clickhouse

import (
	"context"
	"net/http"
	"testing"

	"github.com/ethpandaops/chfs/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableExists(t *testing.T) {
	c, stub := newStubClient(t)
	stub.On("name = 'present'", http.StatusOK, `{"meta":[],"data":[{"count":"1"}],"rows":1}`)
	stub.On("name = 'absent'", http.StatusOK, `{"meta":[],"data":[{"count":"0"}],"rows":1}`)

	ok, err := TableExists(context.Background(), c, "churn", "present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = TableExists(context.Background(), c, "churn", "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Len(t, stub.QueriesContaining("database = 'churn'"), 2)
}

func TestGetTable(t *testing.T) {
	c, stub := newStubClient(t)
	stub.On("name = 'features'", http.StatusOK, `{"meta":[],"data":[{
		"database": "churn", "name": "features", "engine": "ReplacingMergeTree",
		"sorting_key": "customer_id", "comment": "churn features"
	}],"rows":1}`)

	info, err := GetTable(context.Background(), c, "churn", "features")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "customer_id", info.SortingKey)
	assert.Equal(t, "churn features", info.Comment)

	info, err = GetTable(context.Background(), c, "churn", "missing")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestEnsureDatabase(t *testing.T) {
	c, stub := newStubClient(t)

	require.NoError(t, EnsureDatabase(context.Background(), c, "churn"))
	assert.Equal(t, []string{"CREATE DATABASE IF NOT EXISTS `churn`"}, stub.Queries())
}

func TestColumnType(t *testing.T) {
	assert.Equal(t, "String", ColumnType(frame.Column{Type: frame.TypeString}))
	assert.Equal(t, "Nullable(Float64)", ColumnType(frame.Column{Type: frame.TypeFloat64, Nullable: true}))
	assert.Equal(t, "Int64", ColumnType(frame.Column{Type: frame.TypeInt64}))
	assert.Equal(t, "Bool", ColumnType(frame.Column{Type: frame.TypeBool}))
	assert.Equal(t, TimestampType, ColumnType(frame.Column{Type: frame.TypeTimestamp}))
}

func TestFrameType(t *testing.T) {
	tests := []struct {
		chType   string
		want     frame.Type
		nullable bool
	}{
		{"String", frame.TypeString, false},
		{"LowCardinality(Nullable(String))", frame.TypeString, true},
		{"Nullable(Float64)", frame.TypeFloat64, true},
		{"Decimal(10, 2)", frame.TypeFloat64, false},
		{"UInt8", frame.TypeInt64, false},
		{"Int32", frame.TypeInt64, false},
		{"Bool", frame.TypeBool, false},
		{"DateTime64(3, 'UTC')", frame.TypeTimestamp, false},
		{"Date", frame.TypeTimestamp, false},
		{"Array(String)", frame.TypeString, false},
	}

	for _, tt := range tests {
		t.Run(tt.chType, func(t *testing.T) {
			got, nullable := FrameType(tt.chType)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.nullable, nullable)
		})
	}
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, "`a``b`", QuoteIdentifier("a`b"))
	assert.Equal(t, `'it\'s'`, QuoteString("it's"))
	assert.Equal(t, `'a\\b'`, QuoteString(`a\b`))
	assert.Equal(t, "`churn`.`features`", TableName("churn", "features"))

	db, table := SplitName("churn.features", "default")
	assert.Equal(t, "churn", db)
	assert.Equal(t, "features", table)

	db, table = SplitName("features", "default")
	assert.Equal(t, "default", db)
	assert.Equal(t, "features", table)
}
