package functions

import (
	"context"
	"encoding/json"
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

func TestAvgPriceIncrease(t *testing.T) {
	tests := []struct {
		name                           string
		monthly, tenure, total, expect float64
	}{
		{name: "tenured customer", monthly: 80, tenure: 10, total: 700, expect: 10},
		{name: "price decrease", monthly: 50, tenure: 4, total: 240, expect: -10},
		{name: "no tenure", monthly: 80, tenure: 0, total: 0, expect: 0},
		{name: "negative tenure", monthly: 80, tenure: -1, total: 10, expect: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expect, avgPriceIncrease(tt.monthly, tt.tenure, tt.total), 1e-9)
		})
	}
}

func TestFunction_Validate(t *testing.T) {
	fn := AvgPriceIncrease()
	require.NoError(t, fn.Validate())

	bad := AvgPriceIncrease()
	bad.Name = "avg-price"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidName)

	bad = AvgPriceIncrease()
	bad.Params = append(bad.Params, Param{Name: "tenure_in", Type: frame.TypeFloat64})
	assert.ErrorIs(t, bad.Validate(), ErrInvalidParam)

	bad = AvgPriceIncrease()
	bad.Params[0].Type = frame.TypeString
	assert.ErrorIs(t, bad.Validate(), ErrNonNumericParam)

	bad = AvgPriceIncrease()
	bad.Body = " "
	assert.ErrorIs(t, bad.Validate(), ErrBodyRequired)
}

func TestFunction_Signature(t *testing.T) {
	fn := AvgPriceIncrease()
	assert.Equal(t,
		"avg_price_increase(monthly_charges_in float64, tenure_in float64, total_charges_in float64) float64",
		fn.Signature())
}

func TestLibrary_Evaluate(t *testing.T) {
	lib, err := NewLibrary(Builtins()...)
	require.NoError(t, err)

	got, err := lib.Evaluate(AvgPriceIncreaseName, map[string]any{
		"monthly_charges_in": 80.0,
		"tenure_in":          json.Number("10"),
		"total_charges_in":   "700",
	})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, got, 1e-9)

	_, err = lib.Evaluate(AvgPriceIncreaseName, map[string]any{"monthly_charges_in": 1.0, "tenure_in": 1.0})
	assert.ErrorIs(t, err, ErrMissingArgument)

	_, err = lib.Evaluate(AvgPriceIncreaseName, map[string]any{
		"monthly_charges_in": "lots", "tenure_in": 1.0, "total_charges_in": 1.0,
	})
	assert.ErrorIs(t, err, ErrNonNumericArg)

	_, err = lib.Evaluate(AvgPriceIncreaseName, map[string]any{
		"monthly_charges_in": "NaN", "tenure_in": 1.0, "total_charges_in": 1.0,
	})
	assert.ErrorIs(t, err, ErrNonNumericArg)

	_, err = lib.Evaluate("unknown", nil)
	assert.ErrorIs(t, err, ErrFunctionNotFound)
}

func TestLibrary_EvaluateRecord(t *testing.T) {
	lib, err := NewLibrary(Builtins()...)
	require.NoError(t, err)

	got, err := lib.EvaluateRecord(AvgPriceIncreaseName, frame.Record{
		"customer_id":     "0001-A",
		"monthly_charges": 80.0,
		"tenure":          10.0,
		"total_charges":   700.0,
	})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, got, 1e-9)
}

func TestLibrary_Errors(t *testing.T) {
	_, err := NewLibrary(AvgPriceIncrease(), AvgPriceIncrease())
	assert.ErrorIs(t, err, ErrDuplicateFunction)

	noEval := AvgPriceIncrease()
	noEval.Name = "sql_only"
	noEval.Eval = nil

	lib, err := NewLibrary(noEval)
	require.NoError(t, err)

	_, err = lib.Evaluate("sql_only", map[string]any{})
	assert.ErrorIs(t, err, ErrNoEvaluator)

	assert.Equal(t, "sql_only", lib.Infos()[0].Name)
}

func TestMemoryRegistrar(t *testing.T) {
	reg := NewMemoryRegistrar()
	ctx := context.Background()

	require.NoError(t, reg.RegisterFunction(ctx, AvgPriceIncrease()))
	require.NoError(t, reg.RegisterFunction(ctx, AvgPriceIncrease()))

	infos, err := reg.ListFunctions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Contains(t, infos[0].Comment, "[Feature Function]")
}

func newStubRegistrar(t *testing.T) (*ClickHouseRegistrar, *testutil.ClickHouseStub) {
	t.Helper()

	stub := testutil.NewClickHouseStub(t)

	client, err := clickhouse.NewClient(logrus.New(), &clickhouse.Config{URL: stub.URL()})
	require.NoError(t, err)

	reg := NewClickHouseRegistrar(logrus.New(), client, "admin")
	reg.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	return reg, stub
}

func TestClickHouseRegistrar_RegisterFunction(t *testing.T) {
	reg, stub := newStubRegistrar(t)

	require.NoError(t, reg.RegisterFunction(context.Background(), AvgPriceIncrease()))

	assert.Equal(t, []string{
		"CREATE OR REPLACE FUNCTION avg_price_increase AS (monthly_charges_in, tenure_in, total_charges_in) -> " +
			"if(tenure_in > 0, monthly_charges_in - total_charges_in / tenure_in, 0)",
	}, stub.QueriesContaining("CREATE OR REPLACE FUNCTION"))

	assert.Len(t, stub.QueriesContaining("CREATE TABLE IF NOT EXISTS `admin`.`function_registry`"), 1)

	inserts := stub.QueriesContaining("INSERT INTO `admin`.`function_registry`")
	require.Len(t, inserts, 1)

	lines := strings.Split(strings.TrimSpace(inserts[0]), "\n")
	require.Len(t, lines, 2)

	var row registryRow
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &row))
	assert.Equal(t, AvgPriceIncreaseName, row.Name)
	assert.Equal(t, LanguageSQL, row.Language)
	assert.Equal(t, "2024-01-02 03:04:05.000", row.UpdatedAt)
}

func TestClickHouseRegistrar_RegisterFunctionFailure(t *testing.T) {
	reg, stub := newStubRegistrar(t)
	stub.On("CREATE OR REPLACE FUNCTION", http.StatusInternalServerError, `{"exception": "Code: 609. Function already exists"}`)

	err := reg.RegisterFunction(context.Background(), AvgPriceIncrease())
	require.ErrorIs(t, err, clickhouse.ErrClickHouseResponse)
	assert.Empty(t, stub.QueriesContaining("INSERT INTO"))
}

func TestClickHouseRegistrar_ListFunctions(t *testing.T) {
	reg, stub := newStubRegistrar(t)

	infos, err := reg.ListFunctions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)

	stub.On("count() as count", http.StatusOK, `{"meta":[],"data":[{"count":"1"}],"rows":1}`)
	stub.On("FROM `admin`.`function_registry` FINAL", http.StatusOK, `{"meta":[],"data":[{
		"name": "avg_price_increase", "signature": "avg_price_increase(...) float64", "returns": "float64",
		"language": "SQL", "comment": "[Feature Function] x", "body": "if(...)"
	}],"rows":1}`)

	infos, err = reg.ListFunctions(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "avg_price_increase", infos[0].Name)
	assert.Equal(t, "SQL", infos[0].Language)
}
