package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/chfs/internal/testutil"
	"github.com/ethpandaops/chfs/pkg/frame"
	"github.com/ethpandaops/chfs/pkg/functions"
	"github.com/ethpandaops/chfs/pkg/online"
	"github.com/ethpandaops/chfs/pkg/pipeline"
	"github.com/ethpandaops/chfs/pkg/tasks"
	"github.com/gofiber/fiber/v3"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const onlineTable = "churn_feature_table_online_table"

type fakeEnqueuer struct {
	payloads []tasks.RunPayload
	err      error
}

func (f *fakeEnqueuer) EnqueueRun(payload tasks.RunPayload, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}

	f.payloads = append(f.payloads, payload)

	return &asynq.TaskInfo{ID: payload.UniqueID(), Queue: tasks.QueuePipeline}, nil
}

type testEnv struct {
	app     *fiber.App
	queue   *fakeEnqueuer
	tracker *pipeline.RedisTracker
}

func newTestEnv(t *testing.T, mutate func(*Dependencies)) *testEnv {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	_, client := testutil.NewMiniredisClient(t)

	store := online.NewStore(log, client, "chfs")

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	table := frame.New(frame.NewSchema(
		frame.Column{Name: "customer_id", Type: frame.TypeString},
		frame.Column{Name: "transaction_ts", Type: frame.TypeTimestamp},
		frame.Column{Name: "monthly_charges", Type: frame.TypeFloat64, Nullable: true},
		frame.Column{Name: "tenure", Type: frame.TypeFloat64, Nullable: true},
		frame.Column{Name: "total_charges", Type: frame.TypeFloat64, Nullable: true},
	), []frame.Record{
		{"customer_id": "0001-A", "transaction_ts": ts, "monthly_charges": 80.0, "tenure": 10.0, "total_charges": 700.0},
		{"customer_id": "0002-B", "transaction_ts": ts, "monthly_charges": 50.0, "tenure": nil, "total_charges": 0.0},
	})

	_, err := store.Publish(context.Background(), onlineTable, table, "customer_id", "transaction_ts")
	require.NoError(t, err)

	lib, err := functions.NewLibrary(functions.Builtins()...)
	require.NoError(t, err)

	env := &testEnv{
		queue:   &fakeEnqueuer{},
		tracker: pipeline.NewRedisTracker(log, client, "chfs"),
	}

	deps := Dependencies{
		Online:      store,
		OnlineTable: onlineTable,
		Library:     lib,
		Queue:       env.queue,
		Tracker:     env.tracker,
		Pipeline:    "churn",
	}

	if mutate != nil {
		mutate(&deps)
	}

	env.app = fiber.New()
	NewServer(deps, log).Register(env.app)

	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, out
}

func TestGetFeatures(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		check      func(t *testing.T, resp FeaturesResponse)
	}{
		{
			name:       "returns latest snapshot",
			path:       "/features/0001-A",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, resp FeaturesResponse) {
				t.Helper()
				assert.Equal(t, onlineTable, resp.Table)
				assert.Equal(t, "0001-A", resp.Key)
				assert.InDelta(t, 80.0, resp.Features["monthly_charges"], 1e-9)
				assert.Empty(t, resp.Functions)
			},
		},
		{
			name:       "evaluates requested functions",
			path:       "/features/0001-A?functions=avg_price_increase",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, resp FeaturesResponse) {
				t.Helper()
				assert.InDelta(t, 10.0, resp.Functions[functions.AvgPriceIncreaseName], 1e-9)
			},
		},
		{
			name:       "unknown customer",
			path:       "/features/9999-Z",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown function",
			path:       "/features/0001-A?functions=nope",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "function input missing from snapshot",
			path:       "/features/0002-B?functions=avg_price_increase",
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodGet, tt.path, "")
			require.Equal(t, tt.wantStatus, status, string(body))

			if tt.check == nil {
				return
			}

			var resp FeaturesResponse
			require.NoError(t, json.Unmarshal(body, &resp))
			tt.check(t, resp)
		})
	}
}

func TestGetFeatures_Unavailable(t *testing.T) {
	env := newTestEnv(t, func(d *Dependencies) { d.OnlineTable = "" })

	status, _ := env.do(t, http.MethodGet, "/features/0001-A", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	env = newTestEnv(t, func(d *Dependencies) { d.OnlineTable = "missing_online_table" })

	status, _ = env.do(t, http.MethodGet, "/features/0001-A", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListFunctions(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodGet, "/functions", "")
	require.Equal(t, http.StatusOK, status)

	var resp FunctionsResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, functions.AvgPriceIncreaseName, resp.Functions[0].Name)

	reg := functions.NewMemoryRegistrar()
	env = newTestEnv(t, func(d *Dependencies) { d.Registrar = reg })

	status, body = env.do(t, http.MethodGet, "/functions", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, 0, resp.Total)
	assert.NotNil(t, resp.Functions)
}

func TestEvaluateFunction(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantValue  float64
	}{
		{
			name:       "evaluates arguments",
			path:       "/functions/avg_price_increase/evaluate",
			body:       `{"monthly_charges_in": 80, "tenure_in": 10, "total_charges_in": 700}`,
			wantStatus: http.StatusOK,
			wantValue:  10,
		},
		{
			name:       "no tenure scores zero",
			path:       "/functions/avg_price_increase/evaluate",
			body:       `{"monthly_charges_in": 80, "tenure_in": 0, "total_charges_in": 0}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing argument",
			path:       "/functions/avg_price_increase/evaluate",
			body:       `{"monthly_charges_in": 80}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "invalid body",
			path:       "/functions/avg_price_increase/evaluate",
			body:       `[1, 2]`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown function",
			path:       "/functions/nope/evaluate",
			body:       `{}`,
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, status, string(body))

			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp EvaluateResponse
			require.NoError(t, json.Unmarshal(body, &resp))
			assert.Equal(t, functions.AvgPriceIncreaseName, resp.Name)
			assert.InDelta(t, tt.wantValue, resp.Value, 1e-9)
		})
	}
}

func TestCreateRun(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodPost, "/runs", "")
	require.Equal(t, http.StatusAccepted, status, string(body))

	var resp RunQueuedResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "pipeline:run:churn", resp.TaskID)
	assert.Equal(t, "churn", resp.Pipeline)

	require.Len(t, env.queue.payloads, 1)
	assert.Equal(t, pipeline.TriggerAPI, env.queue.payloads[0].Trigger)

	env.queue.err = tasks.ErrRunAlreadyQueued

	status, _ = env.do(t, http.MethodPost, "/runs", "")
	assert.Equal(t, http.StatusConflict, status)
}

func TestGetRuns(t *testing.T) {
	env := newTestEnv(t, nil)

	status, _ := env.do(t, http.MethodGet, "/runs/latest", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodGet, "/runs/unknown", "")
	assert.Equal(t, http.StatusNotFound, status)

	run := &pipeline.RunSummary{
		ID:        "run-1",
		Trigger:   pipeline.TriggerManual,
		Status:    pipeline.StatusSucceeded,
		StartedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, env.tracker.Save(context.Background(), run))

	for _, path := range []string{"/runs/latest", "/runs/run-1"} {
		status, body := env.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, status, path)

		var got pipeline.RunSummary
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "run-1", got.ID, path)
		assert.Equal(t, pipeline.StatusSucceeded, got.Status, path)
	}
}

func TestUnconfiguredRoutes(t *testing.T) {
	env := newTestEnv(t, func(d *Dependencies) {
		d.Library = nil
		d.Queue = nil
		d.Tracker = nil
	})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/functions"},
		{http.MethodPost, "/functions/avg_price_increase/evaluate"},
		{http.MethodPost, "/runs"},
		{http.MethodGet, "/runs/latest"},
	} {
		status, _ := env.do(t, tc.method, tc.path, "")
		assert.Equal(t, http.StatusServiceUnavailable, status, tc.path)
	}
}
