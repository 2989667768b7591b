package engine

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethpandaops/chfs/internal/testutil"
	"github.com/ethpandaops/chfs/pkg/featurestore"
	"github.com/ethpandaops/chfs/pkg/functions"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubConfig(t *testing.T) *Config {
	t.Helper()

	_, redisCfg := testutil.NewRedisConfig(t)
	stub := testutil.NewClickHouseStub(t)

	cfg := validConfig(t)
	cfg.ClickHouse.URL = stub.URL()
	cfg.Redis = redisCfg
	cfg.Scheduler.Enabled = false
	cfg.MetricsAddr = ""

	return cfg
}

func TestNewBackends(t *testing.T) {
	log := logrus.New()
	cfg := stubConfig(t)
	require.NoError(t, cfg.Validate())

	backends, err := NewBackends(log, cfg, false)
	require.NoError(t, err)

	assert.NotNil(t, backends.Redis)
	assert.NotNil(t, backends.Clients.Online)
	assert.NotNil(t, backends.Clients.Tracker)
	assert.IsType(t, &featurestore.ClickHouseStore{}, backends.Clients.Store)
	assert.IsType(t, &functions.ClickHouseRegistrar{}, backends.Clients.Registrar)

	require.NoError(t, backends.Start())
	assert.NoError(t, backends.Close())
}

func TestNewBackends_DryRun(t *testing.T) {
	log := logrus.New()
	cfg := stubConfig(t)
	require.NoError(t, cfg.Validate())

	backends, err := NewBackends(log, cfg, true)
	require.NoError(t, err)

	assert.Nil(t, backends.Redis)
	assert.Nil(t, backends.Clients.Online)
	assert.Nil(t, backends.Clients.Tracker)
	assert.IsType(t, &featurestore.MemoryStore{}, backends.Clients.Store)
	assert.IsType(t, &functions.MemoryRegistrar{}, backends.Clients.Registrar)

	assert.NoError(t, backends.Close())
}

func TestNewService(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	cfg := stubConfig(t)

	svc, err := NewService(log, cfg)
	require.NoError(t, err)

	assert.Equal(t, "chfs:pipeline", svc.queue.Queue())
	assert.Equal(t, cfg.Pipeline.FeatureTable, svc.runner.Config().FeatureTable)

	mux := svc.healthMux()

	for _, path := range []string{"/health", "/ready"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	assert.NoError(t, svc.Stop())
}

func TestNewService_InvalidConfig(t *testing.T) {
	cfg := stubConfig(t)
	cfg.Redis.URL = ""

	_, err := NewService(logrus.New(), cfg)
	assert.ErrorIs(t, err, ErrRedisURLRequired)
}
