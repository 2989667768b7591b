package engine

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/chfs/pkg/catalog"
	"github.com/ethpandaops/chfs/pkg/clickhouse"
	"github.com/ethpandaops/chfs/pkg/featurestore"
	"github.com/ethpandaops/chfs/pkg/functions"
	"github.com/ethpandaops/chfs/pkg/online"
	"github.com/ethpandaops/chfs/pkg/pipeline"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Backends holds the clients a pipeline runs against
type Backends struct {
	ClickHouse   clickhouse.ClientInterface
	RedisOptions *redis.Options
	AsynqOptions asynq.RedisConnOpt
	Redis        *redis.Client
	Online       *online.Store
	Tracker      *pipeline.RedisTracker
	Clients      pipeline.Clients

	closeCatalog func() error
}

// NewBackends builds the ClickHouse and Redis clients and the stores on top
// of them without connecting. A dry run keeps feature tables and function
// registrations in memory and skips the online table and run tracking.
func NewBackends(log logrus.FieldLogger, cfg *Config, dryRun bool) (*Backends, error) {
	redisOptions, err := cfg.Redis.Options()
	if err != nil {
		return nil, err
	}

	asynqOptions, err := cfg.Redis.AsynqOptions()
	if err != nil {
		return nil, err
	}

	chClient, err := clickhouse.NewClient(log, &cfg.ClickHouse)
	if err != nil {
		return nil, fmt.Errorf("failed to setup ClickHouse client: %w", err)
	}

	reader, closeCatalog, err := catalog.NewReader(log, &cfg.Catalog, chClient, cfg.SourceDatabase())
	if err != nil {
		return nil, fmt.Errorf("failed to setup catalog: %w", err)
	}

	b := &Backends{
		ClickHouse:   chClient,
		RedisOptions: redisOptions,
		AsynqOptions: asynqOptions,
		closeCatalog: closeCatalog,
	}

	if dryRun {
		b.Clients = pipeline.Clients{
			Reader:    reader,
			Store:     featurestore.NewMemoryStore(log),
			Registrar: functions.NewMemoryRegistrar(),
		}

		return b, nil
	}

	b.Redis = redis.NewClient(redisOptions)
	b.Online = online.NewStore(log, b.Redis, cfg.Redis.Prefix)
	b.Tracker = pipeline.NewRedisTracker(log, b.Redis, cfg.Redis.Prefix)

	b.Clients = pipeline.Clients{
		Reader:    reader,
		Store:     featurestore.NewClickHouseStore(log, chClient, cfg.SourceDatabase()),
		Online:    b.Online,
		Registrar: functions.NewClickHouseRegistrar(log, chClient, cfg.AdminDatabase()),
		Tracker:   b.Tracker,
	}

	return b, nil
}

// Start checks ClickHouse connectivity
func (b *Backends) Start() error {
	if err := b.ClickHouse.Start(); err != nil {
		return fmt.Errorf("failed to start ClickHouse client: %w", err)
	}

	return nil
}

// Close releases every client
func (b *Backends) Close() error {
	var errs []error

	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis client: %w", err))
		}
	}

	if b.closeCatalog != nil {
		if err := b.closeCatalog(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close catalog: %w", err))
		}
	}

	if err := b.ClickHouse.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop ClickHouse client: %w", err))
	}

	return errors.Join(errs...)
}
