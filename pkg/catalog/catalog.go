// Package catalog reads raw source tables into columnar frames
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/chfs/pkg/clickhouse"
	"github.com/ethpandaops/chfs/pkg/frame"
	"github.com/sirupsen/logrus"
)

// Static errors
var (
	ErrTableNotFound     = errors.New("table not found")
	ErrUnsupportedDriver = errors.New("unsupported catalog driver")
	ErrPostgresDSN       = errors.New("postgresDSN is required for the postgres driver")
)

const (
	// DriverClickHouse reads source tables from ClickHouse
	DriverClickHouse = "clickhouse"
	// DriverPostgres reads source tables from PostgreSQL
	DriverPostgres = "postgres"
)

// Reader loads a named table as a frame
type Reader interface {
	ReadTable(ctx context.Context, name string) (*frame.Table, error)
}

// Config selects and configures the catalog backend
type Config struct {
	Driver      string `yaml:"driver" default:"clickhouse" validate:"oneof=clickhouse postgres"`
	PostgresDSN string `yaml:"postgresDSN"`
	Limit       int    `yaml:"limit" validate:"gte=0"`
}

// Validate checks the configuration
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverClickHouse:
		return nil
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return ErrPostgresDSN
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDriver, c.Driver)
	}
}

// NewReader builds the reader selected by cfg. The returned close function
// releases any connection the reader opened and is never nil.
func NewReader(log logrus.FieldLogger, cfg *Config, ch clickhouse.ClientInterface, database string) (Reader, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	switch cfg.Driver {
	case DriverPostgres:
		db, err := OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}

		return NewPostgresReader(log, db, cfg.Limit), db.Close, nil
	default:
		return NewClickHouseReader(log, ch, database, cfg.Limit), func() error { return nil }, nil
	}
}
