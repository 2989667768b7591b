// Package engine wires the churn feature pipeline to its backends and runs
// the scheduler, worker and API services
package engine

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/chfs/pkg/api"
	"github.com/ethpandaops/chfs/pkg/catalog"
	"github.com/ethpandaops/chfs/pkg/clickhouse"
	"github.com/ethpandaops/chfs/pkg/pipeline"
	chfsredis "github.com/ethpandaops/chfs/pkg/redis"
	"github.com/ethpandaops/chfs/pkg/scheduler"
	"github.com/ethpandaops/chfs/pkg/worker"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrRedisURLRequired is returned when Redis URL is not provided
	ErrRedisURLRequired = errors.New("redis URL is required")
	// ErrNameRequired is returned when the pipeline has no name
	ErrNameRequired = errors.New("pipeline name is required")
)

// Config represents the complete engine configuration
type Config struct {
	// Core settings
	Logging         string `yaml:"logging" default:"info" validate:"oneof=panic fatal error warn info debug trace"`
	MetricsAddr     string `yaml:"metricsAddr" default:":9091"`
	HealthCheckAddr string `yaml:"healthCheckAddr"`
	PProfAddr       string `yaml:"pprofAddr"`

	// Name identifies the pipeline in task ids, schedules and run records
	Name string `yaml:"name" default:"churn" validate:"required"`

	// Dependencies
	ClickHouse clickhouse.Config `yaml:"clickhouse"`
	Redis      chfsredis.Config  `yaml:"redis"`
	Catalog    catalog.Config    `yaml:"catalog"`

	Pipeline  pipeline.Config  `yaml:"pipeline"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	Worker    worker.Config    `yaml:"worker"`
	API       api.Config       `yaml:"api"`
}

// Validate checks struct tags, then each section
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return ErrRedisURLRequired
	}

	if c.Name == "" {
		return ErrNameRequired
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.ClickHouse.Validate(); err != nil {
		return err
	}

	if err := c.Redis.Validate(); err != nil {
		return err
	}

	if err := c.Catalog.Validate(); err != nil {
		return err
	}

	if err := c.Pipeline.Validate(); err != nil {
		return err
	}

	if err := c.Scheduler.Validate(); err != nil {
		return err
	}

	if err := c.Worker.Validate(); err != nil {
		return err
	}

	return c.API.Validate()
}

// SourceDatabase is the database the catalog reads bare table names from
func (c *Config) SourceDatabase() string {
	return c.ClickHouse.MapDatabase(c.ClickHouse.Database)
}

// AdminDatabase holds the function registry
func (c *Config) AdminDatabase() string {
	return c.ClickHouse.MapDatabase(c.ClickHouse.AdminDatabase)
}
