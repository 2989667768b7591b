package functions

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/chfs/pkg/clickhouse"
	"github.com/ethpandaops/chfs/pkg/rendering"
	"github.com/sirupsen/logrus"
)

// RegistryTable stores comments and signatures of registered functions,
// which ClickHouse SQL UDFs cannot carry themselves
const RegistryTable = "function_registry"

const createFunctionTemplate = `CREATE OR REPLACE FUNCTION {{ .Name }} AS ({{ .ParamNames | join ", " }}) -> {{ .Body }}`

const createRegistryTemplate = `CREATE TABLE IF NOT EXISTS {{ table .Database .Table }}
(
    name String,
    signature String,
    returns String,
    language LowCardinality(String),
    comment String,
    body String,
    updated_at DateTime64(3, 'UTC')
)
ENGINE = ReplacingMergeTree(updated_at)
ORDER BY name`

type registryRow struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
	Returns   string `json:"returns"`
	Language  string `json:"language"`
	Comment   string `json:"comment"`
	Body      string `json:"body"`
	UpdatedAt string `json:"updated_at"` //nolint:tagliatelle // ClickHouse column name
}

// ClickHouseRegistrar registers functions as ClickHouse SQL user defined
// functions and records them in a registry table
type ClickHouseRegistrar struct {
	log      logrus.FieldLogger
	client   clickhouse.ClientInterface
	engine   *rendering.TemplateEngine
	database string
	now      func() time.Time
}

var _ Registrar = (*ClickHouseRegistrar)(nil)

// NewClickHouseRegistrar creates a registrar keeping its registry in database
func NewClickHouseRegistrar(log logrus.FieldLogger, client clickhouse.ClientInterface, database string) *ClickHouseRegistrar {
	return &ClickHouseRegistrar{
		log:      log.WithField("component", "functions-clickhouse"),
		client:   client,
		engine:   rendering.NewTemplateEngine(),
		database: database,
		now:      time.Now,
	}
}

// RegisterFunction creates or replaces the function and its registry entry
func (r *ClickHouseRegistrar) RegisterFunction(ctx context.Context, fn Function) error {
	if err := fn.Validate(); err != nil {
		return err
	}

	if err := r.ensureRegistry(ctx); err != nil {
		return err
	}

	query, err := r.engine.Render(createFunctionTemplate, map[string]any{
		"Name":       fn.Name,
		"ParamNames": fn.ParamNames(),
		"Body":       fn.Body,
	})
	if err != nil {
		return err
	}

	if _, err := r.client.Execute(ctx, query); err != nil {
		return fmt.Errorf("failed to create function %s: %w", fn.Name, err)
	}

	info := InfoOf(fn)
	row := registryRow{
		Name:      info.Name,
		Signature: info.Signature,
		Returns:   info.Returns,
		Language:  info.Language,
		Comment:   info.Comment,
		Body:      info.Body,
		UpdatedAt: r.now().UTC().Format(clickhouse.TimestampLayout),
	}

	if err := r.client.BulkInsert(ctx, clickhouse.TableName(r.database, RegistryTable), []registryRow{row}); err != nil {
		return fmt.Errorf("failed to record function %s: %w", fn.Name, err)
	}

	r.log.WithFields(logrus.Fields{
		"function":  fn.Name,
		"signature": info.Signature,
	}).Info("Registered on-demand function")

	return nil
}

// ListFunctions returns the registry entries ordered by name
func (r *ClickHouseRegistrar) ListFunctions(ctx context.Context) ([]Info, error) {
	exists, err := clickhouse.TableExists(ctx, r.client, r.database, RegistryTable)
	if err != nil {
		return nil, fmt.Errorf("failed to check function registry: %w", err)
	}

	if !exists {
		return []Info{}, nil
	}

	query := fmt.Sprintf(
		"SELECT name, signature, returns, language, comment, body FROM %s FINAL ORDER BY name",
		clickhouse.TableName(r.database, RegistryTable))

	var infos []Info
	if err := r.client.QueryMany(ctx, query, &infos); err != nil {
		return nil, fmt.Errorf("failed to list functions: %w", err)
	}

	return infos, nil
}

func (r *ClickHouseRegistrar) ensureRegistry(ctx context.Context) error {
	if err := clickhouse.EnsureDatabase(ctx, r.client, r.database); err != nil {
		return fmt.Errorf("failed to create database %s: %w", r.database, err)
	}

	query, err := r.engine.Render(createRegistryTemplate, map[string]any{
		"Database": r.database,
		"Table":    RegistryTable,
	})
	if err != nil {
		return err
	}

	if _, err := r.client.Execute(ctx, query); err != nil {
		return fmt.Errorf("failed to create function registry: %w", err)
	}

	return nil
}
