package pipeline

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/chfs/pkg/features"
	"github.com/ethpandaops/chfs/pkg/featurestore"
	"github.com/ethpandaops/chfs/pkg/split"
)

// Define static errors
var (
	ErrSourceTableRequired  = errors.New("source table is required")
	ErrFeatureTableRequired = errors.New("feature table is required")
	ErrLabelTableRequired   = errors.New("label table is required")
	ErrKeyColumnsRequired   = errors.New("primary key, timestamp and label columns are required")
	ErrLabelIsKey           = errors.New("label column cannot be a key column")
)

// Config describes one churn feature pipeline
type Config struct {
	SourceTable  string `yaml:"sourceTable" default:"telco_churn_bronze" validate:"required"`
	FeatureTable string `yaml:"featureTable" default:"churn_feature_table" validate:"required"`
	LabelTable   string `yaml:"labelTable" default:"churn_label_table" validate:"required"`
	// OnlineTable is the Redis online table name, empty disables publishing
	OnlineTable string `yaml:"onlineTable" default:"churn_feature_table_online_table"`

	PrimaryKey      string `yaml:"primaryKey" default:"customer_id" validate:"required"`
	TimestampColumn string `yaml:"timestampColumn" default:"transaction_ts" validate:"required"`
	LabelColumn     string `yaml:"labelColumn" default:"churn" validate:"required"`

	ServiceColumns []string             `yaml:"serviceColumns"`
	Clean          features.CleanConfig `yaml:"clean"`

	Seed   int64        `yaml:"seed" default:"42"`
	Ratios split.Ratios `yaml:"ratios"`

	WriteMode         featurestore.WriteMode `yaml:"writeMode" default:"merge" validate:"oneof=merge overwrite"`
	DropExisting      bool                   `yaml:"dropExisting" default:"true"`
	DropOnline        bool                   `yaml:"dropOnline" default:"true"`
	RegisterFunctions bool                   `yaml:"registerFunctions" default:"true"`
	Description       string                 `yaml:"description"`
}

// DefaultConfig returns the configuration of the telco churn demo pipeline
func DefaultConfig() Config {
	return Config{
		SourceTable:       "telco_churn_bronze",
		FeatureTable:      "churn_feature_table",
		LabelTable:        "churn_label_table",
		OnlineTable:       "churn_feature_table_online_table",
		PrimaryKey:        "customer_id",
		TimestampColumn:   "transaction_ts",
		LabelColumn:       "churn",
		ServiceColumns:    features.DefaultServiceColumns(),
		Clean:             features.DefaultCleanConfig(),
		Seed:              42,
		Ratios:            split.DefaultRatios(),
		WriteMode:         featurestore.WriteModeMerge,
		DropExisting:      true,
		DropOnline:        true,
		RegisterFunctions: true,
	}
}

// Validate checks the configuration and fills derived fields
func (c *Config) Validate() error {
	if c.SourceTable == "" {
		return ErrSourceTableRequired
	}

	if c.FeatureTable == "" {
		return ErrFeatureTableRequired
	}

	if c.LabelTable == "" {
		return ErrLabelTableRequired
	}

	if c.PrimaryKey == "" || c.TimestampColumn == "" || c.LabelColumn == "" {
		return ErrKeyColumnsRequired
	}

	if c.LabelColumn == c.PrimaryKey || c.LabelColumn == c.TimestampColumn {
		return fmt.Errorf("%w: %s", ErrLabelIsKey, c.LabelColumn)
	}

	if err := c.WriteMode.Validate(); err != nil {
		return err
	}

	if err := c.Ratios.Validate(); err != nil {
		return fmt.Errorf("invalid split ratios: %w", err)
	}

	if len(c.ServiceColumns) == 0 {
		c.ServiceColumns = features.DefaultServiceColumns()
	}

	if c.Clean.PrimaryKey == "" {
		c.Clean.PrimaryKey = c.PrimaryKey
	}

	if c.Description == "" {
		c.Description = fmt.Sprintf("These features are derived from the %s table. "+
			"We created service features and cleaned up their names. No aggregations were performed. "+
			"This table does not store the ground-truth and can be joined with %s for model search.",
			c.SourceTable, c.LabelTable)
	}

	return nil
}
