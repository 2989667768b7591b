package features

import (
	"context"

	"github.com/ethpandaops/chfs/pkg/frame"
)

// Semantic types attached to column metadata for schema-driven consumers
const (
	SemanticNative  = "native"
	SemanticNumeric = "numeric"
)

// CleanConfig names the columns touched by CleanChurnFeatures
type CleanConfig struct {
	PrimaryKey    string   `yaml:"primaryKey" default:"customer_id"`
	SeniorCitizen string   `yaml:"seniorCitizen" default:"senior_citizen"`
	TotalCharges  string   `yaml:"totalCharges" default:"total_charges"`
	FillZero      []string `yaml:"fillZero"`
}

// DefaultCleanConfig returns the column layout of the telco churn dataset
func DefaultCleanConfig() CleanConfig {
	return CleanConfig{
		PrimaryKey:    "customer_id",
		SeniorCitizen: "senior_citizen",
		TotalCharges:  "total_charges",
		FillZero:      []string{"tenure", "monthly_charges", "total_charges"},
	}
}

func (c CleanConfig) withDefaults() CleanConfig {
	def := DefaultCleanConfig()
	if c.PrimaryKey == "" {
		c.PrimaryKey = def.PrimaryKey
	}
	if c.SeniorCitizen == "" {
		c.SeniorCitizen = def.SeniorCitizen
	}
	if c.TotalCharges == "" {
		c.TotalCharges = def.TotalCharges
	}
	if len(c.FillZero) == 0 {
		c.FillZero = def.FillZero
	}

	return c
}

// CleanChurnFeatures normalizes the raw churn columns:
//
//   - the 0/1 senior citizen flag becomes "Yes"/"No"
//   - total charges become a real number, including values ingested as text
//   - missing tenure, monthly and total charges are filled with 0.0
//   - the primary key is tagged as a native column and the optional service
//     count as numeric
//
// Columns absent from the input are skipped. Values that cannot be converted
// are treated as missing; nothing here returns an error other than context
// cancellation.
func CleanChurnFeatures(ctx context.Context, t *frame.Table, cfg CleanConfig) (*frame.Table, error) {
	cfg = cfg.withDefaults()
	schema := t.Schema()

	var err error

	if schema.Has(cfg.SeniorCitizen) {
		t, err = t.Remap(ctx, cfg.SeniorCitizen, frame.TypeString, map[string]any{
			"1":     "Yes",
			"0":     "No",
			"true":  "Yes",
			"false": "No",
		})
		if err != nil {
			return nil, err
		}
	}

	// Zero-filled columns are cast first so that text ingested values are not
	// mistaken for missing ones.
	numeric := append([]string{cfg.TotalCharges}, cfg.FillZero...)
	fill := make(map[string]any, len(numeric))
	cast := make(map[string]struct{}, len(numeric))

	for _, name := range numeric {
		if _, done := cast[name]; done || !schema.Has(name) {
			continue
		}
		cast[name] = struct{}{}

		t, err = t.Cast(ctx, name, frame.TypeFloat64)
		if err != nil {
			return nil, err
		}
	}

	for _, name := range cfg.FillZero {
		fill[name] = 0.0
	}

	t, err = t.FillNA(ctx, fill)
	if err != nil {
		return nil, err
	}

	if schema.Has(cfg.PrimaryKey) {
		t, err = t.WithMetadata(cfg.PrimaryKey, map[string]string{frame.MetadataSemanticType: SemanticNative})
		if err != nil {
			return nil, err
		}
	}

	if schema.Has(ColumnNumOptionalServices) {
		t, err = t.WithMetadata(ColumnNumOptionalServices, map[string]string{frame.MetadataSemanticType: SemanticNumeric})
		if err != nil {
			return nil, err
		}
	}

	return t, nil
}
