package featurestore

import (
	"context"

	"github.com/ethpandaops/chfs/pkg/frame"
)

// LabelTableDescription is the description stored on published label tables
const LabelTableDescription = "Ground-truth labels with the train/validate/test split assignment. Kept apart from the feature table to avoid label leakage."

// PublishLabels replaces the label table with t, schema included. The key
// columns become non-nullable and form the composite primary key
// (primaryKey, timestampColumn).
func PublishLabels(ctx context.Context, c Client, name string, t *frame.Table, primaryKey, timestampColumn string) (*TableHandle, error) {
	return c.ReplaceTable(ctx, TableSpec{
		Name:             name,
		PrimaryKeys:      []string{primaryKey, timestampColumn},
		Schema:           t.Schema(),
		TimeseriesColumn: timestampColumn,
		Description:      LabelTableDescription,
	}, t)
}
