// Package features implements the churn featurization steps: counting the
// optional services a customer has enabled and cleaning the raw billing and
// demographic columns.
package features

import (
	"context"

	"github.com/ethpandaops/chfs/pkg/frame"
)

const (
	// ColumnNumOptionalServices holds the count of enabled optional services
	ColumnNumOptionalServices = "num_optional_services"

	// ServiceEnabled is the only value counted as an enabled service
	ServiceEnabled = "Yes"
)

// DefaultServiceColumns returns the optional service columns tracked by
// default
func DefaultServiceColumns() []string {
	return []string{
		"online_security",
		"online_backup",
		"device_protection",
		"tech_support",
		"streaming_tv",
		"streaming_movies",
	}
}

// CountEnabledServices returns how many of the given columns hold "Yes" on
// the record. Missing or unexpected values do not count.
func CountEnabledServices(r frame.Record, columns []string) float64 {
	var n float64
	for _, c := range columns {
		if v, ok := r[c].(string); ok && v == ServiceEnabled {
			n++
		}
	}

	return n
}

// ComputeServiceFeatures adds the num_optional_services column. When no
// columns are given the default service columns are used.
func ComputeServiceFeatures(ctx context.Context, t *frame.Table, columns ...string) (*frame.Table, error) {
	if len(columns) == 0 {
		columns = DefaultServiceColumns()
	}

	col := frame.Column{Name: ColumnNumOptionalServices, Type: frame.TypeFloat64}

	return t.WithColumn(ctx, col, func(r frame.Record) any {
		return CountEnabledServices(r, columns)
	})
}
