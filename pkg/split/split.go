// Package split assigns records to train, validate and test sets using a
// seeded draw derived from each record's primary key.
package split

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/ethpandaops/chfs/pkg/frame"
)

// Split names
const (
	Train    = "train"
	Validate = "validate"
	Test     = "test"
)

// ColumnSplit is the column holding the split assignment
const ColumnSplit = "split"

const ratioTolerance = 1e-9

var (
	// ErrRatioOutOfRange is returned when a ratio is outside [0, 1]
	ErrRatioOutOfRange = errors.New("split ratio must be within [0, 1]")
	// ErrRatioSumExceeded is returned when ratios sum to more than 1
	ErrRatioSumExceeded = errors.New("split ratios must not sum to more than 1")
)

// Ratios configures the share of records assigned to each split. Test takes
// whatever train and validate leave over.
type Ratios struct {
	Train    float64 `yaml:"train" default:"0.7"`
	Validate float64 `yaml:"validate" default:"0.2"`
}

// DefaultRatios returns a 70/20/10 split
func DefaultRatios() Ratios {
	return Ratios{Train: 0.7, Validate: 0.2}
}

// TestShare returns the share left over for the test split
func (r Ratios) TestShare() float64 {
	return max(0, 1-r.Train-r.Validate)
}

// Validate checks each ratio is a fraction and train plus validate does not
// exceed 1
func (r Ratios) Validate() error {
	for name, v := range map[string]float64{Train: r.Train, Validate: r.Validate} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %s=%v", ErrRatioOutOfRange, name, v)
		}
	}

	if sum := r.Train + r.Validate; sum > 1+ratioTolerance {
		return fmt.Errorf("%w: %v", ErrRatioSumExceeded, sum)
	}

	return nil
}

// Assign maps a draw in [0, 1) to a split name
func (r Ratios) Assign(draw float64) string {
	switch {
	case draw < r.Train:
		return Train
	case draw < r.Train+r.Validate:
		return Validate
	default:
		return Test
	}
}

// Draw returns a pseudo-random number in [0, 1) that depends only on the
// seed and the key
func Draw(seed int64, key string) float64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed)) //nolint:gosec // bit pattern only

	d := xxhash.New()
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(key)

	// Top 53 bits give a uniformly distributed float64 mantissa.
	return float64(d.Sum64()>>11) / (1 << 53)
}

// Labeler adds a split column to a table
type Labeler struct {
	ratios     Ratios
	seed       int64
	primaryKey string
}

// NewLabeler creates a labeler. Ratios are validated up front.
func NewLabeler(ratios Ratios, seed int64, primaryKey string) (*Labeler, error) {
	if err := ratios.Validate(); err != nil {
		return nil, err
	}

	return &Labeler{
		ratios:     ratios,
		seed:       seed,
		primaryKey: primaryKey,
	}, nil
}

// AssignKey returns the split for a primary key value
func (l *Labeler) AssignKey(key string) string {
	return l.ratios.Assign(Draw(l.seed, key))
}

// Label returns a copy of the table with the split column added. The
// assignment of a record depends only on the seed and its primary key, so
// it is stable across runs, row orders and partitionings.
func (l *Labeler) Label(ctx context.Context, t *frame.Table) (*frame.Table, error) {
	if !t.Schema().Has(l.primaryKey) {
		return nil, fmt.Errorf("%w: %s", frame.ErrColumnNotFound, l.primaryKey)
	}

	col := frame.Column{Name: ColumnSplit, Type: frame.TypeString}

	return t.WithColumn(ctx, col, func(r frame.Record) any {
		key, _ := frame.ToString(r[l.primaryKey])
		return l.AssignKey(key)
	})
}

// Counts tallies the split column of a labelled table
func Counts(t *frame.Table) map[string]int {
	counts := map[string]int{Train: 0, Validate: 0, Test: 0}
	for _, r := range t.Rows() {
		if s, ok := r[ColumnSplit].(string); ok {
			counts[s]++
		}
	}

	return counts
}
