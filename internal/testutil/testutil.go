// Package testutil provides fixtures shared by package tests:
//   - allocator setup with leak checking
//   - typed column constructors with optional null masks
//   - a standard sales relation with configurable size and nulls
package testutil

import (
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/tabula/internal/relation"
	"github.com/stretchr/testify/require"
)

const (
	// defaultRowCount is the default number of rows in the sales fixture.
	defaultRowCount = 6
)

// TestMemoryContext provides a checked allocator that must be empty on Release.
type TestMemoryContext struct {
	Allocator memory.Allocator
	cleanup   func()
}

// Release asserts every allocation was freed.
func (tmc *TestMemoryContext) Release() {
	if tmc.cleanup != nil {
		tmc.cleanup()
	}
}

// SetupMemoryTest creates a leak-checking allocator.
//
// Example usage:
//
//	mem := testutil.SetupMemoryTest(t)
//	defer mem.Release()
func SetupMemoryTest(tb testing.TB) *TestMemoryContext {
	tb.Helper()
	checked := memory.NewCheckedAllocator(memory.NewGoAllocator())
	return &TestMemoryContext{
		Allocator: checked,
		cleanup:   func() { checked.AssertSize(tb, 0) },
	}
}

// Int64s builds an int64 column; valid may be nil for no nulls.
func Int64s(mem memory.Allocator, name string, values []int64, valid []bool) relation.Column {
	b := array.NewInt64Builder(mem)
	defer b.Release()
	b.AppendValues(values, valid)
	return relation.Column{Name: name, Data: b.NewArray()}
}

// Float64s builds a float64 column; valid may be nil for no nulls.
func Float64s(mem memory.Allocator, name string, values []float64, valid []bool) relation.Column {
	b := array.NewFloat64Builder(mem)
	defer b.Release()
	b.AppendValues(values, valid)
	return relation.Column{Name: name, Data: b.NewArray()}
}

// Strings builds a string column; valid may be nil for no nulls.
func Strings(mem memory.Allocator, name string, values []string, valid []bool) relation.Column {
	b := array.NewStringBuilder(mem)
	defer b.Release()
	b.AppendValues(values, valid)
	return relation.Column{Name: name, Data: b.NewArray()}
}

// Bools builds a boolean column; valid may be nil for no nulls.
func Bools(mem memory.Allocator, name string, values []bool, valid []bool) relation.Column {
	b := array.NewBooleanBuilder(mem)
	defer b.Release()
	b.AppendValues(values, valid)
	return relation.Column{Name: name, Data: b.NewArray()}
}

// Times builds a UTC microsecond timestamp column; valid may be nil.
func Times(mem memory.Allocator, name string, values []time.Time, valid []bool) relation.Column {
	b := array.NewTimestampBuilder(mem, &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"})
	defer b.Release()
	for i, v := range values {
		if valid != nil && !valid[i] {
			b.AppendNull()
			continue
		}
		b.Append(arrow.Timestamp(v.UnixMicro()))
	}
	return relation.Column{Name: name, Data: b.NewArray()}
}

// Nulls builds an all-null column of length n.
func Nulls(name string, n int) relation.Column {
	return relation.Column{Name: name, Data: array.NewNull(n)}
}

// NewRelation assembles columns and fails the test on error.
func NewRelation(tb testing.TB, columns ...relation.Column) *relation.Relation {
	tb.Helper()
	rel, err := relation.New(columns)
	require.NoError(tb, err)
	return rel
}

// RelationOption configures the sales fixture.
type RelationOption func(*salesConfig)

type salesConfig struct {
	includeNulls bool
	rowCount     int
}

// WithNulls nulls out every third units and price value.
func WithNulls() RelationOption {
	return func(cfg *salesConfig) {
		cfg.includeNulls = true
	}
}

// WithRowCount sets the number of rows.
func WithRowCount(count int) RelationOption {
	return func(cfg *salesConfig) {
		cfg.rowCount = count
	}
}

var regions = []string{"north", "south", "east", "west"}

// SalesStart is the first sold_at instant of the sales fixture.
var SalesStart = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// CreateSalesRelation builds the standard fixture:
//   - region (string): north, south, east, west repeating
//   - units (int64): 1, 2, 3, ...
//   - price (float64): 1.5, 3.0, 4.5, ...
//   - sold_at (timestamp): one per day from SalesStart
//   - returned (bool): true on every fourth row
func CreateSalesRelation(tb testing.TB, mem memory.Allocator, opts ...RelationOption) *relation.Relation {
	tb.Helper()
	cfg := &salesConfig{rowCount: defaultRowCount}
	for _, opt := range opts {
		opt(cfg)
	}

	n := cfg.rowCount
	region := make([]string, n)
	units := make([]int64, n)
	price := make([]float64, n)
	soldAt := make([]time.Time, n)
	returned := make([]bool, n)
	var valid []bool
	if cfg.includeNulls {
		valid = make([]bool, n)
	}
	for i := 0; i < n; i++ {
		region[i] = regions[i%len(regions)]
		units[i] = int64(i + 1)
		price[i] = 1.5 * float64(i+1)
		soldAt[i] = SalesStart.AddDate(0, 0, i)
		returned[i] = i%4 == 3
		if valid != nil {
			valid[i] = i%3 != 2
		}
	}

	return NewRelation(tb,
		Strings(mem, "region", region, nil),
		Int64s(mem, "units", units, valid),
		Float64s(mem, "price", price, valid),
		Times(mem, "sold_at", soldAt, nil),
		Bools(mem, "returned", returned, nil),
	)
}
