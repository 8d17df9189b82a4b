// Package engine executes aggregation plans.
//
// ArrowEngine evaluates plans directly over the relation's Arrow arrays.
// The sqlengine subpackage loads the relation into an in-memory SQLite table
// and runs the statements the plan renders. Both produce the same Result.
package engine

import (
	"context"
	"math"

	"github.com/paveg/tabula/internal/query"
	"github.com/paveg/tabula/internal/relation"
)

// Engine executes a plan over a relation.
type Engine interface {
	Name() string
	Execute(ctx context.Context, plan query.Plan, rel *relation.Relation) (*Result, error)
}

// Point is one labelled value of a series. A nil Value is a group whose
// aggregate is undefined (mean or median of only null values).
type Point struct {
	Label string
	Value *float64
}

// Series is an ordered list of points.
type Series struct {
	Name   string
	Points []Point
}

// Stats summarizes the values of a histogram column.
type Stats struct {
	Count  int64
	Min    *float64
	Max    *float64
	Mean   *float64
	Median *float64
	// Std is the sample standard deviation, nil below two values.
	Std *float64
}

// Histogram holds Bins+1 edges and Bins counts.
type Histogram struct {
	Edges  []float64
	Counts []int64
	Stats  Stats
}

// Matrix is a symmetric correlation matrix with a unit diagonal. Entries are
// nil when fewer than two complete pairs exist or a variance is zero.
type Matrix struct {
	Columns []string
	R       [][]*float64
}

// Result is the engine-neutral outcome of a plan.
type Result struct {
	Series []Series
	// RowsConsidered counts the rows that passed the plan's filters.
	RowsConsidered int64
	// Groups counts the groups (or series) before the top-K cut.
	Groups int
	// Total is the aggregate over every group, set for additive
	// categorical plans.
	Total       *float64
	Histogram   *Histogram
	Correlation *Matrix
}

func float(v float64) *float64 { return &v }

// Pearson turns centered sums into a correlation coefficient.
func Pearson(n int64, sxy, sxx, syy float64) *float64 {
	if n < 2 || sxx <= 0 || syy <= 0 {
		return nil
	}
	r := sxy / math.Sqrt(sxx*syy)
	if math.IsNaN(r) {
		return nil
	}
	return float(max(-1, min(1, r)))
}

// NewMatrix allocates an n×n matrix with a unit diagonal.
func NewMatrix(columns []string) *Matrix {
	m := &Matrix{Columns: columns, R: make([][]*float64, len(columns))}
	for i := range m.R {
		m.R[i] = make([]*float64, len(columns))
		m.R[i][i] = float(1)
	}
	return m
}

// Set stores r at (i, j) and (j, i).
func (m *Matrix) Set(i, j int, r *float64) {
	m.R[i][j] = r
	m.R[j][i] = r
}

// FillBins completes sparse per-bucket counts into a dense histogram.
func FillBins(bins int, lo, hi float64, sparse map[int]int64) ([]float64, []int64) {
	lo, hi = query.HistogramRange(lo, hi)
	counts := make([]int64, bins)
	for idx, c := range sparse {
		if idx >= 0 && idx < bins {
			counts[idx] += c
		}
	}
	return query.BinEdges(lo, hi, bins), counts
}
