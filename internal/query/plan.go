// Package query turns resolved chart requests into aggregation plans.
//
// A plan is engine-neutral: the Arrow engine evaluates it directly over the
// relation, and Statements renders it as parameterized SQL for engines that
// load the relation into a table. Identifiers in the SQL come only from
// schema-validated column names and are always quoted; every scalar (limits,
// bucket counts, window bounds) is a bound argument.
package query

import (
	"fmt"
	"time"

	"github.com/paveg/tabula/internal/chart"
)

// RowColumn is the source row number column of the loaded table.
const RowColumn = "_row"

// StorageTimeLayout is the text form of timestamps in SQL tables. It sorts
// lexicographically in time order.
const StorageTimeLayout = "2006-01-02 15:04:05.000000"

// Plan is one of CategoricalPlan, TimeSeriesPlan, HistogramPlan or
// CorrelationPlan.
type Plan interface {
	Kind() chart.Kind
	Title() string
	// Columns lists the relation columns the plan reads.
	Columns() []string
	// Statements renders the plan against table.
	Statements(table string) ([]Statement, error)
}

// Statement is one parameterized SQL statement of a plan.
type Statement struct {
	Name string
	SQL  string
	Args []any
}

// CategoricalPlan groups by a category column (nulls dropped), aggregates,
// orders by value descending with ties broken by first-seen row, and keeps
// the first TopK groups.
type CategoricalPlan struct {
	ChartKind chart.Kind
	Name      string
	Category  chart.ColumnRef
	Value     *chart.ColumnRef
	Agg       chart.Aggregation
	TopK      int
	// WantTotal asks for the aggregate over every group, set for additive
	// aggregations so the remainder outside the top K can be reported.
	WantTotal bool
}

func (p *CategoricalPlan) Kind() chart.Kind { return p.ChartKind }
func (p *CategoricalPlan) Title() string    { return p.Name }

func (p *CategoricalPlan) Columns() []string {
	if p.Value == nil {
		return []string{p.Category.Name}
	}
	return []string{p.Category.Name, p.Value.Name}
}

// SeriesName is the name of the single value series.
func (p *CategoricalPlan) SeriesName() string {
	if p.Value == nil {
		return "count"
	}
	return p.Value.Name
}

// TimeSeriesPlan buckets a time column, aggregates per bucket and optionally
// splits into one series per value of a group column. Series are capped at
// TopK by their total aggregate, descending, ties by first-seen row.
type TimeSeriesPlan struct {
	Name        string
	Time        chart.ColumnRef
	Value       *chart.ColumnRef
	Agg         chart.Aggregation
	Granularity chart.Granularity
	Series      *chart.ColumnRef
	TopK        int
	// Start and End bound the window inclusively; nil is open.
	Start *time.Time
	End   *time.Time
}

func (p *TimeSeriesPlan) Kind() chart.Kind { return chart.KindTimeSeries }
func (p *TimeSeriesPlan) Title() string    { return p.Name }

func (p *TimeSeriesPlan) Columns() []string {
	cols := []string{p.Time.Name}
	if p.Value != nil {
		cols = append(cols, p.Value.Name)
	}
	if p.Series != nil {
		cols = append(cols, p.Series.Name)
	}
	return cols
}

// SeriesName is the name of the value series when there is no split.
func (p *TimeSeriesPlan) SeriesName() string {
	if p.Value == nil {
		return "count"
	}
	return p.Value.Name
}

// InWindow reports whether t falls inside the inclusive window.
func (p *TimeSeriesPlan) InWindow(t time.Time) bool {
	if p.Start != nil && t.Before(*p.Start) {
		return false
	}
	if p.End != nil && t.After(*p.End) {
		return false
	}
	return true
}

// HistogramPlan counts values of one numeric column into Bins equal-width
// buckets over [min, max].
type HistogramPlan struct {
	Name     string
	Value    chart.ColumnRef
	Bins     int
	AutoBins bool
}

func (p *HistogramPlan) Kind() chart.Kind  { return chart.KindDistribution }
func (p *HistogramPlan) Title() string     { return p.Name }
func (p *HistogramPlan) Columns() []string { return []string{p.Value.Name} }

// CorrelationPlan computes pairwise-complete Pearson correlation.
type CorrelationPlan struct {
	Name    string
	Cols    []chart.ColumnRef
	Auto    bool
	Dropped []string
}

func (p *CorrelationPlan) Kind() chart.Kind { return chart.KindCorrelation }
func (p *CorrelationPlan) Title() string    { return p.Name }

func (p *CorrelationPlan) Columns() []string {
	names := make([]string, len(p.Cols))
	for i, c := range p.Cols {
		names[i] = c.Name
	}
	return names
}

// Build turns a resolved request into its plan.
func Build(res chart.Resolved) (Plan, error) {
	switch r := res.(type) {
	case *chart.Categorical:
		return &CategoricalPlan{
			ChartKind: r.ChartKind,
			Name:      r.Title,
			Category:  r.Category,
			Value:     r.Value,
			Agg:       r.Agg,
			TopK:      r.TopK,
			WantTotal: r.Agg.Additive(),
		}, nil
	case *chart.TimeSeries:
		p := &TimeSeriesPlan{
			Name:        r.Title,
			Time:        r.Time,
			Value:       r.Value,
			Agg:         r.Agg,
			Granularity: r.Granularity,
			Series:      r.GroupBy,
			TopK:        r.TopK,
		}
		if r.Window != nil {
			p.Start, p.End = r.Window.Start, r.Window.End
		}
		return p, nil
	case *chart.Distribution:
		return &HistogramPlan{Name: r.Title, Value: r.Value, Bins: r.Bins, AutoBins: r.AutoBins}, nil
	case *chart.Correlation:
		return &CorrelationPlan{Name: r.Title, Cols: r.Cols, Auto: r.Auto, Dropped: r.Dropped}, nil
	case nil:
		return nil, fmt.Errorf("build plan: nil request")
	default:
		return nil, fmt.Errorf("build plan: unsupported request %T", res)
	}
}

// BucketStart truncates t to the start of its bucket in UTC. Weeks start on
// Monday.
func BucketStart(t time.Time, g chart.Granularity) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch g {
	case chart.Week:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case chart.Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

// HistogramRange widens a degenerate range by half a unit on each side.
func HistogramRange(lo, hi float64) (float64, float64) {
	if lo == hi {
		return lo - 0.5, hi + 0.5
	}
	return lo, hi
}

// BinIndex places v into one of bins equal-width buckets over [lo, hi].
// Buckets are closed-open except the last, which also holds hi.
func BinIndex(v, lo, hi float64, bins int) int {
	width := (hi - lo) / float64(bins)
	idx := int((v - lo) / width)
	if idx >= bins {
		idx = bins - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// BinEdges returns the bins+1 bucket edges over [lo, hi].
func BinEdges(lo, hi float64, bins int) []float64 {
	width := (hi - lo) / float64(bins)
	edges := make([]float64, bins+1)
	for i := range bins {
		edges[i] = lo + float64(i)*width
	}
	edges[bins] = hi
	return edges
}
