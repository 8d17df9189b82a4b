package engine

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/paveg/tabula/internal/chart"
	"github.com/paveg/tabula/internal/coltype"
	"github.com/paveg/tabula/internal/errors"
	"github.com/paveg/tabula/internal/query"
	"github.com/paveg/tabula/internal/relation"
)

// ArrowEngine evaluates plans in process over Arrow arrays.
type ArrowEngine struct{}

// NewArrowEngine creates the in-process engine.
func NewArrowEngine() *ArrowEngine { return &ArrowEngine{} }

// Name implements Engine.
func (*ArrowEngine) Name() string { return "arrow" }

// Execute implements Engine.
func (e *ArrowEngine) Execute(ctx context.Context, plan query.Plan, rel *relation.Relation) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewEngineError(e.Name(), "execute", err)
	}
	var (
		res *Result
		err error
	)
	switch p := plan.(type) {
	case *query.CategoricalPlan:
		res, err = e.categorical(p, rel)
	case *query.TimeSeriesPlan:
		res, err = e.timeSeries(p, rel)
	case *query.HistogramPlan:
		res, err = e.histogram(p, rel)
	case *query.CorrelationPlan:
		res, err = e.correlation(ctx, p, rel)
	default:
		err = fmt.Errorf("unsupported plan %T", plan)
	}
	if err != nil {
		return nil, errors.NewEngineError(e.Name(), "execute", err)
	}
	return res, nil
}

func column(rel *relation.Relation, name string) (arrow.Array, error) {
	col, ok := rel.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("column %q not in relation", name)
	}
	return col.Data, nil
}

// valueReader reads the aggregated value of row i. Numeric columns yield
// their value; other columns (only valid under count) yield presence.
func valueReader(rel *relation.Relation, name string) (func(int) (float64, bool), error) {
	arr, err := column(rel, name)
	if err != nil {
		return nil, err
	}
	if coltype.Classify(arr.DataType()) == coltype.Numeric {
		return func(i int) (float64, bool) { return relation.FloatAt(arr, i) }, nil
	}
	return func(i int) (float64, bool) { return 0, arr.IsValid(i) }, nil
}

func noValue(int) (float64, bool) { return 0, false }

func (e *ArrowEngine) categorical(p *query.CategoricalPlan, rel *relation.Relation) (*Result, error) {
	cat, err := column(rel, p.Category.Name)
	if err != nil {
		return nil, err
	}
	read := noValue
	if p.Value != nil {
		if read, err = valueReader(rel, p.Value.Name); err != nil {
			return nil, err
		}
	}

	idx := newGroupIndex(p.Agg == chart.AggMedian)
	all := &group{}
	var rows int64
	for i := range rel.Len() {
		label, ok := relation.LabelAt(cat, i)
		if !ok {
			continue
		}
		rows++
		v, valid := read(i)
		idx.get(label, i).add(v, valid, idx.keepValues)
		all.add(v, valid, false)
	}

	ranked := idx.rank(p.Agg, p.Value != nil)
	series := Series{Name: p.SeriesName(), Points: []Point{}}
	for _, g := range ranked[:min(p.TopK, len(ranked))] {
		series.Points = append(series.Points, Point{Label: g.key, Value: g.result})
	}
	res := &Result{Series: []Series{series}, RowsConsidered: rows, Groups: idx.len()}
	if p.WantTotal {
		res.Total = all.value(p.Agg, p.Value != nil)
	}
	return res, nil
}

func (e *ArrowEngine) timeSeries(p *query.TimeSeriesPlan, rel *relation.Relation) (*Result, error) {
	tcol, err := column(rel, p.Time.Name)
	if err != nil {
		return nil, err
	}
	read := noValue
	if p.Value != nil {
		if read, err = valueReader(rel, p.Value.Name); err != nil {
			return nil, err
		}
	}
	var scol arrow.Array
	if p.Series != nil {
		if scol, err = column(rel, p.Series.Name); err != nil {
			return nil, err
		}
	}

	keep := p.Agg == chart.AggMedian
	seriesIdx := newGroupIndex(keep)
	// bucket groups per series group
	points := make(map[*group]*groupIndex)
	var rows int64
	for i := range rel.Len() {
		t, ok := relation.TimeAt(tcol, i)
		if !ok || !p.InWindow(t) {
			continue
		}
		name := p.SeriesName()
		if scol != nil {
			if name, ok = relation.LabelAt(scol, i); !ok {
				continue
			}
		}
		rows++
		bucket := relation.FormatTime(query.BucketStart(t, p.Granularity))
		v, valid := read(i)
		sg := seriesIdx.get(name, i)
		sg.add(v, valid, keep)
		bi, ok := points[sg]
		if !ok {
			bi = newGroupIndex(keep)
			points[sg] = bi
		}
		bi.get(bucket, i).add(v, valid, keep)
	}

	res := &Result{RowsConsidered: rows, Groups: seriesIdx.len(), Series: []Series{}}
	hasValue := p.Value != nil
	ranked := seriesIdx.rank(p.Agg, hasValue)
	if scol != nil {
		ranked = ranked[:min(p.TopK, len(ranked))]
	}

	for _, s := range ranked {
		bs := slices.Clone(points[s.group].groups)
		slices.SortFunc(bs, func(a, b *group) int { return strings.Compare(a.key, b.key) })
		series := Series{Name: s.key, Points: make([]Point, 0, len(bs))}
		for _, g := range bs {
			series.Points = append(series.Points, Point{Label: g.key, Value: g.value(p.Agg, hasValue)})
		}
		res.Series = append(res.Series, series)
	}
	return res, nil
}

func (e *ArrowEngine) histogram(p *query.HistogramPlan, rel *relation.Relation) (*Result, error) {
	if p.Bins < 1 {
		return nil, fmt.Errorf("bins must be positive, got %d", p.Bins)
	}
	arr, err := column(rel, p.Value.Name)
	if err != nil {
		return nil, err
	}
	values := make([]float64, 0, rel.Len())
	for i := range rel.Len() {
		if v, ok := relation.FloatAt(arr, i); ok {
			values = append(values, v)
		}
	}

	stats := describe(values)
	hist := &Histogram{Stats: stats, Edges: []float64{}, Counts: []int64{}}
	if stats.Count > 0 {
		lo, hi := query.HistogramRange(*stats.Min, *stats.Max)
		sparse := make(map[int]int64)
		for _, v := range values {
			sparse[query.BinIndex(v, lo, hi, p.Bins)]++
		}
		hist.Edges, hist.Counts = FillBins(p.Bins, *stats.Min, *stats.Max, sparse)
	}
	return &Result{RowsConsidered: stats.Count, Histogram: hist}, nil
}

// describe computes count, range, mean, median and sample standard deviation.
func describe(values []float64) Stats {
	s := Stats{Count: int64(len(values))}
	if len(values) == 0 {
		return s
	}
	lo, hi, sum := values[0], values[0], 0.0
	for _, v := range values {
		lo, hi = min(lo, v), max(hi, v)
		sum += v
	}
	mean := sum / float64(len(values))
	s.Min, s.Max, s.Mean = float(lo), float(hi), float(mean)
	s.Median = median(values)
	if len(values) > 1 {
		var ss float64
		for _, v := range values {
			ss += (v - mean) * (v - mean)
		}
		s.Std = float(math.Sqrt(ss / float64(len(values)-1)))
	}
	return s
}

func (e *ArrowEngine) correlation(ctx context.Context, p *query.CorrelationPlan, rel *relation.Relation) (*Result, error) {
	cols := make([]arrow.Array, len(p.Cols))
	for i, c := range p.Cols {
		arr, err := column(rel, c.Name)
		if err != nil {
			return nil, err
		}
		cols[i] = arr
	}

	m := NewMatrix(p.Columns())
	xs := make([]float64, 0, rel.Len())
	ys := make([]float64, 0, rel.Len())
	for i := range cols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(cols); j++ {
			xs, ys = xs[:0], ys[:0]
			for row := range rel.Len() {
				x, okx := relation.FloatAt(cols[i], row)
				y, oky := relation.FloatAt(cols[j], row)
				if okx && oky {
					xs = append(xs, x)
					ys = append(ys, y)
				}
			}
			m.Set(i, j, pearsonOf(xs, ys))
		}
	}
	return &Result{RowsConsidered: int64(rel.Len()), Correlation: m, Series: []Series{}}, nil
}

// pearsonOf is the two-pass Pearson coefficient of paired samples.
func pearsonOf(xs, ys []float64) *float64 {
	n := len(xs)
	if n < 2 {
		return nil
	}
	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= float64(n)
	my /= float64(n)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	return Pearson(int64(n), sxy, sxx, syy)
}
