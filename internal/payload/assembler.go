package payload

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/paveg/tabula/internal/chart"
	"github.com/paveg/tabula/internal/engine"
	"github.com/paveg/tabula/internal/query"
	"github.com/paveg/tabula/internal/relation"
)

const (
	topCorrelations = 5
	// othersNoteRatio is the share of the total outside the top K above
	// which the chart is flagged as unrepresentative.
	othersNoteRatio = 0.5
)

// Assembler executes plans and shapes their results.
type Assembler struct {
	engine engine.Engine
	newID  func() string
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithIDGenerator replaces the random chart id source.
func WithIDGenerator(gen func() string) Option {
	return func(a *Assembler) { a.newID = gen }
}

// NewAssembler creates an assembler over eng.
func NewAssembler(eng engine.Engine, opts ...Option) *Assembler {
	a := &Assembler{engine: eng, newID: uuid.NewString}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Engine returns the engine plans run on.
func (a *Assembler) Engine() engine.Engine { return a.engine }

// Assemble runs plan over rel and builds the payload.
func (a *Assembler) Assemble(ctx context.Context, plan query.Plan, rel *relation.Relation) (*ChartPayload, error) {
	res, err := a.engine.Execute(ctx, plan, rel)
	if err != nil {
		return nil, err
	}

	p := &ChartPayload{
		ChartID:    a.newID(),
		ChartKind:  plan.Kind(),
		SeriesData: []Series{},
		LayoutMetadata: Layout{
			Title:     plan.Title(),
			ChartKind: plan.Kind(),
			Notes:     []string{},
		},
		Summary: map[string]any{
			KeyRowCount: res.RowsConsidered,
			KeyColumns:  plan.Columns(),
		},
		Meta: Meta{Columns: plan.Columns()},
	}

	switch pl := plan.(type) {
	case *query.CategoricalPlan:
		categorical(p, pl, res)
	case *query.TimeSeriesPlan:
		timeSeries(p, pl, res)
	case *query.HistogramPlan:
		histogram(p, pl, res)
	case *query.CorrelationPlan:
		correlation(p, pl, res)
	default:
		return nil, fmt.Errorf("assemble payload: unsupported plan %T", plan)
	}
	p.Meta.Notes = p.LayoutMetadata.Notes
	dropNonFinite(p)
	return p, nil
}

// dropNonFinite replaces aggregates that left the float64 range with null,
// so every payload encodes as JSON.
func dropNonFinite(p *ChartPayload) {
	for i := range p.SeriesData {
		points := p.SeriesData[i].Points
		for j := range points {
			if y := points[j].Y; y != nil && !finite(*y) {
				points[j].Y = nil
			}
		}
	}
	for k, v := range p.Summary {
		switch x := v.(type) {
		case float64:
			if !finite(x) {
				p.Summary[k] = nil
			}
		case *float64:
			if x != nil && !finite(*x) {
				p.Summary[k] = nil
			}
		}
	}
	if slices.ContainsFunc(p.LayoutMetadata.BinEdges, func(v float64) bool { return !finite(v) }) {
		p.LayoutMetadata.BinEdges = nil
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func (p *ChartPayload) note(format string, args ...any) {
	p.LayoutMetadata.Notes = append(p.LayoutMetadata.Notes, fmt.Sprintf(format, args...))
}

func convertSeries(in []engine.Series) []Series {
	out := make([]Series, 0, len(in))
	for _, s := range in {
		if len(s.Points) == 0 {
			continue
		}
		points := make([]Point, len(s.Points))
		for i, pt := range s.Points {
			points[i] = Point{X: pt.Label, Y: pt.Value}
		}
		out = append(out, Series{Name: s.Name, Points: points})
	}
	return out
}

func valueAxis(agg chart.Aggregation, value *chart.ColumnRef) string {
	if value == nil {
		return "Count"
	}
	return fmt.Sprintf("%s(%s)", agg, value.Name)
}

func categorical(p *ChartPayload, pl *query.CategoricalPlan, res *engine.Result) {
	p.SeriesData = convertSeries(res.Series)
	p.LayoutMetadata.XAxis = Axis{Title: pl.Category.Name}
	p.LayoutMetadata.YAxis = Axis{Title: valueAxis(pl.Agg, pl.Value)}
	if p.LayoutMetadata.Title == "" {
		if pl.ChartKind == chart.KindProportion {
			p.LayoutMetadata.Title = fmt.Sprintf("Share of %s", pl.Category.Name)
		} else {
			p.LayoutMetadata.Title = fmt.Sprintf("%s by %s", p.LayoutMetadata.YAxis.Title, pl.Category.Name)
		}
	}
	p.Meta.Aggregation = string(pl.Agg)
	p.Meta.TopK = pl.TopK

	s := p.Summary
	s[KeyAggregation] = string(pl.Agg)
	s[KeyCategoriesCount] = res.Groups

	var top *float64
	var shown float64
	for _, series := range p.SeriesData {
		for _, pt := range series.Points {
			if pt.Y == nil {
				continue
			}
			shown += *pt.Y
			if top == nil || *pt.Y > *top {
				top = pt.Y
			}
		}
	}
	s[KeyTopValue] = top
	s[KeyTotalValue] = res.Total
	if res.Total == nil {
		return
	}
	others := max(*res.Total-shown, 0)
	s[KeyOthersValue] = others
	if others > 0 && *res.Total > 0 && others / *res.Total > othersNoteRatio {
		p.note("Too many categories: %d of %d shown, the rest hold %.0f%% of the total",
			min(pl.TopK, res.Groups), res.Groups, 100*others / *res.Total)
	}
}

func timeSeries(p *ChartPayload, pl *query.TimeSeriesPlan, res *engine.Result) {
	p.SeriesData = convertSeries(res.Series)
	p.LayoutMetadata.XAxis = Axis{Title: pl.Time.Name, Type: "date"}
	p.LayoutMetadata.YAxis = Axis{Title: valueAxis(pl.Agg, pl.Value)}
	if p.LayoutMetadata.Title == "" {
		p.LayoutMetadata.Title = fmt.Sprintf("%s over time", pl.SeriesName())
	}
	p.Meta.Aggregation = string(pl.Agg)
	p.Meta.Freq = string(pl.Granularity)
	if pl.Series != nil {
		p.Meta.GroupBy = pl.Series.Name
		p.Meta.TopK = pl.TopK
	}

	if pl.Start != nil || pl.End != nil {
		p.note("Time range: %s to %s", bound(pl.Start), bound(pl.End))
	}
	if pl.Series != nil && res.Groups > len(p.SeriesData) {
		p.note("Showing the top %d of %d series by %s", len(p.SeriesData), res.Groups, pl.Agg)
	}

	s := p.Summary
	s[KeyAggregation] = string(pl.Agg)
	s[KeySeriesCount] = len(p.SeriesData)

	var (
		points      int
		lo, hi, sum float64
		defined     int
	)
	for _, series := range p.SeriesData {
		points += len(series.Points)
		for _, pt := range series.Points {
			if pt.Y == nil {
				continue
			}
			if defined == 0 {
				lo, hi = *pt.Y, *pt.Y
			}
			lo, hi = min(lo, *pt.Y), max(hi, *pt.Y)
			sum += *pt.Y
			defined++
		}
	}
	s[KeyDataPoints] = points
	if defined > 0 {
		s[KeyMinValue], s[KeyMaxValue], s[KeyMeanValue] = lo, hi, sum/float64(defined)
	} else {
		s[KeyMinValue], s[KeyMaxValue], s[KeyMeanValue] = nil, nil, nil
	}
	if len(p.SeriesData) > 0 {
		if pct, ok := pctChange(p.SeriesData[0].Points); ok {
			s[KeyPctChange] = pct
		}
	}
}

func bound(t *time.Time) string {
	if t == nil {
		return "open"
	}
	return relation.FormatTime(*t)
}

// pctChange compares the last two defined points relative to the signed
// earlier value; a zero base gives 0.
func pctChange(points []Point) (float64, bool) {
	var last []float64
	for i := len(points) - 1; i >= 0 && len(last) < 2; i-- {
		if points[i].Y != nil {
			last = append(last, *points[i].Y)
		}
	}
	if len(last) < 2 {
		return 0, false
	}
	cur, prev := last[0], last[1]
	if prev == 0 {
		return 0, true
	}
	return (cur - prev) / prev * 100, true
}

func histogram(p *ChartPayload, pl *query.HistogramPlan, res *engine.Result) {
	p.LayoutMetadata.XAxis = Axis{Title: pl.Value.Name}
	p.LayoutMetadata.YAxis = Axis{Title: "Frequency"}
	if p.LayoutMetadata.Title == "" {
		p.LayoutMetadata.Title = fmt.Sprintf("Distribution of %s", pl.Value.Name)
	}
	p.Meta.Bins = pl.Bins
	p.Meta.Aggregation = string(chart.AggCount)
	if pl.AutoBins {
		p.note("Auto-calculated bins: %d", pl.Bins)
	}

	s := p.Summary
	s[KeyAggregation] = string(chart.AggCount)
	s[KeyBins] = pl.Bins
	h := res.Histogram
	if h == nil {
		h = &engine.Histogram{}
	}
	s[KeyCount] = h.Stats.Count
	s[KeyMin], s[KeyMax], s[KeyMean] = h.Stats.Min, h.Stats.Max, h.Stats.Mean
	s[KeyMedian], s[KeyStd] = h.Stats.Median, h.Stats.Std
	if h.Stats.Count == 0 {
		return
	}

	p.LayoutMetadata.BinEdges = h.Edges
	points := make([]Point, len(h.Counts))
	for i, c := range h.Counts {
		closing := ")"
		if i == len(h.Counts)-1 {
			closing = "]"
		}
		y := float64(c)
		points[i] = Point{X: "[" + formatEdge(h.Edges[i]) + ", " + formatEdge(h.Edges[i+1]) + closing, Y: &y}
	}
	p.SeriesData = []Series{{Name: "count", Points: points}}
}

func formatEdge(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func correlation(p *ChartPayload, pl *query.CorrelationPlan, res *engine.Result) {
	if p.LayoutMetadata.Title == "" {
		p.LayoutMetadata.Title = "Correlation Matrix"
	}
	p.Meta.Aggregation = "pearson"
	if pl.Auto {
		p.note("Auto-selected %d numeric columns", len(pl.Cols))
	}
	if len(pl.Dropped) > 0 {
		p.note("Too many columns: kept the first %d, left out %d", len(pl.Cols), len(pl.Dropped))
	}

	s := p.Summary
	s[KeyAggregation] = "pearson"
	s[KeyColumnsCount] = len(pl.Cols)
	pairs := []Pair{}
	m := res.Correlation
	if m == nil || res.RowsConsidered == 0 {
		s[KeyTopCorrelations] = pairs
		return
	}

	for i, name := range m.Columns {
		points := make([]Point, len(m.Columns))
		for j, other := range m.Columns {
			points[j] = Point{X: other, Y: m.R[i][j]}
			if j > i && m.R[i][j] != nil {
				pairs = append(pairs, Pair{Col1: name, Col2: other, Correlation: *m.R[i][j]})
			}
		}
		p.SeriesData = append(p.SeriesData, Series{Name: name, Points: points})
	}
	slices.SortStableFunc(pairs, func(a, b Pair) int {
		return cmp.Compare(math.Abs(b.Correlation), math.Abs(a.Correlation))
	})
	s[KeyTopCorrelations] = pairs[:min(topCorrelations, len(pairs))]
}
