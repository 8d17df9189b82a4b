package payload_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/paveg/tabula/internal/engine"
	"github.com/paveg/tabula/internal/payload"
	"github.com/paveg/tabula/internal/query"
	"github.com/paveg/tabula/internal/relation"
	"github.com/paveg/tabula/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assemble(t *testing.T, rel *relation.Relation, params string) *payload.ChartPayload {
	t.Helper()
	a := payload.NewAssembler(engine.NewArrowEngine(), payload.WithIDGenerator(func() string { return "chart-1" }))
	p, err := a.Assemble(context.Background(), testutil.BuildPlan(t, rel, params), rel)
	require.NoError(t, err)
	return p
}

func tenCategories(t *testing.T, mem *testutil.TestMemoryContext) *relation.Relation {
	return testutil.NewRelation(t,
		testutil.Strings(mem.Allocator, "cat", []string{"j", "i", "h", "g", "f", "e", "d", "c", "b", "a"}, nil),
		testutil.Int64s(mem.Allocator, "v", []int64{5, 7, 7, 1, 7, 2, 3, 4, 6, 0}, nil),
	)
}

func TestAssemble_Categorical(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	rel := tenCategories(t, mem)
	defer rel.Release()

	p := assemble(t, rel, `{"chart_type":"bar","category_col":"cat","value_col":"v","top_k":3}`)
	assert.Equal(t, "chart-1", p.ChartID)
	require.Len(t, p.SeriesData, 1)
	assert.Len(t, p.SeriesData[0].Points, 3)
	assert.Equal(t, "sum(v) by cat", p.LayoutMetadata.Title)
	assert.Equal(t, "cat", p.LayoutMetadata.XAxis.Title)
	assert.Equal(t, 10, p.Summary[payload.KeyCategoriesCount])
	assert.Equal(t, 21.0, p.Summary[payload.KeyOthersValue])
	assert.Equal(t, 7.0, *(p.Summary[payload.KeyTopValue].(*float64)))
	assert.Equal(t, 42.0, *(p.Summary[payload.KeyTotalValue].(*float64)))
	assert.Empty(t, p.LayoutMetadata.Notes)
	assert.Equal(t, 3, p.Meta.TopK)
	assert.Equal(t, "sum", p.Meta.Aggregation)

	p = assemble(t, rel, `{"chart_type":"pie","category_col":"cat","value_col":"v","top_k":1}`)
	assert.Equal(t, 35.0, p.Summary[payload.KeyOthersValue])
	require.Len(t, p.LayoutMetadata.Notes, 1)
	assert.Contains(t, p.LayoutMetadata.Notes[0], "Too many categories")
	assert.Equal(t, p.LayoutMetadata.Notes, p.Meta.Notes)
	assert.Equal(t, "Share of cat", p.LayoutMetadata.Title)

	p = assemble(t, rel, `{"chart_type":"bar","category_col":"cat","value_col":"v","agg":"mean","title":"Means"}`)
	assert.Equal(t, "Means", p.LayoutMetadata.Title)
	assert.NotContains(t, p.Summary, payload.KeyOthersValue)
	assert.Nil(t, p.Summary[payload.KeyTotalValue])
}

func TestAssemble_TimeSeries(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	rel := testutil.CreateSalesRelation(t, mem.Allocator)
	defer rel.Release()

	p := assemble(t, rel, `{"chart_type":"line","time_col":"sold_at","value_col":"units"}`)
	require.Len(t, p.SeriesData, 1)
	assert.Equal(t, "units", p.SeriesData[0].Name)
	assert.Equal(t, 6, p.Summary[payload.KeyDataPoints])
	assert.Equal(t, 1.0, p.Summary[payload.KeyMinValue])
	assert.Equal(t, 6.0, p.Summary[payload.KeyMaxValue])
	assert.Equal(t, 3.5, p.Summary[payload.KeyMeanValue])
	assert.InDelta(t, 20.0, p.Summary[payload.KeyPctChange], 1e-9)
	assert.Equal(t, "date", p.LayoutMetadata.XAxis.Type)
	assert.Equal(t, "day", p.Meta.Freq)

	p = assemble(t, rel, `{"chart_type":"line","time_col":"sold_at","group_by":"region","top_k":2,"time_range":["2024-01-02",null]}`)
	assert.Equal(t, 2, p.Summary[payload.KeySeriesCount])
	assert.Equal(t, "region", p.Meta.GroupBy)
	assert.Equal(t, []string{
		"Time range: 2024-01-02T00:00:00Z to open",
		"Showing the top 2 of 4 series by count",
	}, p.LayoutMetadata.Notes)
}

func TestAssemble_PctChangeNegativeBase(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	rel := testutil.NewRelation(t,
		testutil.Times(mem.Allocator, "at", []time.Time{testutil.SalesStart, testutil.SalesStart.AddDate(0, 0, 1)}, nil),
		testutil.Float64s(mem.Allocator, "v", []float64{-10, -5}, nil),
	)
	defer rel.Release()

	p := assemble(t, rel, `{"chart_type":"line","time_col":"at","value_col":"v"}`)
	// (-5 - -10) / -10
	assert.InDelta(t, -50.0, p.Summary[payload.KeyPctChange], 1e-9)
}

func TestAssemble_OverflowingAggregates(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	rel := testutil.NewRelation(t,
		testutil.Strings(mem.Allocator, "cat", []string{"a", "a", "b"}, nil),
		testutil.Float64s(mem.Allocator, "v", []float64{1.5e308, 1.5e308, 1}, nil),
	)
	defer rel.Release()

	p := assemble(t, rel, `{"chart_type":"bar","category_col":"cat","value_col":"v"}`)
	require.Len(t, p.SeriesData, 1)
	require.Len(t, p.SeriesData[0].Points, 2)
	assert.Nil(t, p.SeriesData[0].Points[0].Y)
	assert.Equal(t, 1.0, *p.SeriesData[0].Points[1].Y)
	assert.Nil(t, p.Summary[payload.KeyTotalValue])

	_, err := json.Marshal(p)
	assert.NoError(t, err)
}

func TestAssemble_Distribution(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	rel := testutil.NewRelation(t, testutil.Float64s(mem.Allocator, "x", []float64{0, 2.5, 5, 7.5, 10}, nil))
	defer rel.Release()

	p := assemble(t, rel, `{"chart_type":"histogram","value_col":"x","bins":2}`)
	require.Len(t, p.SeriesData, 1)
	assert.Equal(t, "[0, 5)", p.SeriesData[0].Points[0].X)
	assert.Equal(t, "[5, 10]", p.SeriesData[0].Points[1].X)
	assert.Equal(t, 3.0, *p.SeriesData[0].Points[1].Y)
	assert.Equal(t, []float64{0, 5, 10}, p.LayoutMetadata.BinEdges)
	assert.Equal(t, int64(5), p.Summary[payload.KeyCount])
	assert.Equal(t, 2, p.Summary[payload.KeyBins])
	assert.Empty(t, p.LayoutMetadata.Notes)

	p = assemble(t, rel, `{"chart_type":"histogram","value_col":"x"}`)
	assert.Equal(t, []string{"Auto-calculated bins: 5"}, p.LayoutMetadata.Notes)
}

func TestAssemble_Correlation(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	rel := testutil.NewRelation(t,
		testutil.Float64s(mem.Allocator, "x", []float64{1, 2, 3, 4}, nil),
		testutil.Float64s(mem.Allocator, "y", []float64{2, 1, 4, 3}, nil),
		testutil.Float64s(mem.Allocator, "z", []float64{4, 3, 2, 1}, nil),
	)
	defer rel.Release()

	p := assemble(t, rel, `{"chart_type":"heatmap"}`)
	require.Len(t, p.SeriesData, 3)
	assert.Equal(t, "x", p.SeriesData[0].Name)
	assert.Equal(t, 1.0, *p.SeriesData[1].Points[1].Y)
	assert.Equal(t, 3, p.Summary[payload.KeyColumnsCount])
	assert.Equal(t, []string{"Auto-selected 3 numeric columns"}, p.LayoutMetadata.Notes)

	pairs := p.Summary[payload.KeyTopCorrelations].([]payload.Pair)
	require.Len(t, pairs, 3)
	assert.Equal(t, payload.Pair{Col1: "x", Col2: "z", Correlation: -1}, pairs[0])
	assert.InDelta(t, 0.6, pairs[1].Correlation, 1e-12)
}

func TestAssemble_EmptyRelation(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	rel := testutil.NewRelation(t,
		testutil.Strings(mem.Allocator, "cat", nil, nil),
		testutil.Float64s(mem.Allocator, "v", nil, nil),
	)
	defer rel.Release()

	for _, params := range []string{
		`{"chart_type":"bar","category_col":"cat","value_col":"v"}`,
		`{"chart_type":"histogram","value_col":"v","bins":3}`,
	} {
		p := assemble(t, rel, params)
		assert.Empty(t, p.SeriesData, params)
		assert.Equal(t, int64(0), p.Summary[payload.KeyRowCount], params)
	}
}

func TestChartPayload_JSONShape(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	rel := tenCategories(t, mem)
	defer rel.Release()

	data, err := json.Marshal(assemble(t, rel, `{"chart_type":"bar","category_col":"cat","value_col":"v"}`))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{"chart_id", "chart_kind", "series_data", "layout_metadata", "summary", "meta"} {
		assert.Contains(t, doc, key)
	}
	summary := doc["summary"].(map[string]any)
	for _, key := range []string{"row_count", "aggregation", "columns"} {
		assert.Contains(t, summary, key)
	}
}

type failingEngine struct{}

func (failingEngine) Name() string { return "failing" }

func (failingEngine) Execute(context.Context, query.Plan, *relation.Relation) (*engine.Result, error) {
	return nil, stderrors.New("boom")
}

func TestAssemble_EngineError(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	rel := tenCategories(t, mem)
	defer rel.Release()

	a := payload.NewAssembler(failingEngine{})
	_, err := a.Assemble(context.Background(), testutil.BuildPlan(t, rel, `{"chart_type":"bar","category_col":"cat"}`), rel)
	assert.EqualError(t, err, "boom")
}
