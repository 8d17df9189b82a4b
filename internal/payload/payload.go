// Package payload shapes engine results into renderable chart payloads.
package payload

import (
	"github.com/paveg/tabula/internal/chart"
)

// Point is one x/y pair; Y is null for undefined aggregates.
type Point struct {
	X string   `json:"x"`
	Y *float64 `json:"y"`
}

// Series is one named trace.
type Series struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// Axis describes one chart axis.
type Axis struct {
	Title string `json:"title"`
	Type  string `json:"type,omitempty"`
}

// Layout carries everything a renderer needs besides the data.
type Layout struct {
	Title     string     `json:"title"`
	ChartKind chart.Kind `json:"chart_kind"`
	XAxis     Axis       `json:"xaxis"`
	YAxis     Axis       `json:"yaxis"`
	Notes     []string   `json:"notes"`
	BinEdges  []float64  `json:"bin_edges,omitempty"`
}

// Meta echoes the resolved request parameters.
type Meta struct {
	Columns     []string `json:"columns"`
	Aggregation string   `json:"aggregation,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	Freq        string   `json:"freq,omitempty"`
	GroupBy     string   `json:"group_by,omitempty"`
	Bins        int      `json:"bins,omitempty"`
	Notes       []string `json:"notes"`
}

// Pair is one off-diagonal correlation.
type Pair struct {
	Col1        string  `json:"col1"`
	Col2        string  `json:"col2"`
	Correlation float64 `json:"correlation"`
}

// Summary keys.
const (
	KeyRowCount        = "row_count"
	KeyAggregation     = "aggregation"
	KeyColumns         = "columns"
	KeyTotalValue      = "total_value"
	KeyTopValue        = "top_value"
	KeyCategoriesCount = "categories_count"
	KeyOthersValue     = "others_value"
	KeyMinValue        = "min_value"
	KeyMaxValue        = "max_value"
	KeyMeanValue       = "mean_value"
	KeyDataPoints      = "data_points"
	KeySeriesCount     = "series_count"
	KeyPctChange       = "pct_change"
	KeyMin             = "min"
	KeyMax             = "max"
	KeyMean            = "mean"
	KeyMedian          = "median"
	KeyStd             = "std"
	KeyCount           = "count"
	KeyBins            = "bins"
	KeyColumnsCount    = "columns_count"
	KeyTopCorrelations = "top_correlations"
)

// ChartPayload is the result of a chart request.
type ChartPayload struct {
	ChartID        string         `json:"chart_id"`
	ChartKind      chart.Kind     `json:"chart_kind"`
	SeriesData     []Series       `json:"series_data"`
	LayoutMetadata Layout         `json:"layout_metadata"`
	Summary        map[string]any `json:"summary"`
	Meta           Meta           `json:"meta"`
}
