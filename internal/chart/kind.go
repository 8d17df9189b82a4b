// Package chart models chart requests as one variant per chart kind and
// validates them against a dataset schema.
package chart

import (
	"fmt"
	"strings"
)

// Kind names a chart family.
type Kind string

const (
	KindComparison   Kind = "categorical-comparison"
	KindProportion   Kind = "proportion"
	KindTimeSeries   Kind = "time-series"
	KindDistribution Kind = "distribution"
	KindCorrelation  Kind = "correlation-matrix"
)

// Kinds lists every kind in a stable order.
var Kinds = []Kind{KindComparison, KindProportion, KindTimeSeries, KindDistribution, KindCorrelation}

var kindAliases = map[string]Kind{
	"bar":        KindComparison,
	"pie":        KindProportion,
	"timeseries": KindTimeSeries,
	"line":       KindTimeSeries,
	"histogram":  KindDistribution,
	"heatmap":    KindCorrelation,
}

// ParseKind accepts canonical names and the short aliases.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown chart kind %q", s)
}

// Aggregation reduces the values of a group to one number.
type Aggregation string

const (
	AggSum    Aggregation = "sum"
	AggMean   Aggregation = "mean"
	AggCount  Aggregation = "count"
	AggMedian Aggregation = "median"
)

// ParseAggregation accepts sum, mean (or avg), count and median.
func ParseAggregation(s string) (Aggregation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sum":
		return AggSum, nil
	case "mean", "avg", "average":
		return AggMean, nil
	case "count":
		return AggCount, nil
	case "median":
		return AggMedian, nil
	default:
		return "", fmt.Errorf("unknown aggregation %q", s)
	}
}

// Additive reports whether group values add up to the overall value.
func (a Aggregation) Additive() bool {
	return a == AggSum || a == AggCount
}

// Granularity is a time bucket width.
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// ParseGranularity accepts day/week/month and the D/W/M frequency codes.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "day", "d", "daily":
		return Day, nil
	case "week", "w", "weekly":
		return Week, nil
	case "month", "m", "monthly":
		return Month, nil
	default:
		return "", fmt.Errorf("unknown granularity %q", s)
	}
}
