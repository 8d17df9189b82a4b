package chart

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/paveg/tabula/internal/errors"
)

// params is the flat parameter bag accepted at the boundary.
type params struct {
	ChartType   string          `json:"chart_type"`
	Title       string          `json:"title"`
	CategoryCol string          `json:"category_col"`
	ValueCol    string          `json:"value_col"`
	Agg         string          `json:"agg"`
	TopK        *int            `json:"top_k"`
	TimeCol     string          `json:"time_col"`
	Freq        string          `json:"freq"`
	GroupBy     string          `json:"group_by"`
	TimeRange   json.RawMessage `json:"time_range"`
	Bins        *int            `json:"bins"`
	Columns     []string        `json:"columns"`
}

// Decode maps a JSON parameter bag onto the request variant named by its
// chart_type. Parameters that do not belong to the kind are ignored.
func Decode(data []byte) (Request, error) {
	verr := errors.NewValidationError("chart")

	var p params
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&p); err != nil {
		verr.Add("request", errors.CodeInvalid, fmt.Sprintf("malformed parameters: %v", err))
		return nil, verr
	}
	if p.ChartType == "" {
		verr.Add("chart_type", errors.CodeRequired, "is required")
		return nil, verr
	}
	kind, err := ParseKind(p.ChartType)
	if err != nil {
		verr.Add("chart_type", errors.CodeInvalid, err.Error())
		return nil, verr
	}

	switch kind {
	case KindComparison:
		return ComparisonRequest{Title: p.Title, CategoryCol: p.CategoryCol, ValueCol: p.ValueCol, Agg: p.Agg, TopK: p.TopK}, nil
	case KindProportion:
		return ProportionRequest{Title: p.Title, CategoryCol: p.CategoryCol, ValueCol: p.ValueCol, Agg: p.Agg, TopK: p.TopK}, nil
	case KindTimeSeries:
		window, err := decodeWindow(p.TimeRange)
		if err != nil {
			verr.Add("time_range", errors.CodeInvalid, err.Error())
			return nil, verr
		}
		return TimeSeriesRequest{
			Title:       p.Title,
			TimeCol:     p.TimeCol,
			ValueCol:    p.ValueCol,
			Agg:         p.Agg,
			Granularity: p.Freq,
			GroupBy:     p.GroupBy,
			Window:      window,
			TopK:        p.TopK,
		}, nil
	case KindDistribution:
		return DistributionRequest{Title: p.Title, ValueCol: p.ValueCol, Bins: p.Bins}, nil
	default:
		return CorrelationRequest{Title: p.Title, Columns: p.Columns}, nil
	}
}

// decodeWindow accepts [start, end] or {"start": ..., "end": ...}.
func decodeWindow(raw json.RawMessage) (*TimeWindow, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var pair []*string
		if err := json.Unmarshal(raw, &pair); err != nil {
			return nil, fmt.Errorf("expected [start, end]: %w", err)
		}
		if len(pair) != 2 {
			return nil, fmt.Errorf("expected [start, end], got %d values", len(pair))
		}
		w := &TimeWindow{}
		if pair[0] != nil {
			w.Start = *pair[0]
		}
		if pair[1] != nil {
			w.End = *pair[1]
		}
		return w, nil
	}
	var w TimeWindow
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("expected {\"start\", \"end\"}: %w", err)
	}
	return &w, nil
}

// Encode renders req as a parameter bag with sorted keys. Decode(Encode(r))
// yields r again, and equal requests encode to equal bytes.
func Encode(req Request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var bag map[string]any
	if err := json.Unmarshal(body, &bag); err != nil {
		return nil, err
	}
	bag["chart_type"] = string(req.Kind())
	return json.Marshal(bag)
}
