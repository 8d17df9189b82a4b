package chart

// Request is implemented by exactly one struct per Kind.
type Request interface {
	Kind() Kind
	// bindings maps single-column roles to the bound column names.
	bindings() map[string]string
}

// TimeWindow bounds a time series. Either side may be empty for an open end;
// both ends are inclusive.
type TimeWindow struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// ComparisonRequest compares an aggregate across the categories of one column.
type ComparisonRequest struct {
	Title       string `json:"title,omitempty"`
	CategoryCol string `json:"category_col"`
	ValueCol    string `json:"value_col,omitempty"`
	Agg         string `json:"agg,omitempty"`
	TopK        *int   `json:"top_k,omitempty"`
}

// Kind implements Request.
func (ComparisonRequest) Kind() Kind { return KindComparison }

func (r ComparisonRequest) bindings() map[string]string {
	return map[string]string{RoleCategory: r.CategoryCol, RoleValue: r.ValueCol}
}

// ProportionRequest shows each category's share of the whole.
type ProportionRequest struct {
	Title       string `json:"title,omitempty"`
	CategoryCol string `json:"category_col"`
	ValueCol    string `json:"value_col,omitempty"`
	Agg         string `json:"agg,omitempty"`
	TopK        *int   `json:"top_k,omitempty"`
}

// Kind implements Request.
func (ProportionRequest) Kind() Kind { return KindProportion }

func (r ProportionRequest) bindings() map[string]string {
	return map[string]string{RoleCategory: r.CategoryCol, RoleValue: r.ValueCol}
}

// TimeSeriesRequest aggregates values per time bucket, optionally split into
// one series per group.
type TimeSeriesRequest struct {
	Title       string      `json:"title,omitempty"`
	TimeCol     string      `json:"time_col"`
	ValueCol    string      `json:"value_col,omitempty"`
	Agg         string      `json:"agg,omitempty"`
	Granularity string      `json:"freq,omitempty"`
	GroupBy     string      `json:"group_by,omitempty"`
	Window      *TimeWindow `json:"time_range,omitempty"`
	TopK        *int        `json:"top_k,omitempty"`
}

// Kind implements Request.
func (TimeSeriesRequest) Kind() Kind { return KindTimeSeries }

func (r TimeSeriesRequest) bindings() map[string]string {
	return map[string]string{RoleTime: r.TimeCol, RoleValue: r.ValueCol, RoleGroupBy: r.GroupBy}
}

// DistributionRequest buckets one numeric column into equal-width bins.
type DistributionRequest struct {
	Title    string `json:"title,omitempty"`
	ValueCol string `json:"value_col"`
	Bins     *int   `json:"bins,omitempty"`
}

// Kind implements Request.
func (DistributionRequest) Kind() Kind { return KindDistribution }

func (r DistributionRequest) bindings() map[string]string {
	return map[string]string{RoleValue: r.ValueCol}
}

// CorrelationRequest computes pairwise correlation of numeric columns. An
// empty Columns selects every numeric column.
type CorrelationRequest struct {
	Title   string   `json:"title,omitempty"`
	Columns []string `json:"columns,omitempty"`
}

// Kind implements Request.
func (CorrelationRequest) Kind() Kind { return KindCorrelation }

func (r CorrelationRequest) bindings() map[string]string { return nil }

// IntPtr is a convenience for optional integer fields.
func IntPtr(v int) *int { return &v }
