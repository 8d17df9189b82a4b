package chart

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/paveg/tabula/internal/coltype"
	"github.com/paveg/tabula/internal/errors"
	"github.com/paveg/tabula/internal/schema"
	"github.com/paveg/tabula/internal/validation"
)

// Limits bound the tuning parameters of a request.
type Limits struct {
	DefaultTopK           int
	MaxTopK               int
	MinAutoBins           int
	MaxBins               int
	MaxCorrelationColumns int
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{
		DefaultTopK:           8,
		MaxTopK:               100,
		MinAutoBins:           5,
		MaxBins:               100,
		MaxCorrelationColumns: 20,
	}
}

// ColumnRef is a column resolved against the schema.
type ColumnRef struct {
	Name  string
	Index int
	Type  coltype.Category
}

// Resolved is a validated request: every role is bound to an existing column
// of a compatible category and every default is applied.
type Resolved interface {
	Kind() Kind
	// Columns returns the bound column names in role order.
	Columns() []string
}

// Categorical is a resolved comparison or proportion request.
type Categorical struct {
	ChartKind Kind
	Title     string
	Category  ColumnRef
	Value     *ColumnRef // nil counts rows
	Agg       Aggregation
	TopK      int
}

// Kind implements Resolved.
func (c *Categorical) Kind() Kind { return c.ChartKind }

// Columns implements Resolved.
func (c *Categorical) Columns() []string {
	if c.Value == nil {
		return []string{c.Category.Name}
	}
	return []string{c.Category.Name, c.Value.Name}
}

// Window is a resolved inclusive time window; nil ends are open.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// TimeSeries is a resolved time-series request.
type TimeSeries struct {
	Title       string
	Time        ColumnRef
	Value       *ColumnRef
	Agg         Aggregation
	Granularity Granularity
	GroupBy     *ColumnRef
	TopK        int
	Window      *Window
}

// Kind implements Resolved.
func (*TimeSeries) Kind() Kind { return KindTimeSeries }

// Columns implements Resolved.
func (t *TimeSeries) Columns() []string {
	cols := []string{t.Time.Name}
	if t.Value != nil {
		cols = append(cols, t.Value.Name)
	}
	if t.GroupBy != nil {
		cols = append(cols, t.GroupBy.Name)
	}
	return cols
}

// Distribution is a resolved histogram request.
type Distribution struct {
	Title    string
	Value    ColumnRef
	Bins     int
	AutoBins bool
}

// Kind implements Resolved.
func (*Distribution) Kind() Kind { return KindDistribution }

// Columns implements Resolved.
func (d *Distribution) Columns() []string { return []string{d.Value.Name} }

// Correlation is a resolved correlation-matrix request.
type Correlation struct {
	Title string
	Cols  []ColumnRef
	// Auto is set when the columns were selected from the schema.
	Auto bool
	// Dropped names numeric columns left out by the column cap.
	Dropped []string
}

// Kind implements Resolved.
func (*Correlation) Kind() Kind { return KindCorrelation }

// Columns implements Resolved.
func (c *Correlation) Columns() []string {
	names := make([]string, len(c.Cols))
	for i, col := range c.Cols {
		names[i] = col.Name
	}
	return names
}

// Validator checks requests against a schema.
type Validator struct {
	limits Limits
}

// NewValidator creates a validator; zero limit fields take their defaults.
func NewValidator(limits Limits) *Validator {
	def := DefaultLimits()
	if limits.DefaultTopK <= 0 {
		limits.DefaultTopK = def.DefaultTopK
	}
	if limits.MaxTopK <= 0 {
		limits.MaxTopK = def.MaxTopK
	}
	if limits.MinAutoBins <= 0 {
		limits.MinAutoBins = def.MinAutoBins
	}
	if limits.MaxBins <= 0 {
		limits.MaxBins = def.MaxBins
	}
	if limits.MaxCorrelationColumns <= 0 {
		limits.MaxCorrelationColumns = def.MaxCorrelationColumns
	}
	return &Validator{limits: limits}
}

// Validate uses the default limits.
func Validate(req Request, ds *schema.DatasetSchema) (Resolved, error) {
	return NewValidator(DefaultLimits()).Validate(req, ds)
}

// state is the working set of one validation.
type state struct {
	ds       *schema.DatasetSchema
	contract Contract
	b        map[string]string
	cv       *validation.CompoundValidator
	cols     map[string]*validation.ColumnValidator
}

func (s *state) check(field, code string, ok bool, format string, args ...any) {
	s.cv.Add(validation.NewCheck(field, code, ok, fmt.Sprintf(format, args...)))
}

func (s *state) ref(role string) *ColumnRef {
	v, ok := s.cols[role]
	if !ok {
		return nil
	}
	col, idx, found := v.Resolved()
	if !found {
		return nil
	}
	return &ColumnRef{Name: col.Name, Index: idx, Type: col.DeclaredType}
}

// Validate resolves req against ds. Every problem found is reported in a
// single *errors.ValidationError; on success the returned Resolved carries
// applied defaults.
func (v *Validator) Validate(req Request, ds *schema.DatasetSchema) (Resolved, error) {
	if req == nil {
		verr := errors.NewValidationError("chart")
		verr.Add("chart_type", errors.CodeRequired, "is required")
		return nil, verr
	}
	contract, ok := ContractFor(req.Kind())
	if !ok {
		verr := errors.NewValidationError("chart")
		verr.Add("chart_type", errors.CodeInvalid, fmt.Sprintf("unknown chart kind %q", req.Kind()))
		return nil, verr
	}

	s := &state{
		ds:       ds,
		contract: contract,
		b:        req.bindings(),
		cv:       validation.NewCompoundValidator("chart"),
		cols:     make(map[string]*validation.ColumnValidator),
	}
	// a value column literally named "count" means row count unless it exists
	if s.b[RoleValue] == "count" {
		if _, _, exists := ds.Column("count"); !exists {
			s.b[RoleValue] = ""
		}
	}

	for _, role := range contract.Required {
		s.cv.Add(validation.NewRequiredValidator(role, s.b[role]))
	}

	switch r := req.(type) {
	case ComparisonRequest:
		return v.categorical(s, KindComparison, r.Title, r.Agg, r.TopK)
	case ProportionRequest:
		return v.categorical(s, KindProportion, r.Title, r.Agg, r.TopK)
	case TimeSeriesRequest:
		return v.timeSeries(s, r)
	case DistributionRequest:
		return v.distribution(s, r)
	case CorrelationRequest:
		return v.correlation(s, r)
	default:
		verr := errors.NewValidationError("chart")
		verr.Add("chart_type", errors.CodeInvalid, fmt.Sprintf("unsupported request type %T", req))
		return nil, verr
	}
}

// bindColumns adds a column validator for every bound single-column role.
func (s *state) bindColumns(agg Aggregation) {
	roles := append(append([]string{}, s.contract.Required...), s.contract.Optional...)
	for _, role := range roles {
		name, bound := s.b[role]
		if !bound || strings.TrimSpace(name) == "" {
			continue
		}
		accepts := s.contract.Accepts[role]
		if role == RoleValue && agg == AggCount {
			accepts = nil
		}
		cv := validation.NewColumnValidator(s.ds, role, name, accepts...)
		s.cols[role] = cv
		s.cv.Add(cv)
	}
}

func (s *state) aggregation(raw string) Aggregation {
	hasValue := s.b[RoleValue] != ""
	if strings.TrimSpace(raw) == "" {
		if hasValue {
			return AggSum
		}
		return AggCount
	}
	agg, err := ParseAggregation(raw)
	if err != nil {
		s.check("agg", errors.CodeInvalid, false, "%v", err)
		return AggCount
	}
	s.check(RoleValue, errors.CodeRequired, agg == AggCount || hasValue, "is required for aggregation %s", agg)
	return agg
}

func (v *Validator) topK(s *state, p *int) int {
	if p == nil {
		return v.limits.DefaultTopK
	}
	s.cv.Add(validation.NewRangeValidator("top_k", *p, 1, v.limits.MaxTopK))
	return *p
}

func (v *Validator) categorical(s *state, kind Kind, title, rawAgg string, topK *int) (Resolved, error) {
	agg := s.aggregation(rawAgg)
	s.bindColumns(agg)
	k := v.topK(s, topK)
	if err := s.cv.Validate(); err != nil {
		return nil, err
	}
	return &Categorical{
		ChartKind: kind,
		Title:     title,
		Category:  *s.ref(RoleCategory),
		Value:     s.ref(RoleValue),
		Agg:       agg,
		TopK:      k,
	}, nil
}

func (v *Validator) timeSeries(s *state, r TimeSeriesRequest) (Resolved, error) {
	agg := s.aggregation(r.Agg)
	s.bindColumns(agg)
	k := v.topK(s, r.TopK)

	gran := Day
	if strings.TrimSpace(r.Granularity) != "" {
		g, err := ParseGranularity(r.Granularity)
		s.check("freq", errors.CodeInvalid, err == nil, "%v", err)
		if err == nil {
			gran = g
		}
	}

	var window *Window
	if r.Window != nil {
		window = &Window{}
		var startErr, endErr error
		if r.Window.Start != "" {
			var t time.Time
			t, startErr = ParseInstant(r.Window.Start)
			window.Start = &t
		}
		if r.Window.End != "" {
			var t time.Time
			t, endErr = ParseInstant(r.Window.End)
			window.End = &t
		}
		s.check("time_range", errors.CodeInvalid, startErr == nil, "start: %v", startErr)
		s.check("time_range", errors.CodeInvalid, endErr == nil, "end: %v", endErr)
		if startErr == nil && endErr == nil && window.Start != nil && window.End != nil {
			s.check("time_range", errors.CodeOutOfRange, !window.Start.After(*window.End),
				"start %s is after end %s", r.Window.Start, r.Window.End)
		}
	}

	if err := s.cv.Validate(); err != nil {
		return nil, err
	}
	return &TimeSeries{
		Title:       r.Title,
		Time:        *s.ref(RoleTime),
		Value:       s.ref(RoleValue),
		Agg:         agg,
		Granularity: gran,
		GroupBy:     s.ref(RoleGroupBy),
		TopK:        k,
		Window:      window,
	}, nil
}

func (v *Validator) distribution(s *state, r DistributionRequest) (Resolved, error) {
	s.bindColumns(AggSum)
	if r.Bins != nil {
		s.cv.Add(validation.NewRangeValidator("bins", *r.Bins, 2, v.limits.MaxBins))
	}
	if err := s.cv.Validate(); err != nil {
		return nil, err
	}

	value := *s.ref(RoleValue)
	d := &Distribution{Title: r.Title, Value: value}
	if r.Bins != nil {
		d.Bins = *r.Bins
	} else {
		col, _, _ := s.ds.Column(value.Name)
		d.Bins = v.autoBins(col.NonNullCount)
		d.AutoBins = true
	}
	return d, nil
}

// autoBins is ceil(sqrt(n)) clamped to [MinAutoBins, MaxBins].
func (v *Validator) autoBins(n int64) int {
	bins := int(math.Ceil(math.Sqrt(float64(n))))
	return max(v.limits.MinAutoBins, min(bins, v.limits.MaxBins))
}

func (v *Validator) correlation(s *state, r CorrelationRequest) (Resolved, error) {
	c := &Correlation{Title: r.Title, Auto: len(r.Columns) == 0}

	if c.Auto {
		numeric := s.ds.ColumnsOf(coltype.Numeric)
		s.check(RoleColumns, errors.CodeOutOfRange, len(numeric) >= 2,
			"at least 2 numeric columns required, dataset has %d", len(numeric))
		if err := s.cv.Validate(); err != nil {
			return nil, err
		}
		for _, col := range numeric {
			if len(c.Cols) == v.limits.MaxCorrelationColumns {
				c.Dropped = append(c.Dropped, col.Name)
				continue
			}
			_, idx, _ := s.ds.Column(col.Name)
			c.Cols = append(c.Cols, ColumnRef{Name: col.Name, Index: idx, Type: col.DeclaredType})
		}
		return c, nil
	}

	seen := make(map[string]bool, len(r.Columns))
	validators := make([]*validation.ColumnValidator, 0, len(r.Columns))
	for _, name := range r.Columns {
		if seen[name] {
			s.check(RoleColumns, errors.CodeInvalid, false, "column %q listed more than once", name)
			continue
		}
		seen[name] = true
		cv := validation.NewColumnValidator(s.ds, RoleColumns, name, coltype.Numeric)
		validators = append(validators, cv)
		s.cv.Add(cv)
	}
	n := len(seen)
	s.check(RoleColumns, errors.CodeOutOfRange, n >= 2, "at least 2 columns required, got %d", n)
	s.check(RoleColumns, errors.CodeOutOfRange, n <= v.limits.MaxCorrelationColumns,
		"at most %d columns allowed, got %d", v.limits.MaxCorrelationColumns, n)
	if err := s.cv.Validate(); err != nil {
		return nil, err
	}
	for _, cv := range validators {
		col, idx, _ := cv.Resolved()
		c.Cols = append(c.Cols, ColumnRef{Name: col.Name, Index: idx, Type: col.DeclaredType})
	}
	return c, nil
}

var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseInstant parses an ISO 8601 date or date-time; zone-less values are UTC.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date or date-time", s)
}
