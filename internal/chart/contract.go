package chart

import "github.com/paveg/tabula/internal/coltype"

// Role names, shared with the request parameter names.
const (
	RoleCategory = "category_col"
	RoleValue    = "value_col"
	RoleTime     = "time_col"
	RoleGroupBy  = "group_by"
	RoleColumns  = "columns"
)

// Contract declares the roles a kind needs and the defaults it applies.
type Contract struct {
	Kind     Kind
	Required []string
	Optional []string
	// Accepts lists the categories each single-column role admits. The value
	// role admits any category when the aggregation is count.
	Accepts  map[string][]coltype.Category
	Defaults map[string]string
}

var groupable = []coltype.Category{coltype.Categorical, coltype.Boolean}

var contracts = map[Kind]Contract{
	KindComparison: {
		Kind:     KindComparison,
		Required: []string{RoleCategory},
		Optional: []string{RoleValue, "agg", "top_k", "title"},
		Accepts: map[string][]coltype.Category{
			RoleCategory: groupable,
			RoleValue:    {coltype.Numeric},
		},
		Defaults: map[string]string{"top_k": "8", "agg": "sum with value_col, count without"},
	},
	KindProportion: {
		Kind:     KindProportion,
		Required: []string{RoleCategory},
		Optional: []string{RoleValue, "agg", "top_k", "title"},
		Accepts: map[string][]coltype.Category{
			RoleCategory: groupable,
			RoleValue:    {coltype.Numeric},
		},
		Defaults: map[string]string{"top_k": "8", "agg": "sum with value_col, count without"},
	},
	KindTimeSeries: {
		Kind:     KindTimeSeries,
		Required: []string{RoleTime},
		Optional: []string{RoleValue, RoleGroupBy, "agg", "freq", "time_range", "top_k", "title"},
		Accepts: map[string][]coltype.Category{
			RoleTime:    {coltype.Temporal},
			RoleValue:   {coltype.Numeric},
			RoleGroupBy: groupable,
		},
		Defaults: map[string]string{"freq": "day", "top_k": "8", "agg": "sum with value_col, count without"},
	},
	KindDistribution: {
		Kind:     KindDistribution,
		Required: []string{RoleValue},
		Optional: []string{"bins", "title"},
		Accepts: map[string][]coltype.Category{
			RoleValue: {coltype.Numeric},
		},
		Defaults: map[string]string{"bins": "ceil(sqrt(non-null values)) within [5, 100]"},
	},
	KindCorrelation: {
		Kind:     KindCorrelation,
		Optional: []string{RoleColumns, "title"},
		Defaults: map[string]string{RoleColumns: "every numeric column"},
	},
}

// ContractFor returns the contract of kind.
func ContractFor(kind Kind) (Contract, bool) {
	c, ok := contracts[kind]
	return c, ok
}
