package query

import (
	"fmt"
	"strings"

	"github.com/paveg/tabula/internal/chart"
)

// QuoteIdent quotes a SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// aggExpr renders the aggregate of column v over a plain GROUP BY.
func aggExpr(agg chart.Aggregation, hasValue bool) string {
	switch agg {
	case chart.AggSum:
		return "COALESCE(SUM(v), 0)"
	case chart.AggMean:
		return "AVG(v)"
	default:
		if hasValue {
			return "COUNT(v)"
		}
		return "COUNT(*)"
	}
}

// groupCTEs renders CTEs ending in one named name with columns keys...,
// value and first_row, aggregating src grouped by keys.
func groupCTEs(name, src string, keys []string, agg chart.Aggregation, hasValue bool) string {
	keyList := strings.Join(keys, ", ")
	if agg != chart.AggMedian {
		return fmt.Sprintf("%s AS (SELECT %s, %s AS value, MIN(%s) AS first_row FROM %s GROUP BY %s)",
			name, keyList, aggExpr(agg, hasValue), RowColumn, src, keyList)
	}

	join := make([]string, len(keys))
	for i, k := range keys {
		join[i] = fmt.Sprintf("m.%s = grp.%s", k, k)
	}
	gKeys := make([]string, len(keys))
	for i, k := range keys {
		gKeys[i] = "grp." + k + " AS " + k
	}
	return fmt.Sprintf(`%[1]s_r AS (
  SELECT %[2]s, v, ROW_NUMBER() OVER (PARTITION BY %[2]s ORDER BY v) AS rn,
         COUNT(*) OVER (PARTITION BY %[2]s) AS cnt
  FROM %[3]s WHERE v IS NOT NULL
),
%[1]s_m AS (
  SELECT %[2]s, AVG(v) AS value FROM %[1]s_r
  WHERE rn IN ((cnt + 1) / 2, (cnt + 2) / 2) GROUP BY %[2]s
),
%[1]s AS (
  SELECT %[4]s, m.value AS value, grp.first_row AS first_row
  FROM (SELECT %[2]s, MIN(%[5]s) AS first_row FROM %[3]s GROUP BY %[2]s) grp
  LEFT JOIN %[1]s_m m ON %[6]s
)`, name, keyList, src, strings.Join(gKeys, ", "), RowColumn, strings.Join(join, " AND "))
}

const rankOrder = "value IS NULL, value DESC, first_row"

// valueSelect is the v column of a source CTE.
func valueSelect(value *chart.ColumnRef) string {
	if value == nil {
		return "NULL AS v"
	}
	return QuoteIdent(value.Name) + " AS v"
}

// Statements renders:
//   - groups: label, value of the top K groups in rank order
//   - summary: group count, rows considered, total (NULL unless WantTotal)
func (p *CategoricalPlan) Statements(table string) ([]Statement, error) {
	cat := QuoteIdent(p.Category.Name)
	src := fmt.Sprintf("src AS (SELECT CAST(%s AS TEXT) AS k0, %s, %s FROM %s WHERE %s IS NOT NULL)",
		cat, valueSelect(p.Value), RowColumn, QuoteIdent(table), cat)
	g := groupCTEs("g", "src", []string{"k0"}, p.Agg, p.Value != nil)

	groups := Statement{
		Name: "groups",
		SQL:  fmt.Sprintf("WITH %s,\n%s\nSELECT k0, value FROM g ORDER BY %s LIMIT ?", src, g, rankOrder),
		Args: []any{p.TopK},
	}

	total := "NULL"
	if p.WantTotal {
		total = fmt.Sprintf("(SELECT %s FROM src)", aggExpr(p.Agg, p.Value != nil))
	}
	summary := Statement{
		Name: "summary",
		SQL: fmt.Sprintf("WITH %s,\n%s\nSELECT (SELECT COUNT(*) FROM g), (SELECT COUNT(*) FROM src), %s",
			src, g, total),
	}
	return []Statement{groups, summary}, nil
}

// bucketExpr truncates a stored timestamp to its bucket label.
func bucketExpr(col string, g chart.Granularity) string {
	switch g {
	case chart.Week:
		return fmt.Sprintf("strftime('%%Y-%%m-%%dT00:00:00Z', %s, 'weekday 0', '-6 days')", col)
	case chart.Month:
		return fmt.Sprintf("strftime('%%Y-%%m-01T00:00:00Z', %s)", col)
	default:
		return fmt.Sprintf("strftime('%%Y-%%m-%%dT00:00:00Z', %s)", col)
	}
}

// Statements renders:
//   - points: [series,] bucket, value ordered by series rank then bucket
//   - summary: rows considered, series count before the cap
func (p *TimeSeriesPlan) Statements(table string) ([]Statement, error) {
	tc := QuoteIdent(p.Time.Name)
	cols := []string{bucketExpr(tc, p.Granularity) + " AS k0"}
	where := []string{tc + " IS NOT NULL"}
	var args []any
	if p.Series != nil {
		sc := QuoteIdent(p.Series.Name)
		cols = append(cols, fmt.Sprintf("CAST(%s AS TEXT) AS k1", sc))
		where = append(where, sc+" IS NOT NULL")
	}
	if p.Start != nil {
		where = append(where, tc+" >= ?")
		args = append(args, p.Start.UTC().Format(StorageTimeLayout))
	}
	if p.End != nil {
		where = append(where, tc+" <= ?")
		args = append(args, p.End.UTC().Format(StorageTimeLayout))
	}
	cols = append(cols, valueSelect(p.Value), RowColumn)
	src := fmt.Sprintf("src AS (SELECT %s FROM %s WHERE %s)",
		strings.Join(cols, ", "), QuoteIdent(table), strings.Join(where, " AND "))
	hasValue := p.Value != nil

	if p.Series == nil {
		pts := groupCTEs("p", "src", []string{"k0"}, p.Agg, hasValue)
		return []Statement{
			{
				Name: "points",
				SQL:  fmt.Sprintf("WITH %s,\n%s\nSELECT k0, value FROM p ORDER BY k0", src, pts),
				Args: args,
			},
			{
				Name: "summary",
				SQL:  fmt.Sprintf("WITH %s\nSELECT COUNT(*), MIN(COUNT(*), 1) FROM src", src),
				Args: args,
			},
		}, nil
	}

	s := groupCTEs("s", "src", []string{"k1"}, p.Agg, hasValue)
	pts := groupCTEs("p", "src", []string{"k1", "k0"}, p.Agg, hasValue)
	top := fmt.Sprintf("top AS (SELECT k1, ROW_NUMBER() OVER (ORDER BY %s) AS rnk FROM s)", rankOrder)
	pointArgs := append(append([]any{}, args...), p.TopK)
	return []Statement{
		{
			Name: "points",
			SQL: fmt.Sprintf("WITH %s,\n%s,\n%s,\n%s\nSELECT p.k1, p.k0, p.value FROM p JOIN top ON top.k1 = p.k1 "+
				"WHERE top.rnk <= ? ORDER BY top.rnk, p.k0", src, s, top, pts),
			Args: pointArgs,
		},
		{
			Name: "summary",
			SQL:  fmt.Sprintf("WITH %s\nSELECT COUNT(*), COUNT(DISTINCT k1) FROM src", src),
			Args: args,
		},
	}, nil
}

// Statements renders:
//   - stats: count, min, max, mean, sample variance (NULL when count < 2)
//   - median: the median of non-null values
//   - bins: bucket index, count for non-empty buckets
func (p *HistogramPlan) Statements(table string) ([]Statement, error) {
	if p.Bins < 1 {
		return nil, fmt.Errorf("histogram plan: bins must be positive, got %d", p.Bins)
	}
	col := QuoteIdent(p.Value.Name)
	vals := fmt.Sprintf("vals AS (SELECT %s AS v FROM %s WHERE %s IS NOT NULL)", col, QuoteIdent(table), col)

	stats := Statement{
		Name: "stats",
		SQL: fmt.Sprintf(`WITH %s,
a AS (SELECT COUNT(*) AS n, MIN(v) AS lo, MAX(v) AS hi, AVG(v) AS mean FROM vals)
SELECT a.n, a.lo, a.hi, a.mean,
       CASE WHEN a.n > 1 THEN (SELECT SUM((vals.v - a.mean) * (vals.v - a.mean)) FROM vals) / (a.n - 1) END
FROM a`, vals),
	}
	median := Statement{
		Name: "median",
		SQL: fmt.Sprintf(`WITH %s,
r AS (SELECT v, ROW_NUMBER() OVER (ORDER BY v) AS rn, COUNT(*) OVER () AS cnt FROM vals)
SELECT AVG(v) FROM r WHERE rn IN ((cnt + 1) / 2, (cnt + 2) / 2)`, vals),
	}
	bins := Statement{
		Name: "bins",
		SQL: fmt.Sprintf(`WITH %s,
b0 AS (
  SELECT CASE WHEN MAX(v) = MIN(v) THEN MIN(v) - 0.5 ELSE MIN(v) END AS lo,
         CASE WHEN MAX(v) = MIN(v) THEN MAX(v) + 0.5 ELSE MAX(v) END AS hi
  FROM vals
),
b AS (
  SELECT MIN(CAST((vals.v - b0.lo) / ((b0.hi - b0.lo) / CAST(? AS REAL)) AS INTEGER), ? - 1) AS idx
  FROM vals, b0
)
SELECT idx, COUNT(*) FROM b GROUP BY idx ORDER BY idx`, vals),
		Args: []any{p.Bins, p.Bins},
	}
	return []Statement{stats, median, bins}, nil
}

// Statements renders one "pair" statement per column pair i < j, in row-major
// order, each returning n, sxy, sxx, syy over pairwise-complete rows.
func (p *CorrelationPlan) Statements(table string) ([]Statement, error) {
	var stmts []Statement
	for i := 0; i < len(p.Cols); i++ {
		for j := i + 1; j < len(p.Cols); j++ {
			x, y := QuoteIdent(p.Cols[i].Name), QuoteIdent(p.Cols[j].Name)
			stmts = append(stmts, Statement{
				Name: fmt.Sprintf("pair %d %d", i, j),
				SQL: fmt.Sprintf(`WITH pr AS (SELECT %[1]s AS x, %[2]s AS y FROM %[3]s WHERE %[1]s IS NOT NULL AND %[2]s IS NOT NULL),
m AS (SELECT COUNT(*) AS n, AVG(x) AS mx, AVG(y) AS my FROM pr)
SELECT (SELECT n FROM m),
       SUM((pr.x - m.mx) * (pr.y - m.my)),
       SUM((pr.x - m.mx) * (pr.x - m.mx)),
       SUM((pr.y - m.my) * (pr.y - m.my))
FROM pr, m`, x, y, QuoteIdent(table)),
			})
		}
	}
	return stmts, nil
}
