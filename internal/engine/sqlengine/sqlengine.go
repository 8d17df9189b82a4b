// Package sqlengine executes plans on an in-memory SQLite database.
//
// Every Execute opens its own database, loads the columns the plan reads into
// a table named data (plus the _row source row number) and runs the plan's
// parameterized statements. Numeric columns are stored as REAL, timestamps
// as sortable text and everything else as text labels.
package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/paveg/tabula/internal/coltype"
	"github.com/paveg/tabula/internal/engine"
	"github.com/paveg/tabula/internal/errors"
	"github.com/paveg/tabula/internal/query"
	"github.com/paveg/tabula/internal/relation"
	_ "modernc.org/sqlite"
)

const (
	engineName = "sqlite"
	tableName  = "data"
)

// Engine runs plans through SQLite.
type Engine struct {
	dsn string
}

// New creates an engine backed by private in-memory databases.
func New() *Engine {
	return &Engine{dsn: ":memory:"}
}

// Name implements engine.Engine.
func (*Engine) Name() string { return engineName }

// Execute implements engine.Engine.
func (e *Engine) Execute(ctx context.Context, plan query.Plan, rel *relation.Relation) (*engine.Result, error) {
	db, err := sql.Open("sqlite", e.dsn)
	if err != nil {
		return nil, errors.NewEngineError(engineName, "open", err)
	}
	defer db.Close()
	// each connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	if err := load(ctx, db, rel, plan.Columns()); err != nil {
		return nil, errors.NewEngineError(engineName, "load", err)
	}
	stmts, err := plan.Statements(tableName)
	if err != nil {
		return nil, errors.NewEngineError(engineName, "render", err)
	}

	var res *engine.Result
	switch p := plan.(type) {
	case *query.CategoricalPlan:
		res, err = categorical(ctx, db, p, stmts)
	case *query.TimeSeriesPlan:
		res, err = timeSeries(ctx, db, p, stmts)
	case *query.HistogramPlan:
		res, err = histogram(ctx, db, p, stmts)
	case *query.CorrelationPlan:
		res, err = correlation(ctx, db, p, stmts, rel.Len())
	default:
		err = fmt.Errorf("unsupported plan %T", plan)
	}
	if err != nil {
		return nil, errors.NewEngineError(engineName, "execute", err)
	}
	return res, nil
}

type columnLoader struct {
	name    string
	sqlType string
	value   func(i int) any
}

func loaderFor(col relation.Column) columnLoader {
	arr := col.Data
	switch coltype.Classify(arr.DataType()) {
	case coltype.Numeric:
		return columnLoader{col.Name, "REAL", func(i int) any {
			if v, ok := relation.FloatAt(arr, i); ok {
				return v
			}
			return nil
		}}
	case coltype.Temporal:
		return columnLoader{col.Name, "TEXT", func(i int) any {
			if t, ok := relation.TimeAt(arr, i); ok {
				return t.UTC().Format(query.StorageTimeLayout)
			}
			return nil
		}}
	default:
		return columnLoader{col.Name, "TEXT", func(i int) any {
			if s, ok := relation.LabelAt(arr, i); ok {
				return s
			}
			return nil
		}}
	}
}

// load creates the data table with the named columns and copies every row.
func load(ctx context.Context, db *sql.DB, rel *relation.Relation, names []string) error {
	loaders := make([]columnLoader, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		col, ok := rel.Lookup(name)
		if !ok {
			return fmt.Errorf("column %q not in relation", name)
		}
		loaders = append(loaders, loaderFor(col))
	}

	defs := []string{query.QuoteIdent(query.RowColumn) + " INTEGER"}
	cols := []string{query.QuoteIdent(query.RowColumn)}
	for _, l := range loaders {
		defs = append(defs, query.QuoteIdent(l.name)+" "+l.sqlType)
		cols = append(cols, query.QuoteIdent(l.name))
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", query.QuoteIdent(tableName), strings.Join(defs, ", "))
	if _, err := db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		query.QuoteIdent(tableName), strings.Join(cols, ", "), placeholders))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(cols))
	for i := range rel.Len() {
		args[0] = i
		for j, l := range loaders {
			args[j+1] = l.value(i)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func statement(stmts []query.Statement, name string) (query.Statement, error) {
	for _, s := range stmts {
		if s.Name == name {
			return s, nil
		}
	}
	return query.Statement{}, fmt.Errorf("plan rendered no %q statement", name)
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func categorical(ctx context.Context, db *sql.DB, p *query.CategoricalPlan, stmts []query.Statement) (*engine.Result, error) {
	groups, err := statement(stmts, "groups")
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, groups.SQL, groups.Args...)
	if err != nil {
		return nil, fmt.Errorf("groups: %w", err)
	}
	defer rows.Close()

	series := engine.Series{Name: p.SeriesName(), Points: []engine.Point{}}
	for rows.Next() {
		var (
			label string
			value sql.NullFloat64
		)
		if err := rows.Scan(&label, &value); err != nil {
			return nil, err
		}
		series.Points = append(series.Points, engine.Point{Label: label, Value: nullable(value)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summary, err := statement(stmts, "summary")
	if err != nil {
		return nil, err
	}
	var (
		groupCount, considered int64
		total                  sql.NullFloat64
	)
	if err := db.QueryRowContext(ctx, summary.SQL, summary.Args...).Scan(&groupCount, &considered, &total); err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	return &engine.Result{
		Series:         []engine.Series{series},
		RowsConsidered: considered,
		Groups:         int(groupCount),
		Total:          nullable(total),
	}, nil
}

func timeSeries(ctx context.Context, db *sql.DB, p *query.TimeSeriesPlan, stmts []query.Statement) (*engine.Result, error) {
	points, err := statement(stmts, "points")
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, points.SQL, points.Args...)
	if err != nil {
		return nil, fmt.Errorf("points: %w", err)
	}
	defer rows.Close()

	res := &engine.Result{Series: []engine.Series{}}
	for rows.Next() {
		var (
			name, bucket string
			value        sql.NullFloat64
		)
		if p.Series != nil {
			err = rows.Scan(&name, &bucket, &value)
		} else {
			name = p.SeriesName()
			err = rows.Scan(&bucket, &value)
		}
		if err != nil {
			return nil, err
		}
		if n := len(res.Series); n == 0 || res.Series[n-1].Name != name {
			res.Series = append(res.Series, engine.Series{Name: name})
		}
		last := &res.Series[len(res.Series)-1]
		last.Points = append(last.Points, engine.Point{Label: bucket, Value: nullable(value)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summary, err := statement(stmts, "summary")
	if err != nil {
		return nil, err
	}
	var considered, groups int64
	if err := db.QueryRowContext(ctx, summary.SQL, summary.Args...).Scan(&considered, &groups); err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	res.RowsConsidered, res.Groups = considered, int(groups)
	return res, nil
}

func histogram(ctx context.Context, db *sql.DB, p *query.HistogramPlan, stmts []query.Statement) (*engine.Result, error) {
	statsStmt, err := statement(stmts, "stats")
	if err != nil {
		return nil, err
	}
	var (
		n                  int64
		lo, hi, mean, vari sql.NullFloat64
	)
	if err := db.QueryRowContext(ctx, statsStmt.SQL, statsStmt.Args...).Scan(&n, &lo, &hi, &mean, &vari); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	hist := &engine.Histogram{Edges: []float64{}, Counts: []int64{}, Stats: engine.Stats{Count: n}}
	if n == 0 {
		return &engine.Result{Histogram: hist}, nil
	}
	hist.Stats.Min, hist.Stats.Max, hist.Stats.Mean = nullable(lo), nullable(hi), nullable(mean)
	if vari.Valid {
		std := math.Sqrt(max(vari.Float64, 0))
		hist.Stats.Std = &std
	}

	medianStmt, err := statement(stmts, "median")
	if err != nil {
		return nil, err
	}
	var med sql.NullFloat64
	if err := db.QueryRowContext(ctx, medianStmt.SQL, medianStmt.Args...).Scan(&med); err != nil {
		return nil, fmt.Errorf("median: %w", err)
	}
	hist.Stats.Median = nullable(med)

	binsStmt, err := statement(stmts, "bins")
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, binsStmt.SQL, binsStmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("bins: %w", err)
	}
	defer rows.Close()
	sparse := make(map[int]int64)
	for rows.Next() {
		var idx, count int64
		if err := rows.Scan(&idx, &count); err != nil {
			return nil, err
		}
		sparse[int(idx)] += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	hist.Edges, hist.Counts = engine.FillBins(p.Bins, lo.Float64, hi.Float64, sparse)
	return &engine.Result{RowsConsidered: n, Histogram: hist}, nil
}

func correlation(ctx context.Context, db *sql.DB, p *query.CorrelationPlan, stmts []query.Statement, rows int) (*engine.Result, error) {
	m := engine.NewMatrix(p.Columns())
	k := 0
	for i := range p.Cols {
		for j := i + 1; j < len(p.Cols); j++ {
			if k >= len(stmts) {
				return nil, fmt.Errorf("plan rendered %d pair statements, need more", len(stmts))
			}
			st := stmts[k]
			k++
			var (
				n             sql.NullInt64
				sxy, sxx, syy sql.NullFloat64
			)
			if err := db.QueryRowContext(ctx, st.SQL, st.Args...).Scan(&n, &sxy, &sxx, &syy); err != nil {
				return nil, fmt.Errorf("%s: %w", st.Name, err)
			}
			m.Set(i, j, engine.Pearson(n.Int64, sxy.Float64, sxx.Float64, syy.Float64))
		}
	}
	return &engine.Result{RowsConsidered: int64(rows), Correlation: m, Series: []engine.Series{}}, nil
}
