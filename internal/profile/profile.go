// Package profile computes per-column statistics for a relation in one pass
// per column.
package profile

import (
	"context"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/paveg/tabula/internal/coltype"
	"github.com/paveg/tabula/internal/parallel"
	"github.com/paveg/tabula/internal/relation"
	"github.com/paveg/tabula/internal/schema"
)

// Profiler turns relations into dataset schemas.
type Profiler struct {
	classifier *coltype.Classifier
	pool       *parallel.WorkerPool
}

// New creates a profiler. A nil classifier uses the default mapping table.
// Columns are profiled concurrently on one worker per CPU.
func New(classifier *coltype.Classifier) *Profiler {
	if classifier == nil {
		classifier = coltype.NewClassifier(nil)
	}
	return &Profiler{classifier: classifier, pool: parallel.NewWorkerPool(0)}
}

// WithWorkers bounds the number of columns profiled at once.
func (p *Profiler) WithWorkers(n int) *Profiler {
	p.pool = parallel.NewWorkerPool(n)
	return p
}

// Profile uses the default classifier.
func Profile(ctx context.Context, rel *relation.Relation) (*schema.DatasetSchema, error) {
	return New(nil).Profile(ctx, rel)
}

// Profile computes the schema of rel. The result is fully built before it
// is returned; a cancelled context yields no partial schema.
func (p *Profiler) Profile(ctx context.Context, rel *relation.Relation) (*schema.DatasetSchema, error) {
	columns, err := parallel.Map(ctx, p.pool, rel.Columns(), func(_ int, col relation.Column) schema.ColumnSchema {
		return p.profileColumn(col)
	})
	if err != nil {
		return nil, err
	}
	return &schema.DatasetSchema{Columns: columns, RowCount: int64(rel.Len())}, nil
}

func (p *Profiler) profileColumn(col relation.Column) schema.ColumnSchema {
	arr := col.Data
	cat := p.classifier.Classify(arr.DataType())
	cs := schema.ColumnSchema{
		Name:         col.Name,
		DeclaredType: cat,
		NativeType:   coltype.NativeName(arr.DataType()),
	}

	n := arr.Len()
	if cat == coltype.Numeric {
		var st numericStats
		seen := make(map[float64]struct{})
		ints := intValues(arr)
		var intSeen map[int64]struct{}
		if ints != nil {
			intSeen = make(map[int64]struct{})
		}
		for i := 0; i < n; i++ {
			v, ok := relation.FloatAt(arr, i)
			if !ok {
				continue
			}
			st.add(v)
			if ints != nil {
				intSeen[ints(i)] = struct{}{}
			} else {
				if v == 0 {
					v = 0 // fold -0 into 0
				}
				seen[v] = struct{}{}
			}
		}
		cs.NonNullCount = st.count
		cs.UniqueCount = int64(len(seen) + len(intSeen))
		if st.count > 0 {
			minV, maxV, mean := st.min, st.max, st.mean()
			cs.Min, cs.Max, cs.Mean = &minV, &maxV, &mean
		}
	} else {
		cs.NonNullCount = int64(n - arr.NullN())
		cs.UniqueCount = distinct(arr)
	}
	cs.NullCount = int64(n) - cs.NonNullCount
	return cs
}

// intValues returns an exact accessor for integer arrays, so distinct
// counts stay exact beyond 2^53.
func intValues(arr arrow.Array) func(int) int64 {
	switch a := arr.(type) {
	case *array.Int8:
		return func(i int) int64 { return int64(a.Value(i)) }
	case *array.Int16:
		return func(i int) int64 { return int64(a.Value(i)) }
	case *array.Int32:
		return func(i int) int64 { return int64(a.Value(i)) }
	case *array.Int64:
		return a.Value
	default:
		return nil
	}
}

// distinct counts distinct non-null values by their typed identity.
func distinct(arr arrow.Array) int64 {
	n := arr.Len()
	switch a := arr.(type) {
	case *array.Null:
		return 0
	case *array.Boolean:
		var sawTrue, sawFalse bool
		for i := 0; i < n; i++ {
			if a.IsNull(i) {
				continue
			}
			if a.Value(i) {
				sawTrue = true
			} else {
				sawFalse = true
			}
		}
		var c int64
		if sawTrue {
			c++
		}
		if sawFalse {
			c++
		}
		return c
	case *array.Timestamp:
		seen := make(map[arrow.Timestamp]struct{})
		for i := 0; i < n; i++ {
			if a.IsValid(i) {
				seen[a.Value(i)] = struct{}{}
			}
		}
		return int64(len(seen))
	default:
		seen := make(map[string]struct{})
		for i := 0; i < n; i++ {
			if v, ok := relation.LabelAt(arr, i); ok {
				seen[v] = struct{}{}
			}
		}
		return int64(len(seen))
	}
}

// numericStats tracks extremes, a compensated running sum and a running
// mean. The running mean takes over when the sum leaves the float64 range.
type numericStats struct {
	count    int64
	min, max float64
	sum, c   float64
	running  float64
}

func (s *numericStats) add(v float64) {
	if s.count == 0 {
		s.min, s.max = v, v
	} else {
		s.min = math.Min(s.min, v)
		s.max = math.Max(s.max, v)
	}
	s.count++
	if s.count == 1 {
		s.running = v
	} else {
		// halved so v - running cannot overflow
		s.running += 2 * ((v/2 - s.running/2) / float64(s.count))
	}
	// Neumaier summation
	t := s.sum + v
	if math.Abs(s.sum) >= math.Abs(v) {
		s.c += (s.sum - t) + v
	} else {
		s.c += (v - t) + s.sum
	}
	s.sum = t
}

// mean is clamped into [min, max] to absorb rounding.
func (s *numericStats) mean() float64 {
	m := (s.sum + s.c) / float64(s.count)
	if math.IsInf(s.sum, 0) || math.IsNaN(m) || math.IsInf(m, 0) {
		m = s.running
	}
	return math.Max(s.min, math.Min(m, s.max))
}
