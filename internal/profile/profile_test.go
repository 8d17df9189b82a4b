package profile_test

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/paveg/tabula/internal/coltype"
	tio "github.com/paveg/tabula/internal/io"
	"github.com/paveg/tabula/internal/profile"
	"github.com/paveg/tabula/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfile_MixedColumns(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	// 3 columns, 5 rows: numeric with one null, categorical with duplicates, temporal
	rel := testutil.NewRelation(t,
		testutil.Float64s(mem.Allocator, "amount", []float64{10, 20, 0, 30, 40}, []bool{true, true, false, true, true}),
		testutil.Strings(mem.Allocator, "city", []string{"a", "b", "a", "c", "b"}, nil),
		testutil.Times(mem.Allocator, "at", []time.Time{
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
		}, nil),
	)
	defer rel.Release()

	ds, err := profile.Profile(context.Background(), rel)
	require.NoError(t, err)
	require.NoError(t, ds.Validate())

	assert.Equal(t, int64(5), ds.RowCount)
	require.Len(t, ds.Columns, 3)

	amount := ds.Columns[0]
	assert.Equal(t, "amount", amount.Name)
	assert.Equal(t, coltype.Numeric, amount.DeclaredType)
	assert.Equal(t, "float64", amount.NativeType)
	assert.Equal(t, int64(4), amount.NonNullCount)
	assert.Equal(t, int64(1), amount.NullCount)
	assert.Equal(t, int64(4), amount.UniqueCount)
	require.True(t, amount.HasStats())
	assert.InDelta(t, 10.0, *amount.Min, 1e-12)
	assert.InDelta(t, 40.0, *amount.Max, 1e-12)
	assert.InEpsilon(t, 25.0, *amount.Mean, 1e-9)

	city := ds.Columns[1]
	assert.Equal(t, coltype.Categorical, city.DeclaredType)
	assert.Equal(t, int64(3), city.UniqueCount)
	assert.False(t, city.HasStats())

	at := ds.Columns[2]
	assert.Equal(t, coltype.Temporal, at.DeclaredType)
	assert.Equal(t, int64(4), at.UniqueCount)
	assert.Nil(t, at.Min)
}

func TestProfile_AllNullColumn(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	rel := testutil.NewRelation(t,
		testutil.Float64s(mem.Allocator, "empty", []float64{0, 0, 0}, []bool{false, false, false}),
		testutil.Nulls("untyped", 3),
	)
	defer rel.Release()

	ds, err := profile.Profile(context.Background(), rel)
	require.NoError(t, err)
	require.NoError(t, ds.Validate())

	for _, c := range ds.Columns {
		assert.Equal(t, int64(0), c.NonNullCount, c.Name)
		assert.Equal(t, int64(3), c.NullCount, c.Name)
		assert.Equal(t, int64(0), c.UniqueCount, c.Name)
		assert.Nil(t, c.Min, c.Name)
		assert.Nil(t, c.Max, c.Name)
		assert.Nil(t, c.Mean, c.Name)
	}
	assert.Equal(t, coltype.Numeric, ds.Columns[0].DeclaredType)
	assert.Equal(t, coltype.Unknown, ds.Columns[1].DeclaredType)
}

func TestProfile_NaNIsMissing(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	rel := testutil.NewRelation(t,
		testutil.Float64s(mem.Allocator, "x", []float64{1, math.NaN(), 3, -0.0, 0}, nil),
	)
	defer rel.Release()

	ds, err := profile.Profile(context.Background(), rel)
	require.NoError(t, err)

	x := ds.Columns[0]
	assert.Equal(t, int64(4), x.NonNullCount)
	assert.Equal(t, int64(1), x.NullCount)
	// -0 and 0 are the same value
	assert.Equal(t, int64(3), x.UniqueCount)
	assert.InEpsilon(t, 1.0, *x.Mean, 1e-9)
}

func TestProfile_LargeMagnitudes(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	rel := testutil.NewRelation(t,
		testutil.Float64s(mem.Allocator, "big", []float64{1e308, 1.5e308}, nil),
		testutil.Float64s(mem.Allocator, "spread", []float64{1.7e308, 1.7e308, -1.7e308}, nil),
		testutil.Float64s(mem.Allocator, "inf", []float64{math.Inf(1), 2, math.Inf(-1), 4}, nil),
	)
	defer rel.Release()

	ds, err := profile.Profile(context.Background(), rel)
	require.NoError(t, err)
	require.NoError(t, ds.Validate())

	big := ds.Columns[0]
	require.True(t, big.HasStats())
	assert.InEpsilon(t, 1.25e308, *big.Mean, 1e-9)

	spread := ds.Columns[1]
	require.True(t, spread.HasStats())
	assert.InEpsilon(t, 1.7e308/3, *spread.Mean, 1e-9)

	// infinities count as missing
	inf := ds.Columns[2]
	assert.EqualValues(t, 2, inf.NonNullCount)
	assert.EqualValues(t, 2, inf.NullCount)
	assert.Equal(t, 2.0, *inf.Min)
	assert.Equal(t, 4.0, *inf.Max)
	assert.Equal(t, 3.0, *inf.Mean)

	_, err = json.Marshal(ds)
	assert.NoError(t, err)
}

func TestProfile_Invariants(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	for _, rows := range []int{1, 7, 100} {
		rel := testutil.CreateSalesRelation(t, mem.Allocator, testutil.WithRowCount(rows), testutil.WithNulls())
		ds, err := profile.Profile(context.Background(), rel)
		require.NoError(t, err)
		require.NoError(t, ds.Validate())

		for _, c := range ds.Columns {
			assert.Equal(t, ds.RowCount, c.NonNullCount+c.NullCount)
			assert.LessOrEqual(t, c.UniqueCount, ds.RowCount)
			if c.HasStats() {
				assert.LessOrEqual(t, *c.Min, *c.Mean)
				assert.LessOrEqual(t, *c.Mean, *c.Max)
			}
		}

		again, err := profile.Profile(context.Background(), rel)
		require.NoError(t, err)
		assert.Equal(t, ds, again)
		rel.Release()
	}
}

func TestProfile_MeanStaysInRange(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	values := make([]float64, 1000)
	for i := range values {
		values[i] = 0.1
	}
	rel := testutil.NewRelation(t, testutil.Float64s(mem.Allocator, "v", values, nil))
	defer rel.Release()

	ds, err := profile.Profile(context.Background(), rel)
	require.NoError(t, err)
	assert.Equal(t, *ds.Columns[0].Min, *ds.Columns[0].Mean)
	assert.Equal(t, int64(1), ds.Columns[0].UniqueCount)
}

func TestProfile_FromLoadedFile(t *testing.T) {
	input := "id,label,score,flag,when\n" +
		"1,a,1.5,true,2024-01-01\n" +
		"2,b,,false,2024-01-02\n" +
		"3,a,3.5,true,\n"

	rel, err := tio.Load(context.Background(), strings.NewReader(input), "data.csv", tio.DefaultOptions())
	require.NoError(t, err)
	defer rel.Release()

	ds, err := profile.Profile(context.Background(), rel)
	require.NoError(t, err)
	require.NoError(t, ds.Validate())

	got := map[string]coltype.Category{}
	for _, c := range ds.Columns {
		got[c.Name] = c.DeclaredType
	}
	assert.Equal(t, map[string]coltype.Category{
		"id":    coltype.Numeric,
		"label": coltype.Categorical,
		"score": coltype.Numeric,
		"flag":  coltype.Boolean,
		"when":  coltype.Temporal,
	}, got)

	score, _, ok := ds.Column("score")
	require.True(t, ok)
	assert.Equal(t, int64(1), score.NullCount)
	assert.InEpsilon(t, 2.5, *score.Mean, 1e-9)
}

func TestProfile_Cancelled(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	rel := testutil.CreateSalesRelation(t, mem.Allocator)
	defer rel.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ds, err := profile.Profile(ctx, rel)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, ds)
}

func TestProfile_WorkerCountDoesNotChangeResult(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	rel := testutil.CreateSalesRelation(t, mem.Allocator, testutil.WithRowCount(40), testutil.WithNulls())
	defer rel.Release()

	serial, err := profile.New(nil).WithWorkers(1).Profile(context.Background(), rel)
	require.NoError(t, err)
	concurrent, err := profile.New(nil).WithWorkers(8).Profile(context.Background(), rel)
	require.NoError(t, err)
	assert.Equal(t, serial, concurrent)

	names := make([]string, len(concurrent.Columns))
	for i, c := range concurrent.Columns {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"region", "units", "price", "sold_at", "returned"}, names)
}
