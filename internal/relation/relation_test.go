package relation_test

import (
	"math"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/paveg/tabula/internal/relation"
	"github.com/paveg/tabula/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	t.Run("valid", func(t *testing.T) {
		rel := testutil.CreateSalesRelation(t, mem.Allocator)
		defer rel.Release()

		assert.Equal(t, 6, rel.Len())
		assert.Equal(t, 5, rel.Width())
		assert.Equal(t, []string{"region", "units", "price", "sold_at", "returned"}, rel.Names())
		assert.True(t, rel.HasColumn("price"))
		assert.False(t, rel.HasColumn("Price"))

		col, ok := rel.Lookup("units")
		require.True(t, ok)
		assert.Equal(t, "units", col.Name)
		assert.Equal(t, rel.Column(1).Name, col.Name)
		_, ok = rel.Lookup("absent")
		assert.False(t, ok)
	})

	t.Run("rejects bad columns", func(t *testing.T) {
		a := testutil.Int64s(mem.Allocator, "a", []int64{1, 2}, nil)
		defer a.Data.Release()
		dup := testutil.Int64s(mem.Allocator, "a", []int64{3, 4}, nil)
		defer dup.Data.Release()
		short := testutil.Int64s(mem.Allocator, "b", []int64{1}, nil)
		defer short.Data.Release()

		_, err := relation.New([]relation.Column{a, dup})
		assert.ErrorContains(t, err, `duplicate column name "a"`)
		_, err = relation.New([]relation.Column{a, short})
		assert.ErrorContains(t, err, `column "b" has 1 rows, expected 2`)
		_, err = relation.New([]relation.Column{{Name: "nil"}})
		assert.ErrorContains(t, err, "has no data")
	})

	t.Run("empty", func(t *testing.T) {
		rel := relation.Empty()
		assert.Zero(t, rel.Len())
		assert.Zero(t, rel.Width())
		assert.Empty(t, rel.Names())
		rel.Release()
	})
}

func TestFloatAt(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	ints := testutil.Int64s(mem.Allocator, "i", []int64{7, 0}, []bool{true, false})
	defer ints.Data.Release()
	floats := testutil.Float64s(mem.Allocator, "f", []float64{1.5, math.NaN()}, nil)
	defer floats.Data.Release()
	strs := testutil.Strings(mem.Allocator, "s", []string{"1"}, nil)
	defer strs.Data.Release()

	db := array.NewDecimal128Builder(mem.Allocator, &arrow.Decimal128Type{Precision: 10, Scale: 2})
	defer db.Release()
	db.Append(decimal128.FromI64(1234))
	dec := db.NewArray()
	defer dec.Release()

	v, ok := relation.FloatAt(ints.Data, 0)
	assert.True(t, ok)
	assert.Equal(t, 7.0, v)
	_, ok = relation.FloatAt(ints.Data, 1)
	assert.False(t, ok, "null")

	v, ok = relation.FloatAt(floats.Data, 0)
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)
	_, ok = relation.FloatAt(floats.Data, 1)
	assert.False(t, ok, "NaN reads as missing")

	_, ok = relation.FloatAt(strs.Data, 0)
	assert.False(t, ok, "text is not numeric")

	v, ok = relation.FloatAt(dec, 0)
	assert.True(t, ok)
	assert.InDelta(t, 12.34, v, 1e-9)
}

func TestTimeAtAndLabelAt(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	instant := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	times := testutil.Times(mem.Allocator, "t", []time.Time{instant, {}}, []bool{true, false})
	defer times.Data.Release()
	bools := testutil.Bools(mem.Allocator, "b", []bool{true}, nil)
	defer bools.Data.Release()
	strs := testutil.Strings(mem.Allocator, "s", []string{"north"}, nil)
	defer strs.Data.Release()
	floats := testutil.Float64s(mem.Allocator, "f", []float64{2.50}, nil)
	defer floats.Data.Release()

	got, ok := relation.TimeAt(times.Data, 0)
	require.True(t, ok)
	assert.True(t, instant.Equal(got))
	_, ok = relation.TimeAt(times.Data, 1)
	assert.False(t, ok)
	_, ok = relation.TimeAt(strs.Data, 0)
	assert.False(t, ok)

	tests := []struct {
		name string
		arr  arrow.Array
		want string
	}{
		{"time", times.Data, "2024-03-05T14:30:00Z"},
		{"bool", bools.Data, "true"},
		{"string", strs.Data, "north"},
		{"float", floats.Data, "2.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, ok := relation.LabelAt(tt.arr, 0)
			assert.True(t, ok)
			assert.Equal(t, tt.want, label)
		})
	}
	_, ok = relation.LabelAt(times.Data, 1)
	assert.False(t, ok)

	assert.Equal(t, "2024-03-05T14:30:00Z", relation.FormatTime(instant.In(time.FixedZone("x", 3600))))
}
