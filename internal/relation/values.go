package relation

import (
	"math"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"golang.org/x/exp/constraints"
)

type number interface {
	constraints.Integer | constraints.Float
}

func valueAt[T number](values []T, i int) float64 {
	return float64(values[i])
}

// FloatAt returns the numeric value at row i. Nulls, NaN, ±Inf and
// non-numeric arrays report false.
func FloatAt(arr arrow.Array, i int) (float64, bool) {
	if arr.IsNull(i) {
		return 0, false
	}
	var v float64
	switch a := arr.(type) {
	case *array.Int8:
		v = valueAt(a.Int8Values(), i)
	case *array.Int16:
		v = valueAt(a.Int16Values(), i)
	case *array.Int32:
		v = valueAt(a.Int32Values(), i)
	case *array.Int64:
		v = valueAt(a.Int64Values(), i)
	case *array.Uint8:
		v = valueAt(a.Uint8Values(), i)
	case *array.Uint16:
		v = valueAt(a.Uint16Values(), i)
	case *array.Uint32:
		v = valueAt(a.Uint32Values(), i)
	case *array.Uint64:
		v = valueAt(a.Uint64Values(), i)
	case *array.Float16:
		v = float64(a.Value(i).Float32())
	case *array.Float32:
		v = valueAt(a.Float32Values(), i)
	case *array.Float64:
		v = valueAt(a.Float64Values(), i)
	case *array.Decimal128:
		v = a.Value(i).ToFloat64(a.DataType().(*arrow.Decimal128Type).Scale)
	case *array.Decimal256:
		v = a.Value(i).ToFloat64(a.DataType().(*arrow.Decimal256Type).Scale)
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// TimeAt returns the UTC instant at row i for timestamp and date arrays.
func TimeAt(arr arrow.Array, i int) (time.Time, bool) {
	if arr.IsNull(i) {
		return time.Time{}, false
	}
	switch a := arr.(type) {
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC(), true
	case *array.Date32:
		return a.Value(i).ToTime().UTC(), true
	case *array.Date64:
		return a.Value(i).ToTime().UTC(), true
	default:
		return time.Time{}, false
	}
}

// LabelAt returns the display label at row i. Strings are returned as-is,
// booleans as "true"/"false", anything else through the array formatter.
func LabelAt(arr arrow.Array, i int) (string, bool) {
	if arr.IsNull(i) {
		return "", false
	}
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i), true
	case *array.LargeString:
		return a.Value(i), true
	case *array.StringView:
		return a.Value(i), true
	case *array.Boolean:
		return strconv.FormatBool(a.Value(i)), true
	case *array.Dictionary:
		return LabelAt(a.Dictionary(), a.GetValueIndex(i))
	default:
		if f, ok := FloatAt(arr, i); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
		if t, ok := TimeAt(arr, i); ok {
			return FormatTime(t), true
		}
		return arr.ValueStr(i), true
	}
}

// TimeLayout is the label format for instants and time buckets.
const TimeLayout = "2006-01-02T15:04:05Z"

// FormatTime renders t in UTC with TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
