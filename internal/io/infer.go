package io

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/tabula/internal/relation"
)

// valueKind is the result of scanning one text column. Kinds are tried in
// declaration order and the first one every non-null value satisfies wins.
type valueKind int

const (
	kindNull valueKind = iota
	kindInt
	kindFloat
	kindBool
	kindTime
	kindText
)

// TimestampType is the native type of every inferred date-time column.
var TimestampType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// timeFormat is a family of layouts that agree on field order, so trying
// each of them per value cannot reinterpret a date.
type timeFormat struct {
	name    string
	layouts []string
}

var timeFormats = []timeFormat{
	{"iso", []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}},
	{"slash-ymd", []string{"2006/01/02 15:04:05", "2006/01/02"}},
	{"us", []string{"01/02/2006 15:04:05", "01/02/2006 15:04", "01/02/2006", "1/2/2006", "1/2/06"}},
	{"dotted-dmy", []string{"02.01.2006 15:04:05", "02.01.2006"}},
	{"named-month", []string{"02-Jan-2006", "Jan 2, 2006", "2 Jan 2006"}},
}

var boolValues = map[string]bool{
	"true":  true,
	"false": false,
	"yes":   true,
	"no":    false,
}

func parseBool(s string) (bool, bool) {
	v, ok := boolValues[strings.ToLower(s)]
	return v, ok
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func (tf timeFormat) parse(s string) (time.Time, bool) {
	for _, layout := range tf.layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// nullSet recognises missing-value tokens after trimming surrounding spaces.
type nullSet map[string]struct{}

func newNullSet(tokens []string) nullSet {
	set := make(nullSet, len(tokens)+1)
	set[""] = struct{}{}
	for _, t := range tokens {
		set[strings.TrimSpace(t)] = struct{}{}
	}
	return set
}

func (n nullSet) isNull(s string) bool {
	_, ok := n[strings.TrimSpace(s)]
	return ok
}

// inference is the outcome of scanning a column: its kind and, for
// date-time columns, the layout family that parsed every value.
type inference struct {
	kind   valueKind
	format timeFormat
}

// inferKind scans the non-null values of a text column.
func inferKind(values []string, nulls nullSet) inference {
	allInt, allFloat, allBool := true, true, true
	nonNull := 0
	for _, raw := range values {
		if nulls.isNull(raw) {
			continue
		}
		nonNull++
		v := strings.TrimSpace(raw)
		if allInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat && !allInt {
			if _, ok := parseFloat(v); !ok {
				allFloat = false
			}
		}
		if allBool {
			if _, ok := parseBool(v); !ok {
				allBool = false
			}
		}
	}
	switch {
	case nonNull == 0:
		return inference{kind: kindNull}
	case allInt:
		return inference{kind: kindInt}
	case allFloat:
		return inference{kind: kindFloat}
	case allBool:
		return inference{kind: kindBool}
	}
	for _, tf := range timeFormats {
		if allParse(values, nulls, tf) {
			return inference{kind: kindTime, format: tf}
		}
	}
	return inference{kind: kindText}
}

func allParse(values []string, nulls nullSet, tf timeFormat) bool {
	for _, raw := range values {
		if nulls.isNull(raw) {
			continue
		}
		if _, ok := tf.parse(strings.TrimSpace(raw)); !ok {
			return false
		}
	}
	return true
}

// buildTextColumn infers the type of values and builds the matching array.
func buildTextColumn(mem memory.Allocator, values []string, nulls nullSet) arrow.Array {
	inf := inferKind(values, nulls)
	switch inf.kind {
	case kindNull:
		return array.NewNull(len(values))
	case kindInt:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.Reserve(len(values))
		for _, raw := range values {
			if nulls.isNull(raw) {
				b.AppendNull()
				continue
			}
			v, _ := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			b.Append(v)
		}
		return b.NewArray()
	case kindFloat:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.Reserve(len(values))
		for _, raw := range values {
			if nulls.isNull(raw) {
				b.AppendNull()
				continue
			}
			v, _ := parseFloat(strings.TrimSpace(raw))
			b.Append(v)
		}
		return b.NewArray()
	case kindBool:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		b.Reserve(len(values))
		for _, raw := range values {
			if nulls.isNull(raw) {
				b.AppendNull()
				continue
			}
			v, _ := parseBool(strings.TrimSpace(raw))
			b.Append(v)
		}
		return b.NewArray()
	case kindTime:
		b := array.NewTimestampBuilder(mem, TimestampType)
		defer b.Release()
		b.Reserve(len(values))
		for _, raw := range values {
			if nulls.isNull(raw) {
				b.AppendNull()
				continue
			}
			t, _ := inf.format.parse(strings.TrimSpace(raw))
			b.Append(arrow.Timestamp(t.UnixMicro()))
		}
		return b.NewArray()
	default:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.Reserve(len(values))
		for _, raw := range values {
			if nulls.isNull(raw) {
				b.AppendNull()
				continue
			}
			b.Append(raw)
		}
		return b.NewArray()
	}
}

// buildTable converts row-major text cells into a relation. Short rows are
// padded with nulls; the caller rejects or names overlong rows beforehand.
func buildTable(mem memory.Allocator, names []string, rows [][]string, nulls nullSet) (*relation.Relation, error) {
	columns := make([]relation.Column, len(names))
	values := make([]string, len(rows))
	for j, name := range names {
		for i, row := range rows {
			if j < len(row) {
				values[i] = row[j]
			} else {
				values[i] = ""
			}
		}
		columns[j] = relation.Column{Name: name, Data: buildTextColumn(mem, values, nulls)}
	}
	rel, err := relation.New(columns)
	if err != nil {
		for _, c := range columns {
			c.Data.Release()
		}
		return nil, err
	}
	return rel, nil
}
