package io

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/tabula/internal/errors"
	"github.com/paveg/tabula/internal/relation"
)

// JSONReader reads semi-structured records: a JSON array of objects, JSON
// Lines, or a single object wrapping an array of objects. Nested objects are
// flattened one level into parent.child columns; anything deeper, and every
// array, is kept as compact JSON text.
type JSONReader struct {
	reader  io.Reader
	options Options
}

// NewJSONReader creates a JSON reader
func NewJSONReader(reader io.Reader, options Options) *JSONReader {
	return &JSONReader{reader: reader, options: options.withDefaults()}
}

// object keeps keys in document order.
type object struct {
	keys   []string
	values map[string]any
}

// MarshalJSON writes the object back with its original key order.
func (o *object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// jsonText is a nested value serialized to text.
type jsonText string

// Read reads JSON data and returns a relation
func (r *JSONReader) Read(ctx context.Context) (*relation.Relation, error) {
	data, err := readLimited(r.reader, r.options.MaxBytes, FormatJSON)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF"))
	records, err := parseRecords(data)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return relation.Empty(), nil
	}
	if err := checkRows(int64(len(records)), r.options.MaxRows, FormatJSON); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names, rows := flattenRecords(records)
	return buildRecordTable(r.options.Allocator, names, rows)
}

func parseRecords(data []byte) ([]*object, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var docs []any
	for {
		v, err := decodeValue(dec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewCorruptError(string(FormatJSON), "decoding document", err)
		}
		docs = append(docs, v)
	}

	switch trimmed[0] {
	case '[':
		if len(docs) != 1 {
			return nil, errors.NewCorruptError(string(FormatJSON), "trailing data after array", nil)
		}
		return asRecords(docs[0].([]any))
	case '{':
		if len(docs) == 1 {
			return unwrapEnvelope(docs[0].(*object)), nil
		}
		return asRecords(docs)
	default:
		return nil, errors.NewCorruptError(string(FormatJSON), "expected an array or object of records", nil)
	}
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := &object{values: make(map[string]any)}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("object key is %T", keyTok)
			}
			val, err := decodeValue(dec)
			if err != nil {
				return nil, unexpectedEOF(err)
			}
			if _, dup := obj.values[key]; !dup {
				obj.keys = append(obj.keys, key)
			}
			obj.values[key] = val
		}
		if _, err := dec.Token(); err != nil {
			return nil, unexpectedEOF(err)
		}
		return obj, nil
	case '[':
		arr := []any{}
		for dec.More() {
			val, err := decodeValue(dec)
			if err != nil {
				return nil, unexpectedEOF(err)
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, unexpectedEOF(err)
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", delim)
	}
}

// unexpectedEOF keeps a truncated document from looking like a clean end.
func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func asRecords(values []any) ([]*object, error) {
	records := make([]*object, len(values))
	for i, v := range values {
		obj, ok := v.(*object)
		if !ok {
			return nil, errors.NewCorruptError(string(FormatJSON), fmt.Sprintf("record %d is not an object", i), nil)
		}
		records[i] = obj
	}
	return records, nil
}

// unwrapEnvelope returns the largest array-of-objects field of doc, or doc
// itself as a single record when it has none.
func unwrapEnvelope(doc *object) []*object {
	var best []*object
	for _, k := range doc.keys {
		arr, ok := doc.values[k].([]any)
		if !ok || len(arr) <= len(best) {
			continue
		}
		records, err := asRecords(arr)
		if err != nil {
			continue
		}
		best = records
	}
	if best != nil {
		return best
	}
	return []*object{doc}
}

// flattenRecords returns column names in first-seen order and one
// name-to-value map per record.
func flattenRecords(records []*object) ([]string, []map[string]any) {
	var names []string
	seen := make(map[string]bool)
	nullOnly := make(map[string]bool)
	parents := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			nullOnly[name] = true
			names = append(names, name)
		}
	}

	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		row := make(map[string]any, len(rec.keys))
		for _, k := range rec.keys {
			switch v := rec.values[k].(type) {
			case *object:
				if len(v.keys) == 0 {
					add(k)
					row[k] = jsonText("{}")
					nullOnly[k] = false
					continue
				}
				parents[k] = true
				for _, ck := range v.keys {
					name := k + "." + ck
					add(name)
					row[name] = leafValue(v.values[ck])
					if row[name] != nil {
						nullOnly[name] = false
					}
				}
			default:
				add(k)
				row[k] = leafValue(v)
				if row[k] != nil {
					nullOnly[k] = false
				}
			}
		}
		rows[i] = row
	}

	// a key that was null wherever it was not an object is not a column
	kept := names[:0]
	for _, name := range names {
		if nullOnly[name] && parents[name] {
			continue
		}
		kept = append(kept, name)
	}
	return kept, rows
}

func leafValue(v any) any {
	switch v.(type) {
	case *object, []any:
		text, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return jsonText(text)
	default:
		return v
	}
}

func buildRecordTable(mem memory.Allocator, names []string, rows []map[string]any) (*relation.Relation, error) {
	columns := make([]relation.Column, len(names))
	values := make([]any, len(rows))
	for j, name := range names {
		for i, row := range rows {
			values[i] = row[name]
		}
		columns[j] = relation.Column{Name: name, Data: buildJSONColumn(mem, values)}
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

// buildJSONColumn types a column from its JSON kinds: integral numbers,
// numbers, booleans, date-time strings, and text for strings or any mix.
func buildJSONColumn(mem memory.Allocator, values []any) arrow.Array {
	var nonNull, ints, floats, bools, strs int
	for _, v := range values {
		switch x := v.(type) {
		case nil:
			continue
		case json.Number:
			if _, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
				ints++
			} else if _, ok := parseFloat(x.String()); ok {
				floats++
			}
		case bool:
			bools++
		case string:
			strs++
		}
		nonNull++
	}

	switch {
	case nonNull == 0:
		return array.NewNull(len(values))
	case ints == nonNull:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			n, _ := strconv.ParseInt(v.(json.Number).String(), 10, 64)
			b.Append(n)
		}
		return b.NewArray()
	case ints+floats == nonNull:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			f, _ := parseFloat(v.(json.Number).String())
			b.Append(f)
		}
		return b.NewArray()
	case bools == nonNull:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			b.Append(v.(bool))
		}
		return b.NewArray()
	case strs == nonNull:
		if tf, ok := stringTimeFormat(values); ok {
			b := array.NewTimestampBuilder(mem, TimestampType)
			defer b.Release()
			for _, v := range values {
				if v == nil {
					b.AppendNull()
					continue
				}
				t, _ := tf.parse(strings.TrimSpace(v.(string)))
				b.Append(arrow.Timestamp(t.UnixMicro()))
			}
			return b.NewArray()
		}
	}

	b := array.NewStringBuilder(mem)
	defer b.Release()
	for _, v := range values {
		switch x := v.(type) {
		case nil:
			b.AppendNull()
		case string:
			b.Append(x)
		case json.Number:
			b.Append(x.String())
		case bool:
			b.Append(strconv.FormatBool(x))
		case jsonText:
			b.Append(string(x))
		default:
			b.Append(fmt.Sprint(x))
		}
	}
	return b.NewArray()
}

func stringTimeFormat(values []any) (timeFormat, bool) {
	for _, tf := range timeFormats {
		ok := true
		for _, v := range values {
			if v == nil {
				continue
			}
			if _, parsed := tf.parse(strings.TrimSpace(v.(string))); !parsed {
				ok = false
				break
			}
		}
		if ok {
			return tf, true
		}
	}
	return timeFormat{}, false
}
