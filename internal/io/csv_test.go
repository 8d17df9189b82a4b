package io_test

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/tabula/internal/errors"
	tio "github.com/paveg/tabula/internal/io"
	"github.com/paveg/tabula/internal/relation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, input string, opts tio.Options) (*relation.Relation, error) {
	t.Helper()
	return tio.NewCSVReader(strings.NewReader(input), opts).Read(context.Background())
}

func columnType(t *testing.T, rel *relation.Relation, name string) arrow.Type {
	t.Helper()
	col, ok := rel.Lookup(name)
	require.True(t, ok, "column %s", name)
	return col.Data.DataType().ID()
}

func TestCSVReader_TypeInference(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	input := "id,price,active,joined,name,flag\n" +
		"1,9.5,true,2024-01-02,Alice,1\n" +
		"2,10,false,2024-01-03 10:00:00,Bob,0\n" +
		"3,,yes,,Carol,1\n"

	opts := tio.DefaultOptions()
	opts.Allocator = mem
	rel, err := readCSV(t, input, opts)
	require.NoError(t, err)
	defer rel.Release()

	assert.Equal(t, 3, rel.Len())
	assert.Equal(t, []string{"id", "price", "active", "joined", "name", "flag"}, rel.Names())
	assert.Equal(t, arrow.INT64, columnType(t, rel, "id"))
	assert.Equal(t, arrow.FLOAT64, columnType(t, rel, "price"))
	assert.Equal(t, arrow.BOOL, columnType(t, rel, "active"))
	assert.Equal(t, arrow.TIMESTAMP, columnType(t, rel, "joined"))
	assert.Equal(t, arrow.STRING, columnType(t, rel, "name"))
	// integers take precedence over booleans
	assert.Equal(t, arrow.INT64, columnType(t, rel, "flag"))

	price, _ := rel.Lookup("price")
	assert.True(t, price.Data.IsNull(2))
	v, ok := relation.FloatAt(price.Data, 1)
	require.True(t, ok)
	assert.InDelta(t, 10.0, v, 1e-12)

	joined, _ := rel.Lookup("joined")
	ts, ok := relation.TimeAt(joined.Data, 1)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC), ts)
	assert.Equal(t, 1, joined.Data.NullN())
}

func TestCSVReader_MixedValuesFallBackToText(t *testing.T) {
	rel, err := readCSV(t, "code,when\n1,2024-01-01\nA7,not a date\n", tio.DefaultOptions())
	require.NoError(t, err)
	defer rel.Release()

	assert.Equal(t, arrow.STRING, columnType(t, rel, "code"))
	assert.Equal(t, arrow.STRING, columnType(t, rel, "when"))
}

func TestCSVReader_DelimiterDetection(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"semicolon", "a;b;c\n1;2;3\n4;5;6\n"},
		{"tab", "a\tb\tc\n1\t2\t3\n"},
		{"pipe", "a|b|c\n1|2|3\n"},
		{"comma with quoted semicolons", "a,b,c\n\"x;y\",2,3\n\"z;w\",5,6\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel, err := readCSV(t, tt.input, tio.DefaultOptions())
			require.NoError(t, err)
			defer rel.Release()
			assert.Equal(t, []string{"a", "b", "c"}, rel.Names())
		})
	}
}

func TestCSVReader_HeaderDetection(t *testing.T) {
	t.Run("numeric first row is data", func(t *testing.T) {
		rel, err := readCSV(t, "1,2\n3,4\n", tio.DefaultOptions())
		require.NoError(t, err)
		defer rel.Release()
		assert.Equal(t, []string{"column_0", "column_1"}, rel.Names())
		assert.Equal(t, 2, rel.Len())
	})

	t.Run("text header over typed body", func(t *testing.T) {
		rel, err := readCSV(t, "x,y\n1,2\n3,4\n", tio.DefaultOptions())
		require.NoError(t, err)
		defer rel.Release()
		assert.Equal(t, []string{"x", "y"}, rel.Names())
		assert.Equal(t, 2, rel.Len())
	})

	t.Run("all text defaults to header", func(t *testing.T) {
		rel, err := readCSV(t, "city,country\nParis,France\n", tio.DefaultOptions())
		require.NoError(t, err)
		defer rel.Release()
		assert.Equal(t, []string{"city", "country"}, rel.Names())
	})

	t.Run("forced absent", func(t *testing.T) {
		opts := tio.DefaultOptions()
		opts.Header = tio.HeaderAbsent
		rel, err := readCSV(t, "city,country\nParis,France\n", opts)
		require.NoError(t, err)
		defer rel.Release()
		assert.Equal(t, 2, rel.Len())
		assert.Equal(t, []string{"column_0", "column_1"}, rel.Names())
	})
}

func TestCSVReader_HeaderNames(t *testing.T) {
	rel, err := readCSV(t, "a,,a,a_1\n1,2,3,4\n", tio.DefaultOptions())
	require.NoError(t, err)
	defer rel.Release()
	assert.Equal(t, []string{"a", "column_1", "a_1", "a_1_1"}, rel.Names())
}

func TestCSVReader_EmptyInputs(t *testing.T) {
	t.Run("empty file", func(t *testing.T) {
		rel, err := readCSV(t, "", tio.DefaultOptions())
		require.NoError(t, err)
		defer rel.Release()
		assert.Equal(t, 0, rel.Len())
		assert.Equal(t, 0, rel.Width())
	})

	t.Run("header only", func(t *testing.T) {
		rel, err := readCSV(t, "a,b,c\n", tio.DefaultOptions())
		require.NoError(t, err)
		defer rel.Release()
		assert.Equal(t, 0, rel.Len())
		assert.Equal(t, []string{"a", "b", "c"}, rel.Names())
		for _, name := range rel.Names() {
			assert.Equal(t, arrow.NULL, columnType(t, rel, name))
		}
	})

	t.Run("all-null column", func(t *testing.T) {
		rel, err := readCSV(t, "a,b\n1,\n2,NA\n", tio.DefaultOptions())
		require.NoError(t, err)
		defer rel.Release()
		assert.Equal(t, arrow.NULL, columnType(t, rel, "b"))
	})
}

func TestCSVReader_Encodings(t *testing.T) {
	t.Run("utf-8 bom is stripped", func(t *testing.T) {
		rel, err := readCSV(t, "\xEF\xBB\xBFname,n\nx,1\n", tio.DefaultOptions())
		require.NoError(t, err)
		defer rel.Release()
		assert.Equal(t, []string{"name", "n"}, rel.Names())
	})

	t.Run("utf-16 with bom", func(t *testing.T) {
		// "a,b\n1,2\n" little endian
		var buf bytes.Buffer
		buf.Write([]byte{0xFF, 0xFE})
		for _, c := range "a,b\n1,2\n" {
			buf.Write([]byte{byte(c), 0})
		}
		rel, err := tio.NewCSVReader(&buf, tio.DefaultOptions()).Read(context.Background())
		require.NoError(t, err)
		defer rel.Release()
		assert.Equal(t, []string{"a", "b"}, rel.Names())
		assert.Equal(t, arrow.INT64, columnType(t, rel, "a"))
	})

	t.Run("binary input is corrupt", func(t *testing.T) {
		_, err := readCSV(t, "PK\x03\x04\x00\xff\xfe", tio.DefaultOptions())
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, errors.ErrCorrupt))
	})
}

func TestCSVReader_Errors(t *testing.T) {
	t.Run("overlong row", func(t *testing.T) {
		_, err := readCSV(t, "a,b\n1,2\n3,4,5\n", tio.DefaultOptions())
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, errors.ErrCorrupt))
		assert.Contains(t, err.Error(), "line 3 has 3 fields, expected 2")
	})

	t.Run("short rows are padded", func(t *testing.T) {
		rel, err := readCSV(t, "a,b\n1,2\n3\n", tio.DefaultOptions())
		require.NoError(t, err)
		defer rel.Release()
		b, _ := rel.Lookup("b")
		assert.True(t, b.Data.IsNull(1))
	})

	t.Run("byte ceiling", func(t *testing.T) {
		opts := tio.DefaultOptions()
		opts.MaxBytes = 8
		_, err := readCSV(t, "a,b\n1,2\n3,4\n", opts)
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, errors.ErrSizeLimitExceeded))
	})

	t.Run("row ceiling", func(t *testing.T) {
		opts := tio.DefaultOptions()
		opts.MaxRows = 1
		_, err := readCSV(t, "a,b\n1,2\n3,4\n", opts)
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, errors.ErrSizeLimitExceeded))
	})
}

func TestLoad_FormatSelection(t *testing.T) {
	t.Run("extension is case insensitive", func(t *testing.T) {
		rel, err := tio.Load(context.Background(), strings.NewReader("a\n1\n"), "DATA.CSV", tio.Options{})
		require.NoError(t, err)
		defer rel.Release()
		assert.Equal(t, 1, rel.Len())
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := tio.Load(context.Background(), strings.NewReader("x"), "report.docx", tio.Options{})
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, errors.ErrUnsupportedFormat))
	})

	t.Run("legacy spreadsheet", func(t *testing.T) {
		_, err := tio.FormatFor("old.xls")
		assert.True(t, stderrors.Is(err, errors.ErrUnsupportedFormat))
	})

	for name, want := range map[string]tio.Format{
		"a.tsv":     tio.FormatCSV,
		"b.xlsx":    tio.FormatXLSX,
		"c.jsonl":   tio.FormatJSON,
		"d.parquet": tio.FormatParquet,
	} {
		got, err := tio.FormatFor(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}
