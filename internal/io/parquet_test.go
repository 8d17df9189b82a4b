package io_test

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/tabula/internal/errors"
	tio "github.com/paveg/tabula/internal/io"
	"github.com/paveg/tabula/internal/relation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parquetFixture(t *testing.T, mem memory.Allocator) *bytes.Buffer {
	t.Helper()

	ids := array.NewInt32Builder(mem)
	defer ids.Release()
	ids.AppendValues([]int32{1, 2, 3}, nil)

	scores := array.NewFloat64Builder(mem)
	defer scores.Release()
	scores.AppendValues([]float64{0.5, 0, 2.5}, []bool{true, false, true})

	names := array.NewStringBuilder(mem)
	defer names.Release()
	names.AppendValues([]string{"a", "b", "c"}, nil)

	rel, err := relation.New([]relation.Column{
		{Name: "id", Data: ids.NewArray()},
		{Name: "score", Data: scores.NewArray()},
		{Name: "name", Data: names.NewArray()},
	})
	require.NoError(t, err)
	defer rel.Release()

	var buf bytes.Buffer
	require.NoError(t, tio.NewParquetWriter(&buf).Write(rel))
	return &buf
}

func TestParquetReader_RoundTrip(t *testing.T) {
	mem := memory.NewGoAllocator()
	buf := parquetFixture(t, mem)

	rel, err := tio.NewParquetReader(buf, tio.DefaultOptions()).Read(context.Background())
	require.NoError(t, err)
	defer rel.Release()

	assert.Equal(t, 3, rel.Len())
	assert.Equal(t, []string{"id", "score", "name"}, rel.Names())
	// declared types are kept as written
	assert.Equal(t, arrow.INT32, columnType(t, rel, "id"))
	assert.Equal(t, arrow.FLOAT64, columnType(t, rel, "score"))

	score, _ := rel.Lookup("score")
	assert.Equal(t, 1, score.Data.NullN())
	v, ok := relation.FloatAt(score.Data, 2)
	require.True(t, ok)
	assert.InDelta(t, 2.5, v, 1e-12)
}

func TestParquetReader_Errors(t *testing.T) {
	t.Run("corrupt", func(t *testing.T) {
		_, err := tio.NewParquetReader(bytes.NewReader([]byte("not parquet at all")), tio.DefaultOptions()).Read(context.Background())
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, errors.ErrCorrupt))
	})

	t.Run("row ceiling uses file metadata", func(t *testing.T) {
		buf := parquetFixture(t, memory.NewGoAllocator())
		opts := tio.DefaultOptions()
		opts.MaxRows = 2
		_, err := tio.NewParquetReader(buf, opts).Read(context.Background())
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, errors.ErrSizeLimitExceeded))
	})

	t.Run("empty input", func(t *testing.T) {
		rel, err := tio.NewParquetReader(bytes.NewReader(nil), tio.DefaultOptions()).Read(context.Background())
		require.NoError(t, err)
		defer rel.Release()
		assert.Equal(t, 0, rel.Width())
	})
}
