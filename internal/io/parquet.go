package io

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/paveg/tabula/internal/errors"
	"github.com/paveg/tabula/internal/relation"
)

// ParquetReader reads a columnar file. Column types come from the file's own
// schema and are never re-inferred.
type ParquetReader struct {
	reader  io.Reader
	options Options
}

// NewParquetReader creates a new Parquet reader with the specified options
func NewParquetReader(reader io.Reader, options Options) *ParquetReader {
	return &ParquetReader{reader: reader, options: options.withDefaults()}
}

// Read reads Parquet data and returns a relation.
func (r *ParquetReader) Read(ctx context.Context) (*relation.Relation, error) {
	data, err := readLimited(r.reader, r.options.MaxBytes, FormatParquet)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return relation.Empty(), nil
	}

	pqReader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewCorruptError(string(FormatParquet), "opening parquet file", err)
	}
	defer func() { _ = pqReader.Close() }()

	if err := checkRows(pqReader.NumRows(), r.options.MaxRows, FormatParquet); err != nil {
		return nil, err
	}

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{}, r.options.Allocator)
	if err != nil {
		return nil, errors.NewCorruptError(string(FormatParquet), "creating arrow file reader", err)
	}

	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewCorruptError(string(FormatParquet), "reading table", err)
	}
	defer table.Release()

	return r.tableToRelation(table)
}

// tableToRelation flattens each chunked column into a single array.
func (r *ParquetReader) tableToRelation(table arrow.Table) (*relation.Relation, error) {
	schema := table.Schema()
	raw := make([]string, schema.NumFields())
	for i := range raw {
		raw[i] = schema.Field(i).Name
	}
	names := uniqueNames(raw)

	columns := make([]relation.Column, 0, len(names))
	release := func() {
		for _, c := range columns {
			c.Data.Release()
		}
	}
	for i, name := range names {
		chunked := table.Column(i).Data()
		var arr arrow.Array
		switch chunks := chunked.Chunks(); len(chunks) {
		case 0:
			arr = array.MakeArrayOfNull(r.options.Allocator, chunked.DataType(), 0)
		case 1:
			arr = chunks[0]
			arr.Retain()
		default:
			merged, err := array.Concatenate(chunks, r.options.Allocator)
			if err != nil {
				release()
				return nil, fmt.Errorf("concatenating column %s: %w", name, err)
			}
			arr = merged
		}
		columns = append(columns, relation.Column{Name: name, Data: arr})
	}

	rel, err := relation.New(columns)
	if err != nil {
		release()
		return nil, err
	}
	return rel, nil
}

// ParquetWriter writes a relation as a snappy-compressed Parquet file. The
// Arrow schema is stored in the file metadata so column types read back
// unchanged.
type ParquetWriter struct {
	writer io.Writer
}

// NewParquetWriter creates a new Parquet writer
func NewParquetWriter(writer io.Writer) *ParquetWriter {
	return &ParquetWriter{writer: writer}
}

// Write writes rel as a single row group.
func (w *ParquetWriter) Write(rel *relation.Relation) error {
	fields := make([]arrow.Field, rel.Width())
	arrays := make([]arrow.Array, rel.Width())
	for i, col := range rel.Columns() {
		fields[i] = arrow.Field{Name: col.Name, Type: col.Data.DataType(), Nullable: true}
		arrays[i] = col.Data
	}
	schema := arrow.NewSchema(fields, nil)
	record := array.NewRecord(schema, arrays, int64(rel.Len()))
	defer record.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	writer, err := pqarrow.NewFileWriter(schema, w.writer, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return fmt.Errorf("creating file writer: %w", err)
	}
	if err := writer.Write(record); err != nil {
		_ = writer.Close()
		return fmt.Errorf("writing record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing file writer: %w", err)
	}
	return nil
}
