package io

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/paveg/tabula/internal/errors"
	"github.com/paveg/tabula/internal/relation"
	"github.com/xuri/excelize/v2"
)

// XLSXReader reads one sheet of an OOXML workbook. The first row is the
// header; cells are read as their formatted text and typed with the same
// inference as delimited text.
type XLSXReader struct {
	reader  io.Reader
	options Options
}

// NewXLSXReader creates a spreadsheet reader
func NewXLSXReader(reader io.Reader, options Options) *XLSXReader {
	return &XLSXReader{reader: reader, options: options.withDefaults()}
}

// Read reads the selected sheet and returns a relation
func (r *XLSXReader) Read(ctx context.Context) (*relation.Relation, error) {
	data, err := readLimited(r.reader, r.options.MaxBytes, FormatXLSX)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return relation.Empty(), nil
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewCorruptError(string(FormatXLSX), "opening workbook", err)
	}
	defer func() { _ = f.Close() }()

	sheet := r.options.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return relation.Empty(), nil
		}
		sheet = sheets[0]
	} else if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, errors.NewNotFoundError("sheet", sheet)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.NewCorruptError(string(FormatXLSX), "reading rows of sheet "+sheet, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows = trimEmptyTail(rows)
	if len(rows) == 0 {
		return relation.Empty(), nil
	}

	dataRows := rows[1:]
	if err := checkRows(int64(len(dataRows)), r.options.MaxRows, FormatXLSX); err != nil {
		return nil, err
	}

	// cells to the right of the header become extra unnamed columns
	width := len(rows[0])
	for _, row := range dataRows {
		if len(row) > width {
			width = len(row)
		}
	}
	headers := make([]string, width)
	copy(headers, rows[0])

	return buildTable(r.options.Allocator, uniqueNames(headers), dataRows, newNullSet(r.options.NullValues))
}

func trimEmptyTail(rows [][]string) [][]string {
	for len(rows) > 0 && isBlankRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	return rows
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
