package io

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/paveg/tabula/internal/errors"
	"github.com/paveg/tabula/internal/relation"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// candidateDelimiters are tried in order; earlier ones win ties.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

const sniffLines = 20

// CSVReader reads delimited text.
type CSVReader struct {
	reader  io.Reader
	options Options
}

// NewCSVReader creates a new CSV reader with the specified options
func NewCSVReader(reader io.Reader, options Options) *CSVReader {
	return &CSVReader{reader: reader, options: options.withDefaults()}
}

// Read reads CSV data and returns a relation
func (r *CSVReader) Read(ctx context.Context) (*relation.Relation, error) {
	data, err := readLimited(r.reader, r.options.MaxBytes, FormatCSV)
	if err != nil {
		return nil, err
	}
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(text)) == 0 {
		return relation.Empty(), nil
	}

	delimiter := r.options.Delimiter
	if delimiter == 0 {
		delimiter = sniffDelimiter(text)
	}

	csvReader := csv.NewReader(bytes.NewReader(text))
	csvReader.Comma = delimiter
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = true

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, errors.NewCorruptError(string(FormatCSV), "parsing records", err)
	}
	if len(records) == 0 {
		return relation.Empty(), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nulls := newNullSet(r.options.NullValues)
	hasHeader := r.options.Header == HeaderPresent ||
		(r.options.Header == HeaderAuto && detectHeader(records, nulls))

	var headers []string
	dataRows := records
	if hasHeader {
		headers = records[0]
		dataRows = records[1:]
	} else {
		headers = make([]string, len(records[0]))
	}

	if err := checkRows(int64(len(dataRows)), r.options.MaxRows, FormatCSV); err != nil {
		return nil, err
	}
	for i, row := range dataRows {
		if len(row) > len(headers) {
			line := i + 1
			if hasHeader {
				line++
			}
			return nil, errors.NewCorruptError(string(FormatCSV),
				fmt.Sprintf("line %d has %d fields, expected %d", line, len(row), len(headers)), nil)
		}
	}

	return buildTable(r.options.Allocator, uniqueNames(headers), dataRows, nulls)
}

// decodeText strips a UTF-8 byte order mark, decodes UTF-16 input that
// announces itself with a BOM, and rejects anything that is not text.
func decodeText(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, []byte{0xFF, 0xFE}) || bytes.HasPrefix(data, []byte{0xFE, 0xFF}) {
		decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
		if err != nil {
			return nil, errors.NewCorruptError(string(FormatCSV), "decoding UTF-16", err)
		}
		data = decoded
	}
	data = bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF"))
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return nil, errors.NewCorruptError(string(FormatCSV), "input is not UTF-8 text", nil)
	}
	return data, nil
}

// sniffDelimiter picks the candidate whose per-line count outside quotes is
// non-zero on the first line and repeats on the most sampled lines.
func sniffDelimiter(text []byte) rune {
	var lines []string
	for _, line := range strings.Split(string(text), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == sniffLines {
			break
		}
	}

	best, bestScore, bestCount := ',', 0, 0
	for _, d := range candidateDelimiters {
		first := countOutsideQuotes(lines[0], d)
		if first == 0 {
			continue
		}
		score := 0
		for _, line := range lines {
			if countOutsideQuotes(line, d) == first {
				score++
			}
		}
		if score > bestScore || (score == bestScore && first > bestCount) {
			best, bestScore, bestCount = d, score, first
		}
	}
	return best
}

func countOutsideQuotes(line string, d rune) int {
	n := 0
	quoted := false
	for _, c := range line {
		switch {
		case c == '"':
			quoted = !quoted
		case c == d && !quoted:
			n++
		}
	}
	return n
}

// detectHeader votes per column: a first-row cell whose type differs from a
// typed body column is evidence of a header, a matching type is evidence of
// data. Untyped columns abstain and ties favour a header.
func detectHeader(records [][]string, nulls nullSet) bool {
	if len(records) < 2 {
		return true
	}
	first := records[0]
	body := records[1:]
	votes := 0
	column := make([]string, len(body))
	for j := range first {
		for i, row := range body {
			if j < len(row) {
				column[i] = row[j]
			} else {
				column[i] = ""
			}
		}
		bodyKind := inferKind(column, nulls).kind
		if bodyKind == kindNull || bodyKind == kindText || nulls.isNull(first[j]) {
			continue
		}
		firstKind := inferKind([]string{first[j]}, nulls).kind
		if firstKind == bodyKind || (bodyKind == kindFloat && firstKind == kindInt) {
			votes--
		} else {
			votes++
		}
	}
	return votes >= 0
}
