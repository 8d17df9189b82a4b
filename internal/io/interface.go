// Package io turns uploaded files into relations.
//
// A loader is chosen by the declared file extension. Every loader produces
// the same canonical form (relation.Relation) whose column arrays carry the
// native type tag the classifier maps to a logical category:
//   - CSVReader for delimited text, with delimiter, header and type inference
//   - XLSXReader for spreadsheets, sharing the delimited-text inference
//   - JSONReader for arrays of records, JSON Lines and record envelopes
//   - ParquetReader for columnar files, whose schema is trusted as declared
//
// Memory management: relations are Arrow-backed and must be released by the
// caller with defer rel.Release().
package io

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/tabula/internal/errors"
	"github.com/paveg/tabula/internal/relation"
)

// Format identifies a loader.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

var extensions = map[string]Format{
	".csv":     FormatCSV,
	".tsv":     FormatCSV,
	".txt":     FormatCSV,
	".xlsx":    FormatXLSX,
	".xlsm":    FormatXLSX,
	".json":    FormatJSON,
	".jsonl":   FormatJSON,
	".ndjson":  FormatJSON,
	".parquet": FormatParquet,
}

// FormatFor picks the loader for a declared file name.
func FormatFor(name string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if f, ok := extensions[ext]; ok {
		return f, nil
	}
	return "", errors.NewUnsupportedFormatError(ext)
}

// SupportedExtensions lists every accepted extension.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extensions))
	for ext := range extensions {
		exts = append(exts, ext)
	}
	return exts
}

// HeaderMode controls header detection for delimited text.
type HeaderMode int

const (
	HeaderAuto HeaderMode = iota
	HeaderPresent
	HeaderAbsent
)

// DataReader reads one source into a relation.
type DataReader interface {
	Read(ctx context.Context) (*relation.Relation, error)
}

// Options configures every loader. Zero limits mean unlimited.
type Options struct {
	// MaxBytes is the byte ceiling on the raw input
	MaxBytes int64
	// MaxRows is the row ceiling on the loaded relation
	MaxRows int64
	// Delimiter forces the field delimiter (0 = detect)
	Delimiter rune
	// Header forces or disables the header row for delimited text
	Header HeaderMode
	// Sheet selects a spreadsheet sheet by name (empty = first sheet)
	Sheet string
	// NullValues are the cell tokens read as missing (nil = DefaultNullValues)
	NullValues []string
	// Allocator backs every array (nil = Go allocator)
	Allocator memory.Allocator
}

// DefaultNullValues are the tokens treated as missing values in text sources.
var DefaultNullValues = []string{"", "NA", "N/A", "NULL", "null", "NaN", "nan", "None", "#N/A"}

// DefaultOptions returns options with the default null tokens and no ceilings.
func DefaultOptions() Options {
	return Options{
		NullValues: DefaultNullValues,
		Allocator:  memory.NewGoAllocator(),
	}
}

func (o Options) withDefaults() Options {
	if o.NullValues == nil {
		o.NullValues = DefaultNullValues
	}
	if o.Allocator == nil {
		o.Allocator = memory.NewGoAllocator()
	}
	return o
}

// NewReader returns the loader for format.
func NewReader(format Format, r io.Reader, options Options) (DataReader, error) {
	options = options.withDefaults()
	switch format {
	case FormatCSV:
		return NewCSVReader(r, options), nil
	case FormatXLSX:
		return NewXLSXReader(r, options), nil
	case FormatJSON:
		return NewJSONReader(r, options), nil
	case FormatParquet:
		return NewParquetReader(r, options), nil
	default:
		return nil, errors.NewUnsupportedFormatError(string(format))
	}
}

// Load reads r as the format implied by originalName.
func Load(ctx context.Context, r io.Reader, originalName string, options Options) (*relation.Relation, error) {
	format, err := FormatFor(originalName)
	if err != nil {
		return nil, err
	}
	reader, err := NewReader(format, r, options)
	if err != nil {
		return nil, err
	}
	return reader.Read(ctx)
}

// readLimited reads the whole input, failing once more than maxBytes arrive.
func readLimited(r io.Reader, maxBytes int64, format Format) ([]byte, error) {
	if maxBytes <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.NewCorruptError(string(format), "reading input", err)
		}
		return data, nil
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, errors.NewCorruptError(string(format), "reading input", err)
	}
	if n > maxBytes {
		return nil, errors.NewSizeLimitError(string(format), "bytes", maxBytes)
	}
	return buf.Bytes(), nil
}

func checkRows(rows, maxRows int64, format Format) error {
	if maxRows > 0 && rows > maxRows {
		return errors.NewSizeLimitError(string(format), "rows", maxRows)
	}
	return nil
}

// uniqueNames trims names, names blank ones column_<i> and suffixes
// duplicates with _<n> until they no longer collide.
func uniqueNames(raw []string) []string {
	names := make([]string, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, name := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("column_%d", i)
		}
		candidate := name
		for n := 1; seen[candidate]; n++ {
			candidate = fmt.Sprintf("%s_%d", name, n)
		}
		seen[candidate] = true
		names[i] = candidate
	}
	return names
}
