// Package coltype maps native column types onto the logical categories that
// drive profiling and chart validation.
package coltype

import (
	"encoding/json"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Category is the logical type of a column.
type Category int

const (
	Unknown Category = iota
	Numeric
	Categorical
	Temporal
	Boolean
)

var categoryNames = [...]string{
	Unknown:     "unknown",
	Numeric:     "numeric",
	Categorical: "categorical",
	Temporal:    "temporal",
	Boolean:     "boolean",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return categoryNames[Unknown]
	}
	return categoryNames[c]
}

// ParseCategory is the inverse of String.
func ParseCategory(s string) (Category, error) {
	for i, name := range categoryNames {
		if name == s {
			return Category(i), nil
		}
	}
	return Unknown, fmt.Errorf("unknown column category %q", s)
}

// MarshalJSON encodes the category by name.
func (c Category) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a category name.
func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCategory(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalText lets yaml and other text encoders use the name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Classifier maps native type tags to categories through a lookup table.
// Tags absent from the table are Unknown.
type Classifier struct {
	table map[arrow.Type]Category
}

// DefaultTable returns a copy of the built-in mapping.
func DefaultTable() map[arrow.Type]Category {
	return map[arrow.Type]Category{
		arrow.INT8:         Numeric,
		arrow.INT16:        Numeric,
		arrow.INT32:        Numeric,
		arrow.INT64:        Numeric,
		arrow.UINT8:        Numeric,
		arrow.UINT16:       Numeric,
		arrow.UINT32:       Numeric,
		arrow.UINT64:       Numeric,
		arrow.FLOAT16:      Numeric,
		arrow.FLOAT32:      Numeric,
		arrow.FLOAT64:      Numeric,
		arrow.DECIMAL128:   Numeric,
		arrow.DECIMAL256:   Numeric,
		arrow.STRING:       Categorical,
		arrow.LARGE_STRING: Categorical,
		arrow.STRING_VIEW:  Categorical,
		arrow.BOOL:         Boolean,
		arrow.TIMESTAMP:    Temporal,
		arrow.DATE32:       Temporal,
		arrow.DATE64:       Temporal,
	}
}

// NewClassifier builds a classifier from the default table with overrides
// applied on top.
func NewClassifier(overrides map[arrow.Type]Category) *Classifier {
	table := DefaultTable()
	for k, v := range overrides {
		table[k] = v
	}
	return &Classifier{table: table}
}

// Classify returns the category for dt. It never fails.
func (c *Classifier) Classify(dt arrow.DataType) Category {
	if dt == nil {
		return Unknown
	}
	if dict, ok := dt.(*arrow.DictionaryType); ok {
		return c.Classify(dict.ValueType)
	}
	if cat, ok := c.table[dt.ID()]; ok {
		return cat
	}
	return Unknown
}

var defaultClassifier = NewClassifier(nil)

// Classify uses the default table.
func Classify(dt arrow.DataType) Category {
	return defaultClassifier.Classify(dt)
}

// NativeName is the stable tag stored next to the category in a schema.
func NativeName(dt arrow.DataType) string {
	if dt == nil {
		return "null"
	}
	return dt.String()
}
