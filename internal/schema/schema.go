// Package schema defines the profiled description of a dataset.
package schema

import (
	"fmt"
	"maps"
	"math"

	"github.com/paveg/tabula/internal/coltype"
)

// ColumnSchema describes one column. Min, Max and Mean are set only for
// numeric columns with at least one non-null value.
type ColumnSchema struct {
	Name         string            `json:"name" yaml:"name"`
	DeclaredType coltype.Category  `json:"declared_type" yaml:"declared_type"`
	NativeType   string            `json:"native_type" yaml:"native_type"`
	NonNullCount int64             `json:"non_null_count" yaml:"non_null_count"`
	NullCount    int64             `json:"null_count" yaml:"null_count"`
	UniqueCount  int64             `json:"unique_count" yaml:"unique_count"`
	Min          *float64          `json:"min,omitempty" yaml:"min,omitempty"`
	Max          *float64          `json:"max,omitempty" yaml:"max,omitempty"`
	Mean         *float64          `json:"mean,omitempty" yaml:"mean,omitempty"`
	Tags         map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// HasStats reports whether numeric statistics are present.
func (c ColumnSchema) HasStats() bool {
	return c.Min != nil && c.Max != nil && c.Mean != nil
}

// DatasetSchema is the ordered list of columns plus the row count.
type DatasetSchema struct {
	Columns  []ColumnSchema    `json:"columns" yaml:"columns"`
	RowCount int64             `json:"row_count" yaml:"row_count"`
	Tags     map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Column looks a column up by name.
func (d *DatasetSchema) Column(name string) (ColumnSchema, int, bool) {
	for i, c := range d.Columns {
		if c.Name == name {
			return c, i, true
		}
	}
	return ColumnSchema{}, -1, false
}

// ColumnsOf returns the columns of category cat in source order.
func (d *DatasetSchema) ColumnsOf(cat coltype.Category) []ColumnSchema {
	var out []ColumnSchema
	for _, c := range d.Columns {
		if c.DeclaredType == cat {
			out = append(out, c)
		}
	}
	return out
}

// Names returns column names in source order.
func (d *DatasetSchema) Names() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Validate checks the counting and statistics invariants of every column.
func (d *DatasetSchema) Validate() error {
	seen := make(map[string]bool, len(d.Columns))
	for _, c := range d.Columns {
		if seen[c.Name] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true

		if c.NonNullCount+c.NullCount != d.RowCount {
			return fmt.Errorf("column %q: non_null_count %d + null_count %d != row_count %d",
				c.Name, c.NonNullCount, c.NullCount, d.RowCount)
		}
		if c.UniqueCount > d.RowCount || c.UniqueCount > c.NonNullCount {
			return fmt.Errorf("column %q: unique_count %d exceeds non-null rows %d", c.Name, c.UniqueCount, c.NonNullCount)
		}
		hasAny := c.Min != nil || c.Max != nil || c.Mean != nil
		if c.DeclaredType != coltype.Numeric || c.NonNullCount == 0 {
			if hasAny {
				return fmt.Errorf("column %q: numeric stats present on %s column with %d values",
					c.Name, c.DeclaredType, c.NonNullCount)
			}
			continue
		}
		if !c.HasStats() {
			return fmt.Errorf("column %q: numeric stats missing", c.Name)
		}
		if !finite(*c.Min) || !finite(*c.Max) || !finite(*c.Mean) {
			return fmt.Errorf("column %q: numeric stats must be finite, got %g, %g, %g", c.Name, *c.Min, *c.Max, *c.Mean)
		}
		if *c.Min > *c.Mean || *c.Mean > *c.Max {
			return fmt.Errorf("column %q: expected min <= mean <= max, got %g, %g, %g", c.Name, *c.Min, *c.Mean, *c.Max)
		}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Clone returns a deep copy.
func (d *DatasetSchema) Clone() *DatasetSchema {
	if d == nil {
		return nil
	}
	out := &DatasetSchema{RowCount: d.RowCount, Tags: cloneTags(d.Tags)}
	if d.Columns != nil {
		out.Columns = make([]ColumnSchema, len(d.Columns))
		for i, c := range d.Columns {
			c.Min, c.Max, c.Mean = clonePtr(c.Min), clonePtr(c.Max), clonePtr(c.Mean)
			c.Tags = cloneTags(c.Tags)
			out.Columns[i] = c
		}
	}
	return out
}

func clonePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	return maps.Clone(tags)
}
