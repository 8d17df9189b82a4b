// Package relation holds the canonical in-memory form every loader produces:
// an ordered set of uniquely named Arrow arrays of equal length.
package relation

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Column is a named array. The array's data type is the column's native type tag.
type Column struct {
	Name string
	Data arrow.Array
}

// Relation is an ordered, immutable collection of columns.
type Relation struct {
	columns []Column
	index   map[string]int
	rows    int
}

// New takes ownership of the column arrays. On error nothing is released.
func New(columns []Column) (*Relation, error) {
	r := &Relation{
		columns: columns,
		index:   make(map[string]int, len(columns)),
	}
	for i, col := range columns {
		if col.Data == nil {
			return nil, fmt.Errorf("column %q has no data", col.Name)
		}
		if _, dup := r.index[col.Name]; dup {
			return nil, fmt.Errorf("duplicate column name %q", col.Name)
		}
		if i == 0 {
			r.rows = col.Data.Len()
		} else if col.Data.Len() != r.rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", col.Name, col.Data.Len(), r.rows)
		}
		r.index[col.Name] = i
	}
	return r, nil
}

// Empty returns a relation with no columns and no rows.
func Empty() *Relation {
	return &Relation{index: map[string]int{}}
}

// Len returns the number of rows.
func (r *Relation) Len() int { return r.rows }

// Width returns the number of columns.
func (r *Relation) Width() int { return len(r.columns) }

// Column returns the i-th column in source order.
func (r *Relation) Column(i int) Column { return r.columns[i] }

// Columns returns the columns in source order. The slice must not be modified.
func (r *Relation) Columns() []Column { return r.columns }

// Names returns column names in source order.
func (r *Relation) Names() []string {
	names := make([]string, len(r.columns))
	for i, c := range r.columns {
		names[i] = c.Name
	}
	return names
}

// Lookup finds a column by name.
func (r *Relation) Lookup(name string) (Column, bool) {
	i, ok := r.index[name]
	if !ok {
		return Column{}, false
	}
	return r.columns[i], true
}

// HasColumn reports whether name exists.
func (r *Relation) HasColumn(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Release frees every column array.
func (r *Relation) Release() {
	for _, c := range r.columns {
		c.Data.Release()
	}
}
