package models

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"

	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/errors"
)

// ColumnType is the inferred type of a dataset column.
type ColumnType string

const (
	ColumnTypeNumeric     ColumnType = "numeric"
	ColumnTypeCategorical ColumnType = "categorical"
)

// Column is a named, typed sequence of cells. Missing cells are nil.
type Column struct {
	Name   string        `json:"name"`
	Type   ColumnType    `json:"type"`
	Values []interface{} `json:"values"`

	keys []string
}

// NewColumn normalizes raw cells: nil, NaN and the "?" placeholder become
// missing, and the column is numeric only when every present cell converts
// to a number. Values are stored as float64 or string accordingly.
func NewColumn(name string, raw []interface{}) *Column {
	values := make([]interface{}, len(raw))
	numeric := true
	present := 0

	for i, v := range raw {
		if isMissing(v) {
			continue
		}
		values[i] = v
		present++
		if numeric {
			if _, err := toNumber(v); err != nil {
				numeric = false
			}
		}
	}

	col := &Column{
		Name:   name,
		Type:   ColumnTypeCategorical,
		Values: values,
		keys:   make([]string, len(values)),
	}
	if numeric && present > 0 {
		col.Type = ColumnTypeNumeric
	}

	for i, v := range values {
		if v == nil {
			continue
		}
		if col.Type == ColumnTypeNumeric {
			f, _ := toNumber(v)
			values[i] = f
		} else {
			values[i] = cast.ToString(v)
		}
		col.keys[i] = cast.ToString(values[i])
	}

	return col
}

// NewStringColumn is a convenience constructor for string cells.
func NewStringColumn(name string, raw ...string) *Column {
	values := make([]interface{}, len(raw))
	for i, v := range raw {
		values[i] = v
	}
	return NewColumn(name, values)
}

// Len returns the number of cells.
func (c *Column) Len() int {
	return len(c.Values)
}

// IsMissing reports whether cell i is missing.
func (c *Column) IsMissing(i int) bool {
	return c.Values[i] == nil
}

// Key returns a comparable representation of cell i. Equal cells share a key.
func (c *Column) Key(i int) (string, bool) {
	if c.Values[i] == nil {
		return "", false
	}
	return c.keys[i], true
}

// Distinct counts distinct present values.
func (c *Column) Distinct() int {
	seen := make(map[string]struct{})
	for i := range c.Values {
		if key, ok := c.Key(i); ok {
			seen[key] = struct{}{}
		}
	}
	return len(seen)
}

// MissingCount counts missing cells.
func (c *Column) MissingCount() int {
	missing := 0
	for _, v := range c.Values {
		if v == nil {
			missing++
		}
	}
	return missing
}

// Dataset is an immutable, ordered collection of equal-length columns.
type Dataset struct {
	Name    string
	columns []*Column
	index   map[string]int
	rows    int
}

// NewDataset validates column lengths and names.
func NewDataset(name string, columns ...*Column) (*Dataset, error) {
	ds := &Dataset{
		Name:    name,
		columns: columns,
		index:   make(map[string]int, len(columns)),
	}

	for i, col := range columns {
		if col == nil {
			return nil, errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("column %d is nil", i))
		}
		if _, dup := ds.index[col.Name]; dup {
			return nil, errors.NewValidationError(errors.CodeInvalidInput,
				fmt.Sprintf("duplicate column name '%s'", col.Name))
		}
		if i == 0 {
			ds.rows = col.Len()
		} else if col.Len() != ds.rows {
			return nil, errors.NewValidationError(errors.CodeInvalidInput,
				fmt.Sprintf("column '%s' has %d rows, expected %d", col.Name, col.Len(), ds.rows))
		}
		ds.index[col.Name] = i
	}

	return ds, nil
}

// FromRows builds a dataset from a header and row-major cells.
func FromRows(name string, header []string, rows [][]interface{}) (*Dataset, error) {
	columns := make([]*Column, len(header))
	for c, colName := range header {
		raw := make([]interface{}, len(rows))
		for r, row := range rows {
			if c >= len(row) {
				return nil, errors.NewValidationError(errors.CodeInvalidInput,
					fmt.Sprintf("row %d has %d cells, expected %d", r, len(row), len(header)))
			}
			raw[r] = row[c]
		}
		columns[c] = NewColumn(colName, raw)
	}
	return NewDataset(name, columns...)
}

// Column looks up a column by name.
func (d *Dataset) Column(name string) (*Column, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.columns[i], true
}

// Columns returns the columns in order.
func (d *Dataset) Columns() []*Column {
	out := make([]*Column, len(d.columns))
	copy(out, d.columns)
	return out
}

// ColumnNames returns column names in order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.columns))
	for i, col := range d.columns {
		names[i] = col.Name
	}
	return names
}

// NumRows returns the row count.
func (d *Dataset) NumRows() int {
	return d.rows
}

// NumColumns returns the column count.
func (d *Dataset) NumColumns() int {
	return len(d.columns)
}

// IsEmpty reports whether the dataset has no rows or no columns.
func (d *Dataset) IsEmpty() bool {
	return d == nil || d.rows == 0 || len(d.columns) == 0
}

// MissingColumns returns the names not present in the dataset, in input order.
func (d *Dataset) MissingColumns(names ...string) []string {
	var missing []string
	for _, name := range names {
		if _, ok := d.index[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func isMissing(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == constants.MissingValueSentinel
	case float64:
		return math.IsNaN(val)
	case float32:
		return math.IsNaN(float64(val))
	default:
		return false
	}
}

func toNumber(v interface{}) (float64, error) {
	switch val := v.(type) {
	case bool:
		return 0, fmt.Errorf("boolean %v is not numeric", val)
	case string:
		return cast.ToFloat64E(strings.TrimSpace(val))
	default:
		return cast.ToFloat64E(val)
	}
}
