// Package table is a flat, string-typed record set addressed by column name.
// Stages enrich tables by appending columns; existing cells are never
// rewritten by a later stage.
package table

import (
	"fmt"
	"slices"

	"github.com/rotisserie/eris"
)

// Reasons carried by SchemaError.
const (
	ReasonMissing = "missing"
	ReasonExists  = "already exists"
)

// SchemaError reports a column precondition violated at a stage boundary.
type SchemaError struct {
	Stage  string
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("stage %s: column %q %s", e.Stage, e.Column, e.Reason)
}

// Table holds rows of string cells under an ordered set of column names.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

// New creates an empty table with the given columns.
func New(columns ...string) (*Table, error) {
	t := &Table{index: make(map[string]int, len(columns))}
	for _, c := range columns {
		if err := t.addName(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) addName(name string) error {
	if _, ok := t.index[name]; ok {
		return eris.Errorf("table: duplicate column %q", name)
	}
	t.index[name] = len(t.columns)
	t.columns = append(t.columns, name)
	return nil
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	return slices.Clone(t.columns)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Has reports whether the column exists.
func (t *Table) Has(column string) bool {
	_, ok := t.index[column]
	return ok
}

// Get returns a cell. Unknown columns read as "".
func (t *Table) Get(row int, column string) string {
	i, ok := t.index[column]
	if !ok {
		return ""
	}
	return t.rows[row][i]
}

// Column returns a copy of every value in column.
func (t *Table) Column(column string) []string {
	out := make([]string, len(t.rows))
	for r := range t.rows {
		out[r] = t.Get(r, column)
	}
	return out
}

// Row returns row r as a column→value map.
func (t *Table) Row(r int) map[string]string {
	m := make(map[string]string, len(t.columns))
	for i, c := range t.columns {
		m[c] = t.rows[r][i]
	}
	return m
}

// Append adds a row. Values for unknown columns are an error; columns not
// present in values are left empty.
func (t *Table) Append(values map[string]string) error {
	row := make([]string, len(t.columns))
	for c, v := range values {
		i, ok := t.index[c]
		if !ok {
			return eris.Errorf("table: unknown column %q", c)
		}
		row[i] = v
	}
	t.rows = append(t.rows, row)
	return nil
}

// AppendValues adds a row given positionally.
func (t *Table) AppendValues(values ...string) error {
	if len(values) != len(t.columns) {
		return eris.Errorf("table: row has %d values, want %d", len(values), len(t.columns))
	}
	t.rows = append(t.rows, slices.Clone(values))
	return nil
}

// AddColumn appends a new column holding values, one per row.
func (t *Table) AddColumn(name string, values []string) error {
	if len(values) != len(t.rows) {
		return eris.Errorf("table: column %q has %d values, want %d", name, len(values), len(t.rows))
	}
	if err := t.addName(name); err != nil {
		return err
	}
	for r := range t.rows {
		t.rows[r] = append(t.rows[r], values[r])
	}
	return nil
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	c := &Table{
		columns: slices.Clone(t.columns),
		index:   make(map[string]int, len(t.index)),
		rows:    make([][]string, len(t.rows)),
	}
	for k, v := range t.index {
		c.index[k] = v
	}
	for r, row := range t.rows {
		c.rows[r] = slices.Clone(row)
	}
	return c
}

// Require fails with a SchemaError naming the first absent column.
func (t *Table) Require(stage string, columns ...string) error {
	for _, c := range columns {
		if !t.Has(c) {
			return &SchemaError{Stage: stage, Column: c, Reason: ReasonMissing}
		}
	}
	return nil
}

// Forbid fails with a SchemaError naming the first column that already
// exists.
func (t *Table) Forbid(stage string, columns ...string) error {
	for _, c := range columns {
		if t.Has(c) {
			return &SchemaError{Stage: stage, Column: c, Reason: ReasonExists}
		}
	}
	return nil
}
