// Package metadata holds the per-trace metadata table of a dataset.
//
// Rows are kept in insertion order; row i of the table describes the trace at
// index i of the dataset, and every operation that removes rows preserves the
// relative order of the survivors.
package metadata

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	// ErrUnknownColumn is returned when a column is not present in the table.
	ErrUnknownColumn = errors.New("unknown metadata column")
	// ErrMaskLength is returned when a row mask does not match the table length.
	ErrMaskLength = errors.New("mask length does not match row count")
)

// Table is a column-major string table with an open, caller-defined schema.
// Numeric values are stored in their textual form, as they appear in CSV.
type Table struct {
	columns []string
	index   map[string]int
	cells   [][]string // cells[column][row]
	rows    int
}

// New creates an empty table with the given columns.
func New(columns ...string) *Table {
	t := &Table{index: make(map[string]int)}
	for _, c := range columns {
		t.addColumn(c)
	}
	return t
}

func (t *Table) addColumn(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	t.index[name] = len(t.columns)
	t.columns = append(t.columns, name)
	t.cells = append(t.cells, make([]string, t.rows))
	return len(t.columns) - 1
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.rows }

// Columns returns the column names in order of first appearance.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Has reports whether a column exists.
func (t *Table) Has(column string) bool {
	_, ok := t.index[column]
	return ok
}

// Append adds a row. Keys not yet in the table become new columns, backfilled
// with empty cells for earlier rows; columns absent from row are left empty.
func (t *Table) Append(row map[string]string, order ...string) {
	// New keys named in order come first, the rest follow sorted.
	for _, c := range order {
		if _, ok := row[c]; ok {
			t.addColumn(c)
		}
	}
	for _, c := range sortedKeys(row) {
		t.addColumn(c)
	}
	for i, c := range t.columns {
		t.cells[i] = append(t.cells[i], row[c])
	}
	t.rows++
}

// Get returns a single cell.
func (t *Table) Get(row int, column string) (string, error) {
	i, ok := t.index[column]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	if row < 0 || row >= t.rows {
		return "", fmt.Errorf("row %d out of range [0, %d)", row, t.rows)
	}
	return t.cells[i][row], nil
}

// Row returns a copy of row i as a map. Empty cells are omitted.
func (t *Table) Row(i int) map[string]string {
	out := make(map[string]string, len(t.columns))
	for c, name := range t.columns {
		if v := t.cells[c][i]; v != "" {
			out[name] = v
		}
	}
	return out
}

// Column returns a copy of a column.
func (t *Table) Column(column string) ([]string, error) {
	i, ok := t.index[column]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	out := make([]string, t.rows)
	copy(out, t.cells[i])
	return out, nil
}

// Float parses a column as float64. Empty cells become NaN.
func (t *Table) Float(column string) ([]float64, error) {
	i, ok := t.index[column]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	out := make([]float64, t.rows)
	for r, s := range t.cells[i] {
		if s == "" {
			out[r] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %w", column, r, err)
		}
		out[r] = v
	}
	return out, nil
}

// SetString replaces or adds a column.
func (t *Table) SetString(column string, values []string) error {
	if len(values) != t.rows {
		return fmt.Errorf("column %q: %d values for %d rows", column, len(values), t.rows)
	}
	i := t.addColumn(column)
	copy(t.cells[i], values)
	return nil
}

// SetFloat replaces or adds a numeric column.
func (t *Table) SetFloat(column string, values []float64) error {
	if len(values) != t.rows {
		return fmt.Errorf("column %q: %d values for %d rows", column, len(values), t.rows)
	}
	i := t.addColumn(column)
	for r, v := range values {
		t.cells[i][r] = FormatFloat(v)
	}
	return nil
}

// Fill sets every row of a column to the same value.
func (t *Table) Fill(column, value string) {
	i := t.addColumn(column)
	for r := range t.cells[i] {
		t.cells[i][r] = value
	}
}

// Filter returns a new table holding the rows where mask is true.
func (t *Table) Filter(mask []bool) (*Table, error) {
	if len(mask) != t.rows {
		return nil, fmt.Errorf("%w: mask has %d entries, table has %d rows", ErrMaskLength, len(mask), t.rows)
	}
	keep := 0
	for _, m := range mask {
		if m {
			keep++
		}
	}

	out := New(t.columns...)
	out.rows = keep
	for c := range t.columns {
		col := make([]string, 0, keep)
		for r, m := range mask {
			if m {
				col = append(col, t.cells[c][r])
			}
		}
		out.cells[c] = col
	}
	return out, nil
}

// Unique returns the distinct values of a column in order of first appearance.
func (t *Table) Unique(column string) ([]string, error) {
	values, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out, nil
}

// FormatFloat renders v the way numeric cells are stored.
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
