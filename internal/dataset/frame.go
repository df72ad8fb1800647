// Package dataset implements the dataset workflow behind the training
// pages: CSV loading, train/validation/test splitting, preprocessing,
// Benford feature selection and normalization.
package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// LabelColumn is the name of the target column every dataset must carry.
const LabelColumn = "Label"

// Frame is a small column-named table of string cells. Numeric access
// parses on demand so label columns may hold arbitrary strings.
type Frame struct {
	Columns []string
	Rows    [][]string
}

// NumRows returns the number of data rows.
func (f *Frame) NumRows() int { return len(f.Rows) }

// NumCols returns the number of columns.
func (f *Frame) NumCols() int { return len(f.Columns) }

// Shape returns rows and columns.
func (f *Frame) Shape() (int, int) { return f.NumRows(), f.NumCols() }

// ShapeString renders the shape the way the dashboards display it.
func (f *Frame) ShapeString() string {
	return fmt.Sprintf("%d rows, %d columns", f.NumRows(), f.NumCols())
}

// Index returns the position of a column or -1.
func (f *Frame) Index(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the column exists.
func (f *Frame) HasColumn(name string) bool { return f.Index(name) >= 0 }

// IsMissing reports whether a cell counts as a missing value.
func IsMissing(cell string) bool {
	switch strings.TrimSpace(cell) {
	case "", "nan", "NaN", "NAN", "NA", "N/A", "null", "NULL", "None":
		return true
	}
	return false
}

// ParseCell parses a numeric cell. ok is false for missing or non-numeric cells.
func ParseCell(cell string) (float64, bool) {
	if IsMissing(cell) {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// IsNumeric reports whether every non-missing cell of column c parses as a number.
func (f *Frame) IsNumeric(c int) bool {
	for _, row := range f.Rows {
		cell := row[c]
		if IsMissing(cell) {
			continue
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err != nil {
			return false
		}
	}
	return true
}

// Floats returns column c as floats. Missing cells become NaN.
func (f *Frame) Floats(c int) []float64 {
	out := make([]float64, len(f.Rows))
	for i, row := range f.Rows {
		v, ok := ParseCell(row[c])
		if !ok {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}

// Strings returns column c as raw cells.
func (f *Frame) Strings(c int) []string {
	out := make([]string, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = strings.TrimSpace(row[c])
	}
	return out
}

// Select returns a frame holding only the named columns, in the given order.
// Columns absent from f are filled with fill.
func (f *Frame) Select(cols []string, fill string) *Frame {
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = f.Index(c)
	}
	out := &Frame{Columns: append([]string(nil), cols...), Rows: make([][]string, len(f.Rows))}
	for r, row := range f.Rows {
		nr := make([]string, len(cols))
		for i, j := range idx {
			if j < 0 {
				nr[i] = fill
			} else {
				nr[i] = row[j]
			}
		}
		out.Rows[r] = nr
	}
	return out
}

// Drop returns a frame without the named columns.
func (f *Frame) Drop(cols []string) *Frame {
	skip := make(map[string]bool, len(cols))
	for _, c := range cols {
		skip[c] = true
	}
	keep := make([]string, 0, len(f.Columns))
	for _, c := range f.Columns {
		if !skip[c] {
			keep = append(keep, c)
		}
	}
	return f.Select(keep, "")
}

// Subset returns the rows at the given indices.
func (f *Frame) Subset(rows []int) *Frame {
	out := &Frame{Columns: append([]string(nil), f.Columns...), Rows: make([][]string, len(rows))}
	for i, r := range rows {
		out.Rows[i] = f.Rows[r]
	}
	return out
}

// MoveToEnd returns a frame with column name moved to the last position.
func (f *Frame) MoveToEnd(name string) *Frame {
	if !f.HasColumn(name) {
		return f
	}
	cols := make([]string, 0, len(f.Columns))
	for _, c := range f.Columns {
		if c != name {
			cols = append(cols, c)
		}
	}
	return f.Select(append(cols, name), "")
}

// FeatureColumns returns every column except label.
func (f *Frame) FeatureColumns(label string) []string {
	out := make([]string, 0, len(f.Columns))
	for _, c := range f.Columns {
		if c != label {
			out = append(out, c)
		}
	}
	return out
}

// Matrix returns the named columns as a row-major float matrix.
// Missing or non-numeric cells are an error.
func (f *Frame) Matrix(cols []string) ([][]float64, error) {
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = f.Index(c)
		if idx[i] < 0 {
			return nil, fmt.Errorf("dataset: column %q not found", c)
		}
	}
	out := make([][]float64, len(f.Rows))
	for r, row := range f.Rows {
		vec := make([]float64, len(cols))
		for i, j := range idx {
			v, ok := ParseCell(row[j])
			if !ok {
				return nil, fmt.Errorf("dataset: row %d column %q: %q is not numeric", r+1, cols[i], row[j])
			}
			vec[i] = v
		}
		out[r] = vec
	}
	return out, nil
}

// FormatFloat renders a float cell compactly.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
