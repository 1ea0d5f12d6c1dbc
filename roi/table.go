/*
	Package roi converts tables of named regions-of-interest, given in physical units,
	into integer slicing bounds for an image at a given pixel size.
*/
package roi

import (
	"fmt"

	"github.com/fractal-analytics-platform/zroi/zroi"
)

// Record is one named region of interest in physical units (micrometers).
// Position and Length are in x, y, z order.
type Record struct {
	Name     string
	Position [3]float64
	Length   [3]float64
}

func (r Record) String() string {
	return fmt.Sprintf("ROI %q @ (%g,%g,%g) size (%g,%g,%g)", r.Name,
		r.Position[0], r.Position[1], r.Position[2], r.Length[0], r.Length[1], r.Length[2])
}

// Columns names the table columns holding ROI positions and lengths, each in x, y, z order.
type Columns struct {
	Position [3]string
	Length   [3]string
}

// DefaultColumns are the column names used by Fractal ROI tables.
var DefaultColumns = Columns{
	Position: [3]string{"x_micrometer", "y_micrometer", "z_micrometer"},
	Length:   [3]string{"len_x_micrometer", "len_y_micrometer", "len_z_micrometer"},
}

func (c Columns) orDefault() Columns {
	if c == (Columns{}) {
		return DefaultColumns
	}
	return c
}

// Table is an immutable table of named rows and named float columns.  Rows
// keep the order they were given in.
type Table struct {
	columns  []string
	colIndex map[string]int
	names    []string
	rowIndex map[string]int
	values   [][]float64
}

// NewTable returns a table with the given column names, row names and row-major
// values.  Row names and column names must be unique and every row must have a
// value for each column.  The passed slices are copied.
func NewTable(columns, names []string, values [][]float64) (*Table, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("%d row names given for %d rows", len(names), len(values))
	}
	t := &Table{
		columns:  append([]string(nil), columns...),
		colIndex: make(map[string]int, len(columns)),
		names:    append([]string(nil), names...),
		rowIndex: make(map[string]int, len(names)),
		values:   make([][]float64, len(values)),
	}
	for i, col := range columns {
		if _, found := t.colIndex[col]; found {
			return nil, fmt.Errorf("duplicate column %q in ROI table", col)
		}
		t.colIndex[col] = i
	}
	for i, name := range names {
		if _, found := t.rowIndex[name]; found {
			return nil, fmt.Errorf("duplicate ROI name %q in table", name)
		}
		t.rowIndex[name] = i
		if len(values[i]) != len(columns) {
			return nil, fmt.Errorf("ROI %q has %d values, expected %d", name, len(values[i]), len(columns))
		}
		t.values[i] = append([]float64(nil), values[i]...)
	}
	return t, nil
}

// NumRows returns the number of ROIs in the table.
func (t *Table) NumRows() int {
	return len(t.names)
}

// Names returns the ROI names in row order.
func (t *Table) Names() []string {
	return append([]string(nil), t.names...)
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// Has returns true if the named ROI is in the table.
func (t *Table) Has(name string) bool {
	_, found := t.rowIndex[name]
	return found
}

// Column returns a copy of the values of the named column in row order.
func (t *Table) Column(col string) ([]float64, error) {
	c, found := t.colIndex[col]
	if !found {
		return nil, fmt.Errorf("%w: %q", zroi.ErrMissingColumn, col)
	}
	vals := make([]float64, len(t.values))
	for i, row := range t.values {
		vals[i] = row[c]
	}
	return vals, nil
}

// Value returns the value of a column for the named ROI.
func (t *Table) Value(name, col string) (float64, error) {
	r, found := t.rowIndex[name]
	if !found {
		return 0, fmt.Errorf("%w: %q", zroi.ErrUnknownRoi, name)
	}
	c, found := t.colIndex[col]
	if !found {
		return 0, fmt.Errorf("%w: %q", zroi.ErrMissingColumn, col)
	}
	return t.values[r][c], nil
}

// Row returns a copy of all values for the named ROI in column order.
func (t *Table) Row(name string) ([]float64, error) {
	r, found := t.rowIndex[name]
	if !found {
		return nil, fmt.Errorf("%w: %q", zroi.ErrUnknownRoi, name)
	}
	return append([]float64(nil), t.values[r]...), nil
}

// WithColumn returns a new table where the named column is set to the given value
// for all rows.  The column must exist.
func (t *Table) WithColumn(col string, value float64) (*Table, error) {
	c, found := t.colIndex[col]
	if !found {
		return nil, fmt.Errorf("%w: %q", zroi.ErrMissingColumn, col)
	}
	values := make([][]float64, len(t.values))
	for i, row := range t.values {
		values[i] = append([]float64(nil), row...)
		values[i][c] = value
	}
	return NewTable(t.columns, t.names, values)
}

// Record returns the named ROI using the given position and length columns.
func (t *Table) Record(name string, cols Columns) (Record, error) {
	r, found := t.rowIndex[name]
	if !found {
		return Record{}, fmt.Errorf("%w: %q", zroi.ErrUnknownRoi, name)
	}
	idx, err := t.columnIndices(cols.orDefault())
	if err != nil {
		return Record{}, err
	}
	return t.record(r, idx), nil
}

// Records returns all ROIs in row order using the given position and length columns.
func (t *Table) Records(cols Columns) ([]Record, error) {
	idx, err := t.columnIndices(cols.orDefault())
	if err != nil {
		return nil, err
	}
	records := make([]Record, len(t.names))
	for r := range t.names {
		records[r] = t.record(r, idx)
	}
	return records, nil
}

// returns column positions for x,y,z positions followed by x,y,z lengths.
func (t *Table) columnIndices(cols Columns) (idx [6]int, err error) {
	names := [6]string{
		cols.Position[0], cols.Position[1], cols.Position[2],
		cols.Length[0], cols.Length[1], cols.Length[2],
	}
	for i, col := range names {
		c, found := t.colIndex[col]
		if !found {
			return idx, fmt.Errorf("%w: %q", zroi.ErrMissingColumn, col)
		}
		idx[i] = c
	}
	return idx, nil
}

func (t *Table) record(r int, idx [6]int) Record {
	row := t.values[r]
	return Record{
		Name:     t.names[r],
		Position: [3]float64{row[idx[0]], row[idx[1]], row[idx[2]]},
		Length:   [3]float64{row[idx[3]], row[idx[4]], row[idx[5]]},
	}
}
