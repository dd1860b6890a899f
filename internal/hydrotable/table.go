// Package hydrotable reads and writes the delimited tables produced by the
// flood-inundation preprocessing: the per-branch rating table and the full
// crosswalked SRC table. Unknown columns pass through untouched so the tool
// can rewrite files in place without shedding upstream attributes.
package hydrotable

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
)

// Table is a column-addressed delimited table. Cell values stay as strings;
// typed accessors parse on demand and report absence for empty cells.
type Table struct {
	header []string
	idx    map[string]int
	rows   [][]string
}

// Read loads a CSV file into a Table.
func Read(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "hydrotable: open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "hydrotable: read %s", path)
	}
	if len(records) == 0 {
		return nil, eris.Errorf("hydrotable: %s has no header row", path)
	}

	t := &Table{
		header: records[0],
		idx:    make(map[string]int, len(records[0])),
		rows:   records[1:],
	}
	for i, col := range t.header {
		t.idx[col] = i
	}
	return t, nil
}

// Write saves the table as CSV, overwriting any existing file.
func (t *Table) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "hydrotable: create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.header); err != nil {
		return eris.Wrapf(err, "hydrotable: write header %s", path)
	}
	for _, row := range t.rows {
		if err := w.Write(row); err != nil {
			return eris.Wrapf(err, "hydrotable: write row %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "hydrotable: flush %s", path)
	}
	return nil
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// Columns returns the header in file order.
func (t *Table) Columns() []string { return t.header }

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.idx[name]
	return ok
}

// EnsureColumns appends any missing columns with empty cells.
func (t *Table) EnsureColumns(names ...string) {
	for _, name := range names {
		if _, ok := t.idx[name]; ok {
			continue
		}
		t.idx[name] = len(t.header)
		t.header = append(t.header, name)
		for i := range t.rows {
			t.rows[i] = append(t.rows[i], "")
		}
	}
}

// String returns the raw cell value, or "" when the column is missing or the
// row is short.
func (t *Table) String(row int, col string) string {
	i, ok := t.idx[col]
	if !ok || i >= len(t.rows[row]) {
		return ""
	}
	return t.rows[row][i]
}

// SetString writes a cell value. Unknown columns are ignored.
func (t *Table) SetString(row int, col, val string) {
	i, ok := t.idx[col]
	if !ok {
		return
	}
	for len(t.rows[row]) <= i {
		t.rows[row] = append(t.rows[row], "")
	}
	t.rows[row][i] = val
}

// Float parses a cell as float64. ok is false for empty or unparseable
// cells.
func (t *Table) Float(row int, col string) (float64, bool) {
	s := t.String(row, col)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SetFloat writes a float cell using the shortest exact decimal form.
func (t *Table) SetFloat(row int, col string, v float64) {
	t.SetString(row, col, strconv.FormatFloat(v, 'f', -1, 64))
}

// Int parses a cell as int64, accepting float-formatted integers ("123.0")
// the way the upstream tables sometimes store ids.
func (t *Table) Int(row int, col string) (int64, bool) {
	s := t.String(row, col)
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}

// ClearColumn empties every cell of the named column.
func (t *Table) ClearColumn(col string) {
	for row := range t.rows {
		t.SetString(row, col, "")
	}
}
