// Package dataset reads, builds and enriches the commit datasets of the
// study.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Column names shared by the datasets.
const (
	ColOwner     = "owner"
	ColProject   = "project"
	ColSHA       = "sha"
	ColParent    = "sha-p"
	ColURL       = "url"
	ColRegular   = "sha-reg"
	ColRegParent = "sha-reg-p"
	ColLanguage  = "Language"
	ColDate      = "Date"
	ColMessage   = "Message"
	ColCode      = "Code"
	ColDataset   = "Dataset"
	ColScore     = "Score"
	ColSeverity  = "Severity"
	ColCWE       = "CWE"
	ColType      = "Type"
	ColDiff      = "diff"

	// ColRegMessage and ColRegAge describe the regular commit: its message
	// and the seconds from it to the fix in ColSHA.
	ColRegMessage = "Message-reg"
	ColRegAge     = "sha-reg-age"

	// ErrorValue marks a cell that could not be computed.
	ErrorValue = "Error"
)

// Table is a CSV file held in memory. Column order is preserved and new
// columns are appended.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

func NewTable(columns ...string) *Table {
	t := &Table{index: map[string]int{}}
	for _, c := range columns {
		t.AddColumn(c)
	}
	return t
}

func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

func Decode(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return NewTable(), nil
	}
	if err != nil {
		return nil, err
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	t := NewTable(header...)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return t, nil
		}
		if err != nil {
			return nil, err
		}
		row := make([]string, len(t.columns))
		copy(row, rec)
		t.rows = append(t.rows, row)
	}
}

// WriteCSV writes the table to path, creating parent directories.
func (t *Table) WriteCSV(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.Encode(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func (t *Table) Encode(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.columns); err != nil {
		return err
	}
	for _, row := range t.rows {
		if err := cw.Write(t.pad(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (t *Table) pad(row []string) []string {
	if len(row) < len(t.columns) {
		row = append(row, make([]string, len(t.columns)-len(row))...)
	}
	return row
}

func (t *Table) Columns() []string { return slices.Clone(t.columns) }

func (t *Table) Len() int { return len(t.rows) }

func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// AddColumn appends an empty column unless it already exists.
func (t *Table) AddColumn(name string) {
	if t.HasColumn(name) {
		return
	}
	t.index[name] = len(t.columns)
	t.columns = append(t.columns, name)
}

// AddRow appends a row given as column/value pairs. Unknown columns are
// added.
func (t *Table) AddRow(values map[string]string) {
	cols := make([]string, 0, len(values))
	for c := range values {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	for _, c := range cols {
		t.AddColumn(c)
	}
	row := make([]string, len(t.columns))
	for c, v := range values {
		row[t.index[c]] = v
	}
	t.rows = append(t.rows, row)
}

// Get returns the cell at row i, or "" when the column does not exist.
func (t *Table) Get(i int, col string) string {
	j, ok := t.index[col]
	if !ok || j >= len(t.rows[i]) {
		return ""
	}
	return t.rows[i][j]
}

func (t *Table) Set(i int, col, value string) {
	t.AddColumn(col)
	t.rows[i] = t.pad(t.rows[i])
	t.rows[i][t.index[col]] = value
}

// Float parses the cell at row i. Empty and non-numeric cells are missing.
func (t *Table) Float(i int, col string) (float64, bool) {
	v := strings.TrimSpace(t.Get(i, col))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (t *Table) SetFloat(i int, col string, v float64) {
	t.Set(i, col, strconv.FormatFloat(v, 'g', -1, 64))
}

// Floats returns the numeric cells of a column, skipping missing ones.
func (t *Table) Floats(col string) []float64 {
	var out []float64
	for i := range t.rows {
		if v, ok := t.Float(i, col); ok {
			out = append(out, v)
		}
	}
	return out
}

// Keep drops, in place, the rows for which keep is false.
func (t *Table) Keep(keep func(i int) bool) {
	rows := t.rows[:0:0]
	for i, row := range t.rows {
		if keep(i) {
			rows = append(rows, row)
		}
	}
	t.rows = rows
}
