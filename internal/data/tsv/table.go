// Package tsv is the data access layer: it fetches tab-separated resources by
// logical path, parses them into tables and memoizes the result.
package tsv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrDataUnavailable is wrapped by every fetch or parse failure. Callers treat it
// as non-fatal and render a placeholder for the affected view.
var ErrDataUnavailable = errors.New("data unavailable")

// Table is a parsed TSV resource. Rows are padded to len(Columns).
type Table struct {
	Path    string
	Columns []string
	Rows    [][]string
	index   map[string]int
}

// Parse reads a TSV document with a header row.
func Parse(path string, r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: malformed tsv: %v", ErrDataUnavailable, path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s: empty resource", ErrDataUnavailable, path)
	}

	header := records[0]
	if len(header) > 0 {
		// Strip a UTF-8 BOM written by spreadsheet tools.
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	t := &Table{
		Path:    path,
		Columns: make([]string, len(header)),
		Rows:    make([][]string, 0, len(records)-1),
		index:   make(map[string]int, len(header)),
	}
	for i, h := range header {
		h = strings.TrimSpace(h)
		t.Columns[i] = h
		if _, dup := t.index[h]; !dup {
			t.index[h] = i
		}
	}

	for line, rec := range records[1:] {
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) > len(header) {
			return nil, fmt.Errorf("%w: %s: line %d has %d fields, header has %d",
				ErrDataUnavailable, path, line+2, len(rec), len(header))
		}
		row := make([]string, len(header))
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(path string, data []byte) (*Table, error) {
	return Parse(path, bytes.NewReader(data))
}

// Index returns the position of a column, or -1.
func (t *Table) Index(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Find returns the first column matching any alias (case-insensitive).
func (t *Table) Find(aliases ...string) int {
	for _, a := range aliases {
		if i := t.Index(a); i >= 0 {
			return i
		}
	}
	for _, a := range aliases {
		for i, c := range t.Columns {
			if strings.EqualFold(c, a) {
				return i
			}
		}
	}
	return -1
}

// Require checks that every named column is present.
func (t *Table) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if t.Index(n) < 0 {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s: missing column(s) %s", ErrDataUnavailable, t.Path, strings.Join(missing, ", "))
	}
	return nil
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Float parses a numeric cell; NA-like cells become NaN.
func (t *Table) Float(row, col int) (float64, error) {
	return ParseFloat(t.Rows[row][col])
}

// ParseFloat parses a numeric cell; NA-like cells become NaN.
func ParseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if IsMissing(s) {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN(), fmt.Errorf("not a number: %q", s)
	}
	return v, nil
}

// IsMissing reports whether a raw cell encodes a missing value.
func IsMissing(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "na", "nan", "none", "null", "n/a", "<na>":
		return true
	}
	return false
}
