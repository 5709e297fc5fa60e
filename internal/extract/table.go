package extract

import "strings"

// Table is a header plus string rows, the common shape of every extract we read.
// Rows are always padded to len(Columns).
type Table struct {
	Columns []string
	Rows    [][]string

	index map[string]int
}

func NewTable(columns []string) *Table {
	t := &Table{Columns: append([]string(nil), columns...)}
	t.reindex()
	return t
}

// FromRecords builds a table from raw records; the first record is the header.
// Header cells are trimmed and fully blank rows are dropped.
func FromRecords(records [][]string) *Table {
	if len(records) == 0 {
		return NewTable(nil)
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		h = strings.TrimPrefix(h, "\ufeff")
		h = strings.TrimPrefix(h, "ï»¿")
		header[i] = strings.TrimSpace(h)
	}
	t := NewTable(header)
	for _, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		t.Append(rec)
	}
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		if _, dup := t.index[c]; !dup {
			t.index[c] = i
		}
	}
}

// Index returns the position of col or -1.
func (t *Table) Index(col string) int {
	if t.index == nil {
		t.reindex()
	}
	if i, ok := t.index[col]; ok {
		return i
	}
	return -1
}

func (t *Table) Has(col string) bool { return t.Index(col) >= 0 }

func (t *Table) Len() int { return len(t.Rows) }

// Get returns the cell of row for col, "" when the column does not exist.
func (t *Table) Get(row []string, col string) string {
	i := t.Index(col)
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func (t *Table) Set(row []string, col, value string) {
	if i := t.Index(col); i >= 0 && i < len(row) {
		row[i] = value
	}
}

// AddColumn appends col (if missing) and pads every row. Returns its index.
func (t *Table) AddColumn(col string) int {
	if i := t.Index(col); i >= 0 {
		return i
	}
	t.Columns = append(t.Columns, col)
	t.index[col] = len(t.Columns) - 1
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], "")
	}
	return len(t.Columns) - 1
}

// Rename changes the header of from to to. No-op when from is absent.
func (t *Table) Rename(from, to string) {
	i := t.Index(from)
	if i < 0 || from == to {
		return
	}
	t.Columns[i] = to
	t.reindex()
}

// Append copies rec into the table, padding or truncating to the header width.
func (t *Table) Append(rec []string) {
	row := make([]string, len(t.Columns))
	copy(row, rec)
	t.Rows = append(t.Rows, row)
}

// Column returns every value of col, nil if the column is absent.
func (t *Table) Column(col string) []string {
	i := t.Index(col)
	if i < 0 {
		return nil
	}
	out := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out
}

// Filter keeps the rows for which keep returns true, in order.
func (t *Table) Filter(keep func(row []string) bool) *Table {
	out := NewTable(t.Columns)
	for _, row := range t.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

func isBlank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
