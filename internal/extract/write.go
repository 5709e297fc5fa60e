package extract

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// WriteCSV writes t in the ';' / ISO-8859-1 dialect the dashboard reads back.
// Runes outside latin1 are replaced with '?'. The file is replaced atomically.
func WriteCSV(path string, t *Table) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	tw := transform.NewWriter(tmp, encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder()))
	bw := bufio.NewWriter(tw)
	w := csv.NewWriter(bw)
	w.Comma = ';'
	if err := w.Write(latin1Safe(t.Columns)); err != nil {
		tmp.Close()
		return err
	}
	for _, row := range t.Rows {
		if err := w.Write(latin1Safe(row)); err != nil {
			tmp.Close()
			return fmt.Errorf("write csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("write csv: %w", err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func latin1Safe(rec []string) []string {
	out := make([]string, len(rec))
	for i, v := range rec {
		out[i] = strings.Map(func(r rune) rune {
			if r > 0xFF {
				return '?'
			}
			return r
		}, v)
	}
	return out
}

// WriteXLSX writes t to a single sheet workbook with a bold, filled header row.
// Cells of the numeric columns are stored as numbers when they parse; blanks stay empty.
func WriteXLSX(path, sheet string, t *Table, numeric ...string) error {
	f := excelize.NewFile()
	defer f.Close()

	if sheet == "" {
		sheet = "Sheet1"
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"C00000"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return err
	}

	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: c}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	isNumeric := make([]bool, len(t.Columns))
	for _, c := range numeric {
		if i := t.Index(c); i >= 0 {
			isNumeric[i] = true
		}
	}
	for r, row := range t.Rows {
		cells := make([]interface{}, len(row))
		for i, v := range row {
			if i < len(isNumeric) && isNumeric[i] {
				cells[i] = numericCell(v)
				continue
			}
			cells[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.SaveAs(path)
}

func numericCell(v string) interface{} {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if d, ok := AmountOK(v); ok {
		return d.InexactFloat64()
	}
	return v
}
