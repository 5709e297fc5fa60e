package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/klauspost/compress/zip"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var (
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrEmptyArchive    = errors.New("zip archive has no csv member")
)

// SupportedSnapshot lists the extensions accepted as snapshot extracts.
var SupportedSnapshot = []string{".xlsx", ".xls", ".csv"}

func FileExt(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// IsSupported reports whether name has one of exts.
func IsSupported(name string, exts ...string) bool {
	ext := FileExt(name)
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

// ReadFile loads an extract, dispatching on the extension.
func ReadFile(path string) (*Table, error) {
	switch FileExt(path) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ReadCSV(f)
	case ".zip":
		return ReadZip(path)
	case ".xlsx":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ReadXLSX(f)
	case ".xls":
		return ReadXLS(path)
	}
	return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupportedFile)
}

// ReadCSV parses the operation's CSV dialect: ';' separated, ISO-8859-1 encoded.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(transform.NewReader(r, charmap.ISO8859_1.NewDecoder()))
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return FromRecords(records), nil
}

// ReadZip reads the first CSV member of a zip archive.
func ReadZip(path string) (*Table, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	for _, member := range zr.File {
		if member.FileInfo().IsDir() || FileExt(member.Name) != ".csv" {
			continue
		}
		rc, err := member.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return ReadCSV(rc)
	}
	return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrEmptyArchive)
}

// ReadXLSX reads the first sheet. Raw cell values are used so dates arrive as Excel
// serials and amounts without display formatting.
func ReadXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	return FromRecords(rows), nil
}

// ReadXLS reads the first sheet of a legacy BIFF workbook.
func ReadXLS(path string) (*Table, error) {
	book, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, err
	}
	sheet := book.GetSheet(0)
	if sheet == nil {
		return nil, fmt.Errorf("%s: no sheets found", filepath.Base(path))
	}
	var records [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			continue
		}
		rec := make([]string, 0, row.LastCol())
		for j := 0; j < row.LastCol(); j++ {
			rec = append(rec, row.Col(j))
		}
		records = append(records, rec)
	}
	return FromRecords(records), nil
}
