package extract

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

func latin1(t *testing.T, s string) []byte {
	t.Helper()
	b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return b
}

func TestReadCSVLatin1(t *testing.T) {
	raw := latin1(t, "COD. CLIENTE; Razón Social ;TOTAL CARTERA\n100;Panadería Ñandú;1500\n;;\n200;Café;300\n")
	tbl, err := ReadCSV(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, []string{"COD. CLIENTE", "Razón Social", "TOTAL CARTERA"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "Panadería Ñandú", tbl.Get(tbl.Rows[0], "Razón Social"))
	assert.Equal(t, "300", tbl.Get(tbl.Rows[1], "TOTAL CARTERA"))
}

func TestReadCSVShortRowsArePadded(t *testing.T) {
	tbl, err := ReadCSV(bytes.NewReader([]byte("A;B;C\n1\n")))
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
	assert.Len(t, tbl.Rows[0], 3)
	assert.Equal(t, "", tbl.Get(tbl.Rows[0], "C"))
}

func TestWriteCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")

	tbl := NewTable([]string{"CLIENTE", "NOTA"})
	tbl.Append([]string{"Señor Pérez", "ok ✓"})
	require.NoError(t, WriteCSV(path, tbl))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ok ?")

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Señor Pérez", back.Get(back.Rows[0], "CLIENTE"))
}

func TestXLSXNumericColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.xlsx")

	tbl := NewTable([]string{"ID", "DIAS_MORA", "TOTAL CARTERA"})
	tbl.Append([]string{"007", "-5", "1000.5"})
	tbl.Append([]string{"008", "", "n/a"})
	require.NoError(t, WriteXLSX(path, "Maestro", tbl, "DIAS_MORA", "TOTAL CARTERA", "NO_EXISTE"))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	cases := []struct {
		cell    string
		numeric bool
	}{
		{"A2", false},
		{"B2", true},
		{"C2", true},
		{"C3", false},
	}
	for _, tc := range cases {
		typ, err := f.GetCellType("Maestro", tc.cell)
		require.NoError(t, err)
		if tc.numeric {
			assert.Equal(t, excelize.CellTypeUnset, typ, tc.cell)
		} else {
			assert.NotEqual(t, excelize.CellTypeUnset, typ, tc.cell)
		}
	}

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"007", "-5", "1000.5"}, back.Rows[0])
	assert.Equal(t, []string{"008", "", "n/a"}, back.Rows[1])
}

func TestXLSXRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.xlsx")

	tbl := NewTable([]string{"ID", "VALOR"})
	tbl.Append([]string{"a", "10"})
	tbl.Append([]string{"b", "20"})
	require.NoError(t, WriteXLSX(path, "Maestro", tbl))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Maestro", f.GetSheetName(0))
	require.NoError(t, f.Close())

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, tbl.Columns, back.Columns)
	assert.Equal(t, tbl.Rows, back.Rows)
}

func TestReadZipFirstCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gestion.zip")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("notes.txt")
	require.NoError(t, err)
	_, _ = w.Write([]byte("ignored"))
	w, err = zw.Create("export/gestion.csv")
	require.NoError(t, err)
	_, err = w.Write(latin1(t, "USUARIO_GESTION;CONTACTO\nAna;Efectivo\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	tbl, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Ana", tbl.Get(tbl.Rows[0], "USUARIO_GESTION"))
}

func TestReadZipWithoutCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.zip")
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	_, err := ReadFile(path)
	assert.ErrorIs(t, err, ErrEmptyArchive)
}

func TestReadFileUnsupported(t *testing.T) {
	_, err := ReadFile("report.pdf")
	assert.ErrorIs(t, err, ErrUnsupportedFile)
	assert.True(t, IsSupported("A.XLSX", SupportedSnapshot...))
	assert.False(t, IsSupported("a.txt", SupportedSnapshot...))
}

func TestResolveColumn(t *testing.T) {
	cols := []string{"Cód. Cliente", "RAZON SOCIAL", "ADMINISTRADOR CARTERA", "Fecha_Vencimiento", "FECHA PAGO"}

	assert.Equal(t, "Fecha_Vencimiento", ResolveColumn(cols, "Fecha_Vencimiento"))
	assert.Equal(t, "RAZON SOCIAL", ResolveColumn(cols, "Razón Social"))
	assert.Equal(t, "Cód. Cliente", ResolveColumn(cols, "COD. CLIENTE"))
	assert.Equal(t, "ADMINISTRADOR CARTERA", ResolveColumn(cols, "ADMIN", "ADMINISTRADO"))
	assert.Equal(t, "Fecha_Vencimiento", ResolveColumn(cols, "FECHA VENCIMIENTO"))
	assert.Equal(t, "", ResolveColumn(cols, "TOTAL CARTERA"))
}

func TestRequireReportsAllMissing(t *testing.T) {
	tbl := NewTable([]string{"COD. CLIENTE"})
	found, err := Require(tbl, "COD. CLIENTE", "Referencia", "TOTAL CARTERA")
	require.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), "Referencia, TOTAL CARTERA")
	assert.Equal(t, "COD. CLIENTE", found["COD. CLIENTE"])
}

func TestCanonicalize(t *testing.T) {
	tbl := NewTable([]string{"cod. cliente", "Total Cartera"})
	tbl.Append([]string{"1", "5"})
	Canonicalize(tbl, "COD. CLIENTE", "TOTAL CARTERA")
	assert.Equal(t, []string{"COD. CLIENTE", "TOTAL CARTERA"}, tbl.Columns)
	assert.Equal(t, "5", tbl.Get(tbl.Rows[0], "TOTAL CARTERA"))
}

func TestTableAddColumnPads(t *testing.T) {
	tbl := NewTable([]string{"A"})
	tbl.Append([]string{"1"})
	i := tbl.AddColumn("B")
	assert.Equal(t, 1, i)
	assert.Equal(t, []string{"1", ""}, tbl.Rows[0])
	assert.Equal(t, 0, tbl.AddColumn("A"))
}

func TestCleanID(t *testing.T) {
	cases := map[string]string{
		" 12345 ":    "12345",
		"12345.0":    "12345",
		"12345.00":   "12345",
		"1.2345e+04": "12345",
		"ABC-1":      "ABC-1",
		"12.5":       "12.5",
		"":           "",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanID(in), in)
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"1500":         "1500",
		"1500.75":      "1500.75",
		"$ 1.234.567":  "1234567",
		"1.234.567,89": "1234567.89",
		"1,234,567.89": "1234567.89",
		"1234,5":       "1234.5",
		"-200":         "-200",
		"abc":          "0",
		"":             "0",
	}
	for in, want := range cases {
		assert.True(t, decimal.RequireFromString(want).Equal(ParseAmount(in)), "%q → %s", in, ParseAmount(in))
	}
	_, ok := AmountOK("n/a")
	assert.False(t, ok)
}

func TestDateParsers(t *testing.T) {
	jan15 := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	d, ok := ParseDayFirstStrict("15/01/2026")
	require.True(t, ok)
	assert.Equal(t, jan15, d)
	_, ok = ParseDayFirstStrict("15/01/2026 08:00")
	assert.False(t, ok)

	d, ok = ParseDayFirst("15/01/2026 08:30")
	require.True(t, ok)
	assert.Equal(t, jan15, Date(d))

	d, ok = ParseISO("2026-01-15 00:00:00")
	require.True(t, ok)
	assert.Equal(t, jan15, d)

	d, ok = ParseISO("46037")
	require.True(t, ok)
	assert.Equal(t, jan15, d)

	d, ok = ParseDotted("15.01.2026")
	require.True(t, ok)
	assert.Equal(t, jan15, d)

	d, ok = ParseAnyDate("15.01.2026")
	require.True(t, ok)
	assert.Equal(t, jan15, d)

	_, ok = ParseAnyDate("mañana")
	assert.False(t, ok)
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2026, 1, 10, 23, 0, 0, 0, time.UTC)
	b := time.Date(2026, 1, 15, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, 5, DaysBetween(a, b))
	assert.Equal(t, -5, DaysBetween(b, a))
	assert.Equal(t, "2026-01-15", FormatDate(b.Truncate(24*time.Hour)))
	assert.Equal(t, "", FormatDate(time.Time{}))
}

func TestPct(t *testing.T) {
	assert.Equal(t, 33.3, Pct(1, 3))
	assert.Equal(t, 0.0, Pct(5, 0))
}
