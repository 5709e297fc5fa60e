package presupuesto

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CarteraDash/internal/extract"
)

var now = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func writeCSV(t *testing.T, path string, cols []string, rows ...[]string) string {
	t.Helper()
	tbl := extract.NewTable(cols)
	for _, r := range rows {
		tbl.Append(r)
	}
	require.NoError(t, extract.WriteCSV(path, tbl))
	return path
}

func fixture(t *testing.T, dates ...string) Input {
	t.Helper()
	if len(dates) == 0 {
		dates = []string{"2026-01-05", "2026-01-20", "2026-01-14", "2026-02-01", "2025-01-10"}
	}
	dir := t.TempDir()
	return Input{
		CarteraPath: writeCSV(t, filepath.Join(dir, "Proyectadoconsolidado.csv"),
			[]string{"COD. CLIENTE", "RAZÓN SOCIAL", "Fecha_Vencimiento", "TOTAL CARTERA"},
			[]string{"100", "Tienda Uno", dates[0], "1000"},
			[]string{"100", "Tienda Uno", dates[1], "500"},
			[]string{"200.0", "Surtidor", dates[2], "300"},
			[]string{"300", "Otro", dates[3], "999"},
			[]string{"400", "Viejo", dates[4], "10"},
		),
		PagosPath: writeCSV(t, filepath.Join(dir, "PagosConsolidado.csv"),
			[]string{"COD. CLIENTE", "FECHA PAGO", "VALOR PAGADO"},
			[]string{"100", "05/01/2026", "600"},
			[]string{"200", "14/01/2026", "300"},
			[]string{"100", "20/12/2025", "100"},
			[]string{"500", "", "50"},
		),
		Now: now,
	}
}

func TestBuild(t *testing.T) {
	rep, err := Build(context.Background(), fixture(t))
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Mes)
	assert.Equal(t, 2026, rep.Anio)
	assert.Equal(t, 14, rep.DiaCorte)

	k := rep.KPIs
	assert.Equal(t, 1800.0, k.Presupuesto)
	assert.Equal(t, 1050.0, k.Ingresos)
	assert.Equal(t, -750.0, k.Desviacion)
	assert.InDelta(t, 58.3333, k.Efectividad, 0.001)
	assert.Equal(t, 1300.0, k.PresupuestoActual)
	assert.Equal(t, k.Ingresos, k.IngresosActual)
	assert.Equal(t, -250.0, k.DesviacionActual)
	assert.InDelta(t, 80.769, k.EjecucionActual, 0.001)

	g := rep.Grafico
	require.Len(t, g.Labels, 31)
	assert.Equal(t, "05", g.Labels[4])
	assert.Equal(t, 1000.0, g.Presupuesto[4])
	assert.Equal(t, 600.0, g.Ingresos[4])
	assert.Equal(t, 1800.0, g.PresupuestoAcc[30])
	assert.Equal(t, 900.0, g.IngresosAcc[30])
	assert.Equal(t, 1300.0, g.PresupuestoAcc[13])

	require.Contains(t, rep.DetalleClientes, "100")
	assert.Len(t, rep.DetalleClientes, 2)
	assert.Equal(t, 600.0, rep.DetalleClientes["100"][4])
	assert.Len(t, rep.DetalleClientes["100"], 31)
	assert.Equal(t, 500.0, rep.DetallePresupuesto["100"][19])
	assert.Equal(t, 300.0, rep.DetallePresupuesto["200"][13])

	require.Len(t, rep.Operaciones, 2)
	first := rep.Operaciones[0]
	assert.Equal(t, "100", first.CodCliente)
	assert.Equal(t, "Tienda Uno", first.RazonSocial)
	assert.Equal(t, 1500.0, first.PresupuestoMensual)
	assert.Equal(t, 1000.0, first.PresupuestoActual)
	assert.Equal(t, 700.0, first.IngresosRecibidos)
	assert.Equal(t, -300.0, first.Desviacion)
	assert.Equal(t, 70.0, first.EfeActual)
	assert.InDelta(t, 46.667, first.EfeMensual, 0.001)
	assert.Equal(t, 100.0, rep.Operaciones[1].EfeActual)
}

func TestBuildDottedDates(t *testing.T) {
	in := fixture(t, "05.01.2026", "20.01.2026", "14.01.2026", "01.02.2026", "10.01.2025")
	rep, err := Build(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1800.0, rep.KPIs.Presupuesto)
}

func TestBuildWithoutFiles(t *testing.T) {
	dir := t.TempDir()
	rep, err := Build(context.Background(), Input{
		CarteraPath: filepath.Join(dir, "none.csv"),
		PagosPath:   filepath.Join(dir, "none2.csv"),
		Now:         now,
	})
	require.NoError(t, err)
	assert.Zero(t, rep.KPIs.Presupuesto)
	assert.Zero(t, rep.KPIs.Efectividad)
	assert.Empty(t, rep.Operaciones)
	assert.Len(t, rep.Grafico.Labels, 31)
}

func TestCutOffAndDays(t *testing.T) {
	assert.Equal(t, 1, CutOffDay(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, CutOffDay(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 29, DaysIn(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 28, DaysIn(time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)))
}
