package presupuesto

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"CarteraDash/api/cartera/maestro"
	"CarteraDash/api/cartera/pagos"
	"CarteraDash/internal/extract"
	"CarteraDash/internal/logger"
)

type Input struct {
	CarteraPath string
	PagosPath   string
	Now         time.Time
}

type KPIs struct {
	Ingresos          float64 `json:"ingresos"`
	Presupuesto       float64 `json:"presupuesto"`
	Desviacion        float64 `json:"desviacion"`
	Efectividad       float64 `json:"efectividad"`
	PresupuestoActual float64 `json:"presupuesto_actual"`
	IngresosActual    float64 `json:"ingresos_actual"`
	DesviacionActual  float64 `json:"desviacion_actual"`
	EjecucionActual   float64 `json:"ejecucion_actual"`
}

type LineChart struct {
	Labels         []string  `json:"labels"`
	Presupuesto    []float64 `json:"presupuesto"`
	Ingresos       []float64 `json:"ingresos"`
	PresupuestoAcc []float64 `json:"presupuesto_acc"`
	IngresosAcc    []float64 `json:"ingresos_acc"`
}

type ClientRow struct {
	CodCliente         string  `json:"COD_CLIENTE"`
	RazonSocial        string  `json:"RAZON_SOCIAL"`
	PresupuestoMensual float64 `json:"Presupuesto_Mensual"`
	PresupuestoActual  float64 `json:"Presupuesto_Actual"`
	IngresosRecibidos  float64 `json:"Ingresos_Recibidos"`
	Desviacion         float64 `json:"Desviacion"`
	EfeActual          float64 `json:"Efe_Actual"`
	EfeMensual         float64 `json:"Efe_Mensual"`
}

// Report is the budget-vs-collection view of the current month.
type Report struct {
	Mes                int                  `json:"mes_actual"`
	Anio               int                  `json:"anio_actual"`
	DiaCorte           int                  `json:"dia_corte"`
	KPIs               KPIs                 `json:"kpis"`
	Grafico            LineChart            `json:"grafico_lineas"`
	DetalleClientes    map[string][]float64 `json:"detalle_clientes"`
	DetallePresupuesto map[string][]float64 `json:"detalle_presupuesto"`
	Operaciones        []ClientRow          `json:"operaciones_tabla"`
}

type budgetLine struct {
	cliente string
	nombre  string
	dia     int
	valor   decimal.Decimal
}

// CutOffDay is the last day counted as due "so far": yesterday, or the 1st on the 1st.
func CutOffDay(now time.Time) int {
	if now.Day() > 1 {
		return now.Day() - 1
	}
	return 1
}

// DaysIn returns the number of days of the month of t.
func DaysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Build compares the documents due this month against the collected payments.
// Missing source files leave their part of the report at zero.
func Build(ctx context.Context, in Input) (*Report, error) {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	days := DaysIn(in.Now)
	cut := CutOffDay(in.Now)
	rep := &Report{
		Mes:                int(in.Now.Month()),
		Anio:               in.Now.Year(),
		DiaCorte:           cut,
		DetalleClientes:    map[string][]float64{},
		DetallePresupuesto: map[string][]float64{},
		Operaciones:        []ClientRow{},
	}

	budget, err := loadBudget(in.CarteraPath, in.Now)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load cartera: %w", err)
	}
	if len(budget) == 0 {
		logger.L().Infow("no documents due this month", "month", rep.Mes, "year", rep.Anio)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var payments []pagos.Payment
	if in.PagosPath != "" {
		payments, err = pagos.Load(in.PagosPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load pagos: %w", err)
		}
	}

	presupuesto, presupuestoActual := decimal.Zero, decimal.Zero
	budgetDay := make([]decimal.Decimal, days)
	for _, b := range budget {
		presupuesto = presupuesto.Add(b.valor)
		if b.dia <= cut {
			presupuestoActual = presupuestoActual.Add(b.valor)
		}
		budgetDay[b.dia-1] = budgetDay[b.dia-1].Add(b.valor)
		addDay(rep.DetallePresupuesto, b.cliente, b.dia, days, b.valor)
	}

	ingresos := pagos.Total(payments)
	incomeDay := make([]decimal.Decimal, days)
	for _, p := range payments {
		if !p.HasFecha || p.Fecha.Year() != in.Now.Year() || p.Fecha.Month() != in.Now.Month() {
			continue
		}
		incomeDay[p.Fecha.Day()-1] = incomeDay[p.Fecha.Day()-1].Add(p.Valor)
		if p.Cliente != "" {
			addDay(rep.DetalleClientes, p.Cliente, p.Fecha.Day(), days, p.Valor)
		}
	}

	k := &rep.KPIs
	k.Presupuesto = presupuesto.InexactFloat64()
	k.Ingresos = ingresos.InexactFloat64()
	k.Desviacion = ingresos.Sub(presupuesto).InexactFloat64()
	k.Efectividad = pct(ingresos, presupuesto)
	k.PresupuestoActual = presupuestoActual.InexactFloat64()
	k.IngresosActual = k.Ingresos
	k.DesviacionActual = ingresos.Sub(presupuestoActual).InexactFloat64()
	k.EjecucionActual = pct(ingresos, presupuestoActual)

	accB, accI := decimal.Zero, decimal.Zero
	g := &rep.Grafico
	for d := 0; d < days; d++ {
		accB = accB.Add(budgetDay[d])
		accI = accI.Add(incomeDay[d])
		g.Labels = append(g.Labels, fmt.Sprintf("%02d", d+1))
		g.Presupuesto = append(g.Presupuesto, budgetDay[d].InexactFloat64())
		g.Ingresos = append(g.Ingresos, incomeDay[d].InexactFloat64())
		g.PresupuestoAcc = append(g.PresupuestoAcc, accB.InexactFloat64())
		g.IngresosAcc = append(g.IngresosAcc, accI.InexactFloat64())
	}

	rep.Operaciones = clientTable(budget, payments, cut)
	return rep, nil
}

func addDay(m map[string][]float64, cliente string, dia, days int, v decimal.Decimal) {
	arr := m[cliente]
	if arr == nil {
		arr = make([]float64, days)
		m[cliente] = arr
	}
	arr[dia-1] += v.InexactFloat64()
}

func pct(part, whole decimal.Decimal) float64 {
	if !whole.IsPositive() {
		return 0
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// loadBudget returns the master rows due in the month of now. Due dates are read as ISO;
// when no row parses that way the dotted dd.mm.yyyy layout is tried.
func loadBudget(path string, now time.Time) ([]budgetLine, error) {
	if path == "" {
		return nil, nil
	}
	t, err := extract.ReadFile(path)
	if err != nil {
		return nil, err
	}
	extract.Canonicalize(t, maestro.ColCliente, maestro.ColVencimiento, maestro.ColTotal)
	nameCol := razonSocialColumn(t.Columns)

	parse := extract.ParseISO
	parsed := false
	for _, v := range t.Column(maestro.ColVencimiento) {
		if _, ok := parse(v); ok {
			parsed = true
			break
		}
	}
	if !parsed {
		parse = extract.ParseDotted
	}

	var out []budgetLine
	for _, row := range t.Rows {
		due, ok := parse(t.Get(row, maestro.ColVencimiento))
		if !ok || due.Year() != now.Year() || due.Month() != now.Month() {
			continue
		}
		out = append(out, budgetLine{
			cliente: extract.CleanID(t.Get(row, maestro.ColCliente)),
			nombre:  t.Get(row, nameCol),
			dia:     due.Day(),
			valor:   extract.ParseAmount(t.Get(row, maestro.ColTotal)),
		})
	}
	return out, nil
}

// razonSocialColumn picks the client name column: the first header mentioning RAZON or
// SOCIAL, or CLIENTE other than the code column; the second column otherwise.
func razonSocialColumn(cols []string) string {
	for _, c := range cols {
		f := extract.Fold(c)
		if strings.Contains(f, "RAZON") || strings.Contains(f, "SOCIAL") ||
			(strings.Contains(f, "CLIENTE") && c != maestro.ColCliente) {
			return c
		}
	}
	if len(cols) > 1 {
		return cols[1]
	}
	return ""
}

func clientTable(budget []budgetLine, payments []pagos.Payment, cut int) []ClientRow {
	type acc struct {
		nombre  string
		mensual decimal.Decimal
		actual  decimal.Decimal
	}
	byClient := map[string]*acc{}
	var order []string
	for _, b := range budget {
		a := byClient[b.cliente]
		if a == nil {
			a = &acc{nombre: b.nombre}
			byClient[b.cliente] = a
			order = append(order, b.cliente)
		}
		a.mensual = a.mensual.Add(b.valor)
		if b.dia <= cut {
			a.actual = a.actual.Add(b.valor)
		}
	}
	paid := map[string]decimal.Decimal{}
	for _, p := range payments {
		paid[p.Cliente] = paid[p.Cliente].Add(p.Valor)
	}

	rows := make([]ClientRow, 0, len(order))
	for _, c := range order {
		a := byClient[c]
		ing := paid[c]
		rows = append(rows, ClientRow{
			CodCliente:         c,
			RazonSocial:        a.nombre,
			PresupuestoMensual: a.mensual.InexactFloat64(),
			PresupuestoActual:  a.actual.InexactFloat64(),
			IngresosRecibidos:  ing.InexactFloat64(),
			Desviacion:         ing.Sub(a.actual).InexactFloat64(),
			EfeActual:          pct(ing, a.actual),
			EfeMensual:         pct(ing, a.mensual),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].PresupuestoMensual != rows[j].PresupuestoMensual {
			return rows[i].PresupuestoMensual > rows[j].PresupuestoMensual
		}
		return rows[i].CodCliente < rows[j].CodCliente
	})
	return rows
}
