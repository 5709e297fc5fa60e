package portafolio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"CarteraDash/api/cartera/maestro"
	"CarteraDash/api/cartera/pagos"
	"CarteraDash/internal/config"
	"CarteraDash/internal/extract"
	"CarteraDash/internal/logger"
)

const (
	ViewCyres       = "cyres"
	ViewCocaCola    = "coca-cola"
	ViewPresupuesto = "detalle_analisis"

	ColAdmin       = "ADMINISTRADO POR"
	ColCiudad      = "CIUDAD"
	ColNit         = "NIT"
	ColRazonSocial = "RAZÓN SOCIAL"

	NoAsignado = "NO ASIGNADO"
	Otras      = "Otras"
)

type Input struct {
	CarteraPath string
	PagosPath   string
	View        string
	City        string
}

type KPIs struct {
	TotalCartera  float64 `json:"total_cartera"`
	Vencida       float64 `json:"vencida"`
	Morosidad     float64 `json:"morosidad"`
	Recaudo       float64 `json:"recaudo"`
	ClientesTotal int     `json:"clientes_total"`
}

type Charts struct {
	DonaLabels          []string  `json:"dona_labels"`
	DonaValores         []float64 `json:"dona_valores"`
	CiudadesLabels      []string  `json:"ciudades_labels"`
	CiudadesValores     []float64 `json:"ciudades_valores"`
	MoraCiudadesLabels  []string  `json:"mora_ciudades_labels"`
	MoraCiudadesValores []float64 `json:"mora_ciudades_valores"`
}

// Row is one line of a composition table. Keys identify the group (city, admin, or
// client code, NIT and name); Franjas is aligned with Report.ColumnasFranjas.
type Row struct {
	Keys              []string  `json:"keys"`
	Franjas           []float64 `json:"franjas"`
	TotalCartera      float64   `json:"TOTAL_CARTERA"`
	TotalVencido      float64   `json:"TOTAL_VENCIDO"`
	PorcentajeVencido float64   `json:"PORCENTAJE_VENCIDO"`
}

type Report struct {
	View            string   `json:"vista"`
	City            string   `json:"ciudad"`
	Ciudades        []string `json:"ciudades"`
	KPIs            KPIs     `json:"kpis"`
	Graficos        Charts   `json:"graficos"`
	Composicion     []Row    `json:"tabla_composicion"`
	Admin           []Row    `json:"tabla_admin"`
	Clientes        []Row    `json:"tabla_clientes"`
	ColumnasFranjas []string `json:"columnas_franjas"`
}

// FranjaColumn returns the bucket column a view reads.
func FranjaColumn(view string) string {
	if view == ViewCocaCola {
		return maestro.ColFranjaCoca
	}
	return maestro.ColFranjaCyres
}

type doc struct {
	ciudad, admin, cliente, nit, nombre, franja string
	total, vencido                              decimal.Decimal
}

// Build computes the portfolio composition of the pending documents of the master file.
func Build(ctx context.Context, in Input) (*Report, error) {
	if in.City == "" {
		in.City = config.AllCities
	}
	if in.View != ViewCocaCola {
		in.View = ViewCyres
	}
	t, err := extract.ReadFile(in.CarteraPath)
	if err != nil {
		return nil, fmt.Errorf("load cartera: %w", err)
	}
	extract.Canonicalize(t, maestro.ColCliente, maestro.ColTotal, maestro.ColEstado, maestro.ColDiasMora,
		maestro.ColFranjaCyres, maestro.ColFranjaCoca, ColCiudad, ColNit)
	if c := extract.ResolveColumn(t.Columns, ColRazonSocial, "RAZON SOCIAL"); c != "" {
		t.Rename(c, ColRazonSocial)
	}
	if !t.Has(ColAdmin) {
		if c := extract.ResolveColumn(t.Columns, ColAdmin, "ADMINISTRADO"); c != "" {
			t.Rename(c, ColAdmin)
		}
	}
	if _, err := extract.Require(t, maestro.ColTotal, maestro.ColEstado); err != nil {
		return nil, fmt.Errorf("cartera: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rep := &Report{View: in.View, City: in.City, Ciudades: cities(t)}
	franjaCol := FranjaColumn(in.View)

	var docs []doc
	for _, row := range t.Rows {
		if !strings.EqualFold(strings.TrimSpace(t.Get(row, maestro.ColEstado)), maestro.Pendiente) {
			continue
		}
		ciudad := t.Get(row, ColCiudad)
		if in.City != config.AllCities && ciudad != in.City {
			continue
		}
		d := doc{
			ciudad:  ciudad,
			admin:   NoAsignado,
			cliente: extract.CleanID(t.Get(row, maestro.ColCliente)),
			nit:     extract.CleanID(t.Get(row, ColNit)),
			nombre:  t.Get(row, ColRazonSocial),
			franja:  maestro.SinClasificar,
			total:   extract.ParseAmount(t.Get(row, maestro.ColTotal)),
		}
		if d.nit == "0" {
			d.nit = ""
		}
		if t.Has(ColAdmin) {
			d.admin = t.Get(row, ColAdmin)
		}
		if t.Has(franjaCol) {
			d.franja = t.Get(row, franjaCol)
		}
		if dias, ok := extract.ParseInt(t.Get(row, maestro.ColDiasMora)); ok && dias >= 1 {
			d.vencido = d.total
		}
		docs = append(docs, d)
	}

	franjaSet := map[string]bool{}
	totalCartera, vencida := decimal.Zero, decimal.Zero
	nits := map[string]bool{}
	for _, d := range docs {
		franjaSet[d.franja] = true
		totalCartera = totalCartera.Add(d.total)
		vencida = vencida.Add(d.vencido)
		nits[d.nit] = true
	}
	rep.ColumnasFranjas = sortedKeys(franjaSet)

	rep.KPIs = KPIs{
		TotalCartera:  totalCartera.InexactFloat64(),
		Vencida:       vencida.InexactFloat64(),
		Recaudo:       recaudo(in.PagosPath),
		ClientesTotal: len(nits),
	}
	if totalCartera.IsPositive() {
		rep.KPIs.Morosidad = vencida.Div(totalCartera).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}

	donut := map[string]decimal.Decimal{}
	for _, d := range docs {
		donut[d.franja] = donut[d.franja].Add(d.total)
	}
	rep.Graficos.DonaLabels = []string{}
	rep.Graficos.DonaValores = []float64{}
	for _, f := range rep.ColumnasFranjas {
		rep.Graficos.DonaLabels = append(rep.Graficos.DonaLabels, f)
		rep.Graficos.DonaValores = append(rep.Graficos.DonaValores, donut[f].InexactFloat64())
	}

	rep.Graficos.CiudadesLabels, rep.Graficos.CiudadesValores = topN(docs, func(d doc) decimal.Decimal { return d.total })
	rep.Graficos.MoraCiudadesLabels, rep.Graficos.MoraCiudadesValores = topN(docs, func(d doc) decimal.Decimal { return d.vencido })

	rep.Composicion = table(docs, rep.ColumnasFranjas, func(d doc) []string { return []string{d.ciudad} })
	rep.Admin = table(docs, rep.ColumnasFranjas, func(d doc) []string { return []string{d.admin} })
	rep.Clientes = table(docs, rep.ColumnasFranjas, func(d doc) []string { return []string{d.cliente, d.nit, d.nombre} })
	return rep, nil
}

// cities lists the distinct non-empty cities of the whole file, sorted.
func cities(t *extract.Table) []string {
	set := map[string]bool{}
	for _, c := range t.Column(ColCiudad) {
		if strings.TrimSpace(c) != "" {
			set[c] = true
		}
	}
	return sortedKeys(set)
}

// recaudo sums VALOR PAGADO of the consolidated payments, 0 on any error.
func recaudo(path string) float64 {
	if path == "" {
		return 0
	}
	ps, err := pagos.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.L().Warnw("payments unavailable for portfolio", "error", err)
		}
		return 0
	}
	return pagos.Total(ps).InexactFloat64()
}

type group struct {
	label string
	value decimal.Decimal
}

// topN groups by city, sorts descending and folds everything past the top cities into "Otras".
func topN(docs []doc, value func(doc) decimal.Decimal) ([]string, []float64) {
	sums := map[string]decimal.Decimal{}
	var order []string
	for _, d := range docs {
		if d.ciudad == "" {
			continue
		}
		if _, ok := sums[d.ciudad]; !ok {
			order = append(order, d.ciudad)
		}
		sums[d.ciudad] = sums[d.ciudad].Add(value(d))
	}
	groups := make([]group, 0, len(order))
	for _, c := range order {
		groups = append(groups, group{label: c, value: sums[c]})
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if !groups[i].value.Equal(groups[j].value) {
			return groups[i].value.GreaterThan(groups[j].value)
		}
		return groups[i].label < groups[j].label
	})
	if len(groups) > config.TopCities {
		rest := decimal.Zero
		for _, g := range groups[config.TopCities:] {
			rest = rest.Add(g.value)
		}
		groups = append(groups[:config.TopCities:config.TopCities], group{label: Otras, value: rest})
	}
	labels := make([]string, 0, len(groups))
	values := make([]float64, 0, len(groups))
	for _, g := range groups {
		labels = append(labels, g.label)
		values = append(values, g.value.InexactFloat64())
	}
	return labels, values
}

// table pivots docs into one row per group with per-bucket sums, sorted by total.
func table(docs []doc, franjas []string, keyOf func(doc) []string) []Row {
	pos := make(map[string]int, len(franjas))
	for i, f := range franjas {
		pos[f] = i
	}
	type acc struct {
		keys    []string
		franjas []decimal.Decimal
		total   decimal.Decimal
		vencido decimal.Decimal
	}
	byKey := map[string]*acc{}
	var order []string
	for _, d := range docs {
		keys := keyOf(d)
		k := strings.Join(keys, "\x00")
		a := byKey[k]
		if a == nil {
			a = &acc{keys: keys, franjas: make([]decimal.Decimal, len(franjas))}
			byKey[k] = a
			order = append(order, k)
		}
		a.franjas[pos[d.franja]] = a.franjas[pos[d.franja]].Add(d.total)
		a.total = a.total.Add(d.total)
		a.vencido = a.vencido.Add(d.vencido)
	}
	rows := make([]Row, 0, len(order))
	for _, k := range order {
		a := byKey[k]
		r := Row{
			Keys:         a.keys,
			Franjas:      make([]float64, len(franjas)),
			TotalCartera: a.total.InexactFloat64(),
			TotalVencido: a.vencido.InexactFloat64(),
		}
		for i, v := range a.franjas {
			r.Franjas[i] = v.InexactFloat64()
		}
		if !a.total.IsZero() {
			r.PorcentajeVencido = a.vencido.Div(a.total).Mul(decimal.NewFromInt(100)).InexactFloat64()
		}
		rows = append(rows, r)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].TotalCartera != rows[j].TotalCartera {
			return rows[i].TotalCartera > rows[j].TotalCartera
		}
		return strings.Join(rows[i].Keys, " ") < strings.Join(rows[j].Keys, " ")
	})
	return rows
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
