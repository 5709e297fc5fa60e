package gestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"CarteraDash/api/cartera/maestro"
	"CarteraDash/api/cartera/pagos"
	"CarteraDash/internal/config"
	"CarteraDash/internal/extract"
	"CarteraDash/internal/logger"
)

// Management log columns.
const (
	ColCliente  = "CODIGO_CLIENTE"
	ColUsuario  = "USUARIO_GESTION"
	ColFecha    = "FECHA_GESTION"
	ColContacto = "CONTACTO"

	ColRazonSocial = "RAZÓN SOCIAL"
)

const (
	Efectivo     = "EFECTIVO"
	NoEfectivo   = "NO EFECTIVO"
	SinGestion   = "Sin Gestión"
	TotalGeneral = "TOTAL GENERAL"
	TotalCol     = "TOTAL"
)

// Inactivity ranges, ordered by their prefix.
const (
	RangoSinGestion = "1. Sin Gestión"
	RangoHoy        = "2. Gestión Hoy"
	RangoAyer       = "3. Gestión Ayer"
	Rango2a5        = "4. Sin gestión (2-5 días)"
	Rango6a10       = "5. Sin gestión (6-10 días)"
	Rango11a15      = "6. Sin gestión (11-15 días)"
	RangoMas15      = "7. Sin gestión (+15 días)"
)

type Input struct {
	CarteraPath string
	GestionPath string
	PagosPath   string
	Analyst     string
	Now         time.Time
}

type AnalystSummary struct {
	Usuario           string  `json:"USUARIO_GESTION"`
	ClientesUnicosDia int     `json:"Clientes_Unicos_Dia"`
	Efectivos         int     `json:"Efectivos"`
	Intensidad        float64 `json:"Intensidad"`
	EfecPorc          float64 `json:"Efec_Porc"`
}

type Timeline struct {
	Labels        []string  `json:"labels"`
	Gestionados   []int     `json:"gestionados"`
	Efectividad   []float64 `json:"efectividad"`
	NoEfectividad []float64 `json:"no_efectividad"`
}

type MatrixRow struct {
	Rango   string `json:"RANGO_GESTION"`
	Valores []int  `json:"valores"`
}

type Matrix struct {
	Columnas []string    `json:"columnas"`
	Filas    []MatrixRow `json:"filas"`
}

type FranjaSummary struct {
	Franja      string `json:"Franja Mora Cyres"`
	Total       int    `json:"Total"`
	Gestionados int    `json:"Gestionados"`
	SinGestion  int    `json:"Sin_Gestion"`
	Efectivo    int    `json:"Efectivo"`
}

type Detail struct {
	ID               string  `json:"ID"`
	Nombre           string  `json:"NOMBRE"`
	Franja           string  `json:"FRANJA"`
	Estado           string  `json:"ESTADO"`
	Contacto         string  `json:"CONTACTO"`
	Saldo            float64 `json:"SALDO"`
	RangoInactividad string  `json:"RANGO_INACTIVIDAD"`
	FechaUltima      string  `json:"FECHA_ULTIMA"`
}

type DayRank struct {
	Usuario          string  `json:"USUARIO_GESTION"`
	ClientesUnicos   int     `json:"clientes_unicos"`
	GestionesTotales int     `json:"gestiones_totales"`
	Efectivos        int     `json:"efectivos"`
	PorcEfec         float64 `json:"porc_efec"`
}

type RecaudoRank struct {
	Usuario        string  `json:"USUARIO_GESTION"`
	TotalRecaudado float64 `json:"Total_Recaudado"`
	PorcPart       float64 `json:"Porc_Part"`
}

type Recaudo struct {
	Labels  []string      `json:"labels"`
	Valores []float64     `json:"valores"`
	Ranking []RecaudoRank `json:"ranking"`
}

// Report is everything the collector performance page shows.
type Report struct {
	TotalClientes    int     `json:"total_clientes"`
	TotalDocumentos  int     `json:"total_documentos"`
	PromedioDoc      float64 `json:"promedio_doc"`
	CantGestionados  int     `json:"cant_gestionados"`
	CantEfectivos    int     `json:"cant_efectivos"`
	CantSinGestion   int     `json:"cant_sin_gestion"`
	PorcBarrido      float64 `json:"porc_barrido"`
	PorcContactado   float64 `json:"porc_contactado"`
	PorcNoContactado float64 `json:"porc_no_contactado"`
	PorcSinGestion   float64 `json:"porc_sin_gestion"`

	ResumenFranjas   []FranjaSummary  `json:"resumen_franjas"`
	Detalle          []Detail         `json:"detalle_maestro"`
	Matriz           Matrix           `json:"matriz_antiguedad"`
	ResumenAnalistas []AnalystSummary `json:"resumen_analistas"`
	DonaEfectividad  [2]int           `json:"dona_efectividad"`
	TimelineDatos    Timeline         `json:"timeline_datos"`
	RankingDia       []DayRank        `json:"ranking_dia"`
	RecaudoStats     Recaudo          `json:"recaudo_stats"`
	Analistas        []string         `json:"analistas"`
	AnalistaActual   string           `json:"analista_actual"`
}

type entry struct {
	usuario  string
	cliente  string
	contacto string
	fecha    time.Time
	hasFecha bool
}

func (e entry) efectivo() bool { return normContact(e.contacto) == Efectivo }

func normContact(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

func contactRank(s string) int {
	switch normContact(s) {
	case Efectivo:
		return 1
	case NoEfectivo:
		return 2
	}
	return 3
}

// Calculate builds the collector performance report. A failure in the collection
// attribution leaves that section empty; any other load failure is returned.
func Calculate(ctx context.Context, in Input) (*Report, error) {
	in.Analyst = strings.TrimSpace(in.Analyst)
	if in.Analyst == "" {
		in.Analyst = config.AllAnalysts
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	today := extract.Date(in.Now)

	cartera, err := extract.ReadFile(in.CarteraPath)
	if err != nil {
		return nil, fmt.Errorf("load cartera: %w", err)
	}
	extract.Canonicalize(cartera, maestro.ColCliente, maestro.ColFranjaCyres, maestro.ColTotal, maestro.ColEstado)
	if c := extract.ResolveColumn(cartera.Columns, ColRazonSocial, "RAZON SOCIAL"); c != "" {
		cartera.Rename(c, ColRazonSocial)
	}
	if _, err := extract.Require(cartera, maestro.ColCliente); err != nil {
		return nil, fmt.Errorf("cartera: %w", err)
	}
	if cartera.Has(maestro.ColEstado) {
		cartera = cartera.Filter(func(row []string) bool {
			return strings.TrimSpace(cartera.Get(row, maestro.ColEstado)) == maestro.Pendiente
		})
	}

	ges, err := extract.ReadFile(in.GestionPath)
	if err != nil {
		return nil, fmt.Errorf("load gestion: %w", err)
	}
	extract.Canonicalize(ges, ColCliente, ColUsuario, ColFecha, ColContacto)
	if _, err := extract.Require(ges, ColCliente, ColUsuario, ColFecha, ColContacto); err != nil {
		return nil, fmt.Errorf("gestion: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all := readEntries(ges, nil, extract.ParseDayFirst)
	var filter func([]string) bool
	if in.Analyst != config.AllAnalysts {
		filter = func(row []string) bool { return strings.TrimSpace(ges.Get(row, ColUsuario)) == in.Analyst }
	}
	filtered := readEntries(ges, filter, extract.ParseDayFirstStrict)
	if !anyDated(filtered) {
		filtered = readEntries(ges, filter, extract.ParseDayFirst)
	}

	rep := &Report{AnalistaActual: in.Analyst, Analistas: analysts(all)}
	best := bestManagements(filtered)
	rep.ResumenAnalistas = summariseAnalysts(filtered, best)
	rep.TimelineDatos = timeline(best)
	rep.RankingDia = rankingDia(filtered, today)

	last := lastManagement(filtered)
	buildPortfolio(rep, cartera, last, today)

	if in.PagosPath != "" {
		rec, err := recaudo(in.PagosPath, all, in.Analyst)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.L().Warnw("collection attribution failed", "error", err)
			}
		} else {
			rep.RecaudoStats = rec
		}
	}
	if rep.RecaudoStats.Labels == nil {
		rep.RecaudoStats = Recaudo{Labels: []string{}, Valores: []float64{}, Ranking: []RecaudoRank{}}
	}
	return rep, nil
}

func readEntries(t *extract.Table, keep func([]string) bool, parse func(string) (time.Time, bool)) []entry {
	out := make([]entry, 0, t.Len())
	for _, row := range t.Rows {
		if keep != nil && !keep(row) {
			continue
		}
		e := entry{
			usuario:  strings.TrimSpace(t.Get(row, ColUsuario)),
			cliente:  extract.CleanID(t.Get(row, ColCliente)),
			contacto: strings.TrimSpace(t.Get(row, ColContacto)),
		}
		if d, ok := parse(t.Get(row, ColFecha)); ok {
			e.fecha, e.hasFecha = d, true
		}
		out = append(out, e)
	}
	return out
}

func anyDated(es []entry) bool {
	for _, e := range es {
		if e.hasFecha {
			return true
		}
	}
	return len(es) == 0
}

func analysts(es []entry) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range es {
		if e.usuario == "" || seen[e.usuario] || config.IsExcludedAnalyst(e.usuario) {
			continue
		}
		seen[e.usuario] = true
		out = append(out, e.usuario)
	}
	sort.Strings(out)
	return out
}

type bestKey struct {
	usuario string
	dia     time.Time
	cliente string
}

type bestRow struct {
	key      bestKey
	dated    bool
	efectivo bool
	rank     int
}

// bestManagements keeps, per analyst, day and client, the most successful contact.
func bestManagements(es []entry) []bestRow {
	idx := map[bestKey]int{}
	var out []bestRow
	for _, e := range es {
		if e.usuario == "" || config.IsExcludedAnalyst(e.usuario) {
			continue
		}
		k := bestKey{usuario: e.usuario, cliente: e.cliente}
		if e.hasFecha {
			k.dia = extract.Date(e.fecha)
		}
		r := contactRank(e.contacto)
		if i, ok := idx[k]; ok {
			if r < out[i].rank {
				out[i].rank = r
				out[i].efectivo = e.efectivo()
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, bestRow{key: k, dated: e.hasFecha, efectivo: e.efectivo(), rank: r})
	}
	return out
}

func summariseAnalysts(es []entry, best []bestRow) []AnalystSummary {
	raw := map[string]int{}
	for _, e := range es {
		if e.usuario != "" && !config.IsExcludedAnalyst(e.usuario) {
			raw[e.usuario]++
		}
	}
	byUser := map[string]*AnalystSummary{}
	var order []string
	for _, b := range best {
		s, ok := byUser[b.key.usuario]
		if !ok {
			s = &AnalystSummary{Usuario: b.key.usuario}
			byUser[b.key.usuario] = s
			order = append(order, b.key.usuario)
		}
		s.ClientesUnicosDia++
		if b.efectivo {
			s.Efectivos++
		}
	}
	out := make([]AnalystSummary, 0, len(order))
	for _, u := range order {
		s := byUser[u]
		s.Intensidad = extract.Round(float64(raw[u])/float64(s.ClientesUnicosDia), 1)
		s.EfecPorc = extract.Pct(float64(s.Efectivos), float64(s.ClientesUnicosDia))
		out = append(out, *s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EfecPorc != out[j].EfecPorc {
			return out[i].EfecPorc > out[j].EfecPorc
		}
		return out[i].Usuario < out[j].Usuario
	})
	return out
}

func timeline(best []bestRow) Timeline {
	type agg struct{ gest, efec int }
	days := map[time.Time]*agg{}
	for _, b := range best {
		if !b.dated {
			continue
		}
		a := days[b.key.dia]
		if a == nil {
			a = &agg{}
			days[b.key.dia] = a
		}
		a.gest++
		if b.efectivo {
			a.efec++
		}
	}
	keys := make([]time.Time, 0, len(days))
	for d := range days {
		keys = append(keys, d)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	tl := Timeline{Labels: []string{}, Gestionados: []int{}, Efectividad: []float64{}, NoEfectividad: []float64{}}
	for _, d := range keys {
		a := days[d]
		p := extract.Pct(float64(a.efec), float64(a.gest))
		tl.Labels = append(tl.Labels, d.Format("02-01"))
		tl.Gestionados = append(tl.Gestionados, a.gest)
		tl.Efectividad = append(tl.Efectividad, p)
		tl.NoEfectividad = append(tl.NoEfectividad, extract.Round(100-p, 1))
	}
	return tl
}

type lastInfo struct {
	contacto string
	fecha    time.Time
	hasFecha bool
}

// lastManagement returns, per client, the latest management date and the contact of
// the last entry once entries are ordered by date (undated entries last).
func lastManagement(es []entry) map[string]lastInfo {
	sorted := append([]entry(nil), es...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.hasFecha != b.hasFecha {
			return a.hasFecha
		}
		return a.fecha.Before(b.fecha)
	})
	out := map[string]lastInfo{}
	for _, e := range sorted {
		li := out[e.cliente]
		if e.contacto != "" {
			li.contacto = e.contacto
		}
		if e.hasFecha && (!li.hasFecha || !e.fecha.Before(li.fecha)) {
			li.fecha, li.hasFecha = e.fecha, true
		}
		out[e.cliente] = li
	}
	return out
}

// Rango classifies how long ago a client was last managed.
func Rango(last time.Time, has bool, today time.Time) string {
	if !has {
		return RangoSinGestion
	}
	dias := extract.DaysBetween(last, today)
	switch {
	case dias <= 0:
		return RangoHoy
	case dias == 1:
		return RangoAyer
	case dias <= 5:
		return Rango2a5
	case dias <= 10:
		return Rango6a10
	case dias <= 15:
		return Rango11a15
	}
	return RangoMas15
}

func buildPortfolio(rep *Report, cartera *extract.Table, last map[string]lastInfo, today time.Time) {
	type doc struct {
		cliente string
		franja  string
		rango   string
		li      lastInfo
	}
	docs := make([]doc, 0, cartera.Len())
	rep.Detalle = make([]Detail, 0, cartera.Len())
	for _, row := range cartera.Rows {
		cli := extract.CleanID(cartera.Get(row, maestro.ColCliente))
		li := last[cli]
		d := doc{
			cliente: cli,
			franja:  strings.TrimSpace(cartera.Get(row, maestro.ColFranjaCyres)),
			rango:   Rango(li.fecha, li.hasFecha, today),
			li:      li,
		}
		docs = append(docs, d)

		det := Detail{
			ID:               cli,
			Nombre:           cartera.Get(row, ColRazonSocial),
			Franja:           d.franja,
			Estado:           "SIN GESTIÓN",
			Contacto:         "PTE / SIN CONTACTO",
			Saldo:            extract.ParseAmount(cartera.Get(row, maestro.ColTotal)).InexactFloat64(),
			RangoInactividad: d.rango,
			FechaUltima:      "—",
		}
		if li.contacto != "" {
			det.Estado = "GESTIONADO"
			det.Contacto = normContact(li.contacto)
		}
		if li.hasFecha {
			det.FechaUltima = li.fecha.Format("02/01/2006")
		}
		rep.Detalle = append(rep.Detalle, det)
	}

	seen := map[string]bool{}
	var uniq []doc
	for _, d := range docs {
		if seen[d.cliente] {
			continue
		}
		seen[d.cliente] = true
		uniq = append(uniq, d)
	}

	total := len(uniq)
	gest, efec := 0, 0
	franjaSet := map[string]bool{}
	rangoSet := map[string]bool{}
	cells := map[[2]string]int{}
	bySummary := map[string]*FranjaSummary{}
	for _, d := range uniq {
		managed := d.li.contacto != ""
		effective := normContact(d.li.contacto) == Efectivo
		if managed {
			gest++
		}
		if effective {
			efec++
		}
		if d.franja == "" {
			continue
		}
		franjaSet[d.franja] = true
		rangoSet[d.rango] = true
		cells[[2]string{d.rango, d.franja}]++

		s := bySummary[d.franja]
		if s == nil {
			s = &FranjaSummary{Franja: d.franja}
			bySummary[d.franja] = s
		}
		s.Total++
		if managed {
			s.Gestionados++
		}
		if effective {
			s.Efectivo++
		}
	}

	rep.TotalClientes = total
	rep.TotalDocumentos = len(docs)
	rep.CantGestionados = gest
	rep.CantEfectivos = efec
	rep.CantSinGestion = total - gest
	if total > 0 {
		n := float64(total)
		rep.PromedioDoc = extract.Round(float64(len(docs))/n, 1)
		rep.PorcBarrido = extract.Round(float64(gest)/n*100, 1)
		rep.PorcContactado = extract.Round(float64(efec)/n*100, 1)
		rep.PorcNoContactado = extract.Round(float64(gest-efec)/n*100, 1)
		rep.PorcSinGestion = extract.Round(float64(total-gest)/n*100, 1)
	}
	rep.DonaEfectividad = [2]int{efec, gest - efec}

	franjas := sortedKeys(franjaSet)
	rangos := sortedKeys(rangoSet)
	rep.Matriz.Columnas = append(append([]string(nil), franjas...), TotalCol)
	totals := make([]int, len(rep.Matriz.Columnas))
	for _, r := range rangos {
		vals := make([]int, len(rep.Matriz.Columnas))
		sum := 0
		for i, f := range franjas {
			vals[i] = cells[[2]string{r, f}]
			sum += vals[i]
		}
		vals[len(franjas)] = sum
		for i, v := range vals {
			totals[i] += v
		}
		rep.Matriz.Filas = append(rep.Matriz.Filas, MatrixRow{Rango: r, Valores: vals})
	}
	rep.Matriz.Filas = append(rep.Matriz.Filas, MatrixRow{Rango: TotalGeneral, Valores: totals})

	rep.ResumenFranjas = make([]FranjaSummary, 0, len(franjas))
	for _, f := range franjas {
		s := bySummary[f]
		s.SinGestion = s.Total - s.Gestionados
		rep.ResumenFranjas = append(rep.ResumenFranjas, *s)
	}
}

func rankingDia(es []entry, today time.Time) []DayRank {
	type agg struct {
		clients map[string]bool
		total   int
		efec    int
	}
	byUser := map[string]*agg{}
	for _, e := range es {
		if !e.hasFecha || !extract.Date(e.fecha).Equal(today) || e.usuario == "" {
			continue
		}
		a := byUser[e.usuario]
		if a == nil {
			a = &agg{clients: map[string]bool{}}
			byUser[e.usuario] = a
		}
		a.clients[e.cliente] = true
		a.total++
		if e.efectivo() {
			a.efec++
		}
	}
	out := make([]DayRank, 0, len(byUser))
	for u, a := range byUser {
		if config.IsExcludedAnalyst(u) {
			continue
		}
		out = append(out, DayRank{
			Usuario:          u,
			ClientesUnicos:   len(a.clients),
			GestionesTotales: a.total,
			Efectivos:        a.efec,
			PorcEfec:         extract.Pct(float64(a.efec), float64(a.total)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PorcEfec != out[j].PorcEfec {
			return out[i].PorcEfec > out[j].PorcEfec
		}
		return out[i].Usuario < out[j].Usuario
	})
	return out
}

// recaudo attributes each payment to the analyst who managed the client on the payment
// date, preferring an effective contact. Unmatched payments go to "Sin Gestión".
func recaudo(path string, all []entry, analyst string) (Recaudo, error) {
	ps, err := pagos.Load(path)
	if err != nil {
		return Recaudo{}, err
	}

	type refKey struct {
		cliente string
		dia     time.Time
	}
	resp := map[refKey]string{}
	prio := map[refKey]int{}
	for _, e := range all {
		if !e.hasFecha || config.IsExcludedAnalyst(e.usuario) {
			continue
		}
		k := refKey{e.cliente, extract.Date(e.fecha)}
		p := 2
		if e.efectivo() {
			p = 1
		}
		if cur, ok := prio[k]; ok && cur <= p {
			continue
		}
		prio[k] = p
		resp[k] = e.usuario
	}

	totals := map[string]float64{}
	global := 0.0
	daily := map[time.Time]float64{}
	for _, p := range ps {
		if !p.Valor.IsPositive() {
			continue
		}
		v := p.Valor.InexactFloat64()
		who := SinGestion
		if p.HasFecha {
			if u, ok := resp[refKey{p.Cliente, p.Fecha}]; ok {
				who = u
			}
		}
		totals[who] += v
		global += v
		if p.HasFecha && (analyst == config.AllAnalysts || who == analyst) {
			daily[p.Fecha] += v
		}
	}

	rec := Recaudo{Labels: []string{}, Valores: []float64{}, Ranking: []RecaudoRank{}}
	for u, v := range totals {
		if config.IsExcludedAnalyst(u) {
			continue
		}
		r := RecaudoRank{Usuario: u, TotalRecaudado: extract.Round(v, 0)}
		if global > 0 {
			r.PorcPart = extract.Round(r.TotalRecaudado/global*100, 1)
		}
		rec.Ranking = append(rec.Ranking, r)
	}
	sort.Slice(rec.Ranking, func(i, j int) bool {
		if rec.Ranking[i].TotalRecaudado != rec.Ranking[j].TotalRecaudado {
			return rec.Ranking[i].TotalRecaudado > rec.Ranking[j].TotalRecaudado
		}
		return rec.Ranking[i].Usuario < rec.Ranking[j].Usuario
	})

	days := make([]time.Time, 0, len(daily))
	for d := range daily {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	for _, d := range days {
		rec.Labels = append(rec.Labels, d.Format("02-01"))
		rec.Valores = append(rec.Valores, daily[d])
	}
	return rec, nil
}

// Page returns the 1-based page of rows of size limit and the total page count.
func Page(rows []Detail, page, limit int) ([]Detail, int) {
	if limit <= 0 {
		limit = 50
	}
	pages := (len(rows) + limit - 1) / limit
	if pages == 0 {
		pages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}
	start := (page - 1) * limit
	end := start + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end], pages
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
