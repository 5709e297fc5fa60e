package maestro

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"CarteraDash/internal/config"
	"CarteraDash/internal/extract"
	"CarteraDash/internal/logger"
)

// Source columns every snapshot must carry.
const (
	ColCliente     = "COD. CLIENTE"
	ColReferencia  = "Referencia"
	ColFechaDoc    = "FECHA DOC"
	ColVencimiento = "Fecha_Vencimiento"
	ColTotal       = "TOTAL CARTERA"
)

// Derived columns, in output order.
const (
	ColID           = "ID_S"
	ColEstado       = "ESTADO"
	ColPrimera      = "PRIMERA_APARICION"
	ColRecuperacion = "RECUPERACION"
	ColReverso      = "REVERSO"
	ColVto          = "VTO_DT"
	ColDiasMora     = "DIAS_MORA"
	ColFranjaCyres  = "Franja Mora Cyres"
	ColFranjaCoca   = "Franja de Mora Coca-Cola"
	ColMaxMora      = "MAX_MORA"
	ColFranjaTop    = "Franja Top General"
)

const (
	Pendiente  = "PENDIENTE"
	Recuperada = "RECUPERADA"

	SheetName = "Sheet1"
)

var (
	RequiredColumns = []string{ColCliente, ColReferencia, ColFechaDoc, ColVencimiento, ColTotal}
	DerivedColumns  = []string{
		ColID, ColEstado, ColPrimera, ColRecuperacion, ColReverso, ColVto,
		ColDiasMora, ColFranjaCyres, ColFranjaCoca, ColMaxMora, ColFranjaTop,
	}
)

var ErrNoSnapshots = errors.New("no snapshot files")

const (
	MsgNoSnapshots = "No se encontraron archivos para procesar."
	msgSuccess     = "Consolidación exitosa. Archivo maestro actualizado con %d registros únicos."
)

// Snapshot is one extract of outstanding invoices, dated by its modification time.
// NumericColumns are stored as numbers in the master workbook.
var NumericColumns = []string{ColTotal, ColDiasMora, ColMaxMora}

type Snapshot struct {
	Name    string
	ModTime time.Time
	Date    time.Time
	Table   *extract.Table
}

// Stats summarises a consolidation.
type Stats struct {
	Files     int `json:"files"`
	Records   int `json:"records"`
	Pending   int `json:"pending"`
	Recovered int `json:"recovered"`
	Reversed  int `json:"reversed"`
}

// Result is what a consolidation run returns to its caller.
type Result struct {
	Message string         `json:"message"`
	Stats   Stats          `json:"stats"`
	Table   *extract.Table `json:"-"`
}

type Processor struct {
	Paths    config.Paths
	Location *time.Location
	Now      func() time.Time

	mu sync.Mutex
}

func NewProcessor(paths config.Paths, loc *time.Location) *Processor {
	if loc == nil {
		loc = time.Local
	}
	return &Processor{Paths: paths, Location: loc, Now: time.Now}
}

// Consolidate rebuilds the master file from every snapshot in the snapshots folder.
// Runs are serialised; a second caller waits for the first to finish.
func (p *Processor) Consolidate(ctx context.Context) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snaps, err := p.LoadSnapshots(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(snaps) == 0 {
		return Result{Message: MsgNoSnapshots}, ErrNoSnapshots
	}

	today := extract.Date(p.Now().In(p.Location))
	master, stats := Build(snaps, today)

	if err := extract.WriteXLSX(p.Paths.MasterXLSX(), SheetName, master, NumericColumns...); err != nil {
		return Result{}, fmt.Errorf("write master xlsx: %w", err)
	}
	if err := extract.WriteCSV(p.Paths.MasterCSV(), master); err != nil {
		return Result{}, fmt.Errorf("write master csv: %w", err)
	}

	logger.L().Infow("master consolidated",
		"files", stats.Files, "records", stats.Records,
		"pending", stats.Pending, "recovered", stats.Recovered, "reversed", stats.Reversed)
	return Result{
		Message: fmt.Sprintf(msgSuccess, stats.Records),
		Stats:   stats,
		Table:   master,
	}, nil
}

// LoadSnapshots reads every supported extract of the snapshots folder in name order.
// Spreadsheet lock files (~$...) and hidden files are ignored. A snapshot that cannot be
// read or lacks a required column aborts the run: consolidating without it would mark
// its lines as recovered.
func (p *Processor) LoadSnapshots(ctx context.Context) ([]Snapshot, error) {
	dir := p.Paths.Snapshots()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snaps []Snapshot
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") {
			continue
		}
		if !extract.IsSupported(name, extract.SupportedSnapshot...) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, name)
		tbl, err := extract.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		extract.Canonicalize(tbl, RequiredColumns...)
		if _, err := extract.Require(tbl, RequiredColumns...); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		snaps = append(snaps, Snapshot{
			Name:    name,
			ModTime: info.ModTime(),
			Date:    extract.Date(info.ModTime().In(p.Location)),
			Table:   tbl,
		})
	}
	return snaps, nil
}

// Key is the identity of an invoice line across snapshots.
func Key(t *extract.Table, row []string) string {
	return strings.Join([]string{
		extract.CleanID(t.Get(row, ColCliente)),
		extract.CleanID(t.Get(row, ColReferencia)),
		normDate(t.Get(row, ColFechaDoc)),
		normDate(t.Get(row, ColVencimiento)),
		normAmount(t.Get(row, ColTotal)),
	}, "|")
}

func normDate(s string) string {
	if d, ok := extract.ParseAnyDate(s); ok {
		return extract.FormatDate(extract.Date(d))
	}
	return strings.TrimSpace(s)
}

func normAmount(s string) string {
	if d, ok := extract.AmountOK(s); ok {
		return d.String()
	}
	return strings.TrimSpace(s)
}

type line struct {
	key  string
	snap int
	row  []string
}

// Build consolidates snaps as of today. snaps are not modified.
func Build(snaps []Snapshot, today time.Time) (*extract.Table, Stats) {
	stats := Stats{Files: len(snaps)}

	order := make([]int, len(snaps))
	for i := range order {
		order[i] = i
	}
	// ModTime order, date and name break ties
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := snaps[order[a]], snaps[order[b]]
		if !sa.ModTime.Equal(sb.ModTime) {
			return sa.ModTime.Before(sb.ModTime)
		}
		if !sa.Date.Equal(sb.Date) {
			return sa.Date.Before(sb.Date)
		}
		return sa.Name < sb.Name
	})

	latest := -1
	if len(order) > 0 {
		latest = order[len(order)-1]
	}

	var columns []string
	seenCol := map[string]bool{}
	for _, d := range DerivedColumns {
		seenCol[d] = true
	}
	for _, i := range order {
		for _, c := range snaps[i].Table.Columns {
			if c == "" || seenCol[c] {
				continue
			}
			seenCol[c] = true
			columns = append(columns, c)
		}
	}

	var lines []line
	presence := map[string]map[int]bool{}
	for _, i := range order {
		t := snaps[i].Table
		for _, row := range t.Rows {
			k := Key(t, row)
			out := make([]string, len(columns))
			for ci, c := range columns {
				out[ci] = t.Get(row, c)
			}
			lines = append(lines, line{key: k, snap: i, row: out})
			if presence[k] == nil {
				presence[k] = map[int]bool{}
			}
			presence[k][i] = true
		}
	}

	first := map[string]time.Time{}
	last := map[string]int{}
	for li, l := range lines {
		if d, ok := first[l.key]; !ok || snaps[l.snap].Date.Before(d) {
			first[l.key] = snaps[l.snap].Date
		}
		last[l.key] = li
	}

	master := extract.NewTable(append(append([]string(nil), columns...), DerivedColumns...))
	type derived struct {
		cliente string
		estado  string
		dias    *int
		row     []string
	}
	var rows []derived
	for li, l := range lines {
		if last[l.key] != li {
			continue
		}
		snap := snaps[l.snap]
		estado := Recuperada
		if presence[l.key][latest] {
			estado = Pendiente
		}
		recuperacion := ""
		if estado == Recuperada {
			recuperacion = extract.FormatDate(snap.Date)
		}
		reverso := "NO"
		if reappeared(order, presence[l.key]) {
			reverso = "SI"
			stats.Reversed++
		}

		row := make([]string, len(master.Columns))
		copy(row, l.row)
		for _, c := range []string{ColFechaDoc, ColVencimiento} {
			if i := master.Index(c); i >= 0 {
				row[i] = normDate(row[i])
			}
		}
		master.Set(row, ColID, l.key)
		master.Set(row, ColEstado, estado)
		master.Set(row, ColPrimera, extract.FormatDate(first[l.key]))
		master.Set(row, ColRecuperacion, recuperacion)
		master.Set(row, ColReverso, reverso)

		var dias *int
		if vto, ok := extract.ParseAnyDate(master.Get(row, ColVencimiento)); ok {
			vto = extract.Date(vto)
			ref := today
			if estado == Recuperada {
				ref = snap.Date
			}
			d := extract.DaysBetween(vto, ref)
			dias = &d
			master.Set(row, ColVto, extract.FormatDate(vto))
			master.Set(row, ColDiasMora, strconv.Itoa(d))
			master.Set(row, ColFranjaCyres, FranjaCyres(d))
			master.Set(row, ColFranjaCoca, FranjaCoca(d))
		} else {
			master.Set(row, ColFranjaCyres, SinClasificar)
			master.Set(row, ColFranjaCoca, SinClasificar)
		}

		if estado == Pendiente {
			stats.Pending++
		} else {
			stats.Recovered++
		}
		rows = append(rows, derived{
			cliente: extract.CleanID(master.Get(row, ColCliente)),
			estado:  estado,
			dias:    dias,
			row:     row,
		})
	}

	maxMora := map[string]int{}
	for _, r := range rows {
		if r.estado != Pendiente || r.dias == nil {
			continue
		}
		if m, ok := maxMora[r.cliente]; !ok || *r.dias > m {
			maxMora[r.cliente] = *r.dias
		}
	}
	for _, r := range rows {
		m := maxMora[r.cliente]
		master.Set(r.row, ColMaxMora, strconv.Itoa(m))
		master.Set(r.row, ColFranjaTop, FranjaCoca(m))
		master.Rows = append(master.Rows, r.row)
	}

	stats.Records = master.Len()
	return master, stats
}

// reappeared reports whether a key was present, then missing from at least one
// snapshot, then present again, walking snapshots in chronological order.
func reappeared(order []int, present map[int]bool) bool {
	seen, gap := false, false
	for _, i := range order {
		switch {
		case present[i] && seen && gap:
			return true
		case present[i]:
			seen = true
		case seen:
			gap = true
		}
	}
	return false
}
