package pagos

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"CarteraDash/internal/config"
	"CarteraDash/internal/extract"
	"CarteraDash/internal/logger"
)

const (
	ColCliente   = "COD. CLIENTE"
	ColFechaPago = "FECHA PAGO"
	ColValor     = "VALOR PAGADO"
	ColArchivo   = "ARCHIVO_ORIGEN"
)

var (
	ErrNoPaymentFiles = errors.New("no payment files")
	ErrNothingRead    = errors.New("no payment file could be read")
)

const (
	MsgNoPaymentFiles = "No se encontraron archivos en la carpeta de pagos diarios."
	msgSuccess        = "Éxito: Se consolidaron %d archivos en %s"
)

type Result struct {
	Message string   `json:"message"`
	Files   int      `json:"files"`
	Records int      `json:"records"`
	Skipped []string `json:"skipped,omitempty"`
}

type Processor struct {
	Paths config.Paths

	mu sync.Mutex
}

func NewProcessor(paths config.Paths) *Processor {
	return &Processor{Paths: paths}
}

// Consolidate concatenates every daily payment CSV into the consolidated payments file,
// tagging each row with its source file name.
func (p *Processor) Consolidate(ctx context.Context) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dir := p.Paths.Payments()
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Result{}, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || extract.FileExt(e.Name()) != ".csv" {
			continue
		}
		files = append(files, e.Name())
	}
	if len(files) == 0 {
		return Result{Message: MsgNoPaymentFiles}, ErrNoPaymentFiles
	}
	logger.L().Infow("consolidating payments", "files", len(files))

	var (
		columns []string
		seen    = map[string]bool{}
		tables  []*extract.Table
		names   []string
		res     Result
	)
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		tbl, err := extract.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.L().Warnw("skipping unreadable payment file", "file", name, "error", err)
			res.Skipped = append(res.Skipped, name)
			continue
		}
		tbl.AddColumn(ColArchivo)
		for i := range tbl.Rows {
			tbl.Set(tbl.Rows[i], ColArchivo, name)
		}
		for _, c := range tbl.Columns {
			if !seen[c] {
				seen[c] = true
				columns = append(columns, c)
			}
		}
		tables = append(tables, tbl)
		names = append(names, name)
	}
	if len(tables) == 0 {
		return res, fmt.Errorf("%w (%d skipped)", ErrNothingRead, len(res.Skipped))
	}

	out := extract.NewTable(columns)
	for _, tbl := range tables {
		for _, row := range tbl.Rows {
			rec := make([]string, len(columns))
			for i, c := range columns {
				rec[i] = tbl.Get(row, c)
			}
			out.Rows = append(out.Rows, rec)
		}
	}
	if err := extract.WriteCSV(p.Paths.PaymentsCSV(), out); err != nil {
		return res, fmt.Errorf("write payments: %w", err)
	}

	res.Files = len(names)
	res.Records = out.Len()
	res.Message = fmt.Sprintf(msgSuccess, res.Files, config.PaymentsCSVName)
	logger.L().Infow("payments consolidated", "files", res.Files, "records", res.Records, "skipped", len(res.Skipped))
	return res, nil
}

// Payment is one row of the consolidated payments file.
type Payment struct {
	Cliente  string
	Fecha    time.Time
	HasFecha bool
	Valor    decimal.Decimal
}

// Load reads the consolidated payments file. Client ids are cleaned, payment dates are
// parsed day-first and invalid amounts count as zero.
func Load(path string) ([]Payment, error) {
	tbl, err := extract.ReadFile(path)
	if err != nil {
		return nil, err
	}
	extract.Canonicalize(tbl, ColCliente, ColFechaPago, ColValor)
	out := make([]Payment, 0, tbl.Len())
	for _, row := range tbl.Rows {
		p := Payment{
			Cliente: extract.CleanID(tbl.Get(row, ColCliente)),
			Valor:   extract.ParseAmount(tbl.Get(row, ColValor)),
		}
		if d, ok := extract.ParseDayFirst(tbl.Get(row, ColFechaPago)); ok {
			p.Fecha, p.HasFecha = extract.Date(d), true
		}
		out = append(out, p)
	}
	return out, nil
}

// Total sums every payment amount.
func Total(ps []Payment) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range ps {
		sum = sum.Add(p.Valor)
	}
	return sum
}
