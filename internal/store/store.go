package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"CarteraDash/api/cartera/maestro"
	"CarteraDash/internal/extract"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

var ErrNoPool = errors.New("snapshot archive needs a pgx pool")

// Run is one row of the cartera_runs ledger.
type Run struct {
	ID         string    `json:"run_id"`
	Kind       string    `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Files      int       `json:"files"`
	Records    int       `json:"records"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
}

// NewRunID returns a fresh ledger id.
func NewRunID() string {
	return uuid.New().String()
}

const schema = `
CREATE TABLE IF NOT EXISTS cartera_runs (
	run_id      UUID PRIMARY KEY,
	kind        TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	files       INTEGER NOT NULL DEFAULT 0,
	records     INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	message     TEXT
);
CREATE TABLE IF NOT EXISTS cartera_master_snapshot (
	run_id             UUID NOT NULL,
	row_no             INTEGER NOT NULL,
	id_s               TEXT NOT NULL,
	cod_cliente        TEXT,
	referencia         TEXT,
	fecha_doc          DATE,
	fecha_vencimiento  DATE,
	total_cartera      NUMERIC,
	estado             TEXT,
	primera_aparicion  DATE,
	recuperacion       DATE,
	reverso            TEXT,
	dias_mora          INTEGER,
	franja_cyres       TEXT,
	franja_coca        TEXT,
	max_mora           INTEGER,
	PRIMARY KEY (run_id, row_no)
)`

// Store writes the run ledger through database/sql and bulk-loads master snapshots
// through the pgx pool. Either handle may be nil; the matching operations then fail.
type Store struct {
	db   *sql.DB
	pool *pgxpool.Pool
}

func New(db *sql.DB, pool *pgxpool.Pool) *Store {
	return &Store{db: db, pool: pool}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) RecordRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cartera_runs (run_id, kind, started_at, finished_at, files, records, status, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.Kind, r.StartedAt, r.FinishedAt, r.Files, r.Records, r.Status, r.Message)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}
	return nil
}

// ListRuns returns the ledger newest first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, kind, started_at, finished_at, files, records, status, COALESCE(message, '')
		FROM cartera_runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Kind, &r.StartedAt, &r.FinishedAt, &r.Files, &r.Records, &r.Status, &r.Message); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) CountRuns(ctx context.Context) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cartera_runs`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count query failed: %w", err)
	}
	return total, nil
}

var snapshotColumns = []string{
	"run_id", "row_no", "id_s", "cod_cliente", "referencia", "fecha_doc", "fecha_vencimiento",
	"total_cartera", "estado", "primera_aparicion", "recuperacion", "reverso", "dias_mora",
	"franja_cyres", "franja_coca", "max_mora",
}

// ArchiveMaster copies the consolidated master into cartera_master_snapshot under runID.
func (s *Store) ArchiveMaster(ctx context.Context, runID string, master *extract.Table) (int64, error) {
	if s.pool == nil {
		return 0, ErrNoPool
	}
	rows := SnapshotRows(runID, master)
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback(ctx)
		}
	}()

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"cartera_master_snapshot"}, snapshotColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy master snapshot: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit failed: %w", err)
	}
	committed = true
	return n, nil
}

// SnapshotRows converts master rows into CopyFrom values aligned with the snapshot table.
// Empty and unparseable cells become NULL.
func SnapshotRows(runID string, master *extract.Table) [][]interface{} {
	if master == nil {
		return nil
	}
	out := make([][]interface{}, 0, master.Len())
	for i, row := range master.Rows {
		get := func(col string) string { return master.Get(row, col) }
		out = append(out, []interface{}{
			runID,
			i + 1,
			get(maestro.ColID),
			nullText(get(maestro.ColCliente)),
			nullText(get(maestro.ColReferencia)),
			nullDate(get(maestro.ColFechaDoc)),
			nullDate(get(maestro.ColVencimiento)),
			nullAmount(get(maestro.ColTotal)),
			nullText(get(maestro.ColEstado)),
			nullDate(get(maestro.ColPrimera)),
			nullDate(get(maestro.ColRecuperacion)),
			nullText(get(maestro.ColReverso)),
			nullInt(get(maestro.ColDiasMora)),
			nullText(get(maestro.ColFranjaCyres)),
			nullText(get(maestro.ColFranjaCoca)),
			nullInt(get(maestro.ColMaxMora)),
		})
	}
	return out
}

func nullText(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullDate(s string) interface{} {
	if t, ok := extract.ParseAnyDate(s); ok {
		return t
	}
	return nil
}

func nullAmount(s string) interface{} {
	if d, ok := extract.AmountOK(s); ok {
		return d.InexactFloat64()
	}
	return nil
}

func nullInt(s string) interface{} {
	if n, ok := extract.ParseInt(s); ok {
		return int32(n)
	}
	return nil
}
