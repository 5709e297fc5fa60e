package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CarteraDash/api/cartera/maestro"
	"CarteraDash/internal/extract"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		mock.ExpectClose()
		assert.NoError(t, db.Close())
	})
	return New(db, nil), mock
}

func TestRecordRun(t *testing.T) {
	s, mock := newMock(t)
	started := time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)
	run := Run{
		ID: "3f0c1f4e-8c4e-4a57-9b1e-0d1b3c2a9f10", Kind: "maestro",
		StartedAt: started, FinishedAt: started.Add(3 * time.Second),
		Files: 4, Records: 120, Status: StatusOK, Message: "Consolidación exitosa.",
	}
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO cartera_runs`)).
		WithArgs(run.ID, run.Kind, run.StartedAt, run.FinishedAt, 4, 120, StatusOK, run.Message).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.RecordRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunWrapsError(t *testing.T) {
	s, mock := newMock(t)
	boom := errors.New("connection reset")
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO cartera_runs`)).WillReturnError(boom)

	err := s.RecordRun(context.Background(), Run{ID: "x"})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRuns(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"run_id", "kind", "started_at", "finished_at", "files", "records", "status", "message"}).
		AddRow("b", "pagos", at.Add(time.Hour), at.Add(time.Hour), 2, 10, StatusOK, "Éxito").
		AddRow("a", "maestro", at, at, 0, 0, StatusError, "No se encontraron archivos para procesar.")
	mock.ExpectQuery(regexp.QuoteMeta(`FROM cartera_runs`)).WithArgs(20, 40).WillReturnRows(rows)

	runs, err := s.ListRuns(context.Background(), 20, 40)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "pagos", runs[0].Kind)
	assert.Equal(t, 10, runs[0].Records)
	assert.Equal(t, StatusError, runs[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsEmpty(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM cartera_runs`)).WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"run_id"}))

	runs, err := s.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestCountRuns(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM cartera_runs`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.CountRuns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS cartera_runs`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveMasterWithoutPool(t *testing.T) {
	s, _ := newMock(t)
	_, err := s.ArchiveMaster(context.Background(), NewRunID(), extract.NewTable(nil))
	assert.ErrorIs(t, err, ErrNoPool)
}

func TestSnapshotRows(t *testing.T) {
	master := extract.NewTable(append(append([]string{}, maestro.RequiredColumns...), maestro.DerivedColumns...))
	rec := make([]string, len(master.Columns))
	master.Append(rec)
	row := master.Rows[0]
	master.Set(row, maestro.ColCliente, "100")
	master.Set(row, maestro.ColReferencia, "F1")
	master.Set(row, maestro.ColFechaDoc, "2026-01-02")
	master.Set(row, maestro.ColVencimiento, "not a date")
	master.Set(row, maestro.ColTotal, "1500.50")
	master.Set(row, maestro.ColID, "100|F1|2026-01-02||1500.5")
	master.Set(row, maestro.ColEstado, maestro.Pendiente)
	master.Set(row, maestro.ColDiasMora, "")
	master.Set(row, maestro.ColMaxMora, "0")

	out := SnapshotRows("run-1", master)
	require.Len(t, out, 1)
	vals := out[0]
	require.Len(t, vals, len(snapshotColumns))
	assert.Equal(t, "run-1", vals[0])
	assert.Equal(t, 1, vals[1])
	assert.Equal(t, "100", vals[3])
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), vals[5])
	assert.Nil(t, vals[6])
	assert.Equal(t, 1500.5, vals[7])
	assert.Equal(t, maestro.Pendiente, vals[8])
	assert.Nil(t, vals[9])
	assert.Nil(t, vals[12])
	assert.Equal(t, int32(0), vals[15])

	assert.Nil(t, SnapshotRows("x", nil))
}
