package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CarteraDash/api/cartera/maestro"
	"CarteraDash/api/cartera/pagos"
	"CarteraDash/internal/config"
	"CarteraDash/internal/extract"
	"CarteraDash/internal/store"
)

type fakeLedger struct {
	mu       sync.Mutex
	runs     []store.Run
	archived map[string]int
	failRec  error
}

func (f *fakeLedger) RecordRun(_ context.Context, r store.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return f.failRec
}

func (f *fakeLedger) ArchiveMaster(_ context.Context, runID string, master *extract.Table) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.archived == nil {
		f.archived = map[string]int{}
	}
	f.archived[runID] = master.Len()
	return int64(master.Len()), nil
}

type event struct {
	kind    string
	payload map[string]interface{}
}

type fakeEvents struct {
	mu     sync.Mutex
	events []event
}

func (f *fakeEvents) Broadcast(kind string, payload map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event{kind, payload})
}

type countingRefresher struct{ n int }

func (c *countingRefresher) Refresh() { c.n++ }

var clock = time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)

func newRunner(t *testing.T) (*Runner, config.Paths) {
	t.Helper()
	paths := config.NewPaths(t.TempDir())
	require.NoError(t, paths.EnsureDirs())
	r := NewRunner(paths, time.UTC)
	r.Now = func() time.Time { return clock }
	r.Maestro.Now = r.Now
	return r, paths
}

func writeCSV(t *testing.T, path string, mod time.Time, cols []string, rows ...[]string) {
	t.Helper()
	tbl := extract.NewTable(cols)
	for _, row := range rows {
		tbl.Append(row)
	}
	require.NoError(t, extract.WriteCSV(path, tbl))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func seed(t *testing.T, paths config.Paths) {
	t.Helper()
	writeCSV(t, filepath.Join(paths.Snapshots(), "corte.csv"), clock.AddDate(0, 0, -1),
		maestro.RequiredColumns,
		[]string{"100", "F1", "01/01/2026", "05/01/2026", "1000"},
		[]string{"200", "F2", "02/01/2026", "20/01/2026", "500"},
	)
	writeCSV(t, filepath.Join(paths.Payments(), "pagos_0114.csv"), clock,
		[]string{pagos.ColCliente, pagos.ColFechaPago, pagos.ColValor},
		[]string{"100", "14/01/2026", "250"},
	)
}

func TestRunAllReportsEverywhere(t *testing.T) {
	r, paths := newRunner(t)
	seed(t, paths)
	ledger := &fakeLedger{}
	events := &fakeEvents{}
	refresh := &countingRefresher{}
	r.Ledger, r.Events, r.Resources = ledger, events, refresh

	outs := r.RunAll(context.Background())
	require.Len(t, outs, 2)

	assert.Equal(t, KindPagos, outs[0].Kind)
	assert.True(t, outs[0].OK)
	assert.Equal(t, "Éxito: Se consolidaron 1 archivos en PagosConsolidado.csv", outs[0].Message)
	assert.Equal(t, 1, outs[0].Records)

	assert.Equal(t, KindMaestro, outs[1].Kind)
	assert.True(t, outs[1].OK, outs[1].Message)
	assert.Equal(t, 2, outs[1].Records)
	assert.Equal(t, 1, outs[1].Files)
	assert.NotEqual(t, outs[0].RunID, outs[1].RunID)

	require.Len(t, ledger.runs, 2)
	assert.Equal(t, store.StatusOK, ledger.runs[1].Status)
	assert.Equal(t, clock, ledger.runs[1].StartedAt)
	assert.Equal(t, 2, ledger.archived[outs[1].RunID])

	require.Len(t, events.events, 4)
	assert.Equal(t, "run_started", events.events[0].kind)
	assert.Equal(t, "run_finished", events.events[3].kind)
	assert.Equal(t, KindMaestro, events.events[3].payload["kind"])
	assert.Equal(t, true, events.events[3].payload["ok"])

	notes := r.Notes.GetNotifications()
	require.Len(t, notes, 2)
	assert.Equal(t, KindMaestro, notes[0].Kind)
	assert.Equal(t, 2, refresh.n)

	_, err := os.Stat(paths.MasterXLSX())
	assert.NoError(t, err)
}

func TestRunFailuresKeepMessages(t *testing.T) {
	r, _ := newRunner(t)
	ledger := &fakeLedger{failRec: errors.New("db down")}
	r.Ledger = ledger

	out := r.RunMaestro(context.Background())
	assert.False(t, out.OK)
	assert.ErrorIs(t, out.Err, maestro.ErrNoSnapshots)
	assert.Equal(t, maestro.MsgNoSnapshots, out.Message)
	assert.Empty(t, ledger.archived)

	out = r.RunPagos(context.Background())
	assert.False(t, out.OK)
	assert.ErrorIs(t, out.Err, pagos.ErrNoPaymentFiles)
	assert.Equal(t, pagos.MsgNoPaymentFiles, out.Message)

	require.Len(t, ledger.runs, 2)
	assert.Equal(t, store.StatusError, ledger.runs[0].Status)
	assert.False(t, r.Notes.GetNotifications()[0].OK)
}

func TestCronServiceSchedules(t *testing.T) {
	r, _ := newRunner(t)
	svc := NewCronService(map[string]interface{}{
		"maestro_schedule": "15 7 * * *",
		"pagos_schedule":   "",
		"timezone":         "UTC",
	}, r).(*CronService)

	require.NoError(t, svc.Start())
	defer svc.Stop()
	assert.Equal(t, "cron", svc.Name())
	assert.Len(t, svc.Entries(), 1)
}

func TestCronServiceRejectsBadSchedule(t *testing.T) {
	r, _ := newRunner(t)
	svc := NewCronService(map[string]interface{}{"maestro_schedule": "every day"}, r)
	assert.Error(t, svc.Start())
}

func TestCronConfigDefaults(t *testing.T) {
	c := CronConfigFrom(nil)
	assert.Equal(t, config.DefaultMaestroSchedule, c.MaestroSchedule)
	assert.Equal(t, config.DefaultPagosSchedule, c.PagosSchedule)
	assert.Equal(t, config.DefaultTimeZone, c.TimeZone)

	c = CronConfigFrom(map[string]interface{}{"timeout": "30s"})
	assert.Equal(t, 30*time.Second, c.Timeout)
}
