package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"CarteraDash/api/cartera/maestro"
	"CarteraDash/api/cartera/pagos"
	"CarteraDash/api/constants"
	"CarteraDash/internal/config"
	"CarteraDash/internal/extract"
	"CarteraDash/internal/logger"
	"CarteraDash/internal/metrics"
	"CarteraDash/internal/notification"
	"CarteraDash/internal/store"
)

const (
	KindMaestro = "maestro"
	KindPagos   = "pagos"
)

// Ledger persists finished runs. *store.Store satisfies it.
type Ledger interface {
	RecordRun(ctx context.Context, r store.Run) error
	ArchiveMaster(ctx context.Context, runID string, master *extract.Table) (int64, error)
}

// Publisher fans run events out to live dashboards.
type Publisher interface {
	Broadcast(eventType string, payload map[string]interface{})
}

// Refresher re-reads tracked file timestamps once a run has rewritten them.
type Refresher interface {
	Refresh()
}

// Outcome is the result of one consolidation as every trigger (HTTP, cron, watcher)
// reports it.
type Outcome struct {
	RunID    string        `json:"run_id"`
	Kind     string        `json:"kind"`
	OK       bool          `json:"ok"`
	Message  string        `json:"message"`
	Files    int           `json:"files"`
	Records  int           `json:"records"`
	Started  time.Time     `json:"started_at"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Runner executes the consolidations one at a time and reports each run to the
// optional ledger, event stream, notification list and metrics.
type Runner struct {
	Maestro   *maestro.Processor
	Pagos     *pagos.Processor
	Ledger    Ledger
	Events    Publisher
	Notes     *notification.NotificationService
	Resources Refresher
	Now       func() time.Time

	mu sync.Mutex
}

func NewRunner(paths config.Paths, loc *time.Location) *Runner {
	return &Runner{
		Maestro: maestro.NewProcessor(paths, loc),
		Pagos:   pagos.NewProcessor(paths),
		Notes:   notification.NewNotificationService(notification.DefaultCapacity),
		Now:     time.Now,
	}
}

func (r *Runner) RunMaestro(ctx context.Context) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runMaestro(ctx)
}

func (r *Runner) RunPagos(ctx context.Context) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runPagos(ctx)
}

// RunAll consolidates payments and then the master, without letting another run in
// between.
func (r *Runner) RunAll(ctx context.Context) []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return []Outcome{r.runPagos(ctx), r.runMaestro(ctx)}
}

func (r *Runner) runMaestro(ctx context.Context) Outcome {
	var master *extract.Table
	out := r.track(ctx, KindMaestro, func(ctx context.Context, o *Outcome) error {
		res, err := r.Maestro.Consolidate(ctx)
		o.Message = res.Message
		o.Files = res.Stats.Files
		o.Records = res.Stats.Records
		master = res.Table
		return err
	})
	if out.OK && r.Ledger != nil && master != nil {
		n, err := r.Ledger.ArchiveMaster(context.WithoutCancel(ctx), out.RunID, master)
		if err != nil && !errors.Is(err, store.ErrNoPool) {
			logger.L().Warnw("master snapshot archive failed", "run_id", out.RunID, "error", err)
		} else if err == nil {
			logger.L().Infow("master snapshot archived", "run_id", out.RunID, "rows", n)
		}
	}
	return out
}

func (r *Runner) runPagos(ctx context.Context) Outcome {
	return r.track(ctx, KindPagos, func(ctx context.Context, o *Outcome) error {
		res, err := r.Pagos.Consolidate(ctx)
		o.Message = res.Message
		o.Files = res.Files
		o.Records = res.Records
		return err
	})
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// track wraps fn with the bookkeeping every run shares.
func (r *Runner) track(ctx context.Context, kind string, fn func(context.Context, *Outcome) error) Outcome {
	out := Outcome{RunID: store.NewRunID(), Kind: kind, Started: r.now()}
	r.publish(constants.EventRunStarted, out)
	logger.L().Infow("run started", "kind", kind, "run_id", out.RunID)

	err := fn(ctx, &out)
	out.Duration = r.now().Sub(out.Started)
	out.OK = err == nil
	out.Err = err
	if err != nil && out.Message == "" {
		out.Message = err.Error()
	}

	status := store.StatusOK
	if err != nil {
		status = store.StatusError
		logger.L().Errorw("run failed", "kind", kind, "run_id", out.RunID, "error", err)
	} else {
		logger.Audit("%s run %s: %s", kind, out.RunID, out.Message)
	}
	metrics.ObserveRun(kind, status, out.Duration, out.Records)

	if r.Ledger != nil {
		rec := store.Run{
			ID: out.RunID, Kind: kind, StartedAt: out.Started, FinishedAt: out.Started.Add(out.Duration),
			Files: out.Files, Records: out.Records, Status: status, Message: out.Message,
		}
		if lerr := r.Ledger.RecordRun(context.WithoutCancel(ctx), rec); lerr != nil {
			logger.L().Warnw("run not recorded", "run_id", out.RunID, "error", lerr)
		}
	}
	if r.Notes != nil {
		r.Notes.AddNotification(notification.Notification{
			Time: out.Started, Kind: kind, Message: out.Message, OK: out.OK,
		})
	}
	if r.Resources != nil {
		r.Resources.Refresh()
	}
	r.publish(constants.EventRunFinished, out)
	return out
}

func (r *Runner) publish(event string, o Outcome) {
	if r.Events == nil {
		return
	}
	payload := map[string]interface{}{"kind": o.Kind, "run_id": o.RunID}
	if event == constants.EventRunFinished {
		payload["ok"] = o.OK
		payload["message"] = o.Message
		payload["records"] = o.Records
	}
	r.Events.Broadcast(event, payload)
}
