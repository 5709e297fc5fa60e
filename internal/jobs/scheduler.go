package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"CarteraDash/internal/config"
	"CarteraDash/internal/logger"
	"CarteraDash/internal/serviceiface"
)

// CronConfig holds the schedules of the unattended consolidations.
type CronConfig struct {
	MaestroSchedule string
	PagosSchedule   string
	TimeZone        string
	Timeout         time.Duration
}

func NewDefaultCronConfig() CronConfig {
	return CronConfig{
		MaestroSchedule: config.DefaultMaestroSchedule,
		PagosSchedule:   config.DefaultPagosSchedule,
		TimeZone:        config.DefaultTimeZone,
		Timeout:         10 * time.Minute,
	}
}

// CronConfigFrom overrides the defaults with the services.yaml keys maestro_schedule,
// pagos_schedule, timezone and timeout. An empty schedule disables that job.
func CronConfigFrom(cfg map[string]interface{}) CronConfig {
	c := NewDefaultCronConfig()
	if cfg == nil {
		return c
	}
	if v, ok := cfg["maestro_schedule"]; ok {
		c.MaestroSchedule = config.ToString(v)
	}
	if v, ok := cfg["pagos_schedule"]; ok {
		c.PagosSchedule = config.ToString(v)
	}
	c.TimeZone = config.Section(cfg, "timezone", c.TimeZone)
	c.Timeout = config.ToDuration(cfg["timeout"], c.Timeout)
	return c
}

type CronService struct {
	config CronConfig
	runner *Runner
	cron   *cron.Cron
}

func NewCronService(cfg map[string]interface{}, runner *Runner) serviceiface.Service {
	return &CronService{
		config: CronConfigFrom(cfg),
		runner: runner,
	}
}

func (s *CronService) Name() string {
	return "cron"
}

func (s *CronService) Start() error {
	loc := config.Location(s.config.TimeZone)
	c := cron.New(cron.WithLocation(loc))

	jobs := []struct {
		kind     string
		schedule string
		run      func(context.Context) Outcome
	}{
		{KindPagos, s.config.PagosSchedule, s.runner.RunPagos},
		{KindMaestro, s.config.MaestroSchedule, s.runner.RunMaestro},
	}
	for _, j := range jobs {
		if j.schedule == "" {
			logger.L().Infow("cron job disabled", "kind", j.kind)
			continue
		}
		j := j
		if _, err := c.AddFunc(j.schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
			defer cancel()
			out := j.run(ctx)
			logger.L().Infow("scheduled run finished", "kind", j.kind, "ok", out.OK, "message", out.Message)
		}); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", j.kind, j.schedule, err)
		}
		logger.Audit("%s consolidation scheduled: %s (%s)", j.kind, j.schedule, loc)
	}

	c.Start()
	s.cron = c
	return nil
}

func (s *CronService) Stop() error {
	if s.cron == nil {
		return nil
	}
	<-s.cron.Stop().Done()
	logger.L().Info("cron service stopped")
	return nil
}

// Entries exposes the registered jobs, mostly for diagnostics.
func (s *CronService) Entries() []cron.Entry {
	if s.cron == nil {
		return nil
	}
	return s.cron.Entries()
}
