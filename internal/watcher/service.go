package watcher

import (
	"context"

	"CarteraDash/internal/config"
	"CarteraDash/internal/extract"
	"CarteraDash/internal/jobs"
	"CarteraDash/internal/serviceiface"
)

// WatcherService reruns the consolidations when files land in the upload folders.
type WatcherService struct {
	config  map[string]interface{}
	watcher *FolderWatcher
}

func NewWatcherService(cfg map[string]interface{}, paths config.Paths, runner *jobs.Runner) serviceiface.Service {
	debounce := config.ToDuration(cfg["debounce"], config.DefaultWatchDebounce)
	return &WatcherService{
		config: cfg,
		watcher: New(debounce,
			Target{
				Kind: jobs.KindMaestro,
				Dir:  paths.Snapshots(),
				Exts: extract.SupportedSnapshot,
				Run:  func(ctx context.Context) { runner.RunMaestro(ctx) },
			},
			Target{
				Kind: jobs.KindPagos,
				Dir:  paths.Payments(),
				Exts: []string{".csv"},
				Run:  func(ctx context.Context) { runner.RunPagos(ctx) },
			},
		),
	}
}

func (s *WatcherService) Name() string {
	return "watcher"
}

func (s *WatcherService) Start() error {
	return s.watcher.Start(context.Background())
}

func (s *WatcherService) Stop() error {
	s.watcher.Stop()
	return nil
}
