package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"CarteraDash/internal/config"
	"CarteraDash/internal/extract"
	"CarteraDash/internal/logger"
)

// Target is one watched folder and the consolidation its changes trigger.
type Target struct {
	Kind string
	Dir  string
	Exts []string
	Run  func(ctx context.Context)
}

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Triggered     int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// FolderWatcher runs a consolidation once a watched folder has been quiet for the
// debounce window after a create or write of a supported file.
type FolderWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	targets     []Target
	pending     map[int]time.Time
	debounceDur time.Duration
	tick        time.Duration
	cancel      context.CancelFunc
	doneCh      chan struct{}
	running     bool

	stats Stats
}

func New(debounce time.Duration, targets ...Target) *FolderWatcher {
	if debounce <= 0 {
		debounce = config.DefaultWatchDebounce
	}
	tick := debounce / 4
	if tick > 250*time.Millisecond {
		tick = 250 * time.Millisecond
	}
	return &FolderWatcher{
		targets:     targets,
		pending:     make(map[int]time.Time),
		debounceDur: debounce,
		tick:        tick,
	}
}

// Start begins watching. It does not block.
func (fw *FolderWatcher) Start(ctx context.Context) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.running {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, t := range fw.targets {
		if err := os.MkdirAll(t.Dir, 0755); err != nil {
			logger.L().Warnw("watch folder not created", "dir", t.Dir, "error", err)
		}
		if err := w.Add(t.Dir); err != nil {
			w.Close()
			return err
		}
		logger.L().Infow("watching folder", "kind", t.Kind, "dir", t.Dir)
	}
	ctx, cancel := context.WithCancel(ctx)
	fw.watcher = w
	fw.cancel = cancel
	fw.doneCh = make(chan struct{})
	fw.running = true
	go fw.run(ctx)
	return nil
}

// Stop ends the event loop, waits for an in-flight consolidation, and closes the watcher.
func (fw *FolderWatcher) Stop() {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return
	}
	fw.running = false
	fw.cancel()
	done := fw.doneCh
	fw.mu.Unlock()

	<-done
	if err := fw.watcher.Close(); err != nil {
		logger.L().Errorw("closing watcher", "error", err)
	}
}

func (fw *FolderWatcher) Stats() Stats {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.stats
}

func (fw *FolderWatcher) run(ctx context.Context) {
	defer close(fw.doneCh)
	ticker := time.NewTicker(fw.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logger.L().Errorw("watcher error", "error", err)
			fw.mu.Lock()
			fw.stats.Errors++
			fw.mu.Unlock()
		case <-ticker.C:
			fw.processDebounced(ctx)
		}
	}
}

func (fw *FolderWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") {
		return
	}
	dir := filepath.Clean(filepath.Dir(event.Name))
	for i, t := range fw.targets {
		if filepath.Clean(t.Dir) != dir || !extract.IsSupported(name, t.Exts...) {
			continue
		}
		fw.mu.Lock()
		fw.pending[i] = time.Now()
		fw.stats.Events++
		fw.stats.LastEventTime = time.Now()
		fw.stats.LastEventPath = event.Name
		fw.mu.Unlock()
		logger.L().Debugw("watched file changed", "kind", t.Kind, "file", name, "op", event.Op.String())
	}
}

func (fw *FolderWatcher) processDebounced(ctx context.Context) {
	fw.mu.Lock()
	now := time.Now()
	var due []int
	for i, at := range fw.pending {
		if now.Sub(at) >= fw.debounceDur {
			due = append(due, i)
			delete(fw.pending, i)
		}
	}
	fw.stats.Triggered += len(due)
	fw.mu.Unlock()
	sort.Ints(due)

	for _, i := range due {
		t := fw.targets[i]
		logger.L().Infow("folder settled, running consolidation", "kind", t.Kind)
		t.Run(ctx)
	}
}
