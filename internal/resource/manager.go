package resource

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"CarteraDash/api/constants"
	"CarteraDash/internal/config"
	"CarteraDash/internal/extract"
	"CarteraDash/internal/logger"
	"CarteraDash/internal/serviceiface"
)

// FileState is the last observed state of a tracked source file.
type FileState struct {
	Path    string    `json:"path"`
	Exists  bool      `json:"exists"`
	ModTime time.Time `json:"mod_time"`
}

type folder struct {
	dir    string
	exts   []string
	latest string
}

// ResourceManager keeps the modification times of the dashboard source files and the
// newest file of each upload folder. The heartbeat refreshes them in the background.
type ResourceManager struct {
	files             map[string]*FileState
	folders           map[string]*folder
	mu                sync.RWMutex
	stopChan          chan struct{}
	wg                sync.WaitGroup
	heartbeatInterval time.Duration
	location          *time.Location
	started           bool
}

func NewResourceManagerService(cfg map[string]interface{}) serviceiface.Service {
	return NewResourceManager(
		config.ToDuration(cfg["heartbeat_interval"], config.DefaultHeartbeatInterval),
		config.Location(config.Section(cfg, "timezone", "")),
	)
}

func NewResourceManager(interval time.Duration, loc *time.Location) *ResourceManager {
	if interval <= 0 {
		interval = config.DefaultHeartbeatInterval
	}
	if loc == nil {
		loc = time.Local
	}
	return &ResourceManager{
		files:             make(map[string]*FileState),
		folders:           make(map[string]*folder),
		stopChan:          make(chan struct{}),
		heartbeatInterval: interval,
		location:          loc,
	}
}

func (rm *ResourceManager) Name() string { return "resourcemanager" }

func (rm *ResourceManager) Start() error {
	rm.mu.Lock()
	rm.started = true
	rm.mu.Unlock()
	logger.Audit("ResourceManager started, heartbeat every %s", rm.heartbeatInterval)
	rm.wg.Add(1)
	go rm.heartbeatLoop()
	return nil
}

func (rm *ResourceManager) Stop() error {
	rm.mu.Lock()
	started := rm.started
	rm.started = false
	rm.mu.Unlock()
	if started {
		close(rm.stopChan)
		rm.wg.Wait()
	}
	return nil
}

func (rm *ResourceManager) heartbeatLoop() {
	defer rm.wg.Done()
	ticker := time.NewTicker(rm.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rm.stopChan:
			return
		case <-ticker.C:
			rm.Refresh()
			logger.L().Debugw("heartbeat", "files", len(rm.ListResources()))
		}
	}
}

// Track registers a source file under key and reads its state right away.
func (rm *ResourceManager) Track(key, path string) {
	st := stat(path)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.files[key] = &st
}

// TrackFolder registers an upload folder whose newest file matching exts is reported.
func (rm *ResourceManager) TrackFolder(key, dir string, exts ...string) {
	f := &folder{dir: dir, exts: exts}
	f.latest = latestIn(dir, exts)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.folders[key] = f
}

// Refresh re-reads every tracked file and folder.
func (rm *ResourceManager) Refresh() {
	rm.mu.RLock()
	paths := make(map[string]string, len(rm.files))
	for k, st := range rm.files {
		paths[k] = st.Path
	}
	dirs := make(map[string]folder, len(rm.folders))
	for k, f := range rm.folders {
		dirs[k] = *f
	}
	rm.mu.RUnlock()

	states := make(map[string]FileState, len(paths))
	for k, p := range paths {
		states[k] = stat(p)
	}
	latest := make(map[string]string, len(dirs))
	for k, f := range dirs {
		latest[k] = latestIn(f.dir, f.exts)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	for k, st := range states {
		if cur, ok := rm.files[k]; ok && cur.Path == st.Path {
			*cur = st
		}
	}
	for k, name := range latest {
		if f, ok := rm.folders[k]; ok {
			f.latest = name
		}
	}
}

func (rm *ResourceManager) GetResource(key string) (FileState, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	st, ok := rm.files[key]
	if !ok {
		return FileState{}, false
	}
	return *st, true
}

// FileStamp renders the modification time of key as "02/01/2006 03:04 PM", or
// "Archivo no encontrado".
func (rm *ResourceManager) FileStamp(key string) string {
	st, ok := rm.GetResource(key)
	if !ok || !st.Exists {
		return constants.MsgFileNotFound
	}
	return st.ModTime.In(rm.location).Format(constants.FileStampFormat)
}

// LatestFile returns the newest file name of a tracked folder, or "Sin archivos".
func (rm *ResourceManager) LatestFile(key string) string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	f, ok := rm.folders[key]
	if !ok || f.latest == "" {
		return constants.MsgNoFiles
	}
	return f.latest
}

func (rm *ResourceManager) RemoveResource(key string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.files, key)
	delete(rm.folders, key)
}

func (rm *ResourceManager) ListResources() []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	keys := make([]string, 0, len(rm.files)+len(rm.folders))
	for key := range rm.files {
		keys = append(keys, key)
	}
	for key := range rm.folders {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func stat(path string) FileState {
	st := FileState{Path: path}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		st.Exists = true
		st.ModTime = info.ModTime()
	}
	return st
}

// latestIn returns the most recently modified matching file of dir, "" when none.
func latestIn(dir string, exts []string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var (
		best     string
		bestTime time.Time
	)
	for _, e := range entries {
		if e.IsDir() || (len(exts) > 0 && !extract.IsSupported(e.Name(), exts...)) {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best, bestTime = e.Name(), info.ModTime()
		}
	}
	return best
}
