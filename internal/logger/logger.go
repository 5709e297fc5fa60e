package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"CarteraDash/internal/config"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerService owns the application log file. Records go through zap: JSON lines to a
// size-rotated file and a console copy to stderr. Old files are zipped after retention_days.
type LoggerService struct {
	Config        map[string]interface{}
	file          *os.File
	mu            sync.Mutex
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	currentLog    string
	openedOn      time.Time
	seq           int
	maxFileBytes  int64
	retentionDays int
	folderPath    string
	level         zapcore.Level
	console       bool
	now           func() time.Time

	zl    *zap.Logger
	sugar *zap.SugaredLogger
}

func NewLoggerService(cfg map[string]interface{}) *LoggerService {
	maxMB := config.ToInt(cfg["max_file_mb"])
	retention := config.ToInt(cfg["retention_days"])
	folder := config.Section(cfg, "folder_path", "./logs")

	level := zapcore.InfoLevel
	if lv := config.Section(cfg, "level", ""); lv != "" {
		if parsed, err := zapcore.ParseLevel(lv); err == nil {
			level = parsed
		}
	}
	console := true
	if v, ok := cfg["console"].(bool); ok {
		console = v
	}

	return &LoggerService{
		Config:        cfg,
		stopCh:        make(chan struct{}),
		maxFileBytes:  int64(maxMB) * 1024 * 1024,
		retentionDays: retention,
		folderPath:    folder,
		level:         level,
		console:       console,
		now:           time.Now,
	}
}

func (l *LoggerService) Name() string {
	return "logger"
}

func (l *LoggerService) Start() error {
	if err := os.MkdirAll(l.folderPath, 0755); err != nil {
		return err
	}
	l.mu.Lock()
	logFile := l.nextLogFileName()
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	l.file = file
	l.currentLog = logFile
	l.openedOn = l.now()
	l.mu.Unlock()

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(l), l.level),
	}
	if l.console {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), l.level))
	}
	l.zl = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	l.sugar = l.zl.Sugar()
	current.Store(l.sugar)

	L().Infow("logger started", "file", logFile)

	// background goroutine for rotation and retention
	l.wg.Add(1)
	go l.backgroundWorker()

	return nil
}

// Stop flushes and closes the log file. Calls after the first are no-ops.
func (l *LoggerService) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.wg.Wait()
		if l.zl != nil {
			L().Info("logger stopping")
			_ = l.zl.Sync()
			current.CompareAndSwap(l.sugar, nil)
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.file != nil {
			err = l.file.Close()
			l.file = nil
		}
	})
	return err
}

// Write lets zap write into whichever file is current after rotation.
func (l *LoggerService) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return len(p), nil
	}
	return l.file.Write(p)
}

// nextLogFileName must be called with mu held.
func (l *LoggerService) nextLogFileName() string {
	l.seq++
	timestamp := l.now().Format("20060102_150405")
	return filepath.Join(l.folderPath, fmt.Sprintf("cartera_%s_%03d.log", timestamp, l.seq))
}

// rotateIfNeeded starts a new file when the current one reaches max_file_mb or was
// opened on an earlier day.
func (l *LoggerService) rotateIfNeeded() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	now := l.now()
	rotate := !sameDay(l.openedOn, now)
	if !rotate && l.maxFileBytes > 0 {
		info, err := l.file.Stat()
		if err != nil {
			return err
		}
		rotate = info.Size() >= l.maxFileBytes
	}
	if !rotate {
		return nil
	}
	newLog := l.nextLogFileName()
	file, err := os.OpenFile(newLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file.Close()
	l.file = file
	l.currentLog = newLog
	l.openedOn = now
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// CurrentFile returns the path of the file being written.
func (l *LoggerService) CurrentFile() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentLog
}

func (l *LoggerService) backgroundWorker() {
	defer l.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	retentionTicker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	defer retentionTicker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			if err := l.rotateIfNeeded(); err != nil {
				fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
			}
		case <-retentionTicker.C:
			l.zipAndCleanOldLogs()
		}
	}
}

// zipAndCleanOldLogs moves .log files older than retention_days into logs_<date>.zip.
// It returns the archive path, or "" when nothing was old enough.
func (l *LoggerService) zipAndCleanOldLogs() string {
	if l.retentionDays <= 0 {
		return ""
	}
	now := l.now()
	cutoff := now.AddDate(0, 0, -l.retentionDays)
	files, err := os.ReadDir(l.folderPath)
	if err != nil {
		return ""
	}
	current := l.CurrentFile()

	var old []string
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".log" {
			continue
		}
		fullPath := filepath.Join(l.folderPath, f.Name())
		if fullPath == current {
			continue
		}
		info, err := os.Stat(fullPath)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		old = append(old, f.Name())
	}
	if len(old) == 0 {
		return ""
	}

	zipName := filepath.Join(l.folderPath, fmt.Sprintf("logs_%s.zip", now.Format("20060102")))
	for n := 2; fileExists(zipName); n++ {
		zipName = filepath.Join(l.folderPath, fmt.Sprintf("logs_%s_%d.zip", now.Format("20060102"), n))
	}
	zipFile, err := os.Create(zipName)
	if err != nil {
		return ""
	}
	defer zipFile.Close()
	zipWriter := zip.NewWriter(zipFile)
	defer zipWriter.Close()

	for _, name := range old {
		fullPath := filepath.Join(l.folderPath, name)
		w, err := zipWriter.Create(name)
		if err != nil {
			continue
		}
		src, err := os.Open(fullPath)
		if err != nil {
			continue
		}
		_, copyErr := io.Copy(w, src)
		src.Close()
		if copyErr == nil {
			os.Remove(fullPath)
		}
	}
	return zipName
}

// LogAudit records an audit line (uploads, consolidation runs).
func (l *LoggerService) LogAudit(msg string) {
	L().Infow(msg, "audit", true)
}

var GlobalLogger *LoggerService

func SetGlobalLogger(l *LoggerService) {
	GlobalLogger = l
}

var (
	current      atomic.Pointer[zap.SugaredLogger]
	fallbackOnce sync.Once
	fallback     *zap.SugaredLogger
)

// L returns the running logger, or a stderr console logger when the service is not started
// (CLI runs, tests).
func L() *zap.SugaredLogger {
	if s := current.Load(); s != nil {
		return s
	}
	fallbackOnce.Do(func() {
		encCfg := zap.NewDevelopmentEncoderConfig()
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), zapcore.InfoLevel)
		fallback = zap.New(core).Sugar()
	})
	return fallback
}

// Audit is the package level shortcut for GlobalLogger.LogAudit.
func Audit(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if GlobalLogger != nil {
		GlobalLogger.LogAudit(msg)
		return
	}
	L().Infow(msg, "audit", true)
}
