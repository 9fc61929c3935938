package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// extToType lists the source files the loader understands.
var extToType = map[string]string{
	".geojson":    "GeoJSON",
	".json":       "GeoJSON",
	".csv":        "CSV",
	".parquet":    "GeoParquet",
	".geoparquet": "GeoParquet",
}

// SourceService manages the files layers can be loaded from.
type SourceService struct {
	sourcesDir string
	log        *zap.Logger
}

// NewSourceService creates a source service for <dataDir>/sources.
func NewSourceService(dataDir string, log *zap.Logger) *SourceService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SourceService{
		sourcesDir: filepath.Join(dataDir, "sources"),
		log:        log,
	}
}

// List returns all supported source files.
func (s *SourceService) List() ([]SourceFile, error) {
	entries, err := os.ReadDir(s.sourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SourceFile{}, nil
		}
		return nil, err
	}

	files := []SourceFile{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		fileType, ok := extToType[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, SourceFile{
			Name:     entry.Name(),
			Size:     formatSize(info.Size()),
			FileType: fileType,
		})
	}

	return files, nil
}

// SourcesDir returns the path to the sources directory.
func (s *SourceService) SourcesDir() string {
	return s.sourcesDir
}

// Path resolves a file name inside the sources directory. Names that would
// escape it are rejected.
func (s *SourceService) Path(name string) (string, error) {
	return sourcePath(s.sourcesDir, name)
}

func sourcePath(dir, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") || !filepath.IsLocal(name) {
		return "", fmt.Errorf("invalid source file name %q", name)
	}
	return filepath.Join(dir, name), nil
}

// Watch calls fn with the file name each time a source file is written,
// created or renamed, coalescing bursts of events per file. It blocks until
// ctx is done.
func (s *SourceService) Watch(ctx context.Context, fn func(name string)) error {
	if err := os.MkdirAll(s.sourcesDir, 0755); err != nil {
		return fmt.Errorf("ensure sources dir: %w", err)
	}
	isSource := func(name string) bool {
		_, ok := extToType[strings.ToLower(filepath.Ext(name))]
		return ok
	}
	return WatchDir(ctx, s.sourcesDir, isSource, fn, s.log)
}

// WatchDir calls fn with the base name of every file in dir accepted by
// accept that is written, created or renamed. Bursts of events for one file
// are coalesced. It blocks until ctx is done.
func WatchDir(ctx context.Context, dir string, accept func(name string) bool, fn func(name string), log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	t := newThrottle(100*time.Millisecond, fn)
	defer t.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", zap.String("dir", dir), zap.Error(err))
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(evt.Name)
			if !accept(name) {
				continue
			}
			t.enqueue(name)
		}
	}
}

// throttle calls fn once per name after the name has been quiet for delay.
type throttle struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func(string)
	timers  map[string]*time.Timer
	stopped bool
}

func newThrottle(delay time.Duration, fn func(string)) *throttle {
	return &throttle{delay: delay, fn: fn, timers: make(map[string]*time.Timer)}
}

func (t *throttle) enqueue(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if timer, ok := t.timers[name]; ok {
		timer.Reset(t.delay)
		return
	}
	t.timers[name] = time.AfterFunc(t.delay, func() {
		t.mu.Lock()
		delete(t.timers, name)
		stopped := t.stopped
		t.mu.Unlock()
		if !stopped {
			t.fn(name)
		}
	})
}

func (t *throttle) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for name, timer := range t.timers {
		timer.Stop()
		delete(t.timers, name)
	}
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
