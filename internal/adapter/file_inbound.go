package adapter

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"hie/internal/apperror"
	"hie/internal/logging"
)

// extensionContentTypes infers a message's content type from the file
// extension it arrived with.
var extensionContentTypes = map[string]string{
	".hl7":   "x-application/hl7-v2+er7",
	".hl7v2": "x-application/hl7-v2+er7",
	".txt":   "text/plain",
	".csv":   "text/csv",
	".json":  "application/json",
	".xml":   "application/xml",
	".fhir":  "application/fhir+json",
}

const defaultContentType = "application/octet-stream"

func contentTypeForPath(path string) string {
	if ct, ok := extensionContentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return defaultContentType
}

// FileInboundConfig configures a FileInbound adapter.
type FileInboundConfig struct {
	WatchDirectory string
	Patterns       []string
	PollInterval   time.Duration
	MoveTo         string
	DeleteAfter    bool
	Recursive      bool
}

// DefaultFileInboundConfig returns the spec's defaults for unset fields.
func DefaultFileInboundConfig() FileInboundConfig {
	return FileInboundConfig{
		Patterns:     []string{"*"},
		PollInterval: time.Second,
	}
}

// FileInbound watches a directory for incoming files. New files are
// picked up two ways: an fsnotify watch for prompt delivery, and a
// PollInterval rescan as a fallback for filesystems (network mounts,
// some container overlays) where fsnotify events are unreliable.
type FileInbound struct {
	name string
	cfg  FileInboundConfig

	mu       sync.Mutex
	state    State
	watcher  *fsnotify.Watcher
	shutdown chan struct{}
	wg       sync.WaitGroup

	inFlightMu sync.Mutex
	inFlight   map[string]struct{}

	metrics Metrics
}

// NewFileInbound creates a file-watching inbound adapter named name.
func NewFileInbound(name string, cfg FileInboundConfig) *FileInbound {
	if len(cfg.Patterns) == 0 {
		cfg.Patterns = []string{"*"}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &FileInbound{
		name:     name,
		cfg:      cfg,
		inFlight: make(map[string]struct{}),
	}
}

func (a *FileInbound) State() State { return State(atomic.LoadInt32((*int32)(&a.state))) }

func (a *FileInbound) Metrics() Snapshot { return a.metrics.Snapshot() }

// Start validates the watch directory, processes any files already
// present (in filename order), then begins watching for new arrivals.
func (a *FileInbound) Start(ctx context.Context, handler DataHandler) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	info, err := os.Stat(a.cfg.WatchDirectory)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeNotFound, "watch directory not found")
	}
	if !info.IsDir() {
		return apperror.New(apperror.CodeInternal, fmt.Sprintf("watch path is not a directory: %s", a.cfg.WatchDirectory))
	}

	if a.cfg.MoveTo != "" {
		if err := os.MkdirAll(a.cfg.MoveTo, 0o755); err != nil {
			return apperror.Wrap(err, apperror.CodeInternal, "failed to create move_to directory")
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to create file watcher")
	}
	if err := a.addWatchDirs(watcher); err != nil {
		_ = watcher.Close()
		return apperror.Wrap(err, apperror.CodeInternal, "failed to watch directory")
	}

	a.watcher = watcher
	a.shutdown = make(chan struct{})
	a.state = StateStarted

	a.processExisting(handler)

	a.wg.Add(2)
	go a.watchLoop(handler)
	go a.pollLoop(handler)

	logging.Log.Info("file inbound adapter started", "adapter", a.name, "dir", a.cfg.WatchDirectory)
	return nil
}

func (a *FileInbound) addWatchDirs(watcher *fsnotify.Watcher) error {
	if !a.cfg.Recursive {
		return watcher.Add(a.cfg.WatchDirectory)
	}
	return filepath.WalkDir(a.cfg.WatchDirectory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return watcher.Add(path)
	})
}

// processExisting scans the watch directory for files matching the
// configured patterns and processes them in filename order.
func (a *FileInbound) processExisting(handler DataHandler) {
	var matches []string
	seen := make(map[string]struct{})

	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if a.matchesPatterns(path) {
			if _, ok := seen[path]; !ok {
				seen[path] = struct{}{}
				matches = append(matches, path)
			}
		}
		return nil
	}

	if a.cfg.Recursive {
		_ = filepath.WalkDir(a.cfg.WatchDirectory, walk)
	} else {
		entries, err := os.ReadDir(a.cfg.WatchDirectory)
		if err == nil {
			for _, e := range entries {
				_ = walk(filepath.Join(a.cfg.WatchDirectory, e.Name()), e, nil)
			}
		}
	}

	sort.Strings(matches)
	for _, path := range matches {
		a.processFile(path, handler)
	}
}

func (a *FileInbound) matchesPatterns(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range a.cfg.Patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

func (a *FileInbound) watchLoop(handler DataHandler) {
	defer a.wg.Done()
	for {
		select {
		case <-a.shutdown:
			return
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if a.cfg.Recursive {
					_ = a.watcher.Add(event.Name)
				}
				continue
			}
			if a.matchesPatterns(event.Name) {
				a.processFile(event.Name, handler)
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			logging.Log.Warn("file watch error", "adapter", a.name, "error", err)
			a.metrics.ErrorsTotal.Add(1)
		}
	}
}

func (a *FileInbound) pollLoop(handler DataHandler) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.shutdown:
			return
		case <-ticker.C:
			a.processExisting(handler)
		}
	}
}

// processFile reads and submits a single file, suppressing duplicate
// concurrent events for the same path.
func (a *FileInbound) processFile(path string, handler DataHandler) {
	a.inFlightMu.Lock()
	if _, busy := a.inFlight[path]; busy {
		a.inFlightMu.Unlock()
		return
	}
	a.inFlight[path] = struct{}{}
	a.inFlightMu.Unlock()
	defer func() {
		a.inFlightMu.Lock()
		delete(a.inFlight, path)
		a.inFlightMu.Unlock()
	}()

	time.Sleep(100 * time.Millisecond) // grace window for the writer to finish

	if _, err := os.Stat(path); err != nil {
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		logging.Log.Error("file read failed", "adapter", a.name, "path", path, "error", err)
		a.metrics.ErrorsTotal.Add(1)
		return
	}
	if len(content) == 0 {
		logging.Log.Warn("empty file skipped", "adapter", a.name, "path", path)
		return
	}

	a.metrics.BytesReceived.Add(int64(len(content)))

	_, err = handler(context.Background(), content)
	if err != nil {
		logging.Log.Error("file message processing failed", "adapter", a.name, "path", path, "error", err)
		a.metrics.ErrorsTotal.Add(1)
		return
	}

	logging.Log.Info("file received", "adapter", a.name, "path", path, "size", len(content), "content_type", contentTypeForPath(path))
	a.handleProcessed(path)
}

func (a *FileInbound) handleProcessed(path string) {
	switch {
	case a.cfg.MoveTo != "":
		dest := filepath.Join(a.cfg.MoveTo, filepath.Base(path))
		if _, err := os.Stat(dest); err == nil {
			ext := filepath.Ext(path)
			stem := strings.TrimSuffix(filepath.Base(path), ext)
			dest = filepath.Join(a.cfg.MoveTo, fmt.Sprintf("%s_%s%s", stem, time.Now().UTC().Format("20060102_150405.000000"), ext))
		}
		if err := os.Rename(path, dest); err != nil {
			logging.Log.Error("file move failed", "adapter", a.name, "path", path, "error", err)
		}
	case a.cfg.DeleteAfter:
		if err := os.Remove(path); err != nil {
			logging.Log.Error("file delete failed", "adapter", a.name, "path", path, "error", err)
		}
	}
}

// Stop signals the watch and poll loops to exit and waits for them.
func (a *FileInbound) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateStarted {
		a.mu.Unlock()
		return nil
	}
	close(a.shutdown)
	_ = a.watcher.Close()
	a.state = StateStopped
	a.mu.Unlock()

	a.wg.Wait()
	logging.Log.Info("file inbound adapter stopped", "adapter", a.name)
	return nil
}

var _ Inbound = (*FileInbound)(nil)
