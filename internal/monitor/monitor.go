// Package monitor watches registered sources for changes and enqueues
// re-indexing. Local sources are observed through file-system events;
// remote sources are polled on an interval.
package monitor

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quarry-ai/quarry/internal/registry"
	"github.com/quarry-ai/quarry/internal/source"
)

// Enqueuer receives sources that need re-indexing.
type Enqueuer interface {
	Enqueue(sourceID string)
}

// Options configures a Monitor.
type Options struct {
	Registry *registry.Registry
	Queue    Enqueuer
	// Debounce is the quiet period after the last event before a local
	// source is enqueued. Defaults to 2s.
	Debounce time.Duration
	// PollInterval is how often remote sources are enqueued for a
	// fingerprint check. Defaults to 15m.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Monitor drives change detection for all sources with monitoring
// enabled at the time Run starts.
type Monitor struct {
	registry     *registry.Registry
	queue        Enqueuer
	debounce     time.Duration
	pollInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	// watched maps a filesystem root to the source it belongs to.
	// Roots never nest: they come from distinct registered sources.
	watched map[string]source.KnowledgeSource
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Monitor{
		registry:     opts.Registry,
		queue:        opts.Queue,
		debounce:     opts.Debounce,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger,
		timers:       make(map[string]*time.Timer),
		watched:      make(map[string]source.KnowledgeSource),
	}
}

// Run blocks until the context is canceled, dispatching change events
// to the queue. A source whose watch cannot be established has
// monitoring disabled and its status set to error in the catalog
// rather than failing the whole monitor.
func (m *Monitor) Run(ctx context.Context) error {
	sources, err := m.registry.List(ctx)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	defer m.stopTimers()

	var remote []string
	for _, src := range sources {
		if !src.Monitoring {
			continue
		}
		if src.Kind.Remote() {
			remote = append(remote, src.ID)
			continue
		}
		if err := m.watchLocal(watcher, src); err != nil {
			m.logger.Warn("watch failed, disabling monitoring",
				"source_id", src.ID, "locator", src.Locator, "error", err)
			if derr := m.registry.SetMonitoring(ctx, src.ID, false); derr != nil {
				m.logger.Warn("monitoring update failed", "source_id", src.ID, "error", derr)
			}
			if derr := m.registry.SetStatus(ctx, src.ID, source.StatusError, err.Error()); derr != nil {
				m.logger.Warn("status update failed", "source_id", src.ID, "error", derr)
			}
		}
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.logger.Info("monitor started",
		"local", len(m.watched), "remote", len(remote),
		"debounce", m.debounce, "poll_interval", m.pollInterval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			m.handleEvent(watcher, ev)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("watcher error", "error", err)

		case <-ticker.C:
			for _, id := range remote {
				m.queue.Enqueue(id)
			}
		}
	}
}

// watchLocal registers filesystem watches for one local source. Folder
// sources are watched recursively; file sources watch the parent
// directory because editors typically replace files on save.
func (m *Monitor) watchLocal(watcher *fsnotify.Watcher, src source.KnowledgeSource) error {
	root := src.Locator
	if src.Kind == source.KindLocalFile {
		if err := watcher.Add(filepath.Dir(root)); err != nil {
			return err
		}
		m.watched[root] = src
		return nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); path != root && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		return err
	}
	m.watched[root] = src
	return nil
}

func (m *Monitor) handleEvent(watcher *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}

	src, rel, ok := m.resolve(ev.Name)
	if !ok {
		return
	}

	// New directories under a watched folder join the watch set so
	// files created inside them are seen.
	if ev.Has(fsnotify.Create) && src.Kind == source.KindLocalFolder {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := watcher.Add(ev.Name); err != nil {
				m.logger.Warn("watch add failed", "path", ev.Name, "error", err)
			}
		}
	}

	if rel != "" && !src.Filter.Match(rel) {
		return
	}
	m.schedule(src.ID)
}

// resolve maps an event path to the watched source containing it.
func (m *Monitor) resolve(path string) (source.KnowledgeSource, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for root, src := range m.watched {
		if src.Kind == source.KindLocalFile {
			if path == root {
				return src, "", true
			}
			continue
		}
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return src, filepath.ToSlash(rel), true
		}
	}
	return source.KnowledgeSource{}, "", false
}

// schedule arms or resets the source's debounce timer. Bursts of events
// collapse into a single enqueue after the quiet period.
func (m *Monitor) schedule(sourceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[sourceID]; ok {
		t.Reset(m.debounce)
		return
	}
	m.timers[sourceID] = time.AfterFunc(m.debounce, func() {
		m.mu.Lock()
		delete(m.timers, sourceID)
		m.mu.Unlock()
		m.logger.Debug("change detected", "source_id", sourceID)
		m.queue.Enqueue(sourceID)
	})
}

func (m *Monitor) stopTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}
