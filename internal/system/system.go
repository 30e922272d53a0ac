// Package system wires the pipeline together behind one facade: catalog
// database, chunk store, extractor, embedder, orchestrator, retrieval
// engine, and monitor. The CLI and embedding programs talk to System
// instead of assembling components themselves.
package system

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/quarry-ai/quarry/internal/chunk"
	"github.com/quarry-ai/quarry/internal/config"
	"github.com/quarry-ai/quarry/internal/database"
	"github.com/quarry-ai/quarry/internal/embed"
	"github.com/quarry-ai/quarry/internal/extract"
	"github.com/quarry-ai/quarry/internal/ingest"
	"github.com/quarry-ai/quarry/internal/log"
	"github.com/quarry-ai/quarry/internal/monitor"
	"github.com/quarry-ai/quarry/internal/registry"
	"github.com/quarry-ai/quarry/internal/retrieve"
	"github.com/quarry-ai/quarry/internal/source"
	"github.com/quarry-ai/quarry/internal/store"
)

// ErrLocked is returned when another process holds the data directory.
var ErrLocked = errors.New("data directory is locked by another process")

// Option customizes System construction.
type Option func(*options)

type options struct {
	embedder  embed.Embedder
	store     store.Store
	drive     extract.DriveService
	repoToken string
}

// WithEmbedder substitutes the embedding backend. Tests use this to
// avoid network calls.
func WithEmbedder(e embed.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithStore substitutes the chunk store, bypassing the configured
// driver.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithDriveService provides an authenticated Google Drive handle,
// enabling drive folder sources.
func WithDriveService(d extract.DriveService) Option {
	return func(o *options) { o.drive = d }
}

// WithRepoToken sets the bearer token for cloning private repositories.
func WithRepoToken(token string) Option {
	return func(o *options) { o.repoToken = token }
}

// StatusEvent reports a source state change. The presentation layer
// consumes these to keep its view current.
type StatusEvent struct {
	SourceID  string
	Status    source.Status
	Documents int
	Chunks    int
	Err       string
}

// System is the assembled pipeline.
type System struct {
	cfg    *config.Config
	logger log.Logger

	db       *sql.DB
	lock     *flock.Flock
	store    store.Store
	embedder embed.Embedder
	events   chan StatusEvent

	registry     *registry.Registry
	orchestrator *ingest.Orchestrator
	queue        *ingest.Queue
	engine       *retrieve.Engine
	monitor      *monitor.Monitor
}

// Open validates the configuration, takes an exclusive lock on the data
// directory, and assembles the pipeline. Call Close when done.
func Open(ctx context.Context, cfg *config.Config, logger log.Logger, opts ...Option) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	lock := flock.New(filepath.Join(cfg.DataDir, "quarry.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking data directory: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	sys := &System{cfg: cfg, logger: logger, lock: lock, events: make(chan StatusEvent, 16)}
	if err := sys.assemble(ctx, o); err != nil {
		sys.Close()
		return nil, err
	}
	return sys, nil
}

func (s *System) assemble(ctx context.Context, o options) error {
	db, err := database.Open(filepath.Join(s.cfg.DataDir, "quarry.db"))
	if err != nil {
		return err
	}
	s.db = db
	if err := database.Migrate(db); err != nil {
		return err
	}

	s.embedder = o.embedder
	if s.embedder == nil {
		key := s.cfg.APIKey()
		if key == "" {
			return fmt.Errorf("embedding API key not set; export %s", s.cfg.Embedding.APIKeyEnv)
		}
		s.embedder, err = embed.NewGemini(ctx, key, s.cfg.Embedding.Model, s.cfg.Embedding.Dimension)
		if err != nil {
			return err
		}
	}

	s.store = o.store
	if s.store == nil {
		switch s.cfg.Storage.Driver {
		case config.DriverPostgres:
			s.store, err = store.NewPostgres(ctx, s.cfg.PostgresDSN(), s.embedder.Dimension(), s.logger)
		default:
			s.store, err = store.NewSQLite(db, s.embedder.Dimension(), s.logger)
		}
		if err != nil {
			return err
		}
	}

	extractor := extract.New(extract.Options{
		Drive:       o.drive,
		RepoToken:   o.repoToken,
		WebMaxDepth: s.cfg.Web.MaxDepth,
		WebMaxPages: s.cfg.Web.MaxPages,
		Logger:      s.logger,
	})
	s.registry = registry.New(db, s.store, extractor, s.logger)

	chunker, err := chunk.New(s.cfg.Chunking.MaxSize, s.cfg.Chunking.Overlap)
	if err != nil {
		return err
	}

	s.orchestrator, err = ingest.New(ingest.Options{
		Registry:       s.registry,
		Store:          s.store,
		Chunker:        chunker,
		Embedder:       s.embedder,
		MaxWorkers:     s.cfg.Ingest.MaxWorkers,
		EmbedBatchSize: s.cfg.Ingest.EmbedBatchSize,
		Logger:         s.logger,
	})
	if err != nil {
		return err
	}
	s.queue = ingest.NewQueue(s.orchestrator, s.logger)

	s.engine, err = retrieve.New(retrieve.Options{
		Store:           s.store,
		Embedder:        s.embedder,
		TopK:            s.cfg.Retrieval.TopK,
		MinScore:        s.cfg.Retrieval.MinScore,
		PerDocumentCap:  s.cfg.Retrieval.PerDocumentCap,
		OverfetchFactor: s.cfg.Retrieval.OverfetchFactor,
		Logger:          s.logger,
	})
	if err != nil {
		return err
	}

	s.monitor = monitor.New(monitor.Options{
		Registry:     s.registry,
		Queue:        s.queue,
		Debounce:     s.cfg.Monitor.Debounce,
		PollInterval: s.cfg.Monitor.PollInterval,
		Logger:       s.logger,
	})
	return nil
}

// AddSource registers a new knowledge source in pending state.
func (s *System) AddSource(ctx context.Context, req registry.RegisterRequest) (source.KnowledgeSource, error) {
	return s.registry.Register(ctx, req)
}

// RemoveSource unregisters a source and purges its indexed content.
func (s *System) RemoveSource(ctx context.Context, id string) error {
	if err := s.registry.Unregister(ctx, id); err != nil {
		return err
	}
	s.emit(StatusEvent{SourceID: id, Status: source.StatusRemoved})
	return nil
}

// Sources lists all registered sources.
func (s *System) Sources(ctx context.Context) ([]source.KnowledgeSource, error) {
	return s.registry.List(ctx)
}

// Source returns one source by ID.
func (s *System) Source(ctx context.Context, id string) (source.KnowledgeSource, error) {
	return s.registry.Get(ctx, id)
}

// SetMonitoring toggles change monitoring for a source.
func (s *System) SetMonitoring(ctx context.Context, id string, enabled bool) error {
	return s.registry.SetMonitoring(ctx, id, enabled)
}

// Events returns the status event stream. Sends never block; an event
// is dropped when no consumer keeps up.
func (s *System) Events() <-chan StatusEvent {
	return s.events
}

func (s *System) emit(ev StatusEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

// notify looks up the source's current state and publishes it. Lookup
// failures are swallowed; events are advisory.
func (s *System) notify(ctx context.Context, sourceID string) {
	src, err := s.registry.Get(ctx, sourceID)
	if err != nil {
		return
	}
	stats, _ := s.store.Stats(ctx, sourceID)
	s.emit(StatusEvent{
		SourceID:  src.ID,
		Status:    src.Status,
		Documents: stats.Documents,
		Chunks:    stats.Chunks,
		Err:       src.LastError,
	})
}

// Process scans and re-indexes one source.
func (s *System) Process(ctx context.Context, id string) (*ingest.Report, error) {
	report, err := s.orchestrator.Process(ctx, id)
	s.notify(context.WithoutCancel(ctx), id)
	return report, err
}

// ProcessAll processes every registered source in order. Per-source
// failures are logged and do not stop the remaining sources; the last
// failure is returned alongside the reports that did complete.
func (s *System) ProcessAll(ctx context.Context) ([]*ingest.Report, error) {
	sources, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	var (
		reports []*ingest.Report
		lastErr error
	)
	for _, src := range sources {
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
		report, err := s.Process(ctx, src.ID)
		if err != nil {
			s.logger.Error("processing failed", "source_id", src.ID, "error", err)
			lastErr = err
			continue
		}
		reports = append(reports, report)
	}
	return reports, lastErr
}

// Retrieve answers a semantic query against the indexed corpus.
func (s *System) Retrieve(ctx context.Context, req retrieve.Request) ([]retrieve.Result, error) {
	return s.engine.Query(ctx, req)
}

// Stats reports indexed document and chunk counts. Empty sourceID means
// the whole corpus.
func (s *System) Stats(ctx context.Context, sourceID string) (store.Stats, error) {
	return s.store.Stats(ctx, sourceID)
}

// Enqueue schedules a source for background processing. Only useful
// while Watch is running.
func (s *System) Enqueue(sourceID string) {
	s.queue.Enqueue(sourceID)
}

// Watch runs the change monitor and the processing queue until the
// context is canceled.
func (s *System) Watch(ctx context.Context) error {
	reports := make(chan *ingest.Report, 16)
	s.queue.Reports = reports

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.monitor.Run(gctx) })
	g.Go(func() error {
		defer close(reports)
		return s.queue.Run(gctx)
	})
	g.Go(func() error {
		for report := range reports {
			s.notify(context.WithoutCancel(gctx), report.SourceID)
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the store, the catalog database, and the directory
// lock. Safe to call after a partial Open failure.
func (s *System) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.lock != nil {
		errs = append(errs, s.lock.Unlock())
	}
	if s.events != nil {
		close(s.events)
		s.events = nil
	}
	return errors.Join(errs...)
}
