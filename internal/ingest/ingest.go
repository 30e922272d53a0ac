// Package ingest executes indexing plans: it chunks and embeds changed
// documents, writes them to the chunk store, and keeps the source
// catalog's status in step with the work.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quarry-ai/quarry/internal/chunk"
	"github.com/quarry-ai/quarry/internal/embed"
	"github.com/quarry-ai/quarry/internal/extract"
	"github.com/quarry-ai/quarry/internal/registry"
	"github.com/quarry-ai/quarry/internal/source"
	"github.com/quarry-ai/quarry/internal/store"
)

// Failure records one document that could not be indexed.
type Failure struct {
	Path string
	Err  string
}

// Report summarizes one processing run for a source.
type Report struct {
	SourceID  string
	Added     int
	Updated   int
	Removed   int
	Unchanged int
	Failed    int
	Failures  []Failure
	Skipped   bool
	Duration  time.Duration
}

// Orchestrator drives the scan-chunk-embed-store pipeline for one
// source at a time. Documents within a run are processed concurrently
// up to the configured worker limit.
type Orchestrator struct {
	registry  *registry.Registry
	store     store.Store
	chunker   *chunk.Chunker
	embedder  embed.Embedder
	workers   int
	batchSize int
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]*sync.Mutex
}

// Options configures an Orchestrator.
type Options struct {
	Registry *registry.Registry
	Store    store.Store
	Chunker  *chunk.Chunker
	Embedder embed.Embedder
	// MaxWorkers bounds concurrent document processing. Defaults to 4.
	MaxWorkers int
	// EmbedBatchSize bounds texts per embedding request. Defaults to 16.
	EmbedBatchSize int
	Logger         *slog.Logger
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil || opts.Store == nil || opts.Chunker == nil || opts.Embedder == nil {
		return nil, errors.New("ingest: registry, store, chunker, and embedder are required")
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = 16
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		registry:  opts.Registry,
		store:     opts.Store,
		chunker:   opts.Chunker,
		embedder:  opts.Embedder,
		workers:   opts.MaxWorkers,
		batchSize: opts.EmbedBatchSize,
		logger:    opts.Logger,
		active:    make(map[string]*sync.Mutex),
	}, nil
}

// Process scans a source and brings the index in line with its current
// content. Concurrent calls for the same source serialize; the second
// caller runs its own scan after the first finishes, so an already-
// current source becomes a cheap no-op.
//
// Per-document failures are recorded in the report and do not abort the
// run. Store unavailability, embedding dimension mismatches, and
// context cancellation abort between documents; work already committed
// stays committed.
func (o *Orchestrator) Process(ctx context.Context, sourceID string) (*Report, error) {
	lock := o.sourceLock(sourceID)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()

	plan, err := o.registry.Scan(ctx, sourceID)
	if err != nil {
		var unreachable *registry.ScanUnreachableError
		if errors.As(err, &unreachable) {
			if serr := o.registry.SetStatus(ctx, sourceID, source.StatusError, err.Error()); serr != nil {
				o.logger.Warn("status update failed", "source_id", sourceID, "error", serr)
			}
		}
		return nil, err
	}

	report := &Report{
		SourceID:  sourceID,
		Unchanged: plan.Unchanged,
		Removed:   len(plan.ToRemove),
	}
	for _, f := range plan.Failures {
		report.Failed++
		report.Failures = append(report.Failures, Failure{Path: f.Path, Err: f.Err.Error()})
	}

	// Fingerprint unchanged and nothing partial to recover: skip the
	// whole run without touching the store.
	if plan.Empty() && len(plan.Failures) == 0 &&
		plan.Fingerprint == plan.Source.Fingerprint &&
		plan.Source.Status == source.StatusIndexed {
		report.Skipped = true
		report.Removed = 0
		report.Duration = time.Since(started)
		o.logger.Debug("source unchanged", "source_id", sourceID, "fingerprint", plan.Fingerprint)
		return report, nil
	}

	if err := o.registry.SetStatus(ctx, sourceID, source.StatusProcessing, ""); err != nil {
		return nil, err
	}

	runErr := o.execute(ctx, plan, report)

	if runErr != nil {
		if serr := o.registry.SetStatus(context.WithoutCancel(ctx), sourceID, source.StatusError, runErr.Error()); serr != nil {
			o.logger.Warn("status update failed", "source_id", sourceID, "error", serr)
		}
		return nil, runErr
	}

	stats, err := o.store.Stats(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if err := o.registry.SetIndexed(ctx, sourceID, plan.Fingerprint, stats.Documents); err != nil {
		return nil, err
	}

	report.Duration = time.Since(started)
	o.logger.Info("source processed", "source_id", sourceID,
		"added", report.Added, "updated", report.Updated,
		"removed", report.Removed, "failed", report.Failed,
		"duration", report.Duration)
	return report, nil
}

func (o *Orchestrator) execute(ctx context.Context, plan *registry.Plan, report *Report) error {
	for _, doc := range plan.ToRemove {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.store.DeleteDocument(ctx, doc.ID); err != nil {
			return err
		}
	}

	var (
		mu    sync.Mutex
		fatal error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	run := func(item extract.Item, update bool) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// Cancellation is honored between documents only; a document
			// already in flight runs its chunk-embed-store pipeline to
			// completion so the store never sees a half-processed run.
			err := o.indexDocument(context.WithoutCancel(gctx), plan.Source, item)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				if update {
					report.Updated++
				} else {
					report.Added++
				}
				return nil
			case isFatal(err):
				fatal = err
				return err
			default:
				report.Failed++
				report.Failures = append(report.Failures, Failure{Path: item.Path, Err: err.Error()})
				o.logger.Warn("document failed", "source_id", plan.Source.ID, "path", item.Path, "error", err)
				return nil
			}
		})
	}
	for _, item := range plan.ToAdd {
		run(item, false)
	}
	for _, item := range plan.ToUpdate {
		run(item, true)
	}

	if err := g.Wait(); err != nil {
		if fatal != nil {
			return fatal
		}
		return err
	}
	return nil
}

// indexDocument chunks, embeds, and atomically stores one document.
func (o *Orchestrator) indexDocument(ctx context.Context, src source.KnowledgeSource, item extract.Item) error {
	pieces := o.chunker.Split(item.Text, chunk.ContentType(item.ContentType))
	if len(pieces) == 0 {
		return fmt.Errorf("document %s produced no chunks", item.Path)
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}
	vectors, err := o.embedAll(ctx, texts)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	docID := source.DocumentID(src.ID, item.Path)
	doc := source.Document{
		ID:          docID,
		SourceID:    src.ID,
		Path:        item.Path,
		ContentHash: item.Hash,
		TextLength:  len(item.Text),
		ModifiedAt:  item.ModTime,
		UpdatedAt:   now,
	}
	chunks := make([]source.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = source.Chunk{
			ID:          uuid.NewString(),
			DocumentID:  docID,
			SourceID:    src.ID,
			Index:       p.Index,
			Content:     p.Text,
			Start:       p.Start,
			End:         p.End,
			ContentType: item.ContentType,
			Vector:      vectors[i],
			Model:       o.embedder.Model(),
			CreatedAt:   now,
		}
	}
	return o.store.UpsertDocument(ctx, doc, chunks)
}

// embedAll embeds texts in batches. A failed batch gets one retry split
// into halves, which isolates a single poisonous input to its half
// instead of failing the whole document on a transient error.
func (o *Orchestrator) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += o.batchSize {
		end := min(start+o.batchSize, len(texts))
		batch := texts[start:end]

		vs, err := o.embedder.EmbedBatch(ctx, batch)
		if err != nil {
			if len(batch) < 2 || ctx.Err() != nil {
				return nil, err
			}
			o.logger.Debug("embedding batch failed, retrying in halves", "size", len(batch), "error", err)
			mid := len(batch) / 2
			left, lerr := o.embedder.EmbedBatch(ctx, batch[:mid])
			if lerr != nil {
				return nil, lerr
			}
			right, rerr := o.embedder.EmbedBatch(ctx, batch[mid:])
			if rerr != nil {
				return nil, rerr
			}
			vs = append(left, right...)
		}
		vectors = append(vectors, vs...)
	}
	return vectors, nil
}

func (o *Orchestrator) sourceLock(sourceID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.active[sourceID]
	if !ok {
		lock = &sync.Mutex{}
		o.active[sourceID] = lock
	}
	return lock
}

// isFatal reports whether an error should abort the whole run rather
// than fail a single document.
func isFatal(err error) bool {
	var unavailable *store.UnavailableError
	var dimension *store.DimensionError
	return errors.As(err, &unavailable) || errors.As(err, &dimension) || errors.Is(err, context.Canceled)
}
