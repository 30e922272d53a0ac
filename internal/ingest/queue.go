package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Queue serializes processing requests for sources. Enqueueing an
// already-pending source is a no-op, so a burst of change events for
// one source collapses into a single run.
type Queue struct {
	orchestrator *Orchestrator
	logger       *slog.Logger

	mu      sync.Mutex
	pending map[string]bool
	order   []string
	wake    chan struct{}

	// Reports receives the outcome of every completed run. Optional;
	// set before Run starts.
	Reports chan<- *Report
}

// NewQueue creates a Queue over the given orchestrator.
func NewQueue(o *Orchestrator, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		orchestrator: o,
		logger:       logger,
		pending:      make(map[string]bool),
		wake:         make(chan struct{}, 1),
	}
}

// Enqueue schedules a source for processing. Safe for concurrent use.
func (q *Queue) Enqueue(sourceID string) {
	q.mu.Lock()
	if !q.pending[sourceID] {
		q.pending[sourceID] = true
		q.order = append(q.order, sourceID)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of sources waiting to be processed.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Run drains the queue until the context is canceled. Sources are
// processed one at a time in arrival order; per-source document
// concurrency is the orchestrator's concern.
func (q *Queue) Run(ctx context.Context) error {
	for {
		id, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.wake:
				continue
			}
		}

		report, err := q.orchestrator.Process(ctx, id)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Error("processing failed", "source_id", id, "error", err)
			continue
		}
		if q.Reports != nil {
			select {
			case q.Reports <- report:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (q *Queue) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return "", false
	}
	id := q.order[0]
	q.order = q.order[1:]
	delete(q.pending, id)
	return id, true
}
