// Package retrieve answers semantic queries against the chunk store:
// embed the query, fetch nearest chunks, then dedupe and floor the
// candidates into a final ranked list.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/quarry-ai/quarry/internal/embed"
	"github.com/quarry-ai/quarry/internal/store"
)

// ModelMismatchError is returned when the indexed chunks were embedded
// with a different model than the query embedder. Comparing vectors
// across models is meaningless, so the query is rejected instead of
// silently returning nothing.
type ModelMismatchError struct {
	QueryModel   string
	CorpusModels []string
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf("query model %q does not match indexed models [%s]; re-index with the current model",
		e.QueryModel, strings.Join(e.CorpusModels, ", "))
}

// Request is one retrieval query. Zero-valued fields fall back to the
// engine's configured defaults.
type Request struct {
	Text string
	// TopK overrides the configured result count.
	TopK int
	// SourceID restricts results to one source.
	SourceID string
}

// Result is one ranked match.
type Result struct {
	Content      string
	DocumentPath string
	SourceID     string
	ChunkIndex   int
	Similarity   float64
}

// Options configures an Engine.
type Options struct {
	Store    store.Store
	Embedder embed.Embedder
	// TopK is the default result count. Defaults to 5.
	TopK int
	// MinScore drops matches below this similarity. Zero disables the
	// floor.
	MinScore float64
	// PerDocumentCap bounds results from a single document. Defaults
	// to 2; zero or negative disables the cap.
	PerDocumentCap int
	// OverfetchFactor controls how many candidates are fetched per
	// requested result so the cap and floor have room to work.
	// Defaults to 4.
	OverfetchFactor int
	Logger          *slog.Logger
}

// Engine executes retrieval queries.
type Engine struct {
	store     store.Store
	embedder  embed.Embedder
	topK      int
	minScore  float64
	docCap    int
	overfetch int
	logger    *slog.Logger
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Embedder == nil {
		return nil, errors.New("retrieve: store and embedder are required")
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.OverfetchFactor <= 0 {
		opts.OverfetchFactor = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:     opts.Store,
		embedder:  opts.Embedder,
		topK:      opts.TopK,
		minScore:  opts.MinScore,
		docCap:    opts.PerDocumentCap,
		overfetch: opts.OverfetchFactor,
		logger:    opts.Logger,
	}, nil
}

// Query returns the most relevant chunks for the request text, ranked
// by similarity. An empty corpus yields an empty result, not an error.
func (e *Engine) Query(ctx context.Context, req Request) ([]Result, error) {
	text := embed.Normalize(req.Text)
	if text == "" {
		return nil, errors.New("empty query")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = e.topK
	}

	models, err := e.store.Models(ctx)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	if !slices.Contains(models, e.embedder.Model()) {
		return nil, &ModelMismatchError{QueryModel: e.embedder.Model(), CorpusModels: models}
	}

	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := e.store.Query(ctx, vector, topK*e.overfetch, store.Filter{
		Model:    e.embedder.Model(),
		SourceID: req.SourceID,
	})
	if err != nil {
		return nil, err
	}

	results := e.rank(matches, topK)
	e.logger.Debug("query answered", "candidates", len(matches), "results", len(results))
	return results, nil
}

// rank applies the per-document cap and similarity floor to candidates
// already ordered by the store, then truncates to topK.
func (e *Engine) rank(matches []store.Match, topK int) []Result {
	perDoc := make(map[string]int, len(matches))
	results := make([]Result, 0, topK)
	for _, m := range matches {
		if m.Similarity < e.minScore {
			continue
		}
		if e.docCap > 0 && perDoc[m.Chunk.DocumentID] >= e.docCap {
			continue
		}
		perDoc[m.Chunk.DocumentID]++
		results = append(results, Result{
			Content:      m.Chunk.Content,
			DocumentPath: m.DocumentPath,
			SourceID:     m.Chunk.SourceID,
			ChunkIndex:   m.Chunk.Index,
			Similarity:   m.Similarity,
		})
		if len(results) == topK {
			break
		}
	}
	return results
}
