// Package store persists chunks, vectors, and document metadata, and
// answers similarity queries over them.
//
// Two backends implement Store: SQLite (default, embedded in the local
// database) and Postgres with pgvector. The store exclusively owns the
// persisted Document and Chunk records; replacement of a document's
// chunk set is atomic at document granularity, so no reader ever
// observes a mixture of old and new generation chunks.
package store

import (
	"context"
	"fmt"
	"math"

	"github.com/quarry-ai/quarry/internal/source"
)

// Filter restricts a similarity query.
type Filter struct {
	// SourceID, when set, limits results to one source.
	SourceID string
	// Model limits results to chunks embedded with this model
	// identifier. Always set by the retrieval engine; chunks from a
	// retired model are never compared against a differently-trained
	// query vector.
	Model string
}

// Match is one similarity hit.
type Match struct {
	Chunk        source.Chunk
	DocumentPath string
	Similarity   float64
}

// Stats summarizes what the store holds for one source.
type Stats struct {
	Documents int
	Chunks    int
}

// Store is the persistence contract for documents and chunks.
type Store interface {
	// UpsertDocument atomically replaces all chunks for doc.ID with the
	// given set and records the document metadata. On failure the prior
	// generation remains fully intact and queryable.
	UpsertDocument(ctx context.Context, doc source.Document, chunks []source.Chunk) error

	// DeleteDocument removes a document and its chunks.
	DeleteDocument(ctx context.Context, documentID string) error

	// DeleteSource removes all documents and chunks owned by a source.
	DeleteSource(ctx context.Context, sourceID string) error

	// Query returns up to topK chunks ordered by descending cosine
	// similarity to vector; ties order by most recent creation first,
	// then chunk id.
	Query(ctx context.Context, vector []float32, topK int, f Filter) ([]Match, error)

	// Documents lists the document records of one source (vectors not
	// loaded); the registry diffs these against a fresh extraction.
	Documents(ctx context.Context, sourceID string) ([]source.Document, error)

	// Models returns the distinct embedding model identifiers present
	// in the store.
	Models(ctx context.Context) ([]string, error)

	// Stats counts documents and chunks for a source; empty sourceID
	// counts everything.
	Stats(ctx context.Context, sourceID string) (Stats, error)

	Close() error
}

// UnavailableError reports that the backing storage is unreachable.
// Fatal to the calling operation; never retried silently.
type UnavailableError struct {
	Op    string
	Cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

// DimensionError reports a vector whose dimension disagrees with the
// store's configured dimension. Configuration-level and fatal: it
// indicates a model change that requires re-indexing.
type DimensionError struct {
	Got  int
	Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimension %d does not match store dimension %d", e.Got, e.Want)
}

// cosine computes cosine similarity between two equal-length vectors.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
