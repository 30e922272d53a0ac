// Package embed maps chunk text to fixed-dimension vectors.
//
// The Embedder interface is satisfied by the production Gemini
// implementation (gemini.go) and by the deterministic token-hash
// embedder in internal/testutil. Embedding is deterministic for a given
// model identifier and input; the model identifier is stamped onto every
// stored chunk so differently-dimensioned corpora are never mixed.
package embed

import (
	"context"
	"fmt"
	"strings"
)

// Embedder generates embedding vectors for text.
//
// Implementations must be safe for concurrent use; the ingestion worker
// pool shares one Embedder across workers.
type Embedder interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, preserving input
	// order. A failed batch returns no partial vectors.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the model identifier stamped onto stored chunks.
	Model() string

	// Dimension returns the output vector dimension.
	Dimension() int
}

// Error reports an embedding failure for a batch of inputs. Per-batch
// and non-fatal to sibling documents: the orchestrator retries once at
// a smaller batch size and then records the document as failed.
type Error struct {
	Model string
	Texts int
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embedding %d text(s) with %s: %v", e.Texts, e.Model, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Normalize trims and collapses whitespace ahead of embedding so hash
// and vector generation see the same canonical text.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ValidateBatch rejects batches containing input that is empty after
// normalization. Called by implementations before issuing the request
// so a malformed input fails the batch atomically, not mid-flight.
func ValidateBatch(model string, texts []string) error {
	if len(texts) == 0 {
		return &Error{Model: model, Texts: 0, Cause: fmt.Errorf("empty batch")}
	}
	for i, t := range texts {
		if Normalize(t) == "" {
			return &Error{Model: model, Texts: len(texts), Cause: fmt.Errorf("input %d empty after normalization", i)}
		}
	}
	return nil
}
