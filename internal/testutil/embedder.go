package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/quarry-ai/quarry/internal/embed"
)

// HashEmbedder is a deterministic in-process embedder for tests. Each
// token hashes into a bucket of the vector and the result is
// L2-normalized, so texts sharing words score higher cosine similarity
// than unrelated texts. No network, fully reproducible.
type HashEmbedder struct {
	ModelName string
	Dim       int

	// Fail, when set, makes every call return this error.
	Fail error
	// FailAfter, when positive, fails batch calls once that many
	// succeeded. Used to inject mid-run embedding failures.
	FailAfter int

	mu    sync.Mutex
	calls int
}

var _ embed.Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder creates a HashEmbedder with the given dimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{ModelName: "hash-test-v1", Dim: dim}
}

// Model implements embed.Embedder.
func (h *HashEmbedder) Model() string { return h.ModelName }

// Dimension implements embed.Embedder.
func (h *HashEmbedder) Dimension() int { return h.Dim }

// Calls returns the number of batch calls made so far.
func (h *HashEmbedder) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// Embed implements embed.Embedder.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := h.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

// EmbedBatch implements embed.Embedder.
func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	if h.Fail != nil {
		h.mu.Unlock()
		return nil, h.Fail
	}
	if h.FailAfter > 0 && h.calls >= h.FailAfter {
		h.mu.Unlock()
		return nil, &embed.Error{Model: h.ModelName, Texts: len(texts), Cause: context.DeadlineExceeded}
	}
	h.calls++
	h.mu.Unlock()

	if err := embed.ValidateBatch(h.ModelName, texts); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, h.Dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if tok == "" {
			continue
		}
		f := fnv.New32a()
		f.Write([]byte(tok))
		v[int(f.Sum32())%h.Dim]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}
