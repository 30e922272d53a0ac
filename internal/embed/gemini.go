package embed

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Gemini embeds text through the Gemini embedding API.
//
// gemini-embedding-001 emits 3072 dimensions natively; the configured
// dimension is requested via output dimensionality truncation, so the
// stored vectors always match Dimension().
type Gemini struct {
	client    *genai.Client
	model     string
	dimension int
}

// NewGemini creates a Gemini embedder. The API key is read from the
// environment by the genai client when apiKey is empty.
func NewGemini(ctx context.Context, apiKey, model string, dimension int) (*Gemini, error) {
	if model == "" {
		return nil, fmt.Errorf("embedding model must not be empty")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dimension)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Gemini{client: client, model: model, dimension: dimension}, nil
}

// Model implements Embedder.
func (g *Gemini) Model() string { return g.model }

// Dimension implements Embedder.
func (g *Gemini) Dimension() int { return g.dimension }

// Embed implements Embedder.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder. The whole batch fails atomically: on
// any error no vectors are returned.
func (g *Gemini) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateBatch(g.model, texts); err != nil {
		return nil, err
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(Normalize(t), genai.RoleUser)
	}

	dim := int32(g.dimension)
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, &Error{Model: g.model, Texts: len(texts), Cause: err}
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &Error{Model: g.model, Texts: len(texts),
			Cause: fmt.Errorf("got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))}
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, &Error{Model: g.model, Texts: len(texts),
				Cause: fmt.Errorf("empty embedding at index %d", i)}
		}
		if len(e.Values) != g.dimension {
			return nil, &Error{Model: g.model, Texts: len(texts),
				Cause: fmt.Errorf("embedding dimension %d, want %d", len(e.Values), g.dimension)}
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}
