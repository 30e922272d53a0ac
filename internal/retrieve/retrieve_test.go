package retrieve_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/quarry-ai/quarry/internal/retrieve"
	"github.com/quarry-ai/quarry/internal/source"
	"github.com/quarry-ai/quarry/internal/store"
	"github.com/quarry-ai/quarry/internal/testutil"
)

func setup(t *testing.T) (*retrieve.Engine, *store.SQLite, *testutil.HashEmbedder) {
	t.Helper()
	db := testutil.OpenTestDB(t)
	embedder := testutil.NewHashEmbedder(32)
	st, err := store.NewSQLite(db, embedder.Dimension(), testutil.DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	engine, err := retrieve.New(retrieve.Options{
		Store:          st,
		Embedder:       embedder,
		TopK:           5,
		PerDocumentCap: 2,
		Logger:         testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return engine, st, embedder
}

// index stores one document whose chunks are embedded with the given
// embedder, mirroring what the ingest pipeline produces.
func index(t *testing.T, st *store.SQLite, embedder *testutil.HashEmbedder, sourceID, path string, texts ...string) {
	t.Helper()
	ctx := context.Background()

	docID := source.DocumentID(sourceID, path)
	doc := source.Document{
		ID: docID, SourceID: sourceID, Path: path,
		ContentHash: "h-" + path, UpdatedAt: time.Now().UTC(),
	}
	chunks := make([]source.Chunk, len(texts))
	for i, text := range texts {
		vec, err := embedder.Embed(ctx, text)
		if err != nil {
			t.Fatal(err)
		}
		chunks[i] = source.Chunk{
			ID: fmt.Sprintf("%s-c%d", docID, i), DocumentID: docID, SourceID: sourceID,
			Index: i, Content: text, ContentType: source.ContentProse,
			Vector: vec, Model: embedder.Model(), CreatedAt: time.Now().UTC(),
		}
	}
	if err := st.UpsertDocument(ctx, doc, chunks); err != nil {
		t.Fatal(err)
	}
}

func TestQuery_EmptyCorpus(t *testing.T) {
	engine, _, _ := setup(t)
	results, err := engine.Query(context.Background(), retrieve.Request{Text: "anything"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("empty corpus returned %d results", len(results))
	}
}

func TestQuery_EmptyText(t *testing.T) {
	engine, _, _ := setup(t)
	if _, err := engine.Query(context.Background(), retrieve.Request{Text: "  \n "}); err == nil {
		t.Error("empty query accepted")
	}
}

func TestQuery_RanksRelevantFirst(t *testing.T) {
	engine, st, embedder := setup(t)

	index(t, st, embedder, "src_1", "france.md",
		"paris is the capital of france and sits on the seine")
	index(t, st, embedder, "src_1", "japan.md",
		"tokyo is the capital of japan and hosts the emperor")
	index(t, st, embedder, "src_1", "cooking.md",
		"simmer the onions until golden then add garlic")

	results, err := engine.Query(context.Background(), retrieve.Request{Text: "what is the capital of france"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].DocumentPath != "france.md" {
		t.Errorf("top result = %s, want france.md", results[0].DocumentPath)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Error("results not ordered by descending similarity")
		}
	}
}

func TestQuery_PerDocumentCap(t *testing.T) {
	engine, st, embedder := setup(t)

	// One document with many near-identical chunks must not crowd out
	// the other document.
	index(t, st, embedder, "src_1", "big.md",
		"alpha alpha beta", "alpha beta alpha", "beta alpha alpha", "alpha alpha alpha")
	index(t, st, embedder, "src_1", "small.md", "alpha beta gamma")

	results, err := engine.Query(context.Background(), retrieve.Request{Text: "alpha beta", TopK: 5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	perDoc := map[string]int{}
	for _, r := range results {
		perDoc[r.DocumentPath]++
	}
	if perDoc["big.md"] > 2 {
		t.Errorf("big.md contributed %d results, cap is 2", perDoc["big.md"])
	}
	if perDoc["small.md"] == 0 {
		t.Error("capping must let other documents through")
	}
}

func TestQuery_MinScoreFloor(t *testing.T) {
	_, st, embedder := setup(t)
	engine, err := retrieve.New(retrieve.Options{
		Store:          st,
		Embedder:       embedder,
		TopK:           5,
		MinScore:       0.99,
		PerDocumentCap: 2,
		Logger:         testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	index(t, st, embedder, "src_1", "a.md", "completely unrelated words about gardening")

	results, err := engine.Query(context.Background(), retrieve.Request{Text: "quantum chromodynamics lattice"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("floor of 0.99 let through %d results", len(results))
	}
}

func TestQuery_SourceFilter(t *testing.T) {
	engine, st, embedder := setup(t)
	index(t, st, embedder, "src_a", "a.md", "shared topic words here")
	index(t, st, embedder, "src_b", "b.md", "shared topic words here")

	results, err := engine.Query(context.Background(), retrieve.Request{Text: "shared topic", SourceID: "src_a"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, r := range results {
		if r.SourceID != "src_a" {
			t.Errorf("source filter leaked result from %s", r.SourceID)
		}
	}
	if len(results) == 0 {
		t.Error("filtered query returned nothing")
	}
}

func TestQuery_ModelMismatch(t *testing.T) {
	engine, st, embedder := setup(t)

	// Index with a different model identifier than the query embedder.
	other := testutil.NewHashEmbedder(32)
	other.ModelName = "retired-model-v0"
	index(t, st, other, "src_1", "a.md", "content embedded by an old model")

	_, err := engine.Query(context.Background(), retrieve.Request{Text: "content"})
	var mismatch *retrieve.ModelMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %v, want *ModelMismatchError", err)
	}
	if mismatch.QueryModel != embedder.Model() {
		t.Errorf("mismatch names query model %q", mismatch.QueryModel)
	}
	if len(mismatch.CorpusModels) != 1 || mismatch.CorpusModels[0] != "retired-model-v0" {
		t.Errorf("mismatch names corpus models %v", mismatch.CorpusModels)
	}
}
