package registry_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quarry-ai/quarry/internal/extract"
	"github.com/quarry-ai/quarry/internal/registry"
	"github.com/quarry-ai/quarry/internal/source"
	"github.com/quarry-ai/quarry/internal/store"
	"github.com/quarry-ai/quarry/internal/testutil"
)

func setupRegistry(t *testing.T) (*registry.Registry, *store.SQLite) {
	t.Helper()
	db := testutil.OpenTestDB(t)
	st, err := store.NewSQLite(db, 3, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	ex := extract.New(extract.Options{Logger: testutil.DiscardLogger()})
	return registry.New(db, st, ex, testutil.DiscardLogger()), st
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRegister_Roundtrip(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()
	dir := t.TempDir()

	src, err := reg.Register(ctx, registry.RegisterRequest{
		Kind:       source.KindLocalFolder,
		Name:       "docs",
		Locator:    dir,
		Include:    []string{"**/*.md"},
		Exclude:    []string{"drafts/**"},
		Monitoring: true,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if src.Status != source.StatusPending {
		t.Errorf("status = %s, want pending", src.Status)
	}

	got, err := reg.Get(ctx, src.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "docs" || !got.Monitoring || got.Kind != source.KindLocalFolder {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if !got.Filter.Match("guide/intro.md") || got.Filter.Match("drafts/x.md") {
		t.Error("persisted filter lost its patterns")
	}
}

func TestRegister_DuplicateLocatorSpellings(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()
	dir := t.TempDir()

	first, err := reg.Register(ctx, registry.RegisterRequest{Kind: source.KindLocalFolder, Locator: dir})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Same directory, different spelling.
	_, err = reg.Register(ctx, registry.RegisterRequest{
		Kind:    source.KindLocalFolder,
		Locator: dir + string(filepath.Separator) + ".",
	})
	var dup *registry.DuplicateSourceError
	if !errors.As(err, &dup) {
		t.Fatalf("error = %v, want *DuplicateSourceError", err)
	}
	if dup.ID != first.ID {
		t.Errorf("duplicate reports ID %s, want %s", dup.ID, first.ID)
	}
}

func TestRegister_InvalidInput(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	if _, err := reg.Register(ctx, registry.RegisterRequest{Kind: source.KindWebPage, Locator: "ftp://x"}); err == nil {
		t.Error("invalid locator accepted")
	}
	if _, err := reg.Register(ctx, registry.RegisterRequest{
		Kind: source.KindLocalFolder, Locator: t.TempDir(), Include: []string{"[bad"},
	}); err == nil {
		t.Error("invalid filter pattern accepted")
	}
}

func TestGet_NotFound(t *testing.T) {
	reg, _ := setupRegistry(t)
	if _, err := reg.Get(context.Background(), "src_missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	src, err := reg.Register(ctx, registry.RegisterRequest{Kind: source.KindLocalFolder, Locator: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.SetStatus(ctx, src.ID, source.StatusProcessing, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := reg.SetIndexed(ctx, src.ID, "fp1", 7); err != nil {
		t.Fatalf("SetIndexed: %v", err)
	}

	got, _ := reg.Get(ctx, src.ID)
	if got.Status != source.StatusIndexed || got.Fingerprint != "fp1" || got.DocumentCount != 7 {
		t.Errorf("after SetIndexed: %+v", got)
	}
	if got.ProcessedAt.IsZero() || time.Since(got.ProcessedAt) > time.Minute {
		t.Errorf("processed_at not recorded: %v", got.ProcessedAt)
	}

	if err := reg.SetStatus(ctx, src.ID, source.StatusError, "boom"); err != nil {
		t.Fatal(err)
	}
	got, _ = reg.Get(ctx, src.ID)
	if got.Status != source.StatusError || got.LastError != "boom" {
		t.Errorf("after error status: %+v", got)
	}

	if err := reg.SetStatus(ctx, "src_missing", source.StatusIndexed, ""); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("unknown ID: error = %v, want ErrNotFound", err)
	}
}

func TestUnregister_PurgesStore(t *testing.T) {
	reg, st := setupRegistry(t)
	ctx := context.Background()

	src, err := reg.Register(ctx, registry.RegisterRequest{Kind: source.KindLocalFolder, Locator: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	doc := source.Document{
		ID: source.DocumentID(src.ID, "a.md"), SourceID: src.ID, Path: "a.md",
		ContentHash: "h1", UpdatedAt: time.Now().UTC(),
	}
	chunk := source.Chunk{
		ID: "c1", DocumentID: doc.ID, SourceID: src.ID, Content: "text",
		ContentType: source.ContentProse, Vector: []float32{1, 0, 0},
		Model: "m", CreatedAt: time.Now().UTC(),
	}
	if err := st.UpsertDocument(ctx, doc, []source.Chunk{chunk}); err != nil {
		t.Fatal(err)
	}

	if err := reg.Unregister(ctx, src.ID); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, err := reg.Get(ctx, src.ID); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("source still present: %v", err)
	}
	stats, _ := st.Stats(ctx, src.ID)
	if stats.Documents != 0 || stats.Chunks != 0 {
		t.Errorf("store not purged: %+v", stats)
	}

	if err := reg.Unregister(ctx, src.ID); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("second unregister: error = %v, want ErrNotFound", err)
	}
}

func TestScan_DiffsAgainstIndex(t *testing.T) {
	reg, st := setupRegistry(t)
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "alpha content here")
	writeFile(t, dir, "b.md", "beta content here")

	src, err := reg.Register(ctx, registry.RegisterRequest{Kind: source.KindLocalFolder, Locator: dir})
	if err != nil {
		t.Fatal(err)
	}

	plan, err := reg.Scan(ctx, src.ID)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(plan.ToAdd) != 2 || len(plan.ToUpdate) != 0 || len(plan.ToRemove) != 0 {
		t.Fatalf("initial plan: +%d ~%d -%d", len(plan.ToAdd), len(plan.ToUpdate), len(plan.ToRemove))
	}
	if plan.Fingerprint == "" {
		t.Error("plan missing fingerprint")
	}

	// Simulate indexing by storing each planned item.
	for _, item := range plan.ToAdd {
		doc := source.Document{
			ID: source.DocumentID(src.ID, item.Path), SourceID: src.ID, Path: item.Path,
			ContentHash: item.Hash, UpdatedAt: time.Now().UTC(),
		}
		if err := st.UpsertDocument(ctx, doc, []source.Chunk{{
			ID: doc.ID + "-c0", DocumentID: doc.ID, SourceID: src.ID,
			Content: item.Text, ContentType: item.ContentType,
			Vector: []float32{1, 0, 0}, Model: "m", CreatedAt: time.Now().UTC(),
		}}); err != nil {
			t.Fatal(err)
		}
	}

	plan2, err := reg.Scan(ctx, src.ID)
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if !plan2.Empty() || plan2.Unchanged != 2 {
		t.Errorf("re-scan of unchanged source: +%d ~%d -%d unchanged=%d",
			len(plan2.ToAdd), len(plan2.ToUpdate), len(plan2.ToRemove), plan2.Unchanged)
	}
	if plan2.Fingerprint != plan.Fingerprint {
		t.Error("fingerprint changed without content changes")
	}

	// One byte changes one document; another disappears.
	writeFile(t, dir, "a.md", "alpha content herE")
	if err := os.Remove(filepath.Join(dir, "b.md")); err != nil {
		t.Fatal(err)
	}

	plan3, err := reg.Scan(ctx, src.ID)
	if err != nil {
		t.Fatalf("third Scan: %v", err)
	}
	if len(plan3.ToUpdate) != 1 || plan3.ToUpdate[0].Path != "a.md" {
		t.Errorf("single-byte change not detected: %+v", plan3.ToUpdate)
	}
	if len(plan3.ToRemove) != 1 || plan3.ToRemove[0].Path != "b.md" {
		t.Errorf("removed file not detected: %+v", plan3.ToRemove)
	}
	if plan3.Fingerprint == plan.Fingerprint {
		t.Error("fingerprint did not change with content")
	}
}

func TestScan_Unreachable(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	dir := filepath.Join(t.TempDir(), "gone")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	src, err := reg.Register(ctx, registry.RegisterRequest{Kind: source.KindLocalFolder, Locator: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	_, err = reg.Scan(ctx, src.ID)
	var unreachable *registry.ScanUnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("error = %v, want *ScanUnreachableError", err)
	}
	if unreachable.SourceID != src.ID {
		t.Errorf("error names source %s, want %s", unreachable.SourceID, src.ID)
	}
}

func TestScan_AppliesFilter(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "keep.md", "kept")
	writeFile(t, dir, "skip.txt", "skipped")

	src, err := reg.Register(ctx, registry.RegisterRequest{
		Kind: source.KindLocalFolder, Locator: dir, Include: []string{"*.md"},
	})
	if err != nil {
		t.Fatal(err)
	}

	plan, err := reg.Scan(ctx, src.ID)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(plan.ToAdd) != 1 || plan.ToAdd[0].Path != "keep.md" {
		t.Errorf("filter not applied: %+v", plan.ToAdd)
	}
}
