package extract

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/quarry-ai/quarry/internal/source"
)

func write(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
}

func extractAll(t *testing.T, ex *Extractor, src source.KnowledgeSource) []Item {
	t.Helper()
	var items []Item
	err := ex.Extract(context.Background(), src, func(item Item) error {
		items = append(items, item)
		return nil
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	return items
}

func TestLocal_FolderWalk(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "readme.md", []byte("# readme"))
	write(t, dir, "src/main.go", []byte("package main"))
	write(t, dir, "data.csv", []byte("a,b\n1,2\n"))
	write(t, dir, ".hidden.md", []byte("hidden"))
	write(t, dir, ".git/config", []byte("[core]"))
	write(t, dir, "image.png", []byte("not really a png"))
	write(t, dir, "blob.bin", []byte{0x00, 0x01, 0x02})

	src := source.KnowledgeSource{Kind: source.KindLocalFolder, Locator: dir}
	items := extractAll(t, New(Options{}), src)

	paths := make([]string, 0, len(items))
	for _, it := range items {
		if it.Err != nil {
			t.Errorf("unexpected failure for %s: %v", it.Path, it.Err)
			continue
		}
		paths = append(paths, it.Path)
	}
	sort.Strings(paths)

	want := []string{"data.csv", "readme.md", "src/main.go"}
	if len(paths) != len(want) {
		t.Fatalf("extracted %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("extracted %v, want %v", paths, want)
			break
		}
	}
}

func TestLocal_ItemFields(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "code.go", []byte("package x\n"))
	write(t, dir, "table.csv", []byte("a,b\n1,2\n"))
	write(t, dir, "notes.md", []byte("hello"))

	src := source.KnowledgeSource{Kind: source.KindLocalFolder, Locator: dir}
	byPath := map[string]Item{}
	for _, it := range extractAll(t, New(Options{}), src) {
		byPath[it.Path] = it
	}

	if got := byPath["code.go"].ContentType; got != source.ContentCode {
		t.Errorf("code.go content type = %s", got)
	}
	if got := byPath["table.csv"].ContentType; got != source.ContentTabular {
		t.Errorf("table.csv content type = %s", got)
	}
	if got := byPath["notes.md"].ContentType; got != source.ContentProse {
		t.Errorf("notes.md content type = %s", got)
	}

	it := byPath["notes.md"]
	if it.Text != "hello" || it.Hash != HashText("hello") {
		t.Errorf("notes.md item = %+v", it)
	}
	if it.ModTime.IsZero() {
		t.Error("mod time not recorded")
	}
}

func TestLocal_SingleFile(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "only.md", []byte("single file content"))

	src := source.KnowledgeSource{Kind: source.KindLocalFile, Locator: filepath.Join(dir, "only.md")}
	items := extractAll(t, New(Options{}), src)
	if len(items) != 1 || items[0].Path != "only.md" {
		t.Fatalf("items = %+v", items)
	}
}

func TestLocal_MissingRootIsFatal(t *testing.T) {
	ex := New(Options{})
	src := source.KnowledgeSource{Kind: source.KindLocalFolder, Locator: filepath.Join(t.TempDir(), "nope")}
	err := ex.Extract(context.Background(), src, func(Item) error { return nil })
	if err == nil {
		t.Fatal("missing root must fail the extraction")
	}
}

func TestLocal_FilterApplied(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "docs/keep.md", []byte("keep"))
	write(t, dir, "vendor/skip.md", []byte("skip"))

	filter, err := source.NewFilter(nil, []string{"vendor/**"})
	if err != nil {
		t.Fatal(err)
	}
	src := source.KnowledgeSource{Kind: source.KindLocalFolder, Locator: dir, Filter: filter}
	items := extractAll(t, New(Options{}), src)
	if len(items) != 1 || items[0].Path != "docs/keep.md" {
		t.Errorf("items = %+v", items)
	}
}

func TestLocal_HTMLStripped(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "page.html", []byte(`<html><head><style>.x{}</style></head>
<body><script>alert(1)</script><p>Visible text</p></body></html>`))

	src := source.KnowledgeSource{Kind: source.KindLocalFolder, Locator: dir}
	items := extractAll(t, New(Options{}), src)
	if len(items) != 1 {
		t.Fatalf("items = %+v", items)
	}
	text := items[0].Text
	if text != "Visible text" {
		t.Errorf("stripped text = %q", text)
	}
}

func TestLooksBinary(t *testing.T) {
	if looksBinary([]byte("plain text")) {
		t.Error("plain text flagged as binary")
	}
	if !looksBinary([]byte{'a', 0x00, 'b'}) {
		t.Error("NUL byte not flagged")
	}
	if !looksBinary([]byte{0xff, 0xfe, 0xfd}) {
		t.Error("invalid UTF-8 not flagged")
	}
}

func TestHashText_SingleByteSensitivity(t *testing.T) {
	if HashText("content a") == HashText("content b") {
		t.Error("different content must hash differently")
	}
	if HashText("same") != HashText("same") {
		t.Error("hash must be deterministic")
	}
}
