package extract

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/quarry-ai/quarry/internal/source"
)

// localExtractor handles KindLocalFile and KindLocalFolder sources.
type localExtractor struct {
	maxBytes int
	logger   *slog.Logger
}

func (l *localExtractor) extract(ctx context.Context, src source.KnowledgeSource, emit EmitFunc) error {
	info, err := os.Stat(src.Locator)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", src.Locator, err)
	}

	if src.Kind == source.KindLocalFile || !info.IsDir() {
		item, ok := l.readFile(src.Locator, filepath.Base(src.Locator))
		if !ok {
			return fmt.Errorf("unsupported file type: %s", src.Locator)
		}
		return emit(item)
	}

	root := src.Locator
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			// Unreadable entries are per-document failures, except the
			// root itself which fails the whole walk above via Stat.
			if emitErr := emit(Item{Path: relOr(path, root), Err: &Error{Path: path, Cause: walkErr}}); emitErr != nil {
				return emitErr
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel := relOr(path, root)
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(d.Name(), ".") || !supportedExtension(path) {
			return nil
		}
		if !src.Filter.Match(rel) {
			return nil
		}

		item, ok := l.readFile(path, rel)
		if !ok {
			return nil // binary or oversized, skip silently
		}
		return emit(item)
	})
}

func relOr(path, root string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// readFile reads and converts one file. The bool result is false when
// the file is skipped (binary, oversized, unreadable content kinds);
// read failures come back as an Item with Err set.
func (l *localExtractor) readFile(path, rel string) (Item, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return Item{Path: rel, Err: &Error{Path: rel, Cause: err}}, true
	}
	if info.Size() > int64(l.maxBytes) {
		l.logger.Debug("skipping oversized file", "path", rel, "size", info.Size())
		return Item{}, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Item{Path: rel, Err: &Error{Path: rel, Cause: err}}, true
	}
	if looksBinary(data) {
		l.logger.Debug("skipping binary file", "path", rel)
		return Item{}, false
	}

	text := string(data)
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".html" || ext == ".htm" {
		stripped, err := htmlToText(data)
		if err != nil {
			return Item{Path: rel, Err: &Error{Path: rel, Cause: err}}, true
		}
		text = stripped
	}

	if strings.TrimSpace(text) == "" {
		return Item{}, false
	}

	return Item{
		Path:        rel,
		Text:        text,
		ContentType: contentTypeFor(path),
		Hash:        HashText(text),
		ModTime:     info.ModTime(),
	}, true
}

// htmlToText strips markup from a local HTML file, dropping script and
// style subtrees.
func htmlToText(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	return strings.TrimSpace(doc.Text()), nil
}
