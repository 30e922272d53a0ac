// Package extract resolves a knowledge source to its documents and
// turns each one into plain text with a content hash.
//
// Extraction is lazy and restartable: Extract re-walks the source from
// scratch on every call and emits documents one at a time through a
// callback. Per-document failures are emitted as items carrying an
// *Error and do not abort the remaining walk; only failures to resolve
// the source itself (missing root, failed clone, unreachable page)
// return an error from Extract.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/quarry-ai/quarry/internal/source"
)

// Error reports a failure extracting one document. Non-fatal: the
// orchestrator records it in the processing report and continues with
// sibling documents.
type Error struct {
	Path  string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extracting %s: %v", e.Path, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Item is one extracted document, or one per-document failure when Err
// is set (in which case the other fields besides Path are zero).
type Item struct {
	// Path addresses the document within its source: a relative file
	// path, a repository-relative path, a drive file name, or a URL.
	Path        string
	Text        string
	ContentType source.ContentType
	// Hash is the sha256 hex digest of Text, the change-detection key.
	Hash    string
	ModTime time.Time
	Err     *Error
}

// EmitFunc receives extracted items in walk order. Returning an error
// aborts the walk and propagates out of Extract.
type EmitFunc func(Item) error

// kindExtractor is the per-kind extraction strategy.
type kindExtractor interface {
	extract(ctx context.Context, src source.KnowledgeSource, emit EmitFunc) error
}

// Options configures the Extractor. Remote collaborators arrive here as
// already-authenticated handles; credential flows live outside the core.
type Options struct {
	// Drive is an authenticated Drive service. Nil disables drive
	// sources.
	Drive DriveService

	// RepoToken is a bearer token for cloning private repositories
	// over HTTPS. Empty means anonymous clone.
	RepoToken string

	// WebMaxDepth limits same-host link expansion; 1 fetches only the
	// registered page.
	WebMaxDepth int

	// WebMaxPages caps pages fetched per web source.
	WebMaxPages int

	// MaxDocumentBytes skips documents whose extracted text exceeds
	// this size. Zero applies DefaultMaxDocumentBytes.
	MaxDocumentBytes int

	Logger *slog.Logger
}

// DefaultMaxDocumentBytes bounds a single document's extracted text.
const DefaultMaxDocumentBytes = 4 * 1024 * 1024

// Extractor dispatches extraction to the strategy registered for each
// source kind. The kind set is closed; see source.Kind.
type Extractor struct {
	kinds  map[source.Kind]kindExtractor
	logger *slog.Logger
}

// New creates an Extractor with all kind strategies wired.
func New(opts Options) *Extractor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := opts.MaxDocumentBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}

	local := &localExtractor{maxBytes: maxBytes, logger: logger}
	ext := &Extractor{
		logger: logger,
		kinds: map[source.Kind]kindExtractor{
			source.KindLocalFile:   local,
			source.KindLocalFolder: local,
			source.KindRepository:  &repoExtractor{token: opts.RepoToken, maxBytes: maxBytes, logger: logger},
			source.KindWebPage: &webExtractor{
				maxDepth: max(opts.WebMaxDepth, 1),
				maxPages: max(opts.WebMaxPages, 1),
				logger:   logger,
			},
		},
	}
	if opts.Drive != nil {
		ext.kinds[source.KindDriveFolder] = &driveExtractor{service: opts.Drive, maxBytes: maxBytes, logger: logger}
	}
	return ext
}

// Extract walks the source and emits one Item per resolvable document.
func (e *Extractor) Extract(ctx context.Context, src source.KnowledgeSource, emit EmitFunc) error {
	strategy, ok := e.kinds[src.Kind]
	if !ok {
		return fmt.Errorf("no extractor configured for source kind %q", src.Kind)
	}
	return strategy.extract(ctx, src, emit)
}

// HashText computes the content hash used as the change-detection key.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// codeExtensions marks extensions chunked with the code strategy.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".java": true,
	".c": true, ".cpp": true, ".h": true, ".hpp": true, ".rs": true,
	".rb": true, ".php": true, ".sh": true, ".sql": true, ".kt": true,
	".swift": true, ".scala": true, ".cs": true,
}

// textExtensions marks non-code extensions extracted as plain text.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".rst": true, ".yaml": true, ".yml": true,
	".json": true, ".xml": true, ".toml": true, ".ini": true, ".cfg": true,
	".log": true, ".html": true, ".htm": true, ".csv": true, ".tsv": true,
}

// contentTypeFor tags a path for the chunking policy.
func contentTypeFor(path string) source.ContentType {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case codeExtensions[ext]:
		return source.ContentCode
	case ext == ".csv" || ext == ".tsv":
		return source.ContentTabular
	case ext == ".txt" || ext == ".md" || ext == ".rst" || ext == ".html" || ext == ".htm":
		return source.ContentProse
	case textExtensions[ext]:
		return source.ContentOther
	default:
		return source.ContentOther
	}
}

// supportedExtension reports whether a file is worth reading at all.
func supportedExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return codeExtensions[ext] || textExtensions[ext]
}

// looksBinary reports whether content is not usable text. NUL bytes or
// invalid UTF-8 in the first window disqualify a document; binary
// formats are skipped, not fatal.
func looksBinary(data []byte) bool {
	window := data
	if len(window) > 8000 {
		window = window[:8000]
	}
	for _, b := range window {
		if b == 0 {
			return true
		}
	}
	return !utf8.Valid(window)
}
