// Package source defines the domain model shared across the ingestion
// pipeline: knowledge sources, documents, chunks, and their identifiers.
//
// The Registry (internal/registry) exclusively owns persisted
// KnowledgeSource records; the Store (internal/store) exclusively owns
// persisted Document and Chunk records. Everything in this package is a
// plain value passed between components.
package source

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Kind identifies the origin type of a knowledge source. It is a closed
// set: extraction strategies are selected through a dispatch table keyed
// by Kind, never by runtime type inspection.
type Kind string

const (
	KindLocalFile   Kind = "local_file"
	KindLocalFolder Kind = "local_folder"
	KindRepository  Kind = "repository"
	KindDriveFolder Kind = "drive_folder"
	KindWebPage     Kind = "web_page"
)

// Kinds lists all valid source kinds.
func Kinds() []Kind {
	return []Kind{KindLocalFile, KindLocalFolder, KindRepository, KindDriveFolder, KindWebPage}
}

// ParseKind converts a string to a Kind, accepting both the canonical
// form ("local_folder") and a hyphenated alias ("local-folder").
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown source kind %q", s)
}

// Remote reports whether the kind is observed by polling rather than
// file-system events.
func (k Kind) Remote() bool {
	switch k {
	case KindRepository, KindDriveFolder, KindWebPage:
		return true
	default:
		return false
	}
}

// Status is the processing state of a knowledge source.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusIndexed    Status = "indexed"
	StatusError      Status = "error"
	StatusRemoved    Status = "removed"
)

// ContentType tags a document's text shape and drives the chunking
// policy.
type ContentType string

const (
	ContentProse   ContentType = "prose"
	ContentCode    ContentType = "code"
	ContentTabular ContentType = "tabular"
	ContentOther   ContentType = "other"
)

// KnowledgeSource is one registered origin of content.
type KnowledgeSource struct {
	ID            string
	Kind          Kind
	Name          string
	Locator       string
	Filter        Filter
	Monitoring    bool
	Status        Status
	Fingerprint   string
	DocumentCount int
	LastError     string
	ProcessedAt   time.Time
	CreatedAt     time.Time
}

// Document is one resolved unit of content under a source.
type Document struct {
	ID          string
	SourceID    string
	Path        string
	ContentHash string
	TextLength  int
	ChunkCount  int
	ModifiedAt  time.Time
	UpdatedAt   time.Time
}

// Chunk is one indexed unit of text. Chunks are immutable once created;
// re-indexing replaces a document's chunk set instead of mutating it.
type Chunk struct {
	ID          string
	DocumentID  string
	SourceID    string
	Index       int
	Content     string
	Start       int
	End         int
	ContentType ContentType
	Vector      []float32
	Model       string
	CreatedAt   time.Time
}

// NormalizeLocator canonicalizes a path or URL so that two spellings of
// the same origin map to the same source identifier.
func NormalizeLocator(locator string, kind Kind) (string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", fmt.Errorf("empty locator")
	}

	switch kind {
	case KindLocalFile, KindLocalFolder:
		abs, err := filepath.Abs(locator)
		if err != nil {
			return "", fmt.Errorf("resolving path %q: %w", locator, err)
		}
		return filepath.Clean(abs), nil

	case KindWebPage:
		u, err := url.Parse(locator)
		if err != nil {
			return "", fmt.Errorf("parsing URL %q: %w", locator, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
		}
		u.Host = strings.ToLower(u.Host)
		u.Fragment = ""
		if u.Path == "" {
			u.Path = "/"
		}
		return u.String(), nil

	case KindRepository:
		// Either a local checkout path or a remote clone URL.
		if strings.Contains(locator, "://") || strings.HasPrefix(locator, "git@") {
			return strings.TrimSuffix(locator, "/"), nil
		}
		abs, err := filepath.Abs(locator)
		if err != nil {
			return "", fmt.Errorf("resolving path %q: %w", locator, err)
		}
		return filepath.Clean(abs), nil

	case KindDriveFolder:
		// Drive folder IDs are opaque; accept either a bare ID or a
		// folder URL and keep the ID.
		if u, err := url.Parse(locator); err == nil && u.Host != "" {
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			return parts[len(parts)-1], nil
		}
		return locator, nil

	default:
		return "", fmt.Errorf("unknown source kind %q", kind)
	}
}

// SourceID derives the stable source identifier from a normalized
// locator and kind.
func SourceID(normalizedLocator string, kind Kind) string {
	sum := sha256.Sum256([]byte(string(kind) + "\x00" + normalizedLocator))
	return "src_" + hex.EncodeToString(sum[:16])
}

// DocumentID derives the stable document identifier from its owning
// source and path.
func DocumentID(sourceID, path string) string {
	sum := sha256.Sum256([]byte(sourceID + "\x00" + path))
	return "doc_" + hex.EncodeToString(sum[:16])
}

// Fingerprint summarizes a source's current content as a hash over the
// sorted per-document content hashes. Order-independent: two scans that
// see the same documents with the same hashes produce the same value.
func Fingerprint(docHashes map[string]string) string {
	if len(docHashes) == 0 {
		return ""
	}
	paths := make([]string, 0, len(docHashes))
	for p := range docHashes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write([]byte(docHashes[p]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
