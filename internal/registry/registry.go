// Package registry persists the catalog of knowledge sources and plans
// incremental re-indexing by diffing a fresh extraction pass against
// the indexed document set.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quarry-ai/quarry/internal/extract"
	"github.com/quarry-ai/quarry/internal/source"
	"github.com/quarry-ai/quarry/internal/store"
)

// ErrNotFound is returned when a source ID does not exist.
var ErrNotFound = errors.New("source not found")

// DuplicateSourceError is returned by Register when the normalized
// locator already maps to a registered source.
type DuplicateSourceError struct {
	ID      string
	Locator string
}

func (e *DuplicateSourceError) Error() string {
	return fmt.Sprintf("source already registered as %s (locator %q)", e.ID, e.Locator)
}

// ScanUnreachableError is returned by Scan when the source's origin
// cannot be reached at all. Per-document failures do not trigger it;
// they are reported in the plan instead.
type ScanUnreachableError struct {
	SourceID string
	Cause    error
}

func (e *ScanUnreachableError) Error() string {
	return fmt.Sprintf("source %s unreachable: %v", e.SourceID, e.Cause)
}

func (e *ScanUnreachableError) Unwrap() error { return e.Cause }

// Plan is the outcome of one scan: the work needed to bring the index
// in line with the source's current content. Items carry the extracted
// text, so executing the plan never re-reads the origin.
type Plan struct {
	Source      source.KnowledgeSource
	ToAdd       []extract.Item
	ToUpdate    []extract.Item
	ToRemove    []source.Document
	Failures    []extract.Item
	Unchanged   int
	Fingerprint string
}

// Empty reports whether the plan requires no index changes.
func (p *Plan) Empty() bool {
	return len(p.ToAdd) == 0 && len(p.ToUpdate) == 0 && len(p.ToRemove) == 0
}

// RegisterRequest describes a source to register.
type RegisterRequest struct {
	Kind       source.Kind
	Name       string
	Locator    string
	Include    []string
	Exclude    []string
	Monitoring bool
}

// Registry owns the sources table and coordinates scans against the
// extractor and the chunk store.
type Registry struct {
	db        *sql.DB
	store     store.Store
	extractor *extract.Extractor
	logger    *slog.Logger
}

// New creates a Registry over an open catalog database.
func New(db *sql.DB, st store.Store, ex *extract.Extractor, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{db: db, store: st, extractor: ex, logger: logger}
}

// Register validates and persists a new source in pending state. The
// source ID is derived from the normalized locator, so registering the
// same origin twice fails with *DuplicateSourceError regardless of how
// the locator was spelled.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (source.KnowledgeSource, error) {
	normalized, err := source.NormalizeLocator(req.Locator, req.Kind)
	if err != nil {
		return source.KnowledgeSource{}, fmt.Errorf("invalid locator: %w", err)
	}

	filter, err := source.NewFilter(req.Include, req.Exclude)
	if err != nil {
		return source.KnowledgeSource{}, fmt.Errorf("invalid filter: %w", err)
	}

	id := source.SourceID(normalized, req.Kind)
	if existing, err := r.Get(ctx, id); err == nil {
		return source.KnowledgeSource{}, &DuplicateSourceError{ID: existing.ID, Locator: existing.Locator}
	} else if !errors.Is(err, ErrNotFound) {
		return source.KnowledgeSource{}, err
	}

	name := req.Name
	if name == "" {
		name = normalized
	}

	src := source.KnowledgeSource{
		ID:         id,
		Kind:       req.Kind,
		Name:       name,
		Locator:    normalized,
		Filter:     filter,
		Monitoring: req.Monitoring,
		Status:     source.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	include, exclude, err := encodePatterns(filter)
	if err != nil {
		return source.KnowledgeSource{}, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sources (id, kind, name, locator, include, exclude, monitoring, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, string(src.Kind), src.Name, src.Locator, include, exclude,
		src.Monitoring, string(src.Status), src.CreatedAt,
	)
	if err != nil {
		return source.KnowledgeSource{}, fmt.Errorf("registering source: %w", err)
	}

	r.logger.Info("source registered", "source_id", src.ID, "kind", src.Kind, "locator", src.Locator)
	return src, nil
}

// Get returns one source by ID.
func (r *Registry) Get(ctx context.Context, id string) (source.KnowledgeSource, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, kind, name, locator, include, exclude, monitoring, status,
			fingerprint, document_count, last_error, processed_at, created_at
		FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return source.KnowledgeSource{}, ErrNotFound
	}
	return src, err
}

// List returns all registered sources ordered by creation time.
func (r *Registry) List(ctx context.Context) ([]source.KnowledgeSource, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, name, locator, include, exclude, monitoring, status,
			fingerprint, document_count, last_error, processed_at, created_at
		FROM sources ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var sources []source.KnowledgeSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// SetStatus transitions a source's processing state. An empty lastErr
// clears any previous error message.
func (r *Registry) SetStatus(ctx context.Context, id string, status source.Status, lastErr string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sources SET status = ?, last_error = ? WHERE id = ?`,
		string(status), lastErr, id)
	if err != nil {
		return fmt.Errorf("updating source status: %w", err)
	}
	return checkFound(res)
}

// SetIndexed marks a source as successfully indexed with its new
// content fingerprint and document count.
func (r *Registry) SetIndexed(ctx context.Context, id, fingerprint string, documentCount int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sources
		SET status = ?, fingerprint = ?, document_count = ?, last_error = '', processed_at = ?
		WHERE id = ?`,
		string(source.StatusIndexed), fingerprint, documentCount, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("marking source indexed: %w", err)
	}
	return checkFound(res)
}

// SetMonitoring toggles change monitoring for a source.
func (r *Registry) SetMonitoring(ctx context.Context, id string, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sources SET monitoring = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("updating source monitoring: %w", err)
	}
	return checkFound(res)
}

// Unregister removes the source record and purges all of its documents
// and chunks from the store.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	if err := r.store.DeleteSource(ctx, id); err != nil {
		return fmt.Errorf("purging source %s: %w", id, err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting source %s: %w", id, err)
	}
	r.logger.Info("source unregistered", "source_id", id)
	return nil
}

// Scan extracts the source's current content and diffs it against the
// indexed documents. Nothing is written; the caller executes the plan.
// A root-level extraction failure returns *ScanUnreachableError and
// leaves the existing index untouched.
func (r *Registry) Scan(ctx context.Context, id string) (*Plan, error) {
	src, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Source: src}
	var items []extract.Item
	seen := make(map[string]bool)
	err = r.extractor.Extract(ctx, src, func(item extract.Item) error {
		if item.Err != nil {
			plan.Failures = append(plan.Failures, item)
			return nil
		}
		// Paths key document identity; a repeat would put the same
		// document in the plan twice. Keep the first occurrence.
		if seen[item.Path] {
			r.logger.Warn("duplicate path from extractor", "source_id", id, "path", item.Path)
			return nil
		}
		seen[item.Path] = true
		items = append(items, item)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ScanUnreachableError{SourceID: id, Cause: err}
	}

	existing, err := r.store.Documents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading indexed documents: %w", err)
	}
	indexed := make(map[string]source.Document, len(existing))
	for _, d := range existing {
		indexed[d.Path] = d
	}

	hashes := make(map[string]string, len(items))
	for _, item := range items {
		hashes[item.Path] = item.Hash
		prev, ok := indexed[item.Path]
		switch {
		case !ok:
			plan.ToAdd = append(plan.ToAdd, item)
		case prev.ContentHash != item.Hash:
			plan.ToUpdate = append(plan.ToUpdate, item)
		default:
			plan.Unchanged++
		}
		delete(indexed, item.Path)
	}
	for _, d := range indexed {
		plan.ToRemove = append(plan.ToRemove, d)
	}
	plan.Fingerprint = source.Fingerprint(hashes)

	r.logger.Debug("scan complete", "source_id", id,
		"add", len(plan.ToAdd), "update", len(plan.ToUpdate),
		"remove", len(plan.ToRemove), "unchanged", plan.Unchanged,
		"failures", len(plan.Failures))
	return plan, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (source.KnowledgeSource, error) {
	var (
		src              source.KnowledgeSource
		kind, status     string
		include, exclude string
		processedAt      sql.NullTime
	)
	err := row.Scan(&src.ID, &kind, &src.Name, &src.Locator, &include, &exclude,
		&src.Monitoring, &status, &src.Fingerprint, &src.DocumentCount,
		&src.LastError, &processedAt, &src.CreatedAt)
	if err != nil {
		return source.KnowledgeSource{}, err
	}
	src.Kind = source.Kind(kind)
	src.Status = source.Status(status)
	if processedAt.Valid {
		src.ProcessedAt = processedAt.Time
	}
	if src.Filter, err = decodePatterns(include, exclude); err != nil {
		return source.KnowledgeSource{}, fmt.Errorf("source %s: %w", src.ID, err)
	}
	return src, nil
}

func checkFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodePatterns(f source.Filter) (include, exclude string, err error) {
	inc, err := json.Marshal(patternsOrEmpty(f.Include))
	if err != nil {
		return "", "", fmt.Errorf("encoding include patterns: %w", err)
	}
	exc, err := json.Marshal(patternsOrEmpty(f.Exclude))
	if err != nil {
		return "", "", fmt.Errorf("encoding exclude patterns: %w", err)
	}
	return string(inc), string(exc), nil
}

func decodePatterns(include, exclude string) (source.Filter, error) {
	var inc, exc []string
	if include != "" {
		if err := json.Unmarshal([]byte(include), &inc); err != nil {
			return source.Filter{}, fmt.Errorf("decoding include patterns: %w", err)
		}
	}
	if exclude != "" {
		if err := json.Unmarshal([]byte(exclude), &exc); err != nil {
			return source.Filter{}, fmt.Errorf("decoding exclude patterns: %w", err)
		}
	}
	return source.NewFilter(inc, exc)
}

func patternsOrEmpty(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}
