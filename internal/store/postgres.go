package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/quarry-ai/quarry/internal/source"
)

// Postgres is the pgvector-backed store for installations that keep
// their index in a shared database instead of the local file. Same
// contract as SQLite; similarity ranking runs in SQL with the cosine
// distance operator.
type Postgres struct {
	pool      *pgxpool.Pool
	dimension int
	logger    *slog.Logger
}

// NewPostgres connects to the database at dsn and ensures the schema
// exists with the configured vector dimension.
func NewPostgres(ctx context.Context, dsn string, dimension int, logger *slog.Logger) (*Postgres, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("store dimension must be positive, got %d", dimension)
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres DSN: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &UnavailableError{Op: "connect", Cause: err}
	}

	p := &Postgres{pool: pool, dimension: dimension, logger: logger}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
			id           TEXT PRIMARY KEY,
			source_id    TEXT NOT NULL,
			path         TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			text_length  INTEGER NOT NULL DEFAULT 0,
			chunk_count  INTEGER NOT NULL DEFAULT 0,
			modified_at  TIMESTAMPTZ,
			updated_at   TIMESTAMPTZ NOT NULL,
			UNIQUE (source_id, path)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id           TEXT PRIMARY KEY,
			document_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			source_id    TEXT NOT NULL,
			chunk_index  INTEGER NOT NULL,
			content      TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset   INTEGER NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'prose',
			embedding    vector(%d) NOT NULL,
			model        TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		)`, p.dimension),
		`CREATE INDEX IF NOT EXISTS chunks_source_idx ON chunks (source_id)`,
		`CREATE INDEX IF NOT EXISTS chunks_model_idx ON chunks (model)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return &UnavailableError{Op: "ensure schema", Cause: err}
		}
	}
	return nil
}

// UpsertDocument implements Store.
func (p *Postgres) UpsertDocument(ctx context.Context, doc source.Document, chunks []source.Chunk) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return &UnavailableError{Op: "upsert", Cause: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, doc.ID); err != nil {
		return &UnavailableError{Op: "upsert", Cause: err}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO documents (id, source_id, path, content_hash, text_length, chunk_count, modified_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			text_length  = EXCLUDED.text_length,
			chunk_count  = EXCLUDED.chunk_count,
			modified_at  = EXCLUDED.modified_at,
			updated_at   = EXCLUDED.updated_at`,
		doc.ID, doc.SourceID, doc.Path, doc.ContentHash, doc.TextLength, len(chunks),
		nullTime(doc.ModifiedAt), time.Now().UTC(),
	); err != nil {
		return &UnavailableError{Op: "upsert", Cause: err}
	}

	for _, c := range chunks {
		if len(c.Vector) != p.dimension {
			return &DimensionError{Got: len(c.Vector), Want: p.dimension}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, document_id, source_id, chunk_index, content,
				start_offset, end_offset, content_type, embedding, model, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			c.ID, c.DocumentID, c.SourceID, c.Index, c.Content,
			c.Start, c.End, string(c.ContentType), pgvector.NewVector(c.Vector), c.Model, c.CreatedAt.UTC(),
		); err != nil {
			return &UnavailableError{Op: "upsert", Cause: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &UnavailableError{Op: "upsert", Cause: err}
	}
	p.logger.Debug("document upserted", "document_id", doc.ID, "chunks", len(chunks))
	return nil
}

// DeleteDocument implements Store. Chunk rows cascade.
func (p *Postgres) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, documentID); err != nil {
		return &UnavailableError{Op: "delete document", Cause: err}
	}
	return nil
}

// DeleteSource implements Store.
func (p *Postgres) DeleteSource(ctx context.Context, sourceID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE source_id = $1`, sourceID); err != nil {
		return &UnavailableError{Op: "delete source", Cause: err}
	}
	return nil
}

// Query implements Store.
func (p *Postgres) Query(ctx context.Context, vector []float32, topK int, f Filter) ([]Match, error) {
	if len(vector) != p.dimension {
		return nil, &DimensionError{Got: len(vector), Want: p.dimension}
	}
	if topK < 1 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	query := `
		SELECT c.id, c.document_id, c.source_id, c.chunk_index, c.content,
			c.start_offset, c.end_offset, c.content_type, c.model, c.created_at,
			d.path, 1 - (c.embedding <=> $1) AS similarity
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.model = $2`
	args := []any{pgvector.NewVector(vector), f.Model}
	if f.SourceID != "" {
		query += ` AND c.source_id = $3`
		args = append(args, f.SourceID)
	}
	query += fmt.Sprintf(` ORDER BY c.embedding <=> $1, c.created_at DESC, c.id LIMIT %d`, topK)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &UnavailableError{Op: "query", Cause: err}
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m  Match
			ct string
		)
		if err := rows.Scan(&m.Chunk.ID, &m.Chunk.DocumentID, &m.Chunk.SourceID,
			&m.Chunk.Index, &m.Chunk.Content, &m.Chunk.Start, &m.Chunk.End,
			&ct, &m.Chunk.Model, &m.Chunk.CreatedAt, &m.DocumentPath, &m.Similarity); err != nil {
			return nil, &UnavailableError{Op: "query", Cause: err}
		}
		m.Chunk.ContentType = source.ContentType(ct)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &UnavailableError{Op: "query", Cause: err}
	}
	return matches, nil
}

// Documents implements Store.
func (p *Postgres) Documents(ctx context.Context, sourceID string) ([]source.Document, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, source_id, path, content_hash, text_length, chunk_count,
			COALESCE(modified_at, 'epoch'::timestamptz), updated_at
		FROM documents WHERE source_id = $1 ORDER BY path`, sourceID)
	if err != nil {
		return nil, &UnavailableError{Op: "list documents", Cause: err}
	}
	defer rows.Close()

	var docs []source.Document
	for rows.Next() {
		var d source.Document
		if err := rows.Scan(&d.ID, &d.SourceID, &d.Path, &d.ContentHash,
			&d.TextLength, &d.ChunkCount, &d.ModifiedAt, &d.UpdatedAt); err != nil {
			return nil, &UnavailableError{Op: "list documents", Cause: err}
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Models implements Store.
func (p *Postgres) Models(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT model FROM chunks ORDER BY model`)
	if err != nil {
		return nil, &UnavailableError{Op: "list models", Cause: err}
	}
	defer rows.Close()

	var models []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, &UnavailableError{Op: "list models", Cause: err}
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// Stats implements Store.
func (p *Postgres) Stats(ctx context.Context, sourceID string) (Stats, error) {
	var st Stats
	var err error
	if sourceID != "" {
		err = p.pool.QueryRow(ctx, `
			SELECT
				(SELECT COUNT(*) FROM documents WHERE source_id = $1),
				(SELECT COUNT(*) FROM chunks WHERE source_id = $1)`, sourceID).
			Scan(&st.Documents, &st.Chunks)
	} else {
		err = p.pool.QueryRow(ctx, `
			SELECT (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM chunks)`).
			Scan(&st.Documents, &st.Chunks)
	}
	if err != nil {
		return Stats{}, &UnavailableError{Op: "stats", Cause: err}
	}
	return st, nil
}

// Close implements Store.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
