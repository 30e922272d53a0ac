package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/quarry-ai/quarry/internal/source"
)

// SQLite is the embedded store backend. Vectors are stored as
// little-endian float32 blobs and similarity is computed in-process
// over the candidate rows, which stays comfortably fast for the corpus
// sizes a local knowledge base reaches.
type SQLite struct {
	db        *sql.DB
	dimension int
	logger    *slog.Logger
}

// NewSQLite creates the SQLite store on an opened, migrated database.
func NewSQLite(db *sql.DB, dimension int, logger *slog.Logger) (*SQLite, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("store dimension must be positive, got %d", dimension)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLite{db: db, dimension: dimension, logger: logger}, nil
}

// UpsertDocument implements Store. The replacement runs in one
// transaction: on any failure the transaction rolls back and the prior
// chunk generation stays intact.
func (s *SQLite) UpsertDocument(ctx context.Context, doc source.Document, chunks []source.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &UnavailableError{Op: "upsert", Cause: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
		return &UnavailableError{Op: "upsert", Cause: err}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, source_id, path, content_hash, text_length, chunk_count, modified_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			content_hash = excluded.content_hash,
			text_length  = excluded.text_length,
			chunk_count  = excluded.chunk_count,
			modified_at  = excluded.modified_at,
			updated_at   = excluded.updated_at`,
		doc.ID, doc.SourceID, doc.Path, doc.ContentHash, doc.TextLength, len(chunks),
		nullTime(doc.ModifiedAt), time.Now().UTC(),
	); err != nil {
		return &UnavailableError{Op: "upsert", Cause: err}
	}

	for _, c := range chunks {
		if len(c.Vector) != s.dimension {
			return &DimensionError{Got: len(c.Vector), Want: s.dimension}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, source_id, chunk_index, content,
				start_offset, end_offset, content_type, embedding, model, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, c.SourceID, c.Index, c.Content,
			c.Start, c.End, string(c.ContentType), encodeVector(c.Vector), c.Model, c.CreatedAt.UTC(),
		); err != nil {
			return &UnavailableError{Op: "upsert", Cause: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &UnavailableError{Op: "upsert", Cause: err}
	}

	s.logger.Debug("document upserted", "document_id", doc.ID, "chunks", len(chunks))
	return nil
}

// DeleteDocument implements Store.
func (s *SQLite) DeleteDocument(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &UnavailableError{Op: "delete document", Cause: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return &UnavailableError{Op: "delete document", Cause: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID); err != nil {
		return &UnavailableError{Op: "delete document", Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return &UnavailableError{Op: "delete document", Cause: err}
	}
	return nil
}

// DeleteSource implements Store.
func (s *SQLite) DeleteSource(ctx context.Context, sourceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &UnavailableError{Op: "delete source", Cause: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = ?`, sourceID); err != nil {
		return &UnavailableError{Op: "delete source", Cause: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE source_id = ?`, sourceID); err != nil {
		return &UnavailableError{Op: "delete source", Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return &UnavailableError{Op: "delete source", Cause: err}
	}
	return nil
}

// Query implements Store.
func (s *SQLite) Query(ctx context.Context, vector []float32, topK int, f Filter) ([]Match, error) {
	if len(vector) != s.dimension {
		return nil, &DimensionError{Got: len(vector), Want: s.dimension}
	}
	if topK < 1 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	query := `
		SELECT c.id, c.document_id, c.source_id, c.chunk_index, c.content,
			c.start_offset, c.end_offset, c.content_type, c.embedding, c.model,
			c.created_at, d.path
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.model = ?`
	args := []any{f.Model}
	if f.SourceID != "" {
		query += ` AND c.source_id = ?`
		args = append(args, f.SourceID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &UnavailableError{Op: "query", Cause: err}
	}
	defer func() { _ = rows.Close() }()

	var matches []Match
	for rows.Next() {
		var (
			c    source.Chunk
			ct   string
			blob []byte
			path string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.SourceID, &c.Index, &c.Content,
			&c.Start, &c.End, &ct, &blob, &c.Model, &c.CreatedAt, &path); err != nil {
			return nil, &UnavailableError{Op: "query", Cause: err}
		}
		c.ContentType = source.ContentType(ct)

		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		if len(vec) != len(vector) {
			// A retired model with a different dimension slipped past
			// the model filter; never compare across dimensions.
			return nil, &DimensionError{Got: len(vec), Want: len(vector)}
		}
		c.Vector = vec

		matches = append(matches, Match{
			Chunk:        c,
			DocumentPath: path,
			Similarity:   cosine(vector, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &UnavailableError{Op: "query", Cause: err}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if !matches[i].Chunk.CreatedAt.Equal(matches[j].Chunk.CreatedAt) {
			return matches[i].Chunk.CreatedAt.After(matches[j].Chunk.CreatedAt)
		}
		return matches[i].Chunk.ID < matches[j].Chunk.ID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Documents implements Store.
func (s *SQLite) Documents(ctx context.Context, sourceID string) ([]source.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, path, content_hash, text_length, chunk_count, modified_at, updated_at
		FROM documents WHERE source_id = ? ORDER BY path`, sourceID)
	if err != nil {
		return nil, &UnavailableError{Op: "list documents", Cause: err}
	}
	defer func() { _ = rows.Close() }()

	var docs []source.Document
	for rows.Next() {
		var (
			d        source.Document
			modified sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.SourceID, &d.Path, &d.ContentHash,
			&d.TextLength, &d.ChunkCount, &modified, &d.UpdatedAt); err != nil {
			return nil, &UnavailableError{Op: "list documents", Cause: err}
		}
		if modified.Valid {
			d.ModifiedAt = modified.Time
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Models implements Store.
func (s *SQLite) Models(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT model FROM chunks ORDER BY model`)
	if err != nil {
		return nil, &UnavailableError{Op: "list models", Cause: err}
	}
	defer func() { _ = rows.Close() }()

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
func (s *SQLite) Stats(ctx context.Context, sourceID string) (Stats, error) {
	var st Stats
	var err error
	if sourceID != "" {
		err = s.db.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM documents WHERE source_id = ?),
				(SELECT COUNT(*) FROM chunks WHERE source_id = ?)`,
			sourceID, sourceID).Scan(&st.Documents, &st.Chunks)
	} else {
		err = s.db.QueryRowContext(ctx, `
			SELECT (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM chunks)`).
			Scan(&st.Documents, &st.Chunks)
	}
	if err != nil {
		return Stats{}, &UnavailableError{Op: "stats", Cause: err}
	}
	return st, nil
}

// Close implements Store. The database handle is shared with the
// registry and closed by the owner, not here.
func (*SQLite) Close() error { return nil }

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// encodeVector packs a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("malformed vector blob of %d bytes", len(blob))
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
