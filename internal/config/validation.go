package config

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidChunkSize indicates chunking.max_size is out of range.
	ErrInvalidChunkSize = errors.New("invalid chunk max size")

	// ErrInvalidOverlap indicates chunking.overlap is negative or not
	// strictly less than chunking.max_size.
	ErrInvalidOverlap = errors.New("invalid chunk overlap")

	// ErrInvalidEmbeddingModel indicates embedding.model is empty.
	ErrInvalidEmbeddingModel = errors.New("invalid embedding model")

	// ErrInvalidDimension indicates embedding.dimension is out of range.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidDriver indicates storage.driver is not a known backend.
	ErrInvalidDriver = errors.New("invalid storage driver")

	// ErrInvalidWorkers indicates ingest.max_workers is out of range.
	ErrInvalidWorkers = errors.New("invalid worker count")

	// ErrInvalidTopK indicates retrieval.top_k is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top_k")

	// ErrInvalidMinScore indicates retrieval.min_score is outside [0, 1].
	ErrInvalidMinScore = errors.New("invalid retrieval min_score")

	// ErrInvalidDebounce indicates monitor.debounce is not positive.
	ErrInvalidDebounce = errors.New("invalid monitor debounce")

	// ErrInvalidWebLimit indicates a web crawl limit is not positive.
	ErrInvalidWebLimit = errors.New("invalid web crawl limit")
)

const (
	minChunkSize = 64
	maxChunkSize = 32 * 1024
	maxWorkers   = 64
	maxTopK      = 100
	maxDimension = 4096
)

// Validate checks all option ranges. It returns the first violation
// wrapped around its sentinel error.
func (c *Config) Validate() error {
	if c.Chunking.MaxSize < minChunkSize || c.Chunking.MaxSize > maxChunkSize {
		return fmt.Errorf("%w: %d not in [%d, %d]",
			ErrInvalidChunkSize, c.Chunking.MaxSize, minChunkSize, maxChunkSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxSize {
		return fmt.Errorf("%w: %d must be in [0, max_size)", ErrInvalidOverlap, c.Chunking.Overlap)
	}

	if c.Embedding.Model == "" {
		return fmt.Errorf("%w: model must not be empty", ErrInvalidEmbeddingModel)
	}
	if c.Embedding.Dimension <= 0 || c.Embedding.Dimension > maxDimension {
		return fmt.Errorf("%w: %d not in (0, %d]", ErrInvalidDimension, c.Embedding.Dimension, maxDimension)
	}

	if c.Storage.Driver != DriverSQLite && c.Storage.Driver != DriverPostgres {
		return fmt.Errorf("%w: %q (want %q or %q)",
			ErrInvalidDriver, c.Storage.Driver, DriverSQLite, DriverPostgres)
	}

	if c.Ingest.MaxWorkers < 1 || c.Ingest.MaxWorkers > maxWorkers {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidWorkers, c.Ingest.MaxWorkers, maxWorkers)
	}
	if c.Ingest.EmbedBatchSize < 1 {
		return fmt.Errorf("%w: embed_batch_size %d must be positive", ErrInvalidWorkers, c.Ingest.EmbedBatchSize)
	}

	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > maxTopK {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidTopK, c.Retrieval.TopK, maxTopK)
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("%w: %v not in [0, 1]", ErrInvalidMinScore, c.Retrieval.MinScore)
	}
	if c.Retrieval.PerDocumentCap < 1 {
		return fmt.Errorf("%w: per_document_cap %d must be positive", ErrInvalidTopK, c.Retrieval.PerDocumentCap)
	}
	if c.Retrieval.OverfetchFactor < 1 {
		return fmt.Errorf("%w: overfetch_factor %d must be positive", ErrInvalidTopK, c.Retrieval.OverfetchFactor)
	}

	if c.Monitor.Debounce <= 0 {
		return fmt.Errorf("%w: %v must be positive", ErrInvalidDebounce, c.Monitor.Debounce)
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval %v must be positive", ErrInvalidDebounce, c.Monitor.PollInterval)
	}

	if c.Web.MaxDepth < 1 {
		return fmt.Errorf("%w: max_depth %d must be positive", ErrInvalidWebLimit, c.Web.MaxDepth)
	}
	if c.Web.MaxPages < 1 {
		return fmt.Errorf("%w: max_pages %d must be positive", ErrInvalidWebLimit, c.Web.MaxPages)
	}

	return nil
}
