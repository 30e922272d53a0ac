// Package config provides configuration management for the quarry
// pipeline with multi-source priority.
//
// Sources (highest to lowest priority):
//  1. Environment variables (QUARRY_* runtime override)
//  2. Config file (~/.quarry/config.yaml by default)
//  3. Built-in defaults
//
// Every option here is consumed by exactly one pipeline component; see
// the field comments. Validation lives in validation.go and uses
// sentinel errors so callers can match with errors.Is.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage driver identifiers used in Storage.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultEmbeddingModel is the default Gemini embedding model.
// gemini-embedding-001 emits 3072 dimensions natively and supports
// truncation via output dimensionality; 768 keeps stored vectors small.
const DefaultEmbeddingModel = "gemini-embedding-001"

// Config holds all pipeline configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Web       WebConfig       `mapstructure:"web"`
	LogLevel  string          `mapstructure:"log_level"`
}

// ChunkingConfig controls how extracted text is split.
type ChunkingConfig struct {
	// MaxSize is the chunk size ceiling in characters.
	MaxSize int `mapstructure:"max_size"`
	// Overlap is the number of characters shared between consecutive
	// chunks. Must be strictly less than MaxSize.
	Overlap int `mapstructure:"overlap"`
}

// EmbeddingConfig selects the embedding model.
type EmbeddingConfig struct {
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
	// APIKeyEnv names the environment variable holding the API key.
	// The key itself is never stored in config files.
	APIKeyEnv string `mapstructure:"api_key_env"`
}

// StorageConfig selects and configures the chunk/vector store backend.
// The source registry always lives in the local SQLite database under
// DataDir; Driver only selects where chunks and vectors go.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`

	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`
}

// IngestConfig bounds pipeline concurrency.
type IngestConfig struct {
	// MaxWorkers caps concurrent per-document pipelines.
	MaxWorkers int `mapstructure:"max_workers"`
	// EmbedBatchSize is the number of chunk texts sent per embedding
	// call.
	EmbedBatchSize int `mapstructure:"embed_batch_size"`
}

// RetrievalConfig controls query-time ranking.
type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`
	// MinScore is the minimum similarity floor; results below it are
	// dropped. Zero disables the floor.
	MinScore float64 `mapstructure:"min_score"`
	// PerDocumentCap limits how many chunks of one document a single
	// result may contain.
	PerDocumentCap int `mapstructure:"per_document_cap"`
	// OverfetchFactor multiplies TopK for the store query before
	// deduplication truncates back down.
	OverfetchFactor int `mapstructure:"overfetch_factor"`
}

// MonitorConfig controls the change monitor.
type MonitorConfig struct {
	// Debounce coalesces bursts of change events for one source.
	Debounce time.Duration `mapstructure:"debounce"`
	// PollInterval is the re-scan period for remote sources.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// WebConfig bounds web-page source expansion.
type WebConfig struct {
	// MaxDepth limits same-host link expansion; 1 fetches only the
	// registered page.
	MaxDepth int `mapstructure:"max_depth"`
	// MaxPages caps the number of pages fetched per web source.
	MaxPages int `mapstructure:"max_pages"`
}

// PostgresDSN returns the pgx connection string for the configured
// postgres store.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Storage.PostgresHost,
		c.Storage.PostgresPort,
		c.Storage.PostgresUser,
		quoteDSNValue(c.Storage.PostgresPassword),
		c.Storage.PostgresDBName,
		c.Storage.PostgresSSLMode,
	)
}

// quoteDSNValue quotes a value for the key=value DSN format so values
// containing spaces or quotes parse correctly.
func quoteDSNValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// APIKey resolves the embedding API key from the configured environment
// variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.Embedding.APIKeyEnv)
}

func setDefaults(v *viper.Viper, defaultDataDir string) {
	v.SetDefault("data_dir", defaultDataDir)
	v.SetDefault("log_level", "info")

	v.SetDefault("chunking.max_size", 1200)
	v.SetDefault("chunking.overlap", 200)

	v.SetDefault("embedding.model", DefaultEmbeddingModel)
	v.SetDefault("embedding.dimension", 768)
	v.SetDefault("embedding.api_key_env", "GEMINI_API_KEY")

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.postgres_host", "localhost")
	v.SetDefault("storage.postgres_port", 5432)
	v.SetDefault("storage.postgres_user", "quarry")
	v.SetDefault("storage.postgres_dbname", "quarry")
	v.SetDefault("storage.postgres_sslmode", "disable")

	v.SetDefault("ingest.max_workers", 4)
	v.SetDefault("ingest.embed_batch_size", 16)

	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.min_score", 0.0)
	v.SetDefault("retrieval.per_document_cap", 2)
	v.SetDefault("retrieval.overfetch_factor", 4)

	v.SetDefault("monitor.debounce", 2*time.Second)
	v.SetDefault("monitor.poll_interval", 15*time.Minute)

	v.SetDefault("web.max_depth", 1)
	v.SetDefault("web.max_pages", 50)
}

// Load reads configuration from the given file path (empty = default
// location), applies environment overrides, and validates the result.
func Load(configFile string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	baseDir := filepath.Join(home, ".quarry")

	v := viper.New()
	setDefaults(v, filepath.Join(baseDir, "data"))

	v.SetEnvPrefix("QUARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(baseDir)
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without touching the file
// system. Used by tests and embedders of the library that configure
// programmatically.
func Default() *Config {
	v := viper.New()
	setDefaults(v, filepath.Join(os.TempDir(), "quarry-data"))

	var cfg Config
	// Unmarshal of pure defaults cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}
