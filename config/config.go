package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the assistant.
type Config struct {
	Store          StoreConfig          `yaml:"store"`
	Embedding      EmbeddingConfig      `yaml:"embedding"`
	ImageEmbedding ImageEmbeddingConfig `yaml:"image_embedding"`
	Generation     GenerationConfig     `yaml:"generation"`
	Ingest         IngestConfig         `yaml:"ingest"`
	Retrieve       RetrieveConfig       `yaml:"retrieve"`
	Scraper        ScraperConfig        `yaml:"scraper"`
	Server         ServerConfig         `yaml:"server"`
	Cache          CacheConfig          `yaml:"cache"`
	Eval           EvalConfig           `yaml:"eval"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	Backend         string `yaml:"backend" split_words:"true"` // "bolt", "sqlite", "qdrant", "memory"
	Path            string `yaml:"path" split_words:"true"`    // bolt/sqlite file, relative to .rag
	QdrantURL       string `yaml:"qdrant_url" split_words:"true"`
	QdrantAPIKeyEnv string `yaml:"qdrant_api_key_env" split_words:"true"`
	Collection      string `yaml:"collection" split_words:"true"`
	ImageCollection string `yaml:"image_collection" split_words:"true"`
	Dimension       int    `yaml:"dimension" split_words:"true"`
	ScanLimit       int    `yaml:"scan_limit" split_words:"true"`
}

// EmbeddingConfig holds text embedding configuration.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider" split_words:"true"` // "openai", "mock"
	Model     string        `yaml:"model" split_words:"true"`
	BaseURL   string        `yaml:"base_url" split_words:"true"`
	APIKeyEnv string        `yaml:"api_key_env" split_words:"true"`
	Dimension int           `yaml:"dimension" split_words:"true"`
	Timeout   time.Duration `yaml:"timeout" split_words:"true"`
}

// ImageEmbeddingConfig holds image embedding configuration.
type ImageEmbeddingConfig struct {
	Provider  string        `yaml:"provider" split_words:"true"` // "clip-http", "mock"
	BaseURL   string        `yaml:"base_url" split_words:"true"`
	Dimension int           `yaml:"dimension" split_words:"true"`
	Timeout   time.Duration `yaml:"timeout" split_words:"true"`
}

// GenerationConfig holds answer generation configuration.
type GenerationConfig struct {
	Provider     string        `yaml:"provider" split_words:"true"` // "openai", "echo"
	Model        string        `yaml:"model" split_words:"true"`
	BaseURL      string        `yaml:"base_url" split_words:"true"`
	APIKeyEnv    string        `yaml:"api_key_env" split_words:"true"`
	Temperature  float64       `yaml:"temperature" split_words:"true"`
	SystemPrompt string        `yaml:"system_prompt" split_words:"true"`
	Timeout      time.Duration `yaml:"timeout" split_words:"true"`
}

// IngestConfig holds ingestion configuration.
type IngestConfig struct {
	MinTextLength   int           `yaml:"min_text_length" split_words:"true"`
	ChunkWidth      int           `yaml:"chunk_width" split_words:"true"`
	Concurrency     int           `yaml:"concurrency" split_words:"true"`
	DocumentTimeout time.Duration `yaml:"document_timeout" split_words:"true"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	ChatTopK      int           `yaml:"chat_top_k" split_words:"true"`
	ArticleTopK   int           `yaml:"article_top_k" split_words:"true"`
	ImageTopK     int           `yaml:"image_top_k" split_words:"true"`
	Timeout       time.Duration `yaml:"timeout" split_words:"true"`
	RememberTurns bool          `yaml:"remember_turns" split_words:"true"` // append query and answer as chat turns
}

// ScraperConfig holds scraping configuration.
type ScraperConfig struct {
	BaseURL   string        `yaml:"base_url" split_words:"true"`
	Includes  []string      `yaml:"includes" split_words:"true"` // doublestar patterns over URL paths
	Excludes  []string      `yaml:"excludes" split_words:"true"`
	ImageDir  string        `yaml:"image_dir" split_words:"true"`
	UserAgent string        `yaml:"user_agent" split_words:"true"`
	Timeout   time.Duration `yaml:"timeout" split_words:"true"`
	MaxPages  int           `yaml:"max_pages" split_words:"true"` // 0 = no limit
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr" split_words:"true"`
	AllowedOrigins  []string      `yaml:"allowed_origins" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
}

// CacheConfig holds query embedding cache configuration.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" split_words:"true"`
	MaxSize int           `yaml:"max_size" split_words:"true"`
	TTL     time.Duration `yaml:"ttl" split_words:"true"`
}

// EvalConfig configures the LLM judge that scores evaluation samples.
// It reuses the generation endpoint and key.
type EvalConfig struct {
	JudgeModel string        `yaml:"judge_model" split_words:"true"`
	Timeout    time.Duration `yaml:"timeout" split_words:"true"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"` // "text" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:         "bolt",
			Path:            "vectors.db",
			QdrantURL:       "http://localhost:6333",
			QdrantAPIKeyEnv: "QDRANT_API_KEY",
			Collection:      "embeddings",
			ImageCollection: "image_embeddings",
			Dimension:       512,
			ScanLimit:       1000,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			BaseURL:   "https://api.openai.com/v1",
			APIKeyEnv: "OPENAI_API_KEY",
			Dimension: 512,
			Timeout:   60 * time.Second,
		},
		ImageEmbedding: ImageEmbeddingConfig{
			Provider:  "clip-http",
			BaseURL:   "http://localhost:8001",
			Dimension: 512,
			Timeout:   60 * time.Second,
		},
		Generation: GenerationConfig{
			Provider:     "openai",
			Model:        "gpt-4o-mini",
			BaseURL:      "https://api.openai.com/v1",
			APIKeyEnv:    "OPENAI_API_KEY",
			Temperature:  0.7,
			SystemPrompt: "You are a helpful assistant.",
			Timeout:      120 * time.Second,
		},
		Ingest: IngestConfig{
			MinTextLength:   100,
			ChunkWidth:      1000,
			Concurrency:     4,
			DocumentTimeout: 5 * time.Minute,
		},
		Retrieve: RetrieveConfig{
			ChatTopK:    5,
			ArticleTopK: 3,
			ImageTopK:   2,
			Timeout:     30 * time.Second,
		},
		Scraper: ScraperConfig{
			BaseURL:   "https://www.deeplearning.ai/the-batch/",
			Includes:  []string{"/the-batch/**"},
			Excludes:  []string{"/the-batch", "/the-batch/", "/the-batch/tag/**"},
			ImageDir:  "images",
			UserAgent: "mmrag/1.0",
			Timeout:   30 * time.Second,
		},
		Server: ServerConfig{
			Addr:            ":8000",
			AllowedOrigins:  []string{"http://localhost:5173"},
			ShutdownTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxSize: 256,
			TTL:     10 * time.Minute,
		},
		Eval: EvalConfig{
			JudgeModel: "gpt-4o",
			Timeout:    120 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for rag.yaml).
// A .env file in the directory is loaded into the process environment first.
func LoadFromDir(dir string) (*Config, error) {
	// Existing environment variables win over .env entries.
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	path := filepath.Join(dir, "rag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".rag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays MMRAG_<SECTION>_<FIELD> environment variables onto c.
func (c *Config) ApplyEnv() error {
	sections := []struct {
		prefix string
		spec   any
	}{
		{"MMRAG_STORE", &c.Store},
		{"MMRAG_EMBEDDING", &c.Embedding},
		{"MMRAG_IMAGE_EMBEDDING", &c.ImageEmbedding},
		{"MMRAG_GENERATION", &c.Generation},
		{"MMRAG_INGEST", &c.Ingest},
		{"MMRAG_RETRIEVE", &c.Retrieve},
		{"MMRAG_SCRAPER", &c.Scraper},
		{"MMRAG_SERVER", &c.Server},
		{"MMRAG_CACHE", &c.Cache},
		{"MMRAG_EVAL", &c.Eval},
		{"MMRAG_LOGGING", &c.Logging},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.spec); err != nil {
			return fmt.Errorf("env %s: %w", s.prefix, err)
		}
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if c.Store.Dimension <= 0 {
		return fmt.Errorf("store.dimension must be positive, got %d", c.Store.Dimension)
	}
	if c.Embedding.Dimension != c.Store.Dimension {
		return fmt.Errorf("embedding.dimension (%d) must equal store.dimension (%d)", c.Embedding.Dimension, c.Store.Dimension)
	}
	if c.ImageEmbedding.Dimension != c.Store.Dimension {
		return fmt.Errorf("image_embedding.dimension (%d) must equal store.dimension (%d)", c.ImageEmbedding.Dimension, c.Store.Dimension)
	}
	if c.Store.Collection == "" || c.Store.ImageCollection == "" {
		return fmt.Errorf("store collections must be named")
	}
	if c.Ingest.ChunkWidth <= 0 {
		return fmt.Errorf("ingest.chunk_width must be positive, got %d", c.Ingest.ChunkWidth)
	}
	switch c.Store.Backend {
	case "bolt", "sqlite", "qdrant", "memory":
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// StorePath returns the path of the local store file for bolt and sqlite backends.
func StorePath(dir string, cfg *Config) string {
	if filepath.IsAbs(cfg.Store.Path) {
		return cfg.Store.Path
	}
	return filepath.Join(dir, ".rag", cfg.Store.Path)
}

// ImageDir returns the directory downloaded images are written to.
func ImageDir(dir string, cfg *Config) string {
	if filepath.IsAbs(cfg.Scraper.ImageDir) {
		return cfg.Scraper.ImageDir
	}
	return filepath.Join(dir, ".rag", cfg.Scraper.ImageDir)
}

// EnsureRAGDir ensures the .rag directory exists.
func EnsureRAGDir(dir string) error {
	ragDir := filepath.Join(dir, ".rag")
	return os.MkdirAll(ragDir, 0755)
}
