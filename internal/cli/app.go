package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"mmrag/config"
	"mmrag/internal/adapter/cache"
	"mmrag/internal/adapter/chunker"
	"mmrag/internal/adapter/embedding"
	"mmrag/internal/adapter/llm"
	"mmrag/internal/adapter/memstore"
	"mmrag/internal/adapter/qdrant"
	"mmrag/internal/adapter/scraper"
	"mmrag/internal/adapter/sqlitevec"
	"mmrag/internal/adapter/store"
	"mmrag/internal/port"
	"mmrag/internal/usecase"
)

// app holds the components a command needs. Embedders and the generator
// are built on first use so commands that never call a model do not need
// API keys.
type app struct {
	cfg   *config.Config
	dir   string
	store port.VectorStore

	text      port.TextEmbedder
	image     port.ImageEmbedder
	generator port.Generator
}

func newApp() (*app, error) {
	cfg := GetConfig()
	dir := GetRootDir()

	st, err := openStore(dir, cfg)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, dir: dir, store: st}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func openStore(dir string, cfg *config.Config) (port.VectorStore, error) {
	switch cfg.Store.Backend {
	case "memory":
		return memstore.NewMemoryStore(), nil
	case "qdrant":
		return qdrant.New(cfg.Store.QdrantURL, os.Getenv(cfg.Store.QdrantAPIKeyEnv), 0), nil
	case "sqlite":
		if err := config.EnsureRAGDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create .rag directory: %w", err)
		}
		return sqlitevec.Open(config.StorePath(dir, cfg))
	case "bolt":
		if err := config.EnsureRAGDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create .rag directory: %w", err)
		}
		st, err := store.NewBoltStore(config.StorePath(dir, cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store: %w", err)
		}
		if err := migrateBolt(st, cfg); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

// migrateBolt upgrades the schema in place, or clears the store when the
// embedding setup changed and stored vectors are no longer comparable.
func migrateBolt(st *store.BoltStore, cfg *config.Config) error {
	result, err := st.CheckMigration(cfg)
	if err != nil {
		return fmt.Errorf("failed to check migration: %w", err)
	}

	if result.NeedsRebuild {
		fmt.Fprintln(os.Stderr, color.YellowString("Store rebuild required: %s", result.Reason))
		if err := st.Clear(); err != nil {
			return fmt.Errorf("failed to clear store: %w", err)
		}
	} else if result.NeedsMigration {
		logger.Info("running schema migration", "reason", result.Reason)
	}

	if err := st.Migrate(cfg); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (a *app) textEmbedder() (port.TextEmbedder, error) {
	if a.text != nil {
		return a.text, nil
	}

	var e port.TextEmbedder
	switch a.cfg.Embedding.Provider {
	case "openai":
		oe, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKeyEnv: a.cfg.Embedding.APIKeyEnv,
			Model:     a.cfg.Embedding.Model,
			BaseURL:   a.cfg.Embedding.BaseURL,
			Dimension: a.cfg.Embedding.Dimension,
			Timeout:   a.cfg.Embedding.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		e = oe
	case "mock":
		e = embedding.NewMockEmbedder(a.cfg.Embedding.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", a.cfg.Embedding.Provider)
	}

	if a.cfg.Cache.Enabled {
		e = cache.NewCachedTextEmbedder(e, cache.NewQueryCache(a.cfg.Cache.MaxSize, a.cfg.Cache.TTL))
	}
	a.text = e
	return e, nil
}

func (a *app) imageEmbedder() (port.ImageEmbedder, error) {
	if a.image != nil {
		return a.image, nil
	}

	switch a.cfg.ImageEmbedding.Provider {
	case "clip-http":
		a.image = embedding.NewCLIPEmbedder(a.cfg.ImageEmbedding.BaseURL, a.cfg.ImageEmbedding.Dimension, a.cfg.ImageEmbedding.Timeout)
	case "mock":
		a.image = embedding.NewMockImageEmbedder(a.cfg.ImageEmbedding.Dimension)
	default:
		return nil, fmt.Errorf("unsupported image embedding provider: %s", a.cfg.ImageEmbedding.Provider)
	}
	return a.image, nil
}

func (a *app) generatorFor() (port.Generator, error) {
	if a.generator != nil {
		return a.generator, nil
	}

	switch a.cfg.Generation.Provider {
	case "openai":
		g, err := llm.NewOpenAIGenerator(llm.Config{
			APIKeyEnv:    a.cfg.Generation.APIKeyEnv,
			Model:        a.cfg.Generation.Model,
			BaseURL:      a.cfg.Generation.BaseURL,
			Temperature:  a.cfg.Generation.Temperature,
			SystemPrompt: a.cfg.Generation.SystemPrompt,
			Timeout:      a.cfg.Generation.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create generator: %w", err)
		}
		a.generator = g
	case "echo":
		a.generator = llm.EchoGenerator{}
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", a.cfg.Generation.Provider)
	}
	return a.generator, nil
}

// judge builds the evaluation grader on the generation endpoint, at temperature 0.
func (a *app) judge() (*llm.OpenAIGenerator, error) {
	g, err := llm.NewOpenAIGenerator(llm.Config{
		APIKeyEnv: a.cfg.Generation.APIKeyEnv,
		Model:     a.cfg.Eval.JudgeModel,
		BaseURL:   a.cfg.Generation.BaseURL,
		Timeout:   a.cfg.Eval.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create judge: %w", err)
	}
	return g, nil
}

func (a *app) memory() (*usecase.ConversationMemory, error) {
	text, err := a.textEmbedder()
	if err != nil {
		return nil, err
	}
	return usecase.NewConversationMemory(a.store, text, a.cfg.Store.Collection, a.cfg.Store.ScanLimit), nil
}

func (a *app) ingest() (*usecase.IngestUseCase, error) {
	text, err := a.textEmbedder()
	if err != nil {
		return nil, err
	}
	image, err := a.imageEmbedder()
	if err != nil {
		return nil, err
	}
	return usecase.NewIngestUseCase(a.store, text, image, chunker.NewWrapChunker(a.cfg.Ingest.ChunkWidth), usecase.IngestOptions{
		Collection:      a.cfg.Store.Collection,
		ImageCollection: a.cfg.Store.ImageCollection,
		MinTextLength:   a.cfg.Ingest.MinTextLength,
		Concurrency:     a.cfg.Ingest.Concurrency,
		DocumentTimeout: a.cfg.Ingest.DocumentTimeout,
	}, logger), nil
}

func (a *app) answers() (*usecase.AnswerUseCase, error) {
	text, err := a.textEmbedder()
	if err != nil {
		return nil, err
	}
	mem, err := a.memory()
	if err != nil {
		return nil, err
	}
	gen, err := a.generatorFor()
	if err != nil {
		return nil, err
	}
	return usecase.NewAnswerUseCase(a.store, text, mem, gen, usecase.AnswerOptions{
		Collection:      a.cfg.Store.Collection,
		ImageCollection: a.cfg.Store.ImageCollection,
		ChatTopK:        a.cfg.Retrieve.ChatTopK,
		ArticleTopK:     a.cfg.Retrieve.ArticleTopK,
		ImageTopK:       a.cfg.Retrieve.ImageTopK,
		Timeout:         a.cfg.Retrieve.Timeout,
		RememberTurns:   a.cfg.Retrieve.RememberTurns,
	}, logger), nil
}

func (a *app) fetcher() (*scraper.HTTPFetcher, error) {
	return scraper.NewHTTPFetcher(scraper.Config{
		BaseURL:     a.cfg.Scraper.BaseURL,
		Includes:    a.cfg.Scraper.Includes,
		Excludes:    a.cfg.Scraper.Excludes,
		ImageDir:    config.ImageDir(a.dir, a.cfg),
		UserAgent:   a.cfg.Scraper.UserAgent,
		Timeout:     a.cfg.Scraper.Timeout,
		MaxPages:    a.cfg.Scraper.MaxPages,
		Concurrency: a.cfg.Ingest.Concurrency,
	}, logger)
}
