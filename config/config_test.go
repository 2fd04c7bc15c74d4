package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Store.Dimension != 512 {
		t.Errorf("expected Dimension=512, got %d", cfg.Store.Dimension)
	}
	if cfg.Store.Collection != "embeddings" {
		t.Errorf("expected Collection=embeddings, got %s", cfg.Store.Collection)
	}
	if cfg.Store.ImageCollection != "image_embeddings" {
		t.Errorf("expected ImageCollection=image_embeddings, got %s", cfg.Store.ImageCollection)
	}
	if cfg.Ingest.ChunkWidth != 1000 {
		t.Errorf("expected ChunkWidth=1000, got %d", cfg.Ingest.ChunkWidth)
	}
	if cfg.Ingest.MinTextLength != 100 {
		t.Errorf("expected MinTextLength=100, got %d", cfg.Ingest.MinTextLength)
	}
	if cfg.Retrieve.ChatTopK != 5 || cfg.Retrieve.ArticleTopK != 3 || cfg.Retrieve.ImageTopK != 2 {
		t.Errorf("unexpected retrieve limits: %+v", cfg.Retrieve)
	}
	if len(cfg.Scraper.Excludes) != 3 || cfg.Scraper.Excludes[2] != "/the-batch/tag/**" {
		t.Errorf("unexpected scraper excludes: %v", cfg.Scraper.Excludes)
	}
	if cfg.Generation.Model != "gpt-4o-mini" {
		t.Errorf("expected Model=gpt-4o-mini, got %s", cfg.Generation.Model)
	}
	if cfg.Eval.JudgeModel != "gpt-4o" {
		t.Errorf("expected JudgeModel=gpt-4o, got %s", cfg.Eval.JudgeModel)
	}
	if cfg.Generation.Temperature != 0.7 {
		t.Errorf("expected Temperature=0.7, got %f", cfg.Generation.Temperature)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "rag.yaml")

	content := `
store:
  backend: sqlite
ingest:
  chunk_width: 500
retrieve:
  article_top_k: 7
  timeout: 5s
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Backend != "sqlite" {
		t.Errorf("expected Backend=sqlite, got %s", cfg.Store.Backend)
	}
	if cfg.Ingest.ChunkWidth != 500 {
		t.Errorf("expected ChunkWidth=500, got %d", cfg.Ingest.ChunkWidth)
	}
	if cfg.Retrieve.ArticleTopK != 7 {
		t.Errorf("expected ArticleTopK=7, got %d", cfg.Retrieve.ArticleTopK)
	}
	if cfg.Retrieve.Timeout != 5*time.Second {
		t.Errorf("expected Timeout=5s, got %v", cfg.Retrieve.Timeout)
	}
	// untouched sections keep defaults
	if cfg.Retrieve.ChatTopK != 5 {
		t.Errorf("expected ChatTopK=5, got %d", cfg.Retrieve.ChatTopK)
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "rag.yaml")

	content := `
scraper:
  max_pages: 12
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Scraper.MaxPages != 12 {
		t.Errorf("expected MaxPages=12, got %d", cfg.Scraper.MaxPages)
	}
}

func TestLoadFromDir_RAGDirFallback(t *testing.T) {
	tmpDir := t.TempDir()
	if err := EnsureRAGDir(tmpDir); err != nil {
		t.Fatal(err)
	}
	content := "logging:\n  level: debug\n"
	if err := os.WriteFile(filepath.Join(tmpDir, ".rag", "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected Level=debug, got %s", cfg.Logging.Level)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MMRAG_STORE_BACKEND", "qdrant")
	t.Setenv("MMRAG_RETRIEVE_CHAT_TOP_K", "9")
	t.Setenv("MMRAG_EVAL_JUDGE_MODEL", "gpt-4.1")
	t.Setenv("MMRAG_SERVER_ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Backend != "qdrant" {
		t.Errorf("expected Backend=qdrant, got %s", cfg.Store.Backend)
	}
	if cfg.Eval.JudgeModel != "gpt-4.1" {
		t.Errorf("expected JudgeModel=gpt-4.1, got %s", cfg.Eval.JudgeModel)
	}
	if cfg.Retrieve.ChatTopK != 9 {
		t.Errorf("expected ChatTopK=9, got %d", cfg.Retrieve.ChatTopK)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("unexpected AllowedOrigins: %v", cfg.Server.AllowedOrigins)
	}
	// fields without an env var keep their values
	if cfg.Store.Path != "vectors.db" {
		t.Errorf("expected Path=vectors.db, got %s", cfg.Store.Path)
	}
}

func TestLoadFromDir_DotEnv(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), []byte("MMRAG_INGEST_CONCURRENCY=11\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("MMRAG_INGEST_CONCURRENCY") })

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Ingest.Concurrency != 11 {
		t.Errorf("expected Concurrency=11, got %d", cfg.Ingest.Concurrency)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.Dimension = 1536
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for embedding/store dimension mismatch")
	}

	cfg = DefaultConfig()
	cfg.Store.Backend = "redis"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestStorePath(t *testing.T) {
	cfg := DefaultConfig()
	path := StorePath("/home/user/project", cfg)
	expected := filepath.Join("/home/user/project", ".rag", "vectors.db")
	if path != expected {
		t.Errorf("expected %s, got %s", expected, path)
	}

	cfg.Store.Path = "/var/lib/mmrag/v.db"
	if got := StorePath("/home/user/project", cfg); got != "/var/lib/mmrag/v.db" {
		t.Errorf("expected absolute path to be kept, got %s", got)
	}
}
