package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"mmrag/config"
	"mmrag/internal/adapter/store/storetest"
	"mmrag/internal/domain"
	"mmrag/internal/port"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "vectors.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) port.VectorStore {
		return newTestStore(t)
	})
}

func TestBoltStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.db")
	ctx := context.Background()

	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureCollection(ctx, "embeddings", 3); err != nil {
		t.Fatal(err)
	}
	rec := domain.NewChatRecord("c1", []float32{1, 0, 0}, domain.ChatPayload{Role: "user", Content: "remember me"})
	if err := s.Upsert(ctx, "embeddings", rec); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got, err := s.Get(ctx, "embeddings", "c1")
	if err != nil {
		t.Fatalf("expected record after reopen, got %v", err)
	}
	if got.Chat.Content != "remember me" {
		t.Errorf("expected content 'remember me', got %q", got.Chat.Content)
	}

	// dimension survives the reopen too
	if err := s.EnsureCollection(ctx, "embeddings", 4); err == nil {
		t.Error("expected dimension mismatch after reopen")
	}
}

func TestBoltStoreMigrations(t *testing.T) {
	s := newTestStore(t)
	cfg := config.DefaultConfig()

	result, err := s.CheckMigration(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !result.NeedsMigration {
		t.Error("expected fresh store to need migration")
	}

	if err := s.Migrate(cfg); err != nil {
		t.Fatal(err)
	}

	result, err = s.CheckMigration(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if result.NeedsMigration || result.NeedsRebuild {
		t.Errorf("expected up-to-date store, got %+v", result)
	}

	cfg.Embedding.Model = "text-embedding-3-large"
	rebuild, reason, err := s.NeedsRebuild(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !rebuild {
		t.Error("expected rebuild after embedding model change")
	}
	if reason == "" {
		t.Error("expected a rebuild reason")
	}
}

func TestBoltStoreClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureCollection(ctx, "embeddings", 2); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"a", "b", "c"} {
		rec := domain.NewArticleRecord(id, []float32{1, 1}, domain.ArticlePayload{Title: id})
		if err := s.Upsert(ctx, "embeddings", rec); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if n := s.Count()["embeddings"]; n != 0 {
		t.Errorf("expected 0 records after clear, got %d", n)
	}
	if err := s.EnsureCollection(ctx, "embeddings", 2); err != nil {
		t.Errorf("expected collection to be recreated after clear: %v", err)
	}
	if _, err := s.Get(ctx, "embeddings", "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected cleared record to be gone, got %v", err)
	}
}

func TestBoltStoreRebuildAfterDimensionChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.db")
	ctx := context.Background()
	cfg := config.DefaultConfig()

	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate(cfg); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureCollection(ctx, "embeddings", 512); err != nil {
		t.Fatal(err)
	}
	rec := domain.NewChatRecord("c1", make([]float32, 512), domain.ChatPayload{Role: "user", Content: "old space"})
	rec.Vector[0] = 1
	if err := s.Upsert(ctx, "embeddings", rec); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}

	cfg.Store.Dimension = 256
	cfg.Embedding.Dimension = 256
	cfg.ImageEmbedding.Dimension = 256
	rebuild, _, err := s.NeedsRebuild(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !rebuild {
		t.Fatal("expected rebuild after dimension change")
	}
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate(cfg); err != nil {
		t.Fatal(err)
	}

	if err := s.EnsureCollection(ctx, "embeddings", 256); err != nil {
		t.Fatalf("expected new dimension to be accepted, got %v", err)
	}
	vec := make([]float32, 256)
	vec[0] = 1
	rec = domain.NewChatRecord("c2", vec, domain.ChatPayload{Role: "user", Content: "new space"})
	if err := s.Upsert(ctx, "embeddings", rec); err != nil {
		t.Fatalf("expected upsert at new dimension, got %v", err)
	}
	if n := s.Count()["embeddings"]; n != 1 {
		t.Errorf("expected only the new record, got %d", n)
	}

	// the new dimension is what survives a reopen
	s.Close()
	s, err = NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.EnsureCollection(ctx, "embeddings", 256); err != nil {
		t.Errorf("expected dimension 256 after reopen, got %v", err)
	}
}

func TestBoltStoreChunkWidthKeepsStore(t *testing.T) {
	s := newTestStore(t)
	cfg := config.DefaultConfig()
	if err := s.Migrate(cfg); err != nil {
		t.Fatal(err)
	}

	cfg.Ingest.ChunkWidth = 400
	rebuild, reason, err := s.NeedsRebuild(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if rebuild {
		t.Errorf("chunk width change should not rebuild the store: %s", reason)
	}
}

func TestRankTopKTieBreak(t *testing.T) {
	recs := []domain.Record{
		domain.NewChatRecord("b", []float32{1, 0}, domain.ChatPayload{Role: "user", Content: "x"}),
		domain.NewChatRecord("a", []float32{1, 0}, domain.ChatPayload{Role: "user", Content: "y"}),
	}
	got := RankTopK([]float32{1, 0}, recs, 5)
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Record.ID != "a" {
		t.Errorf("expected tie broken by id, got %s first", got[0].Record.ID)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if s := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); s != 0 {
		t.Errorf("expected 0 for orthogonal vectors, got %f", s)
	}
	if s := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); s != 0 {
		t.Errorf("expected 0 for zero vector, got %f", s)
	}
	if s := CosineSimilarity([]float32{1, 2}, []float32{1}); s != 0 {
		t.Errorf("expected 0 for length mismatch, got %f", s)
	}
}
