// Package storetest holds the behaviour every port.VectorStore must share.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmrag/internal/domain"
	"mmrag/internal/port"
)

const (
	dim        = 4
	collection = "embeddings"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) port.VectorStore

// Run exercises the store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("EnsureCollectionIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, collection, dim))
		require.NoError(t, s.EnsureCollection(ctx, collection, dim))

		err := s.EnsureCollection(ctx, collection, dim+1)
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	})

	t.Run("UpsertGet", func(t *testing.T) {
		s := prepared(t, newStore)
		ctx := context.Background()

		rec := domain.NewArticleRecord("a1", []float32{1, 0, 0, 0}, domain.ArticlePayload{
			Title: "Intro", Text: "body", URL: "https://example.com/a", ChunkID: 1, ChunkTotal: 1,
		})
		require.NoError(t, s.Upsert(ctx, collection, rec))

		got, err := s.Get(ctx, collection, "a1")
		require.NoError(t, err)
		assert.Equal(t, domain.TypeArticle, got.Type)
		require.NotNil(t, got.Article)
		assert.Equal(t, "Intro", got.Article.Title)
		assert.Equal(t, "https://example.com/a", got.Article.URL)
		assert.Equal(t, 1, got.Article.ChunkTotal)
		assert.Nil(t, got.Article.Date)
	})

	t.Run("UpsertOverwrites", func(t *testing.T) {
		s := prepared(t, newStore)
		ctx := context.Background()

		first := domain.NewChatRecord("c1", []float32{1, 0, 0, 0}, domain.ChatPayload{Role: "user", Content: "one"})
		second := domain.NewChatRecord("c1", []float32{0, 1, 0, 0}, domain.ChatPayload{Role: "user", Content: "two"})
		require.NoError(t, s.Upsert(ctx, collection, first))
		require.NoError(t, s.Upsert(ctx, collection, second))

		got, err := s.Get(ctx, collection, "c1")
		require.NoError(t, err)
		assert.Equal(t, "two", got.Chat.Content)

		all, err := s.ScanByType(ctx, collection, domain.TypeChat, 0)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("RecordsAreNotAliased", func(t *testing.T) {
		s := prepared(t, newStore)
		ctx := context.Background()

		vec := []float32{1, 0, 0, 0}
		rec := domain.NewChatRecord("c1", vec, domain.ChatPayload{Role: "user", Content: "x"})
		require.NoError(t, s.Upsert(ctx, collection, rec))

		vec[0] = 42
		rec.Chat.Content = "mutated"

		got, err := s.Get(ctx, collection, "c1")
		require.NoError(t, err)
		assert.Equal(t, float32(1), got.Vector[0])
		assert.Equal(t, "x", got.Chat.Content)

		got.Vector[0] = 7
		got.Chat.Content = "changed by reader"

		hits, err := s.Search(ctx, collection, []float32{1, 0, 0, 0}, 1, domain.TypeChat)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, float32(1), hits[0].Record.Vector[0])
		assert.Equal(t, "x", hits[0].Record.Chat.Content)
		hits[0].Record.Chat.Content = "changed by searcher"

		all, err := s.ScanByType(ctx, collection, domain.TypeChat, 0)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "x", all[0].Chat.Content)
		assert.Equal(t, float32(1), all[0].Vector[0])
	})

	t.Run("UpsertDimensionMismatch", func(t *testing.T) {
		s := prepared(t, newStore)
		rec := domain.NewChatRecord("c1", []float32{1, 0}, domain.ChatPayload{Role: "user", Content: "x"})
		err := s.Upsert(context.Background(), collection, rec)
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	})

	t.Run("UpsertRejectsInvalidRecord", func(t *testing.T) {
		s := prepared(t, newStore)
		rec := domain.Record{ID: "x", Vector: []float32{1, 0, 0, 0}, Type: "video", Chat: &domain.ChatPayload{}}
		err := s.Upsert(context.Background(), collection, rec)
		assert.ErrorIs(t, err, domain.ErrUnknownType)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := prepared(t, newStore)
		_, err := s.Get(context.Background(), collection, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("SearchOrderAndFilter", func(t *testing.T) {
		s := prepared(t, newStore)
		ctx := context.Background()

		put(t, s, domain.NewArticleRecord("a", []float32{1, 0, 0, 0}, domain.ArticlePayload{Title: "exact"}))
		put(t, s, domain.NewArticleRecord("b", []float32{1, 1, 0, 0}, domain.ArticlePayload{Title: "near"}))
		put(t, s, domain.NewArticleRecord("c", []float32{0, 0, 1, 0}, domain.ArticlePayload{Title: "far"}))
		put(t, s, domain.NewChatRecord("d", []float32{1, 0, 0, 0}, domain.ChatPayload{Role: "user", Content: "same"}))

		hits, err := s.Search(ctx, collection, []float32{1, 0, 0, 0}, 2, domain.TypeArticle)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "a", hits[0].Record.ID)
		assert.Equal(t, "b", hits[1].Record.ID)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
		assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
		for _, h := range hits {
			assert.Equal(t, domain.TypeArticle, h.Record.Type)
		}

		hits, err = s.Search(ctx, collection, []float32{1, 0, 0, 0}, 10, "")
		require.NoError(t, err)
		assert.Len(t, hits, 4)

		hits, err = s.Search(ctx, collection, []float32{1, 0, 0, 0}, 10, domain.TypeImage)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("SearchInvalidInput", func(t *testing.T) {
		s := prepared(t, newStore)
		ctx := context.Background()

		_, err := s.Search(ctx, collection, []float32{1, 0, 0, 0}, 0, "")
		assert.ErrorIs(t, err, domain.ErrInvalidTopK)

		_, err = s.Search(ctx, collection, []float32{1, 0}, 3, "")
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	})

	t.Run("ScanByTypeLimit", func(t *testing.T) {
		s := prepared(t, newStore)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			put(t, s, domain.NewChatRecord(fmt.Sprintf("c%d", i), []float32{1, 0, 0, float32(i)}, domain.ChatPayload{Role: "user", Content: "m"}))
		}
		put(t, s, domain.NewArticleRecord("a", []float32{0, 1, 0, 0}, domain.ArticlePayload{Title: "t"}))

		recs, err := s.ScanByType(ctx, collection, domain.TypeChat, 3)
		require.NoError(t, err)
		assert.Len(t, recs, 3)
		for _, r := range recs {
			assert.Equal(t, domain.TypeChat, r.Type)
		}

		recs, err = s.ScanByType(ctx, collection, domain.TypeArticle, 0)
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})

	t.Run("DeleteByType", func(t *testing.T) {
		s := prepared(t, newStore)
		ctx := context.Background()

		put(t, s, domain.NewChatRecord("c1", []float32{1, 0, 0, 0}, domain.ChatPayload{Role: "user", Content: "a"}))
		put(t, s, domain.NewChatRecord("c2", []float32{0, 1, 0, 0}, domain.ChatPayload{Role: "assistant", Content: "b"}))
		put(t, s, domain.NewArticleRecord("a1", []float32{0, 0, 1, 0}, domain.ArticlePayload{Title: "keep"}))

		_, err := s.DeleteByType(ctx, collection, domain.TypeChat)
		require.NoError(t, err)

		chats, err := s.ScanByType(ctx, collection, domain.TypeChat, 0)
		require.NoError(t, err)
		assert.Empty(t, chats)

		_, err = s.Get(ctx, collection, "a1")
		assert.NoError(t, err)

		// deleting again is a no-op
		_, err = s.DeleteByType(ctx, collection, domain.TypeChat)
		assert.NoError(t, err)
	})

	t.Run("CollectionsAreIsolated", func(t *testing.T) {
		s := prepared(t, newStore)
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, "image_embeddings", dim))

		put(t, s, domain.NewArticleRecord("a", []float32{1, 0, 0, 0}, domain.ArticlePayload{Title: "t"}))
		img := domain.NewImageRecord("i", []float32{1, 0, 0, 0}, domain.ImagePayload{ImageURL: "http://x/p.png", LocalPath: "/tmp/p.png", Caption: "Image from: t"})
		require.NoError(t, s.Upsert(ctx, "image_embeddings", img))

		hits, err := s.Search(ctx, "image_embeddings", []float32{1, 0, 0, 0}, 5, "")
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "Image from: t", hits[0].Record.Image.Caption)

		_, err = s.Get(ctx, collection, "i")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func prepared(t *testing.T, newStore Factory) port.VectorStore {
	t.Helper()
	s := newStore(t)
	require.NoError(t, s.EnsureCollection(context.Background(), collection, dim))
	return s
}

func put(t *testing.T, s port.VectorStore, rec domain.Record) {
	t.Helper()
	require.NoError(t, s.Upsert(context.Background(), collection, rec))
}
