package sqlitevec

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmrag/internal/adapter/store/storetest"
	"mmrag/internal/domain"
	"mmrag/internal/port"
)

func TestSQLiteStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) port.VectorStore {
		s, err := Open(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestEncodeDecodeFloat32s(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3e-7}
	assert.Equal(t, in, decodeFloat32s(encodeFloat32s(in)))
	assert.Nil(t, decodeFloat32s([]byte{1, 2, 3}))
}

func TestSQLiteStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.sqlite")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(ctx, "embeddings", 2))
	require.NoError(t, s.Upsert(ctx, "embeddings", domain.NewArticleRecord("a", []float32{0.5, 0.5}, domain.ArticlePayload{Title: "kept", ChunkID: 2, ChunkTotal: 3})))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "embeddings", "a")
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Article.Title)
	assert.Equal(t, 2, got.Article.ChunkID)
	assert.Equal(t, []float32{0.5, 0.5}, got.Vector)
}

func TestDeleteByTypeReportsCount(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, "embeddings", 2))
	for _, id := range []string{"a", "b"} {
		require.NoError(t, s.Upsert(ctx, "embeddings", domain.NewChatRecord(id, []float32{1, 0}, domain.ChatPayload{Role: "user", Content: id})))
	}

	n, err := s.DeleteByType(ctx, "embeddings", domain.TypeChat)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
