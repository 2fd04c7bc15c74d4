package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmrag/internal/adapter/chunker"
	"mmrag/internal/adapter/embedding"
	"mmrag/internal/adapter/memstore"
	"mmrag/internal/domain"
)

const testDim = 32

type fixture struct {
	store  *memstore.MemoryStore
	text   *embedding.MockEmbedder
	image  *embedding.MockImageEmbedder
	ingest *IngestUseCase
	memory *ConversationMemory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.NewMemoryStore(),
		text:  embedding.NewMockEmbedder(testDim),
		image: embedding.NewMockImageEmbedder(testDim),
	}
	f.ingest = NewIngestUseCase(f.store, f.text, f.image, chunker.NewWrapChunker(1000), IngestOptions{
		MinTextLength: 100,
		Concurrency:   4,
	}, nil)
	f.memory = NewConversationMemory(f.store, f.text, "embeddings", 0)
	return f
}

func writeImage(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "img.png")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

// clipBasics is 2500 characters of body text, which wraps into three chunks.
func clipBasics(t *testing.T) domain.Document {
	return domain.Document{
		URL:   "https://example.com/the-batch/clip-basics/",
		Title: "CLIP Basics",
		Text:  strings.TrimSpace(strings.Repeat("clip ", 500)) + " ",
		Images: []domain.ImageAsset{
			{URL: "https://cdn.example.com/clip.png", LocalPath: writeImage(t, "png")},
		},
	}
}

type fakeGenerator struct {
	reply     string
	query     string
	retrieved string
	err       error
}

func (g *fakeGenerator) Generate(_ context.Context, query, retrieved string) (string, error) {
	g.query, g.retrieved = query, retrieved
	return g.reply, g.err
}

func (g *fakeGenerator) ModelName() string { return "fake" }

type failingStore struct {
	*memstore.MemoryStore
	err error
}

func (s *failingStore) Upsert(ctx context.Context, coll string, rec domain.Record) error {
	return s.err
}

type flakyEmbedder struct {
	*embedding.MockEmbedder
	failOn string
}

func (e *flakyEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, e.failOn) {
		return nil, errors.New("embedding service unavailable")
	}
	return e.MockEmbedder.EmbedText(ctx, text)
}

type fakeFetcher struct {
	links []string
	docs  map[string]domain.Document
}

func (f *fakeFetcher) ListArticleLinks(ctx context.Context) ([]string, error) {
	return f.links, nil
}

func (f *fakeFetcher) FetchArticle(ctx context.Context, url string) (domain.Document, error) {
	d, ok := f.docs[url]
	if !ok {
		return domain.Document{}, errors.New("GET " + url + ": status 404")
	}
	return d, nil
}

func TestIngestDocumentChunksAndImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := clipBasics(t)
	require.Len(t, doc.Text, 2500)

	out := f.ingest.IngestDocument(ctx, doc)
	require.Equal(t, domain.OutcomeStored, out.Status, out.Error)
	assert.Equal(t, 3, out.ChunksStored)
	assert.Equal(t, 3, out.ChunkTotal)
	assert.Equal(t, 1, out.ImagesStored)

	articles, err := f.store.ScanByType(ctx, "embeddings", domain.TypeArticle, 0)
	require.NoError(t, err)
	require.Len(t, articles, 3)
	sort.Slice(articles, func(i, j int) bool { return articles[i].Article.ChunkID < articles[j].Article.ChunkID })
	for i, rec := range articles {
		assert.Equal(t, ChunkRecordID(doc.URL, i), rec.ID)
		assert.Equal(t, i, rec.Article.ChunkID)
		assert.Equal(t, 3, rec.Article.ChunkTotal)
		assert.Equal(t, "CLIP Basics [Part "+string(rune('1'+i))+"/3]", rec.Article.Title)
		assert.Equal(t, doc.URL, rec.Article.URL)
		assert.Nil(t, rec.Article.Date)
	}

	images, err := f.store.ScanByType(ctx, "image_embeddings", domain.TypeImage, 0)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "Image from: CLIP Basics", images[0].Image.Caption)
	assert.Equal(t, doc.Images[0].URL, images[0].Image.ImageURL)
}

func TestIngestDocumentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := clipBasics(t)

	f.ingest.IngestDocument(ctx, doc)
	f.ingest.IngestDocument(ctx, doc)

	articles, err := f.store.ScanByType(ctx, "embeddings", domain.TypeArticle, 0)
	require.NoError(t, err)
	assert.Len(t, articles, 3)
}

func TestIngestDocumentSingleChunkKeepsTitle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := f.ingest.IngestDocument(ctx, domain.Document{
		URL:   "https://example.com/the-batch/short/",
		Title: "Short",
		Text:  strings.Repeat("word ", 40),
	})
	require.Equal(t, domain.OutcomeStored, out.Status)

	rec, err := f.store.Get(ctx, "embeddings", ChunkRecordID("https://example.com/the-batch/short/", 0))
	require.NoError(t, err)
	assert.Equal(t, "Short", rec.Article.Title)
	assert.Equal(t, 0, rec.Article.ChunkID)
	assert.Equal(t, 1, rec.Article.ChunkTotal)
}

func TestIngestDocumentSkipsShortText(t *testing.T) {
	f := newFixture(t)
	out := f.ingest.IngestDocument(context.Background(), domain.Document{
		URL:   "https://example.com/the-batch/tiny/",
		Title: "Tiny",
		Text:  "   too short   ",
	})

	assert.Equal(t, domain.OutcomeSkippedShort, out.Status)
	assert.Empty(t, f.store.Collections())
}

func TestIngestDocumentShortTextCountsCharacters(t *testing.T) {
	f := newFixture(t)

	// 60 characters but 120 bytes
	out := f.ingest.IngestDocument(context.Background(), domain.Document{
		URL:   "https://example.com/the-batch/cyrillic/",
		Title: "Cyrillic",
		Text:  strings.Repeat("ж", 60),
	})
	assert.Equal(t, domain.OutcomeSkippedShort, out.Status)
	assert.Empty(t, f.store.Collections())

	out = f.ingest.IngestDocument(context.Background(), domain.Document{
		URL:   "https://example.com/the-batch/cyrillic-long/",
		Title: "Cyrillic",
		Text:  strings.Repeat("ж", 100),
	})
	assert.Equal(t, domain.OutcomeStored, out.Status)
}

func TestIngestDocumentChunkEmbedFailure(t *testing.T) {
	f := newFixture(t)
	text := &flakyEmbedder{MockEmbedder: f.text, failOn: "broken"}
	uc := NewIngestUseCase(f.store, text, f.image, chunker.NewWrapChunker(100), IngestOptions{MinTextLength: 10}, nil)

	doc := domain.Document{
		URL:   "https://example.com/the-batch/partial/",
		Title: "Partial",
		Text:  strings.Repeat("fine ", 20) + strings.Repeat("broken ", 14) + strings.Repeat("fine ", 20),
	}
	out := uc.IngestDocument(context.Background(), doc)

	assert.Equal(t, domain.OutcomeFailedEmbed, out.Status)
	assert.Equal(t, 3, out.ChunkTotal)
	assert.Equal(t, 2, out.ChunksStored)
	require.Len(t, out.Items, 3)
	assert.Equal(t, domain.OutcomeStored, out.Items[0].Status)
	assert.Equal(t, domain.OutcomeFailedEmbed, out.Items[1].Status)
	assert.Equal(t, domain.OutcomeStored, out.Items[2].Status)
	assert.Contains(t, out.Items[1].Error, "unavailable")
}

func TestIngestDocumentImageFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	doc := clipBasics(t)
	doc.Images = append(doc.Images, domain.ImageAsset{URL: "https://cdn.example.com/gone.png", LocalPath: "/nonexistent/gone.png"})

	out := f.ingest.IngestDocument(context.Background(), doc)

	assert.Equal(t, domain.OutcomeStored, out.Status)
	assert.Equal(t, 1, out.ImagesStored)
	last := out.Items[len(out.Items)-1]
	assert.Equal(t, domain.ItemImage, last.Kind)
	assert.Equal(t, domain.OutcomeFailedEmbed, last.Status)
}

func TestIngestDocumentStoreFailure(t *testing.T) {
	f := newFixture(t)
	st := &failingStore{MemoryStore: f.store, err: domain.ErrDimensionMismatch}
	uc := NewIngestUseCase(st, f.text, f.image, chunker.NewWrapChunker(1000), IngestOptions{}, nil)

	out := uc.IngestDocument(context.Background(), clipBasics(t))

	assert.Equal(t, domain.OutcomeFailedStore, out.Status)
	assert.Contains(t, out.Error, "dimension mismatch")
	assert.Zero(t, out.ChunksStored)
}

func TestIngestRun(t *testing.T) {
	f := newFixture(t)
	doc := clipBasics(t)
	fetcher := &fakeFetcher{
		links: []string{doc.URL, "https://example.com/the-batch/missing/", "https://example.com/the-batch/stub/"},
		docs: map[string]domain.Document{
			doc.URL: doc,
			"https://example.com/the-batch/stub/": {URL: "https://example.com/the-batch/stub/", Title: "Stub", Text: "tiny"},
		},
	}

	var calls []int
	report, err := f.ingest.Run(context.Background(), fetcher, func(processed, total int, url string) {
		assert.Equal(t, 3, total)
		calls = append(calls, processed)
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, calls)
	require.Len(t, report.Documents, 3)
	counts := report.Counts()
	assert.Equal(t, 1, counts[domain.OutcomeStored])
	assert.Equal(t, 1, counts[domain.OutcomeFailedFetch])
	assert.Equal(t, 1, counts[domain.OutcomeSkippedShort])
	assert.Equal(t, 3, report.ChunksStored())
	assert.Equal(t, 1, report.ImagesStored())
	assert.Len(t, report.Failures(), 1)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestIngestRunCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &fakeFetcher{links: []string{"https://example.com/the-batch/a/"}}
	report, err := f.ingest.Run(ctx, fetcher, nil)

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Empty(t, report.Documents)
}

func TestIngestReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest.IngestDocument(ctx, clipBasics(t))
	_, err := f.memory.Append(ctx, "user", "hello", nil)
	require.NoError(t, err)

	n, err := f.ingest.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	chats, err := f.memory.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestChunkTitle(t *testing.T) {
	assert.Equal(t, "T", ChunkTitle("T", 0, 1))
	assert.Equal(t, "T [Part 1/2]", ChunkTitle("T", 0, 2))
	assert.Equal(t, "T [Part 2/2]", ChunkTitle("T", 1, 2))
}

func TestRecordIDsAreDeterministic(t *testing.T) {
	assert.Equal(t, ChunkRecordID("u", 1), ChunkRecordID("u", 1))
	assert.NotEqual(t, ChunkRecordID("u", 1), ChunkRecordID("u", 2))
	assert.NotEqual(t, ImageRecordID("u", "a"), ImageRecordID("u", "b"))
}
