package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mmrag/internal/domain"
	"mmrag/internal/port"
)

// ProgressFunc is called after each document of a batch run.
type ProgressFunc func(processed, total int, url string)

// IngestOptions configures IngestUseCase.
type IngestOptions struct {
	Collection      string
	ImageCollection string
	MinTextLength   int
	Concurrency     int
	DocumentTimeout time.Duration
}

// IngestUseCase turns documents into article and image records.
type IngestUseCase struct {
	store   port.VectorStore
	text    port.TextEmbedder
	image   port.ImageEmbedder
	chunker port.Chunker
	opts    IngestOptions
	logger  *slog.Logger
}

// NewIngestUseCase creates a new ingest use case.
func NewIngestUseCase(
	store port.VectorStore,
	text port.TextEmbedder,
	image port.ImageEmbedder,
	chunker port.Chunker,
	opts IngestOptions,
	logger *slog.Logger,
) *IngestUseCase {
	if opts.Collection == "" {
		opts.Collection = "embeddings"
	}
	if opts.ImageCollection == "" {
		opts.ImageCollection = "image_embeddings"
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestUseCase{
		store:   store,
		text:    text,
		image:   image,
		chunker: chunker,
		opts:    opts,
		logger:  logger,
	}
}

// ChunkRecordID is stable across runs, so re-ingesting a page overwrites
// its chunks instead of duplicating them.
func ChunkRecordID(url string, chunkID int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url+"#"+strconv.Itoa(chunkID))).String()
}

// ImageRecordID is stable per (page, image) pair.
func ImageRecordID(pageURL, imageURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(pageURL+"#image:"+imageURL)).String()
}

// ChunkTitle appends " [Part i/N]" to multi-chunk titles. i is 0-based.
func ChunkTitle(title string, i, n int) string {
	if n <= 1 {
		return title
	}
	return fmt.Sprintf("%s [Part %d/%d]", title, i+1, n)
}

func (u *IngestUseCase) ensureCollections(ctx context.Context) error {
	if err := u.store.EnsureCollection(ctx, u.opts.Collection, u.text.Dimension()); err != nil {
		return fmt.Errorf("ensure collection %s: %w", u.opts.Collection, err)
	}
	if err := u.store.EnsureCollection(ctx, u.opts.ImageCollection, u.image.Dimension()); err != nil {
		return fmt.Errorf("ensure collection %s: %w", u.opts.ImageCollection, err)
	}
	return nil
}

// Reset removes every article and image record. Chat history is kept.
func (u *IngestUseCase) Reset(ctx context.Context) (int, error) {
	if err := u.ensureCollections(ctx); err != nil {
		return 0, err
	}
	articles, err := u.store.DeleteByType(ctx, u.opts.Collection, domain.TypeArticle)
	if err != nil {
		return 0, fmt.Errorf("delete articles: %w", err)
	}
	images, err := u.store.DeleteByType(ctx, u.opts.ImageCollection, domain.TypeImage)
	if err != nil {
		return articles, fmt.Errorf("delete images: %w", err)
	}
	return articles + images, nil
}

// IngestDocument chunks, embeds and stores one document and its images.
// Embedding failures are recorded per item; a store failure aborts the
// document and is reported as failed_store.
func (u *IngestUseCase) IngestDocument(ctx context.Context, doc domain.Document) domain.DocumentOutcome {
	out := domain.DocumentOutcome{URL: doc.URL, Title: doc.Title}

	if utf8.RuneCountInString(strings.TrimSpace(doc.Text)) < u.opts.MinTextLength {
		out.Status = domain.OutcomeSkippedShort
		u.logger.Info("document skipped", "url", doc.URL, "reason", "text too short")
		return out
	}

	if u.opts.DocumentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.opts.DocumentTimeout)
		defer cancel()
	}

	if err := u.ensureCollections(ctx); err != nil {
		out.Status = domain.OutcomeFailedStore
		out.Error = err.Error()
		return out
	}

	chunks := u.chunker.Chunk(doc.Text)
	n := len(chunks)
	out.ChunkTotal = n

	items := make([]domain.ItemOutcome, n+len(doc.Images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.Concurrency)

	for i, text := range chunks {
		id := ChunkRecordID(doc.URL, i)
		items[i] = domain.ItemOutcome{Kind: domain.ItemChunk, Index: i, Ref: id}
		g.Go(func() error {
			vec, err := u.text.EmbedText(gctx, text)
			if err != nil {
				items[i].Status = domain.OutcomeFailedEmbed
				items[i].Error = err.Error()
				return nil
			}
			rec := domain.NewArticleRecord(id, vec, domain.ArticlePayload{
				Title:      ChunkTitle(doc.Title, i, n),
				Text:       text,
				URL:        doc.URL,
				ChunkID:    i,
				ChunkTotal: n,
			})
			if err := u.store.Upsert(gctx, u.opts.Collection, rec); err != nil {
				items[i].Status = domain.OutcomeFailedStore
				items[i].Error = err.Error()
				return fmt.Errorf("store chunk %d: %w", i, err)
			}
			items[i].Status = domain.OutcomeStored
			return nil
		})
	}

	for j, img := range doc.Images {
		k := n + j
		id := ImageRecordID(doc.URL, img.URL)
		items[k] = domain.ItemOutcome{Kind: domain.ItemImage, Index: j, Ref: img.URL}
		g.Go(func() error {
			vec, err := u.image.EmbedImage(gctx, img.LocalPath)
			if err != nil {
				items[k].Status = domain.OutcomeFailedEmbed
				items[k].Error = err.Error()
				return nil
			}
			rec := domain.NewImageRecord(id, vec, domain.ImagePayload{
				ImageURL:  img.URL,
				LocalPath: img.LocalPath,
				Caption:   "Image from: " + doc.Title,
			})
			if err := u.store.Upsert(gctx, u.opts.ImageCollection, rec); err != nil {
				items[k].Status = domain.OutcomeFailedStore
				items[k].Error = err.Error()
				return fmt.Errorf("store image %s: %w", img.URL, err)
			}
			items[k].Status = domain.OutcomeStored
			return nil
		})
	}

	storeErr := g.Wait()
	out.Items = items

	embedFailed := false
	for _, it := range items {
		switch {
		case it.Status == domain.OutcomeStored && it.Kind == domain.ItemChunk:
			out.ChunksStored++
		case it.Status == domain.OutcomeStored && it.Kind == domain.ItemImage:
			out.ImagesStored++
		case it.Status == domain.OutcomeFailedEmbed:
			u.logger.Warn("embedding failed", "url", doc.URL, "kind", it.Kind, "index", it.Index, "error", it.Error)
			if it.Kind == domain.ItemChunk {
				embedFailed = true
			}
		}
	}

	switch {
	case storeErr != nil:
		out.Status = domain.OutcomeFailedStore
		out.Error = storeErr.Error()
		u.logger.Error("document store failed", "url", doc.URL, "error", storeErr)
	case embedFailed:
		out.Status = domain.OutcomeFailedEmbed
	default:
		out.Status = domain.OutcomeStored
	}

	u.logger.Info("document ingested",
		"url", doc.URL,
		"status", out.Status,
		"chunks", out.ChunksStored,
		"chunk_total", n,
		"images", out.ImagesStored)
	return out
}

// Run ingests every article the fetcher lists, one document at a time.
// A page that cannot be fetched is recorded and skipped; only a cancelled
// context or a failed listing stops the batch.
func (u *IngestUseCase) Run(ctx context.Context, fetcher port.Fetcher, progress ProgressFunc) (*domain.IngestReport, error) {
	report := &domain.IngestReport{StartedAt: time.Now().UTC()}

	links, err := fetcher.ListArticleLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list article links: %w", err)
	}
	u.logger.Info("ingest started", "documents", len(links))

	for i, link := range links {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, err
		}

		doc, err := fetcher.FetchArticle(ctx, link)
		if err != nil {
			u.logger.Warn("fetch failed", "url", link, "error", err)
			report.Documents = append(report.Documents, domain.DocumentOutcome{
				URL:    link,
				Status: domain.OutcomeFailedFetch,
				Error:  err.Error(),
			})
		} else {
			report.Documents = append(report.Documents, u.IngestDocument(ctx, doc))
		}

		if progress != nil {
			progress(i+1, len(links), link)
		}
	}

	report.FinishedAt = time.Now().UTC()
	counts := report.Counts()
	u.logger.Info("ingest finished",
		"stored", counts[domain.OutcomeStored],
		"skipped_short", counts[domain.OutcomeSkippedShort],
		"failed", len(links)-counts[domain.OutcomeStored]-counts[domain.OutcomeSkippedShort],
		"chunks", report.ChunksStored(),
		"images", report.ImagesStored())
	return report, nil
}
