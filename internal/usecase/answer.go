package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mmrag/internal/domain"
	"mmrag/internal/port"
)

// AnswerOptions configures AnswerUseCase.
type AnswerOptions struct {
	Collection      string
	ImageCollection string
	ChatTopK        int
	ArticleTopK     int
	ImageTopK       int
	Timeout         time.Duration
	RememberTurns   bool
}

// AnswerUseCase answers a query from chat history, article chunks and images.
type AnswerUseCase struct {
	store     port.VectorStore
	embedder  port.TextEmbedder
	memory    *ConversationMemory
	generator port.Generator
	opts      AnswerOptions
	logger    *slog.Logger
}

// NewAnswerUseCase creates a new answer use case.
func NewAnswerUseCase(
	store port.VectorStore,
	embedder port.TextEmbedder,
	memory *ConversationMemory,
	generator port.Generator,
	opts AnswerOptions,
	logger *slog.Logger,
) *AnswerUseCase {
	if opts.Collection == "" {
		opts.Collection = "embeddings"
	}
	if opts.ImageCollection == "" {
		opts.ImageCollection = "image_embeddings"
	}
	if opts.ChatTopK <= 0 {
		opts.ChatTopK = 5
	}
	if opts.ArticleTopK <= 0 {
		opts.ArticleTopK = 3
	}
	if opts.ImageTopK <= 0 {
		opts.ImageTopK = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerUseCase{
		store:     store,
		embedder:  embedder,
		memory:    memory,
		generator: generator,
		opts:      opts,
		logger:    logger,
	}
}

// BuildContext joins chat lines and article lines into the prompt context.
// It returns "" when nothing was retrieved.
func BuildContext(chats []string, articles []domain.ArticlePayload) string {
	lines := make([]string, 0, len(chats)+len(articles))
	lines = append(lines, chats...)
	for _, a := range articles {
		lines = append(lines, fmt.Sprintf("%s: %s\nSource: %s", displayTitle(a), a.Text, a.URL))
	}
	return strings.Join(lines, "\n")
}

func displayTitle(a domain.ArticlePayload) string {
	if a.Title == "" {
		return "Untitled"
	}
	return a.Title
}

// Retrieve embeds the query once and runs the chat, article and image
// searches concurrently. The returned answer has no Text yet.
func (u *AnswerUseCase) Retrieve(ctx context.Context, query string) (*domain.Answer, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}

	vec, err := u.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	for _, c := range []string{u.opts.Collection, u.opts.ImageCollection} {
		if err := u.store.EnsureCollection(ctx, c, u.embedder.Dimension()); err != nil {
			return nil, fmt.Errorf("ensure collection %s: %w", c, err)
		}
	}

	var (
		chats    []string
		articles []domain.ScoredRecord
		images   []domain.ScoredRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chats, err = u.memory.RetrieveRelevantByVector(gctx, vec, u.opts.ChatTopK)
		return err
	})
	g.Go(func() error {
		var err error
		articles, err = u.store.Search(gctx, u.opts.Collection, vec, u.opts.ArticleTopK, domain.TypeArticle)
		if err != nil {
			return fmt.Errorf("search articles: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		images, err = u.store.Search(gctx, u.opts.ImageCollection, vec, u.opts.ImageTopK, domain.TypeImage)
		if err != nil {
			return fmt.Errorf("search images: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ans := &domain.Answer{
		Sources: make([]domain.Source, 0, len(articles)),
		Images:  make([]domain.ImageHit, 0, len(images)),
		Chats:   chats,
	}
	payloads := make([]domain.ArticlePayload, 0, len(articles))
	for _, h := range articles {
		a := h.Record.Article
		if a == nil {
			continue
		}
		payloads = append(payloads, *a)
		ans.Passages = append(ans.Passages, a.Text)
		ans.Sources = append(ans.Sources, domain.Source{Title: displayTitle(*a), URL: a.URL})
	}
	for _, h := range images {
		im := h.Record.Image
		if im == nil {
			continue
		}
		ans.Images = append(ans.Images, domain.ImageHit{
			ImageURL:  im.ImageURL,
			LocalPath: im.LocalPath,
			Caption:   im.Caption,
		})
	}
	ans.Context = BuildContext(chats, payloads)
	return ans, nil
}

// Answer retrieves context for query and generates the answer text.
func (u *AnswerUseCase) Answer(ctx context.Context, query string) (*domain.Answer, error) {
	if u.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	ans, err := u.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}

	text, err := u.generator.Generate(ctx, query, ans.Context)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	ans.Text = text

	if u.opts.RememberTurns {
		if _, err := u.memory.Append(ctx, "user", query, nil); err != nil {
			return nil, fmt.Errorf("remember query: %w", err)
		}
		if _, err := u.memory.Append(ctx, "assistant", text, nil); err != nil {
			return nil, fmt.Errorf("remember answer: %w", err)
		}
	}

	u.logger.Info("query answered",
		"chats", len(ans.Chats),
		"sources", len(ans.Sources),
		"images", len(ans.Images),
		"duration", time.Since(start))
	return ans, nil
}
