package port

import (
	"context"

	"mmrag/internal/domain"
)

// Fetcher discovers article pages and turns them into documents.
type Fetcher interface {
	ListArticleLinks(ctx context.Context) ([]string, error)

	// FetchArticle downloads one page and the images it references.
	// Image download failures are dropped from the document, not returned.
	FetchArticle(ctx context.Context, url string) (domain.Document, error)
}
