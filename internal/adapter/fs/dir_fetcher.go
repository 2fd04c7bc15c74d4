package fs

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"mmrag/internal/adapter/scraper"
	"mmrag/internal/domain"
	"mmrag/internal/port"
)

// DirFetcher serves documents from a local directory tree. HTML files are
// parsed like scraped pages; Markdown and text files use their first line
// as the title. Only images stored next to the documents are picked up.
type DirFetcher struct {
	root   string
	walker *Walker
}

var _ port.Fetcher = (*DirFetcher)(nil)

func NewDirFetcher(root string, includes, excludes []string) *DirFetcher {
	return &DirFetcher{root: root, walker: NewWalker(includes, excludes)}
}

func (f *DirFetcher) ListArticleLinks(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.walker.Walk(f.root)
}

func (f *DirFetcher) FetchArticle(ctx context.Context, path string) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, err
	}

	doc := domain.Document{URL: (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		page, err := scraper.ParsePage(bytes.NewReader(data))
		if err != nil {
			return domain.Document{}, fmt.Errorf("parse %s: %w", path, err)
		}
		doc.Title = page.Title
		doc.Text = page.Text
		doc.Images = localImages(filepath.Dir(path), page.ImageSrcs)
	default:
		doc.Title, doc.Text = splitTitle(string(data))
		if doc.Title == "" {
			doc.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
	}
	return doc, nil
}

// splitTitle takes the first non-empty line, minus Markdown heading marks,
// as the title. The whole text is kept as the body.
func splitTitle(text string) (string, string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line != "" {
			return line, text
		}
	}
	return "", text
}

func localImages(dir string, srcs []string) []domain.ImageAsset {
	var out []domain.ImageAsset
	for _, src := range srcs {
		if strings.Contains(src, "://") || strings.HasPrefix(src, "data:") {
			continue
		}
		p := src
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, filepath.FromSlash(src))
		}
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			continue
		}
		out = append(out, domain.ImageAsset{URL: src, LocalPath: p})
	}
	return out
}
