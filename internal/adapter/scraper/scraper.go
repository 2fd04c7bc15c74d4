package scraper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mmrag/internal/domain"
	"mmrag/internal/port"
)

// maxPageBytes caps how much of a page or image is read.
const maxPageBytes = 20 << 20

type Config struct {
	BaseURL     string
	Includes    []string
	Excludes    []string
	ImageDir    string
	UserAgent   string
	Timeout     time.Duration
	MaxPages    int
	Concurrency int
}

// HTTPFetcher lists article links from an index page and scrapes articles,
// downloading their images into a local directory.
type HTTPFetcher struct {
	base        *url.URL
	filter      *LinkFilter
	imageDir    string
	userAgent   string
	maxPages    int
	concurrency int
	client      *http.Client
	logger      *slog.Logger
}

var _ port.Fetcher = (*HTTPFetcher)(nil)

func NewHTTPFetcher(cfg Config, logger *slog.Logger) (*HTTPFetcher, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base url must be absolute: %q", cfg.BaseURL)
	}
	if err := os.MkdirAll(cfg.ImageDir, 0755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPFetcher{
		base:        base,
		filter:      NewLinkFilter(cfg.Includes, cfg.Excludes),
		imageDir:    cfg.ImageDir,
		userAgent:   cfg.UserAgent,
		maxPages:    cfg.MaxPages,
		concurrency: cfg.Concurrency,
		client:      &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
	}, nil
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, maxPageBytes), resp.Body}, nil
}

// ListArticleLinks returns absolute article URLs found on the base page,
// de-duplicated in first-seen order.
func (f *HTTPFetcher) ListArticleLinks(ctx context.Context) ([]string, error) {
	body, err := f.get(ctx, f.base.String())
	if err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	defer body.Close()

	page, err := ParsePage(body)
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}

	seen := make(map[string]bool)
	var links []string
	for _, href := range page.Links {
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := f.base.ResolveReference(ref)
		abs.Fragment = ""
		if abs.Scheme != "http" && abs.Scheme != "https" {
			continue
		}
		if !f.filter.Allow(abs.Path) {
			continue
		}

		full := abs.String()
		if seen[full] {
			continue
		}
		seen[full] = true
		links = append(links, full)

		if f.maxPages > 0 && len(links) == f.maxPages {
			break
		}
	}
	return links, nil
}

// FetchArticle scrapes one article. Images whose src is not an absolute
// http(s) URL are ignored; images that fail to download are logged and dropped.
func (f *HTTPFetcher) FetchArticle(ctx context.Context, rawURL string) (domain.Document, error) {
	body, err := f.get(ctx, rawURL)
	if err != nil {
		return domain.Document{}, err
	}
	defer body.Close()

	page, err := ParsePage(body)
	if err != nil {
		return domain.Document{}, fmt.Errorf("parse %s: %w", rawURL, err)
	}

	doc := domain.Document{
		URL:   rawURL,
		Title: page.Title,
		Text:  page.Text,
	}

	var srcs []string
	for _, src := range page.ImageSrcs {
		if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
			srcs = append(srcs, src)
		}
	}

	assets := make([]*domain.ImageAsset, len(srcs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, src := range srcs {
		g.Go(func() error {
			local, err := f.DownloadImage(gctx, src)
			if err != nil {
				f.logger.Warn("image download failed", "url", src, "error", err)
				return nil
			}
			assets[i] = &domain.ImageAsset{URL: src, LocalPath: local}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Document{}, err
	}

	for _, a := range assets {
		if a != nil {
			doc.Images = append(doc.Images, *a)
		}
	}
	return doc, nil
}

// ImageFileName derives a collision-free local name from the image URL.
// Distinct URLs sharing a basename get distinct files.
func ImageFileName(imageURL string) string {
	sum := sha256.Sum256([]byte(imageURL))
	name := hex.EncodeToString(sum[:16])

	if u, err := url.Parse(imageURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if len(ext) > 1 && len(ext) <= 5 && isAlnum(ext[1:]) {
			name += ext
		}
	}
	return name
}

func isAlnum(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// DownloadImage stores the image under ImageDir and returns its path.
// An already downloaded image is reused.
func (f *HTTPFetcher) DownloadImage(ctx context.Context, imageURL string) (string, error) {
	dest := filepath.Join(f.imageDir, ImageFileName(imageURL))
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		return dest, nil
	}

	body, err := f.get(ctx, imageURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(f.imageDir, ".download-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return dest, nil
}
