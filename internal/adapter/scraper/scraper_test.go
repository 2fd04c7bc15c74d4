package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexPage = `<html><body>
<a href="/the-batch/">Home</a>
<a href="/the-batch/issue-1/">Issue 1</a>
<a href="/the-batch/issue-2/">Issue 2</a>
<a href="/the-batch/issue-1/#comments">Issue 1 again</a>
<a href="/courses/">Courses</a>
<a href="mailto:hi@example.com">Mail</a>
</body></html>`

func articlePage(imgHost string) string {
	return fmt.Sprintf(`<html><head><style>.x{color:red}</style></head><body>
<h1>  CLIP   Explained </h1>
<article>
  <p>First paragraph.</p>
  <script>var tracking = 1;</script>
  <p>Second <b>bold</b> paragraph.</p>
</article>
<img src="%[1]s/a/photo.png">
<img src="%[1]s/b/photo.png">
<img src="/relative.png">
<img src="%[1]s/missing.jpg">
</body></html>`, imgHost)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/the-batch/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/the-batch/" {
			fmt.Fprint(w, indexPage)
			return
		}
		fmt.Fprint(w, articlePage(srv.URL))
	})
	mux.HandleFunc("/a/photo.png", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("image-a")) })
	mux.HandleFunc("/b/photo.png", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("image-b")) })
	mux.HandleFunc("/missing.jpg", http.NotFound)
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(t *testing.T, srv *httptest.Server) *HTTPFetcher {
	t.Helper()
	f, err := NewHTTPFetcher(Config{
		BaseURL:  srv.URL + "/the-batch/",
		Includes: []string{"/the-batch/**"},
		Excludes: []string{"/the-batch", "/the-batch/"},
		ImageDir: filepath.Join(t.TempDir(), "images"),
	}, nil)
	require.NoError(t, err)
	return f
}

func TestListArticleLinks(t *testing.T) {
	srv := newTestServer(t)
	f := newTestFetcher(t, srv)

	links, err := f.ListArticleLinks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		srv.URL + "/the-batch/issue-1/",
		srv.URL + "/the-batch/issue-2/",
	}, links)
}

func TestListArticleLinksMaxPages(t *testing.T) {
	srv := newTestServer(t)
	f := newTestFetcher(t, srv)
	f.maxPages = 1

	links, err := f.ListArticleLinks(context.Background())
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestFetchArticle(t *testing.T) {
	srv := newTestServer(t)
	f := newTestFetcher(t, srv)

	doc, err := f.FetchArticle(context.Background(), srv.URL+"/the-batch/issue-1/")
	require.NoError(t, err)

	assert.Equal(t, "CLIP Explained", doc.Title)
	assert.Equal(t, "First paragraph.\nSecond\nbold\nparagraph.", doc.Text)

	// the relative src is ignored and the 404 is dropped
	require.Len(t, doc.Images, 2)
	assert.Equal(t, srv.URL+"/a/photo.png", doc.Images[0].URL)
	assert.Equal(t, srv.URL+"/b/photo.png", doc.Images[1].URL)
	assert.NotEqual(t, doc.Images[0].LocalPath, doc.Images[1].LocalPath)

	data, err := os.ReadFile(doc.Images[1].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "image-b", string(data))
}

func TestFetchArticleHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	f := newTestFetcher(t, srv)

	_, err := f.FetchArticle(context.Background(), srv.URL+"/the-batch/gone/")
	assert.ErrorContains(t, err, "404")
}

func TestParsePageDefaults(t *testing.T) {
	page, err := ParsePage(strings.NewReader(`<html><body><main><p>Only main</p></main></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, page.Title)
	assert.Equal(t, "Only main", page.Text)

	page, err = ParsePage(strings.NewReader(`<html><body><p>no content root</p></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "", page.Text)
}

func TestImageFileName(t *testing.T) {
	a := ImageFileName("https://cdn.example.com/2024/photo.png")
	b := ImageFileName("https://cdn.example.com/2025/photo.png")

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, ".png"))
	assert.Equal(t, a, ImageFileName("https://cdn.example.com/2024/photo.png"))
	assert.False(t, strings.Contains(ImageFileName("https://x/y.weird-ext!"), "!"))
}

func TestLinkFilter(t *testing.T) {
	f := NewLinkFilter([]string{"/the-batch/**"}, []string{"/the-batch/", "/the-batch/tag/**"})

	assert.True(t, f.Allow("/the-batch/issue-1/"))
	assert.False(t, f.Allow("/the-batch/"))
	assert.False(t, f.Allow("/the-batch/tag/ai/"))
	assert.False(t, f.Allow("/blog/post/"))
}
