package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWalkerIncludesExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "# A")
	writeFile(t, filepath.Join(root, "sub", "b.html"), "<h1>B</h1>")
	writeFile(t, filepath.Join(root, "skip", "c.md"), "# C")
	writeFile(t, filepath.Join(root, "d.go"), "package d")

	files, err := NewWalker(nil, []string{"skip/**"}).Walk(root)
	if err != nil {
		t.Fatal(err)
	}

	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d: %v", len(files), files)
	}
	if filepath.Base(files[0]) != "a.md" || filepath.Base(files[1]) != "b.html" {
		t.Errorf("unexpected files: %v", files)
	}
}

func TestDirFetcherMarkdown(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "clip.md")
	writeFile(t, path, "\n# What is CLIP?\n\nCLIP learns joint text and image embeddings.\n")

	f := NewDirFetcher(root, nil, nil)
	doc, err := f.FetchArticle(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "What is CLIP?" {
		t.Errorf("expected title 'What is CLIP?', got %q", doc.Title)
	}
	if doc.URL != "file://"+filepath.ToSlash(path) {
		t.Errorf("unexpected url %q", doc.URL)
	}
}

func TestDirFetcherHTMLWithLocalImages(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "img", "fig.png"), "png-bytes")
	page := filepath.Join(root, "post.html")
	writeFile(t, page, `<h1>Post</h1><article><p>Body text.</p></article>
<img src="img/fig.png"><img src="img/none.png"><img src="https://remote/x.png">`)

	doc, err := NewDirFetcher(root, nil, nil).FetchArticle(context.Background(), page)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "Post" || doc.Text != "Body text." {
		t.Errorf("unexpected document: %+v", doc)
	}
	if len(doc.Images) != 1 {
		t.Fatalf("expected 1 local image, got %d", len(doc.Images))
	}
	if doc.Images[0].LocalPath != filepath.Join(root, "img", "fig.png") {
		t.Errorf("unexpected image path %q", doc.Images[0].LocalPath)
	}
}
