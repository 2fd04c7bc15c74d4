package scraper

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const DefaultTitle = "No Title"

// Page is what ParsePage extracts from one HTML document.
type Page struct {
	Title     string
	Text      string
	Links     []string // raw href values, in document order
	ImageSrcs []string // raw img src values, in document order
}

// ParsePage reads an HTML document. The title is the text of the first <h1>;
// the body text comes from the first <article>, falling back to <main>, with
// each non-empty text node trimmed and joined by newlines.
func ParsePage(r io.Reader) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	page := &Page{Title: DefaultTitle}

	if h1 := findFirst(doc, atom.H1); h1 != nil {
		if title := strings.Join(textNodes(h1), " "); title != "" {
			page.Title = title
		}
	}

	content := findFirst(doc, atom.Article)
	if content == nil {
		content = findFirst(doc, atom.Main)
	}
	if content != nil {
		page.Text = strings.Join(textNodes(content), "\n")
	}

	walk(doc, func(n *html.Node) {
		switch n.DataAtom {
		case atom.A:
			if href := attr(n, "href"); href != "" {
				page.Links = append(page.Links, href)
			}
		case atom.Img:
			if src := attr(n, "src"); src != "" {
				page.ImageSrcs = append(page.ImageSrcs, src)
			}
		}
	})

	return page, nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

// textNodes returns the trimmed, non-empty text under n. Script and style
// bodies are skipped.
func textNodes(n *html.Node) []string {
	var out []string
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				out = append(out, s)
			}
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
