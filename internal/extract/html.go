// Package extract pulls readable text out of HTML pages and PDF documents.
package extract

import (
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// noise is removed before any text is read.
const noise = "script, style, noscript, nav, header, footer, aside, form, iframe, svg, template"

const blocks = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td, th, dt, dd"

var (
	spaceRun  = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	slugSplit = regexp.MustCompile(`[-_]+`)
)

// Page is the readable part of an HTML document.
type Page struct {
	Title       string
	Description string
	Text        string
}

// HTML parses r and returns the page title and main text. The title is taken
// from og:title, then <title>, then the first h1. Main text comes from main,
// article or [role=main], falling back to body.
func HTML(r io.Reader) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	doc.Find(noise).Remove()

	page := &Page{
		Title:       pageTitle(doc),
		Description: strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", "")),
	}

	root := doc.Find("main, article, [role=main]").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}
	if root.Length() == 0 {
		root = doc.Selection
	}
	page.Text = blockText(root)
	return page, nil
}

func pageTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", "")); t != "" {
		return t
	}
	if t := collapse(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return collapse(doc.Find("h1").First().Text())
}

// blockText joins block-level elements with blank lines. Nested blocks are
// read once, through their outermost match.
func blockText(root *goquery.Selection) string {
	var parts []string
	root.Find(blocks).Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered(blocks).Length() > 0 {
			return
		}
		if t := collapse(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return collapse(root.Text())
	}
	return strings.Join(parts, "\n\n")
}

func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(spaceRun.ReplaceAllString(l, " "))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, " ")
}

// TitleFromURL derives a readable title from the last path segment, or the
// host when the path is empty.
func TitleFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	base := path.Base(strings.TrimSuffix(u.Path, "/"))
	if base == "" || base == "." || base == "/" {
		return u.Hostname()
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	words := strings.Fields(slugSplit.ReplaceAllString(base, " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	if len(words) == 0 {
		return u.Hostname()
	}
	return strings.Join(words, " ")
}
