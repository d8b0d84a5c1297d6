// Package crawler fetches web pages and turns them into content items.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/extract"
	"golang.org/x/net/html/charset"
)

const userAgent = "agentkb-crawler/1.0"

// Config controls fetching and acceptance of pages.
type Config struct {
	Delay            time.Duration
	Timeout          time.Duration
	MaxBytes         int64
	MinContentLength int
}

// DefaultConfig returns the crawler defaults.
func DefaultConfig() Config {
	return Config{
		Delay:            time.Second,
		Timeout:          30 * time.Second,
		MaxBytes:         5 << 20,
		MinContentLength: 100,
	}
}

// Crawler fetches each URL at most once per instance and spaces its requests
// by Config.Delay.
type Crawler struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	visited   map[string]struct{}
	lastFetch time.Time
}

// New creates a Crawler with an empty visited set. A nil client gets a
// default one bounded by cfg.Timeout.
func New(cfg Config, client *http.Client) *Crawler {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Crawler{
		cfg:     cfg,
		client:  client,
		logger:  slog.Default().With("component", "crawler"),
		visited: make(map[string]struct{}),
	}
}

// Crawl fetches rawURL and extracts its content. A URL already visited by
// this crawler returns nil without a request.
func (c *Crawler) Crawl(ctx context.Context, rawURL string) (*domain.ContentItem, error) {
	key, err := normalizeURL(rawURL)
	if err != nil {
		return nil, domain.NewCrawlError("invalid url", err)
	}
	if !c.markVisited(key) {
		c.logger.Debug("already visited", "url", rawURL)
		return nil, nil
	}

	if err := c.wait(ctx); err != nil {
		return nil, domain.NewCrawlError("crawl cancelled", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	page, err := c.fetch(ctx, rawURL)
	if err != nil {
		return nil, domain.NewCrawlError("failed to fetch "+rawURL, err)
	}

	length := utf8.RuneCountInString(page.Text)
	if length < c.cfg.MinContentLength {
		return nil, domain.NewCrawlError("content too short",
			fmt.Errorf("%d characters, minimum is %d", length, c.cfg.MinContentLength))
	}

	title := page.Title
	if title == "" {
		title = extract.TitleFromURL(rawURL)
	}

	return &domain.ContentItem{
		SourceID:   rawURL,
		SourceType: domain.SourceTypeURL,
		Title:      title,
		URL:        rawURL,
		Category:   Categorize(rawURL, title, page.Text),
		Text:       page.Text,
		Metadata: map[string]any{
			"description": page.Description,
			"crawledAt":   time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// CrawlAll crawls urls in order, pausing between requests. Failures are
// collected per URL and never stop the run.
func (c *Crawler) CrawlAll(ctx context.Context, urls []string) ([]*domain.ContentItem, []domain.ItemError) {
	var (
		items []*domain.ContentItem
		errs  []domain.ItemError
	)
	for _, u := range urls {
		item, err := c.Crawl(ctx, u)
		if err != nil {
			c.logger.Warn("crawl failed", "url", u, "err", err)
			errs = append(errs, domain.ItemError{Item: u, Error: err.Error()})
			continue
		}
		if item != nil {
			items = append(items, item)
		}
	}

	c.logger.Info("crawl finished", "urls", len(urls), "pages", len(items), "failed", len(errs))
	return items, errs
}

func (c *Crawler) markVisited(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.visited[key]; ok {
		return false
	}
	c.visited[key] = struct{}{}
	return true
}

// wait blocks until Delay has passed since the previous request.
func (c *Crawler) wait(ctx context.Context) error {
	c.mu.Lock()
	pause := time.Until(c.lastFetch.Add(c.cfg.Delay))
	if c.lastFetch.IsZero() || pause < 0 {
		pause = 0
	}
	c.lastFetch = time.Now().Add(pause)
	c.mu.Unlock()

	if pause == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Crawler) fetch(ctx context.Context, rawURL string) (*extract.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if resp.ContentLength > c.cfg.MaxBytes {
		return nil, fmt.Errorf("page too large: %d bytes", resp.ContentLength)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "" {
		mediaType = "text/html"
	}
	if mediaType != "text/html" && mediaType != "application/xhtml+xml" && mediaType != "text/plain" {
		return nil, fmt.Errorf("unsupported content type %q", mediaType)
	}

	body := io.LimitReader(resp.Body, c.cfg.MaxBytes)
	decoded, err := charset.NewReader(body, contentType)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}

	if mediaType == "text/plain" {
		b, err := io.ReadAll(decoded)
		if err != nil {
			return nil, err
		}
		text := strings.TrimSpace(string(b))
		first, _, _ := strings.Cut(text, "\n")
		return &extract.Page{Title: strings.TrimSpace(first), Text: text}, nil
	}
	return extract.HTML(decoded)
}

var errInvalidURL = errors.New("url must be absolute http(s)")

// normalizeURL lower-cases scheme and host and drops the fragment and any
// trailing slash so equivalent URLs share one visited entry.
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errInvalidURL
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}
