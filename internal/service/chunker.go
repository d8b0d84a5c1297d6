package service

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

// ChunkConfig controls how content is split into chunks. Sizes are in runes.
type ChunkConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
	}
}

// normalize clamps values that would make chunking loop or overflow.
func (c ChunkConfig) normalize() ChunkConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkConfig().ChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 5
	}
	return c
}

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
	sentenceEnd   = regexp.MustCompile(`[.!?]+["')\]]*\s+`)
)

// splitter breaks text into parts whose concatenation is the input.
type splitter func(text string) []string

// splitters run in priority order: paragraph, line, sentence, word.
// Anything still too large after the last one is cut at a rune boundary.
var splitters = []splitter{
	func(text string) []string { return splitAfter(text, "\n\n") },
	func(text string) []string { return splitAfter(text, "\n") },
	func(text string) []string { return splitAfterPattern(text, sentenceEnd) },
	func(text string) []string { return splitAfter(text, " ") },
}

// Chunker splits normalized content into ordered, overlapping chunks.
type Chunker struct {
	cfg    ChunkConfig
	logger *slog.Logger
}

// NewChunker creates a Chunker. Invalid overlap is clamped to a fifth of the chunk size.
func NewChunker(cfg ChunkConfig) *Chunker {
	normalized := cfg.normalize()
	logger := slog.Default().With("component", "chunker")
	if normalized != cfg {
		logger.Warn("chunk config adjusted",
			"chunk_size", normalized.ChunkSize, "chunk_overlap", normalized.ChunkOverlap)
	}
	return &Chunker{cfg: normalized, logger: logger}
}

// Config returns the effective configuration.
func (c *Chunker) Config() ChunkConfig {
	return c.cfg
}

// CleanText normalizes line endings, strips trailing spaces and collapses
// runs of blank lines.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Chunk splits text into chunks carrying a copy of seed with position fields
// filled in. Empty text yields no chunks.
func (c *Chunker) Chunk(text string, seed domain.ChunkMetadata) []domain.Chunk {
	clean := CleanText(text)
	if clean == "" {
		c.logger.Debug("no content to chunk", "source_id", seed.SourceID)
		return nil
	}

	cores := c.pack(clean)
	originalLength := utf8.RuneCountInString(clean)

	chunks := make([]domain.Chunk, len(cores))
	prev := ""
	for i, core := range cores {
		overlap := ""
		if i > 0 && c.cfg.ChunkOverlap > 0 {
			room := c.cfg.ChunkSize - utf8.RuneCountInString(core)
			overlap = lastRunes(prev, min(c.cfg.ChunkOverlap, room))
		}

		meta := seed
		meta.ChunkIndex = i
		meta.TotalChunks = len(cores)
		meta.OriginalLength = originalLength
		meta.OverlapLength = utf8.RuneCountInString(overlap)
		meta.Extra = copyExtra(seed.Extra)

		chunks[i] = domain.Chunk{
			Content:  overlap + core,
			Metadata: meta,
		}
		prev = core
	}

	c.logger.Debug("chunked content",
		"source_id", seed.SourceID, "length", originalLength, "chunks", len(chunks))
	return chunks
}

// ChunkItem chunks a single content item.
func (c *Chunker) ChunkItem(item *domain.ContentItem) ([]domain.Chunk, error) {
	if err := domain.ValidateContentItem(item); err != nil {
		return nil, domain.NewSkippableItemError("invalid content item", err)
	}

	chunks := c.Chunk(item.Text, domain.ChunkMetadata{
		SourceID:   item.SourceID,
		SourceType: item.SourceType,
		Category:   item.Category,
		Title:      item.Title,
		URL:        item.URL,
		Extra:      item.Metadata,
	})
	if len(chunks) == 0 {
		return nil, domain.NewSkippableItemError("no content after cleaning", nil)
	}
	return chunks, nil
}

// ChunkBatch chunks every item. A failing item is reported in the returned
// errors and never stops the rest of the batch.
func (c *Chunker) ChunkBatch(items []*domain.ContentItem) ([]domain.Chunk, []domain.ItemError) {
	var (
		all  []domain.Chunk
		errs []domain.ItemError
	)
	for i, item := range items {
		chunks, err := c.ChunkItem(item)
		if err != nil {
			label := itemLabel(item, i)
			c.logger.Warn("skipping content item", "item", label, "err", err)
			errs = append(errs, domain.ItemError{Item: label, Error: err.Error()})
			continue
		}
		all = append(all, chunks...)
	}
	return all, errs
}

// pack greedily fills chunk cores with pieces of text. The first core may use
// the full chunk size; later cores leave room for the overlap prefix.
func (c *Chunker) pack(text string) []string {
	type piece struct {
		text  string
		level int
	}

	var (
		cores    []string
		cur      strings.Builder
		curLen   int
		capacity = c.cfg.ChunkSize
	)

	flush := func() {
		core := cur.String()
		cores = append(cores, core)
		capacity = c.cfg.ChunkSize - min(c.cfg.ChunkOverlap, curLen)
		cur.Reset()
		curLen = 0
	}

	queue := []piece{{text: text, level: 0}}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		n := utf8.RuneCountInString(p.text)

		if curLen+n <= capacity {
			cur.WriteString(p.text)
			curLen += n
			continue
		}

		if curLen > 0 {
			flush()
			queue = append([]piece{p}, queue...)
			continue
		}

		// The piece alone is larger than the chunk: descend the separator
		// hierarchy until it splits.
		parts := []string{p.text}
		level := p.level
		for len(parts) < 2 && level < len(splitters) {
			parts = splitters[level](p.text)
			level++
		}
		if len(parts) < 2 {
			runes := []rune(p.text)
			parts = []string{string(runes[:capacity]), string(runes[capacity:])}
		}

		next := make([]piece, 0, len(parts)+len(queue))
		for _, part := range parts {
			next = append(next, piece{text: part, level: level})
		}
		queue = append(next, queue...)
	}

	if curLen > 0 {
		flush()
	}
	return c.mergeTail(cores)
}

// mergeTail folds a short last core into the one before it when the merged
// core still leaves room for at least half the configured overlap. The merged
// chunk then carries a shorter overlap instead of a near-empty chunk following it.
func (c *Chunker) mergeTail(cores []string) []string {
	n := len(cores)
	if n < 3 {
		return cores
	}
	merged := utf8.RuneCountInString(cores[n-2]) + utf8.RuneCountInString(cores[n-1])
	if merged+c.cfg.ChunkOverlap/2 > c.cfg.ChunkSize {
		return cores
	}
	return append(cores[:n-2], cores[n-2]+cores[n-1])
}

func splitAfter(text, sep string) []string {
	parts := strings.SplitAfter(text, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitAfterPattern(text string, re *regexp.Regexp) []string {
	matches := re.FindAllStringIndex(text, -1)
	parts := make([]string, 0, len(matches)+1)
	start := 0
	for _, m := range matches {
		if m[1] >= len(text) {
			break
		}
		parts = append(parts, text[start:m[1]])
		start = m[1]
	}
	return append(parts, text[start:])
}

func lastRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

func copyExtra(extra map[string]any) map[string]any {
	if extra == nil {
		return nil
	}
	out := make(map[string]any, len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func itemLabel(item *domain.ContentItem, index int) string {
	switch {
	case item == nil:
		return "item-" + strconv.Itoa(index)
	case item.SourceID != "":
		return item.SourceID
	case item.URL != "":
		return item.URL
	case item.Title != "":
		return item.Title
	}
	return "item-" + strconv.Itoa(index)
}
