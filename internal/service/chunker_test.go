package service

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinCores(chunks []domain.Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Core())
	}
	return b.String()
}

func assertChunkInvariants(t *testing.T, chunks []domain.Chunk, cleaned string, cfg ChunkConfig) {
	t.Helper()

	assert.Equal(t, cleaned, joinCores(chunks), "cores must reconstruct the cleaned text")

	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), cfg.ChunkSize, "chunk %d too large", i)
		assert.Equal(t, i, c.Metadata.ChunkIndex)
		assert.Equal(t, len(chunks), c.Metadata.TotalChunks)

		if i == 0 {
			assert.Zero(t, c.Metadata.OverlapLength)
			continue
		}
		prevCore := []rune(chunks[i-1].Core())
		overlap := c.Metadata.OverlapLength
		require.LessOrEqual(t, overlap, cfg.ChunkOverlap)
		require.LessOrEqual(t, overlap, len(prevCore))
		tail := string(prevCore[len(prevCore)-overlap:])
		assert.True(t, strings.HasPrefix(c.Content, tail), "chunk %d must start with the tail of chunk %d", i, i-1)
	}
}

func TestChunker_ThreeChunksWithOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghi ", 260)
	cfg := ChunkConfig{ChunkSize: 1000, ChunkOverlap: 200}
	chunker := NewChunker(cfg)

	chunks := chunker.Chunk(text, domain.ChunkMetadata{SourceID: "doc-1", SourceType: domain.SourceTypeText})

	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Metadata.ChunkIndex)
		assert.Equal(t, 3, c.Metadata.TotalChunks)
		assert.Equal(t, "doc-1", c.Metadata.SourceID)
	}

	core0 := chunks[0].Core()
	assert.Equal(t, 1000, utf8.RuneCountInString(core0))
	assert.True(t, strings.HasPrefix(chunks[1].Content, core0[len(core0)-200:]))
	assert.Equal(t, 200, chunks[1].Metadata.OverlapLength)

	assertChunkInvariants(t, chunks, CleanText(text), cfg)
}

func TestChunker_ProseOf2600CharsGivesThreeChunks(t *testing.T) {
	sentences := "Customers can request a refund within fourteen days. " +
		"Our support team answers most questions quickly! " +
		"Shipping usually takes three to five business days. "
	text := strings.Repeat(sentences, 30)[:2600]
	cfg := ChunkConfig{ChunkSize: 1000, ChunkOverlap: 200}

	chunks := NewChunker(cfg).Chunk(text, domain.ChunkMetadata{SourceID: "policy"})

	require.Len(t, chunks, 3)
	core0 := chunks[0].Core()
	assert.Equal(t, 200, chunks[1].Metadata.OverlapLength)
	assert.True(t, strings.HasPrefix(chunks[1].Content, core0[len(core0)-200:]))
	assert.GreaterOrEqual(t, chunks[2].Metadata.OverlapLength, 100)
	assertChunkInvariants(t, chunks, CleanText(text), cfg)
}

func TestChunker_UnbrokenTextFallsBackToCharacters(t *testing.T) {
	text := strings.Repeat("x", 2600)
	cfg := ChunkConfig{ChunkSize: 1000, ChunkOverlap: 200}

	chunks := NewChunker(cfg).Chunk(text, domain.ChunkMetadata{})

	require.Len(t, chunks, 3)
	assert.Equal(t, 1000, utf8.RuneCountInString(chunks[0].Content))
	assert.Equal(t, 1000, utf8.RuneCountInString(chunks[1].Content))
	assert.Equal(t, 1000, utf8.RuneCountInString(chunks[2].Content))
	assertChunkInvariants(t, chunks, text, cfg)
}

func TestChunker_ShortTextSingleChunk(t *testing.T) {
	chunks := NewChunker(DefaultChunkConfig()).Chunk("  A short note.  ", domain.ChunkMetadata{SourceID: "n1"})

	require.Len(t, chunks, 1)
	assert.Equal(t, "A short note.", chunks[0].Content)
	assert.Equal(t, 1, chunks[0].Metadata.TotalChunks)
	assert.Equal(t, 0, chunks[0].Metadata.ChunkIndex)
	assert.Equal(t, 13, chunks[0].Metadata.OriginalLength)
}

func TestChunker_EmptyText(t *testing.T) {
	chunker := NewChunker(DefaultChunkConfig())

	assert.Empty(t, chunker.Chunk("", domain.ChunkMetadata{}))
	assert.Empty(t, chunker.Chunk(" \n\t\r\n ", domain.ChunkMetadata{}))
}

func TestChunker_PrefersParagraphBoundaries(t *testing.T) {
	para := func(word string) string {
		return strings.TrimSpace(strings.Repeat(word+" ", 30))
	}
	text := para("alpha") + "\n\n" + para("bravo") + "\n\n" + para("charlie")
	cfg := ChunkConfig{ChunkSize: 250, ChunkOverlap: 0}

	chunks := NewChunker(cfg).Chunk(text, domain.ChunkMetadata{})

	require.Len(t, chunks, 3)
	assert.True(t, strings.HasPrefix(chunks[0].Content, "alpha"))
	assert.True(t, strings.HasPrefix(chunks[1].Content, "bravo"))
	assert.True(t, strings.HasPrefix(chunks[2].Content, "charlie"))
	assertChunkInvariants(t, chunks, text, cfg)
}

func TestChunker_SentenceBoundaries(t *testing.T) {
	sentence := "This sentence is exactly forty chars ok. "
	text := strings.TrimSpace(strings.Repeat(sentence, 10))
	cfg := ChunkConfig{ChunkSize: 100, ChunkOverlap: 10}

	chunks := NewChunker(cfg).Chunk(text, domain.ChunkMetadata{})

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(c.Core(), ". "), "core %q should end at a sentence boundary", c.Core())
	}
	assertChunkInvariants(t, chunks, text, cfg)
}

func TestChunker_InvariantsOnMixedContent(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("Heading line\r\n")
		b.WriteString(strings.Repeat("Some body text with ümlauts and punctuation! ", 7))
		b.WriteString("\n\n\n\n")
	}
	cfg := ChunkConfig{ChunkSize: 300, ChunkOverlap: 60}

	chunks := NewChunker(cfg).Chunk(b.String(), domain.ChunkMetadata{})

	require.NotEmpty(t, chunks)
	assertChunkInvariants(t, chunks, CleanText(b.String()), cfg)
}

func TestChunker_ClampsInvalidOverlap(t *testing.T) {
	chunker := NewChunker(ChunkConfig{ChunkSize: 100, ChunkOverlap: 150})
	assert.Equal(t, 20, chunker.Config().ChunkOverlap)

	chunker = NewChunker(ChunkConfig{ChunkSize: 0, ChunkOverlap: -5})
	assert.Equal(t, 1000, chunker.Config().ChunkSize)
	assert.Equal(t, 0, chunker.Config().ChunkOverlap)
}

func TestCleanText(t *testing.T) {
	in := "Title  \r\n\r\n\r\n\r\nBody line\t\nnext\rlast   "
	assert.Equal(t, "Title\n\nBody line\nnext\nlast", CleanText(in))
}

func TestChunker_ChunkBatch_IsolatesBadItems(t *testing.T) {
	chunker := NewChunker(DefaultChunkConfig())
	items := []*domain.ContentItem{
		{SourceID: "ok-1", SourceType: domain.SourceTypeText, Title: "First", Text: "Hello world."},
		{SourceID: "bad-utf8", SourceType: domain.SourceTypeText, Text: "broken \xff\xfe"},
		{SourceID: "empty", SourceType: domain.SourceTypeText, Text: "   "},
		nil,
		{SourceID: "ok-2", SourceType: domain.SourceTypeURL, URL: "https://example.com", Category: "docs", Text: "Docs page.", Metadata: map[string]any{"lang": "en"}},
	}

	chunks, errs := chunker.ChunkBatch(items)

	require.Len(t, chunks, 2)
	assert.Equal(t, "ok-1", chunks[0].Metadata.SourceID)
	assert.Equal(t, "First", chunks[0].Metadata.Title)
	assert.Equal(t, "ok-2", chunks[1].Metadata.SourceID)
	assert.Equal(t, "docs", chunks[1].Metadata.Category)
	assert.Equal(t, "https://example.com", chunks[1].Metadata.URL)
	assert.Equal(t, "en", chunks[1].Metadata.Extra["lang"])

	require.Len(t, errs, 3)
	assert.Equal(t, "bad-utf8", errs[0].Item)
	assert.Equal(t, "empty", errs[1].Item)
	assert.Equal(t, "item-3", errs[2].Item)
	assert.Contains(t, errs[0].Error, domain.ErrCodeSkippableItem)
}
