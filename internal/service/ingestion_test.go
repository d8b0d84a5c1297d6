package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestIngestion(provider EmbeddingProvider, repo VectorRepository) *IngestionService {
	return NewIngestionService(
		NewChunker(DefaultChunkConfig()),
		NewEmbedder(provider, EmbedderConfig{BatchSize: 4}),
		NewVectorStore(repo),
		nil,
	)
}

func TestIngestionService_ProcessContent(t *testing.T) {
	repo := &memoryVectorRepo{}
	svc := newTestIngestion(newHashProvider(8), repo)

	items := []*domain.ContentItem{
		{SourceID: "long", SourceType: domain.SourceTypeText, Title: "Long", Text: strings.Repeat("a", 2600)},
		{SourceID: "short", SourceType: domain.SourceTypeURL, Title: "Short", URL: "https://example.com", Text: "A short page."},
	}

	result, err := svc.ProcessContent(context.Background(), scopeA, items)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.TotalItems)
	assert.Equal(t, 4, result.TotalChunks)
	assert.Equal(t, 4, result.TotalVectors)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 4, repo.count())
}

func TestIngestionService_ProcessContent_IsolatesBadItems(t *testing.T) {
	repo := &memoryVectorRepo{}
	svc := newTestIngestion(newHashProvider(8), repo)

	items := []*domain.ContentItem{
		{SourceID: "good", SourceType: domain.SourceTypeText, Text: "Some useful text."},
		{SourceID: "blank", SourceType: domain.SourceTypeText, Text: "   \n\n  "},
		{SourceID: "broken", SourceType: domain.SourceTypeText, Text: string([]byte{0xff, 0xfe})},
		nil,
	}

	result, err := svc.ProcessContent(context.Background(), scopeA, items)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 4, result.TotalItems)
	assert.Equal(t, 1, result.TotalVectors)
	require.Len(t, result.Errors, 3)
	assert.Equal(t, "blank", result.Errors[0].Item)
	assert.Equal(t, "broken", result.Errors[1].Item)
}

func TestIngestionService_ProcessContent_NothingSurvives(t *testing.T) {
	provider := new(MockEmbeddingProvider)
	provider.On("ModelName").Return("mock")
	svc := newTestIngestion(provider, &memoryVectorRepo{})

	result, err := svc.ProcessContent(context.Background(), scopeA, []*domain.ContentItem{
		{SourceID: "empty", SourceType: domain.SourceTypeText, Text: ""},
	})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Len(t, result.Errors, 1)
	provider.AssertNotCalled(t, "EmbedMany", mock.Anything, mock.Anything)
}

func TestIngestionService_ProcessContent_ProviderFailure(t *testing.T) {
	provider := new(MockEmbeddingProvider)
	provider.On("ModelName").Return("mock")
	provider.On("Dimension").Return(2)
	provider.On("EmbedMany", mock.Anything, mock.Anything).Return(nil, errors.New("401 unauthorized"))
	repo := &memoryVectorRepo{}
	svc := newTestIngestion(provider, repo)

	result, err := svc.ProcessContent(context.Background(), scopeA, []*domain.ContentItem{
		{SourceID: "doc", SourceType: domain.SourceTypeText, Text: "Some text."},
	})

	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrCodeProvider))
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.TotalChunks)
	assert.Equal(t, 0, result.TotalVectors)
	assert.Equal(t, 0, repo.count())
}

func TestIngestionService_ProcessContent_StorageFailure(t *testing.T) {
	repo := new(MockVectorRepository)
	repo.On("InsertBatch", mock.Anything, mock.Anything).Return(0, errors.New("disk full"))
	svc := newTestIngestion(newHashProvider(4), repo)

	result, err := svc.ProcessContent(context.Background(), scopeA, []*domain.ContentItem{
		{SourceID: "doc", SourceType: domain.SourceTypeText, Text: "Some text."},
	})

	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrCodeStorage))
	assert.False(t, result.Success)
}

func TestIngestionService_ProcessContent_MissingScope(t *testing.T) {
	svc := newTestIngestion(newHashProvider(4), &memoryVectorRepo{})

	_, err := svc.ProcessContent(context.Background(), domain.Scope{CompanyID: "c"}, nil)

	assert.ErrorIs(t, err, domain.ErrMissingScope)
}

func TestIngestionService_ProcessQAPairs(t *testing.T) {
	repo := &memoryVectorRepo{}
	provider := newHashProvider(8)
	svc := newTestIngestion(provider, repo)

	result, err := svc.ProcessQAPairs(context.Background(), scopeA, []domain.QAPair{
		{Question: "How do I reset my password?", Answer: "Go to Settings > Security > Reset."},
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.TotalChunks)
	assert.Equal(t, 1, result.TotalVectors)

	require.Equal(t, 1, repo.count())
	rec := repo.records[0]
	assert.Equal(t, "Question: How do I reset my password?\n\nAnswer: Go to Settings > Security > Reset.", rec.Content)
	assert.Equal(t, domain.SourceTypeQA, rec.Source.Type)
	assert.Equal(t, 1, rec.Source.TotalChunks)
	assert.Equal(t, "How do I reset my password?", rec.Source.Title)
	assert.Equal(t, domain.QAPairID("How do I reset my password?", "Go to Settings > Security > Reset."), rec.Metadata["sourceId"])
	assert.Equal(t, "How do I reset my password?", rec.Metadata["question"])
}

func TestIngestionService_ProcessQAPairs_LongAnswerStaysWhole(t *testing.T) {
	repo := &memoryVectorRepo{}
	svc := newTestIngestion(newHashProvider(8), repo)

	result, err := svc.ProcessQAPairs(context.Background(), scopeA, []domain.QAPair{
		{ID: "faq-1", Title: "Long", Question: "Why?", Answer: strings.Repeat("Because. ", 400)},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalVectors)
	assert.Equal(t, "faq-1", repo.records[0].Metadata["sourceId"])
	assert.Equal(t, "Long", repo.records[0].Source.Title)
}

func TestIngestionService_ProcessQAPairs_KeepsPairMetadata(t *testing.T) {
	repo := &memoryVectorRepo{}
	svc := newTestIngestion(newHashProvider(8), repo)

	_, err := svc.ProcessQAPairs(context.Background(), scopeA, []domain.QAPair{
		{ID: "faq-1", Question: "Q", Answer: "A", Metadata: map[string]any{domain.MetadataKnowledgeID: "k4", "question": "ignored"}},
	})

	require.NoError(t, err)
	require.Equal(t, 1, repo.count())
	assert.Equal(t, "k4", repo.records[0].Metadata[domain.MetadataKnowledgeID])
	assert.Equal(t, "Q", repo.records[0].Metadata["question"])
}

func TestIngestionService_ProcessQAPairs_InvalidPairs(t *testing.T) {
	repo := &memoryVectorRepo{}
	svc := newTestIngestion(newHashProvider(8), repo)

	result, err := svc.ProcessQAPairs(context.Background(), scopeA, []domain.QAPair{
		{ID: "ok", Question: "Q", Answer: "A"},
		{ID: "no-answer", Question: "Q"},
		{Answer: "A"},
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.TotalItems)
	assert.Equal(t, 1, result.TotalVectors)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "no-answer", result.Errors[0].Item)
	assert.Equal(t, "qa-2", result.Errors[1].Item)
}

type stubCrawler struct {
	pages []*domain.ContentItem
	errs  []domain.ItemError
	calls int
}

func (c *stubCrawler) CrawlAll(_ context.Context, _ []string) ([]*domain.ContentItem, []domain.ItemError) {
	c.calls++
	return c.pages, c.errs
}

func TestIngestionService_ProcessURLs_PartialSuccess(t *testing.T) {
	repo := &memoryVectorRepo{}
	crawler := &stubCrawler{
		pages: []*domain.ContentItem{{
			SourceID:   "https://example.com/help",
			SourceType: domain.SourceTypeURL,
			URL:        "https://example.com/help",
			Title:      "Help",
			Category:   "help",
			Text:       "How to get help.\r\n\r\n\r\nContact support.",
		}},
		errs: []domain.ItemError{{Item: "https://example.com/broken", Error: "status 500"}},
	}
	svc := NewIngestionService(
		NewChunker(DefaultChunkConfig()),
		NewEmbedder(newHashProvider(8), DefaultEmbedderConfig()),
		NewVectorStore(repo),
		func() URLCrawler { return crawler },
	)

	result, err := svc.ProcessURLs(context.Background(), scopeA, []string{"https://example.com/help", "https://example.com/broken"})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.TotalItems)
	assert.Equal(t, 1, result.TotalVectors)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "https://example.com/broken", result.Errors[0].Item)

	require.Equal(t, 1, repo.count())
	assert.Equal(t, "How to get help.\n\nContact support.", repo.records[0].Content)
	assert.Equal(t, "https://example.com/help", repo.records[0].Source.URL)
	assert.Equal(t, "help", repo.records[0].Source.Category)
}

func TestIngestionService_ProcessURLsWithMetadata(t *testing.T) {
	repo := &memoryVectorRepo{}
	crawler := &stubCrawler{pages: []*domain.ContentItem{{
		SourceID:   "https://example.com/help",
		SourceType: domain.SourceTypeURL,
		URL:        "https://example.com/help",
		Text:       "How to get help.",
		Metadata:   map[string]any{"lang": "en"},
	}}}
	svc := NewIngestionService(
		NewChunker(DefaultChunkConfig()),
		NewEmbedder(newHashProvider(8), DefaultEmbedderConfig()),
		NewVectorStore(repo),
		func() URLCrawler { return crawler },
	)

	_, err := svc.ProcessURLsWithMetadata(context.Background(), scopeA, []string{"https://example.com/help"},
		map[string]any{domain.MetadataKnowledgeID: "k9"})

	require.NoError(t, err)
	require.Equal(t, 1, repo.count())
	assert.Equal(t, "k9", repo.records[0].Metadata[domain.MetadataKnowledgeID])
	assert.Equal(t, "en", repo.records[0].Metadata["lang"])
	assert.Nil(t, crawler.pages[0].Metadata[domain.MetadataKnowledgeID], "crawled item must not be mutated")
}

func TestIngestionService_ProcessURLs_NotConfigured(t *testing.T) {
	svc := newTestIngestion(newHashProvider(4), &memoryVectorRepo{})

	result, err := svc.ProcessURLs(context.Background(), scopeA, []string{"https://example.com"})

	require.Error(t, err)
	assert.False(t, result.Success)
}

func TestIngestionService_ProcessRaw(t *testing.T) {
	repo := &memoryVectorRepo{}
	svc := newTestIngestion(newHashProvider(8), repo)

	result, err := svc.ProcessRaw(context.Background(), scopeA, []RawSource{
		{SourceID: "a", Type: domain.SourceTypeText, Title: "A", Text: "alpha"},
		{SourceID: "b", Type: domain.SourceTypeText, Text: "  "},
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.TotalItems)
	assert.Equal(t, 1, result.TotalVectors)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "b", result.Errors[0].Item)
}

func TestIngestionService_ProcessRaw_InvalidUTF8IsReported(t *testing.T) {
	repo := &memoryVectorRepo{}
	svc := newTestIngestion(newHashProvider(8), repo)

	result, err := svc.ProcessRaw(context.Background(), scopeA, []RawSource{
		{SourceID: "good", Type: domain.SourceTypeText, Text: "alpha"},
		{SourceID: "broken", Type: domain.SourceTypeText, Text: string([]byte{'o', 'k', 0xff})},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalVectors)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "broken", result.Errors[0].Item)
	assert.Contains(t, result.Errors[0].Error, "SKIPPABLE_ITEM")
}
