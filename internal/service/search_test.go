package service

import (
	"context"
	"errors"
	"testing"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSearchLogRepository struct {
	mock.Mock
}

func (m *MockSearchLogRepository) CreateSearchLog(ctx context.Context, entry SearchLogEntry) (string, error) {
	args := m.Called(ctx, entry)
	return args.String(0), args.Error(1)
}

func float64Ptr(v float64) *float64 { return &v }

func seededSearch(t *testing.T, logs SearchLogRepository) (*SearchService, *memoryVectorRepo) {
	t.Helper()
	provider := newHashProvider(16)
	repo := &memoryVectorRepo{}
	store := NewVectorStore(repo)
	ingestion := NewIngestionService(NewChunker(DefaultChunkConfig()), NewEmbedder(provider, DefaultEmbedderConfig()), store, nil)

	_, err := ingestion.ProcessQAPairs(context.Background(), scopeA, []domain.QAPair{
		{ID: "pw", Question: "How do I reset my password?", Answer: "Go to Settings > Security > Reset."},
		{ID: "billing", Question: "Where are invoices?", Answer: "Under Billing."},
	})
	require.NoError(t, err)

	svc := NewSearchService(NewEmbedder(provider, DefaultEmbedderConfig()), store, logs, SearchDefaults{Limit: 5, Threshold: 0.7})
	return svc, repo
}

func TestSearchService_TextQuery(t *testing.T) {
	logs := new(MockSearchLogRepository)
	logs.On("CreateSearchLog", mock.Anything, mock.MatchedBy(func(e SearchLogEntry) bool {
		return e.AgentID == "agent-a" && e.Strategy == StrategyApproximate && len(e.Results) == 1 && e.Limit == 5
	})).Return("log-1", nil)
	svc, _ := seededSearch(t, logs)

	out, err := svc.Search(context.Background(), SearchInput{
		Scope: scopeA,
		Query: "Question: How do I reset my password?\n\nAnswer: Go to Settings > Security > Reset.",
	})

	require.NoError(t, err)
	assert.Equal(t, StrategyApproximate, out.Strategy)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "pw", out.Results[0].Metadata["sourceId"])
	assert.InDelta(t, 1.0, out.Results[0].Similarity, 1e-6)
	logs.AssertExpectations(t)
}

func TestSearchService_VectorQuery(t *testing.T) {
	svc, _ := seededSearch(t, nil)

	out, err := svc.Search(context.Background(), SearchInput{
		Scope:     scopeA,
		Embedding: hashVector("Question: Where are invoices?\n\nAnswer: Under Billing.", 16),
		Limit:     1,
		Threshold: float64Ptr(-1),
	})

	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "billing", out.Results[0].Metadata["sourceId"])
}

func TestSearchService_ExplicitZeroThreshold(t *testing.T) {
	svc, _ := seededSearch(t, nil)

	out, err := svc.Search(context.Background(), SearchInput{
		Scope:     scopeA,
		Query:     "something unrelated",
		Limit:     10,
		Threshold: float64Ptr(-1),
	})

	require.NoError(t, err)
	assert.Len(t, out.Results, 2)
}

func TestSearchService_OtherScopeSeesNothing(t *testing.T) {
	svc, _ := seededSearch(t, nil)

	out, err := svc.Search(context.Background(), SearchInput{
		Scope:     scopeB,
		Query:     "How do I reset my password?",
		Threshold: float64Ptr(-1),
	})

	require.NoError(t, err)
	assert.Empty(t, out.Results)
}

func TestSearchService_EmbeddingFailureFailsSearch(t *testing.T) {
	provider := new(MockEmbeddingProvider)
	provider.On("ModelName").Return("mock")
	provider.On("Dimension").Return(3)
	provider.On("EmbedOne", mock.Anything, "hello").Return(nil, errors.New("timeout"))
	repo := new(MockVectorRepository)

	svc := NewSearchService(NewEmbedder(provider, DefaultEmbedderConfig()), NewVectorStore(repo), nil, SearchDefaults{})
	_, err := svc.Search(context.Background(), SearchInput{Scope: scopeA, Query: "hello"})

	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrCodeProvider))
	repo.AssertNotCalled(t, "SearchApproximate", mock.Anything, mock.Anything)
}

func TestSearchService_Validation(t *testing.T) {
	svc, _ := seededSearch(t, nil)

	_, err := svc.Search(context.Background(), SearchInput{Scope: scopeA, Query: "   "})
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)

	_, err = svc.Search(context.Background(), SearchInput{Query: "x"})
	assert.ErrorIs(t, err, domain.ErrMissingScope)

	_, err = svc.Search(context.Background(), SearchInput{Scope: scopeA, Query: "x", SourceType: "video"})
	assert.ErrorIs(t, err, domain.ErrInvalidSourceType)
}

func TestSearchService_LogFailureIgnored(t *testing.T) {
	logs := new(MockSearchLogRepository)
	logs.On("CreateSearchLog", mock.Anything, mock.Anything).Return("", errors.New("db down"))
	svc, _ := seededSearch(t, logs)

	out, err := svc.Search(context.Background(), SearchInput{Scope: scopeA, Query: "anything", Threshold: float64Ptr(-1)})

	require.NoError(t, err)
	assert.NotEmpty(t, out.Results)
}
