//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/service"
	"github.com/cloo-solutions/agentkb/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	scopeA = domain.Scope{AgentID: "agent-a", CompanyID: "company-1"}
	scopeB = domain.Scope{AgentID: "agent-b", CompanyID: "company-1"}
)

func newVectorRecord(scope domain.Scope, content string, sourceType domain.SourceType, embedding []float32) *domain.VectorRecord {
	return &domain.VectorRecord{
		ID:                 uuid.NewString(),
		AgentID:            scope.AgentID,
		CompanyID:          scope.CompanyID,
		Content:            content,
		Embedding:          embedding,
		EmbeddingDimension: len(embedding),
		EmbeddingModel:     "test",
		Metadata:           map[string]any{"sourceId": content},
		Source: domain.SourceRef{
			Type:        sourceType,
			Title:       "Title " + content,
			URL:         "https://acme.com/" + content,
			Category:    "general",
			TotalChunks: 1,
		},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func setupVectorRepo(ctx context.Context, t *testing.T) *VectorRepository {
	t.Helper()
	return NewVectorRepository(testutil.StartVectorDB(ctx, t))
}

func TestVectorRepository(t *testing.T) {
	ctx := context.Background()
	repo := setupVectorRepo(ctx, t)
	require.NoError(t, repo.EnsureANNIndex(ctx, 3))
	require.NoError(t, repo.EnsureANNIndex(ctx, 3))
	require.NoError(t, repo.EnsureANNIndex(ctx, 3072))

	stored, err := repo.InsertBatch(ctx, []*domain.VectorRecord{
		newVectorRecord(scopeA, "pricing", domain.SourceTypeURL, []float32{1, 0, 0}),
		newVectorRecord(scopeA, "refunds", domain.SourceTypeText, []float32{0, 1, 0}),
		newVectorRecord(scopeA, "password", domain.SourceTypeQA, []float32{0.9, 0.1, 0}),
		newVectorRecord(scopeA, "wide", domain.SourceTypeText, []float32{1, 0, 0, 0}),
		newVectorRecord(scopeB, "other-agent", domain.SourceTypeURL, []float32{1, 0, 0}),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, stored)

	t.Run("approximate search stays in scope and dimension", func(t *testing.T) {
		results, err := repo.SearchApproximate(ctx, service.ApproximateQuery{
			SearchQuery: service.SearchQuery{Scope: scopeA, Embedding: []float32{1, 0, 0}, Limit: 5},
			Candidates:  50,
		})

		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "pricing", results[0].Content)
		assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
		assert.Equal(t, "password", results[1].Content)
		assert.Equal(t, []float32{1, 0, 0}, results[0].Embedding)
		assert.Equal(t, domain.SourceTypeURL, results[0].Source.Type)
		assert.Equal(t, "pricing", results[0].Metadata["sourceId"])
	})

	t.Run("approximate search applies filters", func(t *testing.T) {
		results, err := repo.SearchApproximate(ctx, service.ApproximateQuery{
			SearchQuery: service.SearchQuery{Scope: scopeA, Embedding: []float32{1, 0, 0}, Limit: 5, SourceType: domain.SourceTypeQA},
			Candidates:  50,
		})

		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "password", results[0].Content)
	})

	t.Run("list scope", func(t *testing.T) {
		records, err := repo.ListScope(ctx, scopeA, domain.VectorFilter{})
		require.NoError(t, err)
		assert.Len(t, records, 4)

		records, err = repo.ListScope(ctx, scopeA, domain.VectorFilter{SourceTitle: "Title refunds"})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, []float32{0, 1, 0}, records[0].Embedding)
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := repo.Stats(ctx, scopeA)

		require.NoError(t, err)
		assert.Equal(t, 4, stats.TotalVectors)
		assert.Equal(t, int64(len("pricing")+len("refunds")+len("password")+len("wide")), stats.TotalContentLength)
		assert.ElementsMatch(t, []domain.SourceType{domain.SourceTypeURL, domain.SourceTypeText, domain.SourceTypeQA}, stats.SourceTypes)
		assert.Equal(t, []string{"general"}, stats.Categories)
		assert.Equal(t, 3, stats.EmbeddingDimension)

		empty, err := repo.Stats(ctx, domain.Scope{AgentID: "nobody", CompanyID: "none"})
		require.NoError(t, err)
		assert.Zero(t, empty.TotalVectors)
		assert.Empty(t, empty.SourceTypes)
	})

	t.Run("delete by source type keeps the rest", func(t *testing.T) {
		deleted, err := repo.Delete(ctx, scopeA, domain.VectorFilter{SourceType: domain.SourceTypeURL})
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		records, err := repo.ListScope(ctx, scopeA, domain.VectorFilter{})
		require.NoError(t, err)
		assert.Len(t, records, 3)

		others, err := repo.ListScope(ctx, scopeB, domain.VectorFilter{})
		require.NoError(t, err)
		assert.Len(t, others, 1)
	})

	t.Run("delete whole scope", func(t *testing.T) {
		deleted, err := repo.Delete(ctx, scopeA, domain.VectorFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), deleted)
	})
}

func TestVectorStore_EndToEnd(t *testing.T) {
	ctx := context.Background()
	repo := setupVectorRepo(ctx, t)
	require.NoError(t, repo.EnsureANNIndex(ctx, 3))

	store := service.NewVectorStore(repo)
	chunk := func(content string, v []float32) domain.EmbeddedChunk {
		return domain.EmbeddedChunk{
			Chunk: domain.Chunk{
				Content:  content,
				Metadata: domain.ChunkMetadata{SourceID: content, SourceType: domain.SourceTypeText, Title: content, TotalChunks: 1},
			},
			Embedding:          v,
			EmbeddingDimension: len(v),
			EmbeddingModel:     "test",
		}
	}

	res, err := store.Store(ctx, scopeA, []domain.EmbeddedChunk{
		chunk("a", []float32{1, 0, 0}),
		chunk("b", []float32{0, 1, 0}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.StoredCount)

	out, err := store.Search(ctx, service.SearchQuery{Scope: scopeA, Embedding: []float32{1, 0, 0}, Limit: 1, Threshold: 0.5})
	require.NoError(t, err)
	assert.Equal(t, service.StrategyApproximate, out.Strategy)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "a", out.Results[0].Content)

	out, err = store.Search(ctx, service.SearchQuery{Scope: scopeB, Embedding: []float32{1, 0, 0}, Limit: 1, Threshold: 0.5})
	require.NoError(t, err)
	assert.Empty(t, out.Results)
}

func TestVectorRepository_DeleteByKnowledgeID(t *testing.T) {
	ctx := context.Background()
	repo := setupVectorRepo(ctx, t)

	first := newVectorRecord(scopeA, "faq-1", domain.SourceTypeText, []float32{1, 0, 0})
	second := newVectorRecord(scopeA, "faq-2", domain.SourceTypeText, []float32{0, 1, 0})
	for i, rec := range []*domain.VectorRecord{first, second} {
		rec.Source.Title = "FAQ"
		rec.Metadata[domain.MetadataKnowledgeID] = []string{"k1", "k2"}[i]
	}
	_, err := repo.InsertBatch(ctx, []*domain.VectorRecord{first, second})
	require.NoError(t, err)

	deleted, err := repo.Delete(ctx, scopeA, domain.VectorFilter{KnowledgeID: "k1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	left, err := repo.ListScope(ctx, scopeA, domain.VectorFilter{SourceTitle: "FAQ"})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "faq-2", left[0].Content)
}
