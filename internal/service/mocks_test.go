package service

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockEmbeddingProvider is a mock implementation of EmbeddingProvider
type MockEmbeddingProvider struct {
	mock.Mock
}

func (m *MockEmbeddingProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbeddingProvider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbeddingProvider) Dimension() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockEmbeddingProvider) ModelName() string {
	args := m.Called()
	return args.String(0)
}

// hashProvider returns deterministic unit vectors derived from the text and
// records every batch it was asked to embed.
type hashProvider struct {
	dim     int
	mu      sync.Mutex
	batches [][]string
}

func newHashProvider(dim int) *hashProvider {
	return &hashProvider{dim: dim}
}

func (p *hashProvider) EmbedOne(_ context.Context, text string) ([]float32, error) {
	return hashVector(text, p.dim), nil
}

func (p *hashProvider) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.batches = append(p.batches, append([]string(nil), texts...))
	p.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, p.dim)
	}
	return out, nil
}

func (p *hashProvider) Dimension() int    { return p.dim }
func (p *hashProvider) ModelName() string { return "hash-test" }

func hashVector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000)/1000.0 - 0.5
		norm += float64(vec[i]) * float64(vec[i])
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// MockVectorRepository is a mock implementation of VectorRepository
type MockVectorRepository struct {
	mock.Mock
}

func (m *MockVectorRepository) InsertBatch(ctx context.Context, records []*domain.VectorRecord) (int, error) {
	args := m.Called(ctx, records)
	return args.Int(0), args.Error(1)
}

func (m *MockVectorRepository) SearchApproximate(ctx context.Context, q ApproximateQuery) ([]domain.SearchResult, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SearchResult), args.Error(1)
}

func (m *MockVectorRepository) ListScope(ctx context.Context, scope domain.Scope, filter domain.VectorFilter) ([]domain.VectorRecord, error) {
	args := m.Called(ctx, scope, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.VectorRecord), args.Error(1)
}

func (m *MockVectorRepository) Delete(ctx context.Context, scope domain.Scope, filter domain.VectorFilter) (int64, error) {
	args := m.Called(ctx, scope, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockVectorRepository) Stats(ctx context.Context, scope domain.Scope) (*domain.VectorStats, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VectorStats), args.Error(1)
}

func (m *MockVectorRepository) EnsureANNIndex(ctx context.Context, dimension int) error {
	args := m.Called(ctx, dimension)
	return args.Error(0)
}

// memoryVectorRepo keeps records in a slice and mimics the SQL semantics of
// the Postgres repository.
type memoryVectorRepo struct {
	mu      sync.Mutex
	records []domain.VectorRecord
}

func (r *memoryVectorRepo) InsertBatch(_ context.Context, records []*domain.VectorRecord) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		r.records = append(r.records, *rec)
	}
	return len(records), nil
}

func matchesFilter(rec domain.VectorRecord, filter domain.VectorFilter) bool {
	if filter.SourceType != "" && rec.Source.Type != filter.SourceType {
		return false
	}
	if filter.Category != "" && rec.Source.Category != filter.Category {
		return false
	}
	if filter.SourceURL != "" && rec.Source.URL != filter.SourceURL {
		return false
	}
	if filter.SourceTitle != "" && rec.Source.Title != filter.SourceTitle {
		return false
	}
	if filter.KnowledgeID != "" && rec.Metadata[domain.MetadataKnowledgeID] != filter.KnowledgeID {
		return false
	}
	return true
}

func inScope(rec domain.VectorRecord, scope domain.Scope) bool {
	return rec.AgentID == scope.AgentID && rec.CompanyID == scope.CompanyID
}

func (r *memoryVectorRepo) SearchApproximate(_ context.Context, q ApproximateQuery) ([]domain.SearchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []domain.SearchResult
	for _, rec := range r.records {
		if rec.EmbeddingDimension != len(q.Embedding) {
			continue
		}
		sim, err := CosineSimilarity(q.Embedding, rec.Embedding)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, domain.SearchResult{VectorRecord: rec, Similarity: sim})
	}
	sortBySimilarity(candidates)
	if len(candidates) > q.Candidates {
		candidates = candidates[:q.Candidates]
	}

	var out []domain.SearchResult
	for _, c := range candidates {
		if inScope(c.VectorRecord, q.Scope) && matchesFilter(c.VectorRecord, q.Filter()) && c.Similarity >= q.Threshold {
			out = append(out, c)
		}
	}
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *memoryVectorRepo) ListScope(_ context.Context, scope domain.Scope, filter domain.VectorFilter) ([]domain.VectorRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.VectorRecord
	for _, rec := range r.records {
		if inScope(rec, scope) && matchesFilter(rec, filter) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memoryVectorRepo) Delete(_ context.Context, scope domain.Scope, filter domain.VectorFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.records[:0]
	var deleted int64
	for _, rec := range r.records {
		if inScope(rec, scope) && matchesFilter(rec, filter) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return deleted, nil
}

func (r *memoryVectorRepo) Stats(_ context.Context, scope domain.Scope) (*domain.VectorStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &domain.VectorStats{}
	types := map[domain.SourceType]bool{}
	cats := map[string]bool{}
	for _, rec := range r.records {
		if !inScope(rec, scope) {
			continue
		}
		stats.TotalVectors++
		stats.TotalContentLength += int64(len(rec.Content))
		stats.EmbeddingDimension = rec.EmbeddingDimension
		if !types[rec.Source.Type] {
			types[rec.Source.Type] = true
			stats.SourceTypes = append(stats.SourceTypes, rec.Source.Type)
		}
		if rec.Source.Category != "" && !cats[rec.Source.Category] {
			cats[rec.Source.Category] = true
			stats.Categories = append(stats.Categories, rec.Source.Category)
		}
	}
	return stats, nil
}

func (r *memoryVectorRepo) EnsureANNIndex(context.Context, int) error { return nil }

func (r *memoryVectorRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
