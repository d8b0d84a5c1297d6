package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
)

const (
	StrategyApproximate = "approximate"
	StrategyExact       = "exact"

	// DefaultCandidateMultiplier is how many ANN candidates are fetched per
	// requested result before scope and threshold filtering.
	DefaultCandidateMultiplier = 10
	minApproximateCandidates   = 50
)

// VectorRepository persists vector records.
type VectorRepository interface {
	// InsertBatch stores all records atomically.
	InsertBatch(ctx context.Context, records []*domain.VectorRecord) (int, error)
	SearchApproximate(ctx context.Context, q ApproximateQuery) ([]domain.SearchResult, error)
	ListScope(ctx context.Context, scope domain.Scope, filter domain.VectorFilter) ([]domain.VectorRecord, error)
	Delete(ctx context.Context, scope domain.Scope, filter domain.VectorFilter) (int64, error)
	Stats(ctx context.Context, scope domain.Scope) (*domain.VectorStats, error)
	EnsureANNIndex(ctx context.Context, dimension int) error
}

// SearchQuery is a similarity query against one scope.
type SearchQuery struct {
	Scope      domain.Scope
	Embedding  []float32
	Limit      int
	Threshold  float64
	SourceType domain.SourceType
	Category   string
}

// Filter returns the metadata filter part of the query.
func (q SearchQuery) Filter() domain.VectorFilter {
	return domain.VectorFilter{SourceType: q.SourceType, Category: q.Category}
}

// ApproximateQuery is a SearchQuery with the ANN candidate pool size.
type ApproximateQuery struct {
	SearchQuery
	Candidates int
}

// SearchStrategy is one way of answering a SearchQuery. The VectorStore tries
// its strategies in order until one returns results.
type SearchStrategy interface {
	Name() string
	Search(ctx context.Context, q SearchQuery) ([]domain.SearchResult, error)
}

// ApproximateStrategy uses the database ANN index.
type ApproximateStrategy struct {
	repo       VectorRepository
	multiplier int
}

func NewApproximateStrategy(repo VectorRepository, candidateMultiplier int) *ApproximateStrategy {
	if candidateMultiplier <= 0 {
		candidateMultiplier = DefaultCandidateMultiplier
	}
	return &ApproximateStrategy{repo: repo, multiplier: candidateMultiplier}
}

func (s *ApproximateStrategy) Name() string { return StrategyApproximate }

// Search fetches limit*multiplier nearest neighbours, then narrows them to the
// scope, filters and threshold.
func (s *ApproximateStrategy) Search(ctx context.Context, q SearchQuery) ([]domain.SearchResult, error) {
	candidates := max(q.Limit*s.multiplier, minApproximateCandidates)
	results, err := s.repo.SearchApproximate(ctx, ApproximateQuery{SearchQuery: q, Candidates: candidates})
	if err != nil {
		return nil, err
	}

	kept := results[:0]
	for _, r := range results {
		if r.Similarity >= q.Threshold {
			kept = append(kept, r)
		}
	}
	sortBySimilarity(kept)
	if len(kept) > q.Limit {
		kept = kept[:q.Limit]
	}
	return kept, nil
}

// ExactStrategy scores every vector in scope in process.
type ExactStrategy struct {
	repo   VectorRepository
	logger *slog.Logger
}

func NewExactStrategy(repo VectorRepository) *ExactStrategy {
	return &ExactStrategy{
		repo:   repo,
		logger: slog.Default().With("component", "exact-search"),
	}
}

func (s *ExactStrategy) Name() string { return StrategyExact }

// Search ranks all scoped records by cosine similarity, keeps the top limit
// and then drops those under the threshold.
func (s *ExactStrategy) Search(ctx context.Context, q SearchQuery) ([]domain.SearchResult, error) {
	records, err := s.repo.ListScope(ctx, q.Scope, q.Filter())
	if err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(records))
	skipped := 0
	for _, rec := range records {
		if rec.EmbeddingDimension != len(q.Embedding) {
			skipped++
			continue
		}
		sim, err := CosineSimilarity(q.Embedding, rec.Embedding)
		if err != nil {
			return nil, fmt.Errorf("vector %s: %w", rec.ID, err)
		}
		results = append(results, domain.SearchResult{VectorRecord: rec, Similarity: sim})
	}
	if skipped > 0 {
		s.logger.Warn("skipped vectors with a different dimension",
			"skipped", skipped, "query_dimension", len(q.Embedding))
	}

	sortBySimilarity(results)
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}

	kept := results[:0]
	for _, r := range results {
		if r.Similarity >= q.Threshold {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

func sortBySimilarity(results []domain.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
}

// SearchOutcome carries the results and the strategy that produced them.
type SearchOutcome struct {
	Results  []domain.SearchResult
	Strategy string
}

// StoreResult reports how many vectors were written.
type StoreResult struct {
	StoredCount int
}

// VectorStore persists embedded chunks per scope and answers similarity
// queries through an ordered list of strategies.
type VectorStore struct {
	repo       VectorRepository
	strategies []SearchStrategy
	uuidGen    UUIDGenerator
	logger     *slog.Logger
}

// NewVectorStore creates a VectorStore. With no strategies given it uses
// approximate search with an exact fallback.
func NewVectorStore(repo VectorRepository, strategies ...SearchStrategy) *VectorStore {
	if len(strategies) == 0 {
		strategies = []SearchStrategy{
			NewApproximateStrategy(repo, DefaultCandidateMultiplier),
			NewExactStrategy(repo),
		}
	}
	return &VectorStore{
		repo:       repo,
		strategies: strategies,
		uuidGen:    &DefaultUUIDGenerator{},
		logger:     slog.Default().With("component", "vectorstore"),
	}
}

// Strategies returns the strategy names in the order they are tried.
func (s *VectorStore) Strategies() []string {
	names := make([]string, len(s.strategies))
	for i, st := range s.strategies {
		names[i] = st.Name()
	}
	return names
}

// Store writes all chunks for scope in one transaction.
func (s *VectorStore) Store(ctx context.Context, scope domain.Scope, chunks []domain.EmbeddedChunk) (*StoreResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &StoreResult{}, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "VectorStore.Store", telemetry.SpanAttributes{
		AgentID:   scope.AgentID,
		CompanyID: scope.CompanyID,
		Operation: "store",
	})
	defer span.End()

	now := time.Now().UTC()
	records := make([]*domain.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = domain.NewVectorRecord(s.uuidGen.NewString(), scope, c, now)
	}

	stored, err := s.repo.InsertBatch(ctx, records)
	if err != nil {
		span.SetError(err)
		return nil, domain.NewStorageError("failed to store vectors", err)
	}

	s.logger.Info("stored vectors", "agent_id", scope.AgentID, "company_id", scope.CompanyID, "count", stored)
	return &StoreResult{StoredCount: stored}, nil
}

// Search runs the strategies in order. A strategy that fails or finds nothing
// hands over to the next one; only when every strategy fails is an error
// returned.
func (s *VectorStore) Search(ctx context.Context, q SearchQuery) (*SearchOutcome, error) {
	if err := q.Scope.Validate(); err != nil {
		return nil, err
	}
	if len(q.Embedding) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "query embedding is required")
	}
	if q.Limit <= 0 {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "limit must be positive")
	}

	var (
		lastErr   error
		succeeded string
	)
	for i, strategy := range s.strategies {
		sctx, span := telemetry.StartSpan(ctx, "VectorStore.Search."+strategy.Name(), telemetry.SpanAttributes{
			AgentID:   q.Scope.AgentID,
			CompanyID: q.Scope.CompanyID,
			Operation: strategy.Name(),
		})
		results, err := strategy.Search(sctx, q)
		if err != nil {
			span.SetError(err)
		} else {
			span.RecordSearch(strategy.Name(), len(results))
		}
		span.End()

		if err != nil {
			lastErr = err
			s.logger.Warn("search strategy failed, degrading",
				"strategy", strategy.Name(), "agent_id", q.Scope.AgentID, "err", err)
			telemetry.RecordDegradation(ctx, strategy.Name(), err)
			continue
		}

		succeeded = strategy.Name()
		if len(results) == 0 && i < len(s.strategies)-1 {
			s.logger.Debug("search strategy returned no results, degrading", "strategy", strategy.Name())
			continue
		}

		return &SearchOutcome{Results: results, Strategy: strategy.Name()}, nil
	}

	if succeeded == "" && lastErr != nil {
		return nil, domain.NewStorageError("all search strategies failed", lastErr)
	}
	return &SearchOutcome{Results: []domain.SearchResult{}, Strategy: succeeded}, nil
}

// DeleteVectors removes the scope's vectors matching filter. An empty filter
// clears the scope.
func (s *VectorStore) DeleteVectors(ctx context.Context, scope domain.Scope, filter domain.VectorFilter) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	if filter.SourceType != "" && !filter.SourceType.IsValid() {
		return 0, domain.ErrInvalidSourceType
	}

	deleted, err := s.repo.Delete(ctx, scope, filter)
	if err != nil {
		return 0, domain.NewStorageError("failed to delete vectors", err)
	}

	s.logger.Info("deleted vectors",
		"agent_id", scope.AgentID, "company_id", scope.CompanyID, "count", deleted, "whole_scope", filter.IsEmpty())
	return deleted, nil
}

// GetStats summarizes the scope. A scope with no vectors yields zero values.
func (s *VectorStore) GetStats(ctx context.Context, scope domain.Scope) (*domain.VectorStats, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	stats, err := s.repo.Stats(ctx, scope)
	if err != nil {
		return nil, domain.NewStorageError("failed to load vector stats", err)
	}
	if stats == nil {
		stats = &domain.VectorStats{}
	}
	if stats.SourceTypes == nil {
		stats.SourceTypes = []domain.SourceType{}
	}
	if stats.Categories == nil {
		stats.Categories = []string{}
	}
	if stats.TotalVectors > 0 && stats.AvgContentLength == 0 {
		stats.AvgContentLength = float64(stats.TotalContentLength) / float64(stats.TotalVectors)
	}
	return stats, nil
}

// EnsureIndex prepares the ANN index for dimension.
func (s *VectorStore) EnsureIndex(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return nil
	}
	if err := s.repo.EnsureANNIndex(ctx, dimension); err != nil {
		return domain.NewStorageError("failed to ensure vector index", err)
	}
	return nil
}
