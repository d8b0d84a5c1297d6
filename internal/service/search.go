package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
)

// SearchDefaults are applied when a request leaves limit or threshold unset.
type SearchDefaults struct {
	Limit     int
	Threshold float64
}

// SearchInput is a semantic search request. Either Query or Embedding must
// be set; a text query is embedded before searching. A nil Threshold uses the
// default.
type SearchInput struct {
	Scope      domain.Scope
	Query      string
	Embedding  []float32
	Limit      int
	Threshold  *float64
	SourceType domain.SourceType
	Category   string
}

// SearchOutput is the ranked result list and the strategy that produced it.
type SearchOutput struct {
	Results  []domain.SearchResult
	Strategy string
}

// SearchService answers similarity queries for a scope.
type SearchService struct {
	embedder *Embedder
	store    *VectorStore
	logs     SearchLogRepository
	defaults SearchDefaults
	logger   *slog.Logger
}

// NewSearchService creates a new SearchService instance. logs may be nil.
func NewSearchService(embedder *Embedder, store *VectorStore, logs SearchLogRepository, defaults SearchDefaults) *SearchService {
	if defaults.Limit <= 0 {
		defaults.Limit = 5
	}
	return &SearchService{
		embedder: embedder,
		store:    store,
		logs:     logs,
		defaults: defaults,
		logger:   slog.Default().With("component", "search"),
	}
}

// Search embeds the query when needed and runs it against the vector store.
// A failed query embedding fails the search.
func (s *SearchService) Search(ctx context.Context, input SearchInput) (*SearchOutput, error) {
	if err := input.Scope.Validate(); err != nil {
		return nil, err
	}
	if input.SourceType != "" && !input.SourceType.IsValid() {
		return nil, domain.ErrInvalidSourceType
	}

	ctx, span := telemetry.StartSpan(ctx, "SearchService.Search", telemetry.SpanAttributes{
		AgentID:   input.Scope.AgentID,
		CompanyID: input.Scope.CompanyID,
		Operation: "search",
	})
	defer span.End()

	start := time.Now()
	query := strings.TrimSpace(input.Query)

	embedding := input.Embedding
	if len(embedding) == 0 {
		if query == "" {
			return nil, domain.ErrEmptyQuery
		}
		var err error
		embedding, err = s.embedder.EmbedOne(ctx, query)
		if err != nil {
			span.SetError(err)
			return nil, err
		}
	}

	limit := input.Limit
	if limit <= 0 {
		limit = s.defaults.Limit
	}
	threshold := s.defaults.Threshold
	if input.Threshold != nil {
		threshold = *input.Threshold
	}

	outcome, err := s.store.Search(ctx, SearchQuery{
		Scope:      input.Scope,
		Embedding:  embedding,
		Limit:      limit,
		Threshold:  threshold,
		SourceType: input.SourceType,
		Category:   input.Category,
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	duration := time.Since(start)
	s.logger.Debug("search completed",
		"agent_id", input.Scope.AgentID,
		"strategy", outcome.Strategy,
		"results", len(outcome.Results),
		"duration_ms", duration.Milliseconds())

	s.recordSearch(ctx, input, query, limit, threshold, outcome, duration)

	return &SearchOutput{Results: outcome.Results, Strategy: outcome.Strategy}, nil
}

// recordSearch writes the search log. Failures are logged and never affect
// the search response.
func (s *SearchService) recordSearch(ctx context.Context, input SearchInput, query string, limit int, threshold float64, outcome *SearchOutcome, duration time.Duration) {
	if s.logs == nil {
		return
	}

	results := make([]SearchLogResult, len(outcome.Results))
	for i, r := range outcome.Results {
		results[i] = SearchLogResult{ID: r.ID, SourceType: string(r.Source.Type), Score: r.Similarity}
	}

	_, err := s.logs.CreateSearchLog(ctx, SearchLogEntry{
		AgentID:    input.Scope.AgentID,
		CompanyID:  input.Scope.CompanyID,
		Query:      query,
		SourceType: string(input.SourceType),
		Category:   input.Category,
		Limit:      limit,
		Threshold:  threshold,
		Strategy:   outcome.Strategy,
		DurationMs: int(duration.Milliseconds()),
		Results:    results,
	})
	if err != nil {
		s.logger.Warn("failed to record search log", "agent_id", input.Scope.AgentID, "err", err)
	}
}
