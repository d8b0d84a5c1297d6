package repository

import (
	"context"
	"encoding/json"

	"github.com/cloo-solutions/agentkb/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SearchLogRepository records every search with the strategy that served it.
type SearchLogRepository struct {
	pool *pgxpool.Pool
}

func NewSearchLogRepository(pool *pgxpool.Pool) *SearchLogRepository {
	return &SearchLogRepository{pool: pool}
}

func (r *SearchLogRepository) CreateSearchLog(ctx context.Context, entry service.SearchLogEntry) (string, error) {
	filters := map[string]any{}
	filters["query_length"] = len(entry.Query)
	if entry.SourceType != "" {
		filters["source_type"] = entry.SourceType
	}
	if entry.Category != "" {
		filters["category"] = entry.Category
	}

	filtersJSON, _ := json.Marshal(filters)
	resultsJSON, _ := json.Marshal(entry.Results)

	var id string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO search_logs (agent_id, company_id, query, filters, strategy, result_limit, threshold, results, result_count, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		entry.AgentID,
		entry.CompanyID,
		entry.Query,
		filtersJSON,
		nullableString(entry.Strategy),
		entry.Limit,
		entry.Threshold,
		resultsJSON,
		len(entry.Results),
		entry.DurationMs,
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}
