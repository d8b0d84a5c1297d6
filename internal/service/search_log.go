package service

import "context"

// SearchLogResult captures a single result entry for logging.
type SearchLogResult struct {
	ID         string  `json:"id"`
	SourceType string  `json:"source_type"`
	Score      float64 `json:"score"`
}

// SearchLogEntry captures a search request, its results and the strategy
// that answered it.
type SearchLogEntry struct {
	AgentID    string
	CompanyID  string
	Query      string
	SourceType string
	Category   string
	Limit      int
	Threshold  float64
	Strategy   string
	DurationMs int
	Results    []SearchLogResult
}

// SearchLogRepository persists search logs.
type SearchLogRepository interface {
	CreateSearchLog(ctx context.Context, entry SearchLogEntry) (string, error)
}
