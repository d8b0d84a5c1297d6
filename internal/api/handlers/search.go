package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cloo-solutions/agentkb/internal/api"
	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/service"
)

type SearchService interface {
	Search(ctx context.Context, input service.SearchInput) (*service.SearchOutput, error)
}

type SearchHandler struct {
	svc SearchService
}

func NewSearchHandler(svc SearchService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

// SearchRequest accepts either a text query or a precomputed embedding in
// Query.
type SearchRequest struct {
	ScopeRequest
	Query      json.RawMessage `json:"query"`
	Limit      int             `json:"limit"`
	Threshold  *float64        `json:"threshold"`
	SourceType string          `json:"sourceType"`
	Category   string          `json:"category"`
}

type SourceResponse struct {
	Type        string `json:"type"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	Category    string `json:"category,omitempty"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
}

type SearchResultResponse struct {
	ID         string                 `json:"id"`
	Content    string                 `json:"content"`
	Similarity float64                `json:"similarity"`
	Source     SourceResponse         `json:"source"`
	Metadata   map[string]interface{} `json:"metadata"`
	CreatedAt  string                 `json:"createdAt"`
}

type SearchResponse struct {
	Results  []SearchResultResponse `json:"results"`
	Strategy string                 `json:"strategy"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	scope, ok := requireScope(w, r, req.ScopeRequest)
	if !ok {
		return
	}
	if req.Limit < 0 {
		api.Error(w, http.StatusBadRequest, "limit must not be negative")
		return
	}

	input := service.SearchInput{
		Scope:      scope,
		Limit:      req.Limit,
		Threshold:  req.Threshold,
		SourceType: domain.SourceType(req.SourceType),
		Category:   req.Category,
	}
	if !parseQuery(req.Query, &input) {
		api.Error(w, http.StatusBadRequest, "query must be a string or an array of numbers")
		return
	}

	out, err := h.svc.Search(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := SearchResponse{Strategy: out.Strategy, Results: make([]SearchResultResponse, 0, len(out.Results))}
	for _, res := range out.Results {
		resp.Results = append(resp.Results, searchResultToResponse(res))
	}
	api.Success(w, http.StatusOK, resp)
}

func parseQuery(raw json.RawMessage, input *service.SearchInput) bool {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		input.Query = text
		return true
	}
	var embedding []float32
	if err := json.Unmarshal(raw, &embedding); err == nil && len(embedding) > 0 {
		input.Embedding = embedding
		return true
	}
	return false
}

func searchResultToResponse(res domain.SearchResult) SearchResultResponse {
	return SearchResultResponse{
		ID:         res.ID,
		Content:    res.Content,
		Similarity: res.Similarity,
		Source: SourceResponse{
			Type:        string(res.Source.Type),
			URL:         res.Source.URL,
			Title:       res.Source.Title,
			Category:    res.Source.Category,
			ChunkIndex:  res.Source.ChunkIndex,
			TotalChunks: res.Source.TotalChunks,
		},
		Metadata:  res.Metadata,
		CreatedAt: res.CreatedAt.UTC().Format(time.RFC3339),
	}
}
