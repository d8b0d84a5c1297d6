package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/agentkb/internal/api"
	"github.com/cloo-solutions/agentkb/internal/domain"
)

// VectorAdmin exposes the scope-level maintenance operations of the vector
// store.
type VectorAdmin interface {
	GetStats(ctx context.Context, scope domain.Scope) (*domain.VectorStats, error)
	DeleteVectors(ctx context.Context, scope domain.Scope, filter domain.VectorFilter) (int64, error)
}

type VectorHandler struct {
	store VectorAdmin
}

func NewVectorHandler(store VectorAdmin) *VectorHandler {
	return &VectorHandler{store: store}
}

type StatsResponse struct {
	TotalVectors       int      `json:"totalVectors"`
	TotalContentLength int64    `json:"totalContentLength"`
	AvgContentLength   float64  `json:"avgContentLength"`
	SourceTypes        []string `json:"sourceTypes"`
	Categories         []string `json:"categories"`
	EmbeddingDimension int      `json:"embeddingDimension"`
}

type DeleteVectorsRequest struct {
	ScopeRequest
	SourceType  string `json:"sourceType"`
	Category    string `json:"category"`
	SourceURL   string `json:"sourceUrl"`
	SourceTitle string `json:"sourceTitle"`
}

type DeleteVectorsResponse struct {
	DeletedCount int64 `json:"deletedCount"`
}

func (h *VectorHandler) Stats(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, scopeFromQuery(r))
	if !ok {
		return
	}

	stats, err := h.store.GetStats(r.Context(), scope)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := StatsResponse{
		TotalVectors:       stats.TotalVectors,
		TotalContentLength: stats.TotalContentLength,
		AvgContentLength:   stats.AvgContentLength,
		SourceTypes:        make([]string, 0, len(stats.SourceTypes)),
		Categories:         stats.Categories,
		EmbeddingDimension: stats.EmbeddingDimension,
	}
	for _, t := range stats.SourceTypes {
		resp.SourceTypes = append(resp.SourceTypes, string(t))
	}
	if resp.Categories == nil {
		resp.Categories = []string{}
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *VectorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req DeleteVectorsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	scope, ok := requireScope(w, r, req.ScopeRequest)
	if !ok {
		return
	}

	filter := domain.VectorFilter{
		SourceType:  domain.SourceType(req.SourceType),
		Category:    req.Category,
		SourceURL:   req.SourceURL,
		SourceTitle: req.SourceTitle,
	}
	if filter.SourceType != "" && !filter.SourceType.IsValid() {
		api.HandleError(w, domain.ErrInvalidSourceType)
		return
	}

	deleted, err := h.store.DeleteVectors(r.Context(), scope, filter)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, DeleteVectorsResponse{DeletedCount: deleted})
}
