package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/cloo-solutions/agentkb/internal/api"
	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/service"
)

type IngestionService interface {
	ProcessRaw(ctx context.Context, scope domain.Scope, raws []service.RawSource) (*domain.IngestionResult, error)
	ProcessQAPairs(ctx context.Context, scope domain.Scope, pairs []domain.QAPair) (*domain.IngestionResult, error)
	ProcessURLs(ctx context.Context, scope domain.Scope, urls []string) (*domain.IngestionResult, error)
}

type IngestHandler struct {
	svc IngestionService
}

func NewIngestHandler(svc IngestionService) *IngestHandler {
	return &IngestHandler{svc: svc}
}

type ContentItemRequest struct {
	SourceID   string                 `json:"sourceId"`
	SourceType string                 `json:"sourceType"`
	URL        string                 `json:"url"`
	Title      string                 `json:"title"`
	Category   string                 `json:"category"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata"`
}

type IngestContentRequest struct {
	ScopeRequest
	Items []ContentItemRequest `json:"items"`
}

type QAPairRequest struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Title    string `json:"title"`
}

type IngestQARequest struct {
	ScopeRequest
	Pairs []QAPairRequest `json:"pairs"`
}

type IngestURLsRequest struct {
	ScopeRequest
	URLs []string `json:"urls"`
}

type ItemErrorResponse struct {
	Item  string `json:"item"`
	Error string `json:"error"`
}

type IngestionResultResponse struct {
	Success        bool                `json:"success"`
	TotalItems     int                 `json:"totalItems"`
	TotalChunks    int                 `json:"totalChunks"`
	TotalVectors   int                 `json:"totalVectors"`
	ProcessingTime int64               `json:"processingTime"` // milliseconds
	Errors         []ItemErrorResponse `json:"errors"`
}

func ingestionResultToResponse(r *domain.IngestionResult) *IngestionResultResponse {
	resp := &IngestionResultResponse{
		Success:        r.Success,
		TotalItems:     r.TotalItems,
		TotalChunks:    r.TotalChunks,
		TotalVectors:   r.TotalVectors,
		ProcessingTime: r.ProcessingTime.Milliseconds(),
		Errors:         make([]ItemErrorResponse, 0, len(r.Errors)),
	}
	for _, e := range r.Errors {
		resp.Errors = append(resp.Errors, ItemErrorResponse{Item: e.Item, Error: e.Error})
	}
	return resp
}

// writeIngestion reports a batch error through its code and a run that
// stored nothing as 422 with the per-item errors.
func writeIngestion(w http.ResponseWriter, result *domain.IngestionResult, err error) {
	if err != nil {
		api.HandleError(w, err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	api.Success(w, status, ingestionResultToResponse(result))
}

func (h *IngestHandler) Content(w http.ResponseWriter, r *http.Request) {
	var req IngestContentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	scope, ok := requireScope(w, r, req.ScopeRequest)
	if !ok {
		return
	}
	if len(req.Items) == 0 {
		api.Error(w, http.StatusBadRequest, "items is required")
		return
	}

	raws := make([]service.RawSource, 0, len(req.Items))
	for _, item := range req.Items {
		raws = append(raws, rawSourceFromRequest(item))
	}

	result, err := h.svc.ProcessRaw(r.Context(), scope, raws)
	writeIngestion(w, result, err)
}

func rawSourceFromRequest(item ContentItemRequest) service.RawSource {
	sourceType := domain.SourceType(item.SourceType)
	if sourceType == "" {
		sourceType = domain.SourceTypeText
		if item.URL != "" {
			sourceType = domain.SourceTypeURL
		}
	}
	sourceID := item.SourceID
	if sourceID == "" {
		sourceID = item.URL
	}
	return service.RawSource{
		SourceID: sourceID,
		Type:     sourceType,
		Title:    item.Title,
		URL:      item.URL,
		Category: item.Category,
		Text:     item.Content,
		Metadata: item.Metadata,
	}
}

func (h *IngestHandler) QA(w http.ResponseWriter, r *http.Request) {
	var req IngestQARequest
	if !decodeJSON(w, r, &req) {
		return
	}
	scope, ok := requireScope(w, r, req.ScopeRequest)
	if !ok {
		return
	}
	if len(req.Pairs) == 0 {
		api.Error(w, http.StatusBadRequest, "pairs is required")
		return
	}

	result, err := h.svc.ProcessQAPairs(r.Context(), scope, qaPairsFromRequest(req.Pairs))
	writeIngestion(w, result, err)
}

func qaPairsFromRequest(pairs []QAPairRequest) []domain.QAPair {
	out := make([]domain.QAPair, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, domain.QAPair{ID: p.ID, Question: p.Question, Answer: p.Answer, Title: p.Title})
	}
	return out
}

func (h *IngestHandler) URLs(w http.ResponseWriter, r *http.Request) {
	var req IngestURLsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	scope, ok := requireScope(w, r, req.ScopeRequest)
	if !ok {
		return
	}

	urls := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		api.Error(w, http.StatusBadRequest, "urls is required")
		return
	}

	result, err := h.svc.ProcessURLs(r.Context(), scope, urls)
	writeIngestion(w, result, err)
}
