package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cloo-solutions/agentkb/internal/api"
	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/pagination"
	"github.com/cloo-solutions/agentkb/internal/service"
	"github.com/go-chi/chi/v5"
)

type KnowledgeService interface {
	Create(ctx context.Context, input service.CreateKnowledgeInput) (*domain.KnowledgeItem, error)
	Get(ctx context.Context, scope domain.Scope, id string) (*domain.KnowledgeItem, error)
	List(ctx context.Context, scope domain.Scope, cursor string, limit int) (*pagination.PageResult[*domain.KnowledgeItem], error)
	Delete(ctx context.Context, scope domain.Scope, id string) (int64, error)
}

type KnowledgeHandler struct {
	svc KnowledgeService
}

func NewKnowledgeHandler(svc KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{svc: svc}
}

// CreateKnowledgeRequest describes one knowledge item. Data is the base64
// encoded file for type "file".
type CreateKnowledgeRequest struct {
	ScopeRequest
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Category    string          `json:"category"`
	Content     string          `json:"content"`
	URL         string          `json:"url"`
	FileName    string          `json:"fileName"`
	ContentType string          `json:"contentType"`
	Data        []byte          `json:"data"`
	QAPairs     []QAPairRequest `json:"qaPairs"`
}

type KnowledgeResponse struct {
	ID          string `json:"id"`
	AgentID     string `json:"agentId"`
	CompanyID   string `json:"companyId"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Title       string `json:"title"`
	Category    string `json:"category,omitempty"`
	URL         string `json:"url,omitempty"`
	VectorCount int    `json:"vectorCount"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func knowledgeToResponse(k *domain.KnowledgeItem) *KnowledgeResponse {
	return &KnowledgeResponse{
		ID:          k.ID,
		AgentID:     k.AgentID,
		CompanyID:   k.CompanyID,
		Type:        string(k.Type),
		Status:      string(k.Status),
		Title:       k.Title,
		Category:    k.Category,
		URL:         k.URL,
		VectorCount: k.VectorCount,
		Error:       k.Error,
		CreatedAt:   k.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   k.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *KnowledgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateKnowledgeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	scope, ok := requireScope(w, r, req.ScopeRequest)
	if !ok {
		return
	}
	if req.Type == "" {
		api.Error(w, http.StatusBadRequest, "type is required")
		return
	}

	item, err := h.svc.Create(r.Context(), service.CreateKnowledgeInput{
		Scope:       scope,
		Type:        domain.SourceType(req.Type),
		Title:       req.Title,
		Category:    req.Category,
		Content:     req.Content,
		URL:         req.URL,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Data:        req.Data,
		QAPairs:     qaPairsFromRequest(req.QAPairs),
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, knowledgeToResponse(item))
}

func (h *KnowledgeHandler) Get(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, scopeFromQuery(r))
	if !ok {
		return
	}

	item, err := h.svc.Get(r.Context(), scope, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, knowledgeToResponse(item))
}

func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, scopeFromQuery(r))
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	page, err := h.svc.List(r.Context(), scope, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := pagination.PageResult[*KnowledgeResponse]{
		Items:   make([]*KnowledgeResponse, 0, len(page.Items)),
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	}
	for _, item := range page.Items {
		resp.Items = append(resp.Items, knowledgeToResponse(item))
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *KnowledgeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, scopeFromQuery(r))
	if !ok {
		return
	}

	deleted, err := h.svc.Delete(r.Context(), scope, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, DeleteVectorsResponse{DeletedCount: deleted})
}
