package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloo-solutions/agentkb/internal/api"
	"github.com/cloo-solutions/agentkb/internal/api/middleware"
	"github.com/cloo-solutions/agentkb/internal/domain"
)

// ScopeRequest carries the owner of the vectors a request touches.
type ScopeRequest struct {
	AgentID   string `json:"agentId"`
	CompanyID string `json:"companyId"`
}

func (s ScopeRequest) Scope() domain.Scope {
	return domain.Scope{AgentID: s.AgentID, CompanyID: s.CompanyID}
}

// decodeJSON decodes the body into dst and writes a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// requireScope records the scope for logging and rejects requests that do
// not name both owner ids.
func requireScope(w http.ResponseWriter, r *http.Request, s ScopeRequest) (domain.Scope, bool) {
	scope := s.Scope()
	middleware.SetScope(r.Context(), scope.AgentID, scope.CompanyID)
	if err := scope.Validate(); err != nil {
		api.HandleError(w, err)
		return scope, false
	}
	return scope, true
}

// scopeFromQuery reads agentId and companyId from the query string.
func scopeFromQuery(r *http.Request) ScopeRequest {
	q := r.URL.Query()
	return ScopeRequest{AgentID: q.Get("agentId"), CompanyID: q.Get("companyId")}
}
