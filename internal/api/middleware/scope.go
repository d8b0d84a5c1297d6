package middleware

import (
	"context"
	"net/http"
	"sync"
)

const scopeKey contextKey = "scope"

// requestScope is filled in by handlers once they have decoded the agent and
// company of a request, so outer middleware can log and tag it afterwards.
type requestScope struct {
	mu        sync.Mutex
	agentID   string
	companyID string
}

// TrackScope gives every request a slot for its agent and company.
func TrackScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), scopeKey, &requestScope{})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetScope records the agent and company a request acts on. It is a no-op
// outside TrackScope.
func SetScope(ctx context.Context, agentID, companyID string) {
	s, ok := ctx.Value(scopeKey).(*requestScope)
	if !ok {
		return
	}
	s.mu.Lock()
	s.agentID, s.companyID = agentID, companyID
	s.mu.Unlock()
}

// GetScope returns what SetScope recorded.
func GetScope(ctx context.Context) (agentID, companyID string) {
	s, ok := ctx.Value(scopeKey).(*requestScope)
	if !ok {
		return "", ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentID, s.companyID
}
