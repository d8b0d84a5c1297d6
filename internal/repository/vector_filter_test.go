package repository

import (
	"testing"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestScopeFilter(t *testing.T) {
	scope := domain.Scope{AgentID: "agent-a", CompanyID: "company-1"}

	t.Run("scope only", func(t *testing.T) {
		where, args := scopeFilter("", scope, domain.VectorFilter{}, nil)

		assert.Equal(t, "agent_id = $1 AND company_id = $2", where)
		assert.Equal(t, []any{"agent-a", "company-1"}, args)
	})

	t.Run("knowledge id uses metadata and numbers after existing args", func(t *testing.T) {
		where, args := scopeFilter("v.", scope, domain.VectorFilter{KnowledgeID: "k1"}, []any{"[1,0]"})

		assert.Equal(t, "v.agent_id = $2 AND v.company_id = $3 AND v.metadata->>'knowledgeId' = $4", where)
		assert.Equal(t, []any{"[1,0]", "agent-a", "company-1", "k1"}, args)
	})

	t.Run("source filters", func(t *testing.T) {
		where, args := scopeFilter("", scope, domain.VectorFilter{SourceType: domain.SourceTypeURL, SourceURL: "https://acme.com"}, nil)

		assert.Equal(t, "agent_id = $1 AND company_id = $2 AND source_type = $3 AND source_url = $4", where)
		assert.Equal(t, []any{"agent-a", "company-1", "url", "https://acme.com"}, args)
	})
}
