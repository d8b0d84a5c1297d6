package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const knowledgeColumns = `id, agent_id, company_id, type, status, title, category, content, url,
	document_key, content_type, qa_pairs, vector_count, error, created_at, updated_at`

type KnowledgeRepository struct {
	db dbtx
}

func NewKnowledgeRepository(pool *pgxpool.Pool) *KnowledgeRepository {
	return &KnowledgeRepository{db: pool}
}

func NewKnowledgeRepositoryWithTx(tx pgx.Tx) *KnowledgeRepository {
	return &KnowledgeRepository{db: tx}
}

// qaPairRow is the JSON shape of a pair inside knowledge_items.qa_pairs.
type qaPairRow struct {
	ID       string `json:"id,omitempty"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Title    string `json:"title,omitempty"`
}

func toQARows(pairs []domain.QAPair) []qaPairRow {
	if len(pairs) == 0 {
		return nil
	}
	rows := make([]qaPairRow, len(pairs))
	for i, p := range pairs {
		rows[i] = qaPairRow{ID: p.ID, Question: p.Question, Answer: p.Answer, Title: p.Title}
	}
	return rows
}

func fromQARows(rows []qaPairRow) []domain.QAPair {
	if len(rows) == 0 {
		return nil
	}
	pairs := make([]domain.QAPair, len(rows))
	for i, r := range rows {
		pairs[i] = domain.QAPair{ID: r.ID, Question: r.Question, Answer: r.Answer, Title: r.Title}
	}
	return pairs
}

func (r *KnowledgeRepository) Create(ctx context.Context, k *domain.KnowledgeItem) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO knowledge_items (id, agent_id, company_id, type, status, title, category, content, url,
		                              document_key, content_type, qa_pairs, vector_count, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		k.ID, k.AgentID, k.CompanyID, k.Type, k.Status, k.Title, k.Category, k.Content, nullableString(k.URL),
		nullableString(k.DocumentKey), nullableString(k.ContentType), toQARows(k.QAPairs), k.VectorCount,
		nullableString(k.Error), k.CreatedAt, k.UpdatedAt,
	)
	return err
}

func (r *KnowledgeRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeItem, error) {
	row := r.db.QueryRow(ctx, `SELECT `+knowledgeColumns+` FROM knowledge_items WHERE id = $1`, id)
	k, err := scanKnowledgeItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrKnowledgeNotFound
		}
		return nil, err
	}
	return k, nil
}

// ListByScope returns one page of the scope's items, newest first. A nil
// cursor starts at the newest item.
func (r *KnowledgeRepository) ListByScope(ctx context.Context, scope domain.Scope, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.KnowledgeItem], error) {
	if limit <= 0 {
		limit = 20
	}

	var (
		rows pgx.Rows
		err  error
	)
	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+knowledgeColumns+`
			 FROM knowledge_items
			 WHERE agent_id = $1 AND company_id = $2 AND (created_at, id) < ($3, $4)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $5`,
			scope.AgentID, scope.CompanyID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+knowledgeColumns+`
			 FROM knowledge_items
			 WHERE agent_id = $1 AND company_id = $2
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`,
			scope.AgentID, scope.CompanyID, limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*domain.KnowledgeItem, 0, limit)
	for rows.Next() {
		k, err := scanKnowledgeItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	page := &pagination.PageResult[*domain.KnowledgeItem]{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		last := page.Items[limit-1]
		page.Cursor = pagination.EncodeCursor(last.ID, last.CreatedAt)
	}
	return page, nil
}

func (r *KnowledgeRepository) UpdateStatus(ctx context.Context, id string, status domain.KnowledgeStatus, vectorCount int, errMsg string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_items SET status = $1, vector_count = $2, error = $3, updated_at = $4 WHERE id = $5`,
		status, vectorCount, nullableString(errMsg), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrKnowledgeNotFound
	}
	return nil
}

func (r *KnowledgeRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM knowledge_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrKnowledgeNotFound
	}
	return nil
}

func scanKnowledgeItem(row pgx.Row) (*domain.KnowledgeItem, error) {
	var (
		k                                      domain.KnowledgeItem
		itemType, status                       string
		url, documentKey, contentType, errText pgtype.Text
		pairs                                  []qaPairRow
	)
	err := row.Scan(&k.ID, &k.AgentID, &k.CompanyID, &itemType, &status, &k.Title, &k.Category, &k.Content,
		&url, &documentKey, &contentType, &pairs, &k.VectorCount, &errText, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, err
	}
	k.Type = domain.SourceType(itemType)
	k.Status = domain.KnowledgeStatus(status)
	k.URL = url.String
	k.DocumentKey = documentKey.String
	k.ContentType = contentType.String
	k.Error = errText.String
	k.QAPairs = fromQARows(pairs)
	return &k, nil
}
