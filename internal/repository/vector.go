package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const (
	// maxIndexedDimensions is the largest vector pgvector's HNSW index accepts.
	maxIndexedDimensions = 2000

	minEfSearch = 40
	maxEfSearch = 1000
)

const vectorColumns = `id, agent_id, company_id, content, embedding::text, embedding_dimension, embedding_model,
	metadata, source_type, source_url, source_title, category, chunk_index, total_chunks, created_at`

// VectorRepository stores embeddings in the knowledge_vectors table. The
// embedding column is an untyped vector so one table holds every dimension;
// ANN indexes are partial per dimension.
type VectorRepository struct {
	db     dbtx
	logger *slog.Logger
}

func NewVectorRepository(pool *pgxpool.Pool) *VectorRepository {
	return &VectorRepository{
		db:     pool,
		logger: slog.Default().With("component", "vector-repository"),
	}
}

var _ service.VectorRepository = (*VectorRepository)(nil)

// InsertBatch writes all records in one transaction.
func (r *VectorRepository) InsertBatch(ctx context.Context, records []*domain.VectorRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(
			`INSERT INTO knowledge_vectors
				(id, agent_id, company_id, content, embedding, embedding_dimension, embedding_model,
				 metadata, source_type, source_url, source_title, category, chunk_index, total_chunks, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			rec.ID, rec.AgentID, rec.CompanyID, rec.Content,
			pgvector.NewVector(rec.Embedding), rec.EmbeddingDimension, rec.EmbeddingModel,
			rec.Metadata, rec.Source.Type, rec.Source.URL, rec.Source.Title, rec.Source.Category,
			rec.Source.ChunkIndex, rec.Source.TotalChunks, rec.CreatedAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("insert vector %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(records), nil
}

// SearchApproximate takes the Candidates nearest neighbours of the query
// through the HNSW index for its dimension and then narrows them to the
// scope and filter. Results are ordered by descending similarity.
func (r *VectorRepository) SearchApproximate(ctx context.Context, q service.ApproximateQuery) ([]domain.SearchResult, error) {
	dim := len(q.Embedding)
	if dim == 0 {
		return nil, domain.ErrDimensionMismatch
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	efSearch := min(max(q.Candidates, minEfSearch), maxEfSearch)
	if _, err := tx.Exec(ctx, `SELECT set_config('hnsw.ef_search', $1, true)`, strconv.Itoa(efSearch)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	args := []any{pgvector.NewVector(q.Embedding), q.Candidates}
	where, args := scopeFilter("v.", q.Scope, q.Filter(), args)

	sql := fmt.Sprintf(
		`WITH candidates AS (
			 SELECT id, embedding::vector(%[1]d) <=> $1::vector(%[1]d) AS distance
			 FROM knowledge_vectors
			 WHERE embedding_dimension = %[1]d
			 ORDER BY embedding::vector(%[1]d) <=> $1::vector(%[1]d)
			 LIMIT $2
		 )
		 SELECT %[2]s, 1 - c.distance AS similarity
		 FROM candidates c
		 JOIN knowledge_vectors v ON v.id = c.id
		 WHERE %[3]s
		 ORDER BY c.distance ASC`,
		dim, prefixColumns("v."), where,
	)

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var res domain.SearchResult
		if err := scanVector(rows, &res.VectorRecord, &res.Similarity); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, tx.Commit(ctx)
}

// ListScope returns every record of the scope matching filter.
func (r *VectorRepository) ListScope(ctx context.Context, scope domain.Scope, filter domain.VectorFilter) ([]domain.VectorRecord, error) {
	where, args := scopeFilter("", scope, filter, nil)
	rows, err := r.db.Query(ctx,
		`SELECT `+vectorColumns+` FROM knowledge_vectors WHERE `+where+` ORDER BY created_at, chunk_index`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.VectorRecord
	for rows.Next() {
		var rec domain.VectorRecord
		if err := scanVector(rows, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *VectorRepository) Delete(ctx context.Context, scope domain.Scope, filter domain.VectorFilter) (int64, error) {
	where, args := scopeFilter("", scope, filter, nil)
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM knowledge_vectors WHERE `+where, args...)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

func (r *VectorRepository) Stats(ctx context.Context, scope domain.Scope) (*domain.VectorStats, error) {
	var (
		stats       domain.VectorStats
		sourceTypes []string
	)
	err := r.db.QueryRow(ctx,
		`SELECT count(*),
		        coalesce(sum(char_length(content)), 0),
		        coalesce(avg(char_length(content)), 0)::float8,
		        coalesce(array_agg(DISTINCT source_type) FILTER (WHERE source_type <> ''), '{}'),
		        coalesce(array_agg(DISTINCT category) FILTER (WHERE category <> ''), '{}'),
		        coalesce(mode() WITHIN GROUP (ORDER BY embedding_dimension), 0)
		 FROM knowledge_vectors
		 WHERE agent_id = $1 AND company_id = $2`,
		scope.AgentID, scope.CompanyID,
	).Scan(&stats.TotalVectors, &stats.TotalContentLength, &stats.AvgContentLength,
		&sourceTypes, &stats.Categories, &stats.EmbeddingDimension)
	if err != nil {
		return nil, err
	}

	stats.SourceTypes = make([]domain.SourceType, len(sourceTypes))
	for i, st := range sourceTypes {
		stats.SourceTypes[i] = domain.SourceType(st)
	}
	return &stats, nil
}

// EnsureANNIndex creates the partial HNSW index for dimension. Dimensions
// above what HNSW supports are searched by the exact strategy only.
func (r *VectorRepository) EnsureANNIndex(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return nil
	}
	if dimension > maxIndexedDimensions {
		r.logger.Warn("dimension too large for an hnsw index, approximate search disabled",
			"dimension", dimension, "max", maxIndexedDimensions)
		return nil
	}

	_, err := r.db.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS knowledge_vectors_hnsw_%[1]d
		 ON knowledge_vectors USING hnsw ((embedding::vector(%[1]d)) vector_cosine_ops)
		 WHERE embedding_dimension = %[1]d`,
		dimension,
	))
	if err != nil {
		return fmt.Errorf("create hnsw index for dimension %d: %w", dimension, err)
	}
	r.logger.Info("ann index ready", "dimension", dimension)
	return nil
}

// scopeFilter builds the WHERE clause for scope and filter, numbering its
// placeholders after args.
func scopeFilter(prefix string, scope domain.Scope, filter domain.VectorFilter, args []any) (string, []any) {
	conds := make([]string, 0, 7)
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s%s = $%d", prefix, column, len(args)))
	}

	add("agent_id", scope.AgentID)
	add("company_id", scope.CompanyID)
	if filter.SourceType != "" {
		add("source_type", string(filter.SourceType))
	}
	if filter.Category != "" {
		add("category", filter.Category)
	}
	if filter.SourceURL != "" {
		add("source_url", filter.SourceURL)
	}
	if filter.SourceTitle != "" {
		add("source_title", filter.SourceTitle)
	}
	if filter.KnowledgeID != "" {
		add("metadata->>'"+domain.MetadataKnowledgeID+"'", filter.KnowledgeID)
	}
	return strings.Join(conds, " AND "), args
}

func prefixColumns(prefix string) string {
	cols := strings.Split(vectorColumns, ",")
	for i, c := range cols {
		cols[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func scanVector(row pgx.Row, rec *domain.VectorRecord, extra ...any) error {
	var (
		embedding  string
		sourceType string
		vec        pgvector.Vector
	)
	dest := []any{
		&rec.ID, &rec.AgentID, &rec.CompanyID, &rec.Content, &embedding, &rec.EmbeddingDimension,
		&rec.EmbeddingModel, &rec.Metadata, &sourceType, &rec.Source.URL, &rec.Source.Title,
		&rec.Source.Category, &rec.Source.ChunkIndex, &rec.Source.TotalChunks, &rec.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	if err := vec.Scan(embedding); err != nil {
		return fmt.Errorf("parse embedding of %s: %w", rec.ID, err)
	}
	rec.Embedding = vec.Slice()
	rec.Source.Type = domain.SourceType(sourceType)
	return nil
}
