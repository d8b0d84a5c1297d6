package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
)

// URLCrawler fetches pages as content items. Failures are reported per URL.
type URLCrawler interface {
	CrawlAll(ctx context.Context, urls []string) ([]*domain.ContentItem, []domain.ItemError)
}

// CrawlerFactory returns a crawler with an empty visited set.
type CrawlerFactory func() URLCrawler

// IngestionService runs content through chunking, embedding and storage.
type IngestionService struct {
	normalizer *Normalizer
	chunker    *Chunker
	embedder   *Embedder
	store      *VectorStore
	crawlers   CrawlerFactory
	logger     *slog.Logger
}

// NewIngestionService creates a new IngestionService instance. crawlers may
// be nil when URL ingestion is not needed.
func NewIngestionService(chunker *Chunker, embedder *Embedder, store *VectorStore, crawlers CrawlerFactory) *IngestionService {
	return &IngestionService{
		normalizer: NewNormalizer(),
		chunker:    chunker,
		embedder:   embedder,
		store:      store,
		crawlers:   crawlers,
		logger:     slog.Default().With("component", "ingestion"),
	}
}

// ProcessRaw normalizes raw sources and ingests the ones that survive.
// Normalization failures are reported alongside chunking failures.
func (s *IngestionService) ProcessRaw(ctx context.Context, scope domain.Scope, raws []RawSource) (*domain.IngestionResult, error) {
	items, errs := s.normalizer.NormalizeAll(raws)
	result, err := s.ProcessContent(ctx, scope, items)
	result.TotalItems = len(raws)
	result.Errors = append(errs, result.Errors...)
	return result, err
}

// ProcessURLs crawls urls with a fresh crawler and ingests every page that
// could be fetched. Crawl failures never stop the run.
func (s *IngestionService) ProcessURLs(ctx context.Context, scope domain.Scope, urls []string) (*domain.IngestionResult, error) {
	return s.ProcessURLsWithMetadata(ctx, scope, urls, nil)
}

// ProcessURLsWithMetadata is ProcessURLs with metadata added to every
// crawled page's vectors.
func (s *IngestionService) ProcessURLsWithMetadata(ctx context.Context, scope domain.Scope, urls []string, metadata map[string]any) (*domain.IngestionResult, error) {
	if s.crawlers == nil {
		return &domain.IngestionResult{TotalItems: len(urls)}, domain.NewDomainError(domain.ErrCodeInternalError, "url ingestion is not configured")
	}
	if err := scope.Validate(); err != nil {
		return &domain.IngestionResult{TotalItems: len(urls)}, err
	}

	pages, crawlErrs := s.crawlers().CrawlAll(ctx, urls)
	s.logger.Info("crawled urls", "agent_id", scope.AgentID, "urls", len(urls), "pages", len(pages), "failed", len(crawlErrs))

	raws := RawSourcesFromItems(pages)
	for i := range raws {
		raws[i].Metadata = mergeMetadata(raws[i].Metadata, metadata)
	}

	result, err := s.ProcessRaw(ctx, scope, raws)
	result.TotalItems = len(urls)
	result.Errors = append(crawlErrs, result.Errors...)
	return result, err
}

// RawSourcesFromItems wraps already extracted items so they go through
// normalization again.
func RawSourcesFromItems(items []*domain.ContentItem) []RawSource {
	raws := make([]RawSource, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		raws = append(raws, RawSource{
			SourceID: item.SourceID,
			Type:     item.SourceType,
			Title:    item.Title,
			URL:      item.URL,
			Category: item.Category,
			Text:     item.Text,
			Metadata: item.Metadata,
		})
	}
	return raws
}

// ProcessContent chunks all items, embeds all chunks and stores them for
// scope. Items that cannot be chunked are reported in the result's errors.
// Embedding and storage failures stop the run and are returned together with
// the partially filled result.
func (s *IngestionService) ProcessContent(ctx context.Context, scope domain.Scope, items []*domain.ContentItem) (*domain.IngestionResult, error) {
	start := time.Now()
	result := &domain.IngestionResult{TotalItems: len(items)}
	if err := scope.Validate(); err != nil {
		return result, err
	}

	ctx, span := telemetry.StartSpan(ctx, "IngestionService.ProcessContent", telemetry.SpanAttributes{
		AgentID:   scope.AgentID,
		CompanyID: scope.CompanyID,
		Operation: "ingest",
	})
	defer span.End()

	chunks, itemErrs := s.chunker.ChunkBatch(items)
	result.Errors = append(result.Errors, itemErrs...)
	result.TotalChunks = len(chunks)

	err := s.embedAndStore(ctx, scope, chunks, result)
	result.ProcessingTime = time.Since(start)
	span.RecordIngestion(result)
	if err != nil {
		span.SetError(err)
		return result, err
	}

	s.logger.Info("ingested content",
		"agent_id", scope.AgentID,
		"items", result.TotalItems,
		"chunks", result.TotalChunks,
		"vectors", result.TotalVectors,
		"errors", len(result.Errors),
		"duration_ms", result.ProcessingTime.Milliseconds())
	return result, nil
}

// ProcessQAPairs stores each pair as a single chunk without going through
// the chunker.
func (s *IngestionService) ProcessQAPairs(ctx context.Context, scope domain.Scope, pairs []domain.QAPair) (*domain.IngestionResult, error) {
	start := time.Now()
	result := &domain.IngestionResult{TotalItems: len(pairs)}
	if err := scope.Validate(); err != nil {
		return result, err
	}

	ctx, span := telemetry.StartSpan(ctx, "IngestionService.ProcessQAPairs", telemetry.SpanAttributes{
		AgentID:   scope.AgentID,
		CompanyID: scope.CompanyID,
		Operation: "ingest_qa",
	})
	defer span.End()

	chunks := make([]domain.Chunk, 0, len(pairs))
	for i := range pairs {
		pair := pairs[i]
		label := pair.ID
		if label == "" {
			label = fmt.Sprintf("qa-%d", i)
		}
		if err := domain.ValidateQAPair(&pair); err != nil {
			result.AddError(label, domain.NewSkippableItemError("invalid qa pair", err))
			continue
		}
		if pair.ID == "" {
			pair.ID = domain.QAPairID(pair.Question, pair.Answer)
		}
		chunks = append(chunks, qaChunk(pair))
	}
	result.TotalChunks = len(chunks)

	err := s.embedAndStore(ctx, scope, chunks, result)
	result.ProcessingTime = time.Since(start)
	span.RecordIngestion(result)
	if err != nil {
		span.SetError(err)
		return result, err
	}

	s.logger.Info("ingested qa pairs",
		"agent_id", scope.AgentID,
		"pairs", result.TotalItems,
		"vectors", result.TotalVectors,
		"errors", len(result.Errors),
		"duration_ms", result.ProcessingTime.Milliseconds())
	return result, nil
}

func (s *IngestionService) embedAndStore(ctx context.Context, scope domain.Scope, chunks []domain.Chunk, result *domain.IngestionResult) error {
	if len(chunks) == 0 {
		s.logger.Warn("nothing to ingest", "agent_id", scope.AgentID, "items", result.TotalItems)
		return nil
	}

	embedded, err := s.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return err
	}

	stored, err := s.store.Store(ctx, scope, embedded)
	if err != nil {
		return err
	}

	result.TotalVectors = stored.StoredCount
	result.Success = stored.StoredCount > 0
	return nil
}

func qaChunk(pair domain.QAPair) domain.Chunk {
	title := pair.Title
	if title == "" {
		title = pair.Question
	}
	content := domain.FormatQAContent(pair.Question, pair.Answer)
	return domain.Chunk{
		Content: content,
		Metadata: domain.ChunkMetadata{
			SourceID:       pair.ID,
			SourceType:     domain.SourceTypeQA,
			ChunkIndex:     0,
			TotalChunks:    1,
			Category:       "qa",
			Title:          title,
			OriginalLength: len([]rune(content)),
			Extra: mergeMetadata(pair.Metadata, map[string]any{
				"question": pair.Question,
				"answer":   pair.Answer,
			}),
		},
	}
}

// mergeMetadata returns a copy of base with extra applied over it.
func mergeMetadata(base, extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return base
	}
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
