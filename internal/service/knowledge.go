package service

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/pagination"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
	"github.com/google/uuid"
)

// KnowledgeRepositoryInterface defines the repository interface for knowledge persistence
type KnowledgeRepositoryInterface interface {
	Create(ctx context.Context, k *domain.KnowledgeItem) error
	GetByID(ctx context.Context, id string) (*domain.KnowledgeItem, error)
	ListByScope(ctx context.Context, scope domain.Scope, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.KnowledgeItem], error)
	UpdateStatus(ctx context.Context, id string, status domain.KnowledgeStatus, vectorCount int, errMsg string) error
	Delete(ctx context.Context, id string) error
}

// IngestionJobRepositoryInterface defines the repository interface for ingestion job persistence
type IngestionJobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.IngestionJob) error
}

// DocumentStore keeps the original bytes of uploaded files.
type DocumentStore interface {
	PutObject(ctx context.Context, key, contentType string, data []byte) error
	GetObject(ctx context.Context, key string) ([]byte, string, error)
	DeleteObject(ctx context.Context, key string) error
}

// Ingester is the part of IngestionService the knowledge service drives.
type Ingester interface {
	ProcessRaw(ctx context.Context, scope domain.Scope, raws []RawSource) (*domain.IngestionResult, error)
	ProcessURLsWithMetadata(ctx context.Context, scope domain.Scope, urls []string, metadata map[string]any) (*domain.IngestionResult, error)
	ProcessQAPairs(ctx context.Context, scope domain.Scope, pairs []domain.QAPair) (*domain.IngestionResult, error)
}

// VectorDeleter removes vectors from a scope.
type VectorDeleter interface {
	DeleteVectors(ctx context.Context, scope domain.Scope, filter domain.VectorFilter) (int64, error)
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// KnowledgeService manages knowledge items and turns them into vectors.
type KnowledgeService struct {
	txRunner  TxRunner
	repo      KnowledgeRepositoryInterface
	ingester  Ingester
	vectors   VectorDeleter
	documents DocumentStore
	uuidGen   UUIDGenerator
	logger    *slog.Logger
}

// NewKnowledgeService creates a new KnowledgeService instance. documents may
// be nil, in which case file items are rejected.
func NewKnowledgeService(
	txRunner TxRunner,
	repo KnowledgeRepositoryInterface,
	ingester Ingester,
	vectors VectorDeleter,
	documents DocumentStore,
) *KnowledgeService {
	return NewKnowledgeServiceWithUUIDGen(txRunner, repo, ingester, vectors, documents, &DefaultUUIDGenerator{})
}

// NewKnowledgeServiceWithUUIDGen creates a new KnowledgeService with custom UUID generator (for testing)
func NewKnowledgeServiceWithUUIDGen(
	txRunner TxRunner,
	repo KnowledgeRepositoryInterface,
	ingester Ingester,
	vectors VectorDeleter,
	documents DocumentStore,
	uuidGen UUIDGenerator,
) *KnowledgeService {
	return &KnowledgeService{
		txRunner:  txRunner,
		repo:      repo,
		ingester:  ingester,
		vectors:   vectors,
		documents: documents,
		uuidGen:   uuidGen,
		logger:    slog.Default().With("component", "knowledge"),
	}
}

// CreateKnowledgeInput represents the input for creating a knowledge item.
// Only the fields matching Type are used.
type CreateKnowledgeInput struct {
	Scope       domain.Scope
	Type        domain.SourceType
	Title       string
	Category    string
	Content     string
	URL         string
	FileName    string
	ContentType string
	Data        []byte
	QAPairs     []domain.QAPair
}

// Create saves a knowledge item and queues its ingestion job in one
// transaction. File bytes are uploaded to the document store first.
func (s *KnowledgeService) Create(ctx context.Context, input CreateKnowledgeInput) (*domain.KnowledgeItem, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Create", telemetry.SpanAttributes{
		AgentID:   input.Scope.AgentID,
		CompanyID: input.Scope.CompanyID,
		Operation: "create",
	})
	defer span.End()

	if err := input.Scope.Validate(); err != nil {
		return nil, err
	}
	if !input.Type.IsValid() {
		return nil, domain.ErrInvalidKnowledgeType
	}

	now := time.Now().UTC()
	item := domain.NewKnowledgeItem(s.uuidGen.NewString(), input.Scope, input.Type, strings.TrimSpace(input.Title), now)
	item.Category = input.Category
	item.Content = input.Content
	item.URL = strings.TrimSpace(input.URL)
	item.QAPairs = input.QAPairs

	if input.Type == domain.SourceTypeFile {
		name := cleanFileName(input.FileName)
		if item.Title == "" {
			item.Title = name
		}
		item.DocumentKey = fmt.Sprintf("%s/%s/%s/%s", item.CompanyID, item.AgentID, item.ID, name)
		item.ContentType = input.ContentType
		if len(input.Data) == 0 {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "file content is required", domain.ErrMissingRequiredField)
		}
	}

	if err := domain.ValidateKnowledgeItem(item); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, err.Error(), domain.ErrMissingRequiredField)
	}

	if input.Type == domain.SourceTypeFile {
		if s.documents == nil {
			return nil, domain.NewDomainError(domain.ErrCodeValidation, "file uploads are not configured")
		}
		if err := s.documents.PutObject(ctx, item.DocumentKey, item.ContentType, input.Data); err != nil {
			span.SetError(err)
			return nil, domain.NewStorageError("failed to store document", err)
		}
	}

	job := domain.NewIngestionJob(s.uuidGen.NewString(), item.ID, now)
	err := s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Knowledge().Create(ctx, item); err != nil {
			return err
		}
		return repos.IngestionJobs().Create(ctx, job)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	s.logger.Info("knowledge item saved", "knowledge_id", item.ID, "type", item.Type, "agent_id", item.AgentID)
	return item, nil
}

// Get returns the item if it belongs to scope.
func (s *KnowledgeService) Get(ctx context.Context, scope domain.Scope, id string) (*domain.KnowledgeItem, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Get", telemetry.SpanAttributes{
		AgentID:     scope.AgentID,
		CompanyID:   scope.CompanyID,
		KnowledgeID: id,
		Operation:   "get",
	})
	defer span.End()

	if err := scope.Validate(); err != nil {
		return nil, err
	}
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Scope() != scope {
		return nil, domain.ErrKnowledgeNotFound
	}
	return item, nil
}

// List returns one page of the scope's items, newest first. cursor is the
// value returned with the previous page, or empty for the first page.
func (s *KnowledgeService) List(ctx context.Context, scope domain.Scope, cursor string, limit int) (*pagination.PageResult[*domain.KnowledgeItem], error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	decoded, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	return s.repo.ListByScope(ctx, scope, decoded, limit)
}

// Process re-ingests a knowledge item: it removes the vectors from any
// previous run, ingests the item again and records the outcome on the item.
// Called by the ingestion worker.
func (s *KnowledgeService) Process(ctx context.Context, knowledgeID string) (*domain.IngestionResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Process", telemetry.SpanAttributes{
		KnowledgeID: knowledgeID,
		Operation:   "process",
	})
	defer span.End()

	item, err := s.repo.GetByID(ctx, knowledgeID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateStatus(ctx, item.ID, domain.KnowledgeStatusProcessing, item.VectorCount, ""); err != nil {
		return nil, err
	}

	result, err := s.reingest(ctx, item)
	if err == nil && !result.Success {
		err = domain.NewDomainError(domain.ErrCodeSkippableItem, "no content survived ingestion")
		if len(result.Errors) > 0 {
			err = domain.NewDomainError(domain.ErrCodeSkippableItem, result.Errors[0].Error)
		}
	}
	if err != nil {
		span.SetError(err)
		if uerr := s.repo.UpdateStatus(ctx, item.ID, domain.KnowledgeStatusFailed, 0, err.Error()); uerr != nil {
			s.logger.Error("failed to mark knowledge item failed", "knowledge_id", item.ID, "err", uerr)
		}
		return result, err
	}

	if err := s.repo.UpdateStatus(ctx, item.ID, domain.KnowledgeStatusCompleted, result.TotalVectors, ""); err != nil {
		return result, err
	}

	s.logger.Info("knowledge item processed",
		"knowledge_id", item.ID,
		"vectors", result.TotalVectors,
		"errors", len(result.Errors),
		"duration_ms", result.ProcessingTime.Milliseconds())
	return result, nil
}

func (s *KnowledgeService) reingest(ctx context.Context, item *domain.KnowledgeItem) (*domain.IngestionResult, error) {
	scope := item.Scope()
	if _, err := s.vectors.DeleteVectors(ctx, scope, item.VectorFilter()); err != nil {
		return nil, err
	}

	switch item.Type {
	case domain.SourceTypeText:
		return s.ingester.ProcessRaw(ctx, scope, []RawSource{{
			SourceID: item.ID,
			Type:     domain.SourceTypeText,
			Title:    item.Title,
			Category: item.Category,
			Text:     item.Content,
			Metadata: item.VectorMetadata(),
		}})

	case domain.SourceTypeURL:
		return s.ingester.ProcessURLsWithMetadata(ctx, scope, []string{item.URL}, item.VectorMetadata())

	case domain.SourceTypeFile:
		if s.documents == nil {
			return nil, domain.NewDomainError(domain.ErrCodeInternalError, "document store is not configured")
		}
		data, contentType, err := s.documents.GetObject(ctx, item.DocumentKey)
		if err != nil {
			return nil, domain.NewStorageError("failed to load document", err)
		}
		if item.ContentType != "" {
			contentType = item.ContentType
		}
		return s.ingester.ProcessRaw(ctx, scope, []RawSource{{
			SourceID:    item.ID,
			Type:        domain.SourceTypeFile,
			Title:       item.Title,
			Category:    item.Category,
			FileName:    path.Base(item.DocumentKey),
			ContentType: contentType,
			Data:        data,
			Metadata:    item.VectorMetadata(),
		}})

	case domain.SourceTypeQA:
		pairs := make([]domain.QAPair, len(item.QAPairs))
		for i, p := range item.QAPairs {
			p.Title = item.Title
			p.Metadata = item.VectorMetadata()
			if p.ID == "" {
				p.ID = fmt.Sprintf("%s-%d", item.ID, i)
			}
			pairs[i] = p
		}
		return s.ingester.ProcessQAPairs(ctx, scope, pairs)
	}

	return nil, domain.ErrInvalidKnowledgeType
}

// Delete removes the item, its vectors and any stored document.
func (s *KnowledgeService) Delete(ctx context.Context, scope domain.Scope, id string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Delete", telemetry.SpanAttributes{
		AgentID:     scope.AgentID,
		CompanyID:   scope.CompanyID,
		KnowledgeID: id,
		Operation:   "delete",
	})
	defer span.End()

	item, err := s.Get(ctx, scope, id)
	if err != nil {
		return 0, err
	}

	deleted, err := s.vectors.DeleteVectors(ctx, scope, item.VectorFilter())
	if err != nil {
		span.SetError(err)
		return 0, err
	}

	if item.Type == domain.SourceTypeFile && s.documents != nil {
		if err := s.documents.DeleteObject(ctx, item.DocumentKey); err != nil {
			s.logger.Warn("failed to delete document", "knowledge_id", item.ID, "key", item.DocumentKey, "err", err)
		}
	}

	if err := s.repo.Delete(ctx, item.ID); err != nil {
		return deleted, err
	}

	s.logger.Info("knowledge item deleted", "knowledge_id", item.ID, "vectors", deleted)
	return deleted, nil
}

func cleanFileName(fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return "document"
	}
	return name
}
