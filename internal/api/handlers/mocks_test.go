package handlers

import (
	"context"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/pagination"
	"github.com/cloo-solutions/agentkb/internal/service"
	"github.com/stretchr/testify/mock"
)

type MockIngestionService struct {
	mock.Mock
}

func (m *MockIngestionService) ProcessRaw(ctx context.Context, scope domain.Scope, raws []service.RawSource) (*domain.IngestionResult, error) {
	args := m.Called(ctx, scope, raws)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestionResult), args.Error(1)
}

func (m *MockIngestionService) ProcessQAPairs(ctx context.Context, scope domain.Scope, pairs []domain.QAPair) (*domain.IngestionResult, error) {
	args := m.Called(ctx, scope, pairs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestionResult), args.Error(1)
}

func (m *MockIngestionService) ProcessURLs(ctx context.Context, scope domain.Scope, urls []string) (*domain.IngestionResult, error) {
	args := m.Called(ctx, scope, urls)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestionResult), args.Error(1)
}

type MockSearchService struct {
	mock.Mock
}

func (m *MockSearchService) Search(ctx context.Context, input service.SearchInput) (*service.SearchOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SearchOutput), args.Error(1)
}

type MockVectorAdmin struct {
	mock.Mock
}

func (m *MockVectorAdmin) GetStats(ctx context.Context, scope domain.Scope) (*domain.VectorStats, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VectorStats), args.Error(1)
}

func (m *MockVectorAdmin) DeleteVectors(ctx context.Context, scope domain.Scope, filter domain.VectorFilter) (int64, error) {
	args := m.Called(ctx, scope, filter)
	return args.Get(0).(int64), args.Error(1)
}

type MockKnowledgeService struct {
	mock.Mock
}

func (m *MockKnowledgeService) Create(ctx context.Context, input service.CreateKnowledgeInput) (*domain.KnowledgeItem, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeItem), args.Error(1)
}

func (m *MockKnowledgeService) Get(ctx context.Context, scope domain.Scope, id string) (*domain.KnowledgeItem, error) {
	args := m.Called(ctx, scope, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeItem), args.Error(1)
}

func (m *MockKnowledgeService) List(ctx context.Context, scope domain.Scope, cursor string, limit int) (*pagination.PageResult[*domain.KnowledgeItem], error) {
	args := m.Called(ctx, scope, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pagination.PageResult[*domain.KnowledgeItem]), args.Error(1)
}

func (m *MockKnowledgeService) Delete(ctx context.Context, scope domain.Scope, id string) (int64, error) {
	args := m.Called(ctx, scope, id)
	return args.Get(0).(int64), args.Error(1)
}
