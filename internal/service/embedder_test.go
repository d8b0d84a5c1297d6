package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func makeChunks(n int) []domain.Chunk {
	chunks := make([]domain.Chunk, n)
	for i := range chunks {
		chunks[i] = domain.Chunk{
			Content:  fmt.Sprintf("chunk number %d", i),
			Metadata: domain.ChunkMetadata{SourceID: "doc", ChunkIndex: i, TotalChunks: n},
		}
	}
	return chunks
}

func TestEmbedder_EmbedDocuments_PreservesOrderAcrossBatches(t *testing.T) {
	provider := newHashProvider(8)
	embedder := NewEmbedder(provider, EmbedderConfig{BatchSize: 3, BatchDelay: time.Millisecond})
	chunks := makeChunks(10)

	embedded, err := embedder.EmbedDocuments(context.Background(), chunks)

	require.NoError(t, err)
	require.Len(t, embedded, 10)
	for i, ec := range embedded {
		assert.Equal(t, chunks[i].Content, ec.Content)
		assert.Equal(t, i, ec.Metadata.ChunkIndex)
		assert.Equal(t, hashVector(chunks[i].Content, 8), ec.Embedding)
		assert.Equal(t, 8, ec.EmbeddingDimension)
		assert.Equal(t, "hash-test", ec.EmbeddingModel)
	}

	require.Len(t, provider.batches, 4)
	assert.Len(t, provider.batches[0], 3)
	assert.Len(t, provider.batches[3], 1)
}

func TestEmbedder_EmbedDocuments_Empty(t *testing.T) {
	embedder := NewEmbedder(newHashProvider(4), DefaultEmbedderConfig())

	embedded, err := embedder.EmbedDocuments(context.Background(), nil)

	assert.NoError(t, err)
	assert.Empty(t, embedded)
}

func TestEmbedder_EmbedDocuments_ProviderErrorAborts(t *testing.T) {
	provider := new(MockEmbeddingProvider)
	provider.On("ModelName").Return("mock")
	provider.On("Dimension").Return(2)
	provider.On("EmbedMany", mock.Anything, []string{"chunk number 0", "chunk number 1"}).
		Return([][]float32{{1, 0}, {0, 1}}, nil).Once()
	provider.On("EmbedMany", mock.Anything, []string{"chunk number 2", "chunk number 3"}).
		Return(nil, errors.New("rate limited")).Once()

	embedder := NewEmbedder(provider, EmbedderConfig{BatchSize: 2})
	embedded, err := embedder.EmbedDocuments(context.Background(), makeChunks(6))

	require.Error(t, err)
	assert.Nil(t, embedded)
	assert.True(t, domain.HasCode(err, domain.ErrCodeProvider))
	assert.Contains(t, err.Error(), "rate limited")
	provider.AssertNumberOfCalls(t, "EmbedMany", 2)
}

func TestEmbedder_EmbedMany_CountMismatch(t *testing.T) {
	provider := new(MockEmbeddingProvider)
	provider.On("ModelName").Return("mock")
	provider.On("Dimension").Return(2)
	provider.On("EmbedMany", mock.Anything, []string{"a", "b"}).Return([][]float32{{1, 0}}, nil)

	embedder := NewEmbedder(provider, DefaultEmbedderConfig())
	_, err := embedder.EmbedMany(context.Background(), []string{"a", "b"})

	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrCodeProvider))
	assert.Contains(t, err.Error(), "expected 2 embeddings, got 1")
}

func TestEmbedder_EmbedMany_DimensionMismatch(t *testing.T) {
	provider := new(MockEmbeddingProvider)
	provider.On("ModelName").Return("mock")
	provider.On("Dimension").Return(0)
	provider.On("EmbedMany", mock.Anything, []string{"a", "b"}).Return([][]float32{{1, 0}, {1, 0, 0}}, nil)

	embedder := NewEmbedder(provider, DefaultEmbedderConfig())
	_, err := embedder.EmbedMany(context.Background(), []string{"a", "b"})

	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrCodeProvider))
	assert.Contains(t, err.Error(), "got 3 dimensions, expected 2")
}

func TestEmbedder_EmbedOne(t *testing.T) {
	provider := new(MockEmbeddingProvider)
	provider.On("ModelName").Return("mock")
	provider.On("Dimension").Return(3)
	provider.On("EmbedOne", mock.Anything, "reset password").Return([]float32{0.1, 0.2, 0.3}, nil)

	embedder := NewEmbedder(provider, DefaultEmbedderConfig())
	vec, err := embedder.EmbedOne(context.Background(), "reset password")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	provider.AssertExpectations(t)
}

func TestEmbedder_EmbedOne_WrongDimension(t *testing.T) {
	provider := new(MockEmbeddingProvider)
	provider.On("ModelName").Return("mock")
	provider.On("Dimension").Return(3)
	provider.On("EmbedOne", mock.Anything, "q").Return([]float32{0.1}, nil)

	embedder := NewEmbedder(provider, DefaultEmbedderConfig())
	_, err := embedder.EmbedOne(context.Background(), "q")

	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrCodeProvider))
}

func TestEmbedder_EmbedOne_EmptyText(t *testing.T) {
	embedder := NewEmbedder(newHashProvider(4), DefaultEmbedderConfig())

	_, err := embedder.EmbedOne(context.Background(), "")

	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
}

func TestEmbedder_EmbedOne_AppliesTimeout(t *testing.T) {
	provider := new(MockEmbeddingProvider)
	provider.On("ModelName").Return("mock")
	provider.On("EmbedOne", mock.Anything, "slow").
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		}).
		Return(nil, context.DeadlineExceeded)

	embedder := NewEmbedder(provider, EmbedderConfig{Timeout: 20 * time.Millisecond})
	_, err := embedder.EmbedOne(context.Background(), "slow")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEmbedder_EmbedDocuments_CancelledBetweenBatches(t *testing.T) {
	provider := newHashProvider(4)
	embedder := NewEmbedder(provider, EmbedderConfig{BatchSize: 1, BatchDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := embedder.EmbedDocuments(ctx, makeChunks(3))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, provider.batches, 1)
}
