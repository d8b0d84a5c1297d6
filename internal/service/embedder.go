package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

// EmbeddingProvider is implemented by each embedding backend.
type EmbeddingProvider interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	// EmbedMany returns one vector per input, in input order.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the declared vector size, or 0 when the provider only
	// learns it from the first response.
	Dimension() int
	ModelName() string
}

// EmbedderConfig controls batching and pacing of provider calls.
type EmbedderConfig struct {
	BatchSize  int
	BatchDelay time.Duration
	Timeout    time.Duration
}

// DefaultEmbedderConfig provides sane defaults for embedding.
func DefaultEmbedderConfig() EmbedderConfig {
	return EmbedderConfig{
		BatchSize:  100,
		BatchDelay: 100 * time.Millisecond,
		Timeout:    30 * time.Second,
	}
}

// Embedder turns chunks into vectors through an EmbeddingProvider.
type Embedder struct {
	provider EmbeddingProvider
	cfg      EmbedderConfig
	logger   *slog.Logger
}

// NewEmbedder creates an Embedder over provider.
func NewEmbedder(provider EmbeddingProvider, cfg EmbedderConfig) *Embedder {
	def := DefaultEmbedderConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Embedder{
		provider: provider,
		cfg:      cfg,
		logger: slog.Default().With(
			"component", "embedder",
			"model", provider.ModelName(),
		),
	}
}

// Dimension returns the provider's declared dimension.
func (e *Embedder) Dimension() int {
	return e.provider.Dimension()
}

// ModelName returns the provider's model name.
func (e *Embedder) ModelName() string {
	return e.provider.ModelName()
}

// EmbedOne embeds a single text, typically a search query.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, domain.ErrEmptyQuery
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	vec, err := e.provider.EmbedOne(ctx, text)
	if err != nil {
		return nil, domain.NewProviderError("failed to generate embedding", err)
	}
	if err := e.checkDimension(vec, e.provider.Dimension()); err != nil {
		return nil, domain.NewProviderError("invalid embedding response", err)
	}
	return vec, nil
}

// EmbedMany embeds texts in a single provider call.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	vecs, err := e.provider.EmbedMany(ctx, texts)
	if err != nil {
		return nil, domain.NewProviderError("failed to generate embeddings", err)
	}
	if len(vecs) != len(texts) {
		return nil, domain.NewProviderError("invalid embedding response",
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vecs)))
	}

	expected := e.provider.Dimension()
	for i, vec := range vecs {
		if expected == 0 {
			expected = len(vec)
		}
		if err := e.checkDimension(vec, expected); err != nil {
			return nil, domain.NewProviderError("invalid embedding response",
				fmt.Errorf("embedding %d: %w", i, err))
		}
	}
	return vecs, nil
}

// EmbedDocuments embeds chunks in batches, pausing between batches. The
// result is in chunk order. Any provider failure aborts the whole call.
func (e *Embedder) EmbedDocuments(ctx context.Context, chunks []domain.Chunk) ([]domain.EmbeddedChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	out := make([]domain.EmbeddedChunk, 0, len(chunks))
	batches := (len(chunks) + e.cfg.BatchSize - 1) / e.cfg.BatchSize
	dimension := e.provider.Dimension()

	for b := 0; b < batches; b++ {
		if b > 0 {
			if err := sleepContext(ctx, e.cfg.BatchDelay); err != nil {
				return nil, domain.NewProviderError("embedding cancelled", err)
			}
		}

		start := b * e.cfg.BatchSize
		end := min(start+e.cfg.BatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		e.logger.Debug("embedding batch", "batch", b+1, "of", batches, "size", len(batch))
		vecs, err := e.EmbedMany(ctx, texts)
		if err != nil {
			e.logger.Error("embedding batch failed", "batch", b+1, "err", err)
			return nil, err
		}

		for i, vec := range vecs {
			if dimension == 0 {
				dimension = len(vec)
			}
			if len(vec) != dimension {
				return nil, domain.NewProviderError("invalid embedding response",
					fmt.Errorf("embedding %d has %d dimensions, expected %d", start+i, len(vec), dimension))
			}
			out = append(out, domain.EmbeddedChunk{
				Chunk:              batch[i],
				Embedding:          vec,
				EmbeddingDimension: len(vec),
				EmbeddingModel:     e.provider.ModelName(),
			})
		}
	}

	e.logger.Info("embedded chunks", "chunks", len(out), "batches", batches, "dimension", dimension)
	return out, nil
}

var errEmptyEmbedding = errors.New("empty embedding")

func (e *Embedder) checkDimension(vec []float32, expected int) error {
	if len(vec) == 0 {
		return errEmptyEmbedding
	}
	if expected > 0 && len(vec) != expected {
		return fmt.Errorf("got %d dimensions, expected %d", len(vec), expected)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
