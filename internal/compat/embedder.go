// Package compat embeds text through OpenAI-compatible endpoints such as
// Ollama or LM Studio.
package compat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrMissingModel is returned when no embedding model is configured.
var ErrMissingModel = errors.New("embedding model is required")

// Config configures an OpenAI-compatible embedding endpoint.
type Config struct {
	BaseURL string
	// Token is sent as the bearer token. Local servers usually ignore it.
	Token      string
	Model      string
	Dimensions int
}

// Embedder implements the embedding provider contract over langchaingo.
type Embedder struct {
	embedder   embeddings.Embedder
	model      string
	dimensions int
	logger     *slog.Logger
}

// New creates an Embedder. Dimensions may be zero, in which case the size is
// learned from the first response.
func New(cfg Config) (*Embedder, error) {
	if cfg.Model == "" {
		return nil, ErrMissingModel
	}
	token := cfg.Token
	if token == "" {
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create compat client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create compat embedder: %w", err)
	}

	return &Embedder{
		embedder:   embedder,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		logger:     slog.Default().With("component", "compat-embedder", "model", cfg.Model),
	}, nil
}

func (e *Embedder) Dimension() int    { return e.dimensions }
func (e *Embedder) ModelName() string { return e.model }

// EmbedOne embeds a single query.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		e.logger.Error("failed to generate embedding", "err", err)
		return nil, err
	}
	return vector, nil
}

// EmbedMany embeds texts in one call, preserving order.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings", "count", len(texts))

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, err
	}
	return vectors, nil
}
