// Package huggingface embeds text through the Hugging Face Inference API
// feature-extraction task.
package huggingface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	hfembed "github.com/tmc/langchaingo/embeddings/huggingface"
	"github.com/tmc/langchaingo/llms/huggingface"
)

const (
	DefaultBaseURL    = "https://router.huggingface.co/hf-inference"
	DefaultModel      = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultDimensions = 384
)

var (
	ErrNoAPIKey   = errors.New("hugging face api key is required")
	ErrWrongCount = errors.New("embedding count does not match input count")
)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// Client implements the embedding provider contract over langchaingo's
// Hugging Face embedder. Models must return one pooled vector per input.
type Client struct {
	embedder   embeddings.Embedder
	model      string
	dimensions int
	logger     *slog.Logger
}

func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}

	opts := []huggingface.Option{
		huggingface.WithToken(cfg.APIKey),
		huggingface.WithModel(cfg.Model),
		huggingface.WithURL(strings.TrimRight(cfg.BaseURL, "/")),
	}
	if httpClient != nil {
		opts = append(opts, huggingface.WithHTTPClient(httpClient))
	}
	llm, err := huggingface.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create hugging face client: %w", err)
	}

	embedder, err := hfembed.NewHuggingface(
		hfembed.WithClient(*llm),
		hfembed.WithModel(cfg.Model),
		hfembed.WithStripNewLines(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create hugging face embedder: %w", err)
	}

	return &Client{
		embedder:   embedder,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		logger:     slog.Default().With("component", "huggingface-embedder", "model", cfg.Model),
	}, nil
}

func (c *Client) Dimension() int    { return c.dimensions }
func (c *Client) ModelName() string { return c.model }

func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedMany embeds texts in input order.
func (c *Client) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		c.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		if errors.Is(err, huggingface.ErrUnexpectedResponseLength) {
			return nil, fmt.Errorf("%w: %v", ErrWrongCount, err)
		}
		return nil, fmt.Errorf("feature extraction: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWrongCount, len(vectors), len(texts))
	}
	return vectors, nil
}
