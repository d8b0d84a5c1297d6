// Package cohere embeds text through the Cohere v1 embed API.
package cohere

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	cohere "github.com/cohere-ai/cohere-go/v2"
	coclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/cohere-ai/cohere-go/v2/option"
)

const (
	DefaultBaseURL    = "https://api.cohere.com"
	DefaultModel      = "embed-english-v3.0"
	DefaultDimensions = 1024

	// maxTextsPerCall is the API's limit on texts per embed request.
	maxTextsPerCall = 96
)

var (
	ErrNoAPIKey   = errors.New("cohere api key is required")
	ErrWrongCount = errors.New("embedding count does not match input count")
)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// Client embeds documents and queries with the input type v3 models expect.
type Client struct {
	api        *coclient.Client
	model      string
	dimensions int
	logger     *slog.Logger
}

// New creates a Client. Model and dimensions default to embed-english-v3.0.
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

	opts := []option.RequestOption{
		option.WithToken(cfg.APIKey),
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &Client{
		api:        coclient.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		logger:     slog.Default().With("component", "cohere-embedder", "model", cfg.Model),
	}, nil
}

func (c *Client) Dimension() int    { return c.dimensions }
func (c *Client) ModelName() string { return c.model }

// EmbedOne embeds a search query.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, []string{text}, cohere.EmbedInputTypeSearchQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedMany embeds documents, splitting into API-sized requests.
func (c *Client) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxTextsPerCall {
		end := min(start+maxTextsPerCall, len(texts))
		vectors, err := c.embed(ctx, texts[start:end], cohere.EmbedInputTypeSearchDocument)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (c *Client) embed(ctx context.Context, texts []string, inputType cohere.EmbedInputType) ([][]float32, error) {
	resp, err := c.api.Embed(ctx, &cohere.EmbedRequest{
		Texts:     texts,
		Model:     cohere.String(c.model),
		InputType: inputType.Ptr(),
		Truncate:  cohere.EmbedRequestTruncateEnd.Ptr(),
	})
	if err != nil {
		c.logger.Error("embed request failed", "count", len(texts), "err", err)
		return nil, fmt.Errorf("cohere embed: %w", err)
	}

	var floats [][]float64
	switch {
	case resp.EmbeddingsFloats != nil:
		floats = resp.EmbeddingsFloats.Embeddings
	case resp.EmbeddingsByType != nil && resp.EmbeddingsByType.Embeddings != nil:
		floats = resp.EmbeddingsByType.Embeddings.Float
	}
	if len(floats) != len(texts) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWrongCount, len(floats), len(texts))
	}

	out := make([][]float32, len(floats))
	for i, f := range floats {
		v := make([]float32, len(f))
		for j, x := range f {
			v[j] = float32(x)
		}
		out[i] = v
	}
	return out, nil
}
