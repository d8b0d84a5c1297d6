package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Embedding provider names accepted by EMBEDDING_PROVIDER.
const (
	ProviderOpenAI      = "openai"
	ProviderCohere      = "cohere"
	ProviderHuggingFace = "huggingface"
	ProviderCompat      = "compat"
)

type Config struct {
	Port         string `envconfig:"PORT" default:"8080"`
	Debug        bool   `envconfig:"DEBUG" default:"false"`
	MaxBodyBytes int64  `envconfig:"MAX_BODY_BYTES" default:"10485760"`

	DatabaseURL      string `envconfig:"DATABASE_URL" required:"true"`
	DatabaseMaxConns int32  `envconfig:"DATABASE_MAX_CONNS" default:"10"`

	// Chunking
	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"200"`

	// Embeddings
	EmbeddingProvider   string        `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	EmbeddingModel      string        `envconfig:"EMBEDDING_MODEL"`
	EmbeddingDimensions int           `envconfig:"EMBEDDING_DIMENSIONS"`
	EmbeddingBaseURL    string        `envconfig:"EMBEDDING_BASE_URL" default:"http://localhost:11434/v1"`
	EmbeddingBatchSize  int           `envconfig:"EMBEDDING_BATCH_SIZE" default:"100"`
	EmbeddingBatchDelay time.Duration `envconfig:"EMBEDDING_BATCH_DELAY" default:"100ms"`
	EmbeddingTimeout    time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"30s"`

	OpenAIAPIKey      string `envconfig:"OPENAI_API_KEY"`
	CohereAPIKey      string `envconfig:"COHERE_API_KEY"`
	HuggingFaceAPIKey string `envconfig:"HUGGINGFACE_API_KEY"`

	// Search
	SimilarityThreshold       float64 `envconfig:"SIMILARITY_THRESHOLD" default:"0.7"`
	SearchLimit               int     `envconfig:"SEARCH_LIMIT" default:"5"`
	SearchCandidateMultiplier int     `envconfig:"SEARCH_CANDIDATE_MULTIPLIER" default:"10"`
	SearchApproximate         bool    `envconfig:"SEARCH_APPROXIMATE" default:"true"`

	// Crawling
	CrawlDelayMS     int           `envconfig:"CRAWL_DELAY_MS" default:"1000"`
	CrawlTimeout     time.Duration `envconfig:"CRAWL_TIMEOUT" default:"30s"`
	CrawlMaxBytes    int64         `envconfig:"CRAWL_MAX_BYTES" default:"5242880"`
	MinContentLength int           `envconfig:"MIN_CONTENT_LENGTH" default:"100"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"agentkb-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	WorkerPollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"10s"`
	WorkerConcurrency  int           `envconfig:"WORKER_CONCURRENCY" default:"4"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("AGENTKB", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap)
	}
	if c.EmbeddingBatchSize <= 0 {
		return fmt.Errorf("EMBEDDING_BATCH_SIZE must be positive, got %d", c.EmbeddingBatchSize)
	}
	if c.SearchLimit <= 0 {
		return fmt.Errorf("SEARCH_LIMIT must be positive, got %d", c.SearchLimit)
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be in [-1, 1], got %v", c.SimilarityThreshold)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
	}

	switch c.EmbeddingProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for provider %q", c.EmbeddingProvider)
		}
	case ProviderCohere:
		if c.CohereAPIKey == "" {
			return fmt.Errorf("COHERE_API_KEY is required for provider %q", c.EmbeddingProvider)
		}
	case ProviderHuggingFace:
		if c.HuggingFaceAPIKey == "" {
			return fmt.Errorf("HUGGINGFACE_API_KEY is required for provider %q", c.EmbeddingProvider)
		}
	case ProviderCompat:
		if c.EmbeddingBaseURL == "" {
			return fmt.Errorf("EMBEDDING_BASE_URL is required for provider %q", c.EmbeddingProvider)
		}
		if c.EmbeddingModel == "" {
			return fmt.Errorf("EMBEDDING_MODEL is required for provider %q", c.EmbeddingProvider)
		}
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider)
	}

	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}

// CrawlDelay returns CRAWL_DELAY_MS as a duration.
func (c *Config) CrawlDelay() time.Duration {
	return time.Duration(c.CrawlDelayMS) * time.Millisecond
}
