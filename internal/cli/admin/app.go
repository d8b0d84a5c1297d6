// Package admin holds the agentkbd commands. Every command builds the same
// pipeline from config and talks to Postgres directly.
package admin

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/cloo-solutions/agentkb/internal/cohere"
	"github.com/cloo-solutions/agentkb/internal/compat"
	"github.com/cloo-solutions/agentkb/internal/config"
	"github.com/cloo-solutions/agentkb/internal/crawler"
	"github.com/cloo-solutions/agentkb/internal/database"
	"github.com/cloo-solutions/agentkb/internal/huggingface"
	"github.com/cloo-solutions/agentkb/internal/openai"
	"github.com/cloo-solutions/agentkb/internal/repository"
	"github.com/cloo-solutions/agentkb/internal/service"
	"github.com/cloo-solutions/agentkb/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the wired pipeline shared by serve and the one-shot commands.
type App struct {
	Config    *config.Config
	Pool      *pgxpool.Pool
	Provider  service.EmbeddingProvider
	Store     *service.VectorStore
	Ingestion *service.IngestionService
	Search    *service.SearchService
	Knowledge *service.KnowledgeService
	JobRepo   *repository.IngestionJobRepository
}

// Close releases the database pool.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// SetupLogging installs the JSON slog handler as the process default.
func SetupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// NewEmbeddingProvider builds the provider named by EMBEDDING_PROVIDER.
func NewEmbeddingProvider(cfg *config.Config, httpClient *http.Client) (service.EmbeddingProvider, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		return openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			EmbeddingModel:      cfg.EmbeddingModel,
			EmbeddingDimensions: cfg.EmbeddingDimensions,
		}), nil
	case config.ProviderCohere:
		client, err := cohere.New(cohere.Config{
			APIKey:     cfg.CohereAPIKey,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
		}, httpClient)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ProviderHuggingFace:
		client, err := huggingface.New(huggingface.Config{
			APIKey:     cfg.HuggingFaceAPIKey,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
		}, httpClient)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ProviderCompat:
		embedder, err := compat.New(compat.Config{
			BaseURL:    cfg.EmbeddingBaseURL,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
		})
		if err != nil {
			return nil, err
		}
		return embedder, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}

// NewStrategies returns the search strategies in fall-through order.
func NewStrategies(cfg *config.Config, repo service.VectorRepository) []service.SearchStrategy {
	var strategies []service.SearchStrategy
	if cfg.SearchApproximate {
		strategies = append(strategies, service.NewApproximateStrategy(repo, cfg.SearchCandidateMultiplier))
	}
	return append(strategies, service.NewExactStrategy(repo))
}

// NewCrawlerFactory returns a factory that hands out a fresh crawler, and so
// a fresh visited set, per ingestion run.
func NewCrawlerFactory(cfg *config.Config) service.CrawlerFactory {
	crawlCfg := crawler.Config{
		Delay:            cfg.CrawlDelay(),
		Timeout:          cfg.CrawlTimeout,
		MaxBytes:         cfg.CrawlMaxBytes,
		MinContentLength: cfg.MinContentLength,
	}
	return func() service.URLCrawler {
		return crawler.New(crawlCfg, nil)
	}
}

// LoadApp loads config, connects to Postgres and wires the pipeline.
// The caller must Close the returned App.
func LoadApp(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewApp(ctx, cfg)
}

// NewApp wires the pipeline for cfg.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	provider, err := NewEmbeddingProvider(cfg, &http.Client{Timeout: cfg.EmbeddingTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL, MaxConns: cfg.DatabaseMaxConns})
	if err != nil {
		return nil, err
	}

	var documents service.DocumentStore
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		documents = s3Client
	}

	vectorRepo := repository.NewVectorRepository(pool)
	store := service.NewVectorStore(vectorRepo, NewStrategies(cfg, vectorRepo)...)
	chunker := service.NewChunker(service.ChunkConfig{ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap})
	embedder := service.NewEmbedder(provider, service.EmbedderConfig{
		BatchSize:  cfg.EmbeddingBatchSize,
		BatchDelay: cfg.EmbeddingBatchDelay,
		Timeout:    cfg.EmbeddingTimeout,
	})

	ingestion := service.NewIngestionService(chunker, embedder, store, NewCrawlerFactory(cfg))
	search := service.NewSearchService(embedder, store, repository.NewSearchLogRepository(pool), service.SearchDefaults{
		Limit:     cfg.SearchLimit,
		Threshold: cfg.SimilarityThreshold,
	})
	knowledge := service.NewKnowledgeService(
		repository.NewTxRunner(pool),
		repository.NewKnowledgeRepository(pool),
		ingestion,
		store,
		documents,
	)

	return &App{
		Config:    cfg,
		Pool:      pool,
		Provider:  provider,
		Store:     store,
		Ingestion: ingestion,
		Search:    search,
		Knowledge: knowledge,
		JobRepo:   repository.NewIngestionJobRepository(pool),
	}, nil
}
