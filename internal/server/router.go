package server

import (
	"log/slog"
	"net/http"

	"github.com/cloo-solutions/agentkb/internal/api"
	"github.com/cloo-solutions/agentkb/internal/api/handlers"
	"github.com/cloo-solutions/agentkb/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	Logger           *slog.Logger
	IngestHandler    *handlers.IngestHandler
	SearchHandler    *handlers.SearchHandler
	VectorHandler    *handlers.VectorHandler
	KnowledgeHandler *handlers.KnowledgeHandler
	// MaxBodyBytes bounds request bodies. Zero uses 10 MiB.
	MaxBodyBytes int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 * 1024 * 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.TrackScope)
	r.Use(middleware.AccessLog(logger))
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ingest", func(r chi.Router) {
			r.Post("/content", cfg.IngestHandler.Content)
			r.Post("/qa", cfg.IngestHandler.QA)
			r.Post("/urls", cfg.IngestHandler.URLs)
		})

		r.Post("/search", cfg.SearchHandler.Search)
		r.Get("/stats", cfg.VectorHandler.Stats)
		r.Delete("/vectors", cfg.VectorHandler.Delete)

		r.Route("/knowledge", func(r chi.Router) {
			r.Post("/", cfg.KnowledgeHandler.Create)
			r.Get("/", cfg.KnowledgeHandler.List)
			r.Get("/{id}", cfg.KnowledgeHandler.Get)
			r.Delete("/{id}", cfg.KnowledgeHandler.Delete)
		})
	})

	return r
}
