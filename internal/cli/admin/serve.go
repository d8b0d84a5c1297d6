package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/agentkb/internal/api/handlers"
	"github.com/cloo-solutions/agentkb/internal/jobs"
	"github.com/cloo-solutions/agentkb/internal/server"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and ingestion worker",
		Long:  "Start the agentkb HTTP API and the background ingestion worker",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides AGENTKB_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-worker", false, "Do not run the ingestion worker")
	cmd.Flags().String("migrations", "file://migrations", "Migration source URL")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := LoadApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	cfg := app.Config
	log.Println("connected to database")

	if cfg.HasSentry() {
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:         cfg.SentryDSN,
			Environment: cfg.Environment,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		source, _ := cmd.Flags().GetString("migrations")
		if err := RunMigrations(source, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	if dim := app.Provider.Dimension(); dim > 0 {
		if err := app.Store.EnsureIndex(ctx, dim); err != nil {
			return fmt.Errorf("failed to ensure vector index: %w", err)
		}
	}

	router := server.NewRouter(server.RouterConfig{
		IngestHandler:    handlers.NewIngestHandler(app.Ingestion),
		SearchHandler:    handlers.NewSearchHandler(app.Search),
		VectorHandler:    handlers.NewVectorHandler(app.Store),
		KnowledgeHandler: handlers.NewKnowledgeHandler(app.Knowledge),
		MaxBodyBytes:     cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	if noWorker, _ := cmd.Flags().GetBool("no-worker"); !noWorker {
		processor, err := jobs.NewIngestionWorker(app.JobRepo, app.Knowledge, cfg.WorkerConcurrency)
		if err != nil {
			return fmt.Errorf("failed to create ingestion worker: %w", err)
		}
		defer processor.Release()

		worker := jobs.NewWorker(processor, cfg.WorkerPollInterval)
		g.Go(func() error {
			worker.Start(gctx)
			return nil
		})
		log.Println("ingestion worker started")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Println("server exited")
	return nil
}

// RunMigrations applies every pending migration from source.
func RunMigrations(source, databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Println("migrations: no migrations applied")
	case dirty:
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	default:
		log.Printf("migrations: database at version %d", version)
	}

	return nil
}

// MigrateCmd applies migrations without starting the server.
func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := LoadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			source, _ := cmd.Flags().GetString("migrations")
			if err := RunMigrations(source, app.Config.DatabaseURL); err != nil {
				return err
			}
			if dim := app.Provider.Dimension(); dim > 0 {
				return app.Store.EnsureIndex(cmd.Context(), dim)
			}
			return nil
		},
	}
	cmd.Flags().String("migrations", "file://migrations", "Migration source URL")
	return cmd
}
