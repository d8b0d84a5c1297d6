// Package testutil starts the Postgres/pgvector and S3-compatible containers
// used by integration tests.
package testutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pgvectorImage = "pgvector/pgvector:0.8.1-pg18"
	rustfsImage   = "rustfs/rustfs:latest"

	dbName = "agentkb"

	// ObjectStoreAccessKey and ObjectStoreSecretKey are the credentials of
	// the object store started by StartObjectStore.
	ObjectStoreAccessKey = "rustfsadmin"
	ObjectStoreSecretKey = "rustfsadmin"
)

// StartVectorDB starts a pgvector container, applies the module's migrations
// and returns a pool. The container and pool are released when t ends.
func StartVectorDB(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        pgvectorImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     dbName,
				"POSTGRES_PASSWORD": dbName,
				"POSTGRES_DB":       dbName,
			},
			// Postgres restarts once after running init scripts.
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			).WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start pgvector container: %v", err)
	}

	addr := endpoint(ctx, t, ctr, "5432")
	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", dbName, dbName, addr, dbName)

	pool, err := connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect to %s: %v", addr, err)
	}
	t.Cleanup(pool.Close)

	if err := migrateUp(dsn, migrationsDir(t)); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return pool
}

// ObjectStore is a running S3-compatible endpoint.
type ObjectStore struct {
	Endpoint string
}

// StartObjectStore starts a RustFS container for S3 document storage tests.
func StartObjectStore(ctx context.Context, t *testing.T) *ObjectStore {
	t.Helper()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        rustfsImage,
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"RUSTFS_ACCESS_KEY": ObjectStoreAccessKey,
				"RUSTFS_SECRET_KEY": ObjectStoreSecretKey,
			},
			WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start object store container: %v", err)
	}

	return &ObjectStore{Endpoint: "http://" + endpoint(ctx, t, ctr, "9000")}
}

func endpoint(ctx context.Context, t *testing.T, ctr testcontainers.Container, port string) string {
	t.Helper()
	host, err := ctr.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := ctr.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("container port %s: %v", port, err)
	}
	return host + ":" + mapped.Port()
}

// connect retries until the server accepts queries; the port can open before
// Postgres finishes its init restart.
func connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	var pingErr error
	for attempt := 1; attempt <= 5; attempt++ {
		if pingErr = pool.Ping(ctx); pingErr == nil {
			return pool, nil
		}
		time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
	}
	pool.Close()
	return nil, pingErr
}

// migrateUp applies dir through golang-migrate, the same path the serve
// command takes on startup.
func migrateUp(dsn, dir string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// migrationsDir finds the migrations directory next to go.mod, walking up
// from the test's working directory.
func migrationsDir(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "migrations")
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found above the test directory")
		}
		dir = parent
	}
}
