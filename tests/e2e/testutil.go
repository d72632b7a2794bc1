package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/seaward/benguela/internal/steps"
	pgstore "github.com/seaward/benguela/internal/store"
	"github.com/seaward/benguela/internal/workflow"
)

// Package-level shared state — set by TestMain, used by all subtests.
var (
	testLogger   *zap.Logger
	testArchive  *pgstore.Store
	testRedisURL string
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("benguela_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// newEngineStack builds a full registry + catalog + store + engine wired
// with the built-in step library.
func newEngineStack(t *testing.T) (*workflow.Engine, *workflow.Catalog, *workflow.Store) {
	t.Helper()
	registry := workflow.NewRegistry(testLogger)
	steps.Register(registry)
	catalog := workflow.NewCatalog(testLogger)
	store := workflow.NewStore(testLogger)
	engine := workflow.NewEngine(registry, store, 10, testLogger)
	return engine, catalog, store
}

// waitTerminal polls until the workflow reaches a terminal state.
func waitTerminal(t *testing.T, e *workflow.Engine, id string, timeout time.Duration) workflow.Summary {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		sum, err := e.Status(id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if sum.Status.Terminal() {
			return sum
		}
		if time.Now().After(deadline) {
			t.Fatalf("workflow %s did not finish; status %q progress %.1f", id, sum.Status, sum.Progress)
		}
		time.Sleep(25 * time.Millisecond)
	}
}
