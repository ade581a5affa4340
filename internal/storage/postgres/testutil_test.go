package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// One container serves the whole package; tests truncate the tables instead
// of paying for a fresh server each.
var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

var searchTables = []string{"top_results", "variable_outcomes", "round_records", "search_runs"}

// newTestPool returns a pool on a migrated, empty database. Integration tests
// are skipped with -short.
func newTestPool(t *testing.T) *Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped with -short")
	}

	ctx := context.Background()
	containerOnce.Do(func() {
		containerDSN, containerErr = startContainer(ctx)
	})
	require.NoError(t, containerErr, "start postgres container")

	pool, err := NewPool(ctx, containerDSN)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	for _, table := range searchTables {
		_, err := pool.Exec(ctx, "TRUNCATE "+table+" CASCADE")
		require.NoError(t, err, "truncate %s", table)
	}
	return pool
}

func startContainer(ctx context.Context) (string, error) {
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("threshold_lab"),
		tcpostgres.WithUsername("lab"),
		tcpostgres.WithPassword("lab"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90*time.Second),
		),
	)
	if err != nil {
		return "", err
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", err
	}

	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return "", err
	}
	defer pool.Close()

	files, err := filepath.Glob(filepath.Join(schemaDir(), "*.sql"))
	if err != nil {
		return "", err
	}
	for _, file := range files {
		body, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		if _, err := pool.Exec(ctx, string(body)); err != nil {
			return "", err
		}
	}
	return dsn, nil
}

// schemaDir locates the SQL migrations next to this package.
func schemaDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "migrations", "postgres")
}

func ptr[T any](v T) *T {
	return &v
}
