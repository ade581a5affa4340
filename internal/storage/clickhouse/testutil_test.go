package clickhouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	serverOnce sync.Once
	serverDSN  string
	serverErr  error
)

// newTestConn returns a connection to a migrated, empty evaluation_results
// table on a package-wide container. Skipped with -short.
func newTestConn(t *testing.T) *Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("clickhouse integration test skipped with -short")
	}

	ctx := context.Background()
	serverOnce.Do(func() {
		serverDSN, serverErr = startServer(ctx)
	})
	require.NoError(t, serverErr, "start clickhouse container")

	conn, err := NewConn(ctx, serverDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.Exec(ctx, "TRUNCATE TABLE IF EXISTS evaluation_results"))
	return conn
}

func startServer(ctx context.Context) (string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.8-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"CLICKHOUSE_DB":   "threshold_lab",
				"CLICKHOUSE_USER": "default",
			},
			WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", err
	}

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "")
	if err != nil {
		return "", err
	}
	dsn := fmt.Sprintf("clickhouse://%s/threshold_lab", endpoint)

	conn, err := NewConn(ctx, dsn)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	files, err := filepath.Glob(filepath.Join(schemaDir(), "*.sql"))
	if err != nil {
		return "", err
	}
	for _, file := range files {
		body, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		for _, stmt := range statements(string(body)) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return "", fmt.Errorf("%s: %w", filepath.Base(file), err)
			}
		}
	}
	return dsn, nil
}

// statements drops comment lines and splits on semicolons; the schema files
// carry no string literals containing either.
func statements(body string) []string {
	var b strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(strings.TrimSpace(line), "--") {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func schemaDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "migrations", "clickhouse")
}
