package session

import (
	"context"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// redisTestURL returns REDIS_TEST_URL when set. Otherwise it starts a
// throwaway redis:7-alpine container, the same image docker-compose.yml uses,
// and terminates it when the test ends. Without a Docker daemon the test is
// skipped.
func redisTestURL(t *testing.T) string {
	t.Helper()

	if url := os.Getenv("REDIS_TEST_URL"); url != "" {
		return url
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}
	return url
}
