package lock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }

	ok, err := l.Acquire(ctx, "alert-scan:public:2026-03-01", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "alert-scan:public:2026-03-01", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "second claim within ttl must fail")

	ok, _ = l.Acquire(ctx, "alert-scan:public:2026-03-02", time.Hour)
	assert.True(t, ok, "different key is independent")

	now = now.Add(2 * time.Hour)
	ok, _ = l.Acquire(ctx, "alert-scan:public:2026-03-01", time.Hour)
	assert.True(t, ok, "expired claim can be retaken")

	require.NoError(t, l.Release(ctx, "alert-scan:public:2026-03-02"))
	ok, _ = l.Acquire(ctx, "alert-scan:public:2026-03-02", time.Hour)
	assert.True(t, ok)
}

func TestRedisLocker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { client.Close() })

	l := NewRedisLocker(client, "pharmacy:jobs:")

	ok, err := l.Acquire(ctx, "expiry-sweep:public:2026-03-01", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "expiry-sweep:public:2026-03-01", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := client.TTL(ctx, "pharmacy:jobs:expiry-sweep:public:2026-03-01").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, l.Release(ctx, "expiry-sweep:public:2026-03-01"))
	ok, err = l.Acquire(ctx, "expiry-sweep:public:2026-03-01", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
