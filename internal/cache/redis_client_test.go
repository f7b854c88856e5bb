package cache

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	client := &Client{client: rdb, logger: slog.Default(), ttl: 15 * time.Minute}
	return client, server
}

func TestClient_SetAndGet(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}

	require.NoError(t, client.Set(ctx, "greeting", payload{Name: "riverbend"}))

	var got payload
	found, err := client.Get(ctx, "greeting", &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "riverbend", got.Name)
}

func TestClient_GetMiss(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	var got string
	found, err := client.Get(ctx, "missing-key", &got)
	require.NoError(t, err)
	require.False(t, found)
}

func TestClient_EmbeddingCache(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	vector := []float32{0.1, 0.2, 0.3}
	require.NoError(t, client.SetEmbedding(ctx, "contenthash123", vector))

	got, found, err := client.GetEmbedding(ctx, "contenthash123")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, vector, got)

	_, found, err = client.GetEmbedding(ctx, "unseen-hash")
	require.NoError(t, err)
	require.False(t, found)
}

func TestClient_Allow_RateLimit(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := client.Allow(ctx, "serper", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, ok, "request %d should be allowed under the limit", i+1)
	}

	ok, err := client.Allow(ctx, "serper", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "fourth request should exceed the limit of 3")
}

func TestClient_ScoutLock(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	acquired, err := client.AcquireScoutLock(ctx, "riverbend", "run-1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	blocked, err := client.AcquireScoutLock(ctx, "riverbend", "run-2", time.Minute)
	require.NoError(t, err)
	require.False(t, blocked, "a second run should not acquire the same region's lock")

	// run-2 releasing a lock it never held must be a no-op.
	require.NoError(t, client.ReleaseScoutLock(ctx, "riverbend", "run-2"))

	stillBlocked, err := client.AcquireScoutLock(ctx, "riverbend", "run-3", time.Minute)
	require.NoError(t, err)
	require.False(t, stillBlocked)

	require.NoError(t, client.ReleaseScoutLock(ctx, "riverbend", "run-1"))

	freed, err := client.AcquireScoutLock(ctx, "riverbend", "run-4", time.Minute)
	require.NoError(t, err)
	require.True(t, freed, "lock should be free after the holder releases it")
}

func TestClient_DeletePattern(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "embedding:a", "v1"))
	require.NoError(t, client.Set(ctx, "embedding:b", "v2"))
	require.NoError(t, client.Set(ctx, "ratelimit:c", "v3"))

	deleted, err := client.DeletePattern(ctx, "embedding:*")
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	var got string
	found, err := client.Get(ctx, "ratelimit:c", &got)
	require.NoError(t, err)
	require.True(t, found, "keys outside the pattern should survive")
}
