package jobtrack

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedis_IsEnabled(t *testing.T) {
	tests := []struct {
		name     string
		client   *redis.Client
		enabled  bool
		expected bool
	}{
		{name: "enabled with client", client: &redis.Client{}, enabled: true, expected: true},
		{name: "disabled", client: &redis.Client{}, enabled: false, expected: false},
		{name: "no client", client: nil, enabled: true, expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.client, tt.enabled, time.Hour).IsEnabled())
		})
	}
}

func TestRedis_SeenExpires(t *testing.T) {
	mr, client := setupTestRedis(t)
	tracker := New(client, true, time.Hour)
	ctx := context.Background()

	seen, err := tracker.Seen(ctx, "dist-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, tracker.RecordExecution(ctx, "dist-1"))

	seen, err = tracker.Seen(ctx, "dist-1")
	require.NoError(t, err)
	assert.True(t, seen)

	other, err := tracker.Seen(ctx, "dist-2")
	require.NoError(t, err)
	assert.False(t, other)

	mr.FastForward(2 * time.Hour)

	seen, err = tracker.Seen(ctx, "dist-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedis_Requeued(t *testing.T) {
	mr, client := setupTestRedis(t)
	tracker := New(client, true, time.Hour)
	ctx := context.Background()

	require.NoError(t, tracker.MarkRequeued(ctx, "dist-1", 10*time.Minute))

	recent, err := tracker.RecentlyRequeued(ctx, "dist-1")
	require.NoError(t, err)
	assert.True(t, recent)
	assert.Equal(t, 10*time.Minute, mr.TTL(requeuedPrefix+"dist-1"))

	seen, err := tracker.Seen(ctx, "dist-1")
	require.NoError(t, err)
	assert.False(t, seen, "requeue marker must not count as an execution")

	mr.FastForward(11 * time.Minute)
	recent, err = tracker.RecentlyRequeued(ctx, "dist-1")
	require.NoError(t, err)
	assert.False(t, recent)
}

func TestRedis_DisabledIsNoop(t *testing.T) {
	mr, client := setupTestRedis(t)
	tracker := New(client, false, time.Hour)
	ctx := context.Background()

	require.NoError(t, tracker.RecordExecution(ctx, "dist-1"))
	require.NoError(t, tracker.MarkRequeued(ctx, "dist-1", time.Minute))
	assert.Empty(t, mr.Keys())

	seen, err := tracker.Seen(ctx, "dist-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedis_ServerErrors(t *testing.T) {
	mr, client := setupTestRedis(t)
	tracker := New(client, true, time.Hour)
	mr.Close()

	_, err := tracker.Seen(context.Background(), "dist-1")
	require.Error(t, err)
	require.Error(t, tracker.RecordExecution(context.Background(), "dist-1"))
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	client.Close()

	_, err = Connect(context.Background(), "://bad")
	require.Error(t, err)
}
