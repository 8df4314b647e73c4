package jobtrack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	seenPrefix     = "rfqflow:job:seen:"
	requeuedPrefix = "rfqflow:job:requeued:"
)

// Redis remembers which delivery jobs a worker picked up and which ones the
// reconciliation sweep re-enqueued. Keys expire on their own.
type Redis struct {
	client  *redis.Client
	enabled bool
	seenTTL time.Duration
}

func New(client *redis.Client, enabled bool, seenTTL time.Duration) *Redis {
	if seenTTL <= 0 {
		seenTTL = 72 * time.Hour
	}
	return &Redis{client: client, enabled: enabled, seenTTL: seenTTL}
}

// Connect parses url and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("jobtrack: invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("jobtrack: redis ping: %w", err)
	}
	return client, nil
}

func (r *Redis) IsEnabled() bool {
	return r != nil && r.enabled && r.client != nil
}

func (r *Redis) RecordExecution(ctx context.Context, distributionID string) error {
	if !r.IsEnabled() {
		return nil
	}
	if err := r.client.Set(ctx, seenPrefix+distributionID, time.Now().Unix(), r.seenTTL).Err(); err != nil {
		return fmt.Errorf("jobtrack: record execution: %w", err)
	}
	return nil
}

func (r *Redis) Seen(ctx context.Context, distributionID string) (bool, error) {
	return r.exists(ctx, seenPrefix+distributionID)
}

// MarkRequeued hides the distribution from the sweep for ttl.
func (r *Redis) MarkRequeued(ctx context.Context, distributionID string, ttl time.Duration) error {
	if !r.IsEnabled() {
		return nil
	}
	if err := r.client.Set(ctx, requeuedPrefix+distributionID, time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("jobtrack: mark requeued: %w", err)
	}
	return nil
}

func (r *Redis) RecentlyRequeued(ctx context.Context, distributionID string) (bool, error) {
	return r.exists(ctx, requeuedPrefix+distributionID)
}

func (r *Redis) exists(ctx context.Context, key string) (bool, error) {
	if !r.IsEnabled() {
		return false, nil
	}
	err := r.client.Get(ctx, key).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, fmt.Errorf("jobtrack: lookup: %w", err)
	}
}
