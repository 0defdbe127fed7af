package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel alerts are published on.
const DefaultChannel = "kbingest:alerts"

// Redis publishes events on a pub/sub channel for dashboards to consume.
type Redis struct {
	rdb     *redis.Client
	channel string
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr, password, channel string) (*Redis, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DialTimeout: 5 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb, channel: channel}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(rdb *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{rdb: rdb, channel: channel}
}

// Notify publishes e as JSON.
func (r *Redis) Notify(ctx context.Context, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
