// Package cache mirrors user presence into Redis so other services can read
// it without touching the document store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineKeyPrefix   = "chat:presence:online:"
	lastSeenKeyPrefix = "chat:presence:last_seen:"

	defaultPresenceTTL = 2 * time.Minute
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long an online marker survives without a refresh, so a
	// crashed process does not leave users online forever.
	TTL time.Duration
}

// PresenceCache stores online markers and last-seen times in Redis.
type PresenceCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewPresenceCache connects to Redis and verifies the connection with PING.
func NewPresenceCache(ctx context.Context, opts Options) (*PresenceCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultPresenceTTL
	}
	return &PresenceCache{client: client, ttl: ttl, logger: slog.Default()}, nil
}

// SetOnline marks userID online for the configured TTL.
func (c *PresenceCache) SetOnline(ctx context.Context, userID string) error {
	if err := c.client.Set(ctx, onlineKeyPrefix+userID, "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("set online %s: %w", userID, err)
	}
	c.logger.Debug("presence mirrored", "user_id", userID, "online", true)
	return nil
}

// SetOffline clears the online marker and records lastSeen.
func (c *PresenceCache) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, onlineKeyPrefix+userID)
		pipe.Set(ctx, lastSeenKeyPrefix+userID, lastSeen.UTC().Format(time.RFC3339Nano), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set offline %s: %w", userID, err)
	}
	c.logger.Debug("presence mirrored", "user_id", userID, "online", false)
	return nil
}

// Refresh extends the online marker of a still connected user.
func (c *PresenceCache) Refresh(ctx context.Context, userID string) error {
	return c.client.Expire(ctx, onlineKeyPrefix+userID, c.ttl).Err()
}

// KeepAlive refreshes the online marker of every id returned by online,
// every half TTL, until ctx is done.
func (c *PresenceCache) KeepAlive(ctx context.Context, online func() []string) {
	ticker := time.NewTicker(c.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range online() {
				if err := c.Refresh(ctx, id); err != nil {
					c.logger.Warn("presence refresh failed", "user_id", id, "error", err)
				}
			}
		}
	}
}

// IsOnline reports whether an online marker exists for userID.
func (c *PresenceCache) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := c.client.Exists(ctx, onlineKeyPrefix+userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LastSeen returns the recorded last-seen time; ok is false if none exists.
func (c *PresenceCache) LastSeen(ctx context.Context, userID string) (t time.Time, ok bool, err error) {
	v, err := c.client.Get(ctx, lastSeenKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err = time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last seen %q: %w", v, err)
	}
	return t, true, nil
}

// Close releases the Redis connection pool.
func (c *PresenceCache) Close() error {
	return c.client.Close()
}
