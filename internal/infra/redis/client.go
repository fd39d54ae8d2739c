package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/lendwatch/internal/core/domain"
)

// Client wraps Redis operations shared between service replicas.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func lockKey(kind domain.EntityKind, entityID string) string {
	return fmt.Sprintf("lendwatch:lock:%s:%s", kind, entityID)
}

func sessionKey(id string) string {
	return fmt.Sprintf("lendwatch:session:%s", id)
}

// SessionsChannel is the pub/sub channel carrying session status snapshots.
const SessionsChannel = "lendwatch:sessions"

// releaseScript deletes the lock only while owner still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLock claims the tracking lock for an entity on behalf of owner.
func (c *Client) AcquireLock(
	ctx context.Context,
	kind domain.EntityKind,
	entityID, owner string,
	ttl time.Duration,
) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(kind, entityID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseLock frees the entity lock if owner holds it.
func (c *Client) ReleaseLock(ctx context.Context, kind domain.EntityKind, entityID, owner string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{lockKey(kind, entityID)}, owner).Err(); err != nil {
		return fmt.Errorf("release lock failed: %w", err)
	}
	return nil
}

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RefreshLock extends the entity lock to ttl from now if owner still holds it. It
// reports false when the lock expired or passed to another owner.
func (c *Client) RefreshLock(
	ctx context.Context,
	kind domain.EntityKind,
	entityID, owner string,
	ttl time.Duration,
) (bool, error) {
	n, err := refreshScript.Run(ctx, c.rdb, []string{lockKey(kind, entityID)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh lock failed: %w", err)
	}
	return n == 1, nil
}

// LockOwner returns the session holding the entity lock, or "" when it is free.
func (c *Client) LockOwner(ctx context.Context, kind domain.EntityKind, entityID string) (string, error) {
	owner, err := c.rdb.Get(ctx, lockKey(kind, entityID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get failed: %w", err)
	}
	return owner, nil
}
