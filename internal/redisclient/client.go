package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// RateLimit is the outcome of a fixed-window check
type RateLimit struct {
	Allowed   bool
	Count     int64
	Remaining int64
	ResetIn   time.Duration
}

// Allow counts a hit for key in the current window and reports whether it is within limit.
// The window starts with the first hit and is never extended by later ones.
func (c *Client) Allow(ctx context.Context, bucket, key string, limit int64, window time.Duration) (RateLimit, error) {
	redisKey := fmt.Sprintf("ratelimit:%s:%s", bucket, key)

	count, err := c.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return RateLimit{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if count == 1 {
		if err := c.rdb.Expire(ctx, redisKey, window).Err(); err != nil {
			return RateLimit{}, fmt.Errorf("rate limit expire failed: %w", err)
		}
	}

	ttl, err := c.rdb.PTTL(ctx, redisKey).Result()
	if err != nil {
		return RateLimit{}, fmt.Errorf("rate limit ttl failed: %w", err)
	}
	if ttl < 0 {
		// counter lost its expiry, start a fresh window
		if err := c.rdb.Expire(ctx, redisKey, window).Err(); err != nil {
			return RateLimit{}, fmt.Errorf("rate limit expire failed: %w", err)
		}
		ttl = window
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return RateLimit{
		Allowed:   count <= limit,
		Count:     count,
		Remaining: remaining,
		ResetIn:   ttl,
	}, nil
}

// ClaimIdempotencyKey stores key only if absent. It reports whether this call claimed it.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Result()
}

// CheckIdempotencyKey checks if an idempotency key exists
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
