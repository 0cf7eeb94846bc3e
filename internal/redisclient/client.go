package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client wraps Redis for the advisory pieces of the service: callback dedup
// markers, the sweeper's leader lock, and a read-through stock cache. Postgres
// stays the stock authority; nothing here is load-bearing for correctness.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
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

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// WasCallbackSeen reports whether a gateway payment id already reconciled in
// full, which lets the reconciler answer duplicate deliveries before touching
// the database.
func (c *Client) WasCallbackSeen(ctx context.Context, gatewayPaymentID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, fmt.Sprintf("callback:%s", gatewayPaymentID)).Result()
	return n > 0, err
}

// MarkCallbackSeen records a gateway payment id once every order of its
// callback has been applied. Never written for a partially failed delivery,
// so the gateway's retry reaches the store guards.
func (c *Client) MarkCallbackSeen(ctx context.Context, gatewayPaymentID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("callback:%s", gatewayPaymentID), "1", ttl).Err()
}

// SetStockCache stores the last observed available quantity for a product
func (c *Client) SetStockCache(ctx context.Context, productID int64, available int, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("stock:%d", productID), available, ttl).Err()
}

// GetStockCache returns the cached quantity, found=false on a miss
func (c *Client) GetStockCache(ctx context.Context, productID int64) (int, bool, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("stock:%d", productID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	available, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt stock cache entry: %w", err)
	}
	return available, true, nil
}

// InvalidateStockCache drops the cached quantity after a write
func (c *Client) InvalidateStockCache(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, fmt.Sprintf("stock:%d", productID)).Err()
}

// AcquireLock acquires a distributed lock (used by the pending-order sweeper
// so only one instance sweeps at a time)
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
