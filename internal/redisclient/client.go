package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

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

// AcquireCycleLock takes the per-product demper lock. Two pricing cycles for
// the same product must never run concurrently, including across instances;
// the TTL releases the lock if an instance dies mid-cycle.
func (c *Client) AcquireCycleLock(ctx context.Context, productID int64, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, cycleLockKey(productID), "1", ttl).Result()
}

// ReleaseCycleLock releases the per-product demper lock
func (c *Client) ReleaseCycleLock(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, cycleLockKey(productID)).Err()
}

// SetConfirmedPrice caches the price last confirmed on the marketplace.
// Written right after a successful apply, so a ledger write failure can be
// reconciled on the next cycle instead of using a stale stored price.
func (c *Client) SetConfirmedPrice(ctx context.Context, productID, price int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, confirmedPriceKey(productID), price, ttl).Err()
}

// GetConfirmedPrice returns the cached confirmed price. found is false when
// no price is cached.
func (c *Client) GetConfirmedPrice(ctx context.Context, productID int64) (price int64, found bool, err error) {
	val, err := c.rdb.Get(ctx, confirmedPriceKey(productID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	price, err = strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt confirmed price for product %d: %w", productID, err)
	}
	return price, true, nil
}

func cycleLockKey(productID int64) string {
	return fmt.Sprintf("demper:lock:%d", productID)
}

func confirmedPriceKey(productID int64) string {
	return fmt.Sprintf("demper:confirmed:%d", productID)
}
