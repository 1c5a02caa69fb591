package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client with the hash-write-plus-publish pattern
// the control engine uses to mirror telemetry.
type Client struct {
	client *redis.Client
	ctx    context.Context
}

// New creates a new Redis client
func New(addr string, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &Client{
		client: client,
		ctx:    ctx,
	}, nil
}

// WriteAndPublishString writes a string value to Redis and publishes it
func (c *Client) WriteAndPublishString(key, field, value string) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, key, field, value)
	pipe.Publish(c.ctx, key, fmt.Sprintf("%s:%s", field, value))
	_, err := pipe.Exec(c.ctx)
	return err
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	return c.client.Close()
}
