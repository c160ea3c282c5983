// Package redis implements a Store backed by a Redis server. Values are
// stored JSON encoded under a key prefix.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"cache-manager/internal/cache"
	"cache-manager/internal/common/errors"
)

// Config holds redis store configuration
type Config struct {
	Address     string            `json:"address" validate:"required,hostname_port"`
	Password    string            `json:"password"`
	DB          int               `json:"db" validate:"min=0"`
	PoolSize    int               `json:"pool_size" validate:"min=0"`
	KeyPrefix   string            `json:"key_prefix"`
	TTL         time.Duration     `json:"ttl" validate:"min=0"`
	IsCacheable cache.IsCacheable `json:"-"`
}

// DefaultConfig returns default redis store configuration
func DefaultConfig() Config {
	return Config{
		Address:   "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "cache:",
	}
}

// Client owns the connection pool shared by stores.
type Client struct {
	rdb    *redis.Client
	config Config
}

// NewClient connects to redis and verifies the connection with a ping.
func NewClient(config Config) (*Client, error) {
	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.ConnectionError(fmt.Sprintf("failed to connect to redis at %s", config.Address), err)
	}

	return &Client{
		rdb:    rdb,
		config: config,
	}, nil
}

// Store returns a Store using this client's connection and configuration.
func (c *Client) Store() *Store {
	return NewStore(c.rdb, c.config)
}

// Redis exposes the underlying client for components sharing the connection
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}
